// Package app composes the rumble services into a running application.
//
// # Architecture Role
//
// The app package sits above the domain packages and is responsible for
// wiring them together. It is NOT a business logic layer - the round rules
// live in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── round/          # Rounds, participants, settlements
//	│   └── ledger/         # Value accounts and entries
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # RoundStore, LedgerStore, EventStore
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/
//	│   ├── rounds/         # Round engine: deposits, scoring, settlement
//	│   ├── scores/         # Scorer ingestion and anomaly screening
//	│   └── ledger/         # Value transfer and burn execution
//	├── events/             # Round event fan-out (log, store, websocket)
//	├── httpapi/            # HTTP API handlers and routing
//	├── scheduler/          # Cron-driven settle and reset cycles
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus collectors
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing the ledger, round and score services with their stores
//   - Fanning round events out to the log, the archive and live clients
//   - Exposing the HTTP API for rounds, accounts and settlements
//   - Managing service lifecycle through the system manager
//
// Business rules (winner selection, payout arithmetic, anomaly screening)
// belong to the individual services, never to the composition layer.
package app
