package app

import (
	"context"
	"fmt"

	"github.com/R3E-Network/rumble/internal/app/events"
	"github.com/R3E-Network/rumble/internal/app/metrics"
	ledgersvc "github.com/R3E-Network/rumble/internal/app/services/ledger"
	"github.com/R3E-Network/rumble/internal/app/services/rounds"
	"github.com/R3E-Network/rumble/internal/app/services/scores"
	"github.com/R3E-Network/rumble/internal/app/storage"
	"github.com/R3E-Network/rumble/internal/app/storage/memory"
	"github.com/R3E-Network/rumble/internal/app/system"
	"github.com/R3E-Network/rumble/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Rounds storage.RoundStore
	Ledger storage.LedgerStore
	Events storage.EventStore
}

// Options carries optional wiring. The zero value is a working default.
type Options struct {
	// FlagCache backs the anomaly screen. Nil falls back to in-process.
	FlagCache scores.FlagCache
	// Scores tunes the anomaly screen thresholds.
	Scores scores.Config
}

// Application ties the round engine and its supporting services together
// and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Rounds *rounds.Service
	Ledger *ledgersvc.Service
	Scores *scores.Service
	Hub    *events.Hub

	// Stores are the resolved persistence backends after nil-defaulting.
	Stores Stores
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Rounds == nil {
		stores.Rounds = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Events == nil {
		stores.Events = mem
	}

	manager := system.NewManager()

	ledgerService := ledgersvc.New(stores.Ledger, log)
	roundService := rounds.New(stores.Rounds, ledgerService, ledgerService, ledgerService, log)
	scoreService := scores.New(roundService, opts.FlagCache, opts.Scores, log)

	hub := events.NewHub(log)
	roundService.AttachSink(events.Multi{
		events.NewLogSink(log),
		events.NewStoreSink(stores.Events, log),
		hub,
		&metrics.EventObserver{},
	})

	if err := manager.Register(hub); err != nil {
		return nil, fmt.Errorf("register %s: %w", hub.Name(), err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Rounds:  roundService,
		Ledger:  ledgerService,
		Scores:  scoreService,
		Hub:     hub,
		Stores:  stores,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered lifecycle-managed service names.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
