// Package runtime assembles the configured application: stores, services,
// background workers, middleware and the HTTP server lifecycle.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/rumble/internal/app"
	"github.com/R3E-Network/rumble/internal/app/httpapi"
	"github.com/R3E-Network/rumble/internal/app/metrics"
	"github.com/R3E-Network/rumble/internal/app/scheduler"
	"github.com/R3E-Network/rumble/internal/app/services/scores"
	"github.com/R3E-Network/rumble/internal/app/storage"
	"github.com/R3E-Network/rumble/internal/app/storage/postgres"
	"github.com/R3E-Network/rumble/internal/chain"
	"github.com/R3E-Network/rumble/internal/config"
	"github.com/R3E-Network/rumble/internal/middleware"
	"github.com/R3E-Network/rumble/internal/platform/migrations"
	"github.com/R3E-Network/rumble/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg         *config.Config
	log         *logger.Logger
	app         *app.Application
	httpServer  *http.Server
	db          *sqlx.DB
	rdb         *redis.Client
	stopCleanup func()
}

// NewApplication constructs a new application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(cfg)
}

// NewApplicationWithConfig constructs the application from an already
// loaded configuration.
func NewApplicationWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg.Logging)

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	flagCache, rdb := buildFlagCache(cfg, log)

	application, err := app.New(stores, app.Options{
		FlagCache: flagCache,
		Scores: scores.Config{
			AnomalyThreshold: cfg.Scores.AnomalyThreshold,
			FlagTTL:          time.Duration(cfg.Scores.FlagTTLSeconds) * time.Second,
		},
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build application: %w", err)
	}

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(application.Rounds, scheduler.Config{
			SettleSpec: cfg.Scheduler.SettleSpec,
			ResetSpec:  cfg.Scheduler.ResetSpec,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure scheduler: %w", err)
		}
		if err := application.Attach(sched); err != nil {
			return nil, fmt.Errorf("attach scheduler: %w", err)
		}
	}

	if cfg.Chain.Enabled() {
		poller, err := buildAnchorPoller(cfg.Chain, application.Stores.Rounds, log)
		if err != nil {
			return nil, fmt.Errorf("configure anchoring: %w", err)
		}
		if err := application.Attach(poller); err != nil {
			return nil, fmt.Errorf("attach anchoring: %w", err)
		}
	}

	handler, err := httpapi.NewHandlerWithConfig(application, httpapi.Config{
		AuditLimit: cfg.Server.AuditLimit,
		AuditPath:  cfg.Server.AuditPath,
	})
	if err != nil {
		return nil, fmt.Errorf("build handler: %w", err)
	}

	wrapped, stopCleanup := buildMiddleware(cfg, log, handler)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      wrapped,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &Application{
		cfg:         cfg,
		log:         log,
		app:         application,
		httpServer:  httpSrv,
		db:          db,
		rdb:         rdb,
		stopCleanup: stopCleanup,
	}, nil
}

// buildMiddleware wraps the handler with the standard chain: tracing on the
// outside, then CORS, authentication, rate limiting and finally metrics next
// to the handler.
func buildMiddleware(cfg *config.Config, log *logger.Logger, handler http.Handler) (http.Handler, func()) {
	handler = metrics.InstrumentHandler(handler)

	limiter := middleware.NewRateLimiter(cfg.Auth.RateLimitPerSecond, cfg.Auth.RateLimitBurst, log)
	stopCleanup := limiter.StartCleanup(5 * time.Minute)
	handler = limiter.Handler(handler)

	if cfg.Auth.Secret != "" {
		auth := middleware.NewAuthMiddleware(cfg.Auth.Secret, log, []string{
			"/healthz", "/readyz", "/metrics", "/ws/v1/events",
		})
		handler = auth.Handler(handler)
	} else {
		log.Warn("AUTH_SECRET not set; every caller is treated as admin")
		handler = middleware.InsecureAllowAll()(handler)
	}

	if origins := cfg.Server.Origins(); len(origins) > 0 {
		handler = middleware.NewCORSMiddleware(origins).Handler(handler)
	}

	return middleware.NewTracingMiddleware(log).Handler(handler), stopCleanup
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Warn("DB_DSN not set; using in-memory stores")
		return app.Stores{}, nil, nil
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return app.Stores{}, nil, err
	}

	if cfg.Database.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := migrations.Apply(ctx, db.DB); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	store := postgres.New(db)
	return app.Stores{Rounds: store, Ledger: store, Events: store}, db, nil
}

func openDatabase(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func buildFlagCache(cfg *config.Config, log *logger.Logger) (scores.FlagCache, *redis.Client) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unreachable; falling back to in-process flag cache")
		_ = rdb.Close()
		return nil, nil
	}

	ttl := time.Duration(cfg.Scores.FlagTTLSeconds) * time.Second
	return scores.NewRedisFlagCache(rdb, ttl), rdb
}

func buildAnchorPoller(cfg config.ChainConfig, store storage.RoundStore, log *logger.Logger) (*chain.AnchorPoller, error) {
	client, err := chain.NewClient(chain.Config{
		RPCURL:    cfg.RPCURL,
		NetworkID: cfg.NetworkID,
	})
	if err != nil {
		return nil, err
	}

	anchorer, err := chain.NewAnchorer(client, cfg.ContractHash, cfg.OperatorAddress)
	if err != nil {
		return nil, err
	}

	interval := time.Duration(cfg.AnchorInterval) * time.Second
	return chain.NewAnchorPoller(store, anchorer, interval, log), nil
}

// Run starts the services and the HTTP server and blocks until the context
// is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.cfg.Server.Addr())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the background services and
// the store connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if a.stopCleanup != nil {
		a.stopCleanup()
	}

	if err := a.app.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}

	return nil
}
