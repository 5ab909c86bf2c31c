// Package app wires configuration into a running dispatcher: storage
// backends, the consent store, session tracking and the provider set.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/config"
	"github.com/aicoder88/roigpt-sub000/internal/consent"
	"github.com/aicoder88/roigpt-sub000/internal/dispatcher"
	"github.com/aicoder88/roigpt-sub000/internal/provider/registry"
	"github.com/aicoder88/roigpt-sub000/internal/session"
	"github.com/aicoder88/roigpt-sub000/internal/storage"
	"github.com/aicoder88/roigpt-sub000/internal/storage/memory"
	spg "github.com/aicoder88/roigpt-sub000/internal/storage/postgres"
	"github.com/aicoder88/roigpt-sub000/internal/storage/sqlite"
)

// durableKV is a consent backend that can report readiness.
type durableKV interface {
	storage.KV
	storage.Pinger
}

type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Consent    *consent.Store
	Session    *session.Tracker
	Dispatcher *dispatcher.Dispatcher
	// Ready reports whether the consent backend is reachable.
	Ready storage.Pinger
	// Warehouse is nil unless the warehouse provider is enabled.
	Warehouse *spg.DB

	consentDB *spg.DB
	closers   []func() error
}

// Build opens storage and assembles the dispatcher. It does not initialize
// providers; call Dispatcher.Initialize once the caller is ready to track.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	kv, err := a.openConsentKV(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Ready = kv

	if cfg.Warehouse.Enabled {
		if err := a.openWarehouse(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.Session = session.NewTracker(memory.New(), cfg.SessionKey, logger.Named("session"))
	a.Consent = consent.NewStore(kv, cfg.ConsentKey, logger.Named("consent"))

	providers := registry.Build(cfg, registry.Deps{
		SessionID: a.Session.ID,
		Warehouse: a.Warehouse,
		Logger:    logger,
	})

	a.Dispatcher = dispatcher.New(dispatcher.Options{
		Providers: providers,
		Consent:   a.Consent,
		Session:   a.Session,
		Policy: dispatcher.Policy{
			Production:     cfg.Production(),
			DebugOverride:  cfg.DebugOverride,
			RequireConsent: cfg.RequireConsent,
		},
		QueueMaxSize: cfg.QueueMaxSize,
		Logger:       logger.Named("dispatcher"),
	})
	// Dispatcher closers flush provider buffers, so they run before storage.
	a.closers = append([]func() error{a.Dispatcher.Close}, a.closers...)

	logger.Info("analytics dispatcher ready",
		zap.String("env", cfg.Env),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("providers", len(providers)),
		zap.Bool("require_consent", cfg.RequireConsent),
		zap.Bool("debug_override", cfg.DebugOverride),
	)
	return a, nil
}

// OpenConsent opens only the consent backend, for callers that change the
// decision without running providers. The returned func releases storage.
func OpenConsent(ctx context.Context, cfg config.Config, logger *zap.Logger) (*consent.Store, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	kv, err := a.openConsentKV(ctx)
	if err != nil {
		_ = a.Close()
		return nil, nil, err
	}
	return consent.NewStore(kv, cfg.ConsentKey, logger.Named("consent")), a.Close, nil
}

func (a *App) openConsentKV(ctx context.Context) (durableKV, error) {
	switch a.Config.Storage.Driver {
	case config.DriverSQLite:
		st, err := sqlite.Open(a.Config.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open consent store: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	case config.DriverPostgres:
		db, err := a.connectPostgres(ctx, a.Config.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open consent store: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate consent store: %w", err)
		}
		a.consentDB = db
		return spg.NewKV(db), nil
	default:
		return memory.New(), nil
	}
}

// openWarehouse connects the warehouse database, sharing the consent pool
// when both point at the same DSN. Migrations run in the provider's
// Initialize so an unreachable warehouse only disables that provider.
func (a *App) openWarehouse(ctx context.Context) error {
	dsn := a.Config.WarehouseDSN()
	if a.consentDB != nil && dsn == a.Config.Storage.PostgresDSN {
		a.Warehouse = a.consentDB
		return nil
	}
	db, err := a.connectPostgres(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	a.Warehouse = db
	return nil
}

func (a *App) connectPostgres(ctx context.Context, dsn string) (*spg.DB, error) {
	db, err := spg.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { db.Close(); return nil })
	return db, nil
}

// Close releases the dispatcher and storage in order.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
