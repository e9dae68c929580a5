package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hooplab/statsync/internal/collect"
	"github.com/hooplab/statsync/internal/ratelimit"
	"github.com/hooplab/statsync/internal/reconcile"
	"github.com/hooplab/statsync/internal/resilience"
	"github.com/hooplab/statsync/internal/source"
	"github.com/hooplab/statsync/internal/store"
	"github.com/hooplab/statsync/internal/validate"
)

// env bundles the wired pipeline components shared by the run, serve,
// and schedule commands.
type env struct {
	Store       store.Store
	Gate        *ratelimit.Gate
	Adapters    map[string]source.Adapter
	Order       []string
	Coordinator *collect.Coordinator
}

func (e *env) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "statsync.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv wires the store, gate, adapters, validator, reconciler, and
// coordinator from the loaded config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	limits := make(map[string]ratelimit.SourceLimits, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		if sc.Disabled {
			continue
		}
		limits[sc.ID] = ratelimit.SourceLimits{
			MaxRequestsPerMinute: int(sc.MaxRPM),
			MinDelay:             sc.MinDelayDuration(),
		}
	}
	gate := ratelimit.NewGate(ratelimit.GateConfig{
		WindowSize:     cfg.Health.WindowSize,
		MinSuccessRate: cfg.Health.MinSuccessRate,
	}, limits)

	adapters := make(map[string]source.Adapter, len(cfg.Sources))
	order := make([]string, 0, len(cfg.Sources))
	ranks := make(map[string]reconcile.SourceRank, len(cfg.Sources))
	for i, sc := range cfg.Sources {
		if sc.Disabled {
			continue
		}
		ad, err := source.New(source.Config{ID: sc.ID, Kind: sc.Kind, BaseURL: sc.BaseURL}, gate, nil)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		adapters[sc.ID] = ad
		order = append(order, sc.ID)
		ranks[sc.ID] = reconcile.SourceRank{Precedence: sc.Precedence, Order: i}
	}

	rules := validate.DefaultRules()
	if cfg.Validate.RulesPath != "" {
		rules, err = validate.LoadRules(cfg.Validate.RulesPath)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load validation rules")
		}
	}
	if cfg.Validate.MaxInvalidFraction > 0 {
		rules.MaxInvalidFraction = cfg.Validate.MaxInvalidFraction
	}
	validator := validate.New(rules)

	reconciler := reconcile.New(ranks, cfg.Reconcile.Tolerances, cfg.Reconcile.DefaultTolerance)

	backoff := resilience.DefaultBackoff()
	if cfg.Run.MaxAttempts > 0 {
		backoff.MaxAttempts = cfg.Run.MaxAttempts
	}
	if cfg.Run.BackoffBaseSec > 0 {
		backoff.Base = time.Duration(cfg.Run.BackoffBaseSec) * time.Second
	}

	coordinator := collect.New(st, gate, adapters, order, validator, reconciler, collect.Options{
		Timeout: time.Duration(cfg.Run.TimeoutMins) * time.Minute,
		Backoff: backoff,
	})

	return &env{
		Store:       st,
		Gate:        gate,
		Adapters:    adapters,
		Order:       order,
		Coordinator: coordinator,
	}, nil
}
