// Package ratelimit governs request pacing per source and tracks source
// health. The gate is an explicitly owned, lock-guarded component that
// adapters receive by injection; tests substitute a fake clock.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hooplab/statsync/internal/model"
)

// ErrSourceUnavailable is returned when a source's trailing success rate
// has dropped below the configured threshold and acquisitions
// short-circuit instead of attempting network work.
var ErrSourceUnavailable = eris.New("source unavailable: success rate below threshold")

// SourceLimits configures pacing for one source.
type SourceLimits struct {
	MaxRequestsPerMinute int
	MinDelay             time.Duration
}

// GateConfig configures the gate's health window and circuit threshold.
type GateConfig struct {
	// WindowSize is the number of trailing outcomes considered for the
	// success rate. Default: 20.
	WindowSize int
	// MinSuccessRate opens the circuit when the windowed success rate
	// drops below it. Only applied once the window has at least
	// WindowSize/2 outcomes. Default: 0.3.
	MinSuccessRate float64
}

// DefaultGateConfig returns the default health window settings.
func DefaultGateConfig() GateConfig {
	return GateConfig{WindowSize: 20, MinSuccessRate: 0.3}
}

type sourceState struct {
	limiter  *rate.Limiter
	minDelay time.Duration
	lastReq  time.Time

	window      []bool // trailing request outcomes, oldest first
	lastSuccess *time.Time
	lastFailure *time.Time
}

// Gate paces requests per source and applies circuit-breaker behavior
// from the rolling health window. Safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	cfg     GateConfig
	sources map[string]*sourceState

	// now is injectable for deterministic tests.
	now func() time.Time
	// sleep is injectable so tests do not wait on min-delay pacing.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGate creates a gate with the given per-source limits.
func NewGate(cfg GateConfig, limits map[string]SourceLimits) *Gate {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 20
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = 0.3
	}
	g := &Gate{
		cfg:     cfg,
		sources: make(map[string]*sourceState, len(limits)),
		now:     time.Now,
		sleep:   sleepCtx,
	}
	for id, l := range limits {
		rpm := l.MaxRequestsPerMinute
		if rpm <= 0 {
			rpm = 60
		}
		g.sources[id] = &sourceState{
			limiter:  rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
			minDelay: l.MinDelay,
		}
	}
	return g
}

// WithClock replaces the gate's time source. Test hook.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	return g
}

// WithSleep replaces the gate's pacing sleep. Test hook.
func (g *Gate) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sleep = sleep
	return g
}

// Acquire blocks until the source may issue a request, honoring both the
// per-minute budget and the minimum inter-request delay. When the circuit
// is open it returns ErrSourceUnavailable immediately.
func (g *Gate) Acquire(ctx context.Context, sourceID string) error {
	g.mu.Lock()
	st, ok := g.sources[sourceID]
	if !ok {
		st = &sourceState{limiter: rate.NewLimiter(1, 1)}
		g.sources[sourceID] = st
	}
	if g.circuitOpenLocked(st) {
		g.mu.Unlock()
		zap.L().Warn("gate: short-circuiting unavailable source",
			zap.String("source", sourceID),
		)
		return eris.Wrapf(ErrSourceUnavailable, "source %s", sourceID)
	}

	var wait time.Duration
	if st.minDelay > 0 && !st.lastReq.IsZero() {
		if since := g.now().Sub(st.lastReq); since < st.minDelay {
			wait = st.minDelay - since
		}
	}
	sleep := g.sleep
	g.mu.Unlock()

	if wait > 0 {
		if err := sleep(ctx, wait); err != nil {
			return eris.Wrap(err, "gate: min-delay wait")
		}
	}
	if err := st.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "gate: limiter wait")
	}

	g.mu.Lock()
	st.lastReq = g.now()
	g.mu.Unlock()
	return nil
}

// Record feeds one request outcome into the source's rolling window.
func (g *Gate) Record(sourceID string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.sources[sourceID]
	if !ok {
		st = &sourceState{limiter: rate.NewLimiter(1, 1)}
		g.sources[sourceID] = st
	}

	st.window = append(st.window, success)
	if len(st.window) > g.cfg.WindowSize {
		st.window = st.window[len(st.window)-g.cfg.WindowSize:]
	}
	now := g.now()
	if success {
		st.lastSuccess = &now
	} else {
		st.lastFailure = &now
	}
}

// Health returns a snapshot for one source.
func (g *Gate) Health(sourceID string) model.SourceHealth {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.sources[sourceID]
	if !ok {
		return model.SourceHealth{SourceID: sourceID, SuccessRate: 1, UpdatedAt: g.now()}
	}
	return g.snapshotLocked(sourceID, st)
}

// Healths returns snapshots for all known sources, keyed by source ID.
func (g *Gate) Healths() map[string]model.SourceHealth {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]model.SourceHealth, len(g.sources))
	for id, st := range g.sources {
		out[id] = g.snapshotLocked(id, st)
	}
	return out
}

func (g *Gate) snapshotLocked(id string, st *sourceState) model.SourceHealth {
	return model.SourceHealth{
		SourceID:    id,
		SuccessRate: successRate(st.window),
		WindowSize:  len(st.window),
		Open:        g.circuitOpenLocked(st),
		LastSuccess: st.lastSuccess,
		LastFailure: st.lastFailure,
		UpdatedAt:   g.now(),
	}
}

// circuitOpenLocked applies the success-rate threshold once the window
// has enough outcomes to be meaningful.
func (g *Gate) circuitOpenLocked(st *sourceState) bool {
	if len(st.window) < g.cfg.WindowSize/2 {
		return false
	}
	return successRate(st.window) < g.cfg.MinSuccessRate
}

func successRate(window []bool) float64 {
	if len(window) == 0 {
		return 1
	}
	ok := 0
	for _, s := range window {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(window))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
