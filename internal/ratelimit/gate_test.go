package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGate(cfg GateConfig) *Gate {
	g := NewGate(cfg, map[string]SourceLimits{
		"src": {MaxRequestsPerMinute: 60000, MinDelay: 0},
	})
	g.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return g
}

func TestAcquireHealthySource(t *testing.T) {
	g := testGate(DefaultGateConfig())
	require.NoError(t, g.Acquire(context.Background(), "src"))
}

func TestCircuitOpensBelowThreshold(t *testing.T) {
	g := testGate(GateConfig{WindowSize: 4, MinSuccessRate: 0.5})

	// One failure is not enough outcomes to judge.
	g.Record("src", false)
	require.NoError(t, g.Acquire(context.Background(), "src"))

	// Half the window filled with failures opens the circuit.
	g.Record("src", false)
	err := g.Acquire(context.Background(), "src")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestCircuitClosesAfterRecovery(t *testing.T) {
	g := testGate(GateConfig{WindowSize: 4, MinSuccessRate: 0.5})

	g.Record("src", false)
	g.Record("src", false)
	require.Error(t, g.Acquire(context.Background(), "src"))

	// Successes push the failures out of the rolling window.
	for i := 0; i < 4; i++ {
		g.Record("src", true)
	}
	require.NoError(t, g.Acquire(context.Background(), "src"))
}

func TestWindowTrimsToSize(t *testing.T) {
	g := testGate(GateConfig{WindowSize: 5, MinSuccessRate: 0.3})
	for i := 0; i < 20; i++ {
		g.Record("src", true)
	}
	h := g.Health("src")
	assert.Equal(t, 5, h.WindowSize)
	assert.Equal(t, 1.0, h.SuccessRate)
}

func TestHealthSnapshot(t *testing.T) {
	g := testGate(GateConfig{WindowSize: 4, MinSuccessRate: 0.5})
	g.Record("src", true)
	g.Record("src", false)

	h := g.Health("src")
	assert.Equal(t, "src", h.SourceID)
	assert.Equal(t, 0.5, h.SuccessRate)
	assert.Equal(t, 2, h.WindowSize)
	assert.False(t, h.Open)
	assert.NotNil(t, h.LastSuccess)
	assert.NotNil(t, h.LastFailure)
}

func TestHealthUnknownSource(t *testing.T) {
	g := testGate(DefaultGateConfig())
	h := g.Health("never-seen")
	assert.Equal(t, 1.0, h.SuccessRate)
	assert.False(t, h.Open)
	assert.Equal(t, 0, h.WindowSize)
}

func TestHealthsCoversAllSources(t *testing.T) {
	g := NewGate(DefaultGateConfig(), map[string]SourceLimits{
		"a": {MaxRequestsPerMinute: 60},
		"b": {MaxRequestsPerMinute: 60},
	})
	hs := g.Healths()
	assert.Len(t, hs, 2)
	assert.Contains(t, hs, "a")
	assert.Contains(t, hs, "b")
}

func TestMinDelayPacing(t *testing.T) {
	var slept time.Duration
	g := NewGate(DefaultGateConfig(), map[string]SourceLimits{
		"src": {MaxRequestsPerMinute: 60000, MinDelay: 3 * time.Second},
	})
	now := time.Now()
	g.WithClock(func() time.Time { return now })
	g.WithSleep(func(ctx context.Context, d time.Duration) error {
		slept += d
		return nil
	})

	require.NoError(t, g.Acquire(context.Background(), "src"))
	assert.Equal(t, time.Duration(0), slept)

	// Second acquire at the same clock instant must wait the full delay.
	require.NoError(t, g.Acquire(context.Background(), "src"))
	assert.Equal(t, 3*time.Second, slept)
}

func TestAcquireUnknownSourceRegisters(t *testing.T) {
	g := testGate(DefaultGateConfig())
	require.NoError(t, g.Acquire(context.Background(), "adhoc"))
	g.Record("adhoc", true)
	assert.Equal(t, 1, g.Health("adhoc").WindowSize)
}
