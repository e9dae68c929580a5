package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRetryDelaySchedule(t *testing.T) {
	p := DefaultBackoff()
	assert.Equal(t, 5*time.Second, p.NextRetryDelay(0))
	assert.Equal(t, 10*time.Second, p.NextRetryDelay(1))
	assert.Equal(t, 20*time.Second, p.NextRetryDelay(2))
}

func TestNextRetryDelayCap(t *testing.T) {
	p := DefaultBackoff()
	assert.Equal(t, 2*time.Minute, p.NextRetryDelay(10))
}

func fastPolicy() BackoffPolicy {
	return BackoffPolicy{MaxAttempts: 3, Base: time.Millisecond, Factor: 2, Cap: 10 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), "src", "unit", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsTransient(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), "src", "unit", func(ctx context.Context) error {
		attempts++
		return Transient(errors.New("down"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, KindTransient, ClassOf(err))
}

func TestDoStopsOnPermanent(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), "src", "unit", func(ctx context.Context) error {
		attempts++
		return Permanent(errors.New("gone"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoStopsOnParse(t *testing.T) {
	attempts := 0
	err := fastPolicy().Do(context.Background(), "src", "unit", func(ctx context.Context) error {
		attempts++
		return Parse(errors.New("bad payload"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDoHonorsRateLimitDelay(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := fastPolicy().Do(context.Background(), "src", "unit", func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return RateLimited(errors.New("429"), 20*time.Millisecond)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	// The server-suggested delay overrides the 1ms computed backoff.
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := BackoffPolicy{MaxAttempts: 5, Base: time.Hour, Factor: 2, Cap: time.Hour}.
		Do(ctx, "src", "unit", func(ctx context.Context) error {
			attempts++
			cancel()
			return Transient(errors.New("slow"))
		})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
