package resilience

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// BackoffPolicy controls retry timing for adapter failures. Delays grow
// as Base * Factor^attempt, capped at Cap. MaxAttempts counts every try
// including the first; once exhausted the source is marked failed for the
// run.
type BackoffPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	Cap         time.Duration
}

// DefaultBackoff returns the documented default policy: three attempts
// with 5s, 10s, 20s waits between them.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		Base:        5 * time.Second,
		Factor:      2,
		Cap:         2 * time.Minute,
	}
}

func (p BackoffPolicy) withDefaults() BackoffPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Base <= 0 {
		p.Base = 5 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2
	}
	if p.Cap <= 0 {
		p.Cap = 2 * time.Minute
	}
	return p
}

// NextRetryDelay returns the wait before retry number attempt (0-based:
// attempt 0 is the delay after the first failure). Pure so tests can
// check timing without sleeping.
func (p BackoffPolicy) NextRetryDelay(attempt int) time.Duration {
	p = p.withDefaults()
	d := float64(p.Base) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.Cap) {
		d = float64(p.Cap)
	}
	return time.Duration(d)
}

// Do runs fn up to MaxAttempts times, sleeping the policy delay between
// attempts. Permanent and parse errors return immediately; rate-limited
// errors with a server-suggested delay wait that long instead of the
// computed backoff. Context cancellation stops retries.
func (p BackoffPolicy) Do(ctx context.Context, source, unit string, fn func(ctx context.Context) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if ctx.Err() != nil {
			return lastErr
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt >= p.MaxAttempts-1 {
			break
		}

		delay := p.NextRetryDelay(attempt)
		if suggested, ok := SuggestedDelay(lastErr); ok {
			delay = suggested
		}

		zap.L().Warn("retrying scope unit",
			zap.String("source", source),
			zap.String("unit", unit),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}
