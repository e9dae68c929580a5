package source

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hooplab/statsync/internal/ratelimit"
	"github.com/hooplab/statsync/internal/resilience"
)

// fetchBody issues one gated GET and classifies the response into the
// source error taxonomy. Every request outcome feeds the gate's health
// window; circuit-open short-circuits are surfaced untouched so the
// coordinator can mark the source failed without counting an attempt
// against it.
func fetchBody(ctx context.Context, gate *ratelimit.Gate, client *http.Client, sourceID, url string) ([]byte, error) {
	if err := gate.Acquire(ctx, sourceID); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, resilience.Permanent(eris.Wrap(err, "create request"))
	}
	req.Header.Set("User-Agent", "statsync/1.0")

	resp, err := client.Do(req)
	if err != nil {
		gate.Record(sourceID, false)
		return nil, resilience.Transient(eris.Wrapf(err, "get %s", url))
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			gate.Record(sourceID, false)
			return nil, resilience.Transient(eris.Wrapf(err, "read body %s", url))
		}
		gate.Record(sourceID, true)
		return body, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		gate.Record(sourceID, false)
		return nil, resilience.RateLimited(
			eris.Errorf("http 429 from %s", url),
			parseRetryAfter(resp.Header.Get("Retry-After")),
		)

	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		gate.Record(sourceID, false)
		return nil, resilience.Transient(eris.Errorf("http %d from %s", resp.StatusCode, url))

	default:
		// 404 and other client errors: the scope unit is unsupported.
		gate.Record(sourceID, false)
		return nil, resilience.Permanent(eris.Errorf("http %d from %s", resp.StatusCode, url))
	}
}

// parseRetryAfter reads a Retry-After header given in seconds. HTTP-date
// forms are ignored; the backoff policy's own delay applies then.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
