// Package resilience provides the source error taxonomy and retry/backoff
// policy used by the collection pipeline.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// Kind classifies a source error for retry purposes.
type Kind int

const (
	// KindTransient covers network failures, timeouts, and 5xx responses.
	// Retried per the backoff policy.
	KindTransient Kind = iota
	// KindRateLimited is a 429-style rejection. Treated as transient, but
	// a server-suggested delay overrides the computed backoff.
	KindRateLimited
	// KindPermanent covers unsupported or missing scope units. Never
	// retried; the unit is skipped.
	KindPermanent
	// KindParse covers unparseable payloads. Never retried.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// SourceError is an adapter failure tagged with its retry class.
type SourceError struct {
	Kind Kind
	Err  error
	// RetryAfter carries a server-suggested delay for rate-limited errors.
	// Zero means none was provided.
	RetryAfter time.Duration
}

func (e *SourceError) Error() string { return e.Err.Error() }

func (e *SourceError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) *SourceError {
	return &SourceError{Kind: KindTransient, Err: err}
}

// RateLimited wraps err as a rate-limit rejection with an optional
// server-suggested delay.
func RateLimited(err error, retryAfter time.Duration) *SourceError {
	return &SourceError{Kind: KindRateLimited, Err: err, RetryAfter: retryAfter}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *SourceError {
	return &SourceError{Kind: KindPermanent, Err: err}
}

// Parse wraps err as a payload parse failure.
func Parse(err error) *SourceError {
	return &SourceError{Kind: KindParse, Err: err}
}

// ClassOf returns the retry class of err. Errors without an explicit
// SourceError tag fall back to network-level heuristics: anything that
// looks like a transport failure is transient, everything else permanent.
func ClassOf(err error) Kind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if isNetworkTransient(err) {
		return KindTransient
	}
	return KindPermanent
}

// Retryable reports whether err should go through the backoff policy.
func Retryable(err error) bool {
	k := ClassOf(err)
	return k == KindTransient || k == KindRateLimited
}

// SuggestedDelay returns the server-suggested retry delay, if any.
func SuggestedDelay(err error) (time.Duration, bool) {
	var se *SourceError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func isNetworkTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
