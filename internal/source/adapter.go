// Package source contains the fetch adapters for the external stat
// providers. Each adapter maps one source's payloads into the neutral
// RawRecord shape; scraping mechanics stay behind this boundary.
package source

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hooplab/statsync/internal/model"
	"github.com/hooplab/statsync/internal/ratelimit"
)

// Adapter fetches raw records for a scope, one unit at a time. Units is
// the finite fetch plan (a team, a page, a dataset file); FetchUnit is
// not resumable mid-stream, so a failed unit is retried whole. Adapters
// are stateless across invocations except for the injected gate.
type Adapter interface {
	// ID returns the configured source identifier.
	ID() string
	// Units plans the scope units for one run. It may issue a single
	// gated metadata request (e.g., to learn the page count).
	Units(ctx context.Context, scope model.Scope) ([]string, error)
	// FetchUnit fetches and parses one scope unit. Errors carry the
	// resilience taxonomy so the coordinator can decide retry vs skip.
	FetchUnit(ctx context.Context, scope model.Scope, unit string) ([]model.RawRecord, error)
}

// Config describes one configured source.
type Config struct {
	ID      string
	Kind    string // refsite | official | curated
	BaseURL string
}

// Known adapter kinds.
const (
	KindRefSite  = "refsite"
	KindOfficial = "official"
	KindCurated  = "curated"
)

// New builds an adapter for the configured kind. The gate is shared
// across all adapters; the HTTP client may be nil for a default.
func New(cfg Config, gate *ratelimit.Gate, client *http.Client) (Adapter, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	switch cfg.Kind {
	case KindRefSite:
		return &RefSiteAdapter{id: cfg.ID, baseURL: cfg.BaseURL, gate: gate, client: client}, nil
	case KindOfficial:
		return &OfficialAdapter{id: cfg.ID, baseURL: cfg.BaseURL, gate: gate, client: client}, nil
	case KindCurated:
		return &CuratedAdapter{id: cfg.ID, baseURL: cfg.BaseURL, gate: gate, client: client}, nil
	default:
		return nil, eris.Errorf("source: unknown adapter kind %q", cfg.Kind)
	}
}
