package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooplab/statsync/internal/model"
	"github.com/hooplab/statsync/internal/ratelimit"
	"github.com/hooplab/statsync/internal/resilience"
)

func testGate() *ratelimit.Gate {
	g := ratelimit.NewGate(ratelimit.DefaultGateConfig(), map[string]ratelimit.SourceLimits{
		"ref": {MaxRequestsPerMinute: 60000},
		"off": {MaxRequestsPerMinute: 60000},
		"cur": {MaxRequestsPerMinute: 60000},
	})
	g.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return g
}

const refsiteCSV = `player,pos,g,gs,mp,fg,fga,fg_pct,fg3,fg3a,fg3_pct,ft,fta,ft_pct,orb,drb,trb,ast,stl,blk,tov,pf,pts
Jayson Tatum,SF,74,74,35.7,9.1,19.3,0.471,3.1,8.2,0.378,5.2,6.2,0.833,1.0,7.1,8.1,4.6,1.0,0.6,2.5,2.0,26.9
Derrick White,PG,73,73,32.6,5.4,11.7,0.461,2.8,7.0,0.396,1.6,1.8,0.901,0.6,3.6,4.2,5.2,1.0,1.2,1.5,2.1,15.2
`

func TestRefsiteFetchUnit(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(refsiteCSV))
	}))
	defer srv.Close()

	ad, err := New(Config{ID: "ref", Kind: KindRefSite, BaseURL: srv.URL}, testGate(), srv.Client())
	require.NoError(t, err)

	records, err := ad.FetchUnit(context.Background(), model.Scope{Season: 2024}, "BOS")
	require.NoError(t, err)
	assert.Equal(t, "/seasons/2024/BOS.csv", gotPath)
	require.Len(t, records, 2)

	rec := records[0]
	assert.Equal(t, "ref", rec.Source)
	assert.Equal(t, "Jayson Tatum", rec.Key.Player)
	assert.Equal(t, "BOS", rec.Key.Team)
	assert.Equal(t, 2024, rec.Key.Season)
	assert.Equal(t, model.Number(26.9), rec.Fields[model.StatPTS])
	assert.Equal(t, model.Number(0.471), rec.Fields[model.StatFGPct])
	assert.Equal(t, model.String("SF"), rec.Fields[model.FieldPosition])
	assert.Equal(t, model.String("BOS"), rec.Fields[model.FieldTeam])
}

func TestRefsiteUnitsAreTeams(t *testing.T) {
	ad, err := New(Config{ID: "ref", Kind: KindRefSite, BaseURL: "http://x"}, testGate(), nil)
	require.NoError(t, err)

	units, err := ad.Units(context.Background(), model.Scope{Season: 2024})
	require.NoError(t, err)
	assert.Len(t, units, 30)
	assert.NotContains(t, units, "TOT")
}

func TestRefsiteRateLimitedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gate := testGate()
	ad, err := New(Config{ID: "ref", Kind: KindRefSite, BaseURL: srv.URL}, gate, srv.Client())
	require.NoError(t, err)

	_, err = ad.FetchUnit(context.Background(), model.Scope{Season: 2024}, "BOS")
	require.Error(t, err)
	assert.Equal(t, resilience.KindRateLimited, resilience.ClassOf(err))

	d, ok := resilience.SuggestedDelay(err)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	// The failed request feeds the health window.
	assert.Equal(t, 1, gate.Health("ref").WindowSize)
}

func TestRefsiteNotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ad, err := New(Config{ID: "ref", Kind: KindRefSite, BaseURL: srv.URL}, testGate(), srv.Client())
	require.NoError(t, err)

	_, err = ad.FetchUnit(context.Background(), model.Scope{Season: 2024}, "BOS")
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.ClassOf(err))
}

func TestRefsiteServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ad, err := New(Config{ID: "ref", Kind: KindRefSite, BaseURL: srv.URL}, testGate(), srv.Client())
	require.NoError(t, err)

	_, err = ad.FetchUnit(context.Background(), model.Scope{Season: 2024}, "BOS")
	require.Error(t, err)
	assert.Equal(t, resilience.KindTransient, resilience.ClassOf(err))
}

func TestFetchUnitCircuitOpenShortCircuits(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(refsiteCSV))
	}))
	defer srv.Close()

	gate := testGate()
	for i := 0; i < 20; i++ {
		gate.Record("ref", false)
	}

	ad, err := New(Config{ID: "ref", Kind: KindRefSite, BaseURL: srv.URL}, gate, srv.Client())
	require.NoError(t, err)

	_, err = ad.FetchUnit(context.Background(), model.Scope{Season: 2024}, "BOS")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ratelimit.ErrSourceUnavailable))
	assert.Equal(t, 0, requests, "open circuit must not reach the network")
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(Config{ID: "x", Kind: "mystery", BaseURL: "http://x"}, testGate(), nil)
	assert.Error(t, err)
}
