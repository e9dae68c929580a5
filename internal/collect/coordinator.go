// Package collect orchestrates collection runs: parallel per-source
// fetch-and-validate pipelines, reconciliation once every source is
// terminal, and a single atomic commit per run.
package collect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hooplab/statsync/internal/model"
	"github.com/hooplab/statsync/internal/ratelimit"
	"github.com/hooplab/statsync/internal/reconcile"
	"github.com/hooplab/statsync/internal/resilience"
	"github.com/hooplab/statsync/internal/source"
	"github.com/hooplab/statsync/internal/store"
	"github.com/hooplab/statsync/internal/validate"
)

// ErrRunNotActive is returned by Cancel for unknown or finished runs.
var ErrRunNotActive = eris.New("run is not active")

// Options configures a Coordinator.
type Options struct {
	// Timeout bounds a whole run. Sources still pending at the deadline
	// are marked failed and the run proceeds with whatever completed.
	Timeout time.Duration
	// Backoff applies to every scope-unit fetch.
	Backoff resilience.BackoffPolicy
}

// Coordinator drives collection runs. One source's failure never blocks
// another source's progress; the reconcile-and-commit step runs only
// after every source reached a terminal per-source status.
type Coordinator struct {
	store      store.Store
	gate       *ratelimit.Gate
	adapters   map[string]source.Adapter
	order      []string // configured source order
	validator  *validate.Validator
	reconciler *reconcile.Reconciler
	opts       Options

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	cancelled map[string]bool
}

// New creates a coordinator. order fixes the configured source order for
// deterministic tie-breaks and default scope expansion.
func New(st store.Store, gate *ratelimit.Gate, adapters map[string]source.Adapter, order []string,
	v *validate.Validator, r *reconcile.Reconciler, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	return &Coordinator{
		store:      st,
		gate:       gate,
		adapters:   adapters,
		order:      order,
		validator:  v,
		reconciler: r,
		opts:       opts,
		active:     make(map[string]context.CancelFunc),
		cancelled:  make(map[string]bool),
	}
}

// StartRun creates a run and executes it in the background. It returns
// the run ID immediately; partial data problems never surface here, only
// through run status.
func (c *Coordinator) StartRun(ctx context.Context, scope model.Scope) (string, error) {
	run, err := c.createRun(ctx, scope)
	if err != nil {
		return "", err
	}
	go c.execute(context.WithoutCancel(ctx), run)
	return run.ID, nil
}

// Run creates a run and executes it synchronously, returning the
// terminal run record. Used by the CLI.
func (c *Coordinator) Run(ctx context.Context, scope model.Scope) (*model.CollectionRun, error) {
	run, err := c.createRun(ctx, scope)
	if err != nil {
		return nil, err
	}
	c.execute(ctx, run)
	return c.store.GetRun(ctx, run.ID)
}

// Cancel stops an active run. In-flight scope units finish; no further
// units are scheduled, and the run fails with a cancellation error
// instead of committing.
func (c *Coordinator) Cancel(runID string) error {
	c.mu.Lock()
	cancel, ok := c.active[runID]
	if ok {
		c.cancelled[runID] = true
	}
	c.mu.Unlock()

	if !ok {
		return eris.Wrapf(ErrRunNotActive, "run %s", runID)
	}
	cancel()
	return nil
}

func (c *Coordinator) createRun(ctx context.Context, scope model.Scope) (*model.CollectionRun, error) {
	if scope.Season <= 0 {
		return nil, eris.Errorf("invalid scope: season %d", scope.Season)
	}

	sources := scope.Sources
	if len(sources) == 0 {
		sources = c.order
	}
	for _, id := range sources {
		if _, ok := c.adapters[id]; !ok {
			return nil, eris.Errorf("unknown source %q", id)
		}
	}
	scope.Sources = sources

	run := &model.CollectionRun{
		ID:        uuid.New().String(),
		Scope:     scope,
		Status:    model.RunPending,
		Sources:   make(map[string]model.SourceResult, len(sources)),
		StartedAt: time.Now().UTC(),
	}
	for _, id := range sources {
		run.Sources[id] = model.SourceResult{Status: model.SourcePending}
	}

	if err := c.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "create run")
	}
	return run, nil
}

// sourceOutcome is one source's terminal contribution to a run.
type sourceOutcome struct {
	result   model.SourceResult
	outcomes []model.ValidationOutcome
	errs     []model.RunError
}

func (c *Coordinator) execute(parent context.Context, run *model.CollectionRun) {
	ctx, cancel := context.WithTimeout(parent, c.opts.Timeout)
	defer cancel()

	c.mu.Lock()
	c.active[run.ID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, run.ID)
		delete(c.cancelled, run.ID)
		c.mu.Unlock()
	}()

	run.Status = model.RunRunning
	c.persist(ctx, run)

	zap.L().Info("run started",
		zap.String("run_id", run.ID),
		zap.Int("season", run.Scope.Season),
		zap.Strings("sources", run.Scope.Sources),
	)

	// Fan out one pipeline per source. A plain errgroup (no shared
	// cancellation) keeps one source's failure from stopping the rest.
	results := make(map[string]*sourceOutcome, len(run.Scope.Sources))
	var mu sync.Mutex
	var g errgroup.Group
	for _, id := range run.Scope.Sources {
		g.Go(func() error {
			out := c.collectSource(ctx, c.adapters[id], run.Scope)
			mu.Lock()
			results[id] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // pipelines report through results, never through errors

	// The run deadline bounds fetching only: reconciliation and commit
	// proceed with whatever the sources completed.
	c.finish(context.WithoutCancel(ctx), run, results)
}

// collectSource runs one source's sequential fetch-and-validate pipeline
// to a terminal per-source status. There is no concurrency within a
// source: units fetch one at a time so per-source pacing stays
// deterministic.
func (c *Coordinator) collectSource(ctx context.Context, ad source.Adapter, scope model.Scope) *sourceOutcome {
	out := &sourceOutcome{result: model.SourceResult{Status: model.SourceRunning}}
	id := ad.ID()

	var units []string
	err := c.opts.Backoff.Do(ctx, id, "plan", func(ctx context.Context) error {
		var err error
		units, err = ad.Units(ctx, scope)
		return err
	})
	if err != nil {
		out.result.Status = model.SourceFailed
		out.errs = append(out.errs, runError(id, "plan", err))
		zap.L().Warn("source failed planning units", zap.String("source", id), zap.Error(err))
		return out
	}

	for _, unit := range units {
		if ctx.Err() != nil {
			// Cancelled or past the deadline: stop scheduling units.
			out.result.Status = model.SourceFailed
			out.errs = append(out.errs, runError(id, unit, ctx.Err()))
			return out
		}

		out.result.Attempts++
		var records []model.RawRecord
		err := c.opts.Backoff.Do(ctx, id, unit, func(ctx context.Context) error {
			var err error
			records, err = ad.FetchUnit(ctx, scope, unit)
			return err
		})
		if err != nil {
			if errors.Is(err, ratelimit.ErrSourceUnavailable) {
				// Circuit open: the gate refuses the whole source, not
				// just this unit, so the source fails for the run.
				out.result.Status = model.SourceFailed
				out.errs = append(out.errs, runError(id, unit, err))
				return out
			}
			switch resilience.ClassOf(err) {
			case resilience.KindPermanent, resilience.KindParse:
				// Skip the unit; the source can still finish partial.
				out.result.Skipped++
				out.errs = append(out.errs, runError(id, unit, err))
				continue
			default:
				// Retries exhausted, cancelled, or past the deadline:
				// the source is done for this run.
				out.result.Status = model.SourceFailed
				out.errs = append(out.errs, runError(id, unit, err))
				return out
			}
		}

		records = filterScope(records, scope)
		out.result.Fetched += len(records)
		for _, vo := range c.validator.ValidateAll(records) {
			switch vo.Status {
			case model.ValidationAccepted:
				out.result.Accepted++
				out.outcomes = append(out.outcomes, vo)
			case model.ValidationRepaired:
				out.result.Repaired++
				out.outcomes = append(out.outcomes, vo)
			case model.ValidationRejected:
				out.result.Rejected++
				out.errs = append(out.errs, model.RunError{
					Kind:    model.ErrRejection,
					Source:  id,
					Unit:    unit,
					Entity:  fmt.Sprintf("%s|%s|%d", vo.Record.Key.Player, vo.Record.Key.Team, vo.Record.Key.Season),
					Message: violationSummary(vo),
					At:      time.Now().UTC(),
				})
			}
		}
	}

	if out.result.Skipped > 0 {
		out.result.Status = model.SourcePartial
	} else {
		out.result.Status = model.SourceSucceeded
	}
	return out
}

// finish reconciles and commits once every source is terminal, then
// records the run's terminal state.
func (c *Coordinator) finish(ctx context.Context, run *model.CollectionRun, results map[string]*sourceOutcome) {
	now := time.Now().UTC()
	var outcomes []model.ValidationOutcome
	finished, failed := 0, 0
	anyAccepted := false

	for _, id := range run.Scope.Sources {
		out := results[id]
		run.Sources[id] = out.result
		run.Errors = append(run.Errors, out.errs...)

		if out.result.Status == model.SourceFailed {
			failed++
			// A failed source's partial fetch never contributes records.
			continue
		}
		finished++
		if out.result.Accepted+out.result.Repaired > 0 {
			anyAccepted = true
		}
		outcomes = append(outcomes, out.outcomes...)
	}

	if c.wasCancelled(run.ID) {
		run.Status = model.RunFailed
		run.Outcome = model.OutcomeAborted
		run.Errors = append(run.Errors, model.RunError{
			Kind: model.ErrCancelled, Message: "run cancelled", At: now,
		})
		c.seal(run)
		return
	}

	switch {
	case !anyAccepted:
		run.Status = model.RunFailed
		run.Outcome = model.OutcomeAborted
		c.seal(run)
		return
	case failed > 0:
		run.Status = model.RunPartial
	default:
		run.Status = model.RunSucceeded
	}

	records, conflicts := c.reconciler.Reconcile(outcomes)
	for i := range conflicts {
		conflicts[i].At = now
	}
	run.Errors = append(run.Errors, conflicts...)

	version, err := c.commit(ctx, run, records)
	if err != nil {
		run.Status = model.RunFailed
		run.Outcome = model.OutcomeAborted
		run.Errors = append(run.Errors, model.RunError{
			Kind: model.ErrCommit, Message: err.Error(), At: time.Now().UTC(),
		})
		c.seal(run)
		return
	}

	run.Outcome = model.OutcomeCommitted
	run.Records = len(records)
	run.Version = version
	c.seal(run)
	c.saveHealth(run.Scope.Sources)
}

// commit writes the run's records optimistically; a stale base version
// is retried once against the latest version before failing the run.
func (c *Coordinator) commit(ctx context.Context, run *model.CollectionRun, records []model.CanonicalRecord) (int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		base, err := c.store.CurrentVersion(ctx, run.Scope.Season)
		if err != nil {
			return 0, eris.Wrap(err, "read base version")
		}
		version, err := c.store.Commit(ctx, run.ID, run.Scope.Season, base, records)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, store.ErrStaleVersion) || attempt == 1 {
			return 0, eris.Wrap(err, "commit")
		}
		zap.L().Warn("commit conflict, retrying against latest base",
			zap.String("run_id", run.ID),
			zap.Int64("stale_base", base),
		)
	}
	return 0, eris.New("unreachable")
}

// seal persists the terminal run state. Sealing uses a background
// context: the run's own deadline may already have expired, and the
// terminal status must be recorded regardless.
func (c *Coordinator) seal(run *model.CollectionRun) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	c.persist(context.WithoutCancel(context.Background()), run)
	zap.L().Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.String("outcome", string(run.Outcome)),
		zap.Int("records", run.Records),
		zap.Int("errors", len(run.Errors)),
	)
}

func (c *Coordinator) persist(ctx context.Context, run *model.CollectionRun) {
	if err := c.store.UpdateRun(ctx, run); err != nil {
		zap.L().Error("persist run state", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (c *Coordinator) saveHealth(sources []string) {
	snaps := make([]model.SourceHealth, 0, len(sources))
	for _, id := range sources {
		snaps = append(snaps, c.gate.Health(id))
	}
	if err := c.store.SaveSourceHealth(context.Background(), snaps); err != nil {
		zap.L().Warn("persist source health", zap.Error(err))
	}
}

func (c *Coordinator) wasCancelled(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[runID]
}

// filterScope narrows fetched records to the requested entity subset.
func filterScope(records []model.RawRecord, scope model.Scope) []model.RawRecord {
	if len(scope.Entities) == 0 {
		return records
	}
	want := make(map[string]bool, len(scope.Entities))
	for _, e := range scope.Entities {
		want[reconcile.NormalizeName(e)] = true
	}
	out := records[:0]
	for _, rec := range records {
		if want[reconcile.NormalizeName(rec.Key.Player)] {
			out = append(out, rec)
		}
	}
	return out
}

func runError(sourceID, unit string, err error) model.RunError {
	kind := model.ErrTransient
	switch resilience.ClassOf(err) {
	case resilience.KindRateLimited:
		kind = model.ErrRateLimited
	case resilience.KindPermanent:
		kind = model.ErrPermanent
	case resilience.KindParse:
		kind = model.ErrParse
	}
	if errors.Is(err, ratelimit.ErrSourceUnavailable) {
		kind = model.ErrUnavailable
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = model.ErrDeadline
	} else if errors.Is(err, context.Canceled) {
		kind = model.ErrCancelled
	}
	return model.RunError{
		Kind:    kind,
		Source:  sourceID,
		Unit:    unit,
		Message: err.Error(),
		At:      time.Now().UTC(),
	}
}

// violationSummary renders a rejected record's rule failures as
// "field:rule" pairs for the run's error log.
func violationSummary(vo model.ValidationOutcome) string {
	parts := make([]string, 0, len(vo.Violations))
	for _, v := range vo.Violations {
		parts = append(parts, v.Field+":"+v.Rule)
	}
	return strings.Join(parts, "; ")
}

// SortedErrors returns the run's errors ordered by source then unit,
// for stable presentation.
func SortedErrors(run *model.CollectionRun) []model.RunError {
	errs := make([]model.RunError, len(run.Errors))
	copy(errs, run.Errors)
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Source != errs[j].Source {
			return errs[i].Source < errs[j].Source
		}
		return errs[i].Unit < errs[j].Unit
	})
	return errs
}
