package reconcile

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hooplab/statsync/internal/model"
)

// SourceRank configures one source's standing in conflict resolution.
type SourceRank struct {
	// Precedence ranks sources; 1 is highest. Sources may share a rank.
	Precedence int
	// Order is the source's position in the configuration file, used as
	// the final tie-break.
	Order int
}

// Reconciler merges per-entity record groups using the configured source
// precedence and numeric tolerances. All decisions are deterministic
// functions of the validated input set: the same records always produce
// byte-identical canonical output.
type Reconciler struct {
	ranks      map[string]SourceRank
	tolerance  map[string]float64
	defaultTol float64
}

// New creates a reconciler. tolerance maps field name to the allowed
// numeric disagreement before a conflict is flagged; defaultTol applies
// to unlisted fields.
func New(ranks map[string]SourceRank, tolerance map[string]float64, defaultTol float64) *Reconciler {
	if defaultTol <= 0 {
		defaultTol = 0.5
	}
	if tolerance == nil {
		tolerance = map[string]float64{}
	}
	return &Reconciler{ranks: ranks, tolerance: tolerance, defaultTol: defaultTol}
}

// Reconcile groups the accepted and repaired outcomes by entity key and
// merges each group. Rejected records never reach this point. Returned
// records are sorted by key; conflicts come back as run errors without
// blocking any record.
func (r *Reconciler) Reconcile(outcomes []model.ValidationOutcome) ([]model.CanonicalRecord, []model.RunError) {
	usable := make([]model.RawRecord, 0, len(outcomes))
	for _, out := range outcomes {
		if out.Status == model.ValidationRejected {
			continue
		}
		usable = append(usable, out.Record)
	}

	grouped := ResolveKeys(usable)

	keys := make([]model.EntityKey, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var records []model.CanonicalRecord
	var conflicts []model.RunError
	for _, key := range keys {
		rec, errs := r.Merge(key, grouped[key])
		records = append(records, rec)
		conflicts = append(conflicts, errs...)
	}
	return records, conflicts
}

// candidate is one source's value for one field.
type candidate struct {
	source string
	value  model.StatValue
	rank   SourceRank
}

// Merge builds the canonical record for one entity key from its group of
// validated records. Field winners follow precedence; equally ranked
// sources are broken by closeness to the median of all candidates, then
// by configuration order. Disagreement beyond tolerance flags the field
// conflicted and degrades its confidence, but the winning value is still
// committed.
func (r *Reconciler) Merge(key model.EntityKey, group []model.RawRecord) (model.CanonicalRecord, []model.RunError) {
	// Stable input order regardless of fetch interleaving.
	sort.Slice(group, func(i, j int) bool {
		if group[i].Source != group[j].Source {
			return r.before(group[i].Source, group[j].Source)
		}
		return group[i].Key.Team < group[j].Key.Team
	})

	fieldNames := map[string]bool{}
	sourceSet := map[string]bool{}
	for _, rec := range group {
		sourceSet[rec.Source] = true
		for f, v := range rec.Fields {
			if !v.IsNull() {
				fieldNames[f] = true
			}
		}
	}

	names := make([]string, 0, len(fieldNames))
	for f := range fieldNames {
		names = append(names, f)
	}
	sort.Strings(names)

	record := model.CanonicalRecord{
		Key:    key,
		Fields: make(map[string]model.FieldValue, len(names)),
	}
	var conflicts []model.RunError

	for _, field := range names {
		cands := r.candidates(field, group)
		if len(cands) == 0 {
			continue
		}
		fv, conflicted := r.pick(field, cands)
		record.Fields[field] = fv
		if conflicted {
			conflicts = append(conflicts, model.RunError{
				Kind:    model.ErrConflict,
				Source:  fv.Source,
				Field:   field,
				Entity:  key.String(),
				Message: fmt.Sprintf("sources disagree on %s beyond tolerance; committed %s value", field, fv.Source),
				At:      time.Time{}, // stamped by the coordinator
			})
			zap.L().Info("reconcile: field conflict",
				zap.String("entity", key.String()),
				zap.String("field", field),
				zap.String("winner", fv.Source),
			)
		}
	}

	// Display name from the highest-precedence contributing record.
	record.Player = group[0].Key.Player

	for s := range sourceSet {
		record.Sources = append(record.Sources, s)
	}
	sort.Strings(record.Sources)

	return record, conflicts
}

// candidates collects the non-null values for a field, one per record,
// ordered by precedence then configuration order.
func (r *Reconciler) candidates(field string, group []model.RawRecord) []candidate {
	var cands []candidate
	for _, rec := range group {
		v, ok := rec.Fields[field]
		if !ok || v.IsNull() {
			continue // a source that did not report the field never contributes a value
		}
		cands = append(cands, candidate{source: rec.Source, value: v, rank: r.rank(rec.Source)})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].rank.Precedence != cands[j].rank.Precedence {
			return cands[i].rank.Precedence < cands[j].rank.Precedence
		}
		return cands[i].rank.Order < cands[j].rank.Order
	})
	return cands
}

// pick chooses the winner among candidates and decides whether the field
// is conflicted.
func (r *Reconciler) pick(field string, cands []candidate) (model.FieldValue, bool) {
	topRank := cands[0].rank.Precedence
	var top []candidate
	for _, c := range cands {
		if c.rank.Precedence == topRank {
			top = append(top, c)
		}
	}

	winner := top[0]
	numeric := isNumericField(cands)

	if numeric && len(top) > 1 {
		// Among equally ranked sources, closest to the median of all
		// candidate values wins; ties fall back to configuration order,
		// which the sort already established.
		med := median(cands)
		bestDist := math.Inf(1)
		for _, c := range top {
			f, _ := c.value.Float()
			if d := math.Abs(f - med); d < bestDist {
				bestDist = d
				winner = c
			}
		}
	}

	tol := r.defaultTol
	if t, ok := r.tolerance[field]; ok {
		tol = t
	}

	conflicted := false
	agreements := 0
	if numeric {
		wf, _ := winner.value.Float()
		for _, c := range cands {
			if c.source == winner.source {
				continue
			}
			f, _ := c.value.Float()
			if math.Abs(f-wf) > tol {
				conflicted = true
			} else {
				agreements++
			}
		}
	} else {
		// Non-numeric: equal-precedence disagreement conflicts; the
		// first-configured source's value stands.
		ws, _ := winner.value.Text()
		for _, c := range top[1:] {
			s, _ := c.value.Text()
			if s != ws {
				conflicted = true
			} else {
				agreements++
			}
		}
	}

	return model.FieldValue{
		Value:      winner.value,
		Source:     winner.source,
		Confidence: confidence(winner.rank.Precedence, agreements, conflicted),
		Conflicted: conflicted,
	}, conflicted
}

// confidence derives a per-field support score. Deterministic in the
// winner's precedence, the number of agreeing sources, and whether any
// source conflicted.
func confidence(precedence, agreements int, conflicted bool) float64 {
	c := 0.5 + 0.5/float64(precedence)
	c += 0.05 * float64(agreements)
	if conflicted {
		c -= 0.2
	}
	if c > 1 {
		c = 1
	}
	if c < 0.05 {
		c = 0.05
	}
	return math.Round(c*10000) / 10000
}

func (r *Reconciler) rank(source string) SourceRank {
	if rk, ok := r.ranks[source]; ok {
		return rk
	}
	// Unconfigured sources rank last.
	return SourceRank{Precedence: 1 << 20, Order: 1 << 20}
}

func (r *Reconciler) before(a, b string) bool {
	ra, rb := r.rank(a), r.rank(b)
	if ra.Precedence != rb.Precedence {
		return ra.Precedence < rb.Precedence
	}
	return ra.Order < rb.Order
}

func isNumericField(cands []candidate) bool {
	for _, c := range cands {
		if _, ok := c.value.Float(); ok {
			return true
		}
	}
	return false
}

func median(cands []candidate) float64 {
	var vals []float64
	for _, c := range cands {
		if f, ok := c.value.Float(); ok {
			vals = append(vals, f)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}
