package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooplab/statsync/internal/model"
)

func testRanks() map[string]SourceRank {
	return map[string]SourceRank{
		"ref": {Precedence: 1, Order: 0},
		"off": {Precedence: 2, Order: 1},
		"cur": {Precedence: 3, Order: 2},
	}
}

func rawWith(source string, fields map[string]model.StatValue) model.RawRecord {
	return model.RawRecord{
		Source: source,
		Key:    model.RawKey{Player: "Jayson Tatum", Team: "BOS", Season: 2024},
		Fields: fields,
	}
}

func outcomes(recs ...model.RawRecord) []model.ValidationOutcome {
	outs := make([]model.ValidationOutcome, 0, len(recs))
	for _, r := range recs {
		outs = append(outs, model.ValidationOutcome{Record: r, Status: model.ValidationAccepted})
	}
	return outs
}

func TestMergeWithinToleranceAgrees(t *testing.T) {
	r := New(testRanks(), nil, 0.5)
	records, conflicts := r.Reconcile(outcomes(
		rawWith("ref", map[string]model.StatValue{model.StatPTS: model.Number(28.2)}),
		rawWith("off", map[string]model.StatValue{model.StatPTS: model.Number(27.9)}),
	))

	require.Len(t, records, 1)
	assert.Empty(t, conflicts)

	fv := records[0].Fields[model.StatPTS]
	assert.Equal(t, model.Number(28.2), fv.Value)
	assert.Equal(t, "ref", fv.Source)
	assert.False(t, fv.Conflicted)
	assert.Equal(t, 1.0, fv.Confidence) // full precedence plus one agreement, clamped
}

func TestMergeBeyondToleranceConflicts(t *testing.T) {
	r := New(testRanks(), nil, 0.5)
	records, conflicts := r.Reconcile(outcomes(
		rawWith("ref", map[string]model.StatValue{model.StatPTS: model.Number(28.2)}),
		rawWith("off", map[string]model.StatValue{model.StatPTS: model.Number(24.0)}),
	))

	require.Len(t, records, 1)
	require.Len(t, conflicts, 1)
	assert.Equal(t, model.ErrConflict, conflicts[0].Kind)
	assert.Equal(t, model.StatPTS, conflicts[0].Field)

	// The conflict degrades confidence but never availability.
	fv := records[0].Fields[model.StatPTS]
	assert.Equal(t, model.Number(28.2), fv.Value)
	assert.Equal(t, "ref", fv.Source)
	assert.True(t, fv.Conflicted)
	assert.Equal(t, 0.8, fv.Confidence)
}

func TestMergePerFieldTolerance(t *testing.T) {
	r := New(testRanks(), map[string]float64{model.StatPTS: 5.0}, 0.5)
	_, conflicts := r.Reconcile(outcomes(
		rawWith("ref", map[string]model.StatValue{model.StatPTS: model.Number(28.2)}),
		rawWith("off", map[string]model.StatValue{model.StatPTS: model.Number(24.0)}),
	))
	assert.Empty(t, conflicts, "4.2 apart is within the widened tolerance")
}

func TestMergeEqualRankMedianTieBreak(t *testing.T) {
	ranks := map[string]SourceRank{
		"a": {Precedence: 1, Order: 0},
		"b": {Precedence: 1, Order: 1},
		"c": {Precedence: 1, Order: 2},
	}
	r := New(ranks, nil, 0.5)
	records, _ := r.Reconcile(outcomes(
		rawWith("a", map[string]model.StatValue{model.StatAST: model.Number(10)}),
		rawWith("b", map[string]model.StatValue{model.StatAST: model.Number(30)}),
		rawWith("c", map[string]model.StatValue{model.StatAST: model.Number(11)}),
	))

	require.Len(t, records, 1)
	fv := records[0].Fields[model.StatAST]
	// Median of {10, 11, 30} is 11; source c sits exactly on it.
	assert.Equal(t, model.Number(11), fv.Value)
	assert.Equal(t, "c", fv.Source)
}

func TestMergeMissingFieldNeverConflicts(t *testing.T) {
	r := New(testRanks(), nil, 0.5)
	records, conflicts := r.Reconcile(outcomes(
		rawWith("ref", map[string]model.StatValue{model.StatPTS: model.Number(28.2)}),
		rawWith("off", map[string]model.StatValue{model.StatTRB: model.Number(8.1)}),
	))

	require.Len(t, records, 1)
	assert.Empty(t, conflicts)
	assert.Equal(t, model.Number(28.2), records[0].Fields[model.StatPTS].Value)
	assert.Equal(t, model.Number(8.1), records[0].Fields[model.StatTRB].Value)
	assert.Equal(t, "off", records[0].Fields[model.StatTRB].Source)
}

func TestMergeNullFieldNeverContributes(t *testing.T) {
	r := New(testRanks(), nil, 0.5)
	records, _ := r.Reconcile(outcomes(
		rawWith("ref", map[string]model.StatValue{model.StatPTS: model.Null()}),
		rawWith("off", map[string]model.StatValue{model.StatPTS: model.Number(24.0)}),
	))

	require.Len(t, records, 1)
	fv := records[0].Fields[model.StatPTS]
	assert.Equal(t, model.Number(24.0), fv.Value)
	assert.Equal(t, "off", fv.Source)
	assert.False(t, fv.Conflicted)
}

func TestMergeNonNumericEqualRankConflict(t *testing.T) {
	ranks := map[string]SourceRank{
		"a": {Precedence: 1, Order: 0},
		"b": {Precedence: 1, Order: 1},
	}
	r := New(ranks, nil, 0.5)
	records, conflicts := r.Reconcile(outcomes(
		rawWith("a", map[string]model.StatValue{model.FieldPosition: model.String("SF")}),
		rawWith("b", map[string]model.StatValue{model.FieldPosition: model.String("PF")}),
	))

	require.Len(t, records, 1)
	require.Len(t, conflicts, 1)
	fv := records[0].Fields[model.FieldPosition]
	// First-configured source wins the tie.
	assert.Equal(t, model.String("SF"), fv.Value)
	assert.Equal(t, "a", fv.Source)
	assert.True(t, fv.Conflicted)
}

func TestMergeRejectedRecordsExcluded(t *testing.T) {
	r := New(testRanks(), nil, 0.5)
	outs := outcomes(
		rawWith("ref", map[string]model.StatValue{model.StatPTS: model.Number(28.2)}),
	)
	outs = append(outs, model.ValidationOutcome{
		Record: rawWith("off", map[string]model.StatValue{model.StatPTS: model.Number(99)}),
		Status: model.ValidationRejected,
	})

	records, conflicts := r.Reconcile(outs)
	require.Len(t, records, 1)
	assert.Empty(t, conflicts)
	assert.Equal(t, []string{"ref"}, records[0].Sources)
}

func TestReconcileDeterministicBytes(t *testing.T) {
	r := New(testRanks(), nil, 0.5)

	a := rawWith("ref", map[string]model.StatValue{
		model.StatPTS: model.Number(28.2), model.StatTRB: model.Number(8.1),
	})
	b := rawWith("off", map[string]model.StatValue{
		model.StatPTS: model.Number(27.9), model.StatAST: model.Number(4.9),
	})
	c := rawWith("cur", map[string]model.StatValue{
		model.StatPTS: model.Number(28.0),
	})

	first, _ := r.Reconcile(outcomes(a, b, c))
	second, _ := r.Reconcile(outcomes(c, b, a)) // reversed arrival order

	fj, err := json.Marshal(first)
	require.NoError(t, err)
	sj, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, fj, sj, "same input set must produce byte-identical output")
}

func TestReconcileSortsByKey(t *testing.T) {
	r := New(testRanks(), nil, 0.5)
	recA := model.RawRecord{
		Source: "ref",
		Key:    model.RawKey{Player: "Zion Williamson", Team: "NOP", Season: 2024},
		Fields: map[string]model.StatValue{model.StatPTS: model.Number(22.9)},
	}
	recB := model.RawRecord{
		Source: "ref",
		Key:    model.RawKey{Player: "Anthony Davis", Team: "LAL", Season: 2024},
		Fields: map[string]model.StatValue{model.StatPTS: model.Number(24.7)},
	}

	records, _ := r.Reconcile(outcomes(recA, recB))
	require.Len(t, records, 2)
	assert.Equal(t, "anthony davis", records[0].Key.Name)
	assert.Equal(t, "zion williamson", records[1].Key.Name)
}

func TestConfidenceBounds(t *testing.T) {
	assert.Equal(t, 1.0, confidence(1, 3, false))
	assert.Equal(t, 0.8, confidence(1, 0, true))
	assert.InDelta(t, 0.75, confidence(2, 0, false), 0.0001)
	assert.GreaterOrEqual(t, confidence(1<<20, 0, true), 0.05)
}
