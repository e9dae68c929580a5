package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooplab/statsync/internal/model"
)

func record(fields map[string]model.StatValue) model.RawRecord {
	return model.RawRecord{
		Source: "ref",
		Key:    model.RawKey{Player: "Test Player", Team: "BOS", Season: 2024},
		Fields: fields,
	}
}

func validFields() map[string]model.StatValue {
	return map[string]model.StatValue{
		model.FieldTeam:     model.String("BOS"),
		model.StatGames:     model.Number(70),
		model.StatMinutes:   model.Number(32.5),
		model.StatPTS:       model.Number(24.1),
		model.StatTRB:       model.Number(7.2),
		model.StatAST:       model.Number(4.4),
		model.StatFGPct:     model.Number(0.48),
		model.FieldPosition: model.String("SF"),
	}
}

func TestValidateAccepts(t *testing.T) {
	v := New(DefaultRules())
	out := v.Validate(record(validFields()))
	assert.Equal(t, model.ValidationAccepted, out.Status)
	assert.Empty(t, out.Violations)
	assert.Empty(t, out.Repaired)
}

func TestValidateRepairsOutOfRange(t *testing.T) {
	v := New(DefaultRules())
	fields := validFields()
	fields[model.StatTRB] = model.Number(99) // above the plausible max

	out := v.Validate(record(fields))
	assert.Equal(t, model.ValidationRepaired, out.Status)
	assert.Equal(t, []string{model.StatTRB}, out.Repaired)
	require.Len(t, out.Violations, 1)
	assert.Equal(t, model.StatTRB, out.Violations[0].Field)
	assert.Equal(t, "range:[0,25]", out.Violations[0].Rule)

	// The repaired record carries null; the input record is untouched.
	assert.True(t, out.Record.Fields[model.StatTRB].IsNull())
	assert.Equal(t, model.Number(99), fields[model.StatTRB])
}

func TestValidateRejectsMissingRequired(t *testing.T) {
	v := New(DefaultRules())
	fields := validFields()
	delete(fields, model.StatPTS)

	out := v.Validate(record(fields))
	assert.Equal(t, model.ValidationRejected, out.Status)
	require.NotEmpty(t, out.Violations)
	assert.Equal(t, "required", out.Violations[len(out.Violations)-1].Rule)
}

func TestValidateRejectsTooManyInvalidRequired(t *testing.T) {
	v := New(DefaultRules())
	fields := validFields()
	// Three of four required fields out of range: fraction 0.75 > 0.5.
	fields[model.StatPTS] = model.Number(200)
	fields[model.StatMinutes] = model.Number(90)
	fields[model.StatGames] = model.Number(100)

	out := v.Validate(record(fields))
	assert.Equal(t, model.ValidationRejected, out.Status)
}

func TestValidateRepairBelowRejectionThreshold(t *testing.T) {
	v := New(DefaultRules())
	fields := validFields()
	// One of four required fields invalid: fraction 0.25 <= 0.5.
	fields[model.StatPTS] = model.Number(200)

	out := v.Validate(record(fields))
	assert.Equal(t, model.ValidationRepaired, out.Status)
	assert.True(t, out.Record.Fields[model.StatPTS].IsNull())
}

func TestValidateTeamEnum(t *testing.T) {
	v := New(DefaultRules())

	fields := validFields()
	fields[model.FieldTeam] = model.String("BRK") // alias resolves to BKN
	out := v.Validate(record(fields))
	assert.Equal(t, model.ValidationAccepted, out.Status)

	fields = validFields()
	fields[model.FieldTeam] = model.String("ZZZ")
	out = v.Validate(record(fields))
	assert.NotEqual(t, model.ValidationAccepted, out.Status)
}

func TestValidatePositionEnumOptional(t *testing.T) {
	v := New(DefaultRules())
	fields := validFields()
	fields[model.FieldPosition] = model.String("QB")

	out := v.Validate(record(fields))
	// Position is optional: a bad value repairs, never rejects.
	assert.Equal(t, model.ValidationRepaired, out.Status)
	assert.True(t, out.Record.Fields[model.FieldPosition].IsNull())
}

func TestValidateTypeMismatchRepairs(t *testing.T) {
	v := New(DefaultRules())
	fields := validFields()
	fields[model.StatAST] = model.String("lots")

	out := v.Validate(record(fields))
	assert.Equal(t, model.ValidationRepaired, out.Status)
	require.Len(t, out.Violations, 1)
	assert.Equal(t, "type:numeric", out.Violations[0].Rule)
}

func TestValidateDeterministicOrdering(t *testing.T) {
	v := New(DefaultRules())
	fields := validFields()
	fields[model.StatTRB] = model.Number(99)
	fields[model.StatAST] = model.Number(99)
	fields[model.StatBLK] = model.Number(99)

	a := v.Validate(record(fields))
	b := v.Validate(record(fields))
	assert.Equal(t, a.Violations, b.Violations)
	assert.Equal(t, a.Repaired, b.Repaired)
	assert.Equal(t, []string{model.StatAST, model.StatBLK, model.StatTRB}, a.Repaired)
}

func TestValidateAllPreservesOrder(t *testing.T) {
	v := New(DefaultRules())
	recs := []model.RawRecord{record(validFields()), record(validFields())}
	outs := v.ValidateAll(recs)
	require.Len(t, outs, 2)
}

func TestLoadRulesMergesOverDefaults(t *testing.T) {
	base := DefaultRules()
	assert.InDelta(t, 0.5, base.MaxInvalidFraction, 0.001)

	rule, ok := base.Fields[model.StatPTS]
	require.True(t, ok)
	assert.True(t, rule.Required)
	assert.Equal(t, 60.0, rule.Max)
}
