package validate

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hooplab/statsync/internal/model"
)

// Validator applies a rule set to raw records.
type Validator struct {
	rules Rules
}

// New creates a validator for the given rules.
func New(rules Rules) *Validator {
	if rules.MaxInvalidFraction <= 0 {
		rules.MaxInvalidFraction = 0.5
	}
	return &Validator{rules: rules}
}

// Validate classifies one raw record. Out-of-range or mistyped values are
// repaired by clearing the field to null; missing required fields, or too
// many invalid required ones, reject the record. Every non-accepted
// outcome is logged with its violations — rejection is never silent.
func (v *Validator) Validate(rec model.RawRecord) model.ValidationOutcome {
	out := model.ValidationOutcome{Record: rec, Status: model.ValidationAccepted}

	requiredTotal := 0
	requiredInvalid := 0
	rejected := false

	repairedFields := make(map[string]model.StatValue)

	for field, rule := range v.rules.Fields {
		if rule.Required {
			requiredTotal++
		}

		val, present := rec.Fields[field]
		if !present || val.IsNull() {
			if rule.Required {
				out.Violations = append(out.Violations, model.Violation{
					Field: field, Rule: "required", Observed: "<missing>",
				})
				requiredInvalid++
				rejected = true
			}
			continue
		}

		if viol, ok := v.check(field, rule, val); !ok {
			out.Violations = append(out.Violations, viol)
			repairedFields[field] = model.Null()
			if rule.Required {
				requiredInvalid++
			}
		}
	}

	sort.Slice(out.Violations, func(i, j int) bool {
		return out.Violations[i].Field < out.Violations[j].Field
	})

	// A required field repaired to null is as missing as one never sent.
	if !rejected && requiredTotal > 0 {
		frac := float64(requiredInvalid) / float64(requiredTotal)
		if frac > v.rules.MaxInvalidFraction {
			rejected = true
		}
	}

	switch {
	case rejected:
		out.Status = model.ValidationRejected
	case len(repairedFields) > 0:
		out.Status = model.ValidationRepaired
		out.Record = repairRecord(rec, repairedFields)
		for f := range repairedFields {
			out.Repaired = append(out.Repaired, f)
		}
		sort.Strings(out.Repaired)
	}

	if out.Status != model.ValidationAccepted {
		logOutcome(out)
	}
	return out
}

// ValidateAll runs Validate over a batch, preserving order.
func (v *Validator) ValidateAll(recs []model.RawRecord) []model.ValidationOutcome {
	outs := make([]model.ValidationOutcome, 0, len(recs))
	for _, rec := range recs {
		outs = append(outs, v.Validate(rec))
	}
	return outs
}

func (v *Validator) check(field string, rule Rule, val model.StatValue) (model.Violation, bool) {
	switch rule.Type {
	case TypeNumeric:
		f, ok := val.Float()
		if !ok {
			return model.Violation{Field: field, Rule: "type:numeric", Observed: observed(val)}, false
		}
		if f < rule.Min || f > rule.Max {
			return model.Violation{
				Field:    field,
				Rule:     fmt.Sprintf("range:[%g,%g]", rule.Min, rule.Max),
				Observed: observed(val),
			}, false
		}

	case TypeEnum:
		s, ok := val.Text()
		if !ok {
			return model.Violation{Field: field, Rule: "type:enum", Observed: observed(val)}, false
		}
		if !inDomain(field, rule, s) {
			return model.Violation{Field: field, Rule: "domain", Observed: s}, false
		}

	case TypeString:
		if _, ok := val.Text(); !ok {
			return model.Violation{Field: field, Rule: "type:string", Observed: observed(val)}, false
		}
	}
	return model.Violation{}, true
}

// inDomain checks enum membership. Rules without an explicit domain fall
// back to the built-in team/position tables.
func inDomain(field string, rule Rule, s string) bool {
	if len(rule.Domain) > 0 {
		for _, d := range rule.Domain {
			if d == s {
				return true
			}
		}
		return false
	}
	switch field {
	case model.FieldTeam:
		return model.KnownTeam(model.CanonicalTeam(s))
	case model.FieldPosition:
		return model.Positions[s]
	default:
		return true
	}
}

// repairRecord copies the record with the offending fields cleared. The
// original RawRecord stays untouched; adapters own it immutably.
func repairRecord(rec model.RawRecord, cleared map[string]model.StatValue) model.RawRecord {
	fields := make(map[string]model.StatValue, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	for k, v := range cleared {
		fields[k] = v
	}
	rec.Fields = fields
	return rec
}

func observed(v model.StatValue) string {
	switch v.Kind {
	case model.KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case model.KindString:
		return v.Str
	default:
		return "<null>"
	}
}

func logOutcome(out model.ValidationOutcome) {
	fields := []zap.Field{
		zap.String("source", out.Record.Source),
		zap.String("player", out.Record.Key.Player),
		zap.String("team", out.Record.Key.Team),
		zap.Int("season", out.Record.Key.Season),
		zap.Any("violations", out.Violations),
	}
	if out.Status == model.ValidationRejected {
		zap.L().Warn("record rejected", fields...)
	} else {
		zap.L().Info("record repaired", fields...)
	}
}
