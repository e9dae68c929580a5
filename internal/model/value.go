package model

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// ValueKind discriminates the raw value union. Source payloads are
// loosely typed (scraped tables, JSON of varying shape), so raw field
// values stay untyped until validation resolves them.
type ValueKind int

const (
	// KindNull marks an absent or empty value.
	KindNull ValueKind = iota
	// KindNumber marks a numeric value.
	KindNumber
	// KindString marks a string value.
	KindString
)

// StatValue is a tagged union of string | number | null. RawRecord fields
// and canonical field values both use it; validation decides which kinds
// are acceptable for a given field.
type StatValue struct {
	Kind ValueKind
	Num  float64
	Str  string
}

// Null returns the null value.
func Null() StatValue { return StatValue{Kind: KindNull} }

// Number wraps a float as a StatValue.
func Number(f float64) StatValue { return StatValue{Kind: KindNumber, Num: f} }

// String wraps a string as a StatValue.
func String(s string) StatValue { return StatValue{Kind: KindString, Str: s} }

// ParseValue interprets a raw cell: empty → null, numeric text → number,
// anything else → string.
func ParseValue(s string) StatValue {
	if s == "" {
		return Null()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Number(f)
	}
	return String(s)
}

// IsNull reports whether the value is absent.
func (v StatValue) IsNull() bool { return v.Kind == KindNull }

// Float returns the numeric value and whether the union holds a number.
func (v StatValue) Float() (float64, bool) {
	if v.Kind != KindNumber {
		return 0, false
	}
	return v.Num, true
}

// Text returns the string value and whether the union holds a string.
func (v StatValue) Text() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// MarshalJSON encodes the union as a bare JSON scalar. Numbers are
// formatted with strconv.FormatFloat 'g' so equal inputs always produce
// identical bytes, which the reconciler's determinism guarantee relies on.
func (v StatValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return []byte(strconv.FormatFloat(v.Num, 'g', -1, 64)), nil
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a bare JSON scalar into the union.
func (v *StatValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "stat value: unmarshal")
	}
	switch t := raw.(type) {
	case nil:
		*v = Null()
	case float64:
		*v = Number(t)
	case string:
		*v = String(t)
	default:
		return eris.Errorf("stat value: unsupported JSON type %T", raw)
	}
	return nil
}
