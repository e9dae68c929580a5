// Package validate checks raw records against per-field presence, type,
// and range rules before they reach the reconciler.
package validate

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/hooplab/statsync/internal/model"
)

// FieldType declares how a field's raw value is interpreted.
type FieldType string

const (
	TypeNumeric FieldType = "numeric"
	TypeString  FieldType = "string"
	TypeEnum    FieldType = "enum"
)

// Rule is the declared constraint for one field.
type Rule struct {
	Required bool      `yaml:"required"`
	Type     FieldType `yaml:"type"`
	Min      float64   `yaml:"min"`
	Max      float64   `yaml:"max"`
	Domain   []string  `yaml:"domain,omitempty"`
}

// Rules is the full validation rule set.
type Rules struct {
	// MaxInvalidFraction rejects a record outright when more than this
	// fraction of its required fields are invalid. Default: 0.5.
	MaxInvalidFraction float64         `yaml:"max_invalid_fraction"`
	Fields             map[string]Rule `yaml:"fields"`
}

// DefaultRules returns the built-in rule set with the documented
// plausible per-game ranges.
func DefaultRules() Rules {
	fields := map[string]Rule{
		model.FieldTeam:        {Required: true, Type: TypeEnum},
		model.FieldPosition:    {Type: TypeEnum},
		model.StatGames:        {Required: true, Type: TypeNumeric, Min: 0, Max: 82},
		model.StatGamesStarted: {Type: TypeNumeric, Min: 0, Max: 82},
		model.StatMinutes:      {Required: true, Type: TypeNumeric, Min: 0, Max: 48},
		model.StatFG:           {Type: TypeNumeric, Min: 0, Max: 25},
		model.StatFGA:          {Type: TypeNumeric, Min: 0, Max: 45},
		model.StatFGPct:        {Type: TypeNumeric, Min: 0, Max: 1},
		model.StatFG3:          {Type: TypeNumeric, Min: 0, Max: 15},
		model.StatFG3A:         {Type: TypeNumeric, Min: 0, Max: 30},
		model.StatFG3Pct:       {Type: TypeNumeric, Min: 0, Max: 1},
		model.StatFT:           {Type: TypeNumeric, Min: 0, Max: 20},
		model.StatFTA:          {Type: TypeNumeric, Min: 0, Max: 25},
		model.StatFTPct:        {Type: TypeNumeric, Min: 0, Max: 1},
		model.StatORB:          {Type: TypeNumeric, Min: 0, Max: 10},
		model.StatDRB:          {Type: TypeNumeric, Min: 0, Max: 18},
		model.StatTRB:          {Type: TypeNumeric, Min: 0, Max: 25},
		model.StatAST:          {Type: TypeNumeric, Min: 0, Max: 15},
		model.StatSTL:          {Type: TypeNumeric, Min: 0, Max: 5},
		model.StatBLK:          {Type: TypeNumeric, Min: 0, Max: 6},
		model.StatTOV:          {Type: TypeNumeric, Min: 0, Max: 8},
		model.StatPF:           {Type: TypeNumeric, Min: 0, Max: 6},
		model.StatPTS:          {Required: true, Type: TypeNumeric, Min: 0, Max: 60},
	}
	return Rules{MaxInvalidFraction: 0.5, Fields: fields}
}

// LoadRules reads a YAML rules file and merges it over the defaults:
// listed fields replace the built-in rule, unlisted fields keep theirs.
func LoadRules(path string) (Rules, error) {
	base := DefaultRules()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, eris.Wrapf(err, "validate: read rules %s", path)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Rules{}, eris.Wrapf(err, "validate: parse rules %s", path)
	}

	if override.MaxInvalidFraction > 0 {
		base.MaxInvalidFraction = override.MaxInvalidFraction
	}
	for name, rule := range override.Fields {
		base.Fields[name] = rule
	}
	return base, nil
}
