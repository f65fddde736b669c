package specs

import (
	"encoding/json"
	"fmt"

	"github.com/paw2paw/hf-behavior/go-controller/internal/rules"
)

// Config is the part of a spec's configuration blob the rule engine reads.
// Unrelated fields are ignored when decoding.
type Config struct {
	Parameters             []ParameterConfig `json:"parameters" yaml:"parameters"`
	DefaultAdaptConfidence *float64          `json:"defaultAdaptConfidence,omitempty" yaml:"defaultAdaptConfidence,omitempty"`
}

// ParameterConfig groups the adaptation rules declared under one spec parameter.
type ParameterConfig struct {
	ID     string         `json:"id" yaml:"id"`
	Config ParameterRules `json:"config" yaml:"config"`
}

// ParameterRules holds a parameter's adaptation rules.
type ParameterRules struct {
	AdaptationRules []rules.Rule `json:"adaptationRules,omitempty" yaml:"adaptationRules,omitempty"`

	// Invalid lists rules that failed to decode. They are never evaluated.
	Invalid []RuleError `json:"-" yaml:"-"`
}

// RuleError describes one adaptation rule that could not be decoded.
type RuleError struct {
	Parameter string
	Index     int
	Err       error
}

func (e RuleError) Error() string {
	return fmt.Sprintf("parameter %q rule %d: %v", e.Parameter, e.Index, e.Err)
}

func (e RuleError) Unwrap() error { return e.Err }

// UnmarshalJSON decodes each rule on its own so one malformed rule does not
// discard its siblings. adaptationRules itself must still be an array.
func (p *ParameterRules) UnmarshalJSON(data []byte) error {
	var raw struct {
		AdaptationRules []json.RawMessage `json:"adaptationRules"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.AdaptationRules, p.Invalid = nil, nil
	for i, msg := range raw.AdaptationRules {
		var r rules.Rule
		if err := json.Unmarshal(msg, &r); err != nil {
			p.Invalid = append(p.Invalid, RuleError{Index: i, Err: err})
			continue
		}
		p.AdaptationRules = append(p.AdaptationRules, r)
	}
	return nil
}

// UnmarshalJSON fills in the owning parameter of any invalid rules.
func (pc *ParameterConfig) UnmarshalJSON(data []byte) error {
	type plain ParameterConfig
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	for i := range v.Config.Invalid {
		v.Config.Invalid[i].Parameter = v.ID
	}
	*pc = ParameterConfig(v)
	return nil
}

// ParseConfig decodes a configuration blob. Structural errors fail the whole
// blob; a malformed individual rule is kept aside in ParameterRules.Invalid.
func ParseConfig(raw []byte) (Config, error) {
	var c Config
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("parse spec config: %w", err)
	}
	return c, nil
}

// Rules returns every adaptation rule in declaration order.
func (c Config) Rules() []rules.Rule {
	var out []rules.Rule
	for _, p := range c.Parameters {
		out = append(out, p.Config.AdaptationRules...)
	}
	return out
}

// InvalidRules returns the rules that failed to decode, in declaration order.
func (c Config) InvalidRules() []RuleError {
	var out []RuleError
	for _, p := range c.Parameters {
		out = append(out, p.Config.Invalid...)
	}
	return out
}

// HasRules reports whether the config declares at least one adaptation rule,
// counting rules that failed to decode.
func (c Config) HasRules() bool {
	for _, p := range c.Parameters {
		if len(p.Config.AdaptationRules) > 0 || len(p.Config.Invalid) > 0 {
			return true
		}
	}
	return false
}

// UsesParameterValues reports whether any rule reads the parameterValues data source.
func (c Config) UsesParameterValues() bool {
	for _, r := range c.Rules() {
		if r.Condition.Source() == rules.SourceParameterValues {
			return true
		}
	}
	return false
}

// Confidence returns defaultAdaptConfidence, or fallback when unset or out of range.
func (c Config) Confidence(fallback float64) float64 {
	if c.DefaultAdaptConfidence == nil {
		return fallback
	}
	v := *c.DefaultAdaptConfidence
	if v < 0 || v > 1 {
		return fallback
	}
	return v
}
