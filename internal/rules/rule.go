package rules

import "fmt"

// #region operator
// Operator is a condition comparison.
type Operator string

const (
	OpEq      Operator = "eq"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpBetween Operator = "between"
	OpIn      Operator = "in"
)

// #endregion operator

// #region data-source
// DataSource selects which profile view feeds a condition's key.
type DataSource string

const (
	SourceLearnerProfile  DataSource = "learnerProfile"
	SourceParameterValues DataSource = "parameterValues"
)

// #endregion data-source

// #region adjustment
// Adjustment is the kind of write an action performs.
type Adjustment string

const (
	AdjustSet      Adjustment = "set"
	AdjustIncrease Adjustment = "increase"
	AdjustDecrease Adjustment = "decrease"
)

// #endregion adjustment

// #region condition
// Range is an inclusive numeric interval.
type Range struct {
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Condition is a declarative test against one profile value.
type Condition struct {
	ProfileKey string     `json:"profileKey" yaml:"profileKey"`
	Operator   Operator   `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value      Value      `json:"value" yaml:"value"`
	Threshold  *float64   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Range      *Range     `json:"range,omitempty" yaml:"range,omitempty"`
	Values     []Value    `json:"values,omitempty" yaml:"values,omitempty"`
	DataSource DataSource `json:"dataSource,omitempty" yaml:"dataSource,omitempty"`
}

// Op returns the operator, defaulting to eq.
func (c Condition) Op() Operator {
	if c.Operator == "" {
		return OpEq
	}
	return c.Operator
}

// Source returns the data source, defaulting to the learner profile.
func (c Condition) Source() DataSource {
	if c.DataSource == "" {
		return SourceLearnerProfile
	}
	return c.DataSource
}

// Validate reports configuration that makes the condition impossible to satisfy.
// Evaluate never relies on it; it exists for logging and seeding diagnostics.
func (c Condition) Validate() error {
	if c.ProfileKey == "" {
		return fmt.Errorf("condition: empty profileKey")
	}
	switch c.Source() {
	case SourceLearnerProfile, SourceParameterValues:
	default:
		return fmt.Errorf("condition %s: unknown dataSource %q", c.ProfileKey, c.DataSource)
	}
	switch op := c.Op(); op {
	case OpEq:
		if c.Value.IsNull() {
			return fmt.Errorf("condition %s: eq without value", c.ProfileKey)
		}
	case OpGt, OpGte, OpLt, OpLte:
		if c.Threshold == nil {
			return fmt.Errorf("condition %s: %s without threshold", c.ProfileKey, op)
		}
	case OpBetween:
		if c.Range == nil || c.Range.Min == nil || c.Range.Max == nil {
			return fmt.Errorf("condition %s: between without range", c.ProfileKey)
		}
	case OpIn:
		if len(c.Values) == 0 {
			return fmt.Errorf("condition %s: in without values", c.ProfileKey)
		}
	default:
		return fmt.Errorf("condition %s: unknown operator %q", c.ProfileKey, op)
	}
	return nil
}

// #endregion condition

// #region action
// Action writes one caller target when its rule fires.
type Action struct {
	TargetParameter string     `json:"targetParameter" yaml:"targetParameter"`
	Adjustment      Adjustment `json:"adjustment" yaml:"adjustment"`
	Value           *float64   `json:"value,omitempty" yaml:"value,omitempty"`
	Delta           *float64   `json:"delta,omitempty" yaml:"delta,omitempty"`
	Rationale       string     `json:"rationale,omitempty" yaml:"rationale,omitempty"`
}

// #endregion action

// #region rule
// Rule pairs one condition with the actions applied when it holds.
type Rule struct {
	Condition Condition `json:"condition" yaml:"condition"`
	Actions   []Action  `json:"actions" yaml:"actions"`
}

// #endregion rule
