package gate

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoPublished        VetoType = "playbook_published"
	VetoUnknownParameter VetoType = "unknown_parameter"
	VetoNotAdjustable    VetoType = "parameter_not_adjustable"
	VetoDuplicate        VetoType = "duplicate_parameter"
	VetoInvalidValue     VetoType = "invalid_value"
	VetoTooLarge         VetoType = "patch_too_large"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type        VetoType
	ParameterID string // empty for patch-level vetoes
	Reason      string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds limits for patch decisions.
type GateConfig struct {
	MaxChanges int // max entries in one patch (0 = unlimited)
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{MaxChanges: 500}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string       // "commit" | "reject"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
	Clamped     []string     // parameters whose value will be clamped into [0,1]
}

// #endregion gate-decision
