package cascade

import (
	"context"
	"time"

	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region store
// Store is the read surface of the target store the resolver needs.
type Store interface {
	ListParameters(ctx context.Context) ([]targets.Parameter, error)
	GetCaller(ctx context.Context, id string) (targets.Caller, error)
	GetSegment(ctx context.Context, id string) (targets.Segment, error)
	GetPlaybook(ctx context.Context, id string) (targets.Playbook, error)
	PublishedPlaybookForDomain(ctx context.Context, domainID string) (targets.Playbook, error)
	ListScopedTargets(ctx context.Context, scope targets.Scope, ownerID string) ([]targets.ScopedTarget, error)
	ListCallerTargets(ctx context.Context, callerID string) ([]targets.CallerTarget, error)
	GetCall(ctx context.Context, id string) (targets.Call, error)
	LatestMeasurements(ctx context.Context, callID string) (map[string]targets.Measurement, error)
}

// #endregion store

// #region config
// Config controls how the resolver merges layers.
type Config struct {
	// DefaultValue is the effective value of a parameter with no stored layer.
	DefaultValue float64
	// DefaultConfidence is reported for a DEFAULT-scope target. Zero means
	// nothing stored backs the value.
	DefaultConfidence float64
	// LegacyCallerScope enables the CALLER-scope scoped target layer.
	LegacyCallerScope bool
}

// DefaultConfig returns a 0.5 default at confidence 0 with the legacy layer off.
func DefaultConfig() Config {
	return Config{DefaultValue: 0.5}
}

// #endregion config

// #region layer
// Layer is one applied entry of a parameter's provenance list.
type Layer struct {
	Scope      targets.Scope `json:"scope"`
	Value      float64       `json:"value"`
	Confidence float64       `json:"confidence"`
	Source     string        `json:"source"`
	OwnerLabel string        `json:"ownerLabel"`
}

// #endregion layer

// #region effective-target
// EffectiveTarget is the resolved target of one parameter for one caller.
// EffectiveScope is the scope of the last layer in Layers, or DEFAULT when none applied.
type EffectiveTarget struct {
	ParameterID    string        `json:"parameterId"`
	Name           string        `json:"name"`
	DomainGroup    string        `json:"domainGroup"`
	EffectiveValue float64       `json:"effectiveValue"`
	// Confidence is the winning layer's confidence, or Config.DefaultConfidence
	// (0 unless configured) when EffectiveScope is DEFAULT.
	Confidence     float64       `json:"confidence"`
	EffectiveScope targets.Scope `json:"effectiveScope"`
	Source         string        `json:"source,omitempty"`
	Layers         []Layer       `json:"layers"`

	SystemValue   *float64 `json:"systemValue"`
	PlaybookValue *float64 `json:"playbookValue"`

	// Set only by ResolveCall when a measurement exists for the parameter.
	ActualValue *float64 `json:"actualValue,omitempty"`
	Delta       *float64 `json:"delta,omitempty"`

	// Personalized is the rule engine's caller target, shown alongside the
	// cascade. It never changes EffectiveValue.
	Personalized *Personalized `json:"personalized,omitempty"`
}

// Personalized mirrors a caller target for display.
type Personalized struct {
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// #endregion effective-target

// #region resolution
// Resolution is the output of one resolver pass. Warnings list the layer and owner
// reads that failed and were skipped; targets are still complete.
type Resolution struct {
	CallerID   string            `json:"callerId,omitempty"`
	CallID     string            `json:"callId,omitempty"`
	PlaybookID string            `json:"playbookId,omitempty"`
	SegmentID  string            `json:"segmentId,omitempty"`
	Targets    []EffectiveTarget `json:"targets"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// Target returns the effective target for a parameter id.
func (r *Resolution) Target(parameterID string) (EffectiveTarget, bool) {
	for _, t := range r.Targets {
		if t.ParameterID == parameterID {
			return t, true
		}
	}
	return EffectiveTarget{}, false
}

// #endregion resolution
