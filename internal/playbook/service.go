package playbook

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/paw2paw/hf-behavior/go-controller/internal/cascade"
	"github.com/paw2paw/hf-behavior/go-controller/internal/gate"
	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region errors
var (
	// ErrPlaybookPublished is returned when a patch targets a published playbook.
	ErrPlaybookPublished = targets.ErrPlaybookPublished
	// ErrUnknownParameter is returned when a patch names a parameter that does not exist.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrRejected is returned for every other gate veto.
	ErrRejected = errors.New("patch rejected")
)

// RejectedError carries the gate decision behind a rejected patch.
type RejectedError struct {
	PlaybookID string
	Decision   gate.GateDecision
	err        error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("patch playbook %s: %v: %s", e.PlaybookID, e.err, e.Decision.Reason)
}

func (e *RejectedError) Unwrap() error { return e.err }

// #endregion errors

// #region types
// Row is one parameter of the playbook admin view.
type Row struct {
	ParameterID    string        `json:"parameterId"`
	Name           string        `json:"name"`
	DomainGroup    string        `json:"domainGroup"`
	SystemValue    *float64      `json:"systemValue"`
	PlaybookValue  *float64      `json:"playbookValue"`
	EffectiveValue float64       `json:"effectiveValue"`
	EffectiveScope targets.Scope `json:"effectiveScope"`
}

// Change sets (TargetValue != nil) or clears (TargetValue == nil) one playbook override.
type Change struct {
	ParameterID string   `json:"parameterId"`
	TargetValue *float64 `json:"targetValue"`
}

// PatchResult reports what a committed patch did.
type PatchResult struct {
	Updated int      `json:"updated"`
	Removed int      `json:"removed"`
	Clamped []string `json:"clamped,omitempty"`
	Targets []Row    `json:"targets"`
}

// Store is the target store surface the service writes through.
type Store interface {
	GetPlaybook(ctx context.Context, id string) (targets.Playbook, error)
	ListParameters(ctx context.Context) ([]targets.Parameter, error)
	ApplyPlaybookChanges(ctx context.Context, playbookID string, changes []targets.PlaybookTargetChange,
		confidence float64, source string) (updated, removed int, err error)
}

// #endregion types

// #region service
// ManualConfidence is the confidence recorded on overrides written by an operator.
const ManualConfidence = 1.0

// Service reads and patches a playbook's target overrides.
type Service struct {
	store    Store
	resolver *cascade.Resolver
	gate     *gate.Gate
	logger   *zap.Logger
}

// NewService creates a service. A nil gate uses the default configuration.
func NewService(store Store, resolver *cascade.Resolver, g *gate.Gate, logger *zap.Logger) *Service {
	if g == nil {
		g = gate.NewGate(gate.DefaultGateConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, resolver: resolver, gate: g, logger: logger}
}

// Targets returns every adjustable parameter with its SYSTEM value, this playbook's
// override and the merged result, ordered by parameter id.
func (s *Service) Targets(ctx context.Context, playbookID string) ([]Row, error) {
	res, err := s.resolver.ResolvePlaybook(ctx, playbookID)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(res.Targets))
	for _, t := range res.Targets {
		rows = append(rows, Row{
			ParameterID:    t.ParameterID,
			Name:           t.Name,
			DomainGroup:    t.DomainGroup,
			SystemValue:    t.SystemValue,
			PlaybookValue:  t.PlaybookValue,
			EffectiveValue: t.EffectiveValue,
			EffectiveScope: t.EffectiveScope,
		})
	}
	return rows, nil
}

// Patch applies a batch of override changes. The whole batch is rejected before any
// write when the gate vetoes it; otherwise values are clamped to [0,1] and nil
// values delete the override.
func (s *Service) Patch(ctx context.Context, playbookID string, changes []Change) (PatchResult, error) {
	pb, err := s.store.GetPlaybook(ctx, playbookID)
	if err != nil {
		return PatchResult{}, fmt.Errorf("patch playbook: %w", err)
	}
	all, err := s.store.ListParameters(ctx)
	if err != nil {
		return PatchResult{}, fmt.Errorf("patch playbook: %w", err)
	}
	params := make(map[string]targets.Parameter, len(all))
	for _, p := range all {
		params[p.ID] = p
	}

	batch := make([]targets.PlaybookTargetChange, 0, len(changes))
	for _, c := range changes {
		batch = append(batch, targets.PlaybookTargetChange{ParameterID: c.ParameterID, Value: c.TargetValue})
	}

	decision := s.gate.Evaluate(pb, batch, params)
	log := s.logger.With(zap.String("playbook_id", playbookID), zap.Int("changes", len(changes)))
	if decision.Vetoed {
		log.Info("playbook patch rejected", zap.String("reason", decision.Reason))
		return PatchResult{}, &RejectedError{PlaybookID: playbookID, Decision: decision, err: rejection(decision)}
	}

	updated, removed, err := s.store.ApplyPlaybookChanges(ctx, playbookID, batch, ManualConfidence, targets.SourceManual)
	if err != nil {
		return PatchResult{}, fmt.Errorf("patch playbook %s: %w", playbookID, err)
	}
	log.Info("playbook patch committed", zap.Int("updated", updated), zap.Int("removed", removed))

	rows, err := s.Targets(ctx, playbookID)
	if err != nil {
		return PatchResult{}, err
	}
	return PatchResult{Updated: updated, Removed: removed, Clamped: decision.Clamped, Targets: rows}, nil
}

func rejection(d gate.GateDecision) error {
	switch {
	case d.Has(gate.VetoPublished):
		return ErrPlaybookPublished
	case d.Has(gate.VetoUnknownParameter):
		return ErrUnknownParameter
	}
	return ErrRejected
}

// #endregion service
