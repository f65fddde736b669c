package gate

import (
	"fmt"
	"math"

	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region gate
// Gate evaluates whether a proposed playbook target patch may be written.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate checks every hard veto against the whole patch. Any veto rejects the
// patch as a unit. params maps parameter id to its definition.
func (g *Gate) Evaluate(
	playbook targets.Playbook,
	changes []targets.PlaybookTargetChange,
	params map[string]targets.Parameter,
) GateDecision {
	var vetoes []VetoSignal

	// --- Patch-level vetoes ---

	// 1. Published playbooks are immutable
	if playbook.Status == targets.PlaybookPublished {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoPublished,
			Reason: fmt.Sprintf("playbook %s is published and cannot be modified", playbook.ID),
		})
	}

	// 2. Size cap
	if g.config.MaxChanges > 0 && len(changes) > g.config.MaxChanges {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoTooLarge,
			Reason: fmt.Sprintf("patch has %d changes, limit %d", len(changes), g.config.MaxChanges),
		})
	}

	// --- Per-change vetoes ---
	seen := make(map[string]bool, len(changes))
	var clamped []string
	for _, ch := range changes {
		id := ch.ParameterID

		// 3. Each parameter at most once
		if seen[id] {
			vetoes = append(vetoes, VetoSignal{
				Type:        VetoDuplicate,
				ParameterID: id,
				Reason:      fmt.Sprintf("parameter %q appears more than once", id),
			})
			continue
		}
		seen[id] = true

		// 4. Parameter must exist and be adjustable
		p, ok := params[id]
		if !ok {
			vetoes = append(vetoes, VetoSignal{
				Type:        VetoUnknownParameter,
				ParameterID: id,
				Reason:      fmt.Sprintf("unknown parameter %q", id),
			})
			continue
		}
		if !p.Adjustable {
			vetoes = append(vetoes, VetoSignal{
				Type:        VetoNotAdjustable,
				ParameterID: id,
				Reason:      fmt.Sprintf("parameter %q is not adjustable", id),
			})
			continue
		}

		// 5. Values must be numbers; out-of-range numbers are clamped, not rejected
		if ch.Value == nil {
			continue
		}
		v := *ch.Value
		if math.IsNaN(v) || math.IsInf(v, 0) {
			vetoes = append(vetoes, VetoSignal{
				Type:        VetoInvalidValue,
				ParameterID: id,
				Reason:      fmt.Sprintf("parameter %q: value is not a finite number", id),
			})
			continue
		}
		if v < 0 || v > 1 {
			clamped = append(clamped, id)
		}
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Action:      "reject",
			Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
		}
	}

	return GateDecision{
		Action:  "commit",
		Reason:  fmt.Sprintf("passed gate: %d changes, %d clamped", len(changes), len(clamped)),
		Clamped: clamped,
	}
}

// #endregion gate

// #region helpers
// Has reports whether the decision carries a veto of type t.
func (d GateDecision) Has(t VetoType) bool {
	for _, v := range d.VetoSignals {
		if v.Type == t {
			return true
		}
	}
	return false
}

// #endregion helpers
