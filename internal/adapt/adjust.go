package adapt

import (
	"math"

	"github.com/paw2paw/hf-behavior/go-controller/internal/rules"
	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

// #region config
// Config holds the engine's defaults.
type Config struct {
	DefaultConfidence float64 // caller target confidence when a spec sets none (default 0.8)
	DefaultDelta      float64 // increase/decrease step when an action sets none (default 0.1)
	DefaultSetValue   float64 // set value when an action sets none (default 0.5)
	DefaultCurrent    float64 // current value of a caller target that does not exist yet (default 0.5)
	MaxWriteAttempts  int     // compare-and-swap retries per action (default 5)
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultConfidence: 0.8,
		DefaultDelta:      0.1,
		DefaultSetValue:   0.5,
		DefaultCurrent:    0.5,
		MaxWriteAttempts:  5,
	}
}

// #endregion config

// #region adjust-function
// Adjust is a pure function computing the next caller target value for one action.
// ok is false for an unknown adjustment kind, in which case current is returned.
// The result is always clamped to [0,1].
func Adjust(a rules.Action, current float64, cfg Config) (next float64, ok bool) {
	switch a.Adjustment {
	case rules.AdjustSet:
		next = cfg.DefaultSetValue
		if a.Value != nil {
			next = *a.Value
		}
	case rules.AdjustIncrease:
		next = math.Min(1, current+delta(a, cfg))
	case rules.AdjustDecrease:
		next = math.Max(0, current-delta(a, cfg))
	default:
		return current, false
	}
	return targets.Clamp01(next), true
}

func delta(a rules.Action, cfg Config) float64 {
	if a.Delta != nil {
		return *a.Delta
	}
	return cfg.DefaultDelta
}

// #endregion adjust-function
