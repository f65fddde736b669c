package logging

import "time"

// #region adaptation-entry
// AdaptationEntry is a single row in the adaptation_log table: one applied rule action.
type AdaptationEntry struct {
	ID            int64
	RunID         string
	CallerID      string
	SpecID        string
	ParameterID   string
	Adjustment    string  // "set" | "increase" | "decrease"
	PreviousValue float64 // 0.5 when the caller had no target yet
	NewValue      float64
	Confidence    float64
	Rationale     string
	Decision      string // "created" | "updated"
	CreatedAt     time.Time
}

// #endregion adaptation-entry

// #region decisions
const (
	DecisionCreated = "created"
	DecisionUpdated = "updated"
)

// #endregion decisions
