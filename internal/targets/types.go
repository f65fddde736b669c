package targets

import (
	"errors"
	"fmt"
	"time"
)

// #region errors
var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-swap write loses a race.
	ErrConflict = errors.New("concurrent modification")
	// ErrInvalidOwner is returned when a scoped target's owning id does not match its scope.
	ErrInvalidOwner = errors.New("owning entity does not match scope")
	// ErrLegacyCallerScope is returned when CALLER-scope targets are written while the
	// legacy path is disabled. Per-caller overrides go to caller_targets instead.
	ErrLegacyCallerScope = errors.New("legacy CALLER scope is disabled")
	// ErrPlaybookPublished is returned when a published playbook's targets are modified.
	ErrPlaybookPublished = errors.New("playbook is published and cannot be modified")
)

// #endregion errors

// #region scope
// Scope is the granularity at which a target is configured.
type Scope string

const (
	ScopeSystem   Scope = "SYSTEM"
	ScopePlaybook Scope = "PLAYBOOK"
	ScopeSegment  Scope = "SEGMENT"
	ScopeCaller   Scope = "CALLER"

	// ScopeDefault marks a value that came from no stored layer at all.
	ScopeDefault Scope = "DEFAULT"
)

// Valid reports whether s is one of the four storable scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSystem, ScopePlaybook, ScopeSegment, ScopeCaller:
		return true
	}
	return false
}

// #endregion scope

// #region source
// Provenance tags recorded on targets.
const (
	SourceManual = "manual"
	SourceSeed   = "seed"
	SourceRule   = "rule"
)

// #endregion source

// #region parameter
// Parameter is a named behavior dimension on a fixed 0..1 scale.
type Parameter struct {
	ID          string
	Name        string
	DomainGroup string
	Adjustable  bool
	CreatedAt   time.Time
}

// #endregion parameter

// #region owners
// PlaybookStatus is the lifecycle state of a playbook.
type PlaybookStatus string

const (
	PlaybookDraft     PlaybookStatus = "draft"
	PlaybookPublished PlaybookStatus = "published"
	PlaybookArchived  PlaybookStatus = "archived"
)

// Playbook is a product configuration bundle applied to the callers of one domain.
type Playbook struct {
	ID          string
	DomainID    string
	Name        string
	Status      PlaybookStatus
	PublishedAt time.Time
}

// Segment is a named sub-population of callers.
type Segment struct {
	ID   string
	Name string
}

// Caller is an end-user of the product. DomainID, SegmentID and IdentityID are optional.
type Caller struct {
	ID         string
	Name       string
	DomainID   string
	SegmentID  string
	IdentityID string
}

// Call is a single interaction of a caller.
type Call struct {
	ID        string
	CallerID  string
	CreatedAt time.Time
}

// #endregion owners

// #region scoped-target
// ScopedTarget is a target value for one parameter at exactly one scope.
// Exactly one of PlaybookID, SegmentID, IdentityID is set, matching Scope;
// SYSTEM targets set none.
type ScopedTarget struct {
	ID          string
	ParameterID string
	Scope       Scope
	PlaybookID  string
	SegmentID   string
	IdentityID  string
	Value       float64
	Confidence  float64
	Source      string
	Active      bool
	UpdatedAt   time.Time
}

// OwnerID returns the owning entity id for the target's scope ("" for SYSTEM).
func (t ScopedTarget) OwnerID() string {
	switch t.Scope {
	case ScopePlaybook:
		return t.PlaybookID
	case ScopeSegment:
		return t.SegmentID
	case ScopeCaller:
		return t.IdentityID
	}
	return ""
}

// Validate checks scope/owner exclusivity and value ranges.
func (t ScopedTarget) Validate() error {
	if t.ParameterID == "" {
		return fmt.Errorf("scoped target: empty parameter id")
	}
	if !t.Scope.Valid() {
		return fmt.Errorf("scoped target %s: unknown scope %q", t.ParameterID, t.Scope)
	}
	set := 0
	for _, id := range []string{t.PlaybookID, t.SegmentID, t.IdentityID} {
		if id != "" {
			set++
		}
	}
	switch {
	case t.Scope == ScopeSystem && set != 0:
		return fmt.Errorf("scoped target %s: %w", t.ParameterID, ErrInvalidOwner)
	case t.Scope != ScopeSystem && (set != 1 || t.OwnerID() == ""):
		return fmt.Errorf("scoped target %s at %s: %w", t.ParameterID, t.Scope, ErrInvalidOwner)
	}
	if t.Value < 0 || t.Value > 1 {
		return fmt.Errorf("scoped target %s: value %.4f outside [0,1]", t.ParameterID, t.Value)
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("scoped target %s: confidence %.4f outside [0,1]", t.ParameterID, t.Confidence)
	}
	return nil
}

// #endregion scoped-target

// #region caller-target
// CallerTarget is the rule engine's personalised target for one caller and parameter.
// Revision increases by one on every write and guards compare-and-swap updates.
type CallerTarget struct {
	CallerID    string
	ParameterID string
	Value       float64
	Confidence  float64
	Source      string
	Revision    int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// #endregion caller-target

// #region measurement
// Measurement is an observed behavior value for one parameter during a call.
type Measurement struct {
	ID          int64
	CallID      string
	CallerID    string
	ParameterID string
	ActualValue float64
	MeasuredAt  time.Time
}

// #endregion measurement

// #region playbook-change
// PlaybookTargetChange sets (Value != nil) or clears (Value == nil) one playbook override.
type PlaybookTargetChange struct {
	ParameterID string
	Value       *float64
}

// #endregion playbook-change
