package cascade

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/goleak"

	"github.com/paw2paw/hf-behavior/go-controller/internal/targets"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region helpers
func tempDB(t *testing.T, opts ...targets.Option) *targets.Store {
	t.Helper()
	s, err := targets.NewStore(filepath.Join(t.TempDir(), "cascade.db"), opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// seedWorld creates warmth/pace/directness (+ a non-adjustable parameter), a published
// playbook for domain "tutoring", an "anxious" segment and caller c-1 in both.
func seedWorld(t *testing.T, s *targets.Store) {
	t.Helper()
	ctx := context.Background()
	for _, p := range []targets.Parameter{
		{ID: "BEH_WARMTH", Name: "Warmth", DomainGroup: "style", Adjustable: true},
		{ID: "BEH_PACE", Name: "Pace", DomainGroup: "delivery", Adjustable: true},
		{ID: "BEH_DIRECTNESS", Name: "Directness", DomainGroup: "style", Adjustable: true},
		{ID: "SYS_INTERNAL", Name: "Internal", Adjustable: false},
	} {
		must(t, s.UpsertParameter(ctx, p))
	}
	must(t, s.UpsertPlaybook(ctx, targets.Playbook{
		ID: "pb-1", DomainID: "tutoring", Name: "Tutoring v1",
		Status: targets.PlaybookPublished, PublishedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	must(t, s.UpsertSegment(ctx, targets.Segment{ID: "seg-anx", Name: "anxious"}))
	must(t, s.UpsertCaller(ctx, targets.Caller{
		ID: "c-1", Name: "Sam", DomainID: "tutoring", SegmentID: "seg-anx", IdentityID: "id-1",
	}))
}

func setTarget(t *testing.T, s *targets.Store, st targets.ScopedTarget) {
	t.Helper()
	if st.Confidence == 0 {
		st.Confidence = 0.9
	}
	if st.Source == "" {
		st.Source = targets.SourceManual
	}
	if _, err := s.UpsertScopedTarget(context.Background(), st); err != nil {
		t.Fatalf("upsert %s/%s: %v", st.Scope, st.ParameterID, err)
	}
}

func resolve(t *testing.T, r *Resolver, callerID string) *Resolution {
	t.Helper()
	res, err := r.Resolve(context.Background(), callerID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return res
}

func target(t *testing.T, res *Resolution, id string) EffectiveTarget {
	t.Helper()
	et, ok := res.Target(id)
	if !ok {
		t.Fatalf("no effective target for %s", id)
	}
	return et
}

func ptr(v float64) *float64 { return &v }

// faultyStore injects read failures into a real store.
type faultyStore struct {
	Store
	failParams  bool
	failSegment bool
	failScope   targets.Scope
	failCallers bool
	failMeasure bool
}

var errInjected = errors.New("injected failure")

func (f *faultyStore) ListParameters(ctx context.Context) ([]targets.Parameter, error) {
	if f.failParams {
		return nil, errInjected
	}
	return f.Store.ListParameters(ctx)
}

func (f *faultyStore) GetSegment(ctx context.Context, id string) (targets.Segment, error) {
	if f.failSegment {
		return targets.Segment{}, errInjected
	}
	return f.Store.GetSegment(ctx, id)
}

func (f *faultyStore) ListScopedTargets(ctx context.Context, scope targets.Scope, owner string) ([]targets.ScopedTarget, error) {
	if scope == f.failScope {
		return nil, errInjected
	}
	return f.Store.ListScopedTargets(ctx, scope, owner)
}

func (f *faultyStore) ListCallerTargets(ctx context.Context, callerID string) ([]targets.CallerTarget, error) {
	if f.failCallers {
		return nil, errInjected
	}
	return f.Store.ListCallerTargets(ctx, callerID)
}

func (f *faultyStore) LatestMeasurements(ctx context.Context, callID string) (map[string]targets.Measurement, error) {
	if f.failMeasure {
		return nil, errInjected
	}
	return f.Store.LatestMeasurements(ctx, callID)
}

// #endregion helpers

// #region precedence-tests
func TestResolve_SystemAndDefault(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.6, Source: targets.SourceSeed})

	res := resolve(t, NewResolver(s, DefaultConfig(), nil), "c-1")

	var ids []string
	for _, et := range res.Targets {
		ids = append(ids, et.ParameterID)
	}
	if diff := cmp.Diff([]string{"BEH_DIRECTNESS", "BEH_PACE", "BEH_WARMTH"}, ids); diff != "" {
		t.Fatalf("parameter order (-want +got):\n%s", diff)
	}

	warmth := target(t, res, "BEH_WARMTH")
	if warmth.EffectiveValue != 0.6 || warmth.EffectiveScope != targets.ScopeSystem {
		t.Errorf("warmth: got %.2f at %s", warmth.EffectiveValue, warmth.EffectiveScope)
	}
	if warmth.SystemValue == nil || *warmth.SystemValue != 0.6 || warmth.PlaybookValue != nil {
		t.Errorf("warmth system/playbook values: %v / %v", warmth.SystemValue, warmth.PlaybookValue)
	}

	pace := target(t, res, "BEH_PACE")
	want := EffectiveTarget{
		ParameterID:    "BEH_PACE",
		Name:           "Pace",
		DomainGroup:    "delivery",
		EffectiveValue: 0.5,
		EffectiveScope: targets.ScopeDefault,
	}
	if diff := cmp.Diff(want, pace, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("default target (-want +got):\n%s", diff)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestResolve_ConfiguredDefault(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)

	res := resolve(t, NewResolver(s, Config{DefaultValue: 0.3}, nil), "c-1")
	if got := target(t, res, "BEH_WARMTH").EffectiveValue; got != 0.3 {
		t.Errorf("expected configured default 0.3, got %.2f", got)
	}
	if got := target(t, res, "BEH_WARMTH").Confidence; got != 0 {
		t.Errorf("default-scope confidence should be 0 unless configured, got %.2f", got)
	}
}

func TestResolve_DefaultConfidence(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.6, Confidence: 0.9, Source: targets.SourceSeed})

	res := resolve(t, NewResolver(s, Config{DefaultValue: 0.5, DefaultConfidence: 0.25}, nil), "c-1")

	pace := target(t, res, "BEH_PACE")
	if pace.EffectiveScope != targets.ScopeDefault || pace.Confidence != 0.25 {
		t.Errorf("pace: got confidence %.2f at %s, want 0.25 at DEFAULT", pace.Confidence, pace.EffectiveScope)
	}
	if got := target(t, res, "BEH_WARMTH").Confidence; got != 0.9 {
		t.Errorf("stored layer confidence should win over the default, got %.2f", got)
	}
}

func TestResolve_PlaybookOverrideAddAndRemove(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	ctx := context.Background()
	r := NewResolver(s, DefaultConfig(), nil)

	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.5})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopePlaybook, PlaybookID: "pb-1", Value: 0.7})

	warmth := target(t, resolve(t, r, "c-1"), "BEH_WARMTH")
	if warmth.EffectiveValue != 0.7 || warmth.EffectiveScope != targets.ScopePlaybook {
		t.Fatalf("with override: got %.2f at %s", warmth.EffectiveValue, warmth.EffectiveScope)
	}

	removed, err := s.DeleteScopedTarget(ctx, "BEH_WARMTH", targets.ScopePlaybook, "pb-1")
	must(t, err)
	if !removed {
		t.Fatal("expected override to be removed")
	}

	warmth = target(t, resolve(t, r, "c-1"), "BEH_WARMTH")
	if warmth.EffectiveValue != 0.5 || warmth.EffectiveScope != targets.ScopeSystem {
		t.Fatalf("after removal: got %.2f at %s", warmth.EffectiveValue, warmth.EffectiveScope)
	}
}

func TestResolve_MonotonicPrecedence(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	r := NewResolver(s, DefaultConfig(), nil)

	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.5, Source: targets.SourceSeed})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopePlaybook, PlaybookID: "pb-1", Value: 0.7, Confidence: 0.8})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSegment, SegmentID: "seg-anx", Value: 0.85, Confidence: 0.6})

	warmth := target(t, resolve(t, r, "c-1"), "BEH_WARMTH")
	if warmth.EffectiveScope != targets.ScopeSegment || warmth.EffectiveValue != 0.85 {
		t.Fatalf("got %.2f at %s", warmth.EffectiveValue, warmth.EffectiveScope)
	}
	if warmth.Confidence != 0.6 {
		t.Errorf("confidence should follow the last layer, got %.2f", warmth.Confidence)
	}
	if warmth.PlaybookValue == nil || *warmth.PlaybookValue != 0.7 {
		t.Errorf("playbook value should still be reported, got %v", warmth.PlaybookValue)
	}

	want := []Layer{
		{Scope: targets.ScopeSystem, Value: 0.5, Confidence: 0.9, Source: targets.SourceSeed, OwnerLabel: "system"},
		{Scope: targets.ScopePlaybook, Value: 0.7, Confidence: 0.8, Source: targets.SourceManual, OwnerLabel: "Tutoring v1"},
		{Scope: targets.ScopeSegment, Value: 0.85, Confidence: 0.6, Source: targets.SourceManual, OwnerLabel: "anxious"},
	}
	if diff := cmp.Diff(want, warmth.Layers); diff != "" {
		t.Errorf("provenance (-want +got):\n%s", diff)
	}
}

func TestResolve_MissingLayerDoesNotReset(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)

	// segment override without any SYSTEM or PLAYBOOK row
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_PACE", Scope: targets.ScopeSegment, SegmentID: "seg-anx", Value: 0.2})
	// playbook override with no segment row
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_DIRECTNESS", Scope: targets.ScopePlaybook, PlaybookID: "pb-1", Value: 0.9})

	res := resolve(t, NewResolver(s, DefaultConfig(), nil), "c-1")
	pace := target(t, res, "BEH_PACE")
	if pace.EffectiveValue != 0.2 || pace.EffectiveScope != targets.ScopeSegment || len(pace.Layers) != 1 {
		t.Errorf("pace: %.2f at %s with %d layers", pace.EffectiveValue, pace.EffectiveScope, len(pace.Layers))
	}
	dir := target(t, res, "BEH_DIRECTNESS")
	if dir.EffectiveValue != 0.9 || dir.EffectiveScope != targets.ScopePlaybook {
		t.Errorf("directness: %.2f at %s", dir.EffectiveValue, dir.EffectiveScope)
	}
}

func TestResolve_DraftPlaybookIgnored(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	ctx := context.Background()
	must(t, s.UpsertPlaybook(ctx, targets.Playbook{ID: "pb-draft", DomainID: "tutoring", Name: "Next", Status: targets.PlaybookDraft}))
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopePlaybook, PlaybookID: "pb-draft", Value: 0.1})

	res := resolve(t, NewResolver(s, DefaultConfig(), nil), "c-1")
	if res.PlaybookID != "pb-1" {
		t.Errorf("expected published playbook pb-1, got %q", res.PlaybookID)
	}
	if got := target(t, res, "BEH_WARMTH").EffectiveScope; got != targets.ScopeDefault {
		t.Errorf("draft override leaked into cascade: %s", got)
	}
}

func TestResolve_LegacyCallerLayer(t *testing.T) {
	s := tempDB(t, targets.WithLegacyCallerScope(true))
	seedWorld(t, s)
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSegment, SegmentID: "seg-anx", Value: 0.8})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeCaller, IdentityID: "id-1", Value: 0.95})

	on := target(t, resolve(t, NewResolver(s, Config{DefaultValue: 0.5, LegacyCallerScope: true}, nil), "c-1"), "BEH_WARMTH")
	if on.EffectiveScope != targets.ScopeCaller || on.EffectiveValue != 0.95 {
		t.Errorf("legacy on: %.2f at %s", on.EffectiveValue, on.EffectiveScope)
	}
	if last := on.Layers[len(on.Layers)-1]; last.OwnerLabel != "Sam" {
		t.Errorf("caller layer label: %q", last.OwnerLabel)
	}

	off := target(t, resolve(t, NewResolver(s, DefaultConfig(), nil), "c-1"), "BEH_WARMTH")
	if off.EffectiveScope != targets.ScopeSegment || off.EffectiveValue != 0.8 {
		t.Errorf("legacy off: %.2f at %s", off.EffectiveValue, off.EffectiveScope)
	}
}

func TestResolve_PersonalizedIsDisplayOnly(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.5})
	_, err := s.AdjustCallerTarget(context.Background(), "c-1", "BEH_WARMTH",
		func(float64, bool) float64 { return 0.9 }, 0.8, targets.SourceRule, 3)
	must(t, err)

	warmth := target(t, resolve(t, NewResolver(s, DefaultConfig(), nil), "c-1"), "BEH_WARMTH")
	if warmth.EffectiveValue != 0.5 {
		t.Errorf("caller target changed the cascade: %.2f", warmth.EffectiveValue)
	}
	if warmth.Personalized == nil || warmth.Personalized.Value != 0.9 || warmth.Personalized.Source != targets.SourceRule {
		t.Errorf("personalized: %+v", warmth.Personalized)
	}
}

// #endregion precedence-tests

// #region fallback-tests
func TestResolve_UnknownCallerUsesSystem(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.4})

	res := resolve(t, NewResolver(s, DefaultConfig(), nil), "nobody")
	if got := target(t, res, "BEH_WARMTH"); got.EffectiveValue != 0.4 || got.EffectiveScope != targets.ScopeSystem {
		t.Errorf("got %.2f at %s", got.EffectiveValue, got.EffectiveScope)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "owner lookup failed") {
		t.Errorf("warnings: %v", res.Warnings)
	}
}

func TestResolve_CallerWithoutMemberships(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	must(t, s.UpsertCaller(context.Background(), targets.Caller{ID: "c-bare"}))
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.4})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopePlaybook, PlaybookID: "pb-1", Value: 0.7})

	res := resolve(t, NewResolver(s, DefaultConfig(), nil), "c-bare")
	if got := target(t, res, "BEH_WARMTH"); got.EffectiveScope != targets.ScopeSystem {
		t.Errorf("got %s", got.EffectiveScope)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("a caller without memberships is not a failure: %v", res.Warnings)
	}
}

func TestResolve_OwnerFailureFallsBackToSystem(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.5})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopePlaybook, PlaybookID: "pb-1", Value: 0.7})

	r := NewResolver(&faultyStore{Store: s, failSegment: true}, DefaultConfig(), nil)
	res := resolve(t, r, "c-1")

	for _, et := range res.Targets {
		if et.EffectiveScope != targets.ScopeSystem && et.EffectiveScope != targets.ScopeDefault {
			t.Errorf("%s resolved at %s after owner failure", et.ParameterID, et.EffectiveScope)
		}
	}
	if res.PlaybookID != "" || res.SegmentID != "" {
		t.Errorf("owners should be cleared, got %q/%q", res.PlaybookID, res.SegmentID)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a warning")
	}
}

func TestResolve_LayerFailureSkipsLayer(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.5})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopePlaybook, PlaybookID: "pb-1", Value: 0.7})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSegment, SegmentID: "seg-anx", Value: 0.9})

	r := NewResolver(&faultyStore{Store: s, failScope: targets.ScopeSegment, failCallers: true}, DefaultConfig(), nil)
	res := resolve(t, r, "c-1")

	warmth := target(t, res, "BEH_WARMTH")
	if warmth.EffectiveScope != targets.ScopePlaybook || warmth.EffectiveValue != 0.7 {
		t.Errorf("got %.2f at %s", warmth.EffectiveValue, warmth.EffectiveScope)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected segment and caller-target warnings, got %v", res.Warnings)
	}
}

func TestResolve_ParameterListFailure(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)

	_, err := NewResolver(&faultyStore{Store: s, failParams: true}, DefaultConfig(), nil).Resolve(context.Background(), "c-1")
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewResolver(s, DefaultConfig(), nil).Resolve(ctx, "c-1"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

// #endregion fallback-tests

// #region call-and-playbook-tests
func TestResolveCall_JoinsLatestMeasurement(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	ctx := context.Background()
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.5})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopePlaybook, PlaybookID: "pb-1", Value: 0.7})
	must(t, s.CreateCall(ctx, targets.Call{ID: "call-1", CallerID: "c-1"}))

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, v := range []float64{0.4, 0.9} {
		_, err := s.RecordMeasurement(ctx, targets.Measurement{
			CallID: "call-1", CallerID: "c-1", ParameterID: "BEH_WARMTH",
			ActualValue: v, MeasuredAt: base.Add(time.Duration(i) * time.Minute),
		})
		must(t, err)
	}

	res, err := NewResolver(s, DefaultConfig(), nil).ResolveCall(ctx, "call-1")
	must(t, err)
	if res.CallID != "call-1" || res.CallerID != "c-1" {
		t.Errorf("ids: %q/%q", res.CallID, res.CallerID)
	}

	warmth := target(t, res, "BEH_WARMTH")
	if warmth.ActualValue == nil || *warmth.ActualValue != 0.9 {
		t.Fatalf("actual: %v", warmth.ActualValue)
	}
	if warmth.Delta == nil || math.Abs(*warmth.Delta-0.2) > 1e-9 {
		t.Errorf("delta: %v", warmth.Delta)
	}
	if warmth.EffectiveValue != 0.7 {
		t.Errorf("measurement must not change resolution: %.2f", warmth.EffectiveValue)
	}
	if pace := target(t, res, "BEH_PACE"); pace.ActualValue != nil || pace.Delta != nil {
		t.Errorf("unmeasured parameter got actual/delta: %+v", pace)
	}
}

func TestResolveCall_Errors(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	ctx := context.Background()

	if _, err := NewResolver(s, DefaultConfig(), nil).ResolveCall(ctx, "missing"); !errors.Is(err, targets.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	must(t, s.CreateCall(ctx, targets.Call{ID: "call-1", CallerID: "c-1"}))
	res, err := NewResolver(&faultyStore{Store: s, failMeasure: true}, DefaultConfig(), nil).ResolveCall(ctx, "call-1")
	must(t, err)
	if len(res.Warnings) != 1 {
		t.Errorf("expected measurement warning, got %v", res.Warnings)
	}
}

func TestResolvePlaybook(t *testing.T) {
	s := tempDB(t)
	seedWorld(t, s)
	ctx := context.Background()
	must(t, s.UpsertPlaybook(ctx, targets.Playbook{ID: "pb-draft", DomainID: "tutoring", Name: "Next"}))
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_WARMTH", Scope: targets.ScopeSystem, Value: 0.5})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_PACE", Scope: targets.ScopePlaybook, PlaybookID: "pb-draft", Value: 0.3})
	setTarget(t, s, targets.ScopedTarget{ParameterID: "BEH_PACE", Scope: targets.ScopeSegment, SegmentID: "seg-anx", Value: 0.9})

	res, err := NewResolver(s, DefaultConfig(), nil).ResolvePlaybook(ctx, "pb-draft")
	must(t, err)

	pace := target(t, res, "BEH_PACE")
	if diff := cmp.Diff(ptr(0.3), pace.PlaybookValue); diff != "" {
		t.Errorf("playbook value (-want +got):\n%s", diff)
	}
	if pace.SystemValue != nil || pace.EffectiveScope != targets.ScopePlaybook {
		t.Errorf("pace: system %v scope %s", pace.SystemValue, pace.EffectiveScope)
	}
	warmth := target(t, res, "BEH_WARMTH")
	if diff := cmp.Diff(ptr(0.5), warmth.SystemValue); diff != "" || warmth.PlaybookValue != nil {
		t.Errorf("warmth: %+v", warmth)
	}

	if _, err := NewResolver(s, DefaultConfig(), nil).ResolvePlaybook(ctx, "missing"); !errors.Is(err, targets.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// #endregion call-and-playbook-tests
