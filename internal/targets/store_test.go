package targets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func tempDB(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"), opts...)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedParams(t *testing.T, s *Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := s.UpsertParameter(context.Background(), Parameter{ID: id, Name: id, DomainGroup: "style", Adjustable: true}); err != nil {
			t.Fatalf("UpsertParameter %s: %v", id, err)
		}
	}
}

func seedPlaybook(t *testing.T, s *Store, id string, status PlaybookStatus) {
	t.Helper()
	if err := s.UpsertPlaybook(context.Background(), Playbook{ID: id, DomainID: "dom-1", Name: id, Status: status}); err != nil {
		t.Fatalf("UpsertPlaybook: %v", err)
	}
}

func ptr(v float64) *float64 { return &v }

func TestNewStoreInvalidPath(t *testing.T) {
	_, err := NewStore(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}

func TestParametersOrderedByID(t *testing.T) {
	s := tempDB(t)
	seedParams(t, s, "BEH_WARMTH", "BEH_DIRECTNESS", "BEH_QUESTION_RATE")

	params, err := s.ListParameters(context.Background())
	if err != nil {
		t.Fatalf("ListParameters: %v", err)
	}
	if len(params) != 3 {
		t.Fatalf("expected 3 parameters, got %d", len(params))
	}
	want := []string{"BEH_DIRECTNESS", "BEH_QUESTION_RATE", "BEH_WARMTH"}
	for i, p := range params {
		if p.ID != want[i] {
			t.Fatalf("index %d: expected %s, got %s", i, want[i], p.ID)
		}
		if !p.Adjustable {
			t.Fatalf("expected %s adjustable", p.ID)
		}
	}
}

func TestGetParameterNotFound(t *testing.T) {
	s := tempDB(t)
	_, err := s.GetParameter(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertScopedTargetInsertThenUpdate(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")

	created, err := s.UpsertScopedTarget(ctx, ScopedTarget{ParameterID: "BEH_WARMTH", Scope: ScopeSystem, Value: 0.5, Confidence: 1})
	if err != nil {
		t.Fatalf("UpsertScopedTarget: %v", err)
	}
	if !created {
		t.Fatal("expected first write to insert")
	}

	created, err = s.UpsertScopedTarget(ctx, ScopedTarget{ParameterID: "BEH_WARMTH", Scope: ScopeSystem, Value: 0.6, Confidence: 0.9, Source: SourceSeed})
	if err != nil {
		t.Fatalf("UpsertScopedTarget: %v", err)
	}
	if created {
		t.Fatal("expected second write to update in place")
	}

	rows, err := s.ListScopedTargets(ctx, ScopeSystem, "")
	if err != nil {
		t.Fatalf("ListScopedTargets: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one active row, got %d", len(rows))
	}
	if rows[0].Value != 0.6 || rows[0].Source != SourceSeed || !rows[0].Active {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
}

func TestScopedTargetOwnerValidation(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")

	cases := []ScopedTarget{
		{ParameterID: "BEH_WARMTH", Scope: ScopeSystem, PlaybookID: "pb-1", Value: 0.5},
		{ParameterID: "BEH_WARMTH", Scope: ScopePlaybook, Value: 0.5},
		{ParameterID: "BEH_WARMTH", Scope: ScopePlaybook, PlaybookID: "pb-1", SegmentID: "seg-1", Value: 0.5},
		{ParameterID: "BEH_WARMTH", Scope: ScopeSegment, PlaybookID: "pb-1", Value: 0.5},
	}
	for i, c := range cases {
		_, err := s.UpsertScopedTarget(ctx, c)
		if !errors.Is(err, ErrInvalidOwner) {
			t.Fatalf("case %d: expected ErrInvalidOwner, got %v", i, err)
		}
	}

	_, err := s.UpsertScopedTarget(ctx, ScopedTarget{ParameterID: "BEH_WARMTH", Scope: ScopeSystem, Value: 1.2})
	if err == nil {
		t.Fatal("expected range error for value > 1")
	}
}

func TestLegacyCallerScopeDisabledByDefault(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")

	_, err := s.UpsertScopedTarget(ctx, ScopedTarget{ParameterID: "BEH_WARMTH", Scope: ScopeCaller, IdentityID: "id-1", Value: 0.4, Confidence: 1})
	if !errors.Is(err, ErrLegacyCallerScope) {
		t.Fatalf("expected ErrLegacyCallerScope, got %v", err)
	}

	legacy := tempDB(t, WithLegacyCallerScope(true))
	seedParams(t, legacy, "BEH_WARMTH")
	if _, err := legacy.UpsertScopedTarget(ctx, ScopedTarget{ParameterID: "BEH_WARMTH", Scope: ScopeCaller, IdentityID: "id-1", Value: 0.4, Confidence: 1}); err != nil {
		t.Fatalf("legacy upsert: %v", err)
	}
	rows, _ := legacy.ListScopedTargets(ctx, ScopeCaller, "id-1")
	if len(rows) != 1 || rows[0].IdentityID != "id-1" {
		t.Fatalf("unexpected legacy rows: %+v", rows)
	}
}

func TestDeleteScopedTarget(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")
	seedPlaybook(t, s, "pb-1", PlaybookDraft)

	s.UpsertScopedTarget(ctx, ScopedTarget{ParameterID: "BEH_WARMTH", Scope: ScopePlaybook, PlaybookID: "pb-1", Value: 0.7, Confidence: 1})

	ok, err := s.DeleteScopedTarget(ctx, "BEH_WARMTH", ScopePlaybook, "pb-1")
	if err != nil || !ok {
		t.Fatalf("DeleteScopedTarget: ok=%v err=%v", ok, err)
	}
	ok, err = s.DeleteScopedTarget(ctx, "BEH_WARMTH", ScopePlaybook, "pb-1")
	if err != nil || ok {
		t.Fatalf("second delete should report no row: ok=%v err=%v", ok, err)
	}
	rows, _ := s.ListScopedTargets(ctx, ScopePlaybook, "pb-1")
	if len(rows) != 0 {
		t.Fatalf("expected no rows after delete, got %d", len(rows))
	}
}

func TestApplyPlaybookChanges(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH", "BEH_DIRECTNESS")
	seedPlaybook(t, s, "pb-1", PlaybookDraft)
	s.UpsertScopedTarget(ctx, ScopedTarget{ParameterID: "BEH_DIRECTNESS", Scope: ScopePlaybook, PlaybookID: "pb-1", Value: 0.3, Confidence: 1})

	updated, removed, err := s.ApplyPlaybookChanges(ctx, "pb-1", []PlaybookTargetChange{
		{ParameterID: "BEH_WARMTH", Value: ptr(1.4)},
		{ParameterID: "BEH_DIRECTNESS", Value: nil},
	}, 1, SourceManual)
	if err != nil {
		t.Fatalf("ApplyPlaybookChanges: %v", err)
	}
	if updated != 1 || removed != 1 {
		t.Fatalf("expected 1 updated / 1 removed, got %d / %d", updated, removed)
	}

	rows, _ := s.ListScopedTargets(ctx, ScopePlaybook, "pb-1")
	if len(rows) != 1 || rows[0].ParameterID != "BEH_WARMTH" || rows[0].Value != 1 {
		t.Fatalf("expected clamped warmth only, got %+v", rows)
	}
}

func TestApplyPlaybookChangesRejectsPublished(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")
	seedPlaybook(t, s, "pb-1", PlaybookDraft)
	s.UpsertScopedTarget(ctx, ScopedTarget{ParameterID: "BEH_WARMTH", Scope: ScopePlaybook, PlaybookID: "pb-1", Value: 0.7, Confidence: 1})
	seedPlaybook(t, s, "pb-1", PlaybookPublished)

	_, _, err := s.ApplyPlaybookChanges(ctx, "pb-1", []PlaybookTargetChange{{ParameterID: "BEH_WARMTH", Value: ptr(0.2)}}, 1, SourceManual)
	if !errors.Is(err, ErrPlaybookPublished) {
		t.Fatalf("expected ErrPlaybookPublished, got %v", err)
	}
	rows, _ := s.ListScopedTargets(ctx, ScopePlaybook, "pb-1")
	if len(rows) != 1 || rows[0].Value != 0.7 {
		t.Fatalf("published playbook targets changed: %+v", rows)
	}
}

func TestPublishedPlaybookForDomainPicksLatest(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.UpsertPlaybook(ctx, Playbook{ID: "pb-old", DomainID: "dom-1", Name: "old", Status: PlaybookPublished, PublishedAt: t0})
	s.UpsertPlaybook(ctx, Playbook{ID: "pb-new", DomainID: "dom-1", Name: "new", Status: PlaybookPublished, PublishedAt: t0.Add(time.Hour)})
	s.UpsertPlaybook(ctx, Playbook{ID: "pb-draft", DomainID: "dom-1", Name: "draft", Status: PlaybookDraft})

	pb, err := s.PublishedPlaybookForDomain(ctx, "dom-1")
	if err != nil {
		t.Fatalf("PublishedPlaybookForDomain: %v", err)
	}
	if pb.ID != "pb-new" {
		t.Fatalf("expected pb-new, got %s", pb.ID)
	}

	_, err = s.PublishedPlaybookForDomain(ctx, "dom-2")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCallerRoundTrip(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	s.UpsertSegment(ctx, Segment{ID: "seg-1", Name: "Anxious beginners"})
	if err := s.UpsertCaller(ctx, Caller{ID: "c-1", Name: "Sam", DomainID: "dom-1", SegmentID: "seg-1"}); err != nil {
		t.Fatalf("UpsertCaller: %v", err)
	}
	c, err := s.GetCaller(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetCaller: %v", err)
	}
	if c.DomainID != "dom-1" || c.SegmentID != "seg-1" || c.IdentityID != "" {
		t.Fatalf("unexpected caller: %+v", c)
	}
}

func TestLatestMeasurements(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.CreateCall(ctx, Call{ID: "call-1", CallerID: "c-1"})
	s.RecordMeasurement(ctx, Measurement{CallID: "call-1", CallerID: "c-1", ParameterID: "BEH_WARMTH", ActualValue: 0.4, MeasuredAt: t0.Add(time.Minute)})
	s.RecordMeasurement(ctx, Measurement{CallID: "call-1", CallerID: "c-1", ParameterID: "BEH_WARMTH", ActualValue: 0.2, MeasuredAt: t0})
	s.RecordMeasurement(ctx, Measurement{CallID: "call-2", CallerID: "c-1", ParameterID: "BEH_WARMTH", ActualValue: 0.9, MeasuredAt: t0.Add(time.Hour)})

	latest, err := s.LatestMeasurements(ctx, "call-1")
	if err != nil {
		t.Fatalf("LatestMeasurements: %v", err)
	}
	if got := latest["BEH_WARMTH"].ActualValue; got != 0.4 {
		t.Fatalf("expected latest 0.4, got %f", got)
	}
}

func TestAdjustCallerTargetCreateThenUpdate(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")

	inc := func(cur float64, found bool) float64 {
		if !found {
			cur = 0.5
		}
		return cur + 0.15
	}

	res, err := s.AdjustCallerTarget(ctx, "c-1", "BEH_WARMTH", inc, 0.8, SourceRule, 3)
	if err != nil {
		t.Fatalf("AdjustCallerTarget: %v", err)
	}
	if !res.Created || res.Target.Revision != 1 {
		t.Fatalf("expected created at revision 1, got %+v", res)
	}

	res, err = s.AdjustCallerTarget(ctx, "c-1", "BEH_WARMTH", inc, 0.8, SourceRule, 3)
	if err != nil {
		t.Fatalf("AdjustCallerTarget: %v", err)
	}
	if res.Created || res.Target.Revision != 2 {
		t.Fatalf("expected update at revision 2, got %+v", res)
	}

	ct, _ := s.GetCallerTarget(ctx, "c-1", "BEH_WARMTH")
	if diff := ct.Value - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected 0.8, got %f", ct.Value)
	}
}

func TestAdjustCallerTargetClamps(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")

	res, err := s.AdjustCallerTarget(ctx, "c-1", "BEH_WARMTH", func(float64, bool) float64 { return 3 }, 0.8, SourceRule, 1)
	if err != nil {
		t.Fatalf("AdjustCallerTarget: %v", err)
	}
	if res.Target.Value != 1 {
		t.Fatalf("expected clamp to 1, got %f", res.Target.Value)
	}
}

func TestCompareAndSwapStaleRevision(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")
	if err := s.InsertCallerTarget(ctx, CallerTarget{CallerID: "c-1", ParameterID: "BEH_WARMTH", Value: 0.5, Confidence: 0.8}); err != nil {
		t.Fatalf("InsertCallerTarget: %v", err)
	}
	if err := s.InsertCallerTarget(ctx, CallerTarget{CallerID: "c-1", ParameterID: "BEH_WARMTH", Value: 0.5, Confidence: 0.8}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate insert, got %v", err)
	}

	err := s.CompareAndSwapCallerTarget(ctx, CallerTarget{CallerID: "c-1", ParameterID: "BEH_WARMTH", Value: 0.9, Confidence: 0.8}, 7)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on stale revision, got %v", err)
	}
}

func TestAdjustCallerTargetConcurrentIncrementsNotLost(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	seedParams(t, s, "BEH_WARMTH")
	if err := s.InsertCallerTarget(ctx, CallerTarget{CallerID: "c-1", ParameterID: "BEH_WARMTH", Value: 0.2, Confidence: 0.8}); err != nil {
		t.Fatalf("InsertCallerTarget: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AdjustCallerTarget(ctx, "c-1", "BEH_WARMTH", func(cur float64, _ bool) float64 {
				return cur + 0.05
			}, 0.8, SourceRule, 100)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent adjust: %v", err)
		}
	}

	ct, _ := s.GetCallerTarget(ctx, "c-1", "BEH_WARMTH")
	if diff := ct.Value - 0.6; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected 0.6 after %d increments, got %f", writers, ct.Value)
	}
	if ct.Revision != writers+1 {
		t.Fatalf("expected revision %d, got %d", writers+1, ct.Revision)
	}
}

func TestClosedDBErrors(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewStore(filepath.Join(dir, "test.db"))
	s.Close()

	if _, err := s.ListParameters(context.Background()); err == nil {
		t.Fatal("expected error on closed DB")
	}
	if _, err := s.ListScopedTargets(context.Background(), ScopeSystem, ""); err == nil {
		t.Fatal("expected error on closed DB")
	}
}
