package targets

import (
	"context"
	"errors"
	"fmt"
)

// #region get-caller-target
// GetCallerTarget reads the personalised target for one caller and parameter.
func (s *Store) GetCallerTarget(ctx context.Context, callerID, parameterID string) (CallerTarget, error) {
	var ct CallerTarget
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT caller_id, parameter_id, target_value, confidence, source, revision, created_at, updated_at
		 FROM caller_targets WHERE caller_id = ? AND parameter_id = ?`,
		callerID, parameterID,
	).Scan(&ct.CallerID, &ct.ParameterID, &ct.Value, &ct.Confidence, &ct.Source, &ct.Revision, &created, &updated)
	if err != nil {
		return CallerTarget{}, fmt.Errorf("get caller target %s/%s: %w", callerID, parameterID, notFound(err))
	}
	ct.CreatedAt = parseTime(created)
	ct.UpdatedAt = parseTime(updated)
	return ct, nil
}

// ListCallerTargets returns every personalised target of a caller, ordered by parameter.
func (s *Store) ListCallerTargets(ctx context.Context, callerID string) ([]CallerTarget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT caller_id, parameter_id, target_value, confidence, source, revision, created_at, updated_at
		 FROM caller_targets WHERE caller_id = ? ORDER BY parameter_id ASC`, callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list caller targets: %w", err)
	}
	defer rows.Close()

	var out []CallerTarget
	for rows.Next() {
		var ct CallerTarget
		var created, updated string
		if err := rows.Scan(&ct.CallerID, &ct.ParameterID, &ct.Value, &ct.Confidence, &ct.Source,
			&ct.Revision, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan caller target: %w", err)
		}
		ct.CreatedAt = parseTime(created)
		ct.UpdatedAt = parseTime(updated)
		out = append(out, ct)
	}
	return out, rows.Err()
}

// #endregion get-caller-target

// #region insert-cas
// InsertCallerTarget creates a caller target at revision 1.
// Returns ErrConflict if a row for (caller, parameter) already exists.
func (s *Store) InsertCallerTarget(ctx context.Context, ct CallerTarget) error {
	now := formatTime(s.now())
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO caller_targets
		   (caller_id, parameter_id, target_value, confidence, source, revision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(caller_id, parameter_id) DO NOTHING`,
		ct.CallerID, ct.ParameterID, Clamp01(ct.Value), Clamp01(ct.Confidence), sourceOr(ct.Source), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert caller target %s/%s: %w", ct.CallerID, ct.ParameterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert caller target rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("insert caller target %s/%s: %w", ct.CallerID, ct.ParameterID, ErrConflict)
	}
	return nil
}

// CompareAndSwapCallerTarget updates a caller target only if its revision still equals
// expectedRevision. Returns ErrConflict when another writer got there first.
func (s *Store) CompareAndSwapCallerTarget(ctx context.Context, ct CallerTarget, expectedRevision int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE caller_targets SET
		   target_value = ?, confidence = ?, source = ?, revision = revision + 1, updated_at = ?
		 WHERE caller_id = ? AND parameter_id = ? AND revision = ?`,
		Clamp01(ct.Value), Clamp01(ct.Confidence), sourceOr(ct.Source), formatTime(s.now()),
		ct.CallerID, ct.ParameterID, expectedRevision,
	)
	if err != nil {
		return fmt.Errorf("update caller target %s/%s: %w", ct.CallerID, ct.ParameterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update caller target rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update caller target %s/%s at revision %d: %w", ct.CallerID, ct.ParameterID, expectedRevision, ErrConflict)
	}
	return nil
}

// #endregion insert-cas

// #region adjust
// AdjustFunc computes a new value from the current one. found is false when the
// caller has no target for the parameter yet.
type AdjustFunc func(current float64, found bool) float64

// AdjustResult describes one completed caller-target write.
type AdjustResult struct {
	Target   CallerTarget
	Previous float64
	Found    bool
	Created  bool
	Attempts int
}

// AdjustCallerTarget applies fn as an atomic read-modify-write on one caller target.
// Lost races are retried up to maxAttempts times; the written value is clamped to [0,1].
func (s *Store) AdjustCallerTarget(ctx context.Context, callerID, parameterID string, fn AdjustFunc, confidence float64, source string, maxAttempts int) (AdjustResult, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return AdjustResult{}, err
		}

		cur, err := s.GetCallerTarget(ctx, callerID, parameterID)
		found := err == nil
		if err != nil && !errors.Is(err, ErrNotFound) {
			return AdjustResult{}, err
		}

		next := CallerTarget{
			CallerID:    callerID,
			ParameterID: parameterID,
			Value:       Clamp01(fn(cur.Value, found)),
			Confidence:  confidence,
			Source:      source,
		}

		if found {
			err = s.CompareAndSwapCallerTarget(ctx, next, cur.Revision)
		} else {
			err = s.InsertCallerTarget(ctx, next)
		}
		if err == nil {
			next.Revision = cur.Revision + 1
			return AdjustResult{
				Target:   next,
				Previous: cur.Value,
				Found:    found,
				Created:  !found,
				Attempts: attempt,
			}, nil
		}
		if !errors.Is(err, ErrConflict) {
			return AdjustResult{}, err
		}
		lastErr = err
	}
	return AdjustResult{}, fmt.Errorf("adjust caller target %s/%s after %d attempts: %w", callerID, parameterID, maxAttempts, lastErr)
}

// #endregion adjust

func sourceOr(src string) string {
	if src == "" {
		return SourceRule
	}
	return src
}
