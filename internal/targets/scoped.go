package targets

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// #region upsert-scoped
// UpsertScopedTarget writes the active target for (parameter, scope, owner).
// An existing active row is updated in place; created reports whether a row was inserted.
func (s *Store) UpsertScopedTarget(ctx context.Context, t ScopedTarget) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	if t.Scope == ScopeCaller && !s.legacyCaller {
		return false, fmt.Errorf("upsert scoped target %s: %w", t.ParameterID, ErrLegacyCallerScope)
	}
	return upsertScoped(ctx, s.db, t, formatTime(s.now()))
}

// execQuerier is satisfied by *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func upsertScoped(ctx context.Context, q execQuerier, t ScopedTarget, now string) (bool, error) {
	if t.Source == "" {
		t.Source = SourceManual
	}
	id := uuid.New().String()

	var gotID string
	err := q.QueryRowContext(ctx,
		`INSERT INTO scoped_targets
		   (target_id, parameter_id, scope, playbook_id, segment_id, identity_id, owner_key,
		    value, confidence, source, active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT(parameter_id, scope, owner_key) DO UPDATE SET
		   value = excluded.value,
		   confidence = excluded.confidence,
		   source = excluded.source,
		   active = 1,
		   updated_at = excluded.updated_at
		 RETURNING target_id`,
		id, t.ParameterID, string(t.Scope),
		nullIfEmpty(t.PlaybookID), nullIfEmpty(t.SegmentID), nullIfEmpty(t.IdentityID),
		t.OwnerID(), t.Value, t.Confidence, t.Source, now,
	).Scan(&gotID)
	if err != nil {
		return false, fmt.Errorf("upsert scoped target %s/%s: %w", t.Scope, t.ParameterID, err)
	}
	return gotID == id, nil
}

// #endregion upsert-scoped

// #region delete-scoped
// DeleteScopedTarget hard-deletes an override so the cascade falls back to the next scope.
// Returns false when no row existed.
func (s *Store) DeleteScopedTarget(ctx context.Context, parameterID string, scope Scope, ownerID string) (bool, error) {
	if scope == ScopeCaller && !s.legacyCaller {
		return false, fmt.Errorf("delete scoped target %s: %w", parameterID, ErrLegacyCallerScope)
	}
	return deleteScoped(ctx, s.db, parameterID, scope, ownerID)
}

func deleteScoped(ctx context.Context, q execQuerier, parameterID string, scope Scope, ownerID string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM scoped_targets WHERE parameter_id = ? AND scope = ? AND owner_key = ?`,
		parameterID, string(scope), ownerID,
	)
	if err != nil {
		return false, fmt.Errorf("delete scoped target %s/%s: %w", scope, parameterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete scoped target rows: %w", err)
	}
	return n > 0, nil
}

// #endregion delete-scoped

// #region list-scoped
// ListScopedTargets returns the active targets for one scope and owner, ordered by parameter.
// ownerID is ignored for SYSTEM.
func (s *Store) ListScopedTargets(ctx context.Context, scope Scope, ownerID string) ([]ScopedTarget, error) {
	if scope == ScopeSystem {
		ownerID = ""
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, parameter_id, scope, playbook_id, segment_id, identity_id,
		        value, confidence, source, active, updated_at
		 FROM scoped_targets
		 WHERE scope = ? AND owner_key = ? AND active = 1
		 ORDER BY parameter_id ASC`,
		string(scope), ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s targets: %w", scope, err)
	}
	defer rows.Close()

	var out []ScopedTarget
	for rows.Next() {
		var t ScopedTarget
		var scopeStr, updated string
		var playbook, segment, identity sql.NullString
		var active int
		if err := rows.Scan(&t.ID, &t.ParameterID, &scopeStr, &playbook, &segment, &identity,
			&t.Value, &t.Confidence, &t.Source, &active, &updated); err != nil {
			return nil, fmt.Errorf("scan scoped target: %w", err)
		}
		t.Scope = Scope(scopeStr)
		t.PlaybookID = playbook.String
		t.SegmentID = segment.String
		t.IdentityID = identity.String
		t.Active = active != 0
		t.UpdatedAt = parseTime(updated)
		out = append(out, t)
	}
	return out, rows.Err()
}

// #endregion list-scoped

// #region apply-playbook-changes
// ApplyPlaybookChanges writes a batch of playbook overrides in one transaction.
// Values are clamped to [0,1]; nil values delete the override. The playbook's status is
// re-read inside the transaction and a published playbook aborts the whole batch.
func (s *Store) ApplyPlaybookChanges(ctx context.Context, playbookID string, changes []PlaybookTargetChange, confidence float64, source string) (updated, removed int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM playbooks WHERE playbook_id = ?`, playbookID).Scan(&status)
	if err != nil {
		return 0, 0, fmt.Errorf("playbook %s: %w", playbookID, notFound(err))
	}
	if PlaybookStatus(status) == PlaybookPublished {
		return 0, 0, fmt.Errorf("playbook %s: %w", playbookID, ErrPlaybookPublished)
	}

	now := formatTime(s.now())
	for _, ch := range changes {
		if ch.Value == nil {
			ok, err := deleteScoped(ctx, tx, ch.ParameterID, ScopePlaybook, playbookID)
			if err != nil {
				return 0, 0, err
			}
			if ok {
				removed++
			}
			continue
		}
		t := ScopedTarget{
			ParameterID: ch.ParameterID,
			Scope:       ScopePlaybook,
			PlaybookID:  playbookID,
			Value:       Clamp01(*ch.Value),
			Confidence:  Clamp01(confidence),
			Source:      source,
		}
		if err := t.Validate(); err != nil {
			return 0, 0, err
		}
		if _, err := upsertScoped(ctx, tx, t, now); err != nil {
			return 0, 0, err
		}
		updated++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return updated, removed, nil
}

// #endregion apply-playbook-changes

// Clamp01 bounds v to [0,1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
