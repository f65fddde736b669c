package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS adaptation_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	caller_id      TEXT NOT NULL,
	spec_id        TEXT NOT NULL,
	parameter_id   TEXT NOT NULL,
	adjustment     TEXT NOT NULL,
	previous_value REAL NOT NULL,
	new_value      REAL NOT NULL,
	confidence     REAL NOT NULL,
	rationale      TEXT,
	decision       TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_adaptation_log_caller ON adaptation_log(caller_id, id);
`

// EnsureSchema creates the adaptation_log table if needed.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate adaptation log: %w", err)
	}
	return nil
}

// #endregion schema

// #region log-adaptation
// LogAdaptation writes an audit entry to the adaptation_log table.
func LogAdaptation(db *sql.DB, entry AdaptationEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO adaptation_log (run_id, caller_id, spec_id, parameter_id, adjustment,
		   previous_value, new_value, confidence, rationale, decision, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.CallerID,
		entry.SpecID,
		entry.ParameterID,
		entry.Adjustment,
		entry.PreviousValue,
		entry.NewValue,
		entry.Confidence,
		nullIfEmpty(entry.Rationale),
		entry.Decision,
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log adaptation: %w", err)
	}
	return nil
}

// #endregion log-adaptation

// #region list-adaptations
// ListAdaptations returns a caller's most recent entries, newest first.
// limit <= 0 returns every entry.
func ListAdaptations(db *sql.DB, callerID string, limit int) ([]AdaptationEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(
		`SELECT id, run_id, caller_id, spec_id, parameter_id, adjustment,
		        previous_value, new_value, confidence, rationale, decision, created_at
		 FROM adaptation_log WHERE caller_id = ?
		 ORDER BY id DESC LIMIT ?`, callerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list adaptations: %w", err)
	}
	defer rows.Close()

	var out []AdaptationEntry
	for rows.Next() {
		var e AdaptationEntry
		var rationale sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.RunID, &e.CallerID, &e.SpecID, &e.ParameterID, &e.Adjustment,
			&e.PreviousValue, &e.NewValue, &e.Confidence, &rationale, &e.Decision, &created); err != nil {
			return nil, fmt.Errorf("scan adaptation: %w", err)
		}
		e.Rationale = rationale.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-adaptations

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
