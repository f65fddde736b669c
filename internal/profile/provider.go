package profile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/paw2paw/hf-behavior/go-controller/internal/rules"
)

// #region provider
// Provider supplies the signals rule conditions read for a caller.
type Provider interface {
	// Profile returns the caller's learner profile (traits, derived metrics).
	Profile(ctx context.Context, callerID string) (map[string]rules.Value, error)
	// ParameterValues returns the caller's historical parameter values.
	ParameterValues(ctx context.Context, callerID string) (map[string]float64, error)
}

// #endregion provider

// #region sql-provider
// SQLProvider reads profiles from the learner_profiles and parameter_values tables.
type SQLProvider struct {
	db *sql.DB
}

// NewSQLProvider creates the profile tables if needed and returns a provider.
func NewSQLProvider(db *sql.DB) (*SQLProvider, error) {
	p := &SQLProvider{db: db}
	if err := p.init(); err != nil {
		return nil, fmt.Errorf("init profile tables: %w", err)
	}
	return p, nil
}

func (p *SQLProvider) init() error {
	_, err := p.db.Exec(`
CREATE TABLE IF NOT EXISTS learner_profiles (
	caller_id    TEXT NOT NULL,
	profile_key  TEXT NOT NULL,
	value_num    REAL,
	value_text   TEXT,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (caller_id, profile_key)
);

CREATE TABLE IF NOT EXISTS parameter_values (
	caller_id     TEXT NOT NULL,
	parameter_id  TEXT NOT NULL,
	value         REAL NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (caller_id, parameter_id)
);`)
	return err
}

// Profile implements Provider.
func (p *SQLProvider) Profile(ctx context.Context, callerID string) (map[string]rules.Value, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT profile_key, value_num, value_text FROM learner_profiles WHERE caller_id = ?`, callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", callerID, err)
	}
	defer rows.Close()

	out := make(map[string]rules.Value)
	for rows.Next() {
		var key string
		var num sql.NullFloat64
		var text sql.NullString
		if err := rows.Scan(&key, &num, &text); err != nil {
			return nil, fmt.Errorf("scan profile row: %w", err)
		}
		switch {
		case num.Valid:
			out[key] = rules.Number(num.Float64)
		case text.Valid:
			out[key] = rules.String(text.String)
		}
	}
	return out, rows.Err()
}

// ParameterValues implements Provider.
func (p *SQLProvider) ParameterValues(ctx context.Context, callerID string) (map[string]float64, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT parameter_id, value FROM parameter_values WHERE caller_id = ?`, callerID,
	)
	if err != nil {
		return nil, fmt.Errorf("load parameter values %s: %w", callerID, err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var id string
		var v float64
		if err := rows.Scan(&id, &v); err != nil {
			return nil, fmt.Errorf("scan parameter value: %w", err)
		}
		out[id] = v
	}
	return out, rows.Err()
}

// SetProfileValue writes one profile entry. An absent value deletes the key.
func (p *SQLProvider) SetProfileValue(ctx context.Context, callerID, key string, v rules.Value) error {
	if v.IsNull() {
		_, err := p.db.ExecContext(ctx,
			`DELETE FROM learner_profiles WHERE caller_id = ? AND profile_key = ?`, callerID, key)
		if err != nil {
			return fmt.Errorf("delete profile value %s/%s: %w", callerID, key, err)
		}
		return nil
	}

	var num, text interface{}
	if f, ok := v.Float(); ok {
		num = f
	} else {
		text = v.Str
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO learner_profiles (caller_id, profile_key, value_num, value_text, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(caller_id, profile_key) DO UPDATE SET
		   value_num = excluded.value_num,
		   value_text = excluded.value_text,
		   updated_at = excluded.updated_at`,
		callerID, key, num, text, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set profile value %s/%s: %w", callerID, key, err)
	}
	return nil
}

// SetParameterValue writes one historical parameter value.
func (p *SQLProvider) SetParameterValue(ctx context.Context, callerID, parameterID string, v float64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO parameter_values (caller_id, parameter_id, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(caller_id, parameter_id) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		callerID, parameterID, v, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set parameter value %s/%s: %w", callerID, parameterID, err)
	}
	return nil
}

// #endregion sql-provider

// Compile-time interface check.
var _ Provider = (*SQLProvider)(nil)
