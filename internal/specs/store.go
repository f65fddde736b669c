package specs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when a spec does not exist.
var ErrNotFound = errors.New("spec not found")

// #region spec
// Spec is a stored analysis spec. Config holds the raw JSON blob; it is decoded on
// use so a malformed blob fails only the spec that carries it.
type Spec struct {
	ID        string
	Slug      string
	Name      string
	Active    bool
	Config    json.RawMessage
	UpdatedAt time.Time
}

// Parse decodes the spec's configuration.
func (s Spec) Parse() (Config, error) {
	c, err := ParseConfig(s.Config)
	if err != nil {
		return Config{}, fmt.Errorf("spec %s: %w", s.ID, err)
	}
	return c, nil
}

// #endregion spec

// #region store
// Store persists specs in the analysis_specs table.
type Store struct {
	db *sql.DB
}

// NewStore creates the analysis_specs table if needed and returns a store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("init specs table: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS analysis_specs (
		spec_id      TEXT PRIMARY KEY,
		slug         TEXT NOT NULL UNIQUE,
		name         TEXT NOT NULL,
		is_active    INTEGER NOT NULL DEFAULT 1,
		config_json  TEXT NOT NULL DEFAULT '{}',
		updated_at   TEXT NOT NULL
	)`)
	return err
}

// Upsert creates or replaces a spec.
func (s *Store) Upsert(ctx context.Context, spec Spec) error {
	if spec.ID == "" {
		return fmt.Errorf("upsert spec: empty id")
	}
	if spec.Slug == "" {
		spec.Slug = spec.ID
	}
	if spec.Name == "" {
		spec.Name = spec.Slug
	}
	cfg := string(spec.Config)
	if cfg == "" {
		cfg = "{}"
	}
	active := 0
	if spec.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_specs (spec_id, slug, name, is_active, config_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(spec_id) DO UPDATE SET
		   slug = excluded.slug,
		   name = excluded.name,
		   is_active = excluded.is_active,
		   config_json = excluded.config_json,
		   updated_at = excluded.updated_at`,
		spec.ID, spec.Slug, spec.Name, active, cfg, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert spec %s: %w", spec.ID, err)
	}
	return nil
}

// Get retrieves one spec.
func (s *Store) Get(ctx context.Context, id string) (Spec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT spec_id, slug, name, is_active, config_json, updated_at
		 FROM analysis_specs WHERE spec_id = ?`, id,
	)
	if err != nil {
		return Spec{}, fmt.Errorf("get spec %s: %w", id, err)
	}
	specs, err := scanSpecs(rows)
	if err != nil {
		return Spec{}, err
	}
	if len(specs) == 0 {
		return Spec{}, fmt.Errorf("get spec %s: %w", id, ErrNotFound)
	}
	return specs[0], nil
}

// ListActive returns every active spec ordered by slug.
func (s *Store) ListActive(ctx context.Context) ([]Spec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT spec_id, slug, name, is_active, config_json, updated_at
		 FROM analysis_specs WHERE is_active = 1 ORDER BY slug ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active specs: %w", err)
	}
	return scanSpecs(rows)
}

// ListRuleBearing returns active specs whose configuration mentions adaptation rules,
// ordered by slug. Callers still parse each config; the text match only narrows the scan.
func (s *Store) ListRuleBearing(ctx context.Context) ([]Spec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT spec_id, slug, name, is_active, config_json, updated_at
		 FROM analysis_specs
		 WHERE is_active = 1 AND config_json LIKE '%adaptationRules%'
		 ORDER BY slug ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list rule-bearing specs: %w", err)
	}
	return scanSpecs(rows)
}

// SetActive toggles a spec.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_specs SET is_active = ?, updated_at = ? WHERE spec_id = ?`,
		v, time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("set spec %s active: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set spec %s active: %w", id, ErrNotFound)
	}
	return nil
}

func scanSpecs(rows *sql.Rows) ([]Spec, error) {
	defer rows.Close()
	var out []Spec
	for rows.Next() {
		var sp Spec
		var active int
		var cfg, updated string
		if err := rows.Scan(&sp.ID, &sp.Slug, &sp.Name, &active, &cfg, &updated); err != nil {
			return nil, fmt.Errorf("scan spec: %w", err)
		}
		sp.Active = active != 0
		sp.Config = json.RawMessage(cfg)
		sp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sp)
	}
	return out, rows.Err()
}

// #endregion store

// #region yaml-seed
// Definition is the YAML form of a spec used for seeding.
type Definition struct {
	ID     string `yaml:"id"`
	Slug   string `yaml:"slug"`
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
	Config Config `yaml:"config"`
}

// Spec converts the definition into a storable spec. Active defaults to true.
func (d Definition) Spec() (Spec, error) {
	raw, err := json.Marshal(d.Config)
	if err != nil {
		return Spec{}, fmt.Errorf("encode spec %s config: %w", d.ID, err)
	}
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return Spec{ID: d.ID, Slug: d.Slug, Name: d.Name, Active: active, Config: raw}, nil
}

// File is a YAML document holding spec definitions.
type File struct {
	Specs []Definition `yaml:"specs"`
}

// LoadFile reads spec definitions from a YAML file.
func LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse spec file %s: %w", path, err)
	}
	for i, d := range f.Specs {
		if d.ID == "" {
			return nil, fmt.Errorf("spec file %s: entry %d has no id", path, i)
		}
	}
	return f.Specs, nil
}

// #endregion yaml-seed
