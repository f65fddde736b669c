package targets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS parameters (
	parameter_id  TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	domain_group  TEXT NOT NULL DEFAULT '',
	adjustable    INTEGER NOT NULL DEFAULT 1,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS playbooks (
	playbook_id   TEXT PRIMARY KEY,
	domain_id     TEXT NOT NULL,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL CHECK (status IN ('draft', 'published', 'archived')),
	published_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_playbooks_domain ON playbooks(domain_id, status, published_at);

CREATE TABLE IF NOT EXISTS segments (
	segment_id    TEXT PRIMARY KEY,
	name          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS callers (
	caller_id     TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	domain_id     TEXT,
	segment_id    TEXT,
	identity_id   TEXT,
	FOREIGN KEY (segment_id) REFERENCES segments(segment_id)
);

CREATE TABLE IF NOT EXISTS calls (
	call_id       TEXT PRIMARY KEY,
	caller_id     TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scoped_targets (
	target_id     TEXT PRIMARY KEY,
	parameter_id  TEXT NOT NULL,
	scope         TEXT NOT NULL CHECK (scope IN ('SYSTEM', 'PLAYBOOK', 'SEGMENT', 'CALLER')),
	playbook_id   TEXT,
	segment_id    TEXT,
	identity_id   TEXT,
	owner_key     TEXT NOT NULL,
	value         REAL NOT NULL CHECK (value >= 0 AND value <= 1),
	confidence    REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	source        TEXT NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1,
	updated_at    TEXT NOT NULL,
	CHECK (
		(scope = 'SYSTEM'   AND playbook_id IS NULL     AND segment_id IS NULL     AND identity_id IS NULL) OR
		(scope = 'PLAYBOOK' AND playbook_id IS NOT NULL AND segment_id IS NULL     AND identity_id IS NULL) OR
		(scope = 'SEGMENT'  AND playbook_id IS NULL     AND segment_id IS NOT NULL AND identity_id IS NULL) OR
		(scope = 'CALLER'   AND playbook_id IS NULL     AND segment_id IS NULL     AND identity_id IS NOT NULL)
	),
	FOREIGN KEY (parameter_id) REFERENCES parameters(parameter_id),
	FOREIGN KEY (playbook_id) REFERENCES playbooks(playbook_id),
	FOREIGN KEY (segment_id) REFERENCES segments(segment_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_scoped_targets_owner
	ON scoped_targets(parameter_id, scope, owner_key);

CREATE TABLE IF NOT EXISTS caller_targets (
	caller_id     TEXT NOT NULL,
	parameter_id  TEXT NOT NULL,
	target_value  REAL NOT NULL CHECK (target_value >= 0 AND target_value <= 1),
	confidence    REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	source        TEXT NOT NULL,
	revision      INTEGER NOT NULL DEFAULT 1,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (caller_id, parameter_id),
	FOREIGN KEY (parameter_id) REFERENCES parameters(parameter_id)
);

CREATE TABLE IF NOT EXISTS behavior_measurements (
	measurement_id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id        TEXT NOT NULL,
	caller_id      TEXT NOT NULL,
	parameter_id   TEXT NOT NULL,
	actual_value   REAL NOT NULL,
	measured_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_measurements_call ON behavior_measurements(call_id, parameter_id);
`

// #endregion schema

// timeFormat is fixed-width so stored timestamps sort lexicographically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// #region store-struct
// Store manages behavior parameters, scoped targets and caller targets in SQLite.
type Store struct {
	db           *sql.DB
	legacyCaller bool
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLegacyCallerScope allows CALLER-scope scoped targets to be written.
func WithLegacyCallerScope(enabled bool) Option {
	return func(s *Store) { s.legacyCaller = enabled }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	s, err := NewStoreWithDB(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// dsn applies per-connection pragmas; database/sql pools connections, so a one-off
// PRAGMA statement would only reach one of them.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// NewStoreWithDB runs migrations on an already opened database.
func NewStoreWithDB(db *sql.DB, opts ...Option) (*Store, error) {
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// #endregion constructor

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for packages that keep their own tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// LegacyCallerScope reports whether CALLER-scope targets are enabled.
func (s *Store) LegacyCallerScope() bool {
	return s.legacyCaller
}

// #region parameters
// UpsertParameter creates or renames a parameter.
func (s *Store) UpsertParameter(ctx context.Context, p Parameter) error {
	if p.ID == "" {
		return fmt.Errorf("upsert parameter: empty id")
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO parameters (parameter_id, name, domain_group, adjustable, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(parameter_id) DO UPDATE SET
		   name = excluded.name,
		   domain_group = excluded.domain_group,
		   adjustable = excluded.adjustable`,
		p.ID, p.Name, p.DomainGroup, boolInt(p.Adjustable), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("upsert parameter %s: %w", p.ID, err)
	}
	return nil
}

// GetParameter retrieves one parameter.
func (s *Store) GetParameter(ctx context.Context, id string) (Parameter, error) {
	var p Parameter
	var adjustable int
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT parameter_id, name, domain_group, adjustable, created_at
		 FROM parameters WHERE parameter_id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.DomainGroup, &adjustable, &created)
	if err != nil {
		return Parameter{}, fmt.Errorf("get parameter %s: %w", id, notFound(err))
	}
	p.Adjustable = adjustable != 0
	p.CreatedAt = parseTime(created)
	return p, nil
}

// ListParameters returns every parameter ordered by id.
func (s *Store) ListParameters(ctx context.Context) ([]Parameter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT parameter_id, name, domain_group, adjustable, created_at
		 FROM parameters ORDER BY parameter_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list parameters: %w", err)
	}
	defer rows.Close()

	var params []Parameter
	for rows.Next() {
		var p Parameter
		var adjustable int
		var created string
		if err := rows.Scan(&p.ID, &p.Name, &p.DomainGroup, &adjustable, &created); err != nil {
			return nil, fmt.Errorf("scan parameter: %w", err)
		}
		p.Adjustable = adjustable != 0
		p.CreatedAt = parseTime(created)
		params = append(params, p)
	}
	return params, rows.Err()
}

// #endregion parameters

// #region playbooks
// UpsertPlaybook creates or updates a playbook.
func (s *Store) UpsertPlaybook(ctx context.Context, pb Playbook) error {
	if pb.ID == "" || pb.DomainID == "" {
		return fmt.Errorf("upsert playbook: id and domain id are required")
	}
	if pb.Status == "" {
		pb.Status = PlaybookDraft
	}
	var published interface{}
	if pb.Status == PlaybookPublished {
		if pb.PublishedAt.IsZero() {
			pb.PublishedAt = s.now()
		}
		published = formatTime(pb.PublishedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playbooks (playbook_id, domain_id, name, status, published_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(playbook_id) DO UPDATE SET
		   domain_id = excluded.domain_id,
		   name = excluded.name,
		   status = excluded.status,
		   published_at = excluded.published_at`,
		pb.ID, pb.DomainID, pb.Name, string(pb.Status), published,
	)
	if err != nil {
		return fmt.Errorf("upsert playbook %s: %w", pb.ID, err)
	}
	return nil
}

// GetPlaybook retrieves one playbook.
func (s *Store) GetPlaybook(ctx context.Context, id string) (Playbook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT playbook_id, domain_id, name, status, published_at
		 FROM playbooks WHERE playbook_id = ?`, id,
	)
	pb, err := scanPlaybook(row)
	if err != nil {
		return Playbook{}, fmt.Errorf("get playbook %s: %w", id, notFound(err))
	}
	return pb, nil
}

// PublishedPlaybookForDomain returns the most recently published playbook of a domain.
func (s *Store) PublishedPlaybookForDomain(ctx context.Context, domainID string) (Playbook, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT playbook_id, domain_id, name, status, published_at
		 FROM playbooks WHERE domain_id = ? AND status = 'published'
		 ORDER BY published_at DESC, playbook_id DESC LIMIT 1`, domainID,
	)
	pb, err := scanPlaybook(row)
	if err != nil {
		return Playbook{}, fmt.Errorf("published playbook for domain %s: %w", domainID, notFound(err))
	}
	return pb, nil
}

func scanPlaybook(row *sql.Row) (Playbook, error) {
	var pb Playbook
	var status string
	var published sql.NullString
	if err := row.Scan(&pb.ID, &pb.DomainID, &pb.Name, &status, &published); err != nil {
		return Playbook{}, err
	}
	pb.Status = PlaybookStatus(status)
	if published.Valid {
		pb.PublishedAt = parseTime(published.String)
	}
	return pb, nil
}

// #endregion playbooks

// #region segments-callers
// UpsertSegment creates or renames a segment.
func (s *Store) UpsertSegment(ctx context.Context, seg Segment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO segments (segment_id, name) VALUES (?, ?)
		 ON CONFLICT(segment_id) DO UPDATE SET name = excluded.name`,
		seg.ID, seg.Name,
	)
	if err != nil {
		return fmt.Errorf("upsert segment %s: %w", seg.ID, err)
	}
	return nil
}

// GetSegment retrieves one segment.
func (s *Store) GetSegment(ctx context.Context, id string) (Segment, error) {
	var seg Segment
	err := s.db.QueryRowContext(ctx,
		`SELECT segment_id, name FROM segments WHERE segment_id = ?`, id,
	).Scan(&seg.ID, &seg.Name)
	if err != nil {
		return Segment{}, fmt.Errorf("get segment %s: %w", id, notFound(err))
	}
	return seg, nil
}

// UpsertCaller creates or updates a caller's memberships.
func (s *Store) UpsertCaller(ctx context.Context, c Caller) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO callers (caller_id, name, domain_id, segment_id, identity_id)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(caller_id) DO UPDATE SET
		   name = excluded.name,
		   domain_id = excluded.domain_id,
		   segment_id = excluded.segment_id,
		   identity_id = excluded.identity_id`,
		c.ID, c.Name, nullIfEmpty(c.DomainID), nullIfEmpty(c.SegmentID), nullIfEmpty(c.IdentityID),
	)
	if err != nil {
		return fmt.Errorf("upsert caller %s: %w", c.ID, err)
	}
	return nil
}

// GetCaller retrieves one caller.
func (s *Store) GetCaller(ctx context.Context, id string) (Caller, error) {
	var c Caller
	var domain, segment, identity sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT caller_id, name, domain_id, segment_id, identity_id
		 FROM callers WHERE caller_id = ?`, id,
	).Scan(&c.ID, &c.Name, &domain, &segment, &identity)
	if err != nil {
		return Caller{}, fmt.Errorf("get caller %s: %w", id, notFound(err))
	}
	c.DomainID = domain.String
	c.SegmentID = segment.String
	c.IdentityID = identity.String
	return c, nil
}

// #endregion segments-callers

// #region calls-measurements
// CreateCall records a call for a caller.
func (s *Store) CreateCall(ctx context.Context, call Call) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (call_id, caller_id, created_at) VALUES (?, ?, ?)`,
		call.ID, call.CallerID, formatTime(call.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create call %s: %w", call.ID, err)
	}
	return nil
}

// GetCall retrieves one call.
func (s *Store) GetCall(ctx context.Context, id string) (Call, error) {
	var call Call
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT call_id, caller_id, created_at FROM calls WHERE call_id = ?`, id,
	).Scan(&call.ID, &call.CallerID, &created)
	if err != nil {
		return Call{}, fmt.Errorf("get call %s: %w", id, notFound(err))
	}
	call.CreatedAt = parseTime(created)
	return call, nil
}

// RecordMeasurement stores an observed behavior value.
func (s *Store) RecordMeasurement(ctx context.Context, m Measurement) (int64, error) {
	if m.MeasuredAt.IsZero() {
		m.MeasuredAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO behavior_measurements (call_id, caller_id, parameter_id, actual_value, measured_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.CallID, m.CallerID, m.ParameterID, m.ActualValue, formatTime(m.MeasuredAt),
	)
	if err != nil {
		return 0, fmt.Errorf("record measurement: %w", err)
	}
	return res.LastInsertId()
}

// LatestMeasurements returns the most recent measurement per parameter for a call.
func (s *Store) LatestMeasurements(ctx context.Context, callID string) (map[string]Measurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT measurement_id, call_id, caller_id, parameter_id, actual_value, measured_at
		 FROM behavior_measurements WHERE call_id = ?
		 ORDER BY measured_at ASC, measurement_id ASC`, callID,
	)
	if err != nil {
		return nil, fmt.Errorf("latest measurements: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]Measurement)
	for rows.Next() {
		var m Measurement
		var measured string
		if err := rows.Scan(&m.ID, &m.CallID, &m.CallerID, &m.ParameterID, &m.ActualValue, &measured); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		m.MeasuredAt = parseTime(measured)
		latest[m.ParameterID] = m
	}
	return latest, rows.Err()
}

// #endregion calls-measurements

// #region helpers
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
