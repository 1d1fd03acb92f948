// Copyright 2025 The Rivaas Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store is the Endpoint Store: the durable, single-writer record
// of endpoints, backed by SQLite (modernc.org/sqlite, pure Go, no cgo).
// Schema and operation set are ported from the original implementation's
// db.rs. The migration also creates the endpoint_metrics/request_logs
// tables; no operation in this package reads or writes them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rivaas-dev/edge-gateway/internal/gwerrors"

	_ "modernc.org/sqlite"
)

// Endpoint is one routable handler definition, per SPEC_FULL.md §3.
type Endpoint struct {
	ID          string
	Name        string
	Host        string
	PathPattern string
	Method      string
	Source      *string
	Compiled    bool
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateSpec is the caller-supplied subset of fields for Create.
type CreateSpec struct {
	Name        string
	Host        string
	PathPattern string
	Method      string
}

// MetaFields is the mutable subset of fields update_meta may change. A nil
// pointer leaves the field untouched.
type MetaFields struct {
	Name        *string
	Host        *string
	PathPattern *string
	Method      *string
	Enabled     *bool
}

const schema = `
CREATE TABLE IF NOT EXISTS endpoints (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	host TEXT NOT NULL,
	path_pattern TEXT NOT NULL,
	method TEXT NOT NULL,
	source TEXT,
	compiled INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_endpoints_route
	ON endpoints(host, path_pattern, method)
	WHERE enabled = 1;

CREATE TABLE IF NOT EXISTS endpoint_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint_id TEXT NOT NULL,
	request_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	total_duration_ms INTEGER NOT NULL DEFAULT 0,
	recorded_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_endpoint_metrics_endpoint
	ON endpoint_metrics(endpoint_id);

CREATE TABLE IF NOT EXISTS request_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	endpoint_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	status INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_request_logs_endpoint
	ON request_logs(endpoint_id);
`

// Store is the single logical writer over the endpoints table; reads take
// consistent snapshots via SQLite's own MVCC, so only writes serialize
// through mu.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if absent) the SQLite file at path and runs the
// idempotent migration.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: one connection avoids SQLITE_BUSY under our own mutex
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates tables and indexes if absent. Safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Create inserts a new endpoint with compiled=false, enabled=false.
// Because the new row is disabled, an enabled endpoint on the same
// (host,path,method) does not make it fail; route uniqueness is enforced
// when an endpoint is enabled (UpdateMeta). Any insert failure is reported
// as gwerrors.KindConflict.
func (s *Store) Create(ctx context.Context, spec CreateSpec) (Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	ep := Endpoint{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Host:        strings.ToLower(spec.Host),
		PathPattern: spec.PathPattern,
		Method:      strings.ToUpper(spec.Method),
		Compiled:    false,
		Enabled:     false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO endpoints (id, name, host, path_pattern, method, source, compiled, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, 0, 0, ?, ?)`,
		ep.ID, ep.Name, ep.Host, ep.PathPattern, ep.Method, iso(ep.CreatedAt), iso(ep.UpdatedAt))
	if err != nil {
		return Endpoint{}, gwerrors.Wrap(gwerrors.KindConflict, "create endpoint", err)
	}
	return ep, nil
}

// Get returns the endpoint for id, or ok=false if absent.
func (s *Store) Get(ctx context.Context, id string) (Endpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, host, path_pattern, method, source, compiled, enabled, created_at, updated_at
		FROM endpoints WHERE id = ?`, id)
	return scanOne(row)
}

// List returns all endpoints ordered by created_at descending.
func (s *Store) List(ctx context.Context) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, host, path_pattern, method, source, compiled, enabled, created_at, updated_at
		FROM endpoints ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		ep, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// UpdateMeta mutates name/host/path/method/enabled. Changing host, path,
// or method clears enabled, since the route uniqueness invariant must be
// re-validated by the caller before re-enabling.
func (s *Store) UpdateMeta(ctx context.Context, id string, fields MetaFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return gwerrors.New(gwerrors.KindNotFound, "update_meta: endpoint not found")
	}

	routeChanged := false
	if fields.Name != nil {
		existing.Name = *fields.Name
	}
	if fields.Host != nil && strings.ToLower(*fields.Host) != existing.Host {
		existing.Host = strings.ToLower(*fields.Host)
		routeChanged = true
	}
	if fields.PathPattern != nil && *fields.PathPattern != existing.PathPattern {
		existing.PathPattern = *fields.PathPattern
		routeChanged = true
	}
	if fields.Method != nil && strings.ToUpper(*fields.Method) != existing.Method {
		existing.Method = strings.ToUpper(*fields.Method)
		routeChanged = true
	}
	existing.Enabled = existing.Enabled && !routeChanged
	if fields.Enabled != nil {
		existing.Enabled = *fields.Enabled && !routeChanged
	}
	existing.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE endpoints SET name=?, host=?, path_pattern=?, method=?, enabled=?, updated_at=?
		WHERE id=?`,
		existing.Name, existing.Host, existing.PathPattern, existing.Method, existing.Enabled, iso(existing.UpdatedAt), id)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindConflict, "update_meta", err)
	}
	return nil
}

// UpdateSource sets source and clears compiled and enabled, per the
// invariant that any source mutation invalidates the current artifact.
func (s *Store) UpdateSource(ctx context.Context, id string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE endpoints SET source=?, compiled=0, enabled=0, updated_at=?
		WHERE id=?`, text, iso(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("store: update_source: %w", err)
	}
	return requireAffected(res)
}

// MarkCompiled flips the compiled flag. Only the build pipeline calls
// this.
func (s *Store) MarkCompiled(ctx context.Context, id string, compiled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE endpoints SET compiled=?, updated_at=? WHERE id=?`,
		compiled, iso(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("store: mark_compiled: %w", err)
	}
	return requireAffected(res)
}

// Delete removes the endpoint record. The caller is responsible for
// unloading any loaded handler version first.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return requireAffected(res)
}

// Find returns the unique enabled endpoint for (host, path, method), if
// any.
func (s *Store) Find(ctx context.Context, host, path, method string) (Endpoint, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, host, path_pattern, method, source, compiled, enabled, created_at, updated_at
		FROM endpoints WHERE host=? AND path_pattern=? AND method=? AND enabled=1`,
		strings.ToLower(host), path, strings.ToUpper(method))
	return scanOne(row)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return gwerrors.New(gwerrors.KindNotFound, "endpoint not found")
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (Endpoint, bool, error) {
	ep, err := scanRow(row)
	if err == sql.ErrNoRows {
		return Endpoint{}, false, nil
	}
	if err != nil {
		return Endpoint{}, false, fmt.Errorf("store: scan: %w", err)
	}
	return ep, true, nil
}

func scanRow(row scanner) (Endpoint, error) {
	var (
		ep                   Endpoint
		source               sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&ep.ID, &ep.Name, &ep.Host, &ep.PathPattern, &ep.Method,
		&source, &ep.Compiled, &ep.Enabled, &createdAt, &updatedAt); err != nil {
		return Endpoint{}, err
	}
	if source.Valid {
		ep.Source = &source.String
	}
	ep.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	ep.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return ep, nil
}

func iso(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
