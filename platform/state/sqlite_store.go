// Package state provides persistent platform.StateStore implementations.
// It includes an in-memory store for tests and dry runs, SQLite for local
// use and PostgreSQL for shared deployments.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/topology/platform"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial.sql
var sqliteMigration string

// SQLiteStore implements platform.StateStore using an SQLite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // process-level lock for advisory lock emulation
}

var (
	_ platform.StateStore  = (*SQLiteStore)(nil)
	_ platform.Locker      = (*SQLiteStore)(nil)
	_ platform.RunRecorder = (*SQLiteStore)(nil)
)

// NewSQLiteStore creates a new SQLite-backed state store. The dsn parameter
// is the path to the SQLite database file. Use ":memory:" for an in-memory
// database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Limit to one open connection to serialize writes and avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if _, err := db.Exec(sqliteMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResource persists the state of a resource within a topology.
func (s *SQLiteStore) SaveResource(ctx context.Context, topology string, output *platform.ResourceOutput) error {
	props, err := json.Marshal(output.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topology_resources (topology, name, type, provider_id, endpoint, credential_ref, properties, status, last_synced, digest, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (topology, name) DO UPDATE SET
			type = excluded.type,
			provider_id = excluded.provider_id,
			endpoint = excluded.endpoint,
			credential_ref = excluded.credential_ref,
			properties = excluded.properties,
			status = excluded.status,
			last_synced = excluded.last_synced,
			digest = excluded.digest,
			updated_at = datetime('now')
	`, topology, output.Name, output.Type, output.ID, output.Endpoint, output.CredentialRef,
		string(props), string(output.Status), output.LastSynced.UTC().Format(time.RFC3339), output.Digest)
	return err
}

// GetResource retrieves a resource's state by topology and resource name.
func (s *SQLiteStore) GetResource(ctx context.Context, topology, resourceName string) (*platform.ResourceOutput, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, type, provider_id, endpoint, credential_ref, properties, status, last_synced, digest
		FROM topology_resources
		WHERE topology = ? AND name = ?
	`, topology, resourceName)

	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &platform.ResourceNotFoundError{Name: resourceName}
	}
	return r, err
}

// ListResources returns all resources in a topology.
func (s *SQLiteStore) ListResources(ctx context.Context, topology string) ([]*platform.ResourceOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, provider_id, endpoint, credential_ref, properties, status, last_synced, digest
		FROM topology_resources
		WHERE topology = ?
		ORDER BY name
	`, topology)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []*platform.ResourceOutput
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// DeleteResource removes a resource from state.
func (s *SQLiteStore) DeleteResource(ctx context.Context, topology, resourceName string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM topology_resources WHERE topology = ? AND name = ?
	`, topology, resourceName)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &platform.ResourceNotFoundError{Name: resourceName}
	}
	return nil
}

// SaveRun persists an apply record.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *platform.Run) error {
	var finished string
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topology_runs (id, topology, provider, status, created, reused, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			created = excluded.created,
			reused = excluded.reused,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, run.ID, run.Topology, run.Provider, string(run.Status), run.Created, run.Reused, run.Error,
		run.StartedAt.UTC().Format(time.RFC3339Nano), finished)
	return err
}

// ListRuns returns a topology's runs, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, topology string, limit int) ([]*platform.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topology, provider, status, created, reused, error, started_at, finished_at
		FROM topology_runs
		WHERE topology = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, topology, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*platform.Run
	for rows.Next() {
		var r platform.Run
		var status, started, finished string
		if err := rows.Scan(&r.ID, &r.Topology, &r.Provider, &status, &r.Created, &r.Reused, &r.Error, &started, &finished); err != nil {
			return nil, err
		}
		r.Status = platform.ResourceStatus(status)
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			r.FinishedAt = t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Lock acquires an advisory lock for a topology. SQLite advisory locks are
// emulated using a database row.
func (s *SQLiteStore) Lock(ctx context.Context, topology string, ttl time.Duration) (platform.LockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, _ = s.db.ExecContext(ctx, `DELETE FROM topology_locks WHERE expires_at < ?`, now.Format(time.RFC3339))

	holderID := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topology_locks (topology, holder, acquired_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, topology, holderID, now.Format(time.RFC3339), now.Add(ttl).Format(time.RFC3339))
	if err != nil {
		return nil, &platform.LockConflictError{Topology: topology}
	}
	return &sqliteLockHandle{db: s.db, topology: topology, holderID: holderID}, nil
}

type sqliteLockHandle struct {
	db       *sql.DB
	topology string
	holderID string
}

// Unlock releases the advisory lock.
func (h *sqliteLockHandle) Unlock(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `
		DELETE FROM topology_locks WHERE topology = ? AND holder = ?
	`, h.topology, h.holderID)
	return err
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanResource(s scanner) (*platform.ResourceOutput, error) {
	var r platform.ResourceOutput
	var propsJSON, statusStr, lastSyncedStr string

	if err := s.Scan(&r.Name, &r.Type, &r.ID, &r.Endpoint, &r.CredentialRef,
		&propsJSON, &statusStr, &lastSyncedStr, &r.Digest); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(propsJSON), &r.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	r.Status = platform.ResourceStatus(statusStr)
	if t, err := time.Parse(time.RFC3339, lastSyncedStr); err == nil {
		r.LastSynced = t
	}
	return &r, nil
}
