package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GoCodeAlone/topology/platform"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgreSQL schema adapted from the SQLite migration.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS topology_resources (
    topology       TEXT  NOT NULL,
    name           TEXT  NOT NULL,
    type           TEXT  NOT NULL DEFAULT '',
    provider_id    TEXT  NOT NULL DEFAULT '',
    endpoint       TEXT  NOT NULL DEFAULT '',
    credential_ref TEXT  NOT NULL DEFAULT '',
    properties     JSONB NOT NULL DEFAULT '{}',
    status         TEXT  NOT NULL DEFAULT 'pending',
    last_synced    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    digest         TEXT  NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (topology, name)
);

CREATE TABLE IF NOT EXISTS topology_runs (
    id          TEXT PRIMARY KEY,
    topology    TEXT NOT NULL,
    provider    TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT 'pending',
    created     INTEGER NOT NULL DEFAULT 0,
    reused      INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_pg_resources_topology ON topology_resources (topology);
CREATE INDEX IF NOT EXISTS idx_pg_runs_topology ON topology_runs (topology, started_at);
`

// PostgresStore implements platform.StateStore using a PostgreSQL database.
// Locks use PostgreSQL session advisory locks.
type PostgresStore struct {
	db *sql.DB
}

var (
	_ platform.StateStore  = (*PostgresStore)(nil)
	_ platform.Locker      = (*PostgresStore)(nil)
	_ platform.RunRecorder = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new PostgreSQL-backed state store. The dsn
// parameter is a PostgreSQL connection string.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresMigration); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// SaveResource persists the state of a resource within a topology.
func (s *PostgresStore) SaveResource(ctx context.Context, topology string, output *platform.ResourceOutput) error {
	props, err := json.Marshal(output.Properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topology_resources (topology, name, type, provider_id, endpoint, credential_ref, properties, status, last_synced, digest, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (topology, name) DO UPDATE SET
			type = EXCLUDED.type,
			provider_id = EXCLUDED.provider_id,
			endpoint = EXCLUDED.endpoint,
			credential_ref = EXCLUDED.credential_ref,
			properties = EXCLUDED.properties,
			status = EXCLUDED.status,
			last_synced = EXCLUDED.last_synced,
			digest = EXCLUDED.digest,
			updated_at = NOW()
	`, topology, output.Name, output.Type, output.ID, output.Endpoint, output.CredentialRef,
		props, string(output.Status), output.LastSynced.UTC(), output.Digest)
	return err
}

// GetResource retrieves a resource's state by topology and resource name.
func (s *PostgresStore) GetResource(ctx context.Context, topology, resourceName string) (*platform.ResourceOutput, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, type, provider_id, endpoint, credential_ref, properties, status, last_synced, digest
		FROM topology_resources
		WHERE topology = $1 AND name = $2
	`, topology, resourceName)
	r, err := scanPostgresResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &platform.ResourceNotFoundError{Name: resourceName}
	}
	return r, err
}

// ListResources returns all resources in a topology.
func (s *PostgresStore) ListResources(ctx context.Context, topology string) ([]*platform.ResourceOutput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, type, provider_id, endpoint, credential_ref, properties, status, last_synced, digest
		FROM topology_resources
		WHERE topology = $1
		ORDER BY name
	`, topology)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resources []*platform.ResourceOutput
	for rows.Next() {
		r, err := scanPostgresResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// DeleteResource removes a resource from state.
func (s *PostgresStore) DeleteResource(ctx context.Context, topology, resourceName string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM topology_resources WHERE topology = $1 AND name = $2
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
func (s *PostgresStore) SaveRun(ctx context.Context, run *platform.Run) error {
	var finished *time.Time
	if !run.FinishedAt.IsZero() {
		t := run.FinishedAt.UTC()
		finished = &t
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topology_runs (id, topology, provider, status, created, reused, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			created = EXCLUDED.created,
			reused = EXCLUDED.reused,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`, run.ID, run.Topology, run.Provider, string(run.Status), run.Created, run.Reused, run.Error,
		run.StartedAt.UTC(), finished)
	return err
}

// ListRuns returns a topology's runs, most recent first.
func (s *PostgresStore) ListRuns(ctx context.Context, topology string, limit int) ([]*platform.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topology, provider, status, created, reused, error, started_at, finished_at
		FROM topology_runs
		WHERE topology = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, topology, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*platform.Run
	for rows.Next() {
		var r platform.Run
		var status string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Topology, &r.Provider, &status, &r.Created, &r.Reused, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		r.Status = platform.ResourceStatus(status)
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Lock takes a session advisory lock keyed by the topology name. The lock
// lives as long as the dedicated connection, so ttl is not used.
func (s *PostgresStore) Lock(ctx context.Context, topology string, _ time.Duration) (platform.LockHandle, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	lockID := hashTopology(topology)
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		conn.Close()
		return nil, err
	}
	if !acquired {
		conn.Close()
		return nil, &platform.LockConflictError{Topology: topology}
	}
	return &postgresLockHandle{conn: conn, lockID: lockID}, nil
}

type postgresLockHandle struct {
	conn   *sql.Conn
	lockID int64
}

// Unlock releases the advisory lock and its connection.
func (h *postgresLockHandle) Unlock(ctx context.Context) error {
	defer h.conn.Close()
	_, err := h.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, h.lockID)
	return err
}

// hashTopology produces a stable int64 hash for advisory lock use.
func hashTopology(name string) int64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(name); i++ {
		h ^= uint64(name[i])
		h *= 1099511628211 // FNV prime
	}
	return int64(h & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}

func scanPostgresResource(s scanner) (*platform.ResourceOutput, error) {
	var r platform.ResourceOutput
	var propsJSON []byte
	var status string
	if err := s.Scan(&r.Name, &r.Type, &r.ID, &r.Endpoint, &r.CredentialRef, &propsJSON, &status, &r.LastSynced, &r.Digest); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(propsJSON, &r.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	r.Status = platform.ResourceStatus(status)
	return &r, nil
}
