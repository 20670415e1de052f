// Package postgres provides a Postgres-backed storage provider that mirrors
// the in-memory semantics and writes every saved batch through to a records
// table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"graphcore/internal/infra/persistence/memory"
	"graphcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.StorageProvider = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/graphcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists records to Postgres while reusing the in-memory provider for
// lookups and optimistic concurrency checks.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using dsn (defaultDSN when empty),
// ensures the records table exists and hydrates the working set from it.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS records (
		object_id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		ts BIGINT NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure records table: %w", err)
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT object_id, ts, payload FROM records`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	for rows.Next() {
		var (
			rawID   string
			ts      int64
			payload []byte
		)
		if err := rows.Scan(&rawID, &ts, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan records: %w", err)
		}
		id, err := domain.ParseObjectID(rawID)
		if err != nil {
			return memory.Snapshot{}, fmt.Errorf("stored object id: %w", err)
		}
		r, err := memory.DecodeRecord(id, ts, payload)
		if err != nil {
			return memory.Snapshot{}, err
		}
		snapshot.Records = append(snapshot.Records, r)
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate records: %w", err)
	}
	return snapshot, nil
}

// Save applies batch to the working set and to Postgres atomically.
func (s *Store) Save(ctx context.Context, batch []domain.PersistableData) (map[domain.ObjectID]int64, error) {
	return s.SaveWithHook(ctx, batch, s.write)
}

func (s *Store) write(ctx context.Context, changes memory.Changes) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, r := range changes.Upserts {
		payload, err := memory.EncodeRecord(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (object_id, class_id, ts, payload) VALUES ($1,$2,$3,$4) ON CONFLICT (object_id) DO UPDATE SET ts=EXCLUDED.ts, payload=EXCLUDED.payload`,
			r.ID.String(), r.ID.ClassID, r.Timestamp, string(payload)); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	for _, id := range changes.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE object_id=$1`, id.String()); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
