// Package sqlite provides a SQLite-backed storage provider. Records live in a
// single table keyed by object id; the in-memory provider serves reads and
// every saved batch is written through inside one SQL transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"graphcore/internal/infra/persistence/memory"
	"graphcore/pkg/domain"
)

var _ domain.StorageProvider = (*Store)(nil)

const defaultPath = "graphcore.db"

// Store persists records to SQLite while reusing the in-memory provider for
// lookups and optimistic concurrency checks.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (or creates) the database at path and hydrates the working
// set from it.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS records (
		object_id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create records table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT object_id, ts, payload FROM records`)
	if err != nil {
		return fmt.Errorf("select records: %w", err)
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
			return fmt.Errorf("scan: %w", err)
		}
		id, err := domain.ParseObjectID(rawID)
		if err != nil {
			return fmt.Errorf("stored object id: %w", err)
		}
		r, err := memory.DecodeRecord(id, ts, payload)
		if err != nil {
			return err
		}
		snapshot.Records = append(snapshot.Records, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// Save applies batch to the working set and the database atomically: when the
// SQL transaction fails the working set is left untouched.
func (s *Store) Save(ctx context.Context, batch []domain.PersistableData) (map[domain.ObjectID]int64, error) {
	return s.SaveWithHook(ctx, batch, s.write)
}

func (s *Store) write(ctx context.Context, changes memory.Changes) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, r := range changes.Upserts {
		payload, err := memory.EncodeRecord(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records(object_id, class_id, ts, payload) VALUES(?,?,?,?)
			ON CONFLICT(object_id) DO UPDATE SET ts=excluded.ts, payload=excluded.payload`,
			r.ID.String(), r.ID.ClassID, r.Timestamp, payload); err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	for _, id := range changes.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE object_id=?`, id.String()); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
