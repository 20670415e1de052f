package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"graphcore/internal/infra/persistence/memory"
	"graphcore/internal/infra/persistence/postgres"
	"graphcore/internal/infra/persistence/postgres/testutil"
	"graphcore/pkg/domain"
)

func stubStore(t *testing.T) (*postgres.Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := postgres.NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, conn
}

func TestPostgresStoreCreatesTableAndWritesThrough(t *testing.T) {
	ctx := context.Background()
	store, conn := stubStore(t)
	if len(conn.Execs) == 0 || !strings.Contains(conn.Execs[0], "CREATE TABLE IF NOT EXISTS records") {
		t.Fatalf("expected records table ddl, got %v", conn.Execs)
	}

	id := domain.NewObjectID("Order", "o1")
	stamps, err := store.Save(ctx, []domain.PersistableData{{
		State:  domain.StateNew,
		Record: domain.DataRecord{ID: id, Values: map[string]any{"Number": int64(3)}},
	}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	rows := conn.Tables["records"]
	if len(rows) != 1 || rows[0]["object_id"] != "Order|o1" || rows[0]["ts"] != stamps[id] {
		t.Fatalf("unexpected rows %v", rows)
	}
	if conn.Commits != 1 {
		t.Fatalf("expected one commit, got %d", conn.Commits)
	}
}

func TestPostgresStoreHydratesFromRecords(t *testing.T) {
	db, conn := testutil.NewStubDB()
	payload, err := memory.EncodeRecord(domain.DataRecord{Values: map[string]any{"Number": int64(9)}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	conn.Tables["records"] = []map[string]any{{"object_id": "Order|o9", "ts": int64(5), "payload": string(payload)}}
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := postgres.NewStore(context.Background(), "postgres://example")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	got, err := store.LoadRecord(context.Background(), domain.NewObjectID("Order", "o9"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Timestamp != 5 || got.Values["Number"] != int64(9) {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestPostgresStoreKeepsWorkingSetOnCommitFailure(t *testing.T) {
	ctx := context.Background()
	store, conn := stubStore(t)
	conn.FailCommit = true
	_, err := store.Save(ctx, []domain.PersistableData{{
		State:  domain.StateNew,
		Record: domain.DataRecord{ID: domain.NewObjectID("Order", "o1"), Values: map[string]any{}},
	}})
	if err == nil {
		t.Fatal("expected commit failure")
	}
	if store.Len() != 0 {
		t.Fatalf("expected working set untouched, got %d records", store.Len())
	}
}

func TestPostgresStoreOpenErrors(t *testing.T) {
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	if _, err := postgres.NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open error, got %v", err)
	}

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore2 := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore2()
	if _, err := postgres.NewStore(context.Background(), ""); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping error, got %v", err)
	}
}
