package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"graphcore/internal/infra/persistence/sqlite"
	"graphcore/pkg/domain"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "graph.db")
	store := openStore(t, path)

	id := domain.NewObjectID("Order", "o1")
	placed := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	stamps, err := store.Save(ctx, []domain.PersistableData{{
		State: domain.StateNew,
		Record: domain.DataRecord{ID: id, Values: map[string]any{
			"Number":   int64(7),
			"Placed":   placed,
			"Customer": domain.NewObjectID("Customer", "c1"),
		}},
	}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}

	reopened := openStore(t, path)
	got, err := reopened.LoadRecord(ctx, id)
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if got.Timestamp != stamps[id] {
		t.Fatalf("expected timestamp %d, got %d", stamps[id], got.Timestamp)
	}
	if got.Values["Number"] != int64(7) || got.Values["Customer"] != domain.NewObjectID("Customer", "c1") {
		t.Fatalf("unexpected values %+v", got.Values)
	}
	if p, ok := got.Values["Placed"].(time.Time); !ok || !p.Equal(placed) {
		t.Fatalf("expected placed time to survive, got %v", got.Values["Placed"])
	}

	if _, err := reopened.Save(ctx, []domain.PersistableData{{State: domain.StateDeleted, Record: got, OriginalTimestamp: got.Timestamp}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	third := openStore(t, path)
	if _, err := third.LoadRecord(ctx, id); !errors.As(err, new(domain.ObjectNotFoundError)) {
		t.Fatalf("expected deleted record to stay deleted, got %v", err)
	}
}

func TestSQLiteStoreRejectsStaleUpdate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	store := openStore(t, path)
	id := domain.NewObjectID("Order", "o1")
	rec := domain.DataRecord{ID: id, Values: map[string]any{"Number": int64(1)}}
	if _, err := store.Save(ctx, []domain.PersistableData{{State: domain.StateNew, Record: rec}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	_, err := store.Save(ctx, []domain.PersistableData{{State: domain.StateChanged, Record: rec, OriginalTimestamp: 1}})
	if !errors.As(err, new(domain.ConcurrencyViolationError)) {
		t.Fatalf("expected concurrency violation, got %v", err)
	}
}
