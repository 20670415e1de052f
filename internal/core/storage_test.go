package core_test

import (
	"context"
	"path/filepath"
	"testing"

	"graphcore/internal/core"
	"graphcore/internal/infra/persistence/memory"
	"graphcore/internal/infra/persistence/sqlite"
)

func TestOpenStorageProviderSelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("GRAPHCORE_STORAGE_DRIVER", "")
	p, err := core.OpenStorageProvider(ctx)
	if err != nil {
		t.Fatalf("default driver: %v", err)
	}
	if _, ok := p.(*memory.Store); !ok {
		t.Fatalf("expected memory store by default, got %T", p)
	}

	t.Setenv("GRAPHCORE_STORAGE_DRIVER", string(core.StorageSQLite))
	t.Setenv("GRAPHCORE_SQLITE_PATH", filepath.Join(t.TempDir(), "graph.db"))
	p, err = core.OpenStorageProvider(ctx)
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	s, ok := p.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected sqlite store, got %T", p)
	}
	t.Cleanup(func() { _ = s.Close() })

	t.Setenv("GRAPHCORE_STORAGE_DRIVER", "carrier-pigeon")
	if _, err := core.OpenStorageProvider(ctx); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

func TestTransactionCommitsThroughSQLiteProvider(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")
	store, err := sqlite.NewStore(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	tx := newRoot(t, store)
	customer, err := tx.NewObject(ctx, "Customer")
	if err != nil {
		t.Fatalf("new customer: %v", err)
	}
	created, err := tx.NewObject(ctx, "Order")
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	if err := tx.SetValue(ctx, created, "Number", 7); err != nil {
		t.Fatalf("set number: %v", err)
	}
	if err := tx.AddRelatedObject(ctx, customer, "Orders", created); err != nil {
		t.Fatalf("add order: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := sqlite.NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	again := newRoot(t, reopened)
	orders := mustOrders(t, again, mustGet(t, again, customer.ID()))
	if len(orders) != 1 || orders[0] != created.ID() {
		t.Fatalf("expected the committed order after reopen, got %v", orders)
	}
	if v, _ := again.GetValue(ctx, mustGet(t, again, created.ID()), "Number"); v != int64(7) {
		t.Fatalf("expected number 7, got %v", v)
	}
}
