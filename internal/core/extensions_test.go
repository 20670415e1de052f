package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"graphcore/internal/core"
	"graphcore/pkg/domain"
)

type auditExtension struct {
	core.ListenerBase
	key     string
	created []string
	commits int
}

func (a *auditExtension) Key() string { return a.key }

func (a *auditExtension) NewObjectCreating(tx *core.ClientTransaction, classID string) error {
	kind := "root"
	if tx.Parent() != nil {
		kind = "sub"
	}
	a.created = append(a.created, kind+":"+classID)
	return nil
}

func (a *auditExtension) TransactionCommitted(*core.ClientTransaction, []*core.DomainObject) error {
	a.commits++
	return nil
}

func TestExtensionsSeeEveryTransactionOfTheHierarchy(t *testing.T) {
	audit := &auditExtension{key: "audit"}
	root := newRoot(t, seededStore(), core.WithExtension(audit))
	ctx := context.Background()
	customer := mustGet(t, root, customerA)

	if _, err := root.NewObject(ctx, "Customer"); err != nil {
		t.Fatalf("new in root: %v", err)
	}
	sub, err := root.CreateSubTransaction()
	if err != nil {
		t.Fatalf("create sub: %v", err)
	}
	created, err := sub.NewObject(ctx, "Order")
	if err != nil {
		t.Fatalf("new in sub: %v", err)
	}
	if err := sub.SetRelatedObject(ctx, created, "Customer", customer); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	if err := sub.Commit(ctx); err != nil {
		t.Fatalf("commit sub: %v", err)
	}
	if diff := cmp.Diff([]string{"root:Customer", "sub:Order"}, audit.created); diff != "" {
		t.Fatalf("created events (-want +got):\n%s", diff)
	}
	if audit.commits != 1 {
		t.Fatalf("expected one commit event, got %d", audit.commits)
	}
	if ext, ok := sub.Extensions().Get("audit"); !ok || ext != audit {
		t.Fatalf("sub should share the hierarchy's extensions")
	}
}

func TestExtensionCollectionKeepsOrderAndUniqueKeys(t *testing.T) {
	c := core.NewExtensionCollection()
	for _, key := range []string{"b", "c"} {
		if err := c.Add(&auditExtension{key: key}); err != nil {
			t.Fatalf("add %s: %v", key, err)
		}
	}
	if err := c.Insert(0, &auditExtension{key: "a"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, c.Keys()); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
	if err := c.Add(&auditExtension{key: "b"}); !errors.As(err, new(domain.ArgumentError)) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if err := c.Insert(9, &auditExtension{key: "z"}); !errors.As(err, new(domain.ArgumentError)) {
		t.Fatalf("expected index error, got %v", err)
	}
	if !c.Remove("b") || c.Remove("b") {
		t.Fatalf("remove should report whether the key existed")
	}
	if c.Len() != 2 || len(c.Listeners()) != 2 {
		t.Fatalf("expected two extensions, got %d/%d", c.Len(), len(c.Listeners()))
	}
}

func TestDuplicateExtensionsFailRootCreation(t *testing.T) {
	_, err := core.NewRootTransaction(
		core.WithMapping(shopMapping(t)),
		core.WithExtension(&auditExtension{key: "audit"}),
		core.WithExtension(&auditExtension{key: "audit"}),
	)
	if !errors.As(err, new(domain.ArgumentError)) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

type evenNumbersOnly struct{ core.ListenerBase }

func (evenNumbersOnly) FilterQueryResult(tx *core.ClientTransaction, result core.QueryResult) (core.QueryResult, error) {
	var kept []*core.DomainObject
	for _, obj := range result.Objects {
		v, err := tx.GetValue(context.Background(), obj, "Number")
		if err != nil {
			return core.QueryResult{}, err
		}
		if v.(int64)%20 == 0 {
			kept = append(kept, obj)
		}
	}
	result.Objects = kept
	return result, nil
}

func TestQueryCollectionLoadsAndFilters(t *testing.T) {
	ctx := context.Background()
	q := domain.Query{ID: "orders-of-a", ClassID: "Order", Filter: map[string]any{"Customer": customerA}, OrderBy: "Number"}

	tx := newRoot(t, seededStore())
	result, err := tx.QueryCollection(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, result.IDs()); diff != "" {
		t.Fatalf("query result (-want +got):\n%s", diff)
	}
	if result.Objects[1] != mustGet(t, tx, order1) {
		t.Fatalf("query results should be the transaction's objects")
	}

	if err := tx.Delete(ctx, result.Objects[0]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	result, err = tx.QueryCollection(ctx, q)
	if err != nil {
		t.Fatalf("second query: %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order1}, result.IDs()); diff != "" {
		t.Fatalf("deleted objects should be skipped (-want +got):\n%s", diff)
	}

	filtered := newRoot(t, seededStore(), core.WithListener(evenNumbersOnly{}))
	all := domain.Query{ID: "all-orders", ClassID: "Order", OrderBy: "-Number"}
	result, err = filtered.QueryCollection(ctx, all)
	if err != nil {
		t.Fatalf("filtered query: %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order1}, result.IDs()); diff != "" {
		t.Fatalf("filtered result (-want +got):\n%s", diff)
	}

	if _, err := tx.QueryCollection(ctx, domain.Query{ID: "bad", ClassID: "Unknown"}); err == nil {
		t.Fatalf("expected unknown class to fail")
	}
}
