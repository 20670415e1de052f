package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"graphcore/internal/core"
	"graphcore/internal/infra/persistence/memory"
	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

var (
	customerA = domain.NewObjectID("Customer", "c-a")
	customerB = domain.NewObjectID("Customer", "c-b")
	order1    = domain.NewObjectID("Order", "o-1")
	order2    = domain.NewObjectID("Order", "o-2")
	order3    = domain.NewObjectID("Order", "o-3")
	ticket1   = domain.NewObjectID("Ticket", "t-1")
)

// shopMapping declares Customer 1:n Order (mandatory on the order side, the
// collection sorted by Number) and Order 1:1 Ticket.
func shopMapping(t *testing.T) *mapping.Configuration {
	t.Helper()
	cfg, err := mapping.NewBuilder().
		Class("Customer", mapping.Value("Name", domain.KindString)).
		Class("Order", mapping.Value("Number", domain.KindInt)).
		Class("Ticket", mapping.NullableValue("Code", domain.KindString)).
		Relation(mapping.RelationSpec{
			ID: "CustomerOrders", Class: "Order", Property: "Customer", Mandatory: true,
			OppositeClass: "Customer", OppositeProperty: "Orders",
			Cardinality: mapping.CardinalityMany, SortProperty: "Number",
		}).
		Relation(mapping.RelationSpec{
			ID: "OrderTicket", Class: "Ticket", Property: "Order",
			OppositeClass: "Order", OppositeProperty: "Ticket",
			Cardinality: mapping.CardinalityOne,
		}).
		Build()
	if err != nil {
		t.Fatalf("build mapping: %v", err)
	}
	return cfg
}

// seededStore holds two customers, three orders (two for customer A, one for
// B, stored out of Number order) and a ticket for order 1.
func seededStore() *memory.Store {
	store := memory.NewStore()
	store.Seed(
		domain.DataRecord{ID: customerA, Values: map[string]any{"Name": "Ada"}},
		domain.DataRecord{ID: customerB, Values: map[string]any{"Name": "Bob"}},
		domain.DataRecord{ID: order1, Values: map[string]any{"Number": int64(20), "Customer": customerA}},
		domain.DataRecord{ID: order2, Values: map[string]any{"Number": int64(10), "Customer": customerA}},
		domain.DataRecord{ID: order3, Values: map[string]any{"Number": int64(30), "Customer": customerB}},
		domain.DataRecord{ID: ticket1, Values: map[string]any{"Code": "T1", "Order": order1}},
	)
	return store
}

func newRoot(t *testing.T, store domain.StorageProvider, opts ...core.Option) *core.ClientTransaction {
	t.Helper()
	opts = append([]core.Option{core.WithMapping(shopMapping(t)), core.WithStorage(store)}, opts...)
	tx, err := core.NewRootTransaction(opts...)
	if err != nil {
		t.Fatalf("new root transaction: %v", err)
	}
	return tx
}

func mustGet(t *testing.T, tx *core.ClientTransaction, id domain.ObjectID) *core.DomainObject {
	t.Helper()
	obj, err := tx.GetObject(context.Background(), id, false)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return obj
}

func mustOrders(t *testing.T, tx *core.ClientTransaction, customer *core.DomainObject) []domain.ObjectID {
	t.Helper()
	c, err := tx.GetRelatedObjects(context.Background(), customer, "Orders")
	if err != nil {
		t.Fatalf("orders of %s: %v", customer, err)
	}
	return c.IDs()
}

func mustRelated(t *testing.T, tx *core.ClientTransaction, obj *core.DomainObject, prop string) *core.DomainObject {
	t.Helper()
	related, err := tx.GetRelatedObject(context.Background(), obj, prop)
	if err != nil {
		t.Fatalf("related %s of %s: %v", prop, obj, err)
	}
	return related
}

// recorder captures a compact trace of the events it sees. veto, when set,
// is consulted for every -ing event.
type recorder struct {
	core.ListenerBase
	mu     sync.Mutex
	events []string
	veto   func(event string) error
}

func (r *recorder) add(event string) error {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if r.veto != nil {
		return r.veto(event)
	}
	return nil
}

func (r *recorder) trace() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

func (r *recorder) ObjectsLoading(_ *core.ClientTransaction, ids []domain.ObjectID) error {
	return r.add(fmt.Sprintf("loading %d", len(ids)))
}

func (r *recorder) ObjectsLoaded(_ *core.ClientTransaction, objects []*core.DomainObject) error {
	return r.add(fmt.Sprintf("loaded %d", len(objects)))
}

func (r *recorder) PropertyValueChanging(_ *core.ClientTransaction, obj *core.DomainObject, prop *mapping.PropertyDefinition, oldValue, newValue any) error {
	return r.add(fmt.Sprintf("changing %s.%s %v->%v", obj.ID().Value, prop.Name, oldValue, newValue))
}

func (r *recorder) PropertyValueChanged(_ *core.ClientTransaction, obj *core.DomainObject, prop *mapping.PropertyDefinition, oldValue, newValue any) error {
	return r.add(fmt.Sprintf("changed %s.%s", obj.ID().Value, prop.Name))
}

func (r *recorder) RelationChanging(_ *core.ClientTransaction, obj *core.DomainObject, def *mapping.RelationEndPointDefinition, oldRelated, newRelated *core.DomainObject) error {
	return r.add(fmt.Sprintf("relation changing %s.%s %s->%s", obj.ID().Value, def.PropertyName, short(oldRelated), short(newRelated)))
}

func (r *recorder) RelationChanged(_ *core.ClientTransaction, obj *core.DomainObject, def *mapping.RelationEndPointDefinition, oldRelated, newRelated *core.DomainObject) error {
	return r.add(fmt.Sprintf("relation changed %s.%s", obj.ID().Value, def.PropertyName))
}

func (r *recorder) TransactionCommitting(_ *core.ClientTransaction, objects []*core.DomainObject) error {
	return r.add(fmt.Sprintf("committing %d", len(objects)))
}

func (r *recorder) TransactionCommitted(_ *core.ClientTransaction, objects []*core.DomainObject) error {
	return r.add(fmt.Sprintf("committed %d", len(objects)))
}

func (r *recorder) TransactionRollingBack(_ *core.ClientTransaction, objects []*core.DomainObject) error {
	return r.add(fmt.Sprintf("rolling back %d", len(objects)))
}

func (r *recorder) TransactionRolledBack(_ *core.ClientTransaction, objects []*core.DomainObject) error {
	return r.add(fmt.Sprintf("rolled back %d", len(objects)))
}

func short(obj *core.DomainObject) string {
	if obj == nil {
		return "nil"
	}
	return obj.ID().Value
}

// countingStore counts the storage calls that load objects by id.
type countingStore struct {
	*memory.Store
	mu          sync.Mutex
	recordCalls int
	bulkCalls   int
}

func (s *countingStore) LoadRecord(ctx context.Context, id domain.ObjectID) (domain.DataRecord, error) {
	s.mu.Lock()
	s.recordCalls++
	s.mu.Unlock()
	return s.Store.LoadRecord(ctx, id)
}

func (s *countingStore) LoadRecords(ctx context.Context, ids []domain.ObjectID) ([]domain.LookupResult, error) {
	s.mu.Lock()
	s.bulkCalls++
	s.mu.Unlock()
	return s.Store.LoadRecords(ctx, ids)
}
