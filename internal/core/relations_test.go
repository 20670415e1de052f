package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"graphcore/internal/core"
	"graphcore/pkg/domain"
)

func TestCollectionLoadsInSortOrder(t *testing.T) {
	tx := newRoot(t, seededStore())
	customer := mustGet(t, tx, customerA)
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, mustOrders(t, tx, customer)); diff != "" {
		t.Fatalf("orders mismatch (-want +got):\n%s", diff)
	}
	ep, ok := tx.DataManager().RelationEndPoints().Get(domain.NewRelationEndPointID(customerA, "Customer.Orders"))
	if !ok {
		t.Fatalf("expected collection end point to be registered")
	}
	if c := ep.(*core.CollectionEndPoint); c.LoadState() != domain.LoadComplete {
		t.Fatalf("expected complete end point, got %s", c.LoadState())
	}
}

func TestSetRelatedObjectUpdatesEveryEndPoint(t *testing.T) {
	rec := &recorder{}
	tx := newRoot(t, seededStore(), core.WithListener(rec))
	ctx := context.Background()
	order := mustGet(t, tx, order1)
	oldCustomer := mustGet(t, tx, customerA)
	newCustomer := mustGet(t, tx, customerB)
	mustOrders(t, tx, oldCustomer)
	mustOrders(t, tx, newCustomer)
	rec.reset()

	if err := tx.SetRelatedObject(ctx, order, "Customer", newCustomer); err != nil {
		t.Fatalf("set related: %v", err)
	}
	want := []string{
		"relation changing o-1.Customer c-a->c-b",
		"relation changing c-a.Orders o-1->nil",
		"relation changing c-b.Orders nil->o-1",
		"relation changed o-1.Customer",
		"relation changed c-a.Orders",
		"relation changed c-b.Orders",
	}
	if diff := cmp.Diff(want, rec.trace()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if got := mustRelated(t, tx, order, "Customer"); got != newCustomer {
		t.Fatalf("expected customer B, got %v", got)
	}
	if orig, _ := tx.GetOriginalRelatedObject(ctx, order, "Customer"); orig != oldCustomer {
		t.Fatalf("expected original customer A, got %v", orig)
	}
	if diff := cmp.Diff([]domain.ObjectID{order2}, mustOrders(t, tx, oldCustomer)); diff != "" {
		t.Fatalf("old customer orders (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]domain.ObjectID{order3, order1}, mustOrders(t, tx, newCustomer)); diff != "" {
		t.Fatalf("new customer orders (-want +got):\n%s", diff)
	}
	for _, obj := range []*core.DomainObject{order, oldCustomer, newCustomer} {
		if tx.ObjectState(obj) != domain.StateChanged {
			t.Fatalf("expected %s to be changed, got %s", obj, tx.ObjectState(obj))
		}
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := mustRelated(t, tx, order, "Customer"); got != oldCustomer {
		t.Fatalf("rollback should restore customer A, got %v", got)
	}
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, mustOrders(t, tx, oldCustomer)); diff != "" {
		t.Fatalf("rolled back orders (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]domain.ObjectID{order3}, mustOrders(t, tx, newCustomer)); diff != "" {
		t.Fatalf("rolled back orders (-want +got):\n%s", diff)
	}
}

func TestRelationVetoLeavesEveryEndPointUntouched(t *testing.T) {
	errVeto := errors.New("veto")
	rec := &recorder{veto: func(event string) error {
		if event == "relation changing c-b.Orders nil->o-1" {
			return errVeto
		}
		return nil
	}}
	tx := newRoot(t, seededStore(), core.WithListener(rec))
	ctx := context.Background()
	order := mustGet(t, tx, order1)
	customer := mustGet(t, tx, customerA)

	if err := tx.SetRelatedObject(ctx, order, "Customer", mustGet(t, tx, customerB)); !errors.Is(err, errVeto) {
		t.Fatalf("expected veto, got %v", err)
	}
	if got := mustRelated(t, tx, order, "Customer"); got != customer {
		t.Fatalf("vetoed change applied: %v", got)
	}
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, mustOrders(t, tx, customer)); diff != "" {
		t.Fatalf("orders changed after veto (-want +got):\n%s", diff)
	}
	if tx.HasChanged() {
		t.Fatalf("veto must leave the transaction unchanged")
	}
}

func TestOneToOneMovesTheRelatedObject(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	first := mustGet(t, tx, order1)
	second := mustGet(t, tx, order2)
	ticket := mustGet(t, tx, ticket1)

	if got := mustRelated(t, tx, first, "Ticket"); got != ticket {
		t.Fatalf("expected order 1 to hold the ticket, got %v", got)
	}
	if err := tx.SetRelatedObject(ctx, second, "Ticket", ticket); err != nil {
		t.Fatalf("set ticket: %v", err)
	}
	if got := mustRelated(t, tx, second, "Ticket"); got != ticket {
		t.Fatalf("expected order 2 to hold the ticket, got %v", got)
	}
	if got := mustRelated(t, tx, first, "Ticket"); got != nil {
		t.Fatalf("expected order 1 to lose the ticket, got %v", got)
	}
	if got := mustRelated(t, tx, ticket, "Order"); got != second {
		t.Fatalf("expected ticket to point at order 2, got %v", got)
	}

	if err := tx.SetRelatedObject(ctx, ticket, "Order", nil); err != nil {
		t.Fatalf("clear ticket order: %v", err)
	}
	if got := mustRelated(t, tx, second, "Ticket"); got != nil {
		t.Fatalf("expected order 2 to lose the ticket, got %v", got)
	}
}

func TestCollectionOperationsMoveItemsBetweenOwners(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	a := mustGet(t, tx, customerA)
	b := mustGet(t, tx, customerB)
	o1 := mustGet(t, tx, order1)
	o3 := mustGet(t, tx, order3)

	if err := tx.InsertRelatedObject(ctx, b, "Orders", 0, o1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order1, order3}, mustOrders(t, tx, b)); diff != "" {
		t.Fatalf("orders of B (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]domain.ObjectID{order2}, mustOrders(t, tx, a)); diff != "" {
		t.Fatalf("orders of A (-want +got):\n%s", diff)
	}
	if got := mustRelated(t, tx, o1, "Customer"); got != b {
		t.Fatalf("expected order 1 to follow, got %v", got)
	}

	if err := tx.ReplaceRelatedObject(ctx, a, "Orders", 0, o3); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order3}, mustOrders(t, tx, a)); diff != "" {
		t.Fatalf("orders of A after replace (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]domain.ObjectID{order1}, mustOrders(t, tx, b)); diff != "" {
		t.Fatalf("orders of B after replace (-want +got):\n%s", diff)
	}
	o2 := mustGet(t, tx, order2)
	if got := mustRelated(t, tx, o2, "Customer"); got != nil {
		t.Fatalf("replaced order should lose its customer, got %v", got)
	}

	err := tx.Commit(ctx)
	var mandatory domain.MandatoryRelationNotSetError
	if !errors.As(err, &mandatory) || mandatory.ID != order2 {
		t.Fatalf("expected order 2 to fail mandatory validation, got %v", err)
	}

	if err := tx.AddRelatedObject(ctx, b, "Orders", o2); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx.RemoveRelatedObject(ctx, b, "Orders", o3); err != nil {
		t.Fatalf("removing a non-member should do nothing: %v", err)
	}
	if err := tx.AddRelatedObject(ctx, b, "Orders", o2); !errors.As(err, new(domain.ArgumentError)) {
		t.Fatalf("adding twice should fail, got %v", err)
	}
	if err := tx.AddRelatedObject(ctx, b, "Orders", a); !errors.As(err, new(domain.ArgumentError)) {
		t.Fatalf("adding the wrong class should fail, got %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestAssociatedCollectionWritesThroughTheRelation(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	b := mustGet(t, tx, customerB)
	o1 := mustGet(t, tx, order1)

	orders, err := tx.GetRelatedObjects(ctx, b, "Orders")
	if err != nil {
		t.Fatalf("get orders: %v", err)
	}
	if !orders.IsAssociated() {
		t.Fatalf("expected an associated collection")
	}
	if err := orders.Add(ctx, o1); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := mustRelated(t, tx, o1, "Customer"); got != b {
		t.Fatalf("expected order 1 to move to B, got %v", got)
	}
	if err := orders.Remove(ctx, o1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := mustRelated(t, tx, o1, "Customer"); got != nil {
		t.Fatalf("expected order 1 to lose its customer, got %v", got)
	}

	original, err := tx.GetOriginalRelatedObjects(ctx, b, "Orders")
	if err != nil {
		t.Fatalf("original orders: %v", err)
	}
	if !original.IsReadOnly() || original.Len() != 1 {
		t.Fatalf("expected a read-only original view with one item, got %v", original.IDs())
	}
	if err := original.Add(ctx, o1); !errors.As(err, new(domain.InvalidOperationError)) {
		t.Fatalf("expected read-only collection error, got %v", err)
	}
}

func TestSetRelatedObjectsReplacesTheCollection(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	a := mustGet(t, tx, customerA)
	b := mustGet(t, tx, customerB)
	o1 := mustGet(t, tx, order1)
	o2 := mustGet(t, tx, order2)
	o3 := mustGet(t, tx, order3)
	previous, err := tx.GetRelatedObjects(ctx, a, "Orders")
	if err != nil {
		t.Fatalf("get orders: %v", err)
	}

	replacement, err := core.NewDomainObjectCollection("", o3, o2)
	if err != nil {
		t.Fatalf("new collection: %v", err)
	}
	if err := tx.SetRelatedObjects(ctx, a, "Orders", replacement); err != nil {
		t.Fatalf("set related objects: %v", err)
	}
	current, _ := tx.GetRelatedObjects(ctx, a, "Orders")
	if current != replacement || !replacement.IsAssociated() {
		t.Fatalf("expected the replacement to become the associated collection")
	}
	if diff := cmp.Diff([]domain.ObjectID{order3, order2}, replacement.IDs()); diff != "" {
		t.Fatalf("orders mismatch (-want +got):\n%s", diff)
	}
	if previous.IsAssociated() {
		t.Fatalf("the previous collection should be stand-alone")
	}
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, previous.IDs()); diff != "" {
		t.Fatalf("previous collection keeps its items (-want +got):\n%s", diff)
	}
	if got := mustRelated(t, tx, o1, "Customer"); got != nil {
		t.Fatalf("order 1 should lose its customer, got %v", got)
	}
	if got := mustRelated(t, tx, o3, "Customer"); got != a {
		t.Fatalf("order 3 should move to A, got %v", got)
	}
	if len(mustOrders(t, tx, b)) != 0 {
		t.Fatalf("B should have no orders left")
	}
	if err := tx.SetRelatedObjects(ctx, b, "Orders", replacement); !errors.As(err, new(domain.ArgumentError)) {
		t.Fatalf("an associated collection cannot be reused, got %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	restored, err := tx.GetRelatedObjects(ctx, a, "Orders")
	if err != nil {
		t.Fatalf("get orders after rollback: %v", err)
	}
	if restored != previous || !previous.IsAssociated() || replacement.IsAssociated() {
		t.Fatalf("rollback should re-associate the original collection")
	}
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, mustOrders(t, tx, a)); diff != "" {
		t.Fatalf("rolled back orders of A (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]domain.ObjectID{order3}, mustOrders(t, tx, b)); diff != "" {
		t.Fatalf("rolled back orders of B (-want +got):\n%s", diff)
	}
}

func TestSetRelatedObjectsCommittedFromSubRollsBackInParent(t *testing.T) {
	root := newRoot(t, seededStore())
	ctx := context.Background()
	a := mustGet(t, root, customerA)
	o2 := mustGet(t, root, order2)
	o3 := mustGet(t, root, order3)
	previous, err := root.GetRelatedObjects(ctx, a, "Orders")
	if err != nil {
		t.Fatalf("get orders: %v", err)
	}

	sub, err := root.CreateSubTransaction()
	if err != nil {
		t.Fatalf("create sub: %v", err)
	}
	replacement, err := core.NewDomainObjectCollection("", o3, o2)
	if err != nil {
		t.Fatalf("new collection: %v", err)
	}
	if err := sub.SetRelatedObjects(ctx, a, "Orders", replacement); err != nil {
		t.Fatalf("set related objects in sub: %v", err)
	}
	if err := sub.Commit(ctx); err != nil {
		t.Fatalf("commit sub: %v", err)
	}
	if err := sub.Discard(); err != nil {
		t.Fatalf("discard sub: %v", err)
	}

	current, _ := root.GetRelatedObjects(ctx, a, "Orders")
	if current != previous {
		t.Fatalf("the parent keeps its own collection reference")
	}
	if diff := cmp.Diff([]domain.ObjectID{order3, order2}, current.IDs()); diff != "" {
		t.Fatalf("committed orders of A (-want +got):\n%s", diff)
	}

	if err := root.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	restored, err := root.GetRelatedObjects(ctx, a, "Orders")
	if err != nil {
		t.Fatalf("get orders after rollback: %v", err)
	}
	if restored != previous || !previous.IsAssociated() {
		t.Fatalf("rollback should keep the original collection associated")
	}
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, restored.IDs()); diff != "" {
		t.Fatalf("rolled back orders of A (-want +got):\n%s", diff)
	}
	if got := mustRelated(t, root, o3, "Customer"); got != mustGet(t, root, customerB) {
		t.Fatalf("order 3 should be back with B, got %v", got)
	}
}

func TestStandAloneCollection(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	o1 := mustGet(t, tx, order1)
	o2 := mustGet(t, tx, order2)
	c := mustGet(t, tx, customerA)

	coll, err := core.NewDomainObjectCollection("Order", o1)
	if err != nil {
		t.Fatalf("new collection: %v", err)
	}
	if err := coll.Insert(ctx, 0, o2); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := coll.Add(ctx, c); !errors.As(err, new(domain.ArgumentError)) {
		t.Fatalf("expected class check, got %v", err)
	}
	if err := coll.Add(ctx, o1); !errors.As(err, new(domain.ArgumentError)) {
		t.Fatalf("expected duplicate check, got %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, coll.IDs()); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	clone := coll.Clone()
	if err := coll.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if coll.Len() != 0 || clone.Len() != 2 {
		t.Fatalf("clone should be independent, got %d and %d", coll.Len(), clone.Len())
	}
	if _, err := core.NewDomainObjectCollection("Order", o1, o1); err == nil {
		t.Fatalf("expected duplicate items to be rejected")
	}
}

func TestRelationCommandExpandsToOppositeEndPoints(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	mustGet(t, tx, order1)
	b := mustGet(t, tx, customerB)

	manager := tx.DataManager().RelationEndPoints()
	ep, _ := manager.Get(domain.NewRelationEndPointID(order1, "Order.Customer"))
	cmd, err := manager.CreateSetCommand(ep, b)
	if err != nil {
		t.Fatalf("create set command: %v", err)
	}
	if cmd.Len() != 1 {
		t.Fatalf("unexpanded command should hold one step, got %d", cmd.Len())
	}
	expanded, err := cmd.ExpandToAllRelatedObjects(ctx)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []domain.RelationEndPointID{
		domain.NewRelationEndPointID(order1, "Order.Customer"),
		domain.NewRelationEndPointID(customerA, "Customer.Orders"),
		domain.NewRelationEndPointID(customerB, "Customer.Orders"),
	}
	if diff := cmp.Diff(want, expanded.AffectedEndPointIDs()); diff != "" {
		t.Fatalf("affected end points (-want +got):\n%s", diff)
	}
	if tx.HasChanged() {
		t.Fatalf("expanding must not change data")
	}
	if err := expanded.NotifyAndPerform(); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order3, order1}, mustOrders(t, tx, b)); diff != "" {
		t.Fatalf("orders of B (-want +got):\n%s", diff)
	}
}
