package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"graphcore/internal/core"
	"graphcore/pkg/domain"
)

func TestNewRootTransactionRequiresMapping(t *testing.T) {
	_, err := core.NewRootTransaction()
	var argErr domain.ArgumentError
	if !errors.As(err, &argErr) || argErr.Argument != "mapping" {
		t.Fatalf("expected mapping argument error, got %v", err)
	}
}

func TestGetObjectReturnsOneInstancePerHierarchy(t *testing.T) {
	tx := newRoot(t, seededStore())
	first := mustGet(t, tx, order1)
	if again := mustGet(t, tx, order1); again != first {
		t.Fatalf("expected the same object instance on repeated loads")
	}
	sub, err := tx.CreateSubTransaction()
	if err != nil {
		t.Fatalf("create sub: %v", err)
	}
	if inSub := mustGet(t, sub, order1); inSub != first {
		t.Fatalf("expected sub-transaction to share object instances")
	}
	if first.RootTransaction() != tx || first.IsBound() {
		t.Fatalf("unexpected object ownership: root=%v bound=%v", first.RootTransaction(), first.IsBound())
	}

	other := newRoot(t, seededStore())
	if mustGet(t, other, order1) == first {
		t.Fatalf("separate hierarchies must not share object instances")
	}
}

func TestGetObjectsLoadsMissingObjectsInOneCall(t *testing.T) {
	store := &countingStore{Store: seededStore()}
	rec := &recorder{}
	tx := newRoot(t, store, core.WithListener(rec))
	ctx := context.Background()

	objects, err := tx.GetObjects(ctx, order1, order2, customerA)
	if err != nil {
		t.Fatalf("get objects: %v", err)
	}
	got := []domain.ObjectID{objects[0].ID(), objects[1].ID(), objects[2].ID()}
	if diff := cmp.Diff([]domain.ObjectID{order1, order2, customerA}, got); diff != "" {
		t.Fatalf("objects mismatch (-want +got):\n%s", diff)
	}
	if store.bulkCalls != 1 || store.recordCalls != 0 {
		t.Fatalf("expected a single bulk load, got bulk=%d single=%d", store.bulkCalls, store.recordCalls)
	}
	if diff := cmp.Diff([]string{"loading 3", "loaded 3"}, rec.trace()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	rec.reset()
	if _, err := tx.GetObjects(ctx, order1, order2, order3); err != nil {
		t.Fatalf("second get objects: %v", err)
	}
	if store.bulkCalls != 2 {
		t.Fatalf("expected one more bulk load, got %d", store.bulkCalls)
	}
	if diff := cmp.Diff([]string{"loading 1", "loaded 1"}, rec.trace()); diff != "" {
		t.Fatalf("only the missing object should load (-want +got):\n%s", diff)
	}
}

func TestGetObjectsReportsEveryMissingObject(t *testing.T) {
	tx := newRoot(t, seededStore())
	missingA := domain.NewObjectID("Order", "missing-a")
	missingB := domain.NewObjectID("Order", "missing-b")

	_, err := tx.GetObjects(context.Background(), order1, missingA, missingB)
	var bulk domain.BulkLoadError
	if !errors.As(err, &bulk) {
		t.Fatalf("expected BulkLoadError, got %v", err)
	}
	if len(bulk.Errors) != 2 {
		t.Fatalf("expected two failures, got %v", bulk.Errors)
	}
	var notFound domain.ObjectNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ObjectNotFoundError inside %v", err)
	}

	objects, err := tx.TryGetObjects(context.Background(), order1, missingA)
	if err != nil {
		t.Fatalf("try get objects: %v", err)
	}
	if objects[0] == nil || objects[1] != nil {
		t.Fatalf("expected [order, nil], got %v", objects)
	}
	obj, err := tx.TryGetObject(context.Background(), missingB)
	if err != nil || obj != nil {
		t.Fatalf("expected nil for a missing object, got %v, %v", obj, err)
	}
}

func TestSetValueTracksOriginalAndRollsBack(t *testing.T) {
	rec := &recorder{}
	tx := newRoot(t, seededStore(), core.WithListener(rec))
	ctx := context.Background()
	order := mustGet(t, tx, order1)
	rec.reset()

	if err := tx.SetValue(ctx, order, "Number", 21); err != nil {
		t.Fatalf("set value: %v", err)
	}
	current, _ := tx.GetValue(ctx, order, "Number")
	original, _ := tx.GetOriginalValue(ctx, order, "Number")
	if current != int64(21) || original != int64(20) {
		t.Fatalf("expected current 21 and original 20, got %v and %v", current, original)
	}
	if state := tx.ObjectState(order); state != domain.StateChanged {
		t.Fatalf("expected changed state, got %s", state)
	}
	if !tx.HasChanged() {
		t.Fatalf("expected the transaction to report changes")
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	current, _ = tx.GetValue(ctx, order, "Number")
	if current != int64(20) || tx.ObjectState(order) != domain.StateUnchanged {
		t.Fatalf("rollback did not restore the original value: %v (%s)", current, tx.ObjectState(order))
	}
	want := []string{
		"changing o-1.Number 20->21",
		"changed o-1.Number",
		"rolling back 1",
		"rolled back 1",
	}
	if diff := cmp.Diff(want, rec.trace()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	rec.reset()
	if err := tx.Rollback(); err != nil {
		t.Fatalf("second rollback: %v", err)
	}
	if len(rec.trace()) != 0 {
		t.Fatalf("rollback without changes should be silent, got %v", rec.trace())
	}
}

func TestSetValueVetoLeavesDataUntouched(t *testing.T) {
	errVeto := errors.New("veto")
	rec := &recorder{veto: func(event string) error {
		if strings.HasPrefix(event, "changing ") {
			return errVeto
		}
		return nil
	}}
	tx := newRoot(t, seededStore(), core.WithListener(rec))
	ctx := context.Background()
	order := mustGet(t, tx, order1)

	if err := tx.SetValue(ctx, order, "Number", 99); !errors.Is(err, errVeto) {
		t.Fatalf("expected veto, got %v", err)
	}
	if v, _ := tx.GetValue(ctx, order, "Number"); v != int64(20) {
		t.Fatalf("vetoed change was applied: %v", v)
	}
	if tx.HasChanged() {
		t.Fatalf("vetoed change must not mark the transaction changed")
	}
}

func TestSetValueRejectsInvalidInput(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	order := mustGet(t, tx, order1)

	cases := []struct {
		name  string
		prop  string
		value any
	}{
		{name: "unknown property", prop: "Missing", value: 1},
		{name: "foreign key", prop: "Customer", value: customerB},
		{name: "null for non-nullable", prop: "Number", value: nil},
		{name: "wrong kind", prop: "Number", value: "twenty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tx.SetValue(ctx, order, tc.prop, tc.value); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if tx.HasChanged() {
		t.Fatalf("rejected writes must not change the transaction")
	}
}

func TestSetValueWithSameValueOnlyTouches(t *testing.T) {
	rec := &recorder{}
	tx := newRoot(t, seededStore(), core.WithListener(rec))
	order := mustGet(t, tx, order1)
	rec.reset()
	if err := tx.SetValue(context.Background(), order, "Number", int64(20)); err != nil {
		t.Fatalf("set value: %v", err)
	}
	if len(rec.trace()) != 0 || tx.ObjectState(order) != domain.StateUnchanged {
		t.Fatalf("expected a silent touch, got %v (%s)", rec.trace(), tx.ObjectState(order))
	}
}

func TestCommitPersistsNewAndChangedObjects(t *testing.T) {
	store := seededStore()
	rec := &recorder{}
	tx := newRoot(t, store, core.WithListener(rec))
	ctx := context.Background()

	order := mustGet(t, tx, order1)
	if err := tx.SetValue(ctx, order, "Number", 21); err != nil {
		t.Fatalf("set value: %v", err)
	}
	created, err := tx.NewObject(ctx, "Order")
	if err != nil {
		t.Fatalf("new object: %v", err)
	}
	if tx.ObjectState(created) != domain.StateNew {
		t.Fatalf("expected new state, got %s", tx.ObjectState(created))
	}
	if err := tx.SetValue(ctx, created, "Number", 40); err != nil {
		t.Fatalf("set value on new: %v", err)
	}
	if err := tx.SetRelatedObject(ctx, created, "Customer", mustGet(t, tx, customerB)); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	rec.reset()

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	// order 1, the new order and customer B whose collection grew.
	if diff := cmp.Diff([]string{"committing 3", "committed 3"}, rec.trace()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if tx.HasChanged() || tx.ObjectState(created) != domain.StateUnchanged {
		t.Fatalf("commit should leave everything unchanged")
	}

	stored, err := store.LoadRecord(ctx, order1)
	if err != nil || stored.Values["Number"] != int64(21) {
		t.Fatalf("expected persisted number 21, got %v (%v)", stored.Values["Number"], err)
	}
	stored, err = store.LoadRecord(ctx, created.ID())
	if err != nil {
		t.Fatalf("load created: %v", err)
	}
	if stored.Values["Customer"] != customerB || stored.Values["Number"] != int64(40) {
		t.Fatalf("unexpected created record %v", stored.Values)
	}
}

func TestCommitReportsConcurrentUpdates(t *testing.T) {
	store := seededStore()
	ctx := context.Background()
	first := newRoot(t, store)
	second := newRoot(t, store)
	a := mustGet(t, first, order1)
	b := mustGet(t, second, order1)

	if err := first.SetValue(ctx, a, "Number", 21); err != nil {
		t.Fatalf("set first: %v", err)
	}
	if err := second.SetValue(ctx, b, "Number", 22); err != nil {
		t.Fatalf("set second: %v", err)
	}
	if err := first.Commit(ctx); err != nil {
		t.Fatalf("commit first: %v", err)
	}
	err := second.Commit(ctx)
	var conflict domain.ConcurrencyViolationError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected concurrency violation, got %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order1}, conflict.IDs); diff != "" {
		t.Fatalf("conflicting ids mismatch (-want +got):\n%s", diff)
	}
	if second.ObjectState(b) != domain.StateChanged {
		t.Fatalf("a failed commit must keep the changes, got %s", second.ObjectState(b))
	}
}

func TestCommitRequiresMandatoryRelations(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	created, err := tx.NewObject(ctx, "Order")
	if err != nil {
		t.Fatalf("new object: %v", err)
	}
	err = tx.Commit(ctx)
	var mandatory domain.MandatoryRelationNotSetError
	if !errors.As(err, &mandatory) {
		t.Fatalf("expected mandatory relation error, got %v", err)
	}
	if mandatory.ID != created.ID() || mandatory.PropertyName != "Order.Customer" {
		t.Fatalf("unexpected error details %+v", mandatory)
	}
}

func TestDeleteClearsRelationsAndInvalidatesOnCommit(t *testing.T) {
	store := seededStore()
	tx := newRoot(t, store)
	ctx := context.Background()
	order := mustGet(t, tx, order1)
	customer := mustGet(t, tx, customerA)
	ticket := mustGet(t, tx, ticket1)

	if err := tx.Delete(ctx, order); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if tx.ObjectState(order) != domain.StateDeleted {
		t.Fatalf("expected deleted state, got %s", tx.ObjectState(order))
	}
	if _, err := tx.GetObject(ctx, order1, false); !errors.As(err, new(domain.ObjectDeletedError)) {
		t.Fatalf("expected ObjectDeletedError, got %v", err)
	}
	if _, err := tx.GetObject(ctx, order1, true); err != nil {
		t.Fatalf("deleted objects are reachable on request: %v", err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order2}, mustOrders(t, tx, customer)); diff != "" {
		t.Fatalf("orders mismatch (-want +got):\n%s", diff)
	}
	if related := mustRelated(t, tx, ticket, "Order"); related != nil {
		t.Fatalf("expected the ticket to lose its order, got %v", related)
	}
	if err := tx.Delete(ctx, order); err != nil {
		t.Fatalf("deleting twice should do nothing: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !tx.IsInvalid(order) {
		t.Fatalf("committed deletion should invalidate the object")
	}
	if _, err := tx.GetObject(ctx, order1, true); !errors.As(err, new(domain.ObjectInvalidError)) {
		t.Fatalf("expected ObjectInvalidError, got %v", err)
	}
	if _, err := store.LoadRecord(ctx, order1); !errors.As(err, new(domain.ObjectNotFoundError)) {
		t.Fatalf("expected order to be removed from storage, got %v", err)
	}
	stored, _ := store.LoadRecord(ctx, ticket1)
	if stored.Values["Order"] != nil {
		t.Fatalf("expected ticket foreign key to be cleared, got %v", stored.Values["Order"])
	}
}

func TestDeleteNewObjectDiscardsIt(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	created, err := tx.NewObject(ctx, "Order")
	if err != nil {
		t.Fatalf("new object: %v", err)
	}
	if err := tx.Delete(ctx, created); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !tx.IsInvalid(created) || tx.DataManager().DiscardedObjectCount() != 1 {
		t.Fatalf("expected the new object to be discarded")
	}
	if tx.HasChanged() {
		t.Fatalf("a discarded new object leaves nothing to commit")
	}
}

func TestRollbackDiscardsNewObjects(t *testing.T) {
	tx := newRoot(t, seededStore())
	created, err := tx.NewObject(context.Background(), "Customer")
	if err != nil {
		t.Fatalf("new object: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if tx.ObjectState(created) != domain.StateInvalid {
		t.Fatalf("expected invalid state after rollback, got %s", tx.ObjectState(created))
	}
}

func TestParentIsReadOnlyWhileSubTransactionIsActive(t *testing.T) {
	tx := newRoot(t, seededStore())
	ctx := context.Background()
	order := mustGet(t, tx, order1)
	a := mustGet(t, tx, customerA)
	b := mustGet(t, tx, customerB)
	o3 := mustGet(t, tx, order3)
	mustOrders(t, tx, a)
	replacement, err := core.NewDomainObjectCollection("Order", o3)
	if err != nil {
		t.Fatalf("new collection: %v", err)
	}
	sub, err := tx.CreateSubTransaction()
	if err != nil {
		t.Fatalf("create sub: %v", err)
	}
	if !tx.IsReadOnly() || sub.Parent() != tx || tx.SubTransaction() != sub {
		t.Fatalf("unexpected hierarchy state")
	}

	tests := []struct {
		op  string
		run func() error
	}{
		{"SetValue", func() error { return tx.SetValue(ctx, order, "Number", 1) }},
		{"NewObject", func() error { _, err := tx.NewObject(ctx, "Order"); return err }},
		{"Delete", func() error { return tx.Delete(ctx, order) }},
		{"MarkAsChanged", func() error { return tx.MarkAsChanged(ctx, order) }},
		{"SetRelatedObject", func() error { return tx.SetRelatedObject(ctx, order, "Customer", b) }},
		{"SetRelatedObjects", func() error { return tx.SetRelatedObjects(ctx, a, "Orders", replacement) }},
		{"AddRelatedObject", func() error { return tx.AddRelatedObject(ctx, a, "Orders", o3) }},
		{"InsertRelatedObject", func() error { return tx.InsertRelatedObject(ctx, a, "Orders", 0, o3) }},
		{"RemoveRelatedObject", func() error { return tx.RemoveRelatedObject(ctx, a, "Orders", order) }},
		{"ReplaceRelatedObject", func() error { return tx.ReplaceRelatedObject(ctx, a, "Orders", 0, o3) }},
		{"Synchronize", func() error { return tx.Synchronize(ctx, order, "Customer") }},
		{"Unload", func() error { return tx.UnloadData(ctx, order1) }},
		{"CreateSubTransaction", func() error { _, err := tx.CreateSubTransaction(); return err }},
		{"Commit", func() error { return tx.Commit(ctx) }},
		{"Rollback", tx.Rollback},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			var readOnly domain.ClientTransactionReadOnlyError
			if err := tt.run(); !errors.As(err, &readOnly) || readOnly.Operation != tt.op {
				t.Fatalf("expected read-only error for %s, got %v", tt.op, err)
			}
		})
	}

	var readOnly domain.ClientTransactionReadOnlyError
	if _, err := tx.GetObject(ctx, order2, false); err != nil {
		t.Fatalf("resident objects stay readable: %v", err)
	}
	if _, err := tx.GetObject(ctx, ticket1, false); !errors.As(err, &readOnly) || readOnly.Operation != "Load" {
		t.Fatalf("expected read-only load error, got %v", err)
	}
	if tx.HasChanged() || tx.SubTransaction() != sub || replacement.IsAssociated() {
		t.Fatalf("rejected operations must leave the parent untouched")
	}
	if v, err := tx.GetValue(ctx, order, "Number"); err != nil || v != int64(20) {
		t.Fatalf("reading resident data should work, got %v, %v", v, err)
	}
	if diff := cmp.Diff([]domain.ObjectID{order2, order1}, mustOrders(t, tx, a)); diff != "" {
		t.Fatalf("orders of A (-want +got):\n%s", diff)
	}
	if got := mustRelated(t, tx, order, "Customer"); got != a {
		t.Fatalf("order 1 should still belong to A, got %v", got)
	}

	if err := sub.Discard(); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if tx.IsReadOnly() {
		t.Fatalf("parent should be writable after discard")
	}
	if _, err := sub.GetObject(ctx, order1, false); !errors.As(err, new(domain.TransactionDiscardedError)) {
		t.Fatalf("expected discarded error, got %v", err)
	}
	if err := tx.SetValue(ctx, order, "Number", 1); err != nil {
		t.Fatalf("set value after discard: %v", err)
	}
}

func TestObjectsFromOtherTransactionsAreRejected(t *testing.T) {
	ctx := context.Background()
	first := newRoot(t, seededStore())
	second := newRoot(t, seededStore())
	foreign := mustGet(t, first, order1)

	var differ domain.ClientTransactionsDifferError
	if err := second.SetValue(ctx, foreign, "Number", 1); !errors.As(err, &differ) || differ.Role != domain.RoleTarget {
		t.Fatalf("expected target differ error, got %v", err)
	}
	local := mustGet(t, second, order1)
	if err := second.SetRelatedObject(ctx, local, "Customer", mustGet(t, first, customerB)); !errors.As(err, &differ) || differ.Role != domain.RoleRelated {
		t.Fatalf("expected related differ error, got %v", err)
	}
}

func TestBindingTransactionPinsItsObjects(t *testing.T) {
	ctx := context.Background()
	binding, err := core.NewBindingTransaction(core.WithMapping(shopMapping(t)), core.WithStorage(seededStore()))
	if err != nil {
		t.Fatalf("new binding transaction: %v", err)
	}
	obj := mustGet(t, binding, order1)
	if !obj.IsBound() || obj.BindingTransaction() != binding || !binding.IsBinding() {
		t.Fatalf("expected the object to be bound")
	}
	if _, err := binding.CreateSubTransaction(); !errors.As(err, new(domain.InvalidOperationError)) {
		t.Fatalf("binding transactions cannot have subs, got %v", err)
	}

	other := newRoot(t, seededStore())
	var differ domain.ClientTransactionsDifferError
	if _, err := other.GetValue(ctx, obj, "Number"); !errors.As(err, &differ) || differ.BoundTo == "" {
		t.Fatalf("expected bound differ error, got %v", err)
	}

	foreign := mustGet(t, other, order1)
	differ = domain.ClientTransactionsDifferError{}
	_, err = binding.GetValue(ctx, foreign, "Number")
	if !errors.As(err, &differ) || differ.BoundTo != "" || !differ.TransactionIsBinding {
		t.Fatalf("expected hierarchy differ error from the binding transaction, got %v", err)
	}
	if want := "cannot be used in binding transaction " + binding.ID().String(); !strings.Contains(err.Error(), want) {
		t.Fatalf("message %q should contain %q", err.Error(), want)
	}
}

func TestUnloadDataReloadsOnNextAccess(t *testing.T) {
	rec := &recorder{}
	tx := newRoot(t, seededStore(), core.WithListener(rec))
	ctx := context.Background()
	order := mustGet(t, tx, order1)
	if err := tx.UnloadData(ctx, order1); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if tx.ObjectState(order) != domain.StateNotLoadedYet {
		t.Fatalf("expected not loaded, got %s", tx.ObjectState(order))
	}
	rec.reset()
	if _, err := tx.GetValue(ctx, order, "Number"); err != nil {
		t.Fatalf("get value: %v", err)
	}
	if diff := cmp.Diff([]string{"loading 1", "loaded 1"}, rec.trace()); diff != "" {
		t.Fatalf("expected a reload (-want +got):\n%s", diff)
	}

	if err := tx.SetValue(ctx, order, "Number", 5); err != nil {
		t.Fatalf("set value: %v", err)
	}
	if err := tx.UnloadData(ctx, order1); !errors.As(err, new(domain.InvalidOperationError)) {
		t.Fatalf("changed objects cannot be unloaded, got %v", err)
	}
}

func TestMarkAsChangedSavesUnchangedObject(t *testing.T) {
	store := seededStore()
	tx := newRoot(t, store)
	ctx := context.Background()
	customer := mustGet(t, tx, customerA)
	before, _ := store.LoadRecord(ctx, customerA)

	if err := tx.MarkAsChanged(ctx, customer); err != nil {
		t.Fatalf("mark as changed: %v", err)
	}
	if tx.ObjectState(customer) != domain.StateChanged {
		t.Fatalf("expected changed state, got %s", tx.ObjectState(customer))
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	after, _ := store.LoadRecord(ctx, customerA)
	if after.Timestamp <= before.Timestamp {
		t.Fatalf("expected a new timestamp, got %d after %d", after.Timestamp, before.Timestamp)
	}
}

func TestApplicationDataIsSharedByTheHierarchy(t *testing.T) {
	tx := newRoot(t, seededStore(), core.WithApplicationData("tenant", "acme"))
	sub, err := tx.CreateSubTransaction()
	if err != nil {
		t.Fatalf("create sub: %v", err)
	}
	sub.ApplicationData()["user"] = "ada"
	want := map[string]any{"tenant": "acme", "user": "ada"}
	if diff := cmp.Diff(want, tx.ApplicationData()); diff != "" {
		t.Fatalf("application data mismatch (-want +got):\n%s", diff)
	}
	if sub.RootTransaction() != tx {
		t.Fatalf("expected root transaction to be shared")
	}
}
