package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// transactionHierarchy is the state shared by a root transaction and all of
// its descendants.
type transactionHierarchy struct {
	root       *ClientTransaction
	objects    map[domain.ObjectID]*DomainObject
	extensions *ExtensionCollection
	appData    map[string]any
	mapping    *mapping.Configuration
	storage    domain.StorageProvider
	logger     *slog.Logger
	binding    bool
}

// object returns the hierarchy's handle for id, creating it on first use.
func (h *transactionHierarchy) object(id domain.ObjectID) *DomainObject {
	if o, ok := h.objects[id]; ok {
		return o
	}
	o := &DomainObject{id: id, root: h.root}
	if h.binding {
		o.binding = h.root
	}
	h.objects[id] = o
	return o
}

// ClientTransaction is one unit of work over the object graph. A root
// transaction reads from and saves to a storage provider; a sub-transaction
// reads from and commits into its parent. While a sub-transaction is active
// the parent is read-only.
//
// A ClientTransaction is not safe for concurrent use.
type ClientTransaction struct {
	id          uuid.UUID
	hierarchy   *transactionHierarchy
	parent      *ClientTransaction
	sub         *ClientTransaction
	dm          *DataManager
	own         *CompoundListener
	discarded   bool
	unlockDepth int
	logger      *slog.Logger
}

func newClientTransaction(id uuid.UUID, h *transactionHierarchy, parent *ClientTransaction, persistence persistenceStrategy) *ClientTransaction {
	tx := &ClientTransaction{
		id:        id,
		hierarchy: h,
		parent:    parent,
		own:       NewCompoundListener(),
	}
	tx.logger = h.logger.With("tx", id.String())
	tx.dm = newDataManager(tx, persistence)
	return tx
}

// ID returns the transaction's identifier.
func (tx *ClientTransaction) ID() uuid.UUID { return tx.id }

// Parent returns the parent transaction, or nil for a root.
func (tx *ClientTransaction) Parent() *ClientTransaction { return tx.parent }

// SubTransaction returns the active sub-transaction, if any.
func (tx *ClientTransaction) SubTransaction() *ClientTransaction { return tx.sub }

// RootTransaction returns the root of the hierarchy.
func (tx *ClientTransaction) RootTransaction() *ClientTransaction { return tx.hierarchy.root }

// IsReadOnly reports whether a sub-transaction is active.
func (tx *ClientTransaction) IsReadOnly() bool { return tx.sub != nil }

// IsDiscarded reports whether Discard was called.
func (tx *ClientTransaction) IsDiscarded() bool { return tx.discarded }

// IsBinding reports whether the hierarchy pins its objects to its root.
func (tx *ClientTransaction) IsBinding() bool { return tx.hierarchy.binding }

// Mapping returns the class definitions the transaction works with.
func (tx *ClientTransaction) Mapping() *mapping.Configuration { return tx.hierarchy.mapping }

// DataManager exposes the transaction's data.
func (tx *ClientTransaction) DataManager() *DataManager { return tx.dm }

// Extensions returns the extension collection shared by the hierarchy.
func (tx *ClientTransaction) Extensions() *ExtensionCollection { return tx.hierarchy.extensions }

// ApplicationData returns the key/value bag shared by the hierarchy.
func (tx *ClientTransaction) ApplicationData() map[string]any { return tx.hierarchy.appData }

// AddListener appends l to this transaction's own listeners. Extensions
// always run first.
func (tx *ClientTransaction) AddListener(l TransactionListener) { tx.own.Add(l) }

// Listeners returns this transaction's own listeners.
func (tx *ClientTransaction) Listeners() []TransactionListener { return tx.own.Listeners() }

func (tx *ClientTransaction) String() string {
	kind := "root"
	if tx.parent != nil {
		kind = "sub"
	}
	return fmt.Sprintf("ClientTransaction(%s, %s)", kind, tx.id)
}

// events is the listener chain: hierarchy extensions, then own listeners.
func (tx *ClientTransaction) events() *CompoundListener {
	return NewCompoundListener(tx.hierarchy.extensions, tx.own)
}

// unlock lifts the read-only restriction for operations a sub-transaction
// performs on its parent. The returned func restores it.
func (tx *ClientTransaction) unlock() func() {
	tx.unlockDepth++
	return func() { tx.unlockDepth-- }
}

func (tx *ClientTransaction) ensureUsable(op string) error {
	if tx.discarded {
		return domain.TransactionDiscardedError{Operation: op}
	}
	return nil
}

func (tx *ClientTransaction) ensureWriteable(op string) error {
	if err := tx.ensureUsable(op); err != nil {
		return err
	}
	if tx.IsReadOnly() && tx.unlockDepth == 0 {
		return domain.ClientTransactionReadOnlyError{Operation: op}
	}
	return nil
}

// checkObject rejects objects of another hierarchy and objects bound to a
// different binding transaction.
func (tx *ClientTransaction) checkObject(obj *DomainObject, role domain.ObjectRole) error {
	if obj == nil {
		return domain.ArgumentError{Argument: string(role), Message: "object must not be nil"}
	}
	if obj.binding != nil && obj.binding != tx {
		return domain.ClientTransactionsDifferError{ID: obj.id, Role: role, BoundTo: obj.binding.id.String(), Transaction: tx.id.String()}
	}
	if obj.root != tx.hierarchy.root {
		return domain.ClientTransactionsDifferError{
			ID:                   obj.id,
			Role:                 role,
			Hierarchy:            obj.root.id.String(),
			Transaction:          tx.id.String(),
			TransactionIsBinding: tx.hierarchy.binding,
		}
	}
	return nil
}

// container resolves obj to its container, loading it if needed. Deleted
// objects are rejected unless includeDeleted.
func (tx *ClientTransaction) container(ctx context.Context, obj *DomainObject, includeDeleted bool) (*DataContainer, error) {
	dc, err := tx.dm.GetDataContainerWithLazyLoad(ctx, obj.id, true)
	if err != nil {
		return nil, err
	}
	if dc.isDeleted && !includeDeleted {
		return nil, domain.ObjectDeletedError{ID: obj.id}
	}
	return dc, nil
}

// NewObject creates a New object of classID. In a sub-transaction the object
// is invalid in every ancestor until the sub-transaction commits.
func (tx *ClientTransaction) NewObject(ctx context.Context, classID string) (*DomainObject, error) {
	if err := tx.ensureWriteable("NewObject"); err != nil {
		return nil, err
	}
	class, err := tx.hierarchy.mapping.Class(classID)
	if err != nil {
		return nil, err
	}
	if err := tx.events().NewObjectCreating(tx, classID); err != nil {
		return nil, err
	}
	id, err := tx.dm.persistence.newObjectID(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("allocate id for %s: %w", classID, err)
	}
	dc := newNewDataContainer(id, class)
	if err := tx.dm.registerContainer(dc); err != nil {
		return nil, err
	}
	obj := tx.hierarchy.object(id)
	for a := tx.parent; a != nil; a = a.parent {
		a.dm.markInvalid(id)
	}
	for a := tx.parent; a != nil; a = a.parent {
		if err := a.events().ObjectMarkedInvalid(a, obj); err != nil {
			for b := tx.parent; b != nil; b = b.parent {
				b.dm.markNotInvalid(id)
			}
			tx.dm.unregisterContainer(dc)
			delete(tx.hierarchy.objects, id)
			return nil, err
		}
	}
	tx.logger.Debug("object created", "object", id.String())
	return obj, nil
}

// GetObject returns the object with id, loading it if necessary.
func (tx *ClientTransaction) GetObject(ctx context.Context, id domain.ObjectID, includeDeleted bool) (*DomainObject, error) {
	if err := tx.ensureUsable("GetObject"); err != nil {
		return nil, err
	}
	obj := tx.hierarchy.object(id)
	if _, err := tx.container(ctx, obj, includeDeleted); err != nil {
		return nil, err
	}
	return obj, nil
}

// TryGetObject is GetObject returning nil for objects that do not exist.
// Deleted and invalid objects are returned as they are.
func (tx *ClientTransaction) TryGetObject(ctx context.Context, id domain.ObjectID) (*DomainObject, error) {
	if err := tx.ensureUsable("TryGetObject"); err != nil {
		return nil, err
	}
	if tx.dm.IsInvalid(id) {
		return tx.hierarchy.object(id), nil
	}
	dc, err := tx.dm.GetDataContainerWithLazyLoad(ctx, id, false)
	if err != nil || dc == nil {
		return nil, err
	}
	return tx.hierarchy.object(id), nil
}

// GetObjects loads every id with one storage call. All failures are
// reported together in a BulkLoadError.
func (tx *ClientTransaction) GetObjects(ctx context.Context, ids ...domain.ObjectID) ([]*DomainObject, error) {
	if err := tx.ensureUsable("GetObjects"); err != nil {
		return nil, err
	}
	containers, err := tx.dm.GetDataContainersWithLazyLoad(ctx, ids, true)
	if err != nil {
		return nil, err
	}
	out := make([]*DomainObject, len(ids))
	var errs []error
	for i, dc := range containers {
		if dc.isDeleted {
			errs = append(errs, domain.ObjectDeletedError{ID: dc.id})
			continue
		}
		out[i] = tx.hierarchy.object(dc.id)
	}
	if len(errs) > 0 {
		return nil, domain.BulkLoadError{Errors: errs}
	}
	return out, nil
}

// TryGetObjects is GetObjects with nil entries for objects that do not exist.
func (tx *ClientTransaction) TryGetObjects(ctx context.Context, ids ...domain.ObjectID) ([]*DomainObject, error) {
	if err := tx.ensureUsable("TryGetObjects"); err != nil {
		return nil, err
	}
	containers, err := tx.dm.GetDataContainersWithLazyLoad(ctx, ids, false)
	if err != nil {
		return nil, err
	}
	out := make([]*DomainObject, len(ids))
	for i, dc := range containers {
		if dc != nil {
			out[i] = tx.hierarchy.object(dc.id)
		}
	}
	return out, nil
}

// Delete deletes obj and clears all of its relations. New objects are
// discarded right away; others become invalid when the deletion is
// committed. Deleting a deleted object does nothing.
func (tx *ClientTransaction) Delete(ctx context.Context, obj *DomainObject) error {
	if err := tx.ensureWriteable("Delete"); err != nil {
		return err
	}
	if err := tx.checkObject(obj, domain.RoleTarget); err != nil {
		return err
	}
	dc, err := tx.container(ctx, obj, true)
	if err != nil {
		return err
	}
	if dc.isDeleted {
		return nil
	}
	events := tx.events()
	if err := events.ObjectDeleting(tx, obj); err != nil {
		return err
	}
	cmd, err := tx.dm.endPoints.CreateDeleteCommand(ctx, dc)
	if err != nil {
		return err
	}
	if err := tx.execute(ctx, cmd); err != nil {
		return err
	}
	tx.logger.Debug("object deleted", "object", obj.id.String())
	return events.ObjectDeleted(tx, obj)
}

// GetValue returns the current value of a value property.
func (tx *ClientTransaction) GetValue(ctx context.Context, obj *DomainObject, property string) (any, error) {
	return tx.getValue(ctx, obj, property, ValueAccessCurrent)
}

// GetOriginalValue returns the value a property had when the object was
// loaded or last committed.
func (tx *ClientTransaction) GetOriginalValue(ctx context.Context, obj *DomainObject, property string) (any, error) {
	return tx.getValue(ctx, obj, property, ValueAccessOriginal)
}

func (tx *ClientTransaction) getValue(ctx context.Context, obj *DomainObject, property string, access ValueAccess) (any, error) {
	if err := tx.ensureUsable("GetValue"); err != nil {
		return nil, err
	}
	if err := tx.checkObject(obj, domain.RoleTarget); err != nil {
		return nil, err
	}
	dc, err := tx.container(ctx, obj, access == ValueAccessOriginal)
	if err != nil {
		return nil, err
	}
	p, _, err := dc.property(property)
	if err != nil {
		return nil, err
	}
	events := tx.events()
	if err := events.PropertyValueReading(tx, obj, p, access); err != nil {
		return nil, err
	}
	v, err := dc.Value(p.Name, access)
	if err != nil {
		return nil, err
	}
	if err := events.PropertyValueRead(tx, obj, p, v, access); err != nil {
		return nil, err
	}
	return v, nil
}

// SetValue writes a value property. Foreign keys are changed through the
// relation API. Writing the current value only touches the property.
func (tx *ClientTransaction) SetValue(ctx context.Context, obj *DomainObject, property string, value any) error {
	if err := tx.ensureWriteable("SetValue"); err != nil {
		return err
	}
	if err := tx.checkObject(obj, domain.RoleTarget); err != nil {
		return err
	}
	dc, err := tx.container(ctx, obj, false)
	if err != nil {
		return err
	}
	p, pv, err := dc.property(property)
	if err != nil {
		return err
	}
	if p.IsForeignKey() {
		return domain.ArgumentError{Argument: "propertyName", Message: fmt.Sprintf("%s is a relation property; use SetRelatedObject", p.QualifiedName())}
	}
	nv, err := domain.NormalizeValue(p.Kind, value)
	if err != nil {
		return err
	}
	if nv == nil && !p.Nullable {
		return domain.ArgumentError{Argument: "value", Message: fmt.Sprintf("property %s is not nullable", p.QualifiedName())}
	}
	old := domain.CloneValue(pv.current)
	if domain.ValuesEqual(old, nv) {
		pv.touched = true
		return nil
	}
	events := tx.events()
	if err := events.PropertyValueChanging(tx, obj, p, old, nv); err != nil {
		return err
	}
	if err := dc.SetValue(p.Name, nv); err != nil {
		return err
	}
	return events.PropertyValueChanged(tx, obj, p, old, nv)
}

// MarkAsChanged forces an Unchanged object into the Changed state so it is
// saved on commit.
func (tx *ClientTransaction) MarkAsChanged(ctx context.Context, obj *DomainObject) error {
	if err := tx.ensureWriteable("MarkAsChanged"); err != nil {
		return err
	}
	if err := tx.checkObject(obj, domain.RoleTarget); err != nil {
		return err
	}
	dc, err := tx.container(ctx, obj, false)
	if err != nil {
		return err
	}
	return dc.MarkAsChanged()
}

// UnloadData drops unchanged objects, together with their end points, from
// the transaction. They are reloaded on next access.
func (tx *ClientTransaction) UnloadData(ctx context.Context, ids ...domain.ObjectID) error {
	if err := tx.ensureWriteable("Unload"); err != nil {
		return err
	}
	containers, err := tx.dm.unload(ids)
	if err != nil || len(containers) == 0 {
		return err
	}
	objects := tx.objectsOf(containers)
	events := tx.events()
	if err := events.ObjectsUnloading(tx, objects); err != nil {
		return err
	}
	for _, dc := range containers {
		tx.dm.removeUnloaded(dc)
	}
	tx.logger.Debug("objects unloaded", "count", len(objects))
	return events.ObjectsUnloaded(tx, objects)
}

// EnlistedObjects returns the objects with a container in this transaction,
// in load order.
func (tx *ClientTransaction) EnlistedObjects() []*DomainObject {
	return tx.objectsOf(tx.dm.containers.All())
}

// HasChanged reports whether Commit would have anything to do.
func (tx *ClientTransaction) HasChanged() bool { return tx.dm.hasChanged() }

// ObjectState returns the state of obj in this transaction without loading
// it.
func (tx *ClientTransaction) ObjectState(obj *DomainObject) domain.StateType {
	return tx.dm.objectState(obj.id)
}

// IsInvalid reports whether obj cannot be used in this transaction.
func (tx *ClientTransaction) IsInvalid(obj *DomainObject) bool {
	return tx.dm.IsInvalid(obj.id)
}

func (tx *ClientTransaction) objectsOf(containers []*DataContainer) []*DomainObject {
	out := make([]*DomainObject, 0, len(containers))
	for _, dc := range containers {
		out = append(out, tx.hierarchy.object(dc.id))
	}
	return out
}

// execute expands cmd to every affected end point and runs it.
func (tx *ClientTransaction) execute(ctx context.Context, cmd *RelationCommand) error {
	expanded, err := cmd.ExpandToAllRelatedObjects(ctx)
	if err != nil {
		return err
	}
	return expanded.NotifyAndPerform()
}

// CreateSubTransaction opens a child transaction. The receiver is read-only
// until the child is discarded.
func (tx *ClientTransaction) CreateSubTransaction() (*ClientTransaction, error) {
	if err := tx.ensureWriteable("CreateSubTransaction"); err != nil {
		return nil, err
	}
	if tx.hierarchy.binding {
		return nil, domain.InvalidOperationError{Message: "binding transactions cannot have sub-transactions"}
	}
	events := tx.events()
	if err := events.SubTransactionCreating(tx); err != nil {
		return nil, err
	}
	sub := newClientTransaction(uuid.New(), tx.hierarchy, tx, &subPersistenceStrategy{parent: tx})
	tx.sub = sub
	abort := func(err error) (*ClientTransaction, error) {
		tx.sub = nil
		sub.discarded = true
		return nil, err
	}
	if err := events.SubTransactionInitialize(tx, sub); err != nil {
		return abort(err)
	}
	if err := sub.events().TransactionInitialize(sub); err != nil {
		return abort(err)
	}
	tx.logger.Debug("sub-transaction created", "sub", sub.id.String())
	if err := events.SubTransactionCreated(tx, sub); err != nil {
		return sub, err
	}
	return sub, nil
}

// Discard disables the transaction and its active descendants and makes the
// parent writable again. Listener errors are returned after the discard is
// complete.
func (tx *ClientTransaction) Discard() error {
	if tx.discarded {
		return nil
	}
	var errs []error
	if tx.sub != nil {
		if err := tx.sub.Discard(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := tx.events().TransactionDiscard(tx); err != nil {
		errs = append(errs, err)
	}
	tx.discarded = true
	if tx.parent != nil && tx.parent.sub == tx {
		tx.parent.sub = nil
	}
	tx.logger.Debug("transaction discarded")
	return errors.Join(errs...)
}
