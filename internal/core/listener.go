package core

import (
	"graphcore/pkg/domain"
	"graphcore/pkg/mapping"
)

// ValueAccess selects the current or the original value of a property or
// relation.
type ValueAccess int

const (
	// ValueAccessCurrent reads the value as seen by the transaction now.
	ValueAccessCurrent ValueAccess = iota
	// ValueAccessOriginal reads the value as it was when loaded or last committed.
	ValueAccessOriginal
)

func (a ValueAccess) String() string {
	if a == ValueAccessOriginal {
		return "original"
	}
	return "current"
}

// QueryResult is the outcome of a collection query, after loading.
type QueryResult struct {
	Query   domain.Query
	Objects []*DomainObject
}

// IDs returns the ids of the result objects in order.
func (r QueryResult) IDs() []domain.ObjectID {
	out := make([]domain.ObjectID, 0, len(r.Objects))
	for _, o := range r.Objects {
		out = append(out, o.ID())
	}
	return out
}

// TransactionListener observes every lifecycle event of a transaction. Events
// ending in -ing run before the change and may veto it by returning an error;
// the error is returned to the caller unchanged. FilterQueryResult may replace
// the result it is given.
type TransactionListener interface {
	TransactionInitialize(tx *ClientTransaction) error
	TransactionDiscard(tx *ClientTransaction) error

	SubTransactionCreating(tx *ClientTransaction) error
	SubTransactionInitialize(tx, sub *ClientTransaction) error
	SubTransactionCreated(tx, sub *ClientTransaction) error

	NewObjectCreating(tx *ClientTransaction, classID string) error
	ObjectsLoading(tx *ClientTransaction, ids []domain.ObjectID) error
	ObjectsLoaded(tx *ClientTransaction, objects []*DomainObject) error
	ObjectsUnloading(tx *ClientTransaction, objects []*DomainObject) error
	ObjectsUnloaded(tx *ClientTransaction, objects []*DomainObject) error
	ObjectDeleting(tx *ClientTransaction, obj *DomainObject) error
	ObjectDeleted(tx *ClientTransaction, obj *DomainObject) error

	PropertyValueReading(tx *ClientTransaction, obj *DomainObject, prop *mapping.PropertyDefinition, access ValueAccess) error
	PropertyValueRead(tx *ClientTransaction, obj *DomainObject, prop *mapping.PropertyDefinition, value any, access ValueAccess) error
	PropertyValueChanging(tx *ClientTransaction, obj *DomainObject, prop *mapping.PropertyDefinition, oldValue, newValue any) error
	PropertyValueChanged(tx *ClientTransaction, obj *DomainObject, prop *mapping.PropertyDefinition, oldValue, newValue any) error

	RelationReading(tx *ClientTransaction, obj *DomainObject, def *mapping.RelationEndPointDefinition, access ValueAccess) error
	RelationRead(tx *ClientTransaction, obj *DomainObject, def *mapping.RelationEndPointDefinition, related []*DomainObject, access ValueAccess) error
	RelationChanging(tx *ClientTransaction, obj *DomainObject, def *mapping.RelationEndPointDefinition, oldRelated, newRelated *DomainObject) error
	RelationChanged(tx *ClientTransaction, obj *DomainObject, def *mapping.RelationEndPointDefinition, oldRelated, newRelated *DomainObject) error

	FilterQueryResult(tx *ClientTransaction, result QueryResult) (QueryResult, error)

	TransactionCommitting(tx *ClientTransaction, objects []*DomainObject) error
	TransactionCommitValidate(tx *ClientTransaction, objects []*DomainObject) error
	TransactionCommitted(tx *ClientTransaction, objects []*DomainObject) error
	TransactionRollingBack(tx *ClientTransaction, objects []*DomainObject) error
	TransactionRolledBack(tx *ClientTransaction, objects []*DomainObject) error

	ObjectMarkedInvalid(tx *ClientTransaction, obj *DomainObject) error
	ObjectMarkedNotInvalid(tx *ClientTransaction, obj *DomainObject) error
}

// ListenerBase implements every TransactionListener method as a no-op.
// Embed it and override the events of interest.
type ListenerBase struct{}

var _ TransactionListener = ListenerBase{}

func (ListenerBase) TransactionInitialize(*ClientTransaction) error             { return nil }
func (ListenerBase) TransactionDiscard(*ClientTransaction) error                { return nil }
func (ListenerBase) SubTransactionCreating(*ClientTransaction) error            { return nil }
func (ListenerBase) SubTransactionInitialize(_, _ *ClientTransaction) error     { return nil }
func (ListenerBase) SubTransactionCreated(_, _ *ClientTransaction) error        { return nil }
func (ListenerBase) NewObjectCreating(*ClientTransaction, string) error         { return nil }
func (ListenerBase) ObjectsLoading(*ClientTransaction, []domain.ObjectID) error { return nil }
func (ListenerBase) ObjectsLoaded(*ClientTransaction, []*DomainObject) error    { return nil }
func (ListenerBase) ObjectsUnloading(*ClientTransaction, []*DomainObject) error { return nil }
func (ListenerBase) ObjectsUnloaded(*ClientTransaction, []*DomainObject) error  { return nil }
func (ListenerBase) ObjectDeleting(*ClientTransaction, *DomainObject) error     { return nil }
func (ListenerBase) ObjectDeleted(*ClientTransaction, *DomainObject) error      { return nil }
func (ListenerBase) PropertyValueReading(*ClientTransaction, *DomainObject, *mapping.PropertyDefinition, ValueAccess) error {
	return nil
}
func (ListenerBase) PropertyValueRead(*ClientTransaction, *DomainObject, *mapping.PropertyDefinition, any, ValueAccess) error {
	return nil
}
func (ListenerBase) PropertyValueChanging(*ClientTransaction, *DomainObject, *mapping.PropertyDefinition, any, any) error {
	return nil
}
func (ListenerBase) PropertyValueChanged(*ClientTransaction, *DomainObject, *mapping.PropertyDefinition, any, any) error {
	return nil
}
func (ListenerBase) RelationReading(*ClientTransaction, *DomainObject, *mapping.RelationEndPointDefinition, ValueAccess) error {
	return nil
}
func (ListenerBase) RelationRead(*ClientTransaction, *DomainObject, *mapping.RelationEndPointDefinition, []*DomainObject, ValueAccess) error {
	return nil
}
func (ListenerBase) RelationChanging(*ClientTransaction, *DomainObject, *mapping.RelationEndPointDefinition, *DomainObject, *DomainObject) error {
	return nil
}
func (ListenerBase) RelationChanged(*ClientTransaction, *DomainObject, *mapping.RelationEndPointDefinition, *DomainObject, *DomainObject) error {
	return nil
}
func (ListenerBase) FilterQueryResult(_ *ClientTransaction, result QueryResult) (QueryResult, error) {
	return result, nil
}
func (ListenerBase) TransactionCommitting(*ClientTransaction, []*DomainObject) error     { return nil }
func (ListenerBase) TransactionCommitValidate(*ClientTransaction, []*DomainObject) error { return nil }
func (ListenerBase) TransactionCommitted(*ClientTransaction, []*DomainObject) error      { return nil }
func (ListenerBase) TransactionRollingBack(*ClientTransaction, []*DomainObject) error    { return nil }
func (ListenerBase) TransactionRolledBack(*ClientTransaction, []*DomainObject) error     { return nil }
func (ListenerBase) ObjectMarkedInvalid(*ClientTransaction, *DomainObject) error         { return nil }
func (ListenerBase) ObjectMarkedNotInvalid(*ClientTransaction, *DomainObject) error      { return nil }

// CompoundListener forwards every event to its members in registration order.
// The first error stops the broadcast.
type CompoundListener struct {
	listeners []TransactionListener
}

var _ TransactionListener = (*CompoundListener)(nil)

// NewCompoundListener returns a listener forwarding to ls.
func NewCompoundListener(ls ...TransactionListener) *CompoundListener {
	c := &CompoundListener{}
	for _, l := range ls {
		c.Add(l)
	}
	return c
}

// Add appends a listener; nil listeners are ignored.
func (c *CompoundListener) Add(l TransactionListener) {
	if l == nil {
		return
	}
	c.listeners = append(c.listeners, l)
}

// Listeners returns the members in order.
func (c *CompoundListener) Listeners() []TransactionListener {
	return append([]TransactionListener(nil), c.listeners...)
}

func (c *CompoundListener) each(fn func(TransactionListener) error) error {
	for _, l := range c.listeners {
		if err := fn(l); err != nil {
			return err
		}
	}
	return nil
}

func (c *CompoundListener) TransactionInitialize(tx *ClientTransaction) error {
	return c.each(func(l TransactionListener) error { return l.TransactionInitialize(tx) })
}

func (c *CompoundListener) TransactionDiscard(tx *ClientTransaction) error {
	return c.each(func(l TransactionListener) error { return l.TransactionDiscard(tx) })
}

func (c *CompoundListener) SubTransactionCreating(tx *ClientTransaction) error {
	return c.each(func(l TransactionListener) error { return l.SubTransactionCreating(tx) })
}

func (c *CompoundListener) SubTransactionInitialize(tx, sub *ClientTransaction) error {
	return c.each(func(l TransactionListener) error { return l.SubTransactionInitialize(tx, sub) })
}

func (c *CompoundListener) SubTransactionCreated(tx, sub *ClientTransaction) error {
	return c.each(func(l TransactionListener) error { return l.SubTransactionCreated(tx, sub) })
}

func (c *CompoundListener) NewObjectCreating(tx *ClientTransaction, classID string) error {
	return c.each(func(l TransactionListener) error { return l.NewObjectCreating(tx, classID) })
}

func (c *CompoundListener) ObjectsLoading(tx *ClientTransaction, ids []domain.ObjectID) error {
	return c.each(func(l TransactionListener) error { return l.ObjectsLoading(tx, ids) })
}

func (c *CompoundListener) ObjectsLoaded(tx *ClientTransaction, objects []*DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.ObjectsLoaded(tx, objects) })
}

func (c *CompoundListener) ObjectsUnloading(tx *ClientTransaction, objects []*DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.ObjectsUnloading(tx, objects) })
}

func (c *CompoundListener) ObjectsUnloaded(tx *ClientTransaction, objects []*DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.ObjectsUnloaded(tx, objects) })
}

func (c *CompoundListener) ObjectDeleting(tx *ClientTransaction, obj *DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.ObjectDeleting(tx, obj) })
}

func (c *CompoundListener) ObjectDeleted(tx *ClientTransaction, obj *DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.ObjectDeleted(tx, obj) })
}

func (c *CompoundListener) PropertyValueReading(tx *ClientTransaction, obj *DomainObject, prop *mapping.PropertyDefinition, access ValueAccess) error {
	return c.each(func(l TransactionListener) error { return l.PropertyValueReading(tx, obj, prop, access) })
}

func (c *CompoundListener) PropertyValueRead(tx *ClientTransaction, obj *DomainObject, prop *mapping.PropertyDefinition, value any, access ValueAccess) error {
	return c.each(func(l TransactionListener) error { return l.PropertyValueRead(tx, obj, prop, value, access) })
}

func (c *CompoundListener) PropertyValueChanging(tx *ClientTransaction, obj *DomainObject, prop *mapping.PropertyDefinition, oldValue, newValue any) error {
	return c.each(func(l TransactionListener) error { return l.PropertyValueChanging(tx, obj, prop, oldValue, newValue) })
}

func (c *CompoundListener) PropertyValueChanged(tx *ClientTransaction, obj *DomainObject, prop *mapping.PropertyDefinition, oldValue, newValue any) error {
	return c.each(func(l TransactionListener) error { return l.PropertyValueChanged(tx, obj, prop, oldValue, newValue) })
}

func (c *CompoundListener) RelationReading(tx *ClientTransaction, obj *DomainObject, def *mapping.RelationEndPointDefinition, access ValueAccess) error {
	return c.each(func(l TransactionListener) error { return l.RelationReading(tx, obj, def, access) })
}

func (c *CompoundListener) RelationRead(tx *ClientTransaction, obj *DomainObject, def *mapping.RelationEndPointDefinition, related []*DomainObject, access ValueAccess) error {
	return c.each(func(l TransactionListener) error { return l.RelationRead(tx, obj, def, related, access) })
}

func (c *CompoundListener) RelationChanging(tx *ClientTransaction, obj *DomainObject, def *mapping.RelationEndPointDefinition, oldRelated, newRelated *DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.RelationChanging(tx, obj, def, oldRelated, newRelated) })
}

func (c *CompoundListener) RelationChanged(tx *ClientTransaction, obj *DomainObject, def *mapping.RelationEndPointDefinition, oldRelated, newRelated *DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.RelationChanged(tx, obj, def, oldRelated, newRelated) })
}

// FilterQueryResult folds the result through every member: each one receives
// the previous member's output.
func (c *CompoundListener) FilterQueryResult(tx *ClientTransaction, result QueryResult) (QueryResult, error) {
	for _, l := range c.listeners {
		next, err := l.FilterQueryResult(tx, result)
		if err != nil {
			return QueryResult{}, err
		}
		result = next
	}
	return result, nil
}

func (c *CompoundListener) TransactionCommitting(tx *ClientTransaction, objects []*DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.TransactionCommitting(tx, objects) })
}

func (c *CompoundListener) TransactionCommitValidate(tx *ClientTransaction, objects []*DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.TransactionCommitValidate(tx, objects) })
}

func (c *CompoundListener) TransactionCommitted(tx *ClientTransaction, objects []*DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.TransactionCommitted(tx, objects) })
}

func (c *CompoundListener) TransactionRollingBack(tx *ClientTransaction, objects []*DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.TransactionRollingBack(tx, objects) })
}

func (c *CompoundListener) TransactionRolledBack(tx *ClientTransaction, objects []*DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.TransactionRolledBack(tx, objects) })
}

func (c *CompoundListener) ObjectMarkedInvalid(tx *ClientTransaction, obj *DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.ObjectMarkedInvalid(tx, obj) })
}

func (c *CompoundListener) ObjectMarkedNotInvalid(tx *ClientTransaction, obj *DomainObject) error {
	return c.each(func(l TransactionListener) error { return l.ObjectMarkedNotInvalid(tx, obj) })
}
