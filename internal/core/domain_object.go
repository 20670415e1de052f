package core

import (
	"graphcore/pkg/domain"
)

// DomainObject is the identity handle of a persistent object. A hierarchy of
// transactions holds exactly one instance per ObjectID; its data lives in the
// DataContainers of each transaction.
type DomainObject struct {
	id      domain.ObjectID
	root    *ClientTransaction
	binding *ClientTransaction
}

// ID returns the object id.
func (o *DomainObject) ID() domain.ObjectID { return o.id }

// ClassID returns the class of the object.
func (o *DomainObject) ClassID() string { return o.id.ClassID }

// RootTransaction returns the root of the hierarchy the object belongs to.
func (o *DomainObject) RootTransaction() *ClientTransaction { return o.root }

// BindingTransaction returns the transaction the object is pinned to, or nil.
func (o *DomainObject) BindingTransaction() *ClientTransaction { return o.binding }

// IsBound reports whether the object is pinned to a binding transaction.
func (o *DomainObject) IsBound() bool { return o.binding != nil }

func (o *DomainObject) String() string { return o.id.String() }

func objectIDOf(o *DomainObject) domain.ObjectID {
	if o == nil {
		return domain.ObjectID{}
	}
	return o.id
}
