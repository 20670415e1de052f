package domain

import (
	"fmt"
	"strings"
)

// ObjectNotFoundError is returned when an object never existed in storage.
type ObjectNotFoundError struct {
	ID ObjectID
}

func (e ObjectNotFoundError) Error() string {
	return fmt.Sprintf("object '%s' could not be found", e.ID)
}

// ObjectInvalidError is returned when an object was deleted and committed, was
// discarded by a rollback, or is otherwise unusable in the transaction.
type ObjectInvalidError struct {
	ID ObjectID
}

func (e ObjectInvalidError) Error() string {
	return fmt.Sprintf("object '%s' is invalid in this transaction", e.ID)
}

// ObjectDiscardedError names the same condition from the point of view of the
// discarded-container index.
type ObjectDiscardedError = ObjectInvalidError

// ObjectDeletedError is returned when a deleted but uncommitted object is
// accessed without asking for deleted objects.
type ObjectDeletedError struct {
	ID ObjectID
}

func (e ObjectDeletedError) Error() string {
	return fmt.Sprintf("object '%s' is already deleted", e.ID)
}

// MandatoryRelationNotSetError is returned at commit time when a mandatory
// relation property is empty.
type MandatoryRelationNotSetError struct {
	ID           ObjectID
	PropertyName string
}

func (e MandatoryRelationNotSetError) Error() string {
	return fmt.Sprintf("mandatory relation property '%s' of object '%s' is not set", e.PropertyName, e.ID)
}

// ObjectRole says which side of an operation an object took part in.
type ObjectRole string

// Object roles reported by ClientTransactionsDifferError.
const (
	RoleTarget  ObjectRole = "target"
	RoleRelated ObjectRole = "related"
)

// ClientTransactionsDifferError is returned when an object is used through a
// transaction it may not be used in: it is bound to a different binding
// transaction, or it belongs to a different transaction hierarchy.
type ClientTransactionsDifferError struct {
	ID ObjectID
	// Role is the object's role in the rejected operation.
	Role ObjectRole
	// BoundTo names the binding transaction the object is pinned to, if any.
	BoundTo string
	// Hierarchy names the root transaction of the object's hierarchy when the
	// object is not bound.
	Hierarchy string
	// Transaction names the transaction the operation was scoped to.
	Transaction string
	// TransactionIsBinding is set when Transaction is a binding transaction.
	TransactionIsBinding bool
}

func (e ClientTransactionsDifferError) Error() string {
	if e.BoundTo != "" {
		return fmt.Sprintf("%s object '%s' is bound to binding transaction %s and cannot be used in transaction %s",
			e.Role, e.ID, e.BoundTo, e.Transaction)
	}
	kind := "transaction"
	if e.TransactionIsBinding {
		kind = "binding transaction"
	}
	return fmt.Sprintf("%s object '%s' belongs to the transaction hierarchy of %s and cannot be used in %s %s",
		e.Role, e.ID, e.Hierarchy, kind, e.Transaction)
}

// BulkLoadError aggregates the per-object failures of one bulk load.
type BulkLoadError struct {
	Errors []error
}

func (e BulkLoadError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d object(s) could not be loaded: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e BulkLoadError) Unwrap() []error {
	return e.Errors
}

// ClientTransactionReadOnlyError is returned by mutating operations on a
// transaction that has an active sub-transaction.
type ClientTransactionReadOnlyError struct {
	Operation string
}

func (e ClientTransactionReadOnlyError) Error() string {
	return fmt.Sprintf("the transaction is read-only, probably because it has an open sub-transaction; offending operation: %s", e.Operation)
}

// TransactionDiscardedError is returned by every operation on a discarded transaction.
type TransactionDiscardedError struct {
	Operation string
}

func (e TransactionDiscardedError) Error() string {
	return fmt.Sprintf("the transaction has been discarded; offending operation: %s", e.Operation)
}

// InvalidOperationError reports an operation that is illegal in the current state.
type InvalidOperationError struct {
	Message string
}

func (e InvalidOperationError) Error() string {
	return e.Message
}

// ArgumentError reports an invalid argument.
type ArgumentError struct {
	Argument string
	Message  string
}

func (e ArgumentError) Error() string {
	if e.Argument == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Argument, e.Message)
}

// SerializationError reports a type that cannot be flattened or a flattened
// stream that violates its structure.
type SerializationError struct {
	Message string
}

func (e SerializationError) Error() string {
	return "serialization: " + e.Message
}

// ConcurrencyViolationError is returned by storage providers when a saved
// object was changed by someone else since it was loaded.
type ConcurrencyViolationError struct {
	IDs []ObjectID
}

func (e ConcurrencyViolationError) Error() string {
	parts := make([]string, 0, len(e.IDs))
	for _, id := range e.IDs {
		parts = append(parts, id.String())
	}
	return fmt.Sprintf("concurrency violation for object(s) %s", strings.Join(parts, ", "))
}
