package core

import (
	"context"

	"graphcore/pkg/domain"
)

// AutoRollbackBehavior says what leaving a scope does to its transaction.
type AutoRollbackBehavior int

const (
	// AutoRollbackNone leaves the transaction as it is.
	AutoRollbackNone AutoRollbackBehavior = iota
	// AutoRollbackRollback rolls back uncommitted changes.
	AutoRollbackRollback
	// AutoRollbackDiscard discards the transaction.
	AutoRollbackDiscard
)

// ScopeStack tracks the current transaction of one goroutine's call flow.
// The zero value is empty and ready to use.
type ScopeStack struct {
	scopes []*TransactionScope
}

// TransactionScope makes a transaction current until Leave is called.
type TransactionScope struct {
	stack    *ScopeStack
	tx       *ClientTransaction
	behavior AutoRollbackBehavior
	left     bool
}

// Enter makes tx current.
func (s *ScopeStack) Enter(tx *ClientTransaction, behavior AutoRollbackBehavior) *TransactionScope {
	scope := &TransactionScope{stack: s, tx: tx, behavior: behavior}
	s.scopes = append(s.scopes, scope)
	return scope
}

// Current returns the transaction of the innermost scope, or nil.
func (s *ScopeStack) Current() *ClientTransaction {
	if len(s.scopes) == 0 {
		return nil
	}
	return s.scopes[len(s.scopes)-1].tx
}

// Transaction returns the scoped transaction.
func (sc *TransactionScope) Transaction() *ClientTransaction { return sc.tx }

// Leave restores the previous current transaction and applies the scope's
// auto-rollback behavior.
func (sc *TransactionScope) Leave() error {
	if sc.left {
		return domain.InvalidOperationError{Message: "the transaction scope has already been left"}
	}
	scopes := sc.stack.scopes
	if len(scopes) == 0 || scopes[len(scopes)-1] != sc {
		return domain.InvalidOperationError{Message: "transaction scopes must be left in reverse order of entering"}
	}
	sc.stack.scopes = scopes[:len(scopes)-1]
	sc.left = true
	switch sc.behavior {
	case AutoRollbackRollback:
		if !sc.tx.IsDiscarded() && sc.tx.HasChanged() {
			return sc.tx.Rollback()
		}
	case AutoRollbackDiscard:
		return sc.tx.Discard()
	}
	return nil
}

type transactionKey struct{}

// ContextWithTransaction returns a context carrying tx.
func ContextWithTransaction(ctx context.Context, tx *ClientTransaction) context.Context {
	return context.WithValue(ctx, transactionKey{}, tx)
}

// TransactionFromContext returns the transaction stored by
// ContextWithTransaction.
func TransactionFromContext(ctx context.Context) (*ClientTransaction, bool) {
	tx, ok := ctx.Value(transactionKey{}).(*ClientTransaction)
	return tx, ok && tx != nil
}
