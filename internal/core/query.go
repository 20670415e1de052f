package core

import (
	"context"

	"graphcore/pkg/domain"
)

// QueryCollection runs q, loads the result objects into the transaction and
// passes the result through every listener's FilterQueryResult. Objects
// deleted in this transaction are left out.
func (tx *ClientTransaction) QueryCollection(ctx context.Context, q domain.Query) (QueryResult, error) {
	if err := tx.ensureUsable("QueryCollection"); err != nil {
		return QueryResult{}, err
	}
	if _, err := tx.hierarchy.mapping.Class(q.ClassID); err != nil {
		return QueryResult{}, err
	}
	data, err := tx.dm.persistence.loadQueryResultData(ctx, q)
	if err != nil {
		return QueryResult{}, err
	}
	var errs []error
	for _, item := range data {
		if item.err != nil {
			errs = append(errs, item.err)
		}
	}
	if len(errs) > 0 {
		return QueryResult{}, domain.BulkLoadError{Errors: dedupeErrors(errs)}
	}
	ids, err := tx.dm.registerLoadedObjects(ctx, data)
	if err != nil {
		return QueryResult{}, err
	}
	result := QueryResult{Query: q}
	for _, id := range ids {
		if dc, ok := tx.dm.containers.Get(id); ok && dc.isDeleted {
			continue
		}
		result.Objects = append(result.Objects, tx.hierarchy.object(id))
	}
	return tx.events().FilterQueryResult(tx, result)
}
