// Package dbtx carries an open gorm transaction through a context so that an
// outer unit of work (the idempotency guard) and the workflow it wraps commit
// together.
package dbtx

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Inject - Attach tx to ctx
func Inject(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// From - Return the transaction carried by ctx, or db bound to ctx when there is none.
// Calling Transaction on the result nests as a savepoint inside an outer transaction.
func From(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// InTransaction - Report whether ctx already carries a transaction
func InTransaction(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok && tx != nil
}
