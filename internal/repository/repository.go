// Package repository implements persistence over a shared pgx connection
// pool. All methods return domain types; SQL never leaks past this package.
package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaDDL string

// Repository bundles all query groups over one pool. The pool is shared with
// River so queue inserts can join repository transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a Repository over the given pool.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate applies the schema DDL. Statements are idempotent; production
// deployments run managed migrations instead.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// nullDecimal adapts an optional decimal for a nullable NUMERIC parameter.
func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// decimalPtr converts a scanned nullable NUMERIC back to an optional decimal.
func decimalPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}
