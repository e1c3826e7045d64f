// Package db is the hand-written persistence layer for the control plane's
// durable state (§6 persisted-state layout): tenants, invoices, the
// append-only lifecycle event journal, and backup records. It follows the
// DBTX/Queries shape sqlc generates, without the code-gen step, since the
// table surface here is small and stable.
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolationCode is Postgres's SQLSTATE for a unique-constraint
// violation (e.g. two racing inserts on tenants.domain).
const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, so callers can turn a racing INSERT into a domain-level
// "already exists" instead of a generic failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so every query method
// works unmodified inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries bundles every hand-written query against DBTX.
type Queries struct {
	db DBTX
}

// New wraps a pool or transaction in a Queries.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx, for callers that need several
// statements to commit atomically.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}
