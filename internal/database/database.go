// Package database carries the pgx plumbing shared by the stores: a pool
// interface that pgxmock satisfies and a transaction that rides on the context
// so services can compose several store calls atomically.
package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the query surface shared by pools and transactions.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DB that can open transactions (pgxpool.Pool, pgxmock pool).
type Pool interface {
	DB
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// TxRunner runs fn atomically. Nested calls join the outer transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// Conn returns the transaction bound to ctx, or pool when there is none.
func Conn(ctx context.Context, pool Pool) DB {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// PgRunner opens read-committed transactions on a pool.
type PgRunner struct {
	pool Pool
}

func NewPgRunner(pool Pool) *PgRunner {
	if pool == nil {
		panic("database: pool required")
	}
	return &PgRunner{pool: pool}
}

func (r *PgRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("database: begin: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("database: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("database: commit: %w", err)
	}
	return nil
}

// MemoryRunner serializes in-memory "transactions". It gives the memory
// stores the isolation the slot and idempotency checks rely on; it does not
// roll back partial writes, so memory stores validate before they write.
type MemoryRunner struct {
	mu sync.Mutex
}

type memoryTxKey struct{}

func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

func (r *MemoryRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(context.WithValue(ctx, memoryTxKey{}, true))
}

// IsUniqueViolation reports a unique constraint failure, optionally on a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	return isPgCode(err, "23505", constraint)
}

// IsExclusionViolation reports an exclusion constraint failure.
func IsExclusionViolation(err error, constraint string) bool {
	return isPgCode(err, "23P01", constraint)
}

// IsForeignKeyViolation reports a write blocked by a foreign key.
func IsForeignKeyViolation(err error) bool {
	return isPgCode(err, "23503", "")
}

func isPgCode(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
