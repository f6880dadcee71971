package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"shopfiscal/internal/core/apperror"
	"shopfiscal/internal/core/tx"
	"shopfiscal/pkg/logger"
)

var tracer = otel.Tracer("shopfiscal/tx")

var (
	_ tx.Manager      = (*TxManager)(nil)
	_ tx.PeriodLocker = (*TxManager)(nil)
)

// TxOptions configures transaction behavior.
type TxOptions struct {
	// IsolationLevel: pgx.Serializable, pgx.RepeatableRead, pgx.ReadCommitted
	IsolationLevel pgx.TxIsoLevel

	// AccessMode: pgx.ReadWrite, pgx.ReadOnly
	AccessMode pgx.TxAccessMode

	// StatementTimeout protects against long-running queries (default 30s)
	StatementTimeout time.Duration
}

// DefaultTxOptions returns production-safe defaults.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		IsolationLevel:   pgx.ReadCommitted,
		AccessMode:       pgx.ReadWrite,
		StatementTimeout: 30 * time.Second,
	}
}

// LockTimeouts supplies the current bound on lock waits.
type LockTimeouts interface {
	LockTimeout() time.Duration
}

// TxManager runs fiscal mutations in database transactions and hands out
// transaction-scoped period locks.
type TxManager struct {
	pool  *pgxpool.Pool
	locks LockTimeouts
}

// NewTxManager creates a new transaction manager.
func NewTxManager(pool *Pool, locks LockTimeouts) *TxManager {
	return &TxManager{pool: pool.Pool, locks: locks}
}

// txKey is the context key for active transaction.
type txKey struct{}

// RunInTransaction executes fn within a transaction.
// If a transaction already exists in ctx, it is reused.
func (m *TxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.RunInTransactionWithOptions(ctx, DefaultTxOptions(), fn)
}

// RunInTransactionWithOptions executes fn with custom transaction options.
func (m *TxManager) RunInTransactionWithOptions(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	if m.GetTx(ctx) != nil {
		return fn(ctx)
	}

	ctx, span := tracer.Start(ctx, "transaction",
		trace.WithAttributes(
			attribute.String("tx.isolation", string(opts.IsolationLevel)),
		))
	defer span.End()

	return m.startNewTransaction(ctx, opts, fn)
}

func (m *TxManager) startNewTransaction(ctx context.Context, opts TxOptions, fn func(ctx context.Context) error) error {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   opts.IsolationLevel,
		AccessMode: opts.AccessMode,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if opts.StatementTimeout > 0 {
		_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.StatementTimeout.Milliseconds()))
		if err != nil {
			return m.rollback(ctx, tx, fmt.Errorf("set statement_timeout: %w", err))
		}
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = m.rollback(ctx, tx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		return m.rollback(ctx, tx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rollback aborts tx after cause. A failed rollback leaves the store in an
// unknown state and is reported as an integrity fault.
func (m *TxManager) rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	// Background context: the caller's context may already be cancelled.
	rbErr := tx.Rollback(context.Background())
	if rbErr == nil || errors.Is(rbErr, pgx.ErrTxClosed) {
		return cause
	}
	logger.Error(ctx, "rollback failed", "error", rbErr, "original_error", cause)
	return apperror.NewIntegrityFault(cause, rbErr)
}

// GetTx returns the current transaction from context, or nil if none.
func (m *TxManager) GetTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// InTransaction reports whether ctx carries a transaction of this manager.
func (m *TxManager) InTransaction(ctx context.Context) bool {
	return m.GetTx(ctx) != nil
}

// Querier is satisfied by both pgx.Tx and the pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// GetQuerier returns the transaction in ctx, or the pool outside one.
func (m *TxManager) GetQuerier(ctx context.Context) Querier {
	if tx := m.GetTx(ctx); tx != nil {
		return tx
	}
	return m.pool
}

// ReadOnly executes fn in a read-only transaction.
func (m *TxManager) ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error {
	opts := DefaultTxOptions()
	opts.AccessMode = pgx.ReadOnly
	return m.RunInTransactionWithOptions(ctx, opts, fn)
}

// PeriodLockKey is the advisory lock key text of an org's period; the database hashes it.
func PeriodLockKey(orgID string, year, month int) string {
	return fmt.Sprintf("%s:%04d-%02d", orgID, year, month)
}

// LockPeriod implements tx.PeriodLocker with transaction-scoped advisory locks.
// Waits are bounded by the configured lock timeout.
func (m *TxManager) LockPeriod(ctx context.Context, orgID string, year, month int, mode tx.LockMode) error {
	dbTx := m.GetTx(ctx)
	if dbTx == nil {
		return fmt.Errorf("lock period: no transaction in context")
	}

	if m.locks != nil {
		if d := m.locks.LockTimeout(); d > 0 {
			if _, err := dbTx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())); err != nil {
				return fmt.Errorf("set lock_timeout: %w", err)
			}
		}
	}

	key := PeriodLockKey(orgID, year, month)
	query := "SELECT pg_advisory_xact_lock_shared(hashtext($1))"
	if mode == tx.LockExclusive {
		query = "SELECT pg_advisory_xact_lock(hashtext($1))"
	}
	if _, err := dbTx.Exec(ctx, query, key); err != nil {
		if isLockTimeout(err) {
			return apperror.NewLockTimeout("period " + key).WithCause(err)
		}
		return fmt.Errorf("lock period %s: %w", key, err)
	}
	return nil
}
