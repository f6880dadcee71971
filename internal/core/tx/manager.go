// Package tx provides transaction management abstractions.
// Domain services depend on these interfaces; storage backends implement them.
package tx

import (
	"context"
)

// Manager defines the contract for transaction management.
type Manager interface {
	// RunInTransaction executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn succeeds, the transaction is committed.
	//
	// Nested calls reuse the existing transaction from context.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// LockMode selects how a period lock is held.
type LockMode int

const (
	// LockShared is held by postings; many postings may proceed together.
	LockShared LockMode = iota
	// LockExclusive is held by close/reopen and excludes every posting.
	LockExclusive
)

// PeriodLocker serializes ledger work for one organization's accounting period.
// Locks are transaction scoped and released on commit or rollback.
type PeriodLocker interface {
	LockPeriod(ctx context.Context, orgID string, year, month int, mode LockMode) error
}
