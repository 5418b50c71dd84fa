/*
store.go - Persistence contract for liabilities, entries and plans

PURPOSE:
  Defines the interface between the ledger/planner logic and a storage
  backend. Any backend (SQLite, PostgreSQL, MongoDB, in-memory) that can
  offer an all-or-nothing unit of work can serve the ledger.

KEY INTERFACES:
  Store:   reads and writes scoped by owning user
  TxStore: Store plus WithTx, the unit of work

OWNERSHIP:
  Every read takes the owning UserID. A record owned by another user is
  indistinguishable from a missing one: both return *NotFoundError.

UNIT OF WORK:
  WithTx runs fn against a transactional view of the store.
  - fn returns nil:   all writes commit together
  - fn returns error: all writes roll back, the error is returned as-is
  - begin/commit failures are wrapped with ErrTransactionFailed

  Balance read-modify-write happens inside fn. A liability read through
  the transactional view is protected against concurrent writers until
  the unit of work ends (row lock, serialized writer, or write-conflict
  abort, depending on the backend). Never compute a balance from a value
  read outside the transaction.

  WithTx does not nest: fn must use the Store it is given.

IMPLEMENTATIONS:
  - ledger/store:    in-memory, snapshot + rollback
  - store/sqlite:    database/sql + mattn/go-sqlite3
  - store/postgres:  jackc/pgx/v5 pool, SELECT ... FOR UPDATE
  - store/mongo:     mongo-driver/v2 multi-document transactions
*/
package ledger

import (
	"context"

	"github.com/warp/debt-planner/id"
)

// Store persists ledger and plan records.
type Store interface {
	// Liabilities
	CreateLiability(ctx context.Context, l *Liability) error
	GetLiability(ctx context.Context, userID UserID, liabilityID id.ID) (*Liability, error)
	// ListLiabilities returns the user's liabilities ordered by creation.
	// An empty status returns every liability.
	ListLiabilities(ctx context.Context, userID UserID, status Status) ([]*Liability, error)
	UpdateLiability(ctx context.Context, l *Liability) error
	DeleteLiability(ctx context.Context, userID UserID, liabilityID id.ID) error

	// Entries (charges and payments)
	CreateEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, userID UserID, entryID id.ID) (*Entry, error)
	// ListEntries returns entries of one liability in creation order.
	ListEntries(ctx context.Context, userID UserID, liabilityID id.ID) ([]*Entry, error)
	UpdateEntry(ctx context.Context, e *Entry) error
	DeleteEntry(ctx context.Context, userID UserID, entryID id.ID) error
	// DeleteEntries removes every entry of a liability and returns the count.
	DeleteEntries(ctx context.Context, userID UserID, liabilityID id.ID) (int, error)

	// Plans
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, userID UserID, planID id.ID) (*Plan, error)
	// ListPlans returns the user's plans, newest first.
	ListPlans(ctx context.Context, userID UserID) ([]*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error

	Ping(ctx context.Context) error
}

// TxStore wraps Store with the unit of work.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
