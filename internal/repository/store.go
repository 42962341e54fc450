package repository

import (
	"context"
	"errors"

	"loyalty/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrSerialization marks a transaction that lost a serialization conflict
	// and can be retried from the start.
	ErrSerialization = errors.New("serialization conflict")
	// ErrConflict marks a unique violation that retrying cannot resolve,
	// such as an external customer id already owned by another email.
	ErrConflict = errors.New("unique constraint conflict")
	// ErrRollback lets a transaction body discard its work without failing.
	ErrRollback = errors.New("rollback requested")
)

// MessageBus publishes committed ledger events to other services.
// Publishing is best effort: the ledger has already committed.
type MessageBus interface {
	Publish(topic string, data []byte) error
}

// LedgerTx is the set of operations available inside one serializable transaction.
type LedgerTx interface {
	CustomerByEmail(ctx context.Context, email string) (*model.Customer, error)
	InsertCustomer(ctx context.Context, email string, externalID int64) (*model.Customer, error)
	TransactionExists(ctx context.Context, fingerprint string) (bool, error)
	IncrementBalance(ctx context.Context, customerID, points int64) (int64, error)
	InsertTransaction(ctx context.Context, t *model.Transaction) (int64, error)
}

// LedgerStore owns customers and transactions.
//
// WithinSerializable commits when fn returns nil and rolls back otherwise.
// A body returning ErrRollback is rolled back and WithinSerializable returns nil.
type LedgerStore interface {
	WithinSerializable(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
	CustomerByEmail(ctx context.Context, email string) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	TransactionsByCustomer(ctx context.Context, customerID int64) ([]model.Transaction, error)
}
