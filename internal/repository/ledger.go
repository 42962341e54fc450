package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"loyalty/internal/model"
)

// SQLSTATE codes that mean "another transaction won, try again".
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// Unique constraints a concurrent transaction can win; retrying then finds its row.
var racingConstraints = map[string]bool{
	"customers_email_key":               true,
	"transactions_transaction_hash_key": true,
}

const customerColumns = `id, email, shopify_id, points_balance, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LedgerRepo is the PostgreSQL LedgerStore.
type LedgerRepo struct {
	dbPool *pgxpool.Pool
}

func NewLedgerRepo(db *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{dbPool: db}
}

func (r *LedgerRepo) WithinSerializable(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	tx, err := r.dbPool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(fmt.Errorf("begin serializable tx: %w", err))
	}

	if err := fn(ctx, &ledgerTx{tx: tx}); err != nil {
		// Rollback must run even when ctx is already cancelled.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		if errors.Is(err, ErrRollback) {
			return nil
		}
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (r *LedgerRepo) CustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	return customerByEmail(ctx, r.dbPool, email)
}

func (r *LedgerRepo) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.dbPool.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]model.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

func (r *LedgerRepo) TransactionsByCustomer(ctx context.Context, customerID int64) ([]model.Transaction, error) {
	rows, err := r.dbPool.Query(ctx, `
		SELECT id, customer_id, order_id, amount::text, currency, points_added, transaction_hash, created_at
		FROM transactions
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]model.Transaction, 0)
	for rows.Next() {
		var (
			t      model.Transaction
			amount string
		)
		if err := rows.Scan(&t.ID, &t.CustomerID, &t.OrderID, &amount, &t.Currency, &t.PointsAdded, &t.Fingerprint, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) CustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	return customerByEmail(ctx, t.tx, email)
}

func (t *ledgerTx) InsertCustomer(ctx context.Context, email string, externalID int64) (*model.Customer, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO customers (email, shopify_id, points_balance)
		VALUES ($1, $2, 0)
		RETURNING `+customerColumns, email, externalID)
	c, err := scanCustomer(row)
	if err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return c, nil
}

func (t *ledgerTx) TransactionExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE transaction_hash = $1)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup transaction: %w", err)
	}
	return exists, nil
}

func (t *ledgerTx) IncrementBalance(ctx context.Context, customerID, points int64) (int64, error) {
	var balance int64
	err := t.tx.QueryRow(ctx, `
		UPDATE customers
		SET points_balance = points_balance + $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING points_balance`, points, customerID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment balance: %w", err)
	}
	return balance, nil
}

func (t *ledgerTx) InsertTransaction(ctx context.Context, txn *model.Transaction) (int64, error) {
	var id int64
	// The amount travels as text so NUMERIC keeps the exact decimal value.
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (customer_id, order_id, amount, currency, points_added, transaction_hash)
		VALUES ($1, $2, $3::text::numeric, $4, $5, $6)
		RETURNING id`,
		txn.CustomerID, txn.OrderID, txn.Amount.String(), txn.Currency, txn.PointsAdded, txn.Fingerprint,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func customerByEmail(ctx context.Context, q querier, email string) (*model.Customer, error) {
	row := q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = $1`, email)
	c, err := scanCustomer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup customer: %w", err)
	}
	return c, nil
}

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	if err := row.Scan(&c.ID, &c.Email, &c.ExternalID, &c.PointsBalance, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// classify tags retryable PostgreSQL conflicts with ErrSerialization.
// Two first orders racing on the same email surface as 23505 on the loser,
// and the retry then finds the winner's row. Any other unique violation is
// permanent and tagged ErrConflict.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrSerialization) || errors.Is(err, ErrConflict) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", ErrSerialization, err)
		case pgUniqueViolation:
			if racingConstraints[pgErr.ConstraintName] {
				return fmt.Errorf("%w: %w", ErrSerialization, err)
			}
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
	}
	return err
}
