package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"loyalty/internal/model"
	"loyalty/internal/repository"
)

// CreditedTopic is the bus subject for committed credits.
const CreditedTopic = "loyalty.points.credited"

// ErrInvalidOrder marks an order that can never be credited as sent, such as
// one with an unparseable amount. Retrying it is pointless.
var ErrInvalidOrder = errors.New("invalid order")

// maxAmount is the exclusive upper bound of transactions.amount, NUMERIC(12,2).
var maxAmount = decimal.New(1, 10)

// LedgerService defines the business operations for the points ledger.
// All transport layers (HTTP, NATS, worker) depend on this interface, not on the concrete type.
type LedgerService interface {
	CreditPoints(ctx context.Context, order model.Order) (*model.CreditResult, error)
	GetOrCreateCustomer(ctx context.Context, email string, externalID int64) (*model.Customer, error)
	GetBalance(ctx context.Context, email string) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	Transactions(ctx context.Context, email string) ([]model.Transaction, error)
}

type LedgerOptions struct {
	// AcceptedCurrency is the only ISO code that earns points. Defaults to EUR.
	AcceptedCurrency string
	// MaxRetries bounds retries of a transaction that lost a serialization conflict.
	MaxRetries int
	// RetryBase is the first backoff delay; it doubles per retry up to one second.
	RetryBase time.Duration
	Bus       repository.MessageBus
	Logger    *slog.Logger
}

// PointsLedger credits points exactly once per (customer, order) pair.
type PointsLedger struct {
	store            repository.LedgerStore
	bus              repository.MessageBus
	acceptedCurrency string
	maxRetries       uint64
	retryBase        time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

var _ LedgerService = (*PointsLedger)(nil)

func NewPointsLedger(store repository.LedgerStore, opts LedgerOptions) *PointsLedger {
	currency := strings.ToUpper(strings.TrimSpace(opts.AcceptedCurrency))
	if currency == "" {
		currency = "EUR"
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	base := opts.RetryBase
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PointsLedger{
		store:            store,
		bus:              opts.Bus,
		acceptedCurrency: currency,
		maxRetries:       uint64(retries),
		retryBase:        base,
		logger:           logger.With("component", "ledger"),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// CreditPoints adds floor(total_price) points to the order's customer.
//
// Unsupported currencies, non-positive amounts and already-credited orders
// return Credited=false with no state change. The whole body runs in one
// serializable transaction, so a returned error means nothing was written.
func (l *PointsLedger) CreditPoints(ctx context.Context, order model.Order) (*model.CreditResult, error) {
	logger := l.logger.With("order_id", order.ID, "email", order.Email)

	currency := strings.ToUpper(strings.TrimSpace(order.Currency))
	if currency != l.acceptedCurrency {
		logger.Warn("unsupported currency, order ignored", "currency", order.Currency, "accepted", l.acceptedCurrency)
		return &model.CreditResult{Reason: model.ReasonUnsupportedCurrency}, nil
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(order.TotalPrice))
	if err != nil {
		return nil, fmt.Errorf("%w: total_price %q: %v", ErrInvalidOrder, order.TotalPrice, err)
	}
	if !amount.IsPositive() {
		logger.Info("no points to add", "total_price", order.TotalPrice)
		return &model.CreditResult{Reason: model.ReasonNonPositiveAmount}, nil
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return nil, fmt.Errorf("%w: total_price %q exceeds %s", ErrInvalidOrder, order.TotalPrice, maxAmount)
	}
	points := amount.Floor().IntPart()
	if points <= 0 {
		logger.Info("no points to add", "total_price", order.TotalPrice)
		return &model.CreditResult{Reason: model.ReasonNonPositiveAmount}, nil
	}

	email := normalizeEmail(order.Email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidOrder)
	}

	var (
		result *model.CreditResult
		event  *model.CreditedEvent
	)
	err = l.withRetry(ctx, "credit_points", func(ctx context.Context) error {
		result, event = nil, nil
		return l.store.WithinSerializable(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
			customer, err := getOrCreate(ctx, tx, email, order.CustomerExternalID())
			if err != nil {
				return err
			}

			fingerprint := model.TransactionFingerprint(customer.ExternalID, order.ID)
			exists, err := tx.TransactionExists(ctx, fingerprint)
			if err != nil {
				return err
			}
			if exists {
				result = &model.CreditResult{NewBalance: customer.PointsBalance, Reason: model.ReasonDuplicate}
				return repository.ErrRollback
			}

			balance, err := tx.IncrementBalance(ctx, customer.ID, points)
			if err != nil {
				return err
			}
			txID, err := tx.InsertTransaction(ctx, &model.Transaction{
				CustomerID:  customer.ID,
				OrderID:     order.ID,
				Amount:      amount,
				Currency:    currency,
				PointsAdded: points,
				Fingerprint: fingerprint,
			})
			if err != nil {
				return err
			}

			result = &model.CreditResult{Credited: true, NewBalance: balance, TransactionID: txID}
			event = &model.CreditedEvent{
				CustomerID:    customer.ID,
				Email:         email,
				OrderID:       order.ID,
				PointsAdded:   points,
				NewBalance:    balance,
				TransactionID: txID,
			}
			return nil
		})
	})
	if errors.Is(err, repository.ErrConflict) {
		logger.Error("order conflicts with an existing customer", "error", err)
		return nil, fmt.Errorf("%w: order %d: %w", ErrInvalidOrder, order.ID, err)
	}
	if err != nil {
		logger.Error("credit points failed", "error", err)
		return nil, fmt.Errorf("credit points for order %d: %w", order.ID, err)
	}

	if !result.Credited {
		logger.Info("duplicate transaction detected, order ignored")
		return result, nil
	}

	logger.Info("points credited", "points", points, "new_balance", result.NewBalance, "transaction_id", result.TransactionID)
	l.publish(event)
	return result, nil
}

// GetOrCreateCustomer returns the customer for email, creating it with a zero balance.
func (l *PointsLedger) GetOrCreateCustomer(ctx context.Context, email string, externalID int64) (*model.Customer, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidOrder)
	}

	var customer *model.Customer
	err := l.withRetry(ctx, "get_or_create_customer", func(ctx context.Context) error {
		customer = nil
		return l.store.WithinSerializable(ctx, func(ctx context.Context, tx repository.LedgerTx) error {
			c, err := getOrCreate(ctx, tx, email, externalID)
			if err != nil {
				return err
			}
			customer = c
			return nil
		})
	})
	if err != nil {
		l.logger.Error("get or create customer failed", "email", email, "error", err)
		return nil, fmt.Errorf("get or create customer %s: %w", email, err)
	}
	return customer, nil
}

func (l *PointsLedger) GetBalance(ctx context.Context, email string) (*model.Customer, error) {
	c, err := l.store.CustomerByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return c, nil
}

func (l *PointsLedger) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	customers, err := l.store.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return customers, nil
}

func (l *PointsLedger) Transactions(ctx context.Context, email string) ([]model.Transaction, error) {
	c, err := l.store.CustomerByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	txs, err := l.store.TransactionsByCustomer(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// withRetry reruns fn only while it fails with repository.ErrSerialization.
func (l *PointsLedger) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(l.retryBase)
	b = retry.WithCappedDuration(time.Second, b)
	b = retry.WithMaxRetries(l.maxRetries, b)

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if errors.Is(err, repository.ErrSerialization) {
			l.logger.Warn("serialization conflict", "operation", operation, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (l *PointsLedger) publish(event *model.CreditedEvent) {
	if l.bus == nil || event == nil {
		return
	}
	event.ID = uuid.NewString()
	event.CreatedAt = l.now()

	data, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("marshal credited event", "error", err)
		return
	}
	if err := l.bus.Publish(CreditedTopic, data); err != nil {
		l.logger.Error("publish credited event", "order_id", event.OrderID, "error", err)
	}
}

func getOrCreate(ctx context.Context, tx repository.LedgerTx, email string, externalID int64) (*model.Customer, error) {
	customer, err := tx.CustomerByEmail(ctx, email)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return tx.InsertCustomer(ctx, email, externalID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
