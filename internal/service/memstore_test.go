package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"loyalty/internal/model"
	"loyalty/internal/repository"
)

// memStore runs every transaction under one mutex, which is trivially
// serializable, and applies a transaction's writes only on commit.
type memStore struct {
	mu    sync.Mutex
	state memState

	// commitErrs are returned, in order, by the next commits instead of applying.
	commitErrs []error
	attempts   int
}

type memState struct {
	customers      map[string]model.Customer
	transactions   []model.Transaction
	fingerprints   map[string]bool
	nextCustomerID int64
	nextTxID       int64
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		customers:    map[string]model.Customer{},
		fingerprints: map[string]bool{},
	}}
}

func (s memState) clone() memState {
	c := memState{
		customers:      make(map[string]model.Customer, len(s.customers)),
		transactions:   append([]model.Transaction(nil), s.transactions...),
		fingerprints:   make(map[string]bool, len(s.fingerprints)),
		nextCustomerID: s.nextCustomerID,
		nextTxID:       s.nextTxID,
	}
	for k, v := range s.customers {
		c.customers[k] = v
	}
	for k, v := range s.fingerprints {
		c.fingerprints[k] = v
	}
	return c
}

func (s *memStore) WithinSerializable(ctx context.Context, fn func(ctx context.Context, tx repository.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++

	work := &memTx{state: s.state.clone()}
	if err := fn(ctx, work); err != nil {
		if errors.Is(err, repository.ErrRollback) {
			return nil
		}
		return err
	}
	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		return err
	}
	s.state = work.state
	return nil
}

func (s *memStore) CustomerByEmail(_ context.Context, email string) (*model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.customers[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (s *memStore) ListCustomers(context.Context) ([]model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Customer, 0, len(s.state.customers))
	for _, c := range s.state.customers {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) TransactionsByCustomer(_ context.Context, customerID int64) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for _, t := range s.state.transactions {
		if t.CustomerID == customerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) transactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.transactions)
}

// balanceMatchesLedger checks that every balance equals the sum of its transactions.
func (s *memStore) balanceMatchesLedger() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := map[int64]int64{}
	for _, t := range s.state.transactions {
		sums[t.CustomerID] += t.PointsAdded
	}
	for _, c := range s.state.customers {
		if sums[c.ID] != c.PointsBalance {
			return false
		}
	}
	return true
}

type memTx struct {
	state memState
}

func (t *memTx) CustomerByEmail(_ context.Context, email string) (*model.Customer, error) {
	c, ok := t.state.customers[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) InsertCustomer(_ context.Context, email string, externalID int64) (*model.Customer, error) {
	if _, ok := t.state.customers[email]; ok {
		return nil, errors.New("unique violation on customers.email")
	}
	for _, c := range t.state.customers {
		if c.ExternalID == externalID {
			return nil, fmt.Errorf("%w: customers.shopify_id %d", repository.ErrConflict, externalID)
		}
	}
	t.state.nextCustomerID++
	now := time.Now().UTC()
	c := model.Customer{
		ID:         t.state.nextCustomerID,
		Email:      email,
		ExternalID: externalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.state.customers[email] = c
	return &c, nil
}

func (t *memTx) TransactionExists(_ context.Context, fingerprint string) (bool, error) {
	return t.state.fingerprints[fingerprint], nil
}

func (t *memTx) IncrementBalance(_ context.Context, customerID, points int64) (int64, error) {
	for email, c := range t.state.customers {
		if c.ID == customerID {
			c.PointsBalance += points
			c.UpdatedAt = time.Now().UTC()
			t.state.customers[email] = c
			return c.PointsBalance, nil
		}
	}
	return 0, repository.ErrNotFound
}

func (t *memTx) InsertTransaction(_ context.Context, txn *model.Transaction) (int64, error) {
	if t.state.fingerprints[txn.Fingerprint] {
		return 0, errors.New("unique violation on transactions.transaction_hash")
	}
	t.state.nextTxID++
	row := *txn
	row.ID = t.state.nextTxID
	row.CreatedAt = time.Now().UTC()
	t.state.transactions = append(t.state.transactions, row)
	t.state.fingerprints[txn.Fingerprint] = true
	return row.ID, nil
}

type recordingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func (b *recordingBus) Publish(topic string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = map[string][][]byte{}
	}
	b.messages[topic] = append(b.messages[topic], data)
	return b.err
}

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[topic])
}
