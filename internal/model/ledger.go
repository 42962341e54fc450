package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the subset of an "orders/create" webhook payload the ledger consumes.
type Order struct {
	ID         int64          `json:"id"`
	Email      string         `json:"email"`
	TotalPrice string         `json:"total_price"`
	Currency   string         `json:"currency"`
	Customer   *OrderCustomer `json:"customer,omitempty"`
}

type OrderCustomer struct {
	ID int64 `json:"id"`
}

// CustomerExternalID returns the source-system customer id, falling back to the
// order id for guest checkouts that carry no customer object.
func (o Order) CustomerExternalID() int64 {
	if o.Customer != nil && o.Customer.ID != 0 {
		return o.Customer.ID
	}
	return o.ID
}

type Customer struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	ExternalID    int64     `json:"shopify_id"`
	PointsBalance int64     `json:"points_balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Transaction struct {
	ID          int64           `json:"id"`
	CustomerID  int64           `json:"customer_id"`
	OrderID     int64           `json:"order_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PointsAdded int64           `json:"points_added"`
	Fingerprint string          `json:"transaction_hash"`
	CreatedAt   time.Time       `json:"created_at"`
}

const (
	ReasonUnsupportedCurrency = "unsupported_currency"
	ReasonNonPositiveAmount   = "non_positive_amount"
	ReasonDuplicate           = "duplicate"
)

type CreditResult struct {
	Credited      bool   `json:"credited"`
	NewBalance    int64  `json:"new_balance"`
	TransactionID int64  `json:"transaction_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// CreditedEvent is published on the message bus after a credit commits.
type CreditedEvent struct {
	ID            string    `json:"id"`
	CustomerID    int64     `json:"customer_id"`
	Email         string    `json:"email"`
	OrderID       int64     `json:"order_id"`
	PointsAdded   int64     `json:"points_added"`
	NewBalance    int64     `json:"new_balance"`
	TransactionID int64     `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}
