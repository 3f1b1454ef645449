package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusCancelled  TransactionStatus = "CANCELLED"
	StatusRefunded   TransactionStatus = "REFUNDED"
)

// transitions is the full state machine. A status missing from a source set
// is unreachable from it; terminal states have empty sets.
var transitions = map[TransactionStatus]map[TransactionStatus]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
	StatusCompleted: {
		StatusRefunded: true,
	},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusRefunded:  {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to TransactionStatus) bool {
	return transitions[from][to]
}

// Transaction is one payment attempt from intent to terminal outcome.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	OwnerID       uuid.UUID         `json:"owner_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Currency      string            `json:"currency"`
	Provider      string            `json:"provider"`
	Method        string            `json:"method"`
	Counterparty  string            `json:"counterparty"` // phone or account number
	Reference     string            `json:"reference,omitempty"`
	Status        TransactionStatus `json:"status"`
	CorrelationID string            `json:"correlation_id,omitempty"` // provider checkout-request id
	ProviderRef   string            `json:"provider_ref,omitempty"`
	ReceiptNumber string            `json:"receipt_number,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`

	// DeliveryAttempts counts webhook fan-out attempts made for this
	// transaction's outcome events.
	DeliveryAttempts int `json:"delivery_attempts"`

	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// IsExpired reports whether a PENDING transaction sat past its expiry and
// must not be initiated.
func (t *Transaction) IsExpired(now time.Time) bool {
	return t.Status == StatusPending && now.After(t.ExpiresAt)
}

// IsRefundable returns true if this transaction can be refunded.
func (t *Transaction) IsRefundable() bool {
	return t.Status == StatusCompleted
}
