package ports

import (
	"context"
	"time"

	"pesabridge/internal/core/domain"

	"github.com/shopspring/decimal"
)

// Outcome is the normalized result of a payment attempt at the provider.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ProviderHandle is returned by Initiate and carries the provider's
// correlation identifiers plus human-readable instructions for the customer.
type ProviderHandle struct {
	CorrelationID   string // links the initiate call to its eventual callback
	ProviderRef     string // secondary provider reference, if any
	CustomerMessage string
}

// CanonicalResult is the provider-agnostic normalized outcome of a payment
// attempt, produced from a provider callback or a status poll.
type CanonicalResult struct {
	CorrelationID string
	Outcome       Outcome
	Receipt       string
	SettledAmount decimal.Decimal
	Counterparty  string
	FailureReason string
	Timestamp     time.Time
}

// ProviderAdapter translates transactions into provider-specific initiation
// calls and provider webhook payloads into canonical results. Adapters make
// the outbound HTTP call but never touch the transaction store; applying the
// result is the caller's job, keeping a single writer to transaction state.
type ProviderAdapter interface {
	Name() string
	Supports(method string) bool

	// Initiate calls the provider. On any non-success provider response it
	// returns a PRV-class error (auth failure, rejected, unavailable) and the
	// caller must not retry automatically.
	Initiate(ctx context.Context, tx *domain.Transaction) (*ProviderHandle, error)

	// NormalizeCallback parses a provider webhook body. Missing required
	// fields yield a HOOK_001 malformed-callback error rather than a crash.
	NormalizeCallback(raw []byte) (*CanonicalResult, error)

	// QueryStatus is the status-poll fallback for transactions whose
	// callback never arrived.
	QueryStatus(ctx context.Context, correlationID string) (*CanonicalResult, error)
}

// CallbackVerifier is implemented by adapters whose provider signs inbound
// callbacks. The ingress handler type-asserts for it and rejects callbacks
// whose signature does not verify.
type CallbackVerifier interface {
	VerifyCallback(body []byte, signature string) bool
}
