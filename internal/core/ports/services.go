package ports

import (
	"context"
	"time"

	"pesabridge/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Principals & capabilities ---

const (
	RoleMerchant = "merchant"
	RoleAdmin    = "admin"
)

// Principal is the resolved caller (user + role). Handlers perform explicit
// capability checks against it instead of chaining role middleware.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanAccess reports whether the principal may read resources owned by ownerID.
func (p Principal) CanAccess(ownerID uuid.UUID) bool {
	return p.IsAdmin() || p.UserID == ownerID
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID, role string) (string, time.Time, error)
	Validate(tokenString string) (*Principal, error)
}

// SignatureService handles HMAC-SHA256 signing over raw payload bytes and
// constant-time verification.
type SignatureService interface {
	Sign(secret string, payload []byte) string
	Verify(secret string, payload []byte, signature string) bool
}

// AuditService records audit log entries (best-effort side effect).
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Transaction lifecycle ---

// TransitionEvent describes what triggered a state transition and the
// provider fields to stamp when it applies.
type TransitionEvent struct {
	Trigger       string // "initiate", "provider_callback", "refund", "cancel", "expiry"
	CorrelationID string
	Receipt       string
	FailureReason string
}

// LifecycleService is the single writer to transaction status. Transition
// performs an atomic per-transaction check-and-set; the boolean result is
// false for an idempotent duplicate (accepted, no state change).
type LifecycleService interface {
	Transition(ctx context.Context, id uuid.UUID, target domain.TransactionStatus, ev TransitionEvent) (*domain.Transaction, bool, error)
	// AttachHandle stamps provider correlation identifiers on a PROCESSING
	// transaction after a successful initiate call.
	AttachHandle(ctx context.Context, id uuid.UUID, handle *ProviderHandle) (*domain.Transaction, error)
	// RecordDeliveryAttempts adds n to the transaction's webhook fan-out
	// attempt counter.
	RecordDeliveryAttempts(ctx context.Context, id uuid.UUID, n int) error
}

// --- Payment orchestration ---

// CreateIntentRequest holds validated input for intent creation.
type CreateIntentRequest struct {
	OwnerID      uuid.UUID
	Amount       decimal.Decimal
	Currency     string
	Provider     string
	Method       string
	Counterparty string
	Reference    string
	ClientIP     string
	UserAgent    string
}

// InitiateResult carries the provider handle back to the initiating caller.
type InitiateResult struct {
	Transaction     *domain.Transaction
	CorrelationID   string
	CustomerMessage string
}

// PaymentService drives transactions from intent to terminal outcome.
type PaymentService interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*domain.Transaction, error)
	Initiate(ctx context.Context, id uuid.UUID) (*InitiateResult, error)
	// HandleCallback normalizes a provider webhook, applies the transition
	// and fans the outcome out to subscribers. Duplicate deliveries are
	// accepted as no-ops.
	HandleCallback(ctx context.Context, provider string, raw []byte, signature string) (*domain.Transaction, error)
	Refund(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	// Reconcile polls the provider for the outcome of a PROCESSING
	// transaction whose callback never arrived and applies it.
	Reconcile(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

// --- Webhook subscriptions & dispatch ---

// CreateSubscriptionRequest holds validated input for subscription creation.
type CreateSubscriptionRequest struct {
	OwnerID     uuid.UUID
	URL         string
	Events      []domain.EventName
	MaxAttempts int
	Timeout     time.Duration
}

// UpdateSubscriptionRequest toggles delivery policy; nil fields are unchanged.
// The signing secret is immutable and cannot be updated.
type UpdateSubscriptionRequest struct {
	URL         *string
	Events      []domain.EventName
	MaxAttempts *int
	Timeout     *time.Duration
	Active      *bool
}

// SubscriptionService manages merchant webhook configuration.
type SubscriptionService interface {
	// Create returns the subscription and its plaintext signing secret,
	// shown exactly once.
	Create(ctx context.Context, req CreateSubscriptionRequest) (*domain.WebhookSubscription, string, error)
	Update(ctx context.Context, id uuid.UUID, principal Principal, req UpdateSubscriptionRequest) (*domain.WebhookSubscription, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]domain.WebhookSubscription, error)
	Deliveries(ctx context.Context, id uuid.UUID, principal Principal) ([]domain.DeliveryRecord, error)
}

// DispatcherService fans a transaction outcome event out to the owner's
// subscribed endpoints. Delivery is best-effort and decoupled from the
// authoritative state transition.
type DispatcherService interface {
	Dispatch(ctx context.Context, tx *domain.Transaction, event domain.EventName) error
	// Close stops accepting new dispatches and waits for in-flight
	// deliveries to finish or the context to expire.
	Close(ctx context.Context) error
}
