package ports

import (
	"context"
	"time"

	"pesabridge/internal/core/domain"

	"github.com/google/uuid"
)

// TransactionRepository is the authoritative record of transaction state.
// Implementations (in-memory or durable) are external collaborators; all
// status writes go through the lifecycle service, never directly.
type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByCorrelationID(ctx context.Context, provider, correlationID string) (*domain.Transaction, error)
	Update(ctx context.Context, tx *domain.Transaction) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
// The returned total is the count of matching records before pagination.
type TransactionListParams struct {
	OwnerID  *uuid.UUID // nil = all owners (admin)
	Status   *domain.TransactionStatus
	Provider *string
	Page     int
	PageSize int
}

// SubscriptionRepository persists webhook subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.WebhookSubscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error)
	Update(ctx context.Context, sub *domain.WebhookSubscription) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.WebhookSubscription, error)
	// ListActiveByEvent returns the owner's active subscriptions whose event
	// set contains event.
	ListActiveByEvent(ctx context.Context, ownerID uuid.UUID, event domain.EventName) ([]domain.WebhookSubscription, error)
}

// DeliveryLogRepository is the append-only webhook delivery audit.
type DeliveryLogRepository interface {
	Create(ctx context.Context, rec *domain.DeliveryRecord) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.DeliveryRecord, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.DeliveryRecord, error)
}

// AuditRepository persists audit log entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// CredentialStore caches short-lived provider bearer credentials so token
// refreshes survive process restarts and are shared across replicas.
type CredentialStore interface {
	// Get returns the cached token and its remaining lifetime, or "" if absent.
	Get(ctx context.Context, key string) (string, time.Duration, error)
	Set(ctx context.Context, key string, token string, ttl time.Duration) error
}
