package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionCreateIntent       AuditAction = "CREATE_INTENT"
	AuditActionInitiate           AuditAction = "INITIATE"
	AuditActionProviderCallback   AuditAction = "PROVIDER_CALLBACK"
	AuditActionRefund             AuditAction = "REFUND"
	AuditActionCancel             AuditAction = "CANCEL"
	AuditActionReconcile          AuditAction = "RECONCILE"
	AuditActionSubscriptionCreate AuditAction = "SUBSCRIPTION_CREATE"
	AuditActionSubscriptionUpdate AuditAction = "SUBSCRIPTION_UPDATE"
)

// AuditLog records a single security/state-relevant action.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
