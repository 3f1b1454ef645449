package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryOutcome is the result of one webhook delivery attempt.
type DeliveryOutcome string

const (
	DeliverySuccess DeliveryOutcome = "SUCCESS"
	DeliveryFailure DeliveryOutcome = "FAILURE"
)

// DeliveryRecord is the append-only audit of one webhook delivery attempt.
// Records are never mutated after creation; attempt numbers for a given
// (subscription, transaction, event) triple are strictly increasing.
type DeliveryRecord struct {
	ID              uuid.UUID       `json:"id"`
	SubscriptionID  uuid.UUID       `json:"subscription_id"`
	TransactionID   uuid.UUID       `json:"transaction_id"`
	Event           EventName       `json:"event"`
	Payload         string          `json:"payload"` // serialized JSON body as sent
	Attempt         int             `json:"attempt"` // 1-based
	Outcome         DeliveryOutcome `json:"outcome"`
	HTTPStatus      *int            `json:"http_status,omitempty"`
	ResponseSnippet string          `json:"response_snippet,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
