package dto

import "github.com/shopspring/decimal"

// CreateIntentRequest is the request body for payment intent creation.
type CreateIntentRequest struct {
	Amount       decimal.Decimal `json:"amount" binding:"required"`
	Currency     string          `json:"currency" binding:"required,len=3"`
	Provider     string          `json:"provider" binding:"required"`
	Method       string          `json:"method" binding:"required"`
	Counterparty string          `json:"counterparty" binding:"required,max=32"`
	Reference    string          `json:"reference" binding:"max=100"`
}

// TransactionResponse is the response body for transaction results.
type TransactionResponse struct {
	ID               string  `json:"id"`
	OwnerID          string  `json:"owner_id"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Provider         string  `json:"provider"`
	Method           string  `json:"method"`
	Counterparty     string  `json:"counterparty"`
	Reference        string  `json:"reference,omitempty"`
	Status           string  `json:"status"`
	CorrelationID    string  `json:"correlation_id,omitempty"`
	ReceiptNumber    string  `json:"receipt_number,omitempty"`
	FailureReason    string  `json:"failure_reason,omitempty"`
	DeliveryAttempts int     `json:"delivery_attempts"`
	CreatedAt        string  `json:"created_at"`
	ExpiresAt        string  `json:"expires_at"`
	CompletedAt      *string `json:"completed_at,omitempty"`
}

// InitiateResponse is the response body for a provider initiation.
type InitiateResponse struct {
	Transaction     TransactionResponse `json:"transaction"`
	CorrelationID   string              `json:"correlation_id,omitempty"`
	CustomerMessage string              `json:"customer_message,omitempty"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
	TotalPages int                   `json:"total_pages"`
}

// CreateSubscriptionRequest is the request body for webhook subscription
// creation.
type CreateSubscriptionRequest struct {
	URL         string   `json:"url" binding:"required,max=2048"`
	Events      []string `json:"events" binding:"required,min=1"`
	MaxAttempts int      `json:"max_attempts" binding:"omitempty,gte=1"`
	TimeoutMS   int      `json:"timeout_ms" binding:"omitempty,gte=100"`
}

// UpdateSubscriptionRequest toggles subscription fields; omitted fields are
// left unchanged. The signing secret cannot be updated.
type UpdateSubscriptionRequest struct {
	URL         *string  `json:"url,omitempty"`
	Events      []string `json:"events,omitempty"`
	MaxAttempts *int     `json:"max_attempts,omitempty"`
	TimeoutMS   *int     `json:"timeout_ms,omitempty"`
	Active      *bool    `json:"active,omitempty"`
}

// SubscriptionResponse is the response body for webhook subscriptions. The
// secret field is populated only on creation.
type SubscriptionResponse struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"owner_id"`
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Secret      string   `json:"secret,omitempty"`
	MaxAttempts int      `json:"max_attempts"`
	TimeoutMS   int      `json:"timeout_ms"`
	Active      bool     `json:"active"`
	CreatedAt   string   `json:"created_at"`
}

// DeliveryRecordResponse is one webhook delivery attempt.
type DeliveryRecordResponse struct {
	ID              string  `json:"id"`
	SubscriptionID  string  `json:"subscription_id"`
	TransactionID   string  `json:"transaction_id"`
	Event           string  `json:"event"`
	Attempt         int     `json:"attempt"`
	Outcome         string  `json:"outcome"`
	HTTPStatus      *int    `json:"http_status,omitempty"`
	ResponseSnippet string  `json:"response_snippet,omitempty"`
	Error           *string `json:"error,omitempty"`
	CreatedAt       string  `json:"created_at"`
}
