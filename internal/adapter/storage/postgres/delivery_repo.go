package postgres

import (
	"context"
	"fmt"

	"pesabridge/internal/core/domain"

	"github.com/google/uuid"
)

// DeliveryLogRepo implements ports.DeliveryLogRepository. Rows are append
// only; there is no update statement on purpose.
type DeliveryLogRepo struct {
	pool Pool
}

// NewDeliveryLogRepo creates a new DeliveryLogRepo.
func NewDeliveryLogRepo(pool Pool) *DeliveryLogRepo {
	return &DeliveryLogRepo{pool: pool}
}

const deliveryColumns = `id, subscription_id, transaction_id, event, payload, attempt, outcome, http_status, response_snippet, error, created_at`

// Create appends one delivery attempt record.
func (r *DeliveryLogRepo) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	query := `INSERT INTO webhook_deliveries (id, subscription_id, transaction_id, event, payload, attempt, outcome, http_status, response_snippet, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.SubscriptionID, rec.TransactionID, rec.Event, rec.Payload,
		rec.Attempt, rec.Outcome, rec.HTTPStatus, rec.ResponseSnippet, rec.Error, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// ListBySubscription fetches the delivery history of one subscription,
// oldest first.
func (r *DeliveryLogRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]domain.DeliveryRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_deliveries WHERE subscription_id = $1 ORDER BY created_at`, deliveryColumns)
	return r.queryRecords(ctx, query, subscriptionID)
}

// ListByTransaction fetches every delivery attempt made for a transaction's
// events, oldest first.
func (r *DeliveryLogRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]domain.DeliveryRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_deliveries WHERE transaction_id = $1 ORDER BY created_at`, deliveryColumns)
	return r.queryRecords(ctx, query, transactionID)
}

func (r *DeliveryLogRepo) queryRecords(ctx context.Context, query string, args ...any) ([]domain.DeliveryRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query delivery records: %w", err)
	}
	defer rows.Close()

	var recs []domain.DeliveryRecord
	for rows.Next() {
		var rec domain.DeliveryRecord
		if err := rows.Scan(
			&rec.ID, &rec.SubscriptionID, &rec.TransactionID, &rec.Event, &rec.Payload,
			&rec.Attempt, &rec.Outcome, &rec.HTTPStatus, &rec.ResponseSnippet, &rec.Error, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery rows: %w", err)
	}
	return recs, nil
}
