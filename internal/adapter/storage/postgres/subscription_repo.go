package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pesabridge/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRepo implements ports.SubscriptionRepository.
type SubscriptionRepo struct {
	pool Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepo.
func NewSubscriptionRepo(pool Pool) *SubscriptionRepo {
	return &SubscriptionRepo{pool: pool}
}

const subColumns = `id, owner_id, url, events, secret, max_attempts, timeout_ms, active, created_at, updated_at`

// Create inserts a new webhook subscription.
func (r *SubscriptionRepo) Create(ctx context.Context, s *domain.WebhookSubscription) error {
	query := `INSERT INTO webhook_subscriptions (id, owner_id, url, events, secret, max_attempts, timeout_ms, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.OwnerID, s.URL, eventsToStrings(s.Events), s.Secret,
		s.MaxAttempts, s.Timeout.Milliseconds(), s.Active, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// GetByID fetches a subscription by UUID. Returns nil, nil when absent.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_subscriptions WHERE id = $1`, subColumns)
	s, err := scanSubscriptionRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return s, nil
}

// Update persists the mutable subscription fields. The secret is immutable
// and deliberately absent from the statement.
func (r *SubscriptionRepo) Update(ctx context.Context, s *domain.WebhookSubscription) error {
	query := `UPDATE webhook_subscriptions SET url = $1, events = $2, max_attempts = $3, timeout_ms = $4, active = $5, updated_at = $6
		WHERE id = $7`

	tag, err := r.pool.Exec(ctx, query,
		s.URL, eventsToStrings(s.Events), s.MaxAttempts, s.Timeout.Milliseconds(), s.Active, s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscription not found: %s", s.ID)
	}
	return nil
}

// ListByOwner fetches all subscriptions owned by a merchant.
func (r *SubscriptionRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_subscriptions WHERE owner_id = $1 ORDER BY created_at`, subColumns)
	return r.querySubscriptions(ctx, query, ownerID)
}

// ListActiveByEvent fetches the owner's active subscriptions covering the
// given event.
func (r *SubscriptionRepo) ListActiveByEvent(ctx context.Context, ownerID uuid.UUID, event domain.EventName) ([]domain.WebhookSubscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_subscriptions WHERE owner_id = $1 AND active AND $2 = ANY(events)`, subColumns)
	return r.querySubscriptions(ctx, query, ownerID, string(event))
}

func (r *SubscriptionRepo) querySubscriptions(ctx context.Context, query string, args ...any) ([]domain.WebhookSubscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []domain.WebhookSubscription
	for rows.Next() {
		s, err := scanSubscriptionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription row: %w", err)
		}
		subs = append(subs, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscription rows: %w", err)
	}
	return subs, nil
}

func scanSubscriptionRow(row pgx.Row) (*domain.WebhookSubscription, error) {
	s := &domain.WebhookSubscription{}
	var events []string
	var timeoutMS int64
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.URL, &events, &s.Secret,
		&s.MaxAttempts, &timeoutMS, &s.Active, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Events = stringsToEvents(events)
	s.Timeout = time.Duration(timeoutMS) * time.Millisecond
	return s, nil
}

func eventsToStrings(events []domain.EventName) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = string(e)
	}
	return out
}

func stringsToEvents(raw []string) []domain.EventName {
	out := make([]domain.EventName, len(raw))
	for i, e := range raw {
		out[i] = domain.EventName(e)
	}
	return out
}
