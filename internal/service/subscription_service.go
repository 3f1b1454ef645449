package service

import (
	"context"
	"fmt"
	"time"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultMaxAttempts = 5
	maxAttemptsCeiling = 10
	defaultTimeout     = 10 * time.Second
)

// SubscriptionDefaults is the delivery policy applied when a subscription
// omits its own.
type SubscriptionDefaults struct {
	MaxAttempts int
	Timeout     time.Duration
}

// SubscriptionServiceImpl implements ports.SubscriptionService.
type SubscriptionServiceImpl struct {
	subRepo      ports.SubscriptionRepository
	deliveryRepo ports.DeliveryLogRepository
	defaults     SubscriptionDefaults
	log          zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionServiceImpl.
func NewSubscriptionService(subRepo ports.SubscriptionRepository, deliveryRepo ports.DeliveryLogRepository, defaults SubscriptionDefaults, log zerolog.Logger) *SubscriptionServiceImpl {
	if defaults.MaxAttempts < 1 {
		defaults.MaxAttempts = defaultMaxAttempts
	}
	if defaults.MaxAttempts > maxAttemptsCeiling {
		defaults.MaxAttempts = maxAttemptsCeiling
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = defaultTimeout
	}
	return &SubscriptionServiceImpl{subRepo: subRepo, deliveryRepo: deliveryRepo, defaults: defaults, log: log}
}

// Create registers a webhook subscription and returns its plaintext signing
// secret exactly once. The secret is immutable afterwards and never logged.
func (s *SubscriptionServiceImpl) Create(ctx context.Context, req ports.CreateSubscriptionRequest) (*domain.WebhookSubscription, string, error) {
	if !domain.ValidTargetURL(req.URL) {
		return nil, "", apperror.Validation("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return nil, "", apperror.Validation("at least one event is required")
	}
	for _, e := range req.Events {
		if !domain.KnownEvent(e) {
			return nil, "", apperror.Validation(fmt.Sprintf("unknown event %q", e))
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = s.defaults.MaxAttempts
	}
	if maxAttempts > maxAttemptsCeiling {
		maxAttempts = maxAttemptsCeiling
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaults.Timeout
	}

	secret := domain.NewSubscriptionSecret()
	now := time.Now().UTC()
	sub := &domain.WebhookSubscription{
		ID:          uuid.New(),
		OwnerID:     req.OwnerID,
		URL:         req.URL,
		Events:      req.Events,
		Secret:      secret,
		MaxAttempts: maxAttempts,
		Timeout:     timeout,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.subRepo.Create(ctx, sub); err != nil {
		return nil, "", apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("subscription_id", sub.ID.String()).
		Str("owner_id", sub.OwnerID.String()).
		Str("url", sub.URL).
		Msg("webhook subscription created")

	return sub, secret, nil
}

// Update changes delivery policy fields. The signing secret cannot change.
func (s *SubscriptionServiceImpl) Update(ctx context.Context, id uuid.UUID, principal ports.Principal, req ports.UpdateSubscriptionRequest) (*domain.WebhookSubscription, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if sub == nil {
		return nil, apperror.ErrNotFound("subscription")
	}
	if !principal.CanAccess(sub.OwnerID) {
		return nil, apperror.ErrForbidden()
	}

	if req.URL != nil {
		if !domain.ValidTargetURL(*req.URL) {
			return nil, apperror.Validation("url must be an absolute http(s) URL")
		}
		sub.URL = *req.URL
	}
	if req.Events != nil {
		for _, e := range req.Events {
			if !domain.KnownEvent(e) {
				return nil, apperror.Validation(fmt.Sprintf("unknown event %q", e))
			}
		}
		sub.Events = req.Events
	}
	if req.MaxAttempts != nil {
		if *req.MaxAttempts < 1 || *req.MaxAttempts > maxAttemptsCeiling {
			return nil, apperror.Validation(fmt.Sprintf("max_attempts must be between 1 and %d", maxAttemptsCeiling))
		}
		sub.MaxAttempts = *req.MaxAttempts
	}
	if req.Timeout != nil {
		if *req.Timeout <= 0 {
			return nil, apperror.Validation("timeout must be positive")
		}
		sub.Timeout = *req.Timeout
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := s.subRepo.Update(ctx, sub); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return sub, nil
}

// List returns the owner's subscriptions.
func (s *SubscriptionServiceImpl) List(ctx context.Context, ownerID uuid.UUID) ([]domain.WebhookSubscription, error) {
	subs, err := s.subRepo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return subs, nil
}

// Deliveries returns the append-only delivery history of one subscription.
func (s *SubscriptionServiceImpl) Deliveries(ctx context.Context, id uuid.UUID, principal ports.Principal) ([]domain.DeliveryRecord, error) {
	sub, err := s.subRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if sub == nil {
		return nil, apperror.ErrNotFound("subscription")
	}
	if !principal.CanAccess(sub.OwnerID) {
		return nil, apperror.ErrForbidden()
	}
	records, err := s.deliveryRepo.ListBySubscription(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return records, nil
}
