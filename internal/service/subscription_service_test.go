package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"pesabridge/internal/adapter/storage/memory"
	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSubscriptionService(t *testing.T) (*SubscriptionServiceImpl, *memory.SubscriptionRepo, *memory.DeliveryLogRepo) {
	t.Helper()
	subRepo := memory.NewSubscriptionRepo()
	deliveryRepo := memory.NewDeliveryLogRepo()
	svc := NewSubscriptionService(subRepo, deliveryRepo, SubscriptionDefaults{
		MaxAttempts: 5,
		Timeout:     10 * time.Second,
	}, zerolog.Nop())
	return svc, subRepo, deliveryRepo
}

func subscriptionRequest(ownerID uuid.UUID) ports.CreateSubscriptionRequest {
	return ports.CreateSubscriptionRequest{
		OwnerID: ownerID,
		URL:     "https://merchant.example.com/hooks",
		Events:  []domain.EventName{domain.EventPaymentCompleted},
	}
}

func TestSubscriptionService_Create_ReturnsSecretOnce(t *testing.T) {
	svc, repo, _ := setupSubscriptionService(t)

	sub, secret, err := svc.Create(context.Background(), subscriptionRequest(uuid.New()))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret, "whsec_"))
	assert.True(t, sub.Active)
	assert.Equal(t, 5, sub.MaxAttempts, "defaults applied when the request omits a policy")
	assert.Equal(t, 10*time.Second, sub.Timeout)

	stored, err := repo.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, secret, stored.Secret, "the stored secret signs deliveries")
}

func TestSubscriptionService_Create_Validation(t *testing.T) {
	svc, _, _ := setupSubscriptionService(t)
	ownerID := uuid.New()

	req := subscriptionRequest(ownerID)
	req.URL = "not-a-url"
	_, _, err := svc.Create(context.Background(), req)
	assert.Equal(t, "VAL_001", apperror.CodeOf(err))

	req = subscriptionRequest(ownerID)
	req.Events = nil
	_, _, err = svc.Create(context.Background(), req)
	assert.Equal(t, "VAL_001", apperror.CodeOf(err))

	req = subscriptionRequest(ownerID)
	req.Events = []domain.EventName{"payment.exploded"}
	_, _, err = svc.Create(context.Background(), req)
	assert.Equal(t, "VAL_001", apperror.CodeOf(err))
}

func TestSubscriptionService_Create_ClampsMaxAttempts(t *testing.T) {
	svc, _, _ := setupSubscriptionService(t)

	req := subscriptionRequest(uuid.New())
	req.MaxAttempts = 50
	sub, _, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 10, sub.MaxAttempts)
}

func TestSubscriptionService_Update_Policy(t *testing.T) {
	svc, _, _ := setupSubscriptionService(t)
	ownerID := uuid.New()

	sub, secret, err := svc.Create(context.Background(), subscriptionRequest(ownerID))
	require.NoError(t, err)

	active := false
	attempts := 3
	updated, err := svc.Update(context.Background(), sub.ID, ports.Principal{UserID: ownerID, Role: ports.RoleMerchant}, ports.UpdateSubscriptionRequest{
		Events:      []domain.EventName{domain.EventPaymentCompleted, domain.EventPaymentFailed},
		MaxAttempts: &attempts,
		Active:      &active,
	})
	require.NoError(t, err)

	assert.False(t, updated.Active)
	assert.Equal(t, 3, updated.MaxAttempts)
	assert.Len(t, updated.Events, 2)
	assert.Equal(t, secret, updated.Secret, "the signing secret never changes")
}

func TestSubscriptionService_Update_OwnershipEnforced(t *testing.T) {
	svc, _, _ := setupSubscriptionService(t)

	sub, _, err := svc.Create(context.Background(), subscriptionRequest(uuid.New()))
	require.NoError(t, err)

	stranger := ports.Principal{UserID: uuid.New(), Role: ports.RoleMerchant}
	active := false
	_, err = svc.Update(context.Background(), sub.ID, stranger, ports.UpdateSubscriptionRequest{Active: &active})
	assert.Equal(t, "RES_002", apperror.CodeOf(err))

	// Admins may manage any subscription.
	admin := ports.Principal{UserID: uuid.New(), Role: ports.RoleAdmin}
	updated, err := svc.Update(context.Background(), sub.ID, admin, ports.UpdateSubscriptionRequest{Active: &active})
	require.NoError(t, err)
	assert.False(t, updated.Active)
}

func TestSubscriptionService_Update_NotFound(t *testing.T) {
	svc, _, _ := setupSubscriptionService(t)

	active := true
	_, err := svc.Update(context.Background(), uuid.New(), ports.Principal{UserID: uuid.New(), Role: ports.RoleAdmin}, ports.UpdateSubscriptionRequest{Active: &active})
	assert.Equal(t, "RES_001", apperror.CodeOf(err))
}

func TestSubscriptionService_Deliveries_Ownership(t *testing.T) {
	svc, _, deliveryRepo := setupSubscriptionService(t)
	ownerID := uuid.New()

	sub, _, err := svc.Create(context.Background(), subscriptionRequest(ownerID))
	require.NoError(t, err)

	require.NoError(t, deliveryRepo.Create(context.Background(), &domain.DeliveryRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		TransactionID:  uuid.New(),
		Event:          domain.EventPaymentCompleted,
		Attempt:        1,
		Outcome:        domain.DeliverySuccess,
		CreatedAt:      time.Now().UTC(),
	}))

	records, err := svc.Deliveries(context.Background(), sub.ID, ports.Principal{UserID: ownerID, Role: ports.RoleMerchant})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	_, err = svc.Deliveries(context.Background(), sub.ID, ports.Principal{UserID: uuid.New(), Role: ports.RoleMerchant})
	assert.Equal(t, "RES_002", apperror.CodeOf(err))
}
