package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"pesabridge/internal/adapter/storage/memory"
	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedTransaction(t *testing.T, repo *memory.TransactionRepo, status domain.TransactionStatus) *domain.Transaction {
	t.Helper()
	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Amount:        decimal.NewFromInt(500),
		Currency:      "KES",
		Provider:      "mpesa",
		Method:        "stk_push",
		Counterparty:  "254712345678",
		Status:        status,
		CorrelationID: "ws_CO_123",
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(30 * time.Minute),
	}
	require.NoError(t, repo.Create(context.Background(), tx))
	return tx
}

func TestLifecycle_Transition_CompletesWithReceipt(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())
	tx := seedTransaction(t, repo, domain.StatusProcessing)

	got, applied, err := svc.Transition(context.Background(), tx.ID, domain.StatusCompleted, ports.TransitionEvent{
		Trigger:       "provider_callback",
		CorrelationID: "ws_CO_123",
		Receipt:       "QK12XYZ789",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "QK12XYZ789", got.ReceiptNumber)
	require.NotNil(t, got.CompletedAt)
}

func TestLifecycle_Transition_DuplicateTerminalIsNoOp(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())
	tx := seedTransaction(t, repo, domain.StatusProcessing)

	_, applied, err := svc.Transition(context.Background(), tx.ID, domain.StatusCompleted, ports.TransitionEvent{
		Trigger:       "provider_callback",
		CorrelationID: "ws_CO_123",
		Receipt:       "QK12XYZ789",
	})
	require.NoError(t, err)
	require.True(t, applied)

	// The provider retries the same callback.
	got, applied, err := svc.Transition(context.Background(), tx.ID, domain.StatusCompleted, ports.TransitionEvent{
		Trigger:       "provider_callback",
		CorrelationID: "ws_CO_123",
		Receipt:       "DIFFERENT",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "QK12XYZ789", got.ReceiptNumber, "duplicate must not overwrite the stamped receipt")
}

func TestLifecycle_Transition_DuplicateWithWrongCorrelation(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())
	tx := seedTransaction(t, repo, domain.StatusProcessing)

	_, _, err := svc.Transition(context.Background(), tx.ID, domain.StatusCompleted, ports.TransitionEvent{
		Trigger:       "provider_callback",
		CorrelationID: "ws_CO_123",
	})
	require.NoError(t, err)

	_, _, err = svc.Transition(context.Background(), tx.ID, domain.StatusCompleted, ports.TransitionEvent{
		Trigger:       "provider_callback",
		CorrelationID: "ws_CO_999",
	})
	require.Error(t, err)
	assert.Equal(t, "TXN_002", apperror.CodeOf(err))
}

func TestLifecycle_Transition_InvalidIsRejected(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())

	cases := []struct {
		from   domain.TransactionStatus
		target domain.TransactionStatus
	}{
		{domain.StatusPending, domain.StatusCompleted},
		{domain.StatusFailed, domain.StatusCompleted},
		{domain.StatusCancelled, domain.StatusProcessing},
		{domain.StatusRefunded, domain.StatusCompleted},
		{domain.StatusFailed, domain.StatusRefunded},
	}
	for _, tc := range cases {
		tx := seedTransaction(t, repo, tc.from)
		_, _, err := svc.Transition(context.Background(), tx.ID, tc.target, ports.TransitionEvent{Trigger: "test"})
		require.Error(t, err, "%s -> %s", tc.from, tc.target)
		assert.Equal(t, "TXN_001", apperror.CodeOf(err), "%s -> %s", tc.from, tc.target)
	}
}

func TestLifecycle_Transition_ExpiredIntentCannotProcess(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())

	tx := seedTransaction(t, repo, domain.StatusPending)
	tx.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, repo.Update(context.Background(), tx))

	_, _, err := svc.Transition(context.Background(), tx.ID, domain.StatusProcessing, ports.TransitionEvent{Trigger: "initiate"})
	require.Error(t, err)
	assert.Equal(t, "VAL_004", apperror.CodeOf(err))
}

func TestLifecycle_Transition_NotFound(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())

	_, _, err := svc.Transition(context.Background(), uuid.New(), domain.StatusProcessing, ports.TransitionEvent{Trigger: "initiate"})
	require.Error(t, err)
	assert.Equal(t, "RES_001", apperror.CodeOf(err))
}

// Two callbacks racing to complete the same transaction: exactly one applies.
func TestLifecycle_Transition_ConcurrentCallbacks(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())
	tx := seedTransaction(t, repo, domain.StatusProcessing)

	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, applied, err := svc.Transition(context.Background(), tx.ID, domain.StatusCompleted, ports.TransitionEvent{
				Trigger:       "provider_callback",
				CorrelationID: "ws_CO_123",
				Receipt:       "QK12XYZ789",
			})
			if err == nil && applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, appliedCount)

	got, err := repo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

// A double initiate must produce exactly one PENDING -> PROCESSING.
func TestLifecycle_Transition_ConcurrentInitiate(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())
	tx := seedTransaction(t, repo, domain.StatusPending)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, applied, err := svc.Transition(context.Background(), tx.ID, domain.StatusProcessing, ports.TransitionEvent{Trigger: "initiate"})
			results[i] = applied
			errs[i] = err
		}(i)
	}
	wg.Wait()

	applied := 0
	rejected := 0
	for i := 0; i < 2; i++ {
		if errs[i] == nil && results[i] {
			applied++
		}
		if apperror.CodeOf(errs[i]) == "TXN_001" {
			rejected++
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, rejected)
}

func TestLifecycle_AttachHandle(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())
	tx := seedTransaction(t, repo, domain.StatusProcessing)

	got, err := svc.AttachHandle(context.Background(), tx.ID, &ports.ProviderHandle{
		CorrelationID: "ws_CO_456",
		ProviderRef:   "mr_789",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_456", got.CorrelationID)
	assert.Equal(t, "mr_789", got.ProviderRef)
}

func TestLifecycle_AttachHandle_KeepsTerminalResult(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())
	tx := seedTransaction(t, repo, domain.StatusCompleted)

	got, err := svc.AttachHandle(context.Background(), tx.ID, &ports.ProviderHandle{CorrelationID: "late"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Equal(t, "ws_CO_123", got.CorrelationID, "a late handle must not overwrite the callback's result")
}

func TestLifecycle_RecordDeliveryAttempts(t *testing.T) {
	repo := memory.NewTransactionRepo()
	svc := NewLifecycleService(repo, zerolog.Nop())
	tx := seedTransaction(t, repo, domain.StatusCompleted)

	require.NoError(t, svc.RecordDeliveryAttempts(context.Background(), tx.ID, 3))
	require.NoError(t, svc.RecordDeliveryAttempts(context.Background(), tx.ID, 2))
	require.NoError(t, svc.RecordDeliveryAttempts(context.Background(), tx.ID, 0))

	got, err := repo.GetByID(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.DeliveryAttempts)
}
