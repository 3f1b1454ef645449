package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const lockStripes = 64

// LifecycleServiceImpl implements ports.LifecycleService. It is the single
// writer to transaction status: every transition runs as a check-and-set
// under a per-transaction striped lock, so two concurrent callbacks (or an
// initiate racing a callback) can never both apply.
//
// The lock is held only around the state check and the final write, never
// across a provider network call.
type LifecycleServiceImpl struct {
	txRepo ports.TransactionRepository
	locks  [lockStripes]sync.Mutex
	log    zerolog.Logger
}

// NewLifecycleService creates a new LifecycleServiceImpl.
func NewLifecycleService(txRepo ports.TransactionRepository, log zerolog.Logger) *LifecycleServiceImpl {
	return &LifecycleServiceImpl{txRepo: txRepo, log: log}
}

func (s *LifecycleServiceImpl) lock(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:]) //nolint:errcheck
	return &s.locks[h.Sum32()%lockStripes]
}

// Transition applies current -> target if the state machine allows it.
// Returns (tx, true, nil) when the transition applied, (tx, false, nil) for
// an idempotent duplicate, and a TXN_001 error for a structural violation.
// Never a silent no-op, so callers can tell "already completed, ignore
// duplicate" apart from "structurally invalid".
func (s *LifecycleServiceImpl) Transition(ctx context.Context, id uuid.UUID, target domain.TransactionStatus, ev ports.TransitionEvent) (*domain.Transaction, bool, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, false, apperror.ErrDatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if tx == nil {
		return nil, false, apperror.ErrNotFound("transaction")
	}

	// Providers retry webhooks; a repeated delivery that lands on the state
	// it already produced is accepted without a second state change.
	if tx.Status == target && tx.IsTerminal() {
		if ev.CorrelationID != "" && tx.CorrelationID != "" && ev.CorrelationID != tx.CorrelationID {
			return nil, false, apperror.ErrCorrelationMismatch()
		}
		s.log.Debug().
			Str("tx_id", tx.ID.String()).
			Str("status", string(tx.Status)).
			Str("trigger", ev.Trigger).
			Msg("duplicate transition accepted as no-op")
		return tx, false, nil
	}

	if !domain.CanTransition(tx.Status, target) {
		return nil, false, apperror.ErrInvalidTransition(string(tx.Status), string(target), ev.Trigger)
	}

	now := time.Now().UTC()

	switch target {
	case domain.StatusProcessing:
		// Expired intents must never be initiated.
		if now.After(tx.ExpiresAt) {
			return nil, false, apperror.ErrIntentExpired()
		}
	case domain.StatusCompleted, domain.StatusFailed:
		if ev.CorrelationID != "" && tx.CorrelationID != "" && ev.CorrelationID != tx.CorrelationID {
			return nil, false, apperror.ErrCorrelationMismatch()
		}
	}

	prev := tx.Status
	tx.Status = target
	tx.UpdatedAt = now

	switch target {
	case domain.StatusCompleted:
		tx.ReceiptNumber = ev.Receipt
		tx.CompletedAt = &now
	case domain.StatusFailed:
		tx.FailureReason = ev.FailureReason
		tx.CompletedAt = &now
	case domain.StatusCancelled:
		tx.FailureReason = ev.FailureReason
		tx.CompletedAt = &now
	case domain.StatusRefunded:
		tx.CompletedAt = &now
	}

	if err := s.txRepo.Update(ctx, tx); err != nil {
		return nil, false, apperror.ErrDatabaseError(fmt.Errorf("persist transition: %w", err))
	}

	s.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("from", string(prev)).
		Str("to", string(target)).
		Str("trigger", ev.Trigger).
		Msg("transaction transition applied")

	return tx, true, nil
}

// AttachHandle stamps the provider correlation identifiers on a PROCESSING
// transaction after a successful initiate call.
func (s *LifecycleServiceImpl) AttachHandle(ctx context.Context, id uuid.UUID, handle *ports.ProviderHandle) (*domain.Transaction, error) {
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if tx.Status != domain.StatusProcessing {
		// The callback beat us to a terminal state; keep its result.
		return tx, nil
	}

	tx.CorrelationID = handle.CorrelationID
	tx.ProviderRef = handle.ProviderRef
	tx.UpdatedAt = time.Now().UTC()

	if err := s.txRepo.Update(ctx, tx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("persist handle: %w", err))
	}
	return tx, nil
}

// RecordDeliveryAttempts adds n to the transaction's fan-out attempt counter.
func (s *LifecycleServiceImpl) RecordDeliveryAttempts(ctx context.Context, id uuid.UUID, n int) error {
	if n <= 0 {
		return nil
	}
	mu := s.lock(id)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if tx == nil {
		return apperror.ErrNotFound("transaction")
	}
	tx.DeliveryAttempts += n
	tx.UpdatedAt = time.Now().UTC()
	if err := s.txRepo.Update(ctx, tx); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("persist attempt counter: %w", err))
	}
	return nil
}
