package service

import (
	"context"
	"strings"
	"time"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// expiryReason marks transactions cancelled because their intent window
// elapsed, so a later initiate can report expiry instead of a bare
// invalid-transition error.
const expiryReason = "intent expired"

func expiryEvent() ports.TransitionEvent {
	return ports.TransitionEvent{Trigger: "expiry", FailureReason: expiryReason}
}

// PaymentServiceImpl implements ports.PaymentService. It orchestrates the
// intent -> initiate -> callback flow; all status writes go through the
// lifecycle service, and outcome events fan out through the dispatcher.
type PaymentServiceImpl struct {
	txRepo          ports.TransactionRepository
	lifecycle       ports.LifecycleService
	dispatcher      ports.DispatcherService
	adapters        map[string]ports.ProviderAdapter
	intentTTL       time.Duration
	initiateTimeout time.Duration
	log             zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl.
func NewPaymentService(
	txRepo ports.TransactionRepository,
	lifecycle ports.LifecycleService,
	dispatcher ports.DispatcherService,
	adapters map[string]ports.ProviderAdapter,
	intentTTL time.Duration,
	initiateTimeout time.Duration,
	log zerolog.Logger,
) *PaymentServiceImpl {
	if intentTTL <= 0 {
		intentTTL = 30 * time.Minute
	}
	if initiateTimeout <= 0 {
		initiateTimeout = 30 * time.Second
	}
	return &PaymentServiceImpl{
		txRepo:          txRepo,
		lifecycle:       lifecycle,
		dispatcher:      dispatcher,
		adapters:        adapters,
		intentTTL:       intentTTL,
		initiateTimeout: initiateTimeout,
		log:             log,
	}
}

// CreateIntent validates the request and creates a PENDING transaction with
// expiry = creation + the configured window.
func (s *PaymentServiceImpl) CreateIntent(ctx context.Context, req ports.CreateIntentRequest) (*domain.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if len(req.Currency) != 3 {
		return nil, apperror.Validation("currency must be a 3-letter code")
	}
	if req.Counterparty == "" {
		return nil, apperror.Validation("counterparty phone or account number is required")
	}
	adapter, ok := s.adapters[req.Provider]
	if !ok || !adapter.Supports(req.Method) {
		return nil, apperror.ErrUnsupportedProvider(req.Provider, req.Method)
	}

	now := time.Now().UTC()
	tx := &domain.Transaction{
		ID:           uuid.New(),
		OwnerID:      req.OwnerID,
		Amount:       req.Amount,
		Currency:     strings.ToUpper(req.Currency),
		Provider:     req.Provider,
		Method:       req.Method,
		Counterparty: req.Counterparty,
		Reference:    req.Reference,
		Status:       domain.StatusPending,
		ClientIP:     req.ClientIP,
		UserAgent:    req.UserAgent,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(s.intentTTL),
	}

	if err := s.txRepo.Create(ctx, tx); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("owner_id", tx.OwnerID.String()).
		Str("provider", tx.Provider).
		Str("amount", tx.Amount.String()).
		Str("currency", tx.Currency).
		Msg("payment intent created")

	return tx, nil
}

// Initiate moves the transaction to PROCESSING and calls the provider. The
// PENDING -> PROCESSING check-and-set happens before the network call, so a
// concurrent second initiate observes an InvalidTransition instead of a
// second provider side effect. Provider failures leave the transaction in
// PROCESSING (except a non-retryable rejection, which fails it); reverting to
// PENDING would open a double-initiate race.
func (s *PaymentServiceImpl) Initiate(ctx context.Context, id uuid.UUID) (*ports.InitiateResult, error) {
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if tx.IsExpired(time.Now().UTC()) {
		// Expired intents are cancelled without touching the provider.
		if _, _, cErr := s.lifecycle.Transition(ctx, id, domain.StatusCancelled, expiryEvent()); cErr != nil {
			s.log.Warn().Err(cErr).Str("tx_id", id.String()).Msg("failed to cancel expired intent")
		}
		return nil, apperror.ErrIntentExpired()
	}
	if tx.Status == domain.StatusCancelled && tx.FailureReason == expiryReason {
		return nil, apperror.ErrIntentExpired()
	}

	adapter, ok := s.adapters[tx.Provider]
	if !ok {
		return nil, apperror.ErrUnsupportedProvider(tx.Provider, tx.Method)
	}

	tx, _, err = s.lifecycle.Transition(ctx, id, domain.StatusProcessing, ports.TransitionEvent{Trigger: "initiate"})
	if err != nil {
		return nil, err
	}

	// Provider round-trip runs outside any transaction lock, bounded.
	callCtx, cancel := context.WithTimeout(ctx, s.initiateTimeout)
	defer cancel()

	handle, err := adapter.Initiate(callCtx, tx)
	if err != nil {
		if apperror.CodeOf(err) == "PRV_002" {
			if _, _, fErr := s.lifecycle.Transition(ctx, id, domain.StatusFailed, ports.TransitionEvent{
				Trigger:       "initiate",
				FailureReason: err.Error(),
			}); fErr != nil {
				s.log.Error().Err(fErr).Str("tx_id", id.String()).Msg("failed to mark rejected transaction failed")
			}
			return nil, err
		}
		// Auth failure / unavailable: the webhook or a status poll resolves it.
		s.log.Warn().Err(err).
			Str("tx_id", id.String()).
			Str("provider", tx.Provider).
			Msg("provider initiate failed, transaction left in PROCESSING")
		return nil, err
	}

	tx, err = s.lifecycle.AttachHandle(ctx, id, handle)
	if err != nil {
		return nil, err
	}

	if dErr := s.dispatcher.Dispatch(ctx, tx, domain.EventPaymentProcessing); dErr != nil {
		s.log.Warn().Err(dErr).Str("tx_id", id.String()).Msg("processing event dispatch failed")
	}

	return &ports.InitiateResult{
		Transaction:     tx,
		CorrelationID:   handle.CorrelationID,
		CustomerMessage: handle.CustomerMessage,
	}, nil
}

// HandleCallback normalizes a provider callback, verifies its signature where
// the provider signs, applies the resulting transition and fans the outcome
// out. Duplicate deliveries of the same outcome are accepted as no-ops.
func (s *PaymentServiceImpl) HandleCallback(ctx context.Context, provider string, raw []byte, signature string) (*domain.Transaction, error) {
	adapter, ok := s.adapters[provider]
	if !ok {
		return nil, apperror.ErrNotFound("provider")
	}

	if verifier, signs := adapter.(ports.CallbackVerifier); signs {
		if !verifier.VerifyCallback(raw, signature) {
			return nil, apperror.ErrMalformedCallback("callback signature verification failed")
		}
	}

	result, err := adapter.NormalizeCallback(raw)
	if err != nil {
		return nil, err
	}

	tx, err := s.txRepo.GetByCorrelationID(ctx, provider, result.CorrelationID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	target := domain.StatusCompleted
	if result.Outcome == ports.OutcomeFailure {
		target = domain.StatusFailed
	}

	tx, applied, err := s.lifecycle.Transition(ctx, tx.ID, target, ports.TransitionEvent{
		Trigger:       "provider_callback",
		CorrelationID: result.CorrelationID,
		Receipt:       result.Receipt,
		FailureReason: result.FailureReason,
	})
	if err != nil {
		return nil, err
	}

	if applied {
		if event, known := domain.EventForStatus(target); known {
			if dErr := s.dispatcher.Dispatch(ctx, tx, event); dErr != nil {
				s.log.Warn().Err(dErr).Str("tx_id", tx.ID.String()).Msg("outcome event dispatch failed")
			}
		}
	}

	return tx, nil
}

// Refund moves a COMPLETED transaction to REFUNDED. Refund execution itself
// is the collaborating refund processor's job.
func (s *PaymentServiceImpl) Refund(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, applied, err := s.lifecycle.Transition(ctx, id, domain.StatusRefunded, ports.TransitionEvent{Trigger: "refund"})
	if err != nil {
		return nil, err
	}
	if applied {
		if dErr := s.dispatcher.Dispatch(ctx, tx, domain.EventPaymentRefunded); dErr != nil {
			s.log.Warn().Err(dErr).Str("tx_id", id.String()).Msg("refund event dispatch failed")
		}
	}
	return tx, nil
}

// Cancel moves a non-terminal transaction to CANCELLED.
func (s *PaymentServiceImpl) Cancel(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, applied, err := s.lifecycle.Transition(ctx, id, domain.StatusCancelled, ports.TransitionEvent{Trigger: "cancel"})
	if err != nil {
		return nil, err
	}
	if applied {
		if dErr := s.dispatcher.Dispatch(ctx, tx, domain.EventPaymentCancelled); dErr != nil {
			s.log.Warn().Err(dErr).Str("tx_id", id.String()).Msg("cancel event dispatch failed")
		}
	}
	return tx, nil
}

// Reconcile asks the provider for the outcome of a PROCESSING transaction
// whose callback never arrived and applies it through the same path a
// callback would take. Transactions in any other state are returned as-is.
func (s *PaymentServiceImpl) Reconcile(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if tx.Status != domain.StatusProcessing {
		return tx, nil
	}
	if tx.CorrelationID == "" {
		return nil, apperror.ErrConflict("transaction has no provider correlation id")
	}

	adapter, ok := s.adapters[tx.Provider]
	if !ok {
		return nil, apperror.ErrUnsupportedProvider(tx.Provider, tx.Method)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.initiateTimeout)
	defer cancel()

	result, err := adapter.QueryStatus(callCtx, tx.CorrelationID)
	if err != nil {
		return nil, err
	}

	target := domain.StatusCompleted
	if result.Outcome == ports.OutcomeFailure {
		target = domain.StatusFailed
	}

	tx, applied, err := s.lifecycle.Transition(ctx, tx.ID, target, ports.TransitionEvent{
		Trigger:       "reconcile",
		CorrelationID: result.CorrelationID,
		Receipt:       result.Receipt,
		FailureReason: result.FailureReason,
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.log.Info().
			Str("tx_id", tx.ID.String()).
			Str("status", string(tx.Status)).
			Msg("transaction reconciled via status poll")
		if event, known := domain.EventForStatus(target); known {
			if dErr := s.dispatcher.Dispatch(ctx, tx, event); dErr != nil {
				s.log.Warn().Err(dErr).Str("tx_id", tx.ID.String()).Msg("reconcile event dispatch failed")
			}
		}
	}
	return tx, nil
}

// Get returns the transaction, implicitly cancelling a PENDING one read past
// its expiry.
func (s *PaymentServiceImpl) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if tx.IsExpired(time.Now().UTC()) {
		expired, _, tErr := s.lifecycle.Transition(ctx, id, domain.StatusCancelled, expiryEvent())
		if tErr != nil {
			return nil, tErr
		}
		return expired, nil
	}
	return tx, nil
}

// List returns transactions ordered by creation time descending; the total
// is the count of matching records before pagination.
func (s *PaymentServiceImpl) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}
	items, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(err)
	}
	return items, total, nil
}
