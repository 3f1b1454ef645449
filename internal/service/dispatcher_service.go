package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Webhook egress headers.
const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookEvent     = "X-Webhook-Event"
)

const responseSnippetLimit = 512

// WebhookPayload is the canonical JSON body sent to subscriber endpoints.
// The signature is computed over these exact serialized bytes.
type WebhookPayload struct {
	Event         string            `json:"event"`
	TransactionID string            `json:"transaction_id"`
	Status        string            `json:"status"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	Provider      string            `json:"provider"`
	ReceiptNumber string            `json:"receipt_number,omitempty"`
	Timestamp     string            `json:"timestamp"`
	Metadata      map[string]string `json:"metadata"`
}

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DispatcherConfig tunes the retry policy shared by all subscriptions.
// Per-delivery attempt limits and timeouts come from the subscription itself.
type DispatcherConfig struct {
	BaseDelay time.Duration // first retry delay, doubles per attempt
	MaxDelay  time.Duration // backoff cap
}

// WebhookDispatcher implements ports.DispatcherService. Deliveries per
// dispatch run concurrently and independently; one subscription's failure
// never blocks another's. Every attempt, success or failure, is appended to
// the delivery record log.
type WebhookDispatcher struct {
	subRepo      ports.SubscriptionRepository
	deliveryRepo ports.DeliveryLogRepository
	lifecycle    ports.LifecycleService
	sigSvc       ports.SignatureService
	httpClient   HTTPClient
	cfg          DispatcherConfig
	metrics      *dispatcherMetrics
	log          zerolog.Logger

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewWebhookDispatcher creates a new WebhookDispatcher. reg may be nil to
// skip metrics registration.
func NewWebhookDispatcher(
	subRepo ports.SubscriptionRepository,
	deliveryRepo ports.DeliveryLogRepository,
	lifecycle ports.LifecycleService,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	cfg DispatcherConfig,
	reg prometheus.Registerer,
	log zerolog.Logger,
) *WebhookDispatcher {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 10 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Minute
	}
	root, cancel := context.WithCancel(context.Background())
	return &WebhookDispatcher{
		subRepo:      subRepo,
		deliveryRepo: deliveryRepo,
		lifecycle:    lifecycle,
		sigSvc:       sigSvc,
		httpClient:   httpClient,
		cfg:          cfg,
		metrics:      newDispatcherMetrics(reg),
		log:          log,
		root:         root,
		cancel:       cancel,
	}
}

// Dispatch loads the owner's active subscriptions for event and delivers to
// each concurrently. It returns once deliveries are scheduled; retries run in
// the background until they succeed, exhaust the subscription's attempt
// limit, or are cancelled by shutdown or deactivation.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, tx *domain.Transaction, event domain.EventName) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is shut down")
	}
	d.mu.Unlock()

	subs, err := d.subRepo.ListActiveByEvent(ctx, tx.OwnerID, event)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("load subscriptions: %w", err))
	}
	if len(subs) == 0 {
		d.log.Debug().
			Str("tx_id", tx.ID.String()).
			Str("event", string(event)).
			Msg("no active subscriptions, skipping dispatch")
		return nil
	}

	payload, err := json.Marshal(buildPayload(tx, event))
	if err != nil {
		return apperror.InternalError(fmt.Errorf("marshal webhook payload: %w", err))
	}

	for i := range subs {
		sub := subs[i]
		d.wg.Add(1)
		go d.deliver(sub, tx.ID, event, payload)
	}
	return nil
}

// Close stops accepting new dispatches, cancels pending retry waits and
// waits for in-flight attempts to finish or ctx to expire.
func (d *WebhookDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver runs the full retry loop for one subscription.
func (d *WebhookDispatcher) deliver(sub domain.WebhookSubscription, txID uuid.UUID, event domain.EventName, payload []byte) {
	defer d.wg.Done()

	maxAttempts := sub.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	delay := d.cfg.BaseDelay
	attempts := 0
	delivered := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if !d.sleep(delay) {
				d.log.Warn().
					Str("subscription_id", sub.ID.String()).
					Str("tx_id", txID.String()).
					Int("next_attempt", attempt).
					Msg("shutdown, pending webhook retries cancelled")
				break
			}
			delay *= 2
			if delay > d.cfg.MaxDelay {
				delay = d.cfg.MaxDelay
			}

			// Deactivating a subscription cancels its pending retries.
			current, err := d.subRepo.GetByID(context.Background(), sub.ID)
			if err == nil && (current == nil || !current.Active) {
				d.log.Info().
					Str("subscription_id", sub.ID.String()).
					Str("tx_id", txID.String()).
					Msg("subscription deactivated, webhook retries cancelled")
				break
			}
		}

		attempts++
		outcome := d.attempt(sub, txID, event, payload, attempt)
		if outcome == domain.DeliverySuccess {
			delivered = true
			break
		}
	}

	if !delivered && attempts == maxAttempts {
		d.metrics.exhausted.Inc()
		// Best-effort: never rolls back the transaction's own state.
		d.log.Error().
			Err(apperror.ErrDeliveryExhausted(sub.ID.String(), attempts)).
			Str("tx_id", txID.String()).
			Str("event", string(event)).
			Msg("webhook delivery exhausted")
	}

	if d.lifecycle != nil {
		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.lifecycle.RecordDeliveryAttempts(recordCtx, txID, attempts); err != nil {
			d.log.Warn().Err(err).Str("tx_id", txID.String()).Msg("failed to record delivery attempts")
		}
	}
}

// attempt performs one POST and appends exactly one delivery record.
func (d *WebhookDispatcher) attempt(sub domain.WebhookSubscription, txID uuid.UUID, event domain.EventName, payload []byte, attempt int) domain.DeliveryOutcome {
	timeout := sub.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rec := &domain.DeliveryRecord{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		TransactionID:  txID,
		Event:          event,
		Payload:        string(payload),
		Attempt:        attempt,
		Outcome:        domain.DeliveryFailure,
		CreatedAt:      time.Now().UTC(),
	}

	start := time.Now()
	status, snippet, err := d.post(reqCtx, sub, event, payload)
	d.metrics.duration.Observe(time.Since(start).Seconds())

	if status != 0 {
		rec.HTTPStatus = &status
		rec.ResponseSnippet = snippet
	}
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
	} else if status >= 200 && status < 300 {
		rec.Outcome = domain.DeliverySuccess
	} else {
		msg := fmt.Sprintf("non-2xx response: %d", status)
		rec.Error = &msg
	}

	d.metrics.attempts.WithLabelValues(string(rec.Outcome)).Inc()

	recordCtx, recordCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer recordCancel()
	if recErr := d.deliveryRepo.Create(recordCtx, rec); recErr != nil {
		d.log.Error().Err(recErr).
			Str("subscription_id", sub.ID.String()).
			Str("tx_id", txID.String()).
			Int("attempt", attempt).
			Msg("failed to append delivery record")
	}

	if rec.Outcome == domain.DeliverySuccess {
		d.log.Info().
			Str("subscription_id", sub.ID.String()).
			Str("tx_id", txID.String()).
			Int("attempt", attempt).
			Int("status", status).
			Msg("webhook delivered")
	} else {
		d.log.Warn().
			Str("subscription_id", sub.ID.String()).
			Str("tx_id", txID.String()).
			Int("attempt", attempt).
			Int("status", status).
			Msg("webhook delivery failed")
	}
	return rec.Outcome
}

// post sends the signed payload. Returns the HTTP status (0 on transport
// failure) and a bounded snippet of the response body.
func (d *WebhookDispatcher) post(ctx context.Context, sub domain.WebhookSubscription, event domain.EventName, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookEvent, string(event))
	req.Header.Set(HeaderWebhookSignature, d.sigSvc.Sign(sub.Secret, payload))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseSnippetLimit))
	return resp.StatusCode, string(snippet), nil
}

// sleep waits for delay, returning false if the dispatcher shut down first.
func (d *WebhookDispatcher) sleep(delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.root.Done():
		return false
	}
}

func buildPayload(tx *domain.Transaction, event domain.EventName) WebhookPayload {
	meta := map[string]string{}
	if tx.Reference != "" {
		meta["reference"] = tx.Reference
	}
	if tx.Method != "" {
		meta["method"] = tx.Method
	}
	return WebhookPayload{
		Event:         string(event),
		TransactionID: tx.ID.String(),
		Status:        string(tx.Status),
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		Provider:      tx.Provider,
		ReceiptNumber: tx.ReceiptNumber,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Metadata:      meta,
	}
}
