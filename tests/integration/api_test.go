package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pesabridge/internal/adapter/http/handler"
	"pesabridge/internal/adapter/storage/memory"
	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/internal/service"
	"pesabridge/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter stands in for a live provider: initiates always succeed and
// callbacks are a plain JSON shape the tests can author directly.
type stubAdapter struct {
	mu        sync.Mutex
	initiates int
}

type stubCallback struct {
	CorrelationID string `json:"correlation_id"`
	Outcome       string `json:"outcome"`
	Receipt       string `json:"receipt"`
	Reason        string `json:"reason"`
}

func (s *stubAdapter) Name() string              { return "mpesa" }
func (s *stubAdapter) Supports(method string) bool { return method == "stk_push" }

func (s *stubAdapter) Initiate(_ context.Context, tx *domain.Transaction) (*ports.ProviderHandle, error) {
	s.mu.Lock()
	s.initiates++
	s.mu.Unlock()
	return &ports.ProviderHandle{
		CorrelationID:   "corr-" + tx.ID.String(),
		CustomerMessage: "Enter your PIN",
	}, nil
}

func (s *stubAdapter) initiateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initiates
}

func (s *stubAdapter) NormalizeCallback(raw []byte) (*ports.CanonicalResult, error) {
	var cb stubCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, apperror.ErrMalformedCallback("invalid JSON body")
	}
	if cb.CorrelationID == "" {
		return nil, apperror.ErrMalformedCallback("missing correlation_id")
	}
	res := &ports.CanonicalResult{CorrelationID: cb.CorrelationID, Timestamp: time.Now().UTC()}
	switch cb.Outcome {
	case "success":
		res.Outcome = ports.OutcomeSuccess
		res.Receipt = cb.Receipt
	case "failure":
		res.Outcome = ports.OutcomeFailure
		res.FailureReason = cb.Reason
	default:
		return nil, apperror.ErrMalformedCallback("unknown outcome")
	}
	return res, nil
}

func (s *stubAdapter) QueryStatus(_ context.Context, correlationID string) (*ports.CanonicalResult, error) {
	return &ports.CanonicalResult{
		CorrelationID: correlationID,
		Outcome:       ports.OutcomeSuccess,
		Timestamp:     time.Now().UTC(),
	}, nil
}

type webhookReceipt struct {
	Event     string
	Signature string
	Body      []byte
}

// testEnv wires the full stack over in-memory storage behind a live
// httptest server.
type testEnv struct {
	server     *httptest.Server
	receiver   *httptest.Server
	adapter    *stubAdapter
	dispatcher *service.WebhookDispatcher
	sigSvc     *service.HMACSignatureService

	merchantID    uuid.UUID
	merchantToken string
	otherToken    string
	adminToken    string

	mu       sync.Mutex
	received []webhookReceipt
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{adapter: &stubAdapter{}, sigSvc: service.NewHMACSignatureService()}

	env.receiver = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		env.mu.Lock()
		env.received = append(env.received, webhookReceipt{
			Event:     r.Header.Get(service.HeaderWebhookEvent),
			Signature: r.Header.Get(service.HeaderWebhookSignature),
			Body:      body,
		})
		env.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(env.receiver.Close)

	txRepo := memory.NewTransactionRepo()
	subRepo := memory.NewSubscriptionRepo()
	deliveryRepo := memory.NewDeliveryLogRepo()

	log := zerolog.Nop()
	lifecycle := service.NewLifecycleService(txRepo, log)
	env.dispatcher = service.NewWebhookDispatcher(
		subRepo, deliveryRepo, lifecycle, env.sigSvc,
		http.DefaultClient,
		service.DispatcherConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond},
		nil, log,
	)
	t.Cleanup(func() { env.dispatcher.Close(context.Background()) })

	paymentSvc := service.NewPaymentService(
		txRepo, lifecycle, env.dispatcher,
		map[string]ports.ProviderAdapter{"mpesa": env.adapter},
		30*time.Minute, 5*time.Second, log,
	)
	subscriptionSvc := service.NewSubscriptionService(subRepo, deliveryRepo, service.SubscriptionDefaults{
		MaxAttempts: 5,
		Timeout:     5 * time.Second,
	}, log)

	tokenSvc := service.NewJWTTokenService("integration-secret", time.Hour, "pesabridge")
	env.merchantID = uuid.New()
	var err error
	env.merchantToken, _, err = tokenSvc.Generate(env.merchantID, ports.RoleMerchant)
	require.NoError(t, err)
	env.otherToken, _, err = tokenSvc.Generate(uuid.New(), ports.RoleMerchant)
	require.NoError(t, err)
	env.adminToken, _, err = tokenSvc.Generate(uuid.New(), ports.RoleAdmin)
	require.NoError(t, err)

	router := handler.SetupRouter(handler.RouterDeps{
		PaymentSvc:      paymentSvc,
		SubscriptionSvc: subscriptionSvc,
		TokenSvc:        tokenSvc,
		Logger:          log,
	})
	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)

	return env
}

func (e *testEnv) deliveries() []webhookReceipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]webhookReceipt, len(e.received))
	copy(out, e.received)
	return out
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Details struct {
		Code string `json:"code"`
	} `json:"details"`
}

// do sends a JSON request and decodes the response envelope.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func createIntent(t *testing.T, env *testEnv, token string) map[string]any {
	t.Helper()
	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/create-intent", token, map[string]any{
		"amount":       500,
		"currency":     "KES",
		"provider":     "mpesa",
		"method":       "stk_push",
		"counterparty": "254712345678",
		"reference":    "ORDER-001",
	})
	require.Equal(t, http.StatusCreated, status)
	var tx map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &tx))
	return tx
}

func TestAPI_FullPaymentFlow(t *testing.T) {
	env := newTestEnv(t)

	// Subscribe to completion events before paying.
	status, resp := env.do(t, http.MethodPost, "/api/v1/webhooks", env.merchantToken, map[string]any{
		"url":    env.receiver.URL,
		"events": []string{"payment.completed"},
	})
	require.Equal(t, http.StatusCreated, status)
	var sub map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &sub))
	secret, _ := sub["secret"].(string)
	require.True(t, strings.HasPrefix(secret, "whsec_"))
	subID := sub["id"].(string)

	tx := createIntent(t, env, env.merchantToken)
	assert.Equal(t, "PENDING", tx["status"])
	txID := tx["id"].(string)

	status, resp = env.do(t, http.MethodPost, "/api/v1/payments/initiate/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)
	var initiated map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &initiated))
	correlationID := initiated["correlation_id"].(string)
	assert.Equal(t, "corr-"+txID, correlationID)

	status, resp = env.do(t, http.MethodPost, "/api/v1/callbacks/mpesa", "", stubCallback{
		CorrelationID: correlationID,
		Outcome:       "success",
		Receipt:       "QK12XYZ789",
	})
	require.Equal(t, http.StatusOK, status)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &ack))
	assert.Equal(t, true, ack["received"])
	assert.Equal(t, "COMPLETED", ack["status"])

	status, resp = env.do(t, http.MethodGet, "/api/v1/transactions/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)
	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "COMPLETED", got["status"])
	assert.Equal(t, "QK12XYZ789", got["receipt_number"])
	assert.NotNil(t, got["completed_at"])

	// The completion webhook arrives signed with the subscription secret.
	require.Eventually(t, func() bool { return len(env.deliveries()) == 1 }, 3*time.Second, 20*time.Millisecond)
	delivery := env.deliveries()[0]
	assert.Equal(t, "payment.completed", delivery.Event)
	assert.True(t, env.sigSvc.Verify(secret, delivery.Body, delivery.Signature))

	var payload service.WebhookPayload
	require.NoError(t, json.Unmarshal(delivery.Body, &payload))
	assert.Equal(t, txID, payload.TransactionID)
	assert.Equal(t, "QK12XYZ789", payload.ReceiptNumber)

	// The audit trail of the delivery is queryable.
	require.Eventually(t, func() bool {
		status, resp = env.do(t, http.MethodGet, "/api/v1/webhooks/"+subID+"/deliveries", env.merchantToken, nil)
		if status != http.StatusOK {
			return false
		}
		var recs []map[string]any
		if err := json.Unmarshal(resp.Data, &recs); err != nil {
			return false
		}
		return len(recs) == 1 && recs[0]["outcome"] == "SUCCESS"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestAPI_FailureCallback(t *testing.T) {
	env := newTestEnv(t)

	tx := createIntent(t, env, env.merchantToken)
	txID := tx["id"].(string)
	status, _ := env.do(t, http.MethodPost, "/api/v1/payments/initiate/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, resp := env.do(t, http.MethodPost, "/api/v1/callbacks/mpesa", "", stubCallback{
		CorrelationID: "corr-" + txID,
		Outcome:       "failure",
		Reason:        "Request cancelled by user",
	})
	require.Equal(t, http.StatusOK, status)

	status, resp = env.do(t, http.MethodGet, "/api/v1/transactions/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)
	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "FAILED", got["status"])
	assert.Equal(t, "Request cancelled by user", got["failure_reason"])
	assert.Equal(t, "", got["receipt_number"])
}

func TestAPI_CallbackErrorPolicy(t *testing.T) {
	env := newTestEnv(t)

	// Unknown correlation id: the provider should stop sending this one.
	status, resp := env.do(t, http.MethodPost, "/api/v1/callbacks/mpesa", "", stubCallback{
		CorrelationID: "corr-nonexistent",
		Outcome:       "success",
		Receipt:       "QK1",
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "RES_001", resp.Details.Code)

	// Malformed payload.
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/callbacks/mpesa", strings.NewReader("not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	// Unknown provider.
	status, resp = env.do(t, http.MethodPost, "/api/v1/callbacks/airtel", "", stubCallback{
		CorrelationID: "x", Outcome: "success", Receipt: "r",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_DuplicateCallbackAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	tx := createIntent(t, env, env.merchantToken)
	txID := tx["id"].(string)
	status, _ := env.do(t, http.MethodPost, "/api/v1/payments/initiate/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)

	cb := stubCallback{CorrelationID: "corr-" + txID, Outcome: "success", Receipt: "QK12XYZ789"}
	status, _ = env.do(t, http.MethodPost, "/api/v1/callbacks/mpesa", "", cb)
	require.Equal(t, http.StatusOK, status)

	// The provider retries; the retry is acknowledged without a state change.
	status, _ = env.do(t, http.MethodPost, "/api/v1/callbacks/mpesa", "", cb)
	assert.Equal(t, http.StatusOK, status)

	// A conflicting outcome for a settled transaction is also acknowledged,
	// not served an error the provider would retry on.
	status, resp := env.do(t, http.MethodPost, "/api/v1/callbacks/mpesa", "", stubCallback{
		CorrelationID: "corr-" + txID,
		Outcome:       "failure",
		Reason:        "late failure",
	})
	assert.Equal(t, http.StatusOK, status)
	var ack map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &ack))
	assert.Equal(t, true, ack["received"])

	status, resp = env.do(t, http.MethodGet, "/api/v1/transactions/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)
	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "COMPLETED", got["status"])
}

func TestAPI_RefundAndCancel(t *testing.T) {
	env := newTestEnv(t)

	// Complete one transaction end to end, then refund it.
	tx := createIntent(t, env, env.merchantToken)
	txID := tx["id"].(string)
	status, _ := env.do(t, http.MethodPost, "/api/v1/payments/initiate/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodPost, "/api/v1/callbacks/mpesa", "", stubCallback{
		CorrelationID: "corr-" + txID, Outcome: "success", Receipt: "QK1",
	})
	require.Equal(t, http.StatusOK, status)

	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/refund/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)
	var got map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "REFUNDED", got["status"])

	// A pending intent cannot be refunded, only cancelled.
	tx2 := createIntent(t, env, env.merchantToken)
	tx2ID := tx2["id"].(string)
	status, resp = env.do(t, http.MethodPost, "/api/v1/payments/refund/"+tx2ID, env.merchantToken, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "TXN_001", resp.Details.Code)

	status, resp = env.do(t, http.MethodPost, "/api/v1/payments/cancel/"+tx2ID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "CANCELLED", got["status"])
}

func TestAPI_AuthAndOwnership(t *testing.T) {
	env := newTestEnv(t)

	tx := createIntent(t, env, env.merchantToken)
	txID := tx["id"].(string)

	status, _ := env.do(t, http.MethodGet, "/api/v1/transactions/"+txID, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = env.do(t, http.MethodGet, "/api/v1/transactions/"+txID, "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, resp := env.do(t, http.MethodGet, "/api/v1/transactions/"+txID, env.otherToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "RES_002", resp.Details.Code)

	status, _ = env.do(t, http.MethodGet, "/api/v1/transactions/"+txID, env.adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_ListScopedToMerchant(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		createIntent(t, env, env.merchantToken)
	}
	createIntent(t, env, env.otherToken)

	status, resp := env.do(t, http.MethodGet, "/api/v1/transactions?limit=2", env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		Items      []map[string]any `json:"items"`
		Total      int64            `json:"total"`
		Limit      int              `json:"limit"`
		TotalPages int              `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.Equal(t, int64(3), list.Total)
	assert.Len(t, list.Items, 2)
	assert.Equal(t, 2, list.Limit)
	assert.Equal(t, 2, list.TotalPages)
	for _, item := range list.Items {
		assert.Equal(t, env.merchantID.String(), item["owner_id"])
	}
}

func TestAPI_CreateIntentValidation(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/create-intent", env.merchantToken, map[string]any{
		"amount":       -5,
		"currency":     "KES",
		"provider":     "mpesa",
		"method":       "stk_push",
		"counterparty": "254712345678",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VAL_002", resp.Details.Code)

	status, resp = env.do(t, http.MethodPost, "/api/v1/payments/create-intent", env.merchantToken, map[string]any{
		"amount":       500,
		"currency":     "KES",
		"provider":     "mpesa",
		"method":       "paybill",
		"counterparty": "254712345678",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VAL_003", resp.Details.Code)
}

func TestAPI_HealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

var _ ports.ProviderAdapter = (*stubAdapter)(nil)

func TestAPI_AdminReconcile(t *testing.T) {
	env := newTestEnv(t)

	tx := createIntent(t, env, env.merchantToken)
	txID := tx["id"].(string)

	status, _ := env.do(t, http.MethodPost, "/api/v1/payments/initiate/"+txID, env.merchantToken, nil)
	require.Equal(t, http.StatusOK, status)

	// Merchants cannot force a status poll.
	status, resp := env.do(t, http.MethodPost, "/api/v1/payments/reconcile/"+txID, env.merchantToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "RES_002", resp.Details.Code)

	// The stub provider reports success, so reconciling completes the
	// transaction in place of the missing callback.
	status, resp = env.do(t, http.MethodPost, "/api/v1/payments/reconcile/"+txID, env.adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	var reconciled map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &reconciled))
	assert.Equal(t, "COMPLETED", reconciled["status"])

	// Reconciling again is a no-op read.
	status, _ = env.do(t, http.MethodPost, "/api/v1/payments/reconcile/"+txID, env.adminToken, nil)
	assert.Equal(t, http.StatusOK, status)
}
