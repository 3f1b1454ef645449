package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// EquityName is the provider key for Equity Bank transfers.
const EquityName = "equity"

const equityMethodBankTransfer = "bank_transfer"

// EquityConfig holds Equity API credentials.
type EquityConfig struct {
	BaseURL       string
	APIKey        string
	MerchantCode  string
	SigningSecret string
}

// EquityAdapter implements ports.ProviderAdapter for Equity Bank. Outbound
// requests are HMAC-signed with the shared secret; inbound callbacks carry a
// signature over the raw body, which VerifyCallback checks.
type EquityAdapter struct {
	cfg     EquityConfig
	client  Doer
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewEquityAdapter creates a new EquityAdapter.
func NewEquityAdapter(cfg EquityConfig, client Doer, log zerolog.Logger) *EquityAdapter {
	return &EquityAdapter{
		cfg:    cfg,
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "equity",
			Timeout: 30 * time.Second,
		}),
		log: log,
	}
}

func (a *EquityAdapter) Name() string { return EquityName }

func (a *EquityAdapter) Supports(method string) bool { return method == equityMethodBankTransfer }

func (a *EquityAdapter) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.SigningSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type equityTransferRequest struct {
	MerchantCode  string `json:"merchantCode"`
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	AccountNumber string `json:"accountNumber"`
	Narrative     string `json:"narrative,omitempty"`
}

type equityTransferResponse struct {
	Status         string `json:"status"`
	TransactionRef string `json:"transactionRef"`
	Message        string `json:"message"`
}

// Initiate requests a bank transfer collection.
func (a *EquityAdapter) Initiate(ctx context.Context, tx *domain.Transaction) (*ports.ProviderHandle, error) {
	body, err := json.Marshal(equityTransferRequest{
		MerchantCode:  a.cfg.MerchantCode,
		Reference:     tx.ID.String(),
		Amount:        tx.Amount.StringFixed(2),
		Currency:      tx.Currency,
		AccountNumber: tx.Counterparty,
		Narrative:     tx.Reference,
	})
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal transfer request: %w", err))
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.doTransfer(ctx, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperror.ErrProviderUnavailable(err)
		}
		return nil, err
	}
	return result.(*ports.ProviderHandle), nil
}

func (a *EquityAdapter) doTransfer(ctx context.Context, body []byte) (*ports.ProviderHandle, error) {
	url := a.cfg.BaseURL + "/v1/payments/transfer"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("build transfer request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("X-Api-Signature", a.sign(body))

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperror.ErrProviderUnavailable(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperror.ErrProviderAuth(fmt.Errorf("transfer returned %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("transfer returned %d", resp.StatusCode))
	}

	var tr equityTransferResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("decode transfer response: %w", err))
	}
	if resp.StatusCode != http.StatusOK || tr.Status != "ACCEPTED" {
		reason := tr.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, apperror.ErrProviderRejected(reason)
	}
	if tr.TransactionRef == "" {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("transfer response missing transactionRef"))
	}

	return &ports.ProviderHandle{
		CorrelationID:   tr.TransactionRef,
		CustomerMessage: "Authorize the transfer in your Equity banking app",
	}, nil
}

type equityCallback struct {
	TransactionRef string `json:"transactionRef"`
	Status         string `json:"status"`
	ReceiptNumber  string `json:"receiptNumber"`
	Amount         string `json:"amount"`
	AccountNumber  string `json:"accountNumber"`
	Reason         string `json:"reason"`
	Timestamp      string `json:"timestamp"`
}

// NormalizeCallback parses an Equity transfer callback.
func (a *EquityAdapter) NormalizeCallback(raw []byte) (*ports.CanonicalResult, error) {
	var cb equityCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, apperror.ErrMalformedCallback("invalid JSON body")
	}
	if cb.TransactionRef == "" {
		return nil, apperror.ErrMalformedCallback("missing transactionRef")
	}

	res := &ports.CanonicalResult{
		CorrelationID: cb.TransactionRef,
		Counterparty:  cb.AccountNumber,
		Timestamp:     time.Now().UTC(),
	}
	if ts, err := time.Parse(time.RFC3339, cb.Timestamp); err == nil {
		res.Timestamp = ts
	}
	if cb.Amount != "" {
		if amt, err := decimal.NewFromString(cb.Amount); err == nil {
			res.SettledAmount = amt
		}
	}

	switch cb.Status {
	case "SUCCESS":
		if cb.ReceiptNumber == "" {
			return nil, apperror.ErrMalformedCallback("successful callback missing receiptNumber")
		}
		res.Outcome = ports.OutcomeSuccess
		res.Receipt = cb.ReceiptNumber
	case "FAILED":
		res.Outcome = ports.OutcomeFailure
		res.FailureReason = cb.Reason
	default:
		return nil, apperror.ErrMalformedCallback(fmt.Sprintf("unknown status %q", cb.Status))
	}
	return res, nil
}

// VerifyCallback recomputes the HMAC over the raw body and compares in
// constant time.
func (a *EquityAdapter) VerifyCallback(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(a.sign(body)), []byte(signature))
}

// QueryStatus polls the transfer status endpoint.
func (a *EquityAdapter) QueryStatus(ctx context.Context, correlationID string) (*ports.CanonicalResult, error) {
	url := a.cfg.BaseURL + "/v1/payments/" + correlationID + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("build status request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperror.ErrProviderUnavailable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperror.ErrProviderAuth(fmt.Errorf("status query returned %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperror.ErrNotFound("transaction")
	case resp.StatusCode != http.StatusOK:
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("status query returned %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, apperror.ErrProviderUnavailable(err)
	}
	return a.NormalizeCallback(raw)
}
