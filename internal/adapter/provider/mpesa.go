package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// MpesaName is the provider key for Safaricom M-Pesa (Daraja).
const MpesaName = "mpesa"

const (
	mpesaTimestampLayout = "20060102150405"
	mpesaMethodSTKPush   = "stk_push"
)

// MpesaConfig holds Daraja API credentials and endpoints.
type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
}

// MpesaAdapter implements ports.ProviderAdapter for M-Pesa STK push.
// The OAuth bearer token is cached and refreshed transparently; the outbound
// calls run behind a circuit breaker so a flapping Daraja endpoint fails fast.
type MpesaAdapter struct {
	cfg     MpesaConfig
	client  Doer
	tokens  *bearerTokenSource
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewMpesaAdapter creates a new MpesaAdapter. creds may be nil; the token is
// then cached in-process only.
func NewMpesaAdapter(cfg MpesaConfig, client Doer, creds ports.CredentialStore, log zerolog.Logger) *MpesaAdapter {
	a := &MpesaAdapter{
		cfg:    cfg,
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mpesa",
			Timeout: 30 * time.Second,
		}),
		log: log,
	}
	a.tokens = newBearerTokenSource(a.fetchToken, creds, "mpesa:oauth", 30*time.Second, log)
	return a
}

func (a *MpesaAdapter) Name() string { return MpesaName }

func (a *MpesaAdapter) Supports(method string) bool { return method == mpesaMethodSTKPush }

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// fetchToken performs the client-credentials handshake.
func (a *MpesaAdapter) fetchToken(ctx context.Context) (string, time.Duration, error) {
	url := a.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(a.cfg.ConsumerKey, a.cfg.ConsumerSecret)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token request returned %d", resp.StatusCode)
	}

	var tr mpesaTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, fmt.Errorf("empty access token in response")
	}

	ttl := time.Hour
	if secs, err := strconv.Atoi(tr.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return tr.AccessToken, ttl, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

// Initiate sends an STK push to the customer's phone.
func (a *MpesaAdapter) Initiate(ctx context.Context, tx *domain.Transaction) (*ports.ProviderHandle, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, apperror.ErrProviderAuth(err)
	}

	ts := time.Now().Format(mpesaTimestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(a.cfg.ShortCode + a.cfg.Passkey + ts))

	reference := tx.Reference
	if reference == "" {
		reference = tx.ID.String()
	}
	body, err := json.Marshal(stkPushRequest{
		BusinessShortCode: a.cfg.ShortCode,
		Password:          password,
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            tx.Amount.StringFixed(0),
		PartyA:            tx.Counterparty,
		PartyB:            a.cfg.ShortCode,
		PhoneNumber:       tx.Counterparty,
		CallBackURL:       a.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   "Payment " + tx.ID.String(),
	})
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("marshal stk push: %w", err))
	}

	result, err := a.breaker.Execute(func() (interface{}, error) {
		return a.doSTKPush(ctx, token, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperror.ErrProviderUnavailable(err)
		}
		return nil, err
	}
	return result.(*ports.ProviderHandle), nil
}

func (a *MpesaAdapter) doSTKPush(ctx context.Context, token string, body []byte) (*ports.ProviderHandle, error) {
	url := a.cfg.BaseURL + "/mpesa/stkpush/v1/processrequest"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("build stk push request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperror.ErrProviderUnavailable(err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		a.tokens.Invalidate()
		return nil, apperror.ErrProviderAuth(fmt.Errorf("stk push returned 401"))
	case resp.StatusCode >= 500:
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("stk push returned %d", resp.StatusCode))
	}

	var pr stkPushResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("decode stk push response: %w", err))
	}

	if resp.StatusCode != http.StatusOK || pr.ResponseCode != "0" {
		reason := pr.ResponseDescription
		if reason == "" {
			reason = pr.ErrorMessage
		}
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, apperror.ErrProviderRejected(reason)
	}
	if pr.CheckoutRequestID == "" {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("stk push response missing CheckoutRequestID"))
	}

	return &ports.ProviderHandle{
		CorrelationID:   pr.CheckoutRequestID,
		ProviderRef:     pr.MerchantRequestID,
		CustomerMessage: pr.CustomerMessage,
	}, nil
}

type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// NormalizeCallback parses a Daraja STK callback. Daraja does not sign
// callbacks, so validation is structural plus the correlation-id match
// performed by the caller.
func (a *MpesaAdapter) NormalizeCallback(raw []byte) (*ports.CanonicalResult, error) {
	var cb mpesaCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, apperror.ErrMalformedCallback("invalid JSON body")
	}

	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		return nil, apperror.ErrMalformedCallback("missing CheckoutRequestID")
	}
	if stk.ResultCode == nil {
		return nil, apperror.ErrMalformedCallback("missing ResultCode")
	}

	res := &ports.CanonicalResult{
		CorrelationID: stk.CheckoutRequestID,
		Timestamp:     time.Now().UTC(),
	}

	if *stk.ResultCode != 0 {
		res.Outcome = ports.OutcomeFailure
		res.FailureReason = stk.ResultDesc
		return res, nil
	}

	res.Outcome = ports.OutcomeSuccess
	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if s, ok := item.Value.(string); ok {
				res.Receipt = s
			}
		case "Amount":
			if f, ok := item.Value.(float64); ok {
				res.SettledAmount = decimal.NewFromFloat(f)
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case string:
				res.Counterparty = v
			case float64:
				res.Counterparty = strconv.FormatFloat(v, 'f', 0, 64)
			}
		case "TransactionDate":
			if f, ok := item.Value.(float64); ok {
				if t, err := time.Parse(mpesaTimestampLayout, strconv.FormatFloat(f, 'f', 0, 64)); err == nil {
					res.Timestamp = t
				}
			}
		}
	}
	if res.Receipt == "" {
		return nil, apperror.ErrMalformedCallback("successful callback missing MpesaReceiptNumber")
	}
	return res, nil
}

type stkQueryResponse struct {
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// QueryStatus polls Daraja for the outcome of an STK push whose callback
// never arrived.
func (a *MpesaAdapter) QueryStatus(ctx context.Context, correlationID string) (*ports.CanonicalResult, error) {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return nil, apperror.ErrProviderAuth(err)
	}

	ts := time.Now().Format(mpesaTimestampLayout)
	password := base64.StdEncoding.EncodeToString([]byte(a.cfg.ShortCode + a.cfg.Passkey + ts))
	body, _ := json.Marshal(map[string]string{
		"BusinessShortCode": a.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         ts,
		"CheckoutRequestID": correlationID,
	})

	url := a.cfg.BaseURL + "/mpesa/stkpushquery/v1/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("build query request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, apperror.ErrProviderUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		a.tokens.Invalidate()
		return nil, apperror.ErrProviderAuth(fmt.Errorf("status query returned 401"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("status query returned %d", resp.StatusCode))
	}

	var qr stkQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, apperror.ErrProviderUnavailable(fmt.Errorf("decode status query response: %w", err))
	}

	res := &ports.CanonicalResult{
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
	if qr.ResultCode == "0" {
		res.Outcome = ports.OutcomeSuccess
	} else {
		res.Outcome = ports.OutcomeFailure
		res.FailureReason = qr.ResultDesc
	}
	return res, nil
}
