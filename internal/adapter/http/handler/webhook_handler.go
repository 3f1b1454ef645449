package handler

import (
	"io"
	"time"

	"pesabridge/internal/adapter/http/dto"
	"pesabridge/internal/adapter/http/middleware"
	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"
	"pesabridge/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderCallbackSignature carries the provider's HMAC over the raw callback
// body, for providers that sign.
const HeaderCallbackSignature = "X-Api-Signature"

// maxCallbackBody bounds provider callback payloads.
const maxCallbackBody = 1 << 20

// WebhookHandler handles provider callback ingress and merchant webhook
// subscription management.
type WebhookHandler struct {
	paymentSvc ports.PaymentService
	subSvc     ports.SubscriptionService
	log        zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(paymentSvc ports.PaymentService, subSvc ports.SubscriptionService, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{paymentSvc: paymentSvc, subSvc: subSvc, log: log}
}

// ProviderCallback handles POST /api/v1/callbacks/:provider.
//
// Providers retry on non-2xx, so only a malformed payload or a bad signature
// earns a 400 and only an unknown correlation a 404. A structurally invalid
// transition on an otherwise well-formed callback is acknowledged with 200 so
// the provider stops retrying; it is logged for investigation.
func (h *WebhookHandler) ProviderCallback(c *gin.Context) {
	provider := c.Param("provider")

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		response.Error(c, apperror.ErrMalformedCallback("cannot read callback body"))
		return
	}

	tx, err := h.paymentSvc.HandleCallback(c.Request.Context(), provider, raw, c.GetHeader(HeaderCallbackSignature))
	if err != nil {
		switch apperror.CodeOf(err) {
		case "HOOK_001":
			response.Error(c, err)
		case "RES_001":
			response.Error(c, err)
		default:
			// Acknowledge so the provider does not keep retrying a payload
			// that will never apply.
			h.log.Warn().Err(err).Str("provider", provider).Msg("callback acknowledged without state change")
			response.OK(c, gin.H{"received": true})
		}
		return
	}

	response.OK(c, gin.H{"received": true, "status": string(tx.Status)})
}

// CreateSubscription handles POST /api/v1/webhooks. The plaintext signing
// secret appears in this response only.
func (h *WebhookHandler) CreateSubscription(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	sub, secret, err := h.subSvc.Create(c.Request.Context(), ports.CreateSubscriptionRequest{
		OwnerID:     principal.UserID,
		URL:         req.URL,
		Events:      toEventNames(req.Events),
		MaxAttempts: req.MaxAttempts,
		Timeout:     time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := toSubscriptionResponse(sub)
	resp.Secret = secret
	response.Created(c, resp)
}

// UpdateSubscription handles PUT /api/v1/webhooks/:id.
func (h *WebhookHandler) UpdateSubscription(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid subscription id"))
		return
	}

	var req dto.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	update := ports.UpdateSubscriptionRequest{
		URL:    req.URL,
		Active: req.Active,
	}
	if req.Events != nil {
		update.Events = toEventNames(req.Events)
	}
	if req.MaxAttempts != nil {
		update.MaxAttempts = req.MaxAttempts
	}
	if req.TimeoutMS != nil {
		d := time.Duration(*req.TimeoutMS) * time.Millisecond
		update.Timeout = &d
	}

	sub, err := h.subSvc.Update(c.Request.Context(), id, principal, update)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toSubscriptionResponse(sub))
}

// ListSubscriptions handles GET /api/v1/webhooks.
func (h *WebhookHandler) ListSubscriptions(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	subs, err := h.subSvc.List(c.Request.Context(), principal.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.SubscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, toSubscriptionResponse(&subs[i]))
	}
	response.OK(c, out)
}

// ListDeliveries handles GET /api/v1/webhooks/:id/deliveries.
func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid subscription id"))
		return
	}

	recs, err := h.subSvc.Deliveries(c.Request.Context(), id, principal)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := make([]dto.DeliveryRecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, dto.DeliveryRecordResponse{
			ID:              rec.ID.String(),
			SubscriptionID:  rec.SubscriptionID.String(),
			TransactionID:   rec.TransactionID.String(),
			Event:           string(rec.Event),
			Attempt:         rec.Attempt,
			Outcome:         string(rec.Outcome),
			HTTPStatus:      rec.HTTPStatus,
			ResponseSnippet: rec.ResponseSnippet,
			Error:           rec.Error,
			CreatedAt:       rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	response.OK(c, out)
}

func toEventNames(raw []string) []domain.EventName {
	out := make([]domain.EventName, len(raw))
	for i, e := range raw {
		out[i] = domain.EventName(e)
	}
	return out
}

func toSubscriptionResponse(sub *domain.WebhookSubscription) dto.SubscriptionResponse {
	events := make([]string, len(sub.Events))
	for i, e := range sub.Events {
		events[i] = string(e)
	}
	return dto.SubscriptionResponse{
		ID:          sub.ID.String(),
		OwnerID:     sub.OwnerID.String(),
		URL:         sub.URL,
		Events:      events,
		MaxAttempts: sub.MaxAttempts,
		TimeoutMS:   int(sub.Timeout.Milliseconds()),
		Active:      sub.Active,
		CreatedAt:   sub.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
