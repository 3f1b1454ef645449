package handler

import (
	"math"
	"strconv"

	"pesabridge/internal/adapter/http/dto"
	"pesabridge/internal/adapter/http/middleware"
	"pesabridge/internal/core/domain"
	"pesabridge/internal/core/ports"
	"pesabridge/pkg/apperror"
	"pesabridge/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles transaction endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// CreateIntent handles POST /api/v1/payments/create-intent.
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	tx, err := h.paymentSvc.CreateIntent(c.Request.Context(), ports.CreateIntentRequest{
		OwnerID:      principal.UserID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Provider:     req.Provider,
		Method:       req.Method,
		Counterparty: req.Counterparty,
		Reference:    req.Reference,
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(tx))
}

// Initiate handles POST /api/v1/payments/initiate/:transactionId.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	tx, _, err := h.authorize(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.paymentSvc.Initiate(c.Request.Context(), tx.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.InitiateResponse{
		Transaction:     toTransactionResponse(result.Transaction),
		CorrelationID:   result.CorrelationID,
		CustomerMessage: result.CustomerMessage,
	})
}

// Refund handles POST /api/v1/payments/refund/:transactionId.
func (h *PaymentHandler) Refund(c *gin.Context) {
	tx, _, err := h.authorize(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	refunded, err := h.paymentSvc.Refund(c.Request.Context(), tx.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(refunded))
}

// Cancel handles POST /api/v1/payments/cancel/:transactionId.
func (h *PaymentHandler) Cancel(c *gin.Context) {
	tx, _, err := h.authorize(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	cancelled, err := h.paymentSvc.Cancel(c.Request.Context(), tx.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(cancelled))
}

// Get handles GET /api/v1/transactions/:transactionId.
func (h *PaymentHandler) Get(c *gin.Context) {
	tx, _, err := h.authorize(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(tx))
}

// Reconcile handles POST /api/v1/payments/reconcile/:transactionId. Admin-only: polls
// the provider for the outcome of a transaction whose callback went missing.
func (h *PaymentHandler) Reconcile(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	if !principal.IsAdmin() {
		response.Error(c, apperror.ErrForbidden())
		return
	}

	id, err := uuid.Parse(c.Param("transactionId"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	tx, err := h.paymentSvc.Reconcile(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(tx))
}

// List handles GET /api/v1/transactions. Merchants see their own transactions;
// admins may filter by any owner or none.
func (h *PaymentHandler) List(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	params := ports.TransactionListParams{
		Page:     parseIntDefault(c.Query("page"), 1),
		PageSize: parseIntDefault(c.Query("limit"), 20),
	}

	if principal.IsAdmin() {
		if raw := c.Query("owner_id"); raw != "" {
			ownerID, err := uuid.Parse(raw)
			if err != nil {
				response.Error(c, apperror.Validation("invalid owner_id"))
				return
			}
			params.OwnerID = &ownerID
		}
	} else {
		ownerID := principal.UserID
		params.OwnerID = &ownerID
	}

	if raw := c.Query("status"); raw != "" {
		status := domain.TransactionStatus(raw)
		params.Status = &status
	}
	if raw := c.Query("provider"); raw != "" {
		params.Provider = &raw
	}

	items, total, err := h.paymentSvc.List(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.TransactionListResponse{
		Items: make([]dto.TransactionResponse, 0, len(items)),
		Total: total,
		Page:  params.Page,
		Limit: params.PageSize,
	}
	if params.PageSize > 0 {
		resp.TotalPages = int(math.Ceil(float64(total) / float64(params.PageSize)))
	}
	for i := range items {
		resp.Items = append(resp.Items, toTransactionResponse(&items[i]))
	}
	response.OK(c, resp)
}

// authorize resolves the path id, loads the transaction and enforces the
// caller's capability over it.
func (h *PaymentHandler) authorize(c *gin.Context) (*domain.Transaction, ports.Principal, error) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return nil, ports.Principal{}, apperror.ErrInvalidToken()
	}

	id, err := uuid.Parse(c.Param("transactionId"))
	if err != nil {
		return nil, principal, apperror.Validation("invalid transaction id")
	}

	tx, err := h.paymentSvc.Get(c.Request.Context(), id)
	if err != nil {
		return nil, principal, err
	}
	if !principal.CanAccess(tx.OwnerID) {
		return nil, principal, apperror.ErrForbidden()
	}
	return tx, principal, nil
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// toTransactionResponse converts domain.Transaction to its DTO.
func toTransactionResponse(tx *domain.Transaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:               tx.ID.String(),
		OwnerID:          tx.OwnerID.String(),
		Amount:           tx.Amount.String(),
		Currency:         tx.Currency,
		Provider:         tx.Provider,
		Method:           tx.Method,
		Counterparty:     tx.Counterparty,
		Reference:        tx.Reference,
		Status:           string(tx.Status),
		CorrelationID:    tx.CorrelationID,
		ReceiptNumber:    tx.ReceiptNumber,
		FailureReason:    tx.FailureReason,
		DeliveryAttempts: tx.DeliveryAttempts,
		CreatedAt:        tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:        tx.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if tx.CompletedAt != nil {
		s := tx.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}
