package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the error code if err is an AppError, or "" otherwise.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ---- Validation (VAL) ----

func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_002", "Amount must be greater than zero", http.StatusBadRequest)
}

func ErrUnsupportedProvider(provider, method string) *AppError {
	return New("VAL_003", fmt.Sprintf("Provider %q does not support method %q", provider, method), http.StatusBadRequest)
}

func ErrIntentExpired() *AppError {
	return New("VAL_004", "Payment intent has expired", http.StatusBadRequest)
}

// ---- Resource access (RES) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrForbidden() *AppError {
	return New("RES_002", "Access to this resource is denied", http.StatusForbidden)
}

func ErrConflict(message string) *AppError {
	return New("RES_003", message, http.StatusConflict)
}

// ---- Transaction lifecycle (TXN) ----

// ErrInvalidTransition identifies the current state, the attempted target
// and the triggering event. Callers rely on the TXN_001 code to tell a
// structural rule violation apart from an idempotent duplicate, which is
// never reported as an error.
func ErrInvalidTransition(current, target, trigger string) *AppError {
	return New("TXN_001",
		fmt.Sprintf("Illegal transition %s -> %s (trigger: %s)", current, target, trigger),
		http.StatusConflict)
}

func ErrCorrelationMismatch() *AppError {
	return New("TXN_002", "Callback correlation id does not match transaction", http.StatusConflict)
}

// ---- Provider adapters (PRV) ----

func ErrProviderAuth(err error) *AppError {
	return Wrap("PRV_001", "Provider authentication failed", http.StatusBadGateway, err)
}

func ErrProviderRejected(reason string) *AppError {
	return New("PRV_002", fmt.Sprintf("Provider rejected the request: %s", reason), http.StatusBadGateway)
}

func ErrProviderUnavailable(err error) *AppError {
	return Wrap("PRV_003", "Provider temporarily unavailable", http.StatusServiceUnavailable, err)
}

// ---- Webhooks (HOOK) ----

func ErrMalformedCallback(reason string) *AppError {
	return New("HOOK_001", fmt.Sprintf("Malformed provider callback: %s", reason), http.StatusBadRequest)
}

// ErrDeliveryExhausted is logged by the dispatcher when a subscription runs
// out of retry attempts. It never reaches an HTTP caller.
func ErrDeliveryExhausted(subscriptionID string, attempts int) *AppError {
	return New("HOOK_002",
		fmt.Sprintf("Webhook delivery to subscription %s exhausted after %d attempts", subscriptionID, attempts),
		http.StatusInternalServerError)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- System & Infrastructure (SYS) ----

func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_002", "Internal database error", http.StatusInternalServerError, err)
}
