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

// HasCode reports whether err is, or wraps, an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

const (
	CodeInvalidSignature        = "SEC_002"
	CodeInvalidToken            = "AUTH_003"
	CodeForbidden               = "AUTH_005"
	CodeRateLimitExceeded       = "RATE_001"
	CodeInsufficientFunds       = "LED_001"
	CodeInsufficientFrozenFunds = "LED_002"
	CodeDuplicateReference      = "LED_003"
	CodeInvariantViolation      = "LED_004"
	CodeInvalidAmount           = "LED_005"
	CodeAuctionNotFound         = "AUC_001"
	CodeAuctionNotEnded         = "AUC_002"
	CodeInvalidTransition       = "AUC_003"
	CodeActiveAuctionExists     = "AUC_004"
	CodePaymentNotFound         = "PAY_001"
	CodePaymentNotPending       = "PAY_002"
	CodePaymentNotVerified      = "PAY_003"
	CodeAmountMismatch          = "PAY_004"
	CodeProofMissing            = "PAY_005"
	CodeFlagAlreadyReviewed     = "FRD_001"
	CodeJustificationTooShort   = "FRD_002"
	CodeValidation              = "VAL_001"
	CodeNotFound                = "VAL_002"
	CodeInternal                = "SYS_001"
	CodeExternalService         = "SYS_002"
)

// ---- Security & Authentication (SEC / AUTH) ----

func ErrInvalidSignature() *AppError {
	return New(CodeInvalidSignature, "Invalid signature", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrForbidden() *AppError {
	return New(CodeForbidden, "Role not permitted for this action", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- Wallet Ledger (LED) ----

func ErrInsufficientFunds() *AppError {
	return New(CodeInsufficientFunds, "Insufficient available balance in wallet", http.StatusPaymentRequired)
}

func ErrInsufficientFrozenFunds() *AppError {
	return New(CodeInsufficientFrozenFunds, "Insufficient frozen funds in wallet", http.StatusConflict)
}

func ErrDuplicateReference(reference string) *AppError {
	return New(CodeDuplicateReference, fmt.Sprintf("Reference %q already used for a different operation", reference), http.StatusConflict)
}

func ErrInvariantViolation(err error) *AppError {
	return Wrap(CodeInvariantViolation, "Wallet balance invariant violated", http.StatusConflict, err)
}

func ErrInvalidAmount() *AppError {
	return New(CodeInvalidAmount, "Amount must be a positive number of minor units", http.StatusBadRequest)
}

// ---- Auction (AUC) ----

func ErrAuctionNotFound() *AppError {
	return New(CodeAuctionNotFound, "Auction not found", http.StatusNotFound)
}

func ErrAuctionNotEnded() *AppError {
	return New(CodeAuctionNotEnded, "Auction has not reached its end time", http.StatusConflict)
}

func ErrInvalidTransition(from, to string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("Auction cannot move from %s to %s", from, to), http.StatusConflict)
}

func ErrActiveAuctionExists() *AppError {
	return New(CodeActiveAuctionExists, "Case already has an active auction", http.StatusConflict)
}

// ---- Payment (PAY) ----

func ErrPaymentNotFound() *AppError {
	return New(CodePaymentNotFound, "Payment not found", http.StatusNotFound)
}

func ErrPaymentNotPending(status string) *AppError {
	return New(CodePaymentNotPending, fmt.Sprintf("Payment is %s, not pending", status), http.StatusConflict)
}

func ErrPaymentNotVerified() *AppError {
	return New(CodePaymentNotVerified, "Payment has not been verified", http.StatusConflict)
}

func ErrAmountMismatch(expected, got int64) *AppError {
	return New(CodeAmountMismatch, fmt.Sprintf("Amount mismatch: expected %d, got %d", expected, got), http.StatusUnprocessableEntity)
}

func ErrProofMissing() *AppError {
	return New(CodeProofMissing, "Bank transfer proof has not been uploaded", http.StatusConflict)
}

// ---- Fraud review (FRD) ----

func ErrFlagAlreadyReviewed() *AppError {
	return New(CodeFlagAlreadyReviewed, "Fraud flag already has a review decision", http.StatusConflict)
}

func ErrJustificationTooShort(min int) *AppError {
	return New(CodeJustificationTooShort, fmt.Sprintf("Justification must be at least %d characters", min), http.StatusBadRequest)
}

// ---- Generic ----

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(CodeInternal, "Internal database error", http.StatusInternalServerError, err)
}

func ErrExternalService(service string, err error) *AppError {
	return Wrap(CodeExternalService, fmt.Sprintf("%s unavailable", service), http.StatusBadGateway, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a VAL_001 validation error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}
