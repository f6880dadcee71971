// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All fiscal engine errors are AppError values so callers get a typed, recoverable result.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes of the fiscal engine.
const (
	// Infrastructure errors (5xx)
	CodeInternal       = "INTERNAL_ERROR"
	CodeDatabase       = "DATABASE_ERROR"
	CodeIntegrityFault = "INTEGRITY_FAULT"

	// Validation errors (400)
	CodeValidation = "VALIDATION_ERROR"

	// Business rule violations (422)
	CodeBusinessRule           = "BUSINESS_RULE_VIOLATION"
	CodeFormulaEvaluation      = "FORMULA_EVALUATION_ERROR"
	CodeLedgerClosed           = "LEDGER_CLOSED"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict     = "CONFLICT"
	CodeDuplicate    = "DUPLICATE_ENTRY"
	CodeRuleConflict = "RULE_CONFLICT"
	CodeOverlap      = "SETTING_OVERLAP"
	CodeLockTimeout  = "LOCK_TIMEOUT"
)

// AppError is the standard error type for the engine.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, conflicting ids, periods)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewBusinessRule creates a business rule violation error (422)
func NewBusinessRule(code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewRuleConflict reports two or more equally ranked rules for one tax type.
func NewRuleConflict(taxTypeID any, ruleIDs []string) *AppError {
	return &AppError{
		Code:       CodeRuleConflict,
		Message:    fmt.Sprintf("ambiguous tax rules for tax type %v", taxTypeID),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"tax_type_id": taxTypeID, "rule_ids": ruleIDs},
	}
}

// NewFormulaEvaluation reports a formula that failed to parse or evaluate.
func NewFormulaEvaluation(ruleID, taxTypeID any, formula string, cause error) *AppError {
	msg := "formula evaluation failed"
	if cause != nil {
		msg = fmt.Sprintf("formula evaluation failed: %v", cause)
	}
	return &AppError{
		Code:       CodeFormulaEvaluation,
		Message:    msg,
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"rule_id": ruleID, "tax_type_id": taxTypeID, "formula": formula},
		Err:        cause,
	}
}

// NewLedgerClosed creates error when posting to or modifying a frozen ledger period.
func NewLedgerClosed(period string, taxTypeID any, status string) *AppError {
	return &AppError{
		Code:       CodeLedgerClosed,
		Message:    fmt.Sprintf("Ledger for period %s is %s", period, status),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"period": period, "tax_type_id": taxTypeID, "status": status},
	}
}

// NewOverlap reports a fiscal setting whose validity window collides with an existing one.
func NewOverlap(conflictingID any, from, to string) *AppError {
	if to == "" {
		to = "open"
	}
	return &AppError{
		Code:       CodeOverlap,
		Message:    fmt.Sprintf("validity window overlaps existing setting [%s, %s)", from, to),
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"conflicting_id": conflictingID,
			"effective_from": from,
			"effective_to":   to,
		},
	}
}

// NewInvalidTransition reports a forbidden state machine move.
func NewInvalidTransition(entity, from, to string) *AppError {
	return &AppError{
		Code:       CodeInvalidTransition,
		Message:    fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"entity": entity, "from": from, "to": to},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified by another user. Please refresh and try again.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewLockTimeout is returned when a period lock could not be acquired in time.
func NewLockTimeout(resource string) *AppError {
	return &AppError{
		Code:       CodeLockTimeout,
		Message:    fmt.Sprintf("timed out waiting for lock on %s", resource),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"resource": resource},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewIntegrityFault is raised when a failed mutation could not be rolled back.
// Operators must inspect the store before traffic resumes.
func NewIntegrityFault(cause, rollbackErr error) *AppError {
	return &AppError{
		Code:       CodeIntegrityFault,
		Message:    "Transaction rollback failed; manual intervention required",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]any{"rollback_error": rollbackErr.Error()},
		Err:        errors.Join(cause, rollbackErr),
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// NewConflict creates a conflict error (409)
func NewConflict(message string) *AppError {
	return &AppError{
		Code:       CodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// NewDuplicate creates a duplicate entry error (409)
func NewDuplicate(entity, field, value string) *AppError {
	return &AppError{
		Code:       CodeDuplicate,
		Message:    fmt.Sprintf("%s with this %s already exists", entity, field),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "field": field, "value": value},
	}
}

// --- Helper functions ---

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// IsNotFound checks if error is CodeNotFound
func IsNotFound(err error) bool {
	return Is(err, CodeNotFound)
}
