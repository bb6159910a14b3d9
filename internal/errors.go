package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"
	ErrorTypeInternal   ErrorType = "INTERNAL_ERROR"
	ErrorTypeExternal   ErrorType = "EXTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount    ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidCurrency  ErrorCode = "INVALID_CURRENCY"
	ErrCodeInvalidProvider  ErrorCode = "INVALID_PROVIDER"

	ErrCodeBatchNotFound       ErrorCode = "BATCH_NOT_FOUND"
	ErrCodeCommissionNotFound  ErrorCode = "COMMISSION_NOT_FOUND"
	ErrCodeTransactionNotFound ErrorCode = "TRANSACTION_NOT_FOUND"
	ErrCodePayeeNotFound       ErrorCode = "PAYEE_NOT_FOUND"

	ErrCodeNoEligiblePayees   ErrorCode = "NO_ELIGIBLE_PAYEES"
	ErrCodeBatchNotExecutable ErrorCode = "BATCH_NOT_EXECUTABLE"
	ErrCodeBatchInFlight      ErrorCode = "BATCH_IN_FLIGHT"
	ErrCodeCannotDelete       ErrorCode = "CANNOT_DELETE_BATCH"
	ErrCodeCannotCancel       ErrorCode = "CANNOT_CANCEL_BATCH"

	ErrCodeProviderAuth        ErrorCode = "PROVIDER_AUTH_FAILED"
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeWebhookRejected     ErrorCode = "WEBHOOK_SIGNATURE_REJECTED"
)

type AppError struct {
	Type       ErrorType   `json:"type"`
	Code       ErrorCode   `json:"code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
	StatusCode int         `json:"-"`
	Cause      error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok && len(validationErrors.Errors) > 0 {
			return validationErrors.Errors[0].Message
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) GetDetailedMessage() string {
	if e.Details != nil {
		if validationErrors, ok := e.Details.(ValidationErrors); ok {
			if len(validationErrors.Errors) == 1 {
				return validationErrors.Errors[0].Message
			} else if len(validationErrors.Errors) > 1 {
				messages := make([]string, len(validationErrors.Errors))
				for i, err := range validationErrors.Errors {
					messages[i] = err.Message
				}
				return strings.Join(messages, "; ")
			}
		}
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func NewValidationError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewValidationFieldError(field, message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeValidationFailed,
		Message:    "Validation failed",
		StatusCode: http.StatusBadRequest,
		Details: ValidationErrors{
			Errors: []ValidationError{
				{Field: field, Message: message, Code: string(code)},
			},
		},
	}
}

func NewNotFoundError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

func NewConflictError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewExternalError covers failures talking to the payment rail; these abort
// batch-level execution and surface as 502.
func NewExternalError(message string, code ErrorCode, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

var (
	ErrBatchNotFound      = NewNotFoundError("Batch not found", ErrCodeBatchNotFound)
	ErrCommissionNotFound = NewNotFoundError("Commission not found", ErrCodeCommissionNotFound)
	ErrPayeeNotFound      = NewNotFoundError("Payee not found", ErrCodePayeeNotFound)

	ErrNoEligiblePayees   = NewConflictError("no payees meet the minimum payout threshold", ErrCodeNoEligiblePayees)
	ErrBatchNotExecutable = NewConflictError("batch is not in an executable state", ErrCodeBatchNotExecutable)
	ErrBatchInFlight      = NewConflictError("another batch is currently processing", ErrCodeBatchInFlight)
	ErrCannotDeleteBatch  = NewConflictError("batch can only be deleted while pending or cancelled", ErrCodeCannotDelete)
	ErrCannotCancelBatch  = NewConflictError("batch can only be cancelled while pending or queued", ErrCodeCannotCancel)
)

func IsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}

type Response struct {
	Error *AppError `json:"error"`
}

func (e *AppError) ToHTTPResponse() (int, interface{}) {
	return e.StatusCode, Response{Error: e}
}

func (e *AppError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    ErrorType   `json:"type"`
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Details interface{} `json:"details,omitempty"`
	}{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	})
}
