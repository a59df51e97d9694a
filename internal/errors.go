package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeUnauthorized  ErrorType = "UNAUTHORIZED"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypeUnprocessable ErrorType = "UNPROCESSABLE"
	ErrorTypeUnavailable   ErrorType = "UNAVAILABLE"
	ErrorTypeInternal      ErrorType = "INTERNAL_ERROR"
)

type ErrorCode string

const (
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidAmount      ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidPricingTier ErrorCode = "INVALID_PRICING_TIER"
	ErrCodeInvalidPaymentType ErrorCode = "INVALID_PAYMENT_TYPE"

	ErrCodePlayerNotFound        ErrorCode = "PLAYER_NOT_FOUND"
	ErrCodeDivisionNotFound      ErrorCode = "DIVISION_NOT_FOUND"
	ErrCodeCityNotFound          ErrorCode = "CITY_NOT_FOUND"
	ErrCodeReaderNotFound        ErrorCode = "READER_NOT_FOUND"
	ErrCodePaymentMethodNotFound ErrorCode = "PAYMENT_METHOD_NOT_FOUND"
	ErrCodeInstallmentNotFound   ErrorCode = "INSTALLMENT_NOT_FOUND"
	ErrCodeIntentNotFound        ErrorCode = "PAYMENT_INTENT_NOT_FOUND"

	ErrCodeReaderNotReady     ErrorCode = "READER_NOT_READY"
	ErrCodeAlreadyPaid        ErrorCode = "ALREADY_PAID"
	ErrCodeDoubleSubmission   ErrorCode = "DOUBLE_SUBMISSION"
	ErrCodeInvalidTransition  ErrorCode = "INVALID_STATUS_TRANSITION"
	ErrCodeConcurrentUpdate   ErrorCode = "CONCURRENT_UPDATE"
	ErrCodeRegionMissing      ErrorCode = "REGION_MISSING"
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayRejected    ErrorCode = "GATEWAY_REJECTED"
	ErrCodeSignatureInvalid   ErrorCode = "SIGNATURE_INVALID"

	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
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

// Is matches on error code so sentinel values survive wrapping and copying.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy carrying cause. Sentinels stay untouched.
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// WithDetails returns a copy carrying details.
func (e *AppError) WithDetails(details interface{}) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMessage returns a copy with a more specific message.
func (e *AppError) WithMessage(format string, args ...interface{}) *AppError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
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

func NewUnauthorizedError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
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

func NewUnprocessableError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnprocessable,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
	}
}

func NewUnavailableError(message string, code ErrorCode) *AppError {
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Code:       code,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
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

var (
	ErrPlayerNotFound        = NewNotFoundError("player not found", ErrCodePlayerNotFound)
	ErrDivisionNotFound      = NewNotFoundError("division not found", ErrCodeDivisionNotFound)
	ErrCityNotFound          = NewNotFoundError("city not found", ErrCodeCityNotFound)
	ErrReaderNotFound        = NewNotFoundError("terminal reader not found", ErrCodeReaderNotFound)
	ErrPaymentMethodNotFound = NewNotFoundError("payment method not found", ErrCodePaymentMethodNotFound)
	ErrInstallmentNotFound   = NewNotFoundError("installment not found", ErrCodeInstallmentNotFound)
	ErrIntentNotFound        = NewNotFoundError("payment intent not found", ErrCodeIntentNotFound)

	ErrReaderNotReady    = NewConflictError("terminal reader is not ready", ErrCodeReaderNotReady)
	ErrAlreadyPaid       = NewConflictError("payment already completed", ErrCodeAlreadyPaid)
	ErrDoubleSubmission  = NewConflictError("a terminal attempt is still in progress", ErrCodeDoubleSubmission)
	ErrInvalidTransition = NewConflictError("invalid payment status transition", ErrCodeInvalidTransition)
	ErrConcurrentUpdate  = NewConflictError("payment method was modified concurrently", ErrCodeConcurrentUpdate)

	ErrRegionMissing = NewUnprocessableError("division region could not be resolved", ErrCodeRegionMissing)

	ErrGatewayUnavailable = NewUnavailableError("payment gateway unavailable", ErrCodeGatewayUnavailable)
	ErrGatewayRejected    = NewValidationError("payment gateway rejected the request", ErrCodeGatewayRejected)
	ErrSignatureInvalid   = NewValidationError("webhook signature verification failed", ErrCodeSignatureInvalid)

	ErrInvalidToken = NewUnauthorizedError("Invalid token", ErrCodeInvalidToken)
	ErrTokenExpired = NewUnauthorizedError("Token has expired", ErrCodeTokenExpired)
)

// IsAppError unwraps err until it finds an *AppError.
func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
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
