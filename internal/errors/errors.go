// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"

	"github.com/Corphon/PickupDesk/internal/models"
)

// ErrorType classifies a failure at the verifier/terminal boundary
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation_error"
	ErrorTypeDecode       ErrorType = "decode_error"
	ErrorTypeParse        ErrorType = "parse_error"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeIneligible   ErrorType = "ineligible_state"
	ErrorTypeExpired      ErrorType = "expired_voucher"
	ErrorTypeTransient    ErrorType = "transient_backend"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
)

// AppError is the error value every layer of the redemption path returns
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string
	// Reason is set for ErrorTypeIneligible
	Reason models.IneligibleReason
}

// Error implements error
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the wrapped cause
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError builds an AppError with the code derived from its type
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType, ""),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewDecodeError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeDecode, message, originalError)
}

func NewParseError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeParse, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewExpiredError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeExpired, message, originalError)
}

func NewTransientError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTransient, message, originalError)
}

func NewUnauthorizedError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnauthorized, message, originalError)
}

// NewIneligibleError reports an item that exists but is not in the redeem source state
func NewIneligibleError(reason models.IneligibleReason, message string) *AppError {
	return &AppError{
		Type:    ErrorTypeIneligible,
		Message: message,
		Code:    generateErrorCode(ErrorTypeIneligible, reason),
		Reason:  reason,
	}
}

// TypeOf returns the ErrorType of err, or "" when err is not an AppError
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// ReasonOf returns the ineligible reason carried by err
func ReasonOf(err error) models.IneligibleReason {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Reason
	}
	return ""
}

// CodeOf returns the API code carried by err, or "" when err is not an AppError
func CodeOf(err error) string {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Code
	}
	return ""
}

func IsValidationError(err error) bool { return TypeOf(err) == ErrorTypeValidation }
func IsDecodeError(err error) bool     { return TypeOf(err) == ErrorTypeDecode }
func IsParseError(err error) bool      { return TypeOf(err) == ErrorTypeParse }
func IsNotFoundError(err error) bool   { return TypeOf(err) == ErrorTypeNotFound }
func IsIneligibleError(err error) bool { return TypeOf(err) == ErrorTypeIneligible }
func IsExpiredError(err error) bool    { return TypeOf(err) == ErrorTypeExpired }
func IsTransientError(err error) bool  { return TypeOf(err) == ErrorTypeTransient }

// IsUnauthorizedError 检查是否为未授权错误
func IsUnauthorizedError(err error) bool { return TypeOf(err) == ErrorTypeUnauthorized }

// generateErrorCode maps a type (and ineligible reason) to the stable API code
func generateErrorCode(errType ErrorType, reason models.IneligibleReason) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeDecode:
		return "VOUCHER_UNREADABLE"
	case ErrorTypeParse:
		return "INVALID_FORMAT"
	case ErrorTypeNotFound:
		return "ITEM_NOT_FOUND"
	case ErrorTypeIneligible:
		switch reason {
		case models.ReasonAlreadyRedeemed:
			return "ALREADY_REDEEMED"
		case models.ReasonCancelled:
			return "ITEM_CANCELLED"
		default:
			return "NOT_READY"
		}
	case ErrorTypeExpired:
		return "VOUCHER_EXPIRED"
	case ErrorTypeTransient:
		return "BACKEND_UNAVAILABLE"
	case ErrorTypeUnauthorized:
		return "UNAUTHORIZED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// FromCode rebuilds an AppError from an API code; used by remote clients
func FromCode(code, message string) *AppError {
	switch code {
	case "VALIDATION_ERROR", "BAD_REQUEST":
		return NewValidationError(message, nil)
	case "VOUCHER_UNREADABLE":
		return NewDecodeError(message, nil)
	case "INVALID_FORMAT":
		return NewParseError(message, nil)
	case "ITEM_NOT_FOUND":
		return NewNotFoundError(message, nil)
	case "ALREADY_REDEEMED":
		return NewIneligibleError(models.ReasonAlreadyRedeemed, message)
	case "ITEM_CANCELLED":
		return NewIneligibleError(models.ReasonCancelled, message)
	case "NOT_READY":
		return NewIneligibleError(models.ReasonNotReady, message)
	case "VOUCHER_EXPIRED":
		return NewExpiredError(message, nil)
	case "UNAUTHORIZED":
		return NewUnauthorizedError(message, nil)
	default:
		return NewTransientError(message, nil)
	}
}

// WrapError wraps err keeping the type of an inner AppError
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
			Reason:  appError.Reason,
		}
	}

	return NewAppError(errType, message, err)
}
