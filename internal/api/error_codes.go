// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest        = "BAD_REQUEST"
	ErrorNotFound          = "NOT_FOUND"
	ErrorInternalError     = "INTERNAL_ERROR"
	ErrorUnauthorized      = "UNAUTHORIZED"
	ErrorRateLimitExceeded = "RATE_LIMIT_EXCEEDED"

	// 核销相关错误, same strings as internal/errors codes
	ErrorVoucherUnreadable  = "VOUCHER_UNREADABLE"
	ErrorInvalidFormat      = "INVALID_FORMAT"
	ErrorItemNotFound       = "ITEM_NOT_FOUND"
	ErrorAlreadyRedeemed    = "ALREADY_REDEEMED"
	ErrorItemCancelled      = "ITEM_CANCELLED"
	ErrorNotReady           = "NOT_READY"
	ErrorVoucherExpired     = "VOUCHER_EXPIRED"
	ErrorBackendUnavailable = "BACKEND_UNAVAILABLE"
)

// statusFor maps the error taxonomy onto HTTP
func statusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeDecode, apperrors.ErrorTypeParse, apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeIneligible, apperrors.ErrorTypeExpired:
		return http.StatusConflict
	case apperrors.ErrorTypeTransient:
		return http.StatusServiceUnavailable
	case apperrors.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func codeFor(err error) string {
	if code := apperrors.CodeOf(err); code != "" {
		return code
	}
	return ErrorInternalError
}
