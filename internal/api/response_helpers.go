// internal/api/response_helpers.go
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct {
	now func() time.Time
}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{now: time.Now}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, nil, message...)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusCreated, data, nil, message...)
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}
	rh.write(c, statusCode, nil, apiError)
}

// AppError writes err with the status of its type. data is kept in the body;
// a refused redemption still reports what it found.
func (rh *ResponseHelper) AppError(c *gin.Context, err error, data interface{}) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		// causes of backend failures stay in the log
		message = http.StatusText(status)
	}
	rh.write(c, status, data, &APIError{Code: codeFor(err), Message: sanitizeErrorMessage(message)})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// Unauthorized 401错误响应
func (rh *ResponseHelper) Unauthorized(c *gin.Context, message string) {
	rh.Error(c, http.StatusUnauthorized, ErrorUnauthorized, message)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, apiError *APIError, message ...string) {
	response := &APIResponse{
		Success:   apiError == nil,
		Data:      data,
		Error:     apiError,
		Timestamp: rh.now(),
		RequestID: c.GetString(requestIDKey),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// sanitizeErrorMessage keeps secrets out of error bodies
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"secret", "password", "dsn", "api_key"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}
