// internal/client/http_verifier.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
)

const (
	verifyPath = "/api/redemptions/verify"
	redeemPath = "/api/redemptions/redeem"

	// response bodies beyond this are not ours
	maxResponseBytes = 1 << 20
)

// HTTPVerifier talks to a PickupDesk server on behalf of a remote terminal
type HTTPVerifier struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPVerifier 创建远程核销客户端
func NewHTTPVerifier(baseURL, operatorToken string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   operatorToken,
		client:  &http.Client{Timeout: timeout},
	}
}

type rawRequest struct {
	Raw string `json:"raw"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Verify asks the server what v would redeem
func (h *HTTPVerifier) Verify(ctx context.Context, v models.Voucher) (*models.VerificationPreview, error) {
	var preview models.VerificationPreview
	hasData, err := h.post(ctx, verifyPath, v, &preview)
	if err != nil || !hasData {
		return nil, err
	}
	return &preview, nil
}

// Redeem asks the server to redeem v. A refused single-item voucher comes back
// with both the result and the classified error.
func (h *HTTPVerifier) Redeem(ctx context.Context, v models.Voucher) (*models.RedemptionResult, error) {
	var result models.RedemptionResult
	hasData, err := h.post(ctx, redeemPath, v, &result)
	if !hasData {
		return nil, err
	}
	return &result, err
}

func (h *HTTPVerifier) post(ctx context.Context, path string, v models.Voucher, out interface{}) (bool, error) {
	if v.Raw == "" {
		return false, apperrors.NewValidationError("voucher has no raw payload", nil)
	}
	body, err := json.Marshal(rawRequest{Raw: v.Raw})
	if err != nil {
		return false, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, apperrors.NewTransientError("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, apperrors.NewTransientError("server unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return false, apperrors.NewTransientError("failed to read response", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return false, apperrors.NewTransientError(fmt.Sprintf("server returned %d", resp.StatusCode), nil)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return false, apperrors.NewTransientError(fmt.Sprintf("unexpected response (status %d)", resp.StatusCode), err)
	}

	hasData := len(env.Data) > 0 && string(env.Data) != "null"
	if hasData {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, apperrors.NewTransientError("malformed response data", err)
		}
	}

	if env.Success {
		if !hasData {
			return false, apperrors.NewTransientError("response carried no data", nil)
		}
		return true, nil
	}
	if env.Error == nil {
		return hasData, apperrors.NewTransientError(fmt.Sprintf("request failed with status %d", resp.StatusCode), nil)
	}
	return hasData, apperrors.FromCode(env.Error.Code, env.Error.Message)
}
