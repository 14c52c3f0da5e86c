// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/PickupDesk/internal/services"
	"github.com/Corphon/PickupDesk/internal/utils"
	"github.com/Corphon/PickupDesk/internal/voucher"
)

const (
	minQRSize = 64
	maxQRSize = 1024
)

// Handler 处理API请求
type Handler struct {
	Verifier         *services.RedemptionVerifier // 核销
	Issuer           *services.IssueService       // 凭证签发
	Items            *services.ItemService        // 物品查询
	Metrics          *utils.RedemptionMetrics
	Sessions         *TerminalSessionManager
	WebSocketHandler *WebSocketHandler
	Response         *ResponseHelper
	Logger           *utils.Logger
	StoreDriver      string
	startedAt        time.Time
}

// RawVoucherRequest carries scanned or typed voucher text
type RawVoucherRequest struct {
	Raw string `json:"raw" binding:"required"`
}

// IssueVoucher encodes a voucher over an owner's redeemable items
func (h *Handler) IssueVoucher(c *gin.Context) {
	var req services.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	issued, err := h.Issuer.Issue(c.Request.Context(), req)
	if err != nil {
		h.Response.AppError(c, err, nil)
		return
	}
	h.Response.Created(c, issued)
}

// VoucherQR renders an arbitrary payload as a PNG QR code
func (h *Handler) VoucherQR(c *gin.Context) {
	payload := c.Query("payload")
	if strings.TrimSpace(payload) == "" {
		h.Response.BadRequest(c, "payload is required")
		return
	}

	size := voucher.DefaultQRSize
	if s := c.Query("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < minQRSize || n > maxQRSize {
			h.Response.BadRequest(c, "size must be between 64 and 1024")
			return
		}
		size = n
	}

	png, err := voucher.RenderQR(payload, size)
	if err != nil {
		h.Response.BadRequest(c, "cannot render payload", err.Error())
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// VerifyVoucher previews a voucher without changing anything
func (h *Handler) VerifyVoucher(c *gin.Context) {
	var req RawVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "raw voucher text is required")
		return
	}

	preview, err := h.Verifier.VerifyRaw(c.Request.Context(), req.Raw)
	if err != nil {
		h.Response.AppError(c, err, nil)
		return
	}
	h.Response.Success(c, preview)
}

// RedeemVoucher applies a voucher. A refused single-item voucher answers with
// its error status and the result alongside.
func (h *Handler) RedeemVoucher(c *gin.Context) {
	var req RawVoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "raw voucher text is required")
		return
	}

	result, err := h.Verifier.RedeemRaw(c.Request.Context(), req.Raw)
	if err != nil {
		if result != nil {
			h.Response.AppError(c, err, result)
			return
		}
		h.Response.AppError(c, err, nil)
		return
	}
	h.Response.Success(c, result)
}

// GetItem 获取物品状态
func (h *Handler) GetItem(c *gin.Context) {
	item, err := h.Items.GetItem(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err, nil)
		return
	}
	h.Response.Success(c, item)
}

// GetMetrics 获取运行指标
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, h.Metrics.Collector().GetMetrics())
}

// GetTerminalStatus lists the open terminal sessions
func (h *Handler) GetTerminalStatus(c *gin.Context) {
	h.Response.Success(c, h.Sessions.GetStatus())
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":            "ok",
		"store":             h.StoreDriver,
		"terminal_sessions": h.Sessions.Count(),
		"uptime":            time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// TerminalWebSocket 处理终端 WebSocket 连接
func (h *Handler) TerminalWebSocket(c *gin.Context) {
	h.WebSocketHandler.TerminalWebSocket(c)
}
