// internal/api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/PickupDesk/internal/auth"
	"github.com/Corphon/PickupDesk/internal/services"
	"github.com/Corphon/PickupDesk/internal/utils"
)

// RouterDeps is everything the HTTP surface is built from
type RouterDeps struct {
	Verifier    *services.RedemptionVerifier
	Issuer      *services.IssueService
	Items       *services.ItemService
	Metrics     *utils.RedemptionMetrics
	Sessions    *TerminalSessionManager
	Limiter     *RateLimiter
	TokenConfig *auth.TokenConfig
	Logger      *utils.Logger

	StoreDriver     string
	RedeemRateLimit int // per minute per operator
	VerifyTimeout   time.Duration
	ResumeCooldown  time.Duration
}

// SetupRouter 配置HTTP路由
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = utils.GetLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = utils.NewRedemptionMetrics(nil, deps.Logger)
	}
	if deps.Sessions == nil {
		deps.Sessions = NewTerminalSessionManager(deps.Logger)
	}
	if deps.Limiter == nil {
		deps.Limiter = NewRateLimiter()
	}

	rh := NewResponseHelper()
	handler := &Handler{
		Verifier:    deps.Verifier,
		Issuer:      deps.Issuer,
		Items:       deps.Items,
		Metrics:     deps.Metrics,
		Sessions:    deps.Sessions,
		Response:    rh,
		Logger:      deps.Logger,
		StoreDriver: deps.StoreDriver,
		startedAt:   time.Now(),
		WebSocketHandler: NewWebSocketHandler(deps.Verifier, deps.Sessions, deps.Metrics, deps.Logger,
			deps.VerifyTimeout, deps.ResumeCooldown),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(metricsMiddleware(deps.Metrics))
	r.Use(corsMiddleware())

	operator := OperatorAuth(deps.TokenConfig, rh, deps.Logger)
	redeemLimit := deps.Limiter.Middleware(deps.RedeemRateLimit, time.Minute, byOperator, rh)

	// 终端 WebSocket
	r.GET("/ws/terminal", operator, handler.TerminalWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)

		// 凭证
		vouchers := api.Group("/vouchers")
		{
			vouchers.POST("", deps.Limiter.Middleware(deps.RedeemRateLimit, time.Minute, byIP, rh), handler.IssueVoucher)
			vouchers.GET("/qr", handler.VoucherQR)
		}

		// 核销
		redemptions := api.Group("/redemptions", operator, redeemLimit)
		{
			redemptions.POST("/verify", handler.VerifyVoucher)
			redemptions.POST("/redeem", handler.RedeemVoucher)
		}

		api.GET("/items/:type/:id", handler.GetItem)
		api.GET("/terminals", operator, handler.GetTerminalStatus)
	}

	return r
}
