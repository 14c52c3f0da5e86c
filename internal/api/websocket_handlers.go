// internal/api/websocket_handlers.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Corphon/PickupDesk/internal/terminal"
	"github.com/Corphon/PickupDesk/internal/utils"
)

// WebSocketHandler 处理终端 WebSocket 连接
type WebSocketHandler struct {
	verifier       terminal.Verifier
	sessions       *TerminalSessionManager
	metrics        *utils.RedemptionMetrics
	logger         *utils.Logger
	verifyTimeout  time.Duration
	resumeCooldown time.Duration
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(verifier terminal.Verifier, sessions *TerminalSessionManager, metrics *utils.RedemptionMetrics, logger *utils.Logger, verifyTimeout, resumeCooldown time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		verifier:       verifier,
		sessions:       sessions,
		metrics:        metrics,
		logger:         logger,
		verifyTimeout:  verifyTimeout,
		resumeCooldown: resumeCooldown,
	}
}

// TerminalWebSocket runs one scanning terminal for the lifetime of the socket.
// The page streams camera frames or typed codes; outcomes go back on the same
// socket. Closing the socket is the operator navigating away.
func (wh *WebSocketHandler) TerminalWebSocket(c *gin.Context) {
	operatorID, _ := GetOperatorFromContext(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		wh.logger.Warn("terminal websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	id := uuid.NewString()
	session := terminal.NewWebSocketSession(id, conn, wh.logger)
	term := terminal.New(session, wh.verifier, session, terminal.Options{
		VerifyTimeout:  wh.verifyTimeout,
		ResumeCooldown: wh.resumeCooldown,
		SessionID:      id,
		Logger:         wh.logger.With(map[string]interface{}{"operator": operatorID}),
	})

	client := &terminalClient{
		id:         id,
		operatorID: operatorID,
		session:    session,
		term:       term,
		createdAt:  time.Now(),
	}
	if err := wh.sessions.register(client); err != nil {
		session.Shutdown()
		return
	}
	wh.metrics.TerminalSessionOpened()
	defer func() {
		wh.sessions.unregister(client)
		wh.metrics.TerminalSessionClosed()
	}()

	if err := session.Serve(c.Request.Context(), term); err != nil {
		wh.logger.Debug("terminal session ended", map[string]interface{}{
			"session": id,
			"error":   err.Error(),
		})
	}
}
