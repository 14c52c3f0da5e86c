// internal/api/websocket.go
package api

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/PickupDesk/internal/terminal"
	"github.com/Corphon/PickupDesk/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024 * 64, // outcomes can carry a batch preview
	CheckOrigin: func(r *http.Request) bool {
		// operator auth runs before the upgrade
		return true
	},
}

var errManagerClosed = errors.New("terminal session manager is shut down")

// terminalClient is one live scanner page
type terminalClient struct {
	id         string
	operatorID string
	session    *terminal.WebSocketSession
	term       *terminal.Terminal
	createdAt  time.Time
}

func (tc *terminalClient) close() {
	tc.term.Close()
	tc.session.Shutdown()
}

// TerminalSessionManager tracks the open terminal sessions so the server can
// report them and close them all on shutdown
type TerminalSessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*terminalClient
	closed   bool
	logger   *utils.Logger
}

// NewTerminalSessionManager 创建终端会话管理器
func NewTerminalSessionManager(logger *utils.Logger) *TerminalSessionManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &TerminalSessionManager{
		sessions: make(map[string]*terminalClient),
		logger:   logger,
	}
}

func (m *TerminalSessionManager) register(client *terminalClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errManagerClosed
	}
	m.sessions[client.id] = client

	m.logger.Info("terminal session opened", map[string]interface{}{
		"session":  client.id,
		"operator": client.operatorID,
	})
	return nil
}

func (m *TerminalSessionManager) unregister(client *terminalClient) {
	m.mu.Lock()
	_, ok := m.sessions[client.id]
	delete(m.sessions, client.id)
	m.mu.Unlock()

	if ok {
		m.logger.Info("terminal session closed", map[string]interface{}{
			"session":  client.id,
			"operator": client.operatorID,
			"duration": time.Since(client.createdAt).String(),
		})
	}
}

// Count returns the number of open sessions
func (m *TerminalSessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetStatus 获取管理器状态
func (m *TerminalSessionManager) GetStatus() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]map[string]interface{}, 0, len(m.sessions))
	for _, client := range m.sessions {
		sessions = append(sessions, map[string]interface{}{
			"session_id":   client.id,
			"operator_id":  client.operatorID,
			"state":        client.term.State().String(),
			"manual":       client.term.Manual(),
			"connected_at": client.createdAt.Format(time.RFC3339),
		})
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i]["session_id"].(string) < sessions[j]["session_id"].(string)
	})

	return map[string]interface{}{
		"total_sessions": len(sessions),
		"sessions":       sessions,
	}
}

// Shutdown closes every session and refuses new ones
func (m *TerminalSessionManager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	clients := make([]*terminalClient, 0, len(m.sessions))
	for _, client := range m.sessions {
		clients = append(clients, client)
	}
	m.mu.Unlock()

	if len(clients) > 0 {
		m.logger.Info("closing terminal sessions", map[string]interface{}{"count": len(clients)})
	}
	for _, client := range clients {
		client.close()
	}
}
