// internal/terminal/websocket_camera.go
package terminal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/PickupDesk/internal/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	writeWait  = 10 * time.Second

	// operator actions waiting for the terminal loop
	eventQueueSize = 8
)

// Conn is the part of *websocket.Conn a session needs
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ClientMessage is what the scanner page sends
//
//	{"type":"camera","available":true}
//	{"type":"frame","text":"..."} or {"type":"frame","image":"<base64 png>"}
//	{"type":"submit","text":"217-010-3186-0505"}
//	{"type":"confirm"} / {"type":"dismiss"}
type ClientMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Image     []byte `json:"image,omitempty"`
	Available *bool  `json:"available,omitempty"`
}

// ServerMessage is what the session sends back
type ServerMessage struct {
	Type    string   `json:"type"`
	Action  string   `json:"action,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// WebSocketSession is one browser scanner page. It is the terminal's camera
// (the page owns the physical device and streams frames) and its display.
type WebSocketSession struct {
	ID     string
	conn   Conn
	logger *utils.Logger

	writeMu     sync.Mutex
	frames      chan Frame
	cameraReady chan bool
	actions     chan ClientMessage
	acquired    atomic.Bool
	released    atomic.Bool
	paused      atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWebSocketSession wraps an upgraded connection
func NewWebSocketSession(id string, conn Conn, logger *utils.Logger) *WebSocketSession {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebSocketSession{
		ID:          id,
		conn:        conn,
		logger:      logger.With(map[string]interface{}{"session": id}),
		frames:      make(chan Frame, 1),
		cameraReady: make(chan bool, 1),
		actions:     make(chan ClientMessage, eventQueueSize),
		closed:      make(chan struct{}),
	}
}

// Serve runs t over this session until the socket closes or ctx ends.
// A closed socket is treated as the operator navigating away.
func (s *WebSocketSession) Serve(ctx context.Context, t *Terminal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.readPump(t)
	go s.actionPump(t)
	go s.pingLoop(ctx)

	err := t.Run(ctx)
	s.Shutdown()
	return err
}

// Shutdown closes the socket; used by the server on exit
func (s *WebSocketSession) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.writeMu.Lock()
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}

func (s *WebSocketSession) readPump(t *Terminal) {
	defer t.Close()

	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("terminal socket closed unexpectedly", map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var err error
		switch msg.Type {
		case "camera":
			available := msg.Available != nil && *msg.Available
			select {
			case s.cameraReady <- available:
			default:
			}
		case "frame":
			s.pushFrame(Frame{Text: msg.Text, Image: msg.Image})
		case "submit", "confirm", "dismiss":
			// the loop may still be waiting for the camera answer read above
			select {
			case s.actions <- msg:
			default:
				err = ErrBusy
			}
		case "ping":
		default:
			err = fmt.Errorf("unknown message type %q", msg.Type)
		}
		if err != nil {
			s.write(ServerMessage{Type: "error", Error: err.Error()})
		}
	}
}

// actionPump feeds queued operator actions to t in arrival order
func (s *WebSocketSession) actionPump(t *Terminal) {
	for {
		select {
		case <-s.closed:
			return
		case msg := <-s.actions:
			var err error
			switch msg.Type {
			case "submit":
				err = t.Submit(msg.Text)
			case "confirm":
				err = t.Confirm()
			case "dismiss":
				err = t.Dismiss()
			}
			if err == ErrClosed {
				return
			}
			if err != nil {
				s.write(ServerMessage{Type: "error", Error: err.Error()})
			}
		}
	}
}

func (s *WebSocketSession) pushFrame(f Frame) {
	if !s.acquired.Load() || s.released.Load() || s.paused.Load() {
		return
	}
	select {
	case s.frames <- f:
	default:
		// the loop has not taken the previous frame yet
	}
}

func (s *WebSocketSession) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *WebSocketSession) write(msg ServerMessage) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

// Acquire asks the page to start its camera and waits for the answer.
// A session hands out its camera once.
func (s *WebSocketSession) Acquire(ctx context.Context) (Stream, error) {
	if !s.acquired.CompareAndSwap(false, true) {
		return nil, ErrCameraUnavailable
	}
	if err := s.write(ServerMessage{Type: "camera", Action: "start"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	select {
	case ok := <-s.cameraReady:
		if !ok {
			s.released.Store(true)
			return nil, ErrCameraUnavailable
		}
		return s, nil
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	case <-s.closed:
		s.released.Store(true)
		return nil, ErrCameraUnavailable
	}
}

func (s *WebSocketSession) Frames() <-chan Frame { return s.frames }

// Close tells the page to stop its camera
func (s *WebSocketSession) Close() error {
	if !s.released.CompareAndSwap(false, true) {
		return nil
	}
	err := s.write(ServerMessage{Type: "camera", Action: "release"})
	if err == ErrClosed {
		return nil
	}
	return err
}

func (s *WebSocketSession) Pause() {
	s.paused.Store(true)
	s.write(ServerMessage{Type: "camera", Action: "pause"})
}

func (s *WebSocketSession) Resume() {
	s.paused.Store(false)
	s.write(ServerMessage{Type: "camera", Action: "resume"})
}

// Show sends an outcome to the page
func (s *WebSocketSession) Show(o Outcome) {
	if err := s.write(ServerMessage{Type: "outcome", Outcome: &o}); err != nil && err != ErrClosed {
		s.logger.Warn("failed to send outcome", map[string]interface{}{"error": err.Error()})
	}
}
