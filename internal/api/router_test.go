// internal/api/router_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/PickupDesk/internal/auth"
	"github.com/Corphon/PickupDesk/internal/models"
	"github.com/Corphon/PickupDesk/internal/services"
	"github.com/Corphon/PickupDesk/internal/storage"
	"github.com/Corphon/PickupDesk/internal/terminal"
	"github.com/Corphon/PickupDesk/internal/utils"
	"github.com/Corphon/PickupDesk/internal/voucher"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router   *gin.Engine
	store    *storage.MemoryStore
	sessions *TerminalSessionManager
	token    string
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()
	logger := utils.NewLogger(io.Discard, utils.ERROR)
	metrics := utils.NewRedemptionMetrics(utils.NewMetricsCollector(), logger)
	store := storage.NewMemoryStore()
	for _, item := range []models.Item{
		{ID: "P-1", Type: models.ItemTypePhoto, Status: models.StatusConfirmed, OwnerID: "u1", Title: "Print 1"},
		{ID: "P-2", Type: models.ItemTypePhoto, Status: models.StatusConfirmed, OwnerID: "u1", Title: "Print 2"},
		{ID: "P-3", Type: models.ItemTypePhoto, Status: models.StatusReserved, OwnerID: "u1"},
	} {
		item := item
		require.NoError(t, store.Put(context.Background(), &item))
	}

	tokenConfig := &auth.TokenConfig{Secret: []byte("router-test-secret"), Expiration: time.Hour}
	token, err := auth.GenerateToken("op-7", tokenConfig)
	require.NoError(t, err)

	limiter := NewRateLimiter()
	t.Cleanup(limiter.Stop)
	sessions := NewTerminalSessionManager(logger)
	t.Cleanup(sessions.Shutdown)

	router := SetupRouter(RouterDeps{
		Verifier:        services.NewRedemptionVerifier(store, services.VerifierOptions{Logger: logger, Metrics: metrics}),
		Issuer:          services.NewIssueService(store),
		Items:           services.NewItemService(store),
		Metrics:         metrics,
		Sessions:        sessions,
		Limiter:         limiter,
		TokenConfig:     tokenConfig,
		Logger:          logger,
		StoreDriver:     "memory",
		RedeemRateLimit: rateLimit,
		VerifyTimeout:   time.Second,
		ResumeCooldown:  time.Hour,
	})
	return &testServer{router: router, store: store, sessions: sessions, token: token}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, withToken bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if withToken {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func (s *testServer) issue(t *testing.T, ids ...string) string {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/vouchers", services.IssueRequest{
		ItemType: models.ItemTypePhoto, OwnerID: "u1", ItemIDs: ids,
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issued services.IssuedVoucher
	require.NoError(t, json.Unmarshal(env.Data, &issued))
	return issued.Payload
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)
	w, env := s.do(t, http.MethodGet, "/api/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
	assert.Equal(t, w.Header().Get(requestIDHeader), env.RequestID)
}

func TestRedemptionRequiresOperator(t *testing.T) {
	s := newTestServer(t, 0)
	w, env := s.do(t, http.MethodPost, "/api/redemptions/redeem", RawVoucherRequest{Raw: "x"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrorUnauthorized, env.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/redemptions/redeem", strings.NewReader(`{"raw":"x"}`))
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIssueThenRedeemTwice(t *testing.T) {
	s := newTestServer(t, 0)
	payload := s.issue(t, "P-1")

	w, env := s.do(t, http.MethodPost, "/api/redemptions/verify", RawVoucherRequest{Raw: payload}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var preview models.VerificationPreview
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	assert.Equal(t, 1, preview.RedeemableCount)

	w, env = s.do(t, http.MethodPost, "/api/redemptions/redeem", RawVoucherRequest{Raw: payload}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.RedemptionResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, []string{"P-1"}, result.RedeemedIDs)

	w, env = s.do(t, http.MethodPost, "/api/redemptions/redeem", RawVoucherRequest{Raw: payload}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrorAlreadyRedeemed, env.Error.Code)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 0, result.RedeemedCount)
	assert.Equal(t, []string{"P-1"}, result.AlreadyRedeemedIDs)
}

func TestBatchRedeemIsQualifiedSuccess(t *testing.T) {
	s := newTestServer(t, 0)
	payload := s.issue(t, "P-1", "P-2")

	// P-2 goes first through another voucher
	_, _ = s.do(t, http.MethodPost, "/api/redemptions/redeem", RawVoucherRequest{Raw: s.issue(t, "P-2")}, true)

	w, env := s.do(t, http.MethodPost, "/api/redemptions/redeem", RawVoucherRequest{Raw: payload}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result models.RedemptionResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 1, result.RedeemedCount)
	assert.Equal(t, 2, result.RequestedCount)
	assert.Equal(t, []string{"P-2"}, result.AlreadyRedeemedIDs)
}

func TestRedeemErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t, 0)
	unknownItem, err := voucher.EncodeSingle(models.ItemTypePhoto, "P-404", time.Now())
	require.NoError(t, err)

	cases := []struct {
		raw    string
		status int
		code   string
	}{
		{"{not json", http.StatusBadRequest, ErrorVoucherUnreadable},
		{"hello", http.StatusBadRequest, ErrorInvalidFormat},
		{"217-", http.StatusBadRequest, ErrorInvalidFormat},
		{unknownItem, http.StatusNotFound, ErrorItemNotFound},
	}
	for _, tc := range cases {
		w, env := s.do(t, http.MethodPost, "/api/redemptions/redeem", RawVoucherRequest{Raw: tc.raw}, true)
		assert.Equal(t, tc.status, w.Code, tc.raw)
		require.NotNil(t, env.Error, tc.raw)
		assert.Equal(t, tc.code, env.Error.Code, tc.raw)
	}

	w, _ := s.do(t, http.MethodPost, "/api/redemptions/redeem", map[string]string{}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueRejectsForeignOrUnready(t *testing.T) {
	s := newTestServer(t, 0)
	w, env := s.do(t, http.MethodPost, "/api/vouchers", services.IssueRequest{
		ItemType: models.ItemTypePhoto, OwnerID: "u2", ItemIDs: []string{"P-1"},
	}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.Error)

	w, _ = s.do(t, http.MethodPost, "/api/vouchers", services.IssueRequest{
		ItemType: models.ItemTypePhoto, OwnerID: "u1", ItemIDs: []string{"P-3"},
	}, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetItem(t *testing.T) {
	s := newTestServer(t, 0)
	w, env := s.do(t, http.MethodGet, "/api/items/photo/P-1", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var item services.ItemStatus
	require.NoError(t, json.Unmarshal(env.Data, &item))
	assert.True(t, item.Redeemable)
	assert.Equal(t, "P-1", item.ID)

	w, env = s.do(t, http.MethodGet, "/api/items/photo/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrorItemNotFound, env.Error.Code)

	w, _ = s.do(t, http.MethodGet, "/api/items/boat/P-1", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoucherQR(t *testing.T) {
	s := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/api/vouchers/qr?size=200&payload="+url.QueryEscape("217-010-3186-0505"), nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	text, err := voucher.DecodeFrame(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "217-010-3186-0505", text)

	w, _ = s.do(t, http.MethodGet, "/api/vouchers/qr?payload=x&size=9", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRedeemRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	for i := 0; i < 2; i++ {
		w, _ := s.do(t, http.MethodPost, "/api/redemptions/verify", RawVoucherRequest{Raw: "hello"}, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
	w, env := s.do(t, http.MethodPost, "/api/redemptions/verify", RawVoucherRequest{Raw: "hello"}, true)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, ErrorRateLimitExceeded, env.Error.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 0)
	s.do(t, http.MethodPost, "/api/redemptions/redeem", RawVoucherRequest{Raw: s.issue(t, "P-1")}, true)

	w, env := s.do(t, http.MethodGet, "/api/metrics", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "items_redeemed_total")
}

// terminal over websocket

func dialTerminal(t *testing.T, s *testServer, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/terminal?access_token=" + url.QueryEscape(s.token)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(terminal.ServerMessage) bool) terminal.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg terminal.ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func isCamera(action string) func(terminal.ServerMessage) bool {
	return func(m terminal.ServerMessage) bool { return m.Type == "camera" && m.Action == action }
}

func isOutcome(m terminal.ServerMessage) bool { return m.Type == "outcome" }

func TestTerminalWebSocketScan(t *testing.T) {
	s := newTestServer(t, 0)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialTerminal(t, s, srv)
	readUntil(t, conn, isCamera("start"))
	available := true
	require.NoError(t, conn.WriteJSON(terminal.ClientMessage{Type: "camera", Available: &available}))
	assert.Eventually(t, func() bool { return s.sessions.Count() == 1 }, time.Second, 5*time.Millisecond)

	// the page keeps streaming the code until the terminal answers
	payload := s.issue(t, "P-1")
	stop := make(chan struct{})
	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if conn.WriteJSON(terminal.ClientMessage{Type: "frame", Text: payload}) != nil {
					return
				}
			}
		}
	}()

	readUntil(t, conn, isCamera("pause"))
	msg := readUntil(t, conn, isOutcome)
	require.NotNil(t, msg.Outcome)
	assert.Equal(t, terminal.OutcomeRedeemed, msg.Outcome.Kind)
	close(stop)
	<-streamed

	item, err := s.store.Get(context.Background(), models.ItemTypePhoto, "P-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRedeemed, item.Status)

	// navigating away ends the session
	conn.Close()
	assert.Eventually(t, func() bool { return s.sessions.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTerminalWebSocketManualEntry(t *testing.T) {
	s := newTestServer(t, 0)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialTerminal(t, s, srv)
	readUntil(t, conn, isCamera("start"))
	denied := false
	require.NoError(t, conn.WriteJSON(terminal.ClientMessage{Type: "camera", Available: &denied}))

	msg := readUntil(t, conn, isOutcome)
	assert.Equal(t, terminal.OutcomeCameraUnavailable, msg.Outcome.Kind)

	require.NoError(t, conn.WriteJSON(terminal.ClientMessage{Type: "submit", Text: "12-"}))
	msg = readUntil(t, conn, isOutcome)
	assert.Equal(t, terminal.OutcomeInvalidFormat, msg.Outcome.Kind)
	assert.Equal(t, "12-", msg.Outcome.Input)
}

func TestTerminalWebSocketRequiresOperator(t *testing.T) {
	s := newTestServer(t, 0)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/terminal", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
