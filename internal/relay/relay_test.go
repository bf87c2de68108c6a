package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arcs-project/relay/internal/audit"
	"github.com/arcs-project/relay/internal/devices"
	"github.com/arcs-project/relay/internal/jwtauth"
	"github.com/arcs-project/relay/internal/ratelimit"
	"github.com/arcs-project/relay/internal/session"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()

	devReg, err := devices.New(nil)
	if err != nil {
		t.Fatalf("devices.New failed: %v", err)
	}
	devReg.Register("dev1", "s3cr3t", "Pixel 6")

	logPath := t.TempDir() + "/audit.log"
	auditLog, err := audit.New(logPath)
	if err != nil {
		t.Fatalf("audit.New failed: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	srv := NewServer(devReg, session.New(0), jwtauth.NewManager([]byte("test-secret"), time.Hour), ratelimit.New(), auditLog)

	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	return srv, httpSrv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return out
}

func TestHappyPathDeviceAndControllerRelay(t *testing.T) {
	_, _, wsURL := newTestServer(t)

	deviceConn := dial(t, wsURL)
	deviceConn.WriteJSON(map[string]any{"type": "auth_request", "device_id": "dev1", "secret": "s3cr3t"})
	authResp := readJSON(t, deviceConn)
	if authResp["success"] != true {
		t.Fatalf("expected auth success, got %+v", authResp)
	}
	sessionID, _ := authResp["session_id"].(string)
	token, _ := authResp["jwt_token"].(string)
	if sessionID == "" || token == "" {
		t.Fatalf("expected session_id and jwt_token, got %+v", authResp)
	}

	ctrlConn := dial(t, wsURL)
	ctrlConn.WriteJSON(map[string]any{"type": "join_session", "session_id": sessionID, "jwt_token": token})
	joinResp := readJSON(t, ctrlConn)
	if joinResp["success"] != true {
		t.Fatalf("expected join success, got %+v", joinResp)
	}

	ctrlConn.WriteJSON(map[string]any{"type": "touch", "action": "tap", "x": 100, "y": 200})
	got := readJSON(t, deviceConn)
	if got["type"] != "touch" || got["x"] != float64(100) || got["y"] != float64(200) {
		t.Fatalf("expected device to receive identical touch payload, got %+v", got)
	}
}

func TestBadCredentialReturnsAuthFailedError(t *testing.T) {
	_, _, wsURL := newTestServer(t)

	conn := dial(t, wsURL)
	conn.WriteJSON(map[string]any{"type": "auth_request", "device_id": "dev1", "secret": "wrong"})
	resp := readJSON(t, conn)
	if resp["type"] != "error" || resp["code"] != "ERR_AUTH_FAILED" {
		t.Fatalf("expected ERR_AUTH_FAILED, got %+v", resp)
	}
}

func TestRevokedTokenRejectsJoin(t *testing.T) {
	srv, _, wsURL := newTestServer(t)

	deviceConn := dial(t, wsURL)
	deviceConn.WriteJSON(map[string]any{"type": "auth_request", "device_id": "dev1", "secret": "s3cr3t"})
	authResp := readJSON(t, deviceConn)
	sessionID, _ := authResp["session_id"].(string)
	token, _ := authResp["jwt_token"].(string)

	srv.JWT.Revoke(token)

	ctrlConn := dial(t, wsURL)
	ctrlConn.WriteJSON(map[string]any{"type": "join_session", "session_id": sessionID, "jwt_token": token})
	resp := readJSON(t, ctrlConn)
	if resp["type"] != "error" || resp["code"] != "INVALID_TOKEN" {
		t.Fatalf("expected INVALID_TOKEN, got %+v", resp)
	}
}

func TestPingReturnsPong(t *testing.T) {
	_, _, wsURL := newTestServer(t)
	conn := dial(t, wsURL)
	conn.WriteJSON(map[string]any{"type": "ping"})
	resp := readJSON(t, conn)
	if resp["type"] != "pong" {
		t.Fatalf("expected pong, got %+v", resp)
	}
}

func TestFrameFanOutDropsOldestWhenControllerFallsBehind(t *testing.T) {
	srv, _, wsURL := newTestServer(t)

	deviceConn := dial(t, wsURL)
	deviceConn.WriteJSON(map[string]any{"type": "auth_request", "device_id": "dev1", "secret": "s3cr3t"})
	authResp := readJSON(t, deviceConn)
	sessionID, _ := authResp["session_id"].(string)
	token, _ := authResp["jwt_token"].(string)

	ctrlConn := dial(t, wsURL)
	ctrlConn.WriteJSON(map[string]any{"type": "join_session", "session_id": sessionID, "jwt_token": token})
	readJSON(t, ctrlConn)

	// Push more frames than MaxQueueSize back-to-back. handleBinary only
	// enqueues; draining is the controller's own runFrameSender goroutine on
	// its own 20ms tick, so a burst faster than that tick fills the queue
	// and starts dropping — the same backpressure Streams.RouteFrame gives
	// any caller, now actually reachable through a live connection instead
	// of only from videostream's own package tests.
	const pushed = 50
	for i := 0; i < pushed; i++ {
		if err := deviceConn.WriteMessage(websocket.BinaryMessage, []byte{byte(i)}); err != nil {
			t.Fatalf("write binary frame %d failed: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Streams.Stats(sessionID).TotalFrames < pushed && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	stats := srv.Streams.Stats(sessionID)
	if stats.TotalFrames != pushed {
		t.Fatalf("expected relay to have routed all %d frames, got %d", pushed, stats.TotalFrames)
	}
	if stats.DroppedFrames == 0 {
		t.Fatal("expected a burst faster than the controller's drain tick to drop frames, got 0 dropped")
	}

	summary := srv.Stats()
	if summary.DroppedFrames == 0 {
		t.Fatal("expected Server.Stats() to surface the stream router's dropped-frame count")
	}
}

func TestDeviceDisconnectNotifiesAttachedControllers(t *testing.T) {
	_, _, wsURL := newTestServer(t)

	deviceConn := dial(t, wsURL)
	deviceConn.WriteJSON(map[string]any{"type": "auth_request", "device_id": "dev1", "secret": "s3cr3t"})
	authResp := readJSON(t, deviceConn)
	sessionID, _ := authResp["session_id"].(string)
	token, _ := authResp["jwt_token"].(string)

	ctrlConn := dial(t, wsURL)
	ctrlConn.WriteJSON(map[string]any{"type": "join_session", "session_id": sessionID, "jwt_token": token})
	readJSON(t, ctrlConn)

	deviceConn.Close()

	notice := readJSON(t, ctrlConn)
	if notice["type"] != "status" || notice["status"] != "session_ended" {
		t.Fatalf("expected session_ended status on device disconnect, got %+v", notice)
	}
}
