// Package relay implements the connection manager: accepting WebSocket
// connections, running the auth_request/join_session handshake, and
// routing every subsequent frame through the command router and stream
// router while enforcing the per-connection state machine.
package relay

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/arcs-project/relay/internal/apperrors"
	"github.com/arcs-project/relay/internal/audit"
	"github.com/arcs-project/relay/internal/command"
	"github.com/arcs-project/relay/internal/devices"
	"github.com/arcs-project/relay/internal/jwtauth"
	"github.com/arcs-project/relay/internal/protocol"
	"github.com/arcs-project/relay/internal/ratelimit"
	"github.com/arcs-project/relay/internal/session"
	"github.com/arcs-project/relay/internal/videostream"
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024

	// frameSendInterval paces each controller's own frame drain, decoupled
	// from the device's inbound push rate: a device pushing faster than a
	// controller drains backs its queue up against MaxQueueSize and starts
	// dropping, per spec.
	frameSendInterval = 20 * time.Millisecond
)

// Role is which side of the relay a connection plays.
type Role int

const (
	RoleUnknown Role = iota
	RoleDevice
	RoleController
)

// ConnState is the connection-level state machine from NEW through CLOSED.
type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnected
	ConnAuthenticated
	ConnClosed
)

// Server wires together the registries and routers into a running relay. It
// owns the connection map and the WebSocket accept loop.
type Server struct {
	Devices  *devices.Registry
	Sessions *session.Registry
	JWT      *jwtauth.Manager
	Limiter  *ratelimit.Limiter
	Commands *command.Router
	Streams  *videostream.Router
	Audit    *audit.Logger

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
	stopped bool

	now func() time.Time
}

// Client is one accepted WebSocket connection and its relay-level state.
type Client struct {
	ID    string
	Role  Role
	State ConnState

	DeviceID     string
	ControllerID string
	SessionID    string

	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	transportLim *rate.Limiter

	server *Server
	mu     sync.Mutex
}

// NewServer builds a Server from its component dependencies. Callers
// construct each dependency explicitly (no process-wide singletons), per
// the component's testability requirements.
func NewServer(devReg *devices.Registry, sessReg *session.Registry, jwtMgr *jwtauth.Manager, limiter *ratelimit.Limiter, auditLog *audit.Logger) *Server {
	streams := videostream.New()
	return &Server{
		Devices:  devReg,
		Sessions: sessReg,
		JWT:      jwtMgr,
		Limiter:  limiter,
		Commands: command.New(limiter),
		Streams:  streams,
		Audit:    auditLog,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
		now:     time.Now,
	}
}

// ServeHTTP upgrades r to a WebSocket and runs the connection's lifecycle
// to completion.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		http.Error(w, "relay is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Client{
		ID:           uuid.NewString(),
		State:        ConnConnected,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		transportLim: rate.NewLimiter(rate.Limit(1000), 50),
		server:       s,
	}

	s.addClient(c)
	defer s.removeClient(c)

	go c.writePump()
	c.readPump()
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
	c.close()
	s.onClientClosed(c)
}

// StartIdleGC runs the session registry's idle reaper on interval, cascading
// every reaped session into the same notify/close sequence a device
// disconnect triggers. The caller owns the returned stop channel.
func (s *Server) StartIdleGC(interval time.Duration) (stop chan struct{}) {
	return s.Sessions.RunIdleGC(interval, func(sessionID string) {
		s.endSessionAfterReap(sessionID)
	})
}

// endSessionAfterReap mirrors endSession's notify-then-teardown sequence for
// a session the idle GC already marked closed: controllers are notified,
// and the stream endpoint and rate-limiter buckets are freed.
func (s *Server) endSessionAfterReap(sessionID string) {
	s.mu.RLock()
	var controllers []*Client
	for _, c := range s.clients {
		c.mu.Lock()
		if c.Role == RoleController && c.SessionID == sessionID {
			controllers = append(controllers, c)
		}
		c.mu.Unlock()
	}
	s.mu.RUnlock()

	notice := protocol.MakeSessionEnd("idle_timeout")
	for _, target := range controllers {
		target.trySend(notice)
	}

	s.Streams.RemoveSession(sessionID)
	s.Limiter.ResetSession(sessionID)
	s.Audit.LogSession(sessionID, "", false)
}

// Stop closes every connection with a normal-closure frame and stops
// accepting new work. Outstanding writes are abandoned.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.close()
	}

	if err := s.Audit.Flush(); err != nil {
		log.Printf("relay: audit log flush on shutdown failed: %v", err)
	}
}

// Stats summarizes the connection manager's live connections by role, for
// operational visibility (the CLI's "relay status", not a network
// endpoint — HTTP management surfaces are out of scope).
type Stats struct {
	TotalConnections int
	Devices          int
	Controllers      int
	Authenticated    int
	DroppedFrames    uint64
}

// Stats returns a snapshot of s's currently held connections plus the
// stream router's cumulative fan-out drop count.
func (s *Server) Stats() Stats {
	s.mu.RLock()
	var st Stats
	for _, c := range s.clients {
		c.mu.Lock()
		st.TotalConnections++
		switch c.Role {
		case RoleDevice:
			st.Devices++
		case RoleController:
			st.Controllers++
		}
		if c.State == ConnAuthenticated {
			st.Authenticated++
		}
		c.mu.Unlock()
	}
	s.mu.RUnlock()

	st.DroppedFrames = s.Streams.TotalDroppedFrames()
	return st
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// trySend enqueues payload for delivery without blocking; if the client's
// outbound buffer is full the frame is dropped (best-effort fan-out).
func (c *Client) trySend(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		opcode, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.transportLim.Allow() {
			continue
		}

		switch opcode {
		case websocket.TextMessage:
			c.server.handleText(c, data)
		case websocket.BinaryMessage:
			c.server.handleBinary(c, data)
		}
	}
}

// sendErr converts a CodedError into the wire error payload and enqueues
// it, the way the teacher's handlers convert an internal error value to a
// response at the outermost per-connection boundary.
func (c *Client) sendErr(err *apperrors.CodedError) {
	code, message := apperrors.ToCodeAndMessage(err)
	c.trySend(protocol.MakeError(string(code), message))
}

func (s *Server) handleText(c *Client, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		c.sendErr(apperrors.InvalidMessage("malformed JSON"))
		return
	}
	if !protocol.Validate(msg) {
		c.sendErr(apperrors.InvalidMessage("missing required fields for " + string(msg.Type)))
		return
	}

	switch msg.Type {
	case protocol.TypeAuthRequest:
		s.handleAuthRequest(c, msg)
		return
	case protocol.TypeJoinSession:
		s.handleJoinSession(c, msg)
		return
	case protocol.TypePing:
		c.trySend(protocol.MakePong(protocol.NowMs(s.now())))
		return
	}

	if c.State != ConnAuthenticated {
		s.Audit.LogPermissionDenied(c.ID, "frame received before authentication completed")
		c.sendErr(apperrors.Unauthorized("not authenticated"))
		return
	}

	s.Sessions.Touch(c.SessionID)

	if c.Role == RoleDevice {
		s.routeToControllers(c, data)
		return
	}
	s.routeToDevice(c, data)
}

func (s *Server) handleAuthRequest(c *Client, msg protocol.Message) {
	deviceID, _ := msg.Fields["device_id"].(string)
	secret, _ := msg.Fields["secret"].(string)

	if !s.Limiter.AllowAuth(deviceID) {
		s.Audit.LogRateLimit(deviceID, "auth")
		c.sendErr(apperrors.RateLimited("too many authentication attempts"))
		return
	}

	if !s.Devices.Authenticate(deviceID, secret) {
		s.Audit.LogAuth(false, deviceID, "")
		c.sendErr(apperrors.AuthFailed("invalid device credentials"))
		return
	}

	sess := s.Sessions.Create(deviceID)
	s.Streams.RegisterDevice(sess.SessionID, deviceID)

	token, err := s.JWT.Generate(deviceID, sess.SessionID, nil)
	if err != nil {
		wrapped := apperrors.Wrap(apperrors.CodeInvalidMessage, "failed to issue session token", err)
		s.Audit.Log(audit.EventEncryptionError, audit.LevelError, deviceID, "token issuance failed", wrapped.Error())
		c.sendErr(wrapped)
		return
	}

	c.mu.Lock()
	c.State = ConnAuthenticated
	c.Role = RoleDevice
	c.DeviceID = deviceID
	c.SessionID = sess.SessionID
	c.mu.Unlock()

	now := s.now()
	expiresAt := now.Add(s.JWT.Lifetime()).UnixMilli()
	c.trySend(protocol.MakeAuthResponse(true, sess.SessionID, token, expiresAt, protocol.NowMs(now)))

	s.Audit.LogAuth(true, deviceID, "")
	s.Audit.LogSession(sess.SessionID, deviceID, true)
}

func (s *Server) handleJoinSession(c *Client, msg protocol.Message) {
	sessionID, _ := msg.Fields["session_id"].(string)
	token, _ := msg.Fields["jwt_token"].(string)

	payload, ok := s.JWT.Validate(token)
	if !ok {
		c.sendErr(apperrors.InvalidToken("invalid, expired, or revoked token"))
		return
	}
	if payload.SessionID != sessionID {
		c.sendErr(apperrors.InvalidToken("token session_id does not match requested session"))
		return
	}

	if !s.Sessions.Join(sessionID, c.ID) {
		c.sendErr(apperrors.SessionMissing("session not found or inactive"))
		return
	}

	s.Streams.RegisterController(sessionID, c.ID)

	c.mu.Lock()
	c.State = ConnAuthenticated
	c.Role = RoleController
	c.ControllerID = c.ID
	c.SessionID = sessionID
	c.mu.Unlock()

	go c.runFrameSender(sessionID)

	deviceEntry, _ := s.Devices.Get(payload.DeviceID)
	deviceInfo := map[string]any{
		"device_id": payload.DeviceID,
		"model":     deviceEntry.Model,
	}
	videoConfig := map[string]any{
		"width": 1080, "height": 2400, "codec": "h264",
	}
	c.trySend(protocol.MakeJoinResponse(true, deviceInfo, videoConfig))
}

// runFrameSender drains sessionID's queued frames for c at c's own pace,
// independent of the device's inbound push rate: RouteFrame only enqueues,
// so a controller that falls behind lets its queue back up against
// MaxQueueSize and drop, instead of the drain silently keeping pace with
// whatever the device happens to send. Returns when c's connection closes.
func (c *Client) runFrameSender(sessionID string) {
	ticker := time.NewTicker(frameSendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if frame, ok := c.server.Streams.GetFrame(sessionID, c.ID); ok {
				c.trySend(frame)
			}
		}
	}
}

// routeToControllers forwards a device-originated text message (typically
// a status update) to every controller attached to c's session.
func (s *Server) routeToControllers(c *Client, raw []byte) {
	result := s.Commands.RouteToController(raw)
	if len(result.Payload) == 0 {
		return
	}
	for _, target := range s.controllersOf(c.SessionID) {
		target.trySend(result.Payload)
	}
}

// routeToDevice forwards a controller-originated command to the device
// attached to the controller's session, applying rate limiting first.
func (s *Server) routeToDevice(c *Client, raw []byte) {
	result := s.Commands.RouteToDevice(c.SessionID, raw)
	if result.ErrorPayload != nil {
		s.Audit.LogRateLimit(c.SessionID, "command")
		c.trySend(result.ErrorPayload)
		return
	}
	if len(result.Payload) == 0 {
		return
	}

	s.Audit.LogCommand(c.SessionID, messageTypeOf(raw), string(command.Sanitize(raw)))

	target := s.deviceOf(c.SessionID)
	if target != nil {
		target.trySend(result.Payload)
	}
}

// handleBinary enqueues a device's frame into every attached controller's
// queue. It never drains: draining is each controller's own runFrameSender,
// running on its own goroutine and pace, so a slow controller's backlog
// shows up as MaxQueueSize saturation and DroppedFrames here, not as
// slower delivery to every other controller.
func (s *Server) handleBinary(c *Client, data []byte) {
	if c.State != ConnAuthenticated || c.Role != RoleDevice {
		return
	}
	s.Sessions.Touch(c.SessionID)
	s.Streams.RouteFrame(c.SessionID, data)
}

func (s *Server) controllersOf(sessionID string) []*Client {
	sess, ok := s.Sessions.Get(sessionID)
	if !ok {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Client
	for id := range sess.ControllerIDs {
		if c, ok := s.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) deviceOf(sessionID string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.Role == RoleDevice && c.SessionID == sessionID {
			return c
		}
	}
	return nil
}

// onClientClosed cascades a connection's closure into the registries: a
// device's disconnect closes its session (which in turn frees the stream
// endpoint) and notifies every attached controller; a controller's
// disconnect just detaches it.
func (s *Server) onClientClosed(c *Client) {
	c.mu.Lock()
	role, sessionID, deviceID := c.Role, c.SessionID, c.DeviceID
	c.mu.Unlock()

	if sessionID == "" {
		return
	}

	switch role {
	case RoleDevice:
		s.endSession(sessionID, deviceID, "device_disconnected")
	case RoleController:
		s.Streams.UnregisterController(sessionID, c.ID)
	}
}

// endSession notifies every controller attached to sessionID that it has
// ended, then closes the session and frees its stream endpoint and rate
// limiter buckets. Controllers must be notified before Sessions.Close,
// since a closed session is invisible to ControllerIDs lookups.
func (s *Server) endSession(sessionID, deviceID, reason string) {
	notice := protocol.MakeSessionEnd(reason)
	for _, target := range s.controllersOf(sessionID) {
		target.trySend(notice)
	}

	s.Sessions.Close(sessionID)
	s.Streams.RemoveSession(sessionID)
	s.Limiter.ResetSession(sessionID)
	s.Audit.LogSession(sessionID, deviceID, false)
}

func messageTypeOf(raw []byte) string {
	msg, err := protocol.Parse(raw)
	if err != nil {
		return "unknown"
	}
	return string(msg.Type)
}

// HTTPServer wraps http.Server so callers get the same Start/Stop shape the
// rest of the codebase uses, with a context-aware Stop.
type HTTPServer struct {
	Addr  string
	Relay *Server
	http  *http.Server
}

// NewHTTPServer builds an http.Server that serves relay at addr.
func NewHTTPServer(addr string, relay *Server) *HTTPServer {
	mux := http.NewServeMux()
	mux.Handle("/", relay)
	return &HTTPServer{
		Addr:  addr,
		Relay: relay,
		http:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start runs the HTTP server until it errors or Stop is called.
func (h *HTTPServer) Start() error {
	return h.http.ListenAndServe()
}

// StartTLS runs the HTTP server with TLS termination until it errors or
// Stop is called.
func (h *HTTPServer) StartTLS(certFile, keyFile string) error {
	return h.http.ListenAndServeTLS(certFile, keyFile)
}

// Stop gracefully shuts down the HTTP listener and the relay's connections.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.Relay.Stop()
	return h.http.Shutdown(ctx)
}
