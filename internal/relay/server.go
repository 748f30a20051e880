// Package relay is a small fan-out server that speaks the channel
// protocol. It stands in for the production chat server during local
// development and in integration tests: clients join rooms, and events a
// client emits are re-broadcast to the rooms they concern.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/config"
	"github.com/soyeahso/supportsync/internal/logging"
	"github.com/soyeahso/supportsync/internal/version"
)

const (
	maxPayload       = 4 * 1024 * 1024
	handshakeTimeout = 10 * time.Second
)

// Server is the relay HTTP + WebSocket server.
type Server struct {
	cfg       config.Config
	staffRoom string
	auth      ResolvedAuth
	log       *logging.Logger
	clients   *ClientRegistry
	handlers  map[string]RequestHandler

	mu       sync.Mutex
	seqs     map[string]int64    // session id → last relayed status seq
	sessions map[string]struct{} // sessions a widget has joined

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// New creates a relay server.
func New(cfg config.Config, log *logging.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		staffRoom:   cfg.Engine.StaffRoom,
		auth:        ResolveAuth(cfg.Relay),
		log:         log.Sub("relay"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		seqs:        make(map[string]int64),
		sessions:    make(map[string]struct{}),
		startedAt:   time.Now(),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Relay.AllowedOrigins),
		},
	}
	if s.staffRoom == "" {
		s.staffRoom = config.Defaults().Engine.StaffRoom
	}
	s.registerEventHandlers()
	return s
}

// Handle registers a handler for an outbound client event.
func (s *Server) Handle(event string, handler RequestHandler) {
	s.handlers[event] = handler
}

// Clients exposes the registry.
func (s *Server) Clients() *ClientRegistry { return s.clients }

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.RelayConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Relay.AllowedOrigins)
}

// Start listens for connections and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Relay)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if s.cfg.Relay.Bind != "loopback" && s.auth.Mode == "none" {
		s.log.Warn().Msg("relay is reachable off-host without a token")
	}

	go s.cleanupLoop(ctx)

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Relay.Bind).
		Str("auth", s.auth.Mode).
		Str("staffRoom", s.staffRoom).
		Msg("relay ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.authLimiter.cleanup()
		}
	}
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited, too many failed handshakes")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.connected(client)
	defer s.disconnected(client)

	s.readLoop(client)
}

// handshake runs challenge → connect → hello-ok.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := channel.NewEvent("connect.challenge", map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	var frame channel.Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != channel.FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params channel.ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}
	if params.MinProtocol > channel.ProtocolVersion || (params.MaxProtocol != 0 && params.MaxProtocol < channel.ProtocolVersion) {
		sendErrorAndClose(conn, frame.ID, "protocol_mismatch", fmt.Sprintf("relay speaks protocol %d", channel.ProtocolVersion))
		return nil, fmt.Errorf("protocol mismatch: client wants %d-%d", params.MinProtocol, params.MaxProtocol)
	}

	authResult := Authorize(s.auth, params.Auth)
	if !authResult.OK {
		sendErrorAndClose(conn, frame.ID, "unauthorized", authResult.Reason)
		return nil, fmt.Errorf("auth failed: %s", authResult.Reason)
	}

	conn.SetReadDeadline(time.Time{})
	client := NewClient(conn, params.Client, authResult, s.log.Sub("ws"))

	resp, err := channel.NewResponse(frame.ID, channel.HelloOK{
		Protocol: channel.ProtocolVersion,
		Server: channel.ServerInfo{
			Version: version.Version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Policy: channel.ServerPolicy{
			MaxPayload:     maxPayload,
			TickIntervalMs: 30000,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("role", params.Client.Role).
		Str("authMethod", authResult.Method).
		Msg("client authenticated")
	return client, nil
}

// connected registers a client. The first dashboard to arrive tells the
// widgets an agent is online.
func (s *Server) connected(c *Client) {
	s.clients.Add(c)
	if c.Info.IsStaff() {
		c.Join(s.staffRoom)
		if s.clients.StaffCount() == 1 {
			s.clients.Broadcast(channel.EvAgentOnline, struct{}{}, 0, widgetsOnly)
		}
	}
}

func (s *Server) disconnected(c *Client) {
	s.clients.Remove(c.ConnID)
	c.Close()
	if c.Info.IsStaff() && s.clients.StaffCount() == 0 {
		s.clients.Broadcast(channel.EvAgentOffline, struct{}{}, 0, widgetsOnly)
	}
}

// readLoop processes incoming frames from an authenticated client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != channel.FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(client, frame)
	}
}

// dispatch routes a request frame to its handler. Handlers that do not
// respond themselves get an empty ok.
func (s *Server) dispatch(client *Client, frame channel.Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, channel.ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	rc := &RequestContext{Client: client, Frame: frame, Server: s}
	handler(rc)
	if !rc.responded {
		rc.Respond(struct{}{})
	}
}

// nextSeq returns the next status sequence number for a session.
func (s *Server) nextSeq(sessionID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[sessionID]++
	return s.seqs[sessionID]
}

// firstWidgetJoin records a widget joining a session and reports whether
// it is the first time.
func (s *Server) firstWidgetJoin(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.sessions[sessionID]; seen {
		return false
	}
	s.sessions[sessionID] = struct{}{}
	return true
}

func (s *Server) forgetSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.seqs, sessionID)
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(channel.NewErrorResponse(reqID, channel.ErrorShape{
		Code:    code,
		Message: message,
	}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
