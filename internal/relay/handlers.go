package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/version"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Clients  int    `json:"clients"`
	Staff    int    `json:"staff"`
	UptimeMs int64  `json:"uptimeMs"`
}

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("/", handleNotFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:   "ok",
		Version:  version.Version,
		Clients:  s.clients.Count(),
		Staff:    s.clients.StaffCount(),
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// RequestHandler processes one client event.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Client *Client
	Frame  channel.Frame
	Server *Server

	responded bool
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	rc.responded = true
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.responded = true
	rc.Client.RespondError(rc.Frame.ID, channel.ErrorShape{
		Code:    code,
		Message: message,
	})
}

// Params unmarshals the request params into target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}

// sessionParams decodes params carrying a session_id and rejects the
// request when it is missing.
func (rc *RequestContext) sessionParams(target any, id func() string) bool {
	if err := rc.Params(target); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return false
	}
	if id() == "" {
		rc.RespondError("invalid_params", "session_id is required")
		return false
	}
	return true
}

func (s *Server) registerEventHandlers() {
	s.Handle(channel.EvJoinRoom, s.onJoinRoom)
	s.Handle(channel.EvLeaveRoom, s.onLeaveRoom)
	s.Handle(channel.EvJoinSession, s.onJoinSession)
	s.Handle(channel.EvLeaveSession, s.onLeaveSession)
	s.Handle(channel.EvSendMessage, s.onSendMessage)
	s.Handle(channel.EvTyping, s.onTyping)
	s.Handle(channel.EvCloseSession, s.onCloseSession)
	s.Handle(channel.EvSessionClosed, s.onCloseSession)
	s.Handle(channel.EvSessionUpdated, s.onSessionUpdated)
	s.Handle(channel.EvDeleteSession, s.onDeleteSession)
	s.Handle(channel.EvCustomerLeft, s.onCustomerLeft)
	s.Handle(channel.EvClearCustomerSession, s.onClearCustomer)
	s.Handle(channel.EvGetAgentStatus, s.onGetAgentStatus)
}

func (s *Server) onJoinRoom(rc *RequestContext) {
	var p channel.JoinRoom
	if err := rc.Params(&p); err != nil || p.Room == "" {
		rc.RespondError("invalid_params", "room is required")
		return
	}
	if p.Room == s.staffRoom && !rc.Client.Info.IsStaff() {
		rc.RespondError("forbidden", "staff room is for dashboards")
		return
	}
	rc.Client.Join(p.Room)
}

func (s *Server) onLeaveRoom(rc *RequestContext) {
	var p channel.JoinRoom
	if err := rc.Params(&p); err != nil || p.Room == "" {
		rc.RespondError("invalid_params", "room is required")
		return
	}
	rc.Client.Leave(p.Room)
}

// onJoinSession puts the client in the session room. A staff join that is
// not silent is announced; the first widget join of a session tells the
// staff room a new chat has started.
func (s *Server) onJoinSession(rc *RequestContext) {
	var p channel.JoinSession
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	room := channel.SessionRoom(p.SessionID)
	already := rc.Client.InRoom(room)
	rc.Client.Join(room)

	if rc.Client.Info.IsStaff() {
		if p.Silent || already {
			return
		}
		name := rc.Client.Name()
		s.clients.Fanout([]string{s.staffRoom}, channel.EvAdminNotification, map[string]any{
			"session_id": p.SessionID,
			"title":      "Agent Joined",
			"message":    name + " joined session #" + p.SessionID,
			"agent_name": name,
		}, 0, except(rc.Client))
		s.clients.Fanout([]string{room}, channel.EvAgentJoined, map[string]any{
			"session_id": p.SessionID,
			"agent_name": name,
			"message":    name + " has joined the chat",
		}, 0, except(rc.Client))
		return
	}

	if s.firstWidgetJoin(p.SessionID) {
		name := p.CustomerName
		if name == "" {
			name = rc.Client.Name()
		}
		s.clients.Fanout([]string{s.staffRoom}, channel.EvNewChatSession, map[string]any{
			"session_id":    p.SessionID,
			"customer_name": name,
		}, 0, nil)
	}
}

func (s *Server) onLeaveSession(rc *RequestContext) {
	var p channel.SessionRef
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	rc.Client.Leave(channel.SessionRoom(p.SessionID))
}

// onSendMessage stamps the message with an id, a sender and a time, then
// delivers it to the session room and the staff room. The sender gets its
// own echo.
func (s *Server) onSendMessage(rc *RequestContext) {
	var p channel.SendMessage
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	if p.Message == "" && p.AttachmentURL == "" {
		rc.RespondError("invalid_params", "message is required")
		return
	}
	senderType := "customer"
	if rc.Client.Info.IsStaff() {
		senderType = "agent"
	}
	msg := map[string]any{
		"id":           uuid.New().String(),
		"session_id":   p.SessionID,
		"sender_id":    rc.Client.Info.ID,
		"sender_name":  rc.Client.Name(),
		"sender_type":  senderType,
		"message":      p.Message,
		"message_type": "text",
		"is_read":      false,
		"created_at":   time.Now().UTC(),
	}
	if p.AttachmentURL != "" {
		msg["attachment_url"] = p.AttachmentURL
		msg["message_type"] = "attachment"
	}
	n := s.clients.Fanout([]string{channel.SessionRoom(p.SessionID), s.staffRoom}, channel.EvMessageSent, msg, 0, nil)
	rc.Respond(map[string]any{"id": msg["id"], "delivered": n})
}

// onTyping forwards a typing signal to everyone else in the session. A
// customer's signal also reaches the staff room.
func (s *Server) onTyping(rc *RequestContext) {
	var p channel.TypingSignal
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	payload := map[string]any{
		"session_id": p.SessionID,
		"is_typing":  p.IsTyping,
		"user_id":    rc.Client.Info.ID,
	}
	rooms := []string{channel.SessionRoom(p.SessionID)}
	event := channel.EvAgentTyping
	if !rc.Client.Info.IsStaff() {
		event = channel.EvUserTyping
		rooms = append(rooms, s.staffRoom)
	}
	s.clients.Fanout(rooms, event, payload, 0, except(rc.Client))
}

func (s *Server) onCloseSession(rc *RequestContext) {
	var p channel.SessionClosedNotice
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	if p.Message == "" {
		p.Message = "This chat session has been closed"
	}
	seq := s.nextSeq(p.SessionID)
	s.clients.Fanout([]string{channel.SessionRoom(p.SessionID), s.staffRoom}, channel.EvSessionClosed, p, seq, nil)
}

// onSessionUpdated relays a status change with a per-session sequence
// number. An assignment is also announced to the customer's widget.
func (s *Server) onSessionUpdated(rc *RequestContext) {
	var p channel.SessionUpdate
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	if !rc.Client.Info.IsStaff() {
		rc.RespondError("forbidden", "only dashboards update sessions")
		return
	}
	room := channel.SessionRoom(p.SessionID)
	seq := s.nextSeq(p.SessionID)
	s.clients.Fanout([]string{room, s.staffRoom}, channel.EvSessionUpdated, p, seq, nil)
	if p.Status == "active" && p.AgentID != nil && *p.AgentID != "" {
		s.clients.Fanout([]string{room}, channel.EvSessionAssigned, p, seq, widgetsOnly)
	}
}

func (s *Server) onDeleteSession(rc *RequestContext) {
	var p channel.SessionRef
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	s.clients.Fanout([]string{channel.SessionRoom(p.SessionID), s.staffRoom}, channel.EvSessionDeleted, p, 0, nil)
	s.forgetSession(p.SessionID)
}

func (s *Server) onCustomerLeft(rc *RequestContext) {
	var p channel.SessionRef
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	s.clients.Fanout([]string{s.staffRoom}, channel.EvAdminNotification, map[string]any{
		"session_id": p.SessionID,
		"title":      "Customer Left",
		"message":    rc.Client.Name() + " left session #" + p.SessionID,
	}, 0, nil)
	rc.Client.Leave(channel.SessionRoom(p.SessionID))
}

func (s *Server) onClearCustomer(rc *RequestContext) {
	var p channel.SessionRef
	if !rc.sessionParams(&p, func() string { return p.SessionID }) {
		return
	}
	s.clients.Fanout([]string{channel.SessionRoom(p.SessionID)}, channel.EvClearCustomerSession, p, 0, except(rc.Client))
}

// onGetAgentStatus answers with an agent_status event.
func (s *Server) onGetAgentStatus(rc *RequestContext) {
	if err := rc.Client.SendEvent(channel.EvAgentStatus, map[string]any{
		"online": s.clients.StaffCount() > 0,
	}, 0); err != nil {
		s.log.Warn().Err(err).Str("connId", rc.Client.ConnID).Msg("agent status reply failed")
	}
}
