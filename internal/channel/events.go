package channel

// Outbound events, emitted by clients.
const (
	EvJoinRoom             = "join_room"
	EvLeaveRoom            = "leave_room"
	EvJoinSession          = "join_session"
	EvLeaveSession         = "leave_session"
	EvSendMessage          = "send_message"
	EvTyping               = "typing"
	EvCloseSession         = "close_session"
	EvDeleteSession        = "delete_session"
	EvCustomerLeft         = "customer_left"
	EvGetAgentStatus       = "get_agent_status"
	EvClearCustomerSession = "clear_customer_session"
	EvSessionClosed        = "session_closed"
	EvSessionUpdated       = "session_updated"
)

// Inbound events, pushed by the server. Some names are shared with the
// outbound set because clients relay them to each other.
const (
	EvNewChatSession       = "new_chat_session"
	EvMessageSent          = "message_sent"
	EvMessageDeleted       = "message_deleted"
	EvSessionDeleted       = "session_deleted"
	EvSessionUnreadCleared = "session_unread_cleared"
	EvAgentStatusChanged   = "agent_status_changed"
	EvUserTyping           = "user_typing"
	EvAgentTyping          = "agent_typing"
	EvAdminNotification    = "admin_notification"
	EvSessionAssigned      = "session_assigned"
	EvAgentJoined          = "agent_joined"
	EvAgentStatus          = "agent_status"
	EvAgentOnline          = "agent_online"
	EvAgentOffline         = "agent_offline"
)

// InboundEvents lists every event the normalizer understands.
var InboundEvents = []string{
	EvNewChatSession,
	EvMessageSent,
	EvMessageDeleted,
	EvSessionUpdated,
	EvSessionClosed,
	EvSessionDeleted,
	EvSessionUnreadCleared,
	EvAgentStatusChanged,
	EvUserTyping,
	EvAgentTyping,
	EvAdminNotification,
	EvSessionAssigned,
	EvAgentJoined,
	EvAgentStatus,
	EvAgentOnline,
	EvAgentOffline,
	EvClearCustomerSession,
}

// JoinRoom is the join_room / leave_room payload.
type JoinRoom struct {
	Room string `json:"room"`
}

// JoinSession is the join_session payload.
type JoinSession struct {
	SessionID    string `json:"session_id"`
	CustomerName string `json:"customer_name,omitempty"`
	Silent       bool   `json:"silent,omitempty"`
}

// SessionRef addresses one session.
type SessionRef struct {
	SessionID string `json:"session_id"`
}

// SendMessage is the send_message payload.
type SendMessage struct {
	SessionID     string `json:"session_id"`
	Message       string `json:"message"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// TypingSignal is the typing payload.
type TypingSignal struct {
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

// SessionUpdate is the session_updated payload a client relays after an
// assignment.
type SessionUpdate struct {
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	AgentID   *string `json:"agent_id"`
	AgentName string  `json:"agent_name,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// SessionClosedNotice is the session_closed payload.
type SessionClosedNotice struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message,omitempty"`
}
