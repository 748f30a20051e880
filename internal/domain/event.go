package domain

// Kind discriminates inbound replica events.
type Kind string

const (
	KindNewSession           Kind = "new-session"
	KindMessageReceived      Kind = "message-received"
	KindMessageDeleted       Kind = "message-deleted"
	KindSessionStatusChanged Kind = "session-status-changed"
	KindSessionClosed        Kind = "session-closed"
	KindSessionDeleted       Kind = "session-deleted"
	KindUnreadCleared        Kind = "unread-cleared"
	KindAgentStatusChanged   Kind = "agent-status-changed"
	KindTypingState          Kind = "typing-state"
	KindCustomerCleared      Kind = "customer-session-cleared"
	KindSessionAssigned      Kind = "session-assigned"
	KindAgentPresence        Kind = "agent-presence"
	KindNotification         Kind = "notification"
)

// Event is a normalized inbound event. Exactly one payload pointer matching
// Kind is set; events that only carry a session id have none.
type Event struct {
	Kind      Kind
	SessionID string
	Seq       int64 // per-session ordering hint; 0 when the sender supplied none

	NewSession     *NewSession
	Message        *Message
	MessageDeleted *MessageDeleted
	Status         *StatusChange
	Closed         *SessionClosed
	Agent          *AgentUpdate
	Typing         *Typing
	Presence       *AgentPresence
	Notice         *Notice
}

// NewSession announces a session the staff has not seen yet.
type NewSession struct {
	CustomerName string
	Preview      string
}

// MessageDeleted removes one message, or the whole session when
// SessionDeleted is set.
type MessageDeleted struct {
	MessageID      string
	SessionDeleted bool
}

// StatusChange carries a shallow metadata merge. Nil pointers mean the field
// was absent from the payload; a pointer to "" clears it.
type StatusChange struct {
	Status    Status
	AgentID   *string
	AgentName *string
	Priority  *string
	Note      string
}

// SessionClosed marks a session closed.
type SessionClosed struct {
	Note string
}

// AgentUpdate is a partial agent record keyed by a normalized id.
type AgentUpdate struct {
	ID             string
	FirstName      string
	LastName       string
	Name           string
	Username       string
	Email          string
	IsAvailable    *bool
	ActiveSessions *int
}

// Typing reports the remote party's typing state.
type Typing struct {
	IsTyping  bool
	UserID    string
	FromAgent bool
}

// AgentPresence is the widget-side "is any agent online" signal.
type AgentPresence struct {
	Online bool
}

// Notice is a user-facing notification.
type Notice struct {
	Title   string
	Message string
}

// IsMetadata reports whether the event overwrites session metadata and so
// takes part in sequence-based staleness checks.
func (e Event) IsMetadata() bool {
	switch e.Kind {
	case KindSessionStatusChanged, KindSessionClosed, KindSessionAssigned:
		return true
	default:
		return false
	}
}
