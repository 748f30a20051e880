package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a support session.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
)

// ParseStatus maps a wire status string onto a Status. Unknown values
// report ok=false.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusWaiting:
		return StatusWaiting, true
	case StatusActive:
		return StatusActive, true
	case StatusClosed:
		return StatusClosed, true
	default:
		return "", false
	}
}

// Customer is the optional profile attached to a session.
type Customer struct {
	ID        string    `json:"id,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// DisplayName returns "First Last", or "Guest" when neither is known.
func (c *Customer) DisplayName() string {
	if c == nil {
		return "Guest"
	}
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return "Guest"
	}
	return name
}

// Order is a recent order shown in the customer context panel.
type Order struct {
	OrderNumber   string    `json:"orderNumber"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	TotalAmount   float64   `json:"totalAmount,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitzero"`
}

// Session is one support conversation as seen by a replica.
type Session struct {
	ID              string    `json:"id"`
	CustomerID      string    `json:"customerId,omitempty"`
	CustomerName    string    `json:"customerName"`
	Status          Status    `json:"status"`
	AgentID         string    `json:"agentId,omitempty"`
	AgentName       string    `json:"agentName,omitempty"`
	Subject         string    `json:"subject,omitempty"`
	Priority        string    `json:"priority,omitempty"`
	LastMessage     string    `json:"lastMessage,omitempty"`
	LastMessageTime time.Time `json:"lastMessageTime,omitzero"`
	UnreadCount     int       `json:"unreadCount"`
	Customer        *Customer `json:"customer,omitempty"`
	RecentOrders    []Order   `json:"recentOrders,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitzero"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
	ClosedAt        time.Time `json:"closedAt,omitzero"`
}

// Assigned reports whether an agent currently owns the session.
func (s *Session) Assigned() bool {
	return s.AgentID != ""
}

// Activity is the timestamp used to order the sessions list.
func (s *Session) Activity() time.Time {
	if !s.LastMessageTime.IsZero() {
		return s.LastMessageTime
	}
	return s.CreatedAt
}

// Clone returns a deep copy safe to hand to readers outside the engine.
func (s *Session) Clone() *Session {
	out := *s
	if s.Customer != nil {
		c := *s.Customer
		out.Customer = &c
	}
	if s.RecentOrders != nil {
		out.RecentOrders = append([]Order(nil), s.RecentOrders...)
	}
	return &out
}

// Controls describes which user controls are enabled for a session.
type Controls struct {
	Compose bool `json:"compose"` // message input and send
	Actions bool `json:"actions"` // assign/transfer/close group
	Assign  bool `json:"assign"`  // the assign button inside the action group
}

// ControlsFor derives control gating from session state: closed disables
// everything; waiting allows actions but not composition; active enables
// composition only once an agent is assigned.
func ControlsFor(s *Session) Controls {
	if s == nil {
		return Controls{}
	}
	switch s.Status {
	case StatusActive:
		return Controls{
			Compose: s.Assigned(),
			Actions: true,
			Assign:  !s.Assigned(),
		}
	case StatusWaiting:
		return Controls{Actions: true, Assign: true}
	default:
		return Controls{}
	}
}
