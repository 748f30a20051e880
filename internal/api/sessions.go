package api

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/domain"
)

type wireCustomer struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type wireOrder struct {
	OrderNumber   string    `json:"order_number"`
	PaymentStatus string    `json:"payment_status"`
	TotalAmount   float64   `json:"total_amount"`
	CreatedAt     time.Time `json:"created_at"`
}

type wireSession struct {
	ID              string        `json:"id"`
	CustomerID      string        `json:"customer_id"`
	CustomerName    string        `json:"customer_name"`
	Customer        *wireCustomer `json:"customer"`
	RecentOrders    []wireOrder   `json:"recent_orders"`
	AgentID         string        `json:"agent_id"`
	AgentName       string        `json:"agent_name"`
	Status          string        `json:"status"`
	Subject         string        `json:"subject"`
	Priority        string        `json:"priority"`
	LastMessage     string        `json:"last_message"`
	LastMessageTime time.Time     `json:"last_message_time"`
	UnreadCount     int           `json:"unread_count"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	ClosedAt        time.Time     `json:"closed_at"`
}

func (w wireSession) toDomain() *domain.Session {
	status, ok := domain.ParseStatus(w.Status)
	if !ok {
		status = domain.StatusWaiting
	}
	s := &domain.Session{
		ID:              w.ID,
		CustomerID:      w.CustomerID,
		CustomerName:    w.CustomerName,
		Status:          status,
		AgentID:         w.AgentID,
		AgentName:       w.AgentName,
		Subject:         w.Subject,
		Priority:        w.Priority,
		LastMessage:     w.LastMessage,
		LastMessageTime: w.LastMessageTime,
		UnreadCount:     w.UnreadCount,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
		ClosedAt:        w.ClosedAt,
	}
	if s.CustomerName == "" || s.CustomerName == "Unknown" {
		s.CustomerName = domain.DefaultSenderName
	}
	// the server labels unowned sessions "Unassigned"
	if s.AgentID == "" {
		s.AgentName = ""
	}
	if w.Customer != nil {
		s.Customer = &domain.Customer{
			ID:        w.Customer.ID,
			FirstName: w.Customer.FirstName,
			LastName:  w.Customer.LastName,
			Email:     w.Customer.Email,
			CreatedAt: w.Customer.CreatedAt,
		}
	}
	for _, o := range w.RecentOrders {
		s.RecentOrders = append(s.RecentOrders, domain.Order{
			OrderNumber:   o.OrderNumber,
			PaymentStatus: o.PaymentStatus,
			TotalAmount:   o.TotalAmount,
			CreatedAt:     o.CreatedAt,
		})
	}
	return s
}

func decodeSession(raw any) (*domain.Session, error) {
	var w wireSession
	if err := channel.DecodeInto(raw, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, errors.New("session without id")
	}
	return w.toDomain(), nil
}

// ListSessions fetches every session visible to the staff member.
func (c *Client) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	env, err := c.do(ctx, "list sessions", http.MethodGet, "/sessions", nil)
	if err != nil {
		return nil, err
	}
	items, _ := env["sessions"].([]any)
	out := make([]*domain.Session, 0, len(items))
	for _, item := range items {
		s, err := decodeSession(item)
		if err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed session")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// SessionDetail fetches one session with its customer context.
func (c *Client) SessionDetail(ctx context.Context, id string) (*domain.Session, error) {
	env, err := c.do(ctx, "session detail", http.MethodGet, sessionPath(id, "detail"), nil)
	if err != nil {
		return nil, err
	}
	s, err := decodeSession(env["session"])
	return s, errors.Wrap(err, "session detail")
}

// CustomerSession gets or creates the calling customer's session. A closed
// session is reopened as waiting by the server.
func (c *Client) CustomerSession(ctx context.Context) (*domain.Session, error) {
	env, err := c.do(ctx, "customer session", http.MethodGet, "/session", nil)
	if err != nil {
		return nil, err
	}
	raw, _ := env["session"].(map[string]any)
	if raw == nil {
		raw = map[string]any{}
	}
	if _, ok := raw["id"]; !ok {
		raw["id"] = env["session_id"]
	}
	if _, ok := raw["status"]; !ok {
		raw["status"] = env["status"]
	}
	s, err := decodeSession(raw)
	return s, errors.Wrap(err, "customer session")
}

// SessionMessages fetches a session's history, oldest first.
func (c *Client) SessionMessages(ctx context.Context, id string) ([]domain.Message, error) {
	env, err := c.do(ctx, "session messages", http.MethodGet, sessionPath(id, "messages"), nil)
	if err != nil {
		return nil, err
	}
	items, _ := env["messages"].([]any)
	out := make([]domain.Message, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := raw["session_id"]; !ok {
			raw["session_id"] = id
		}
		m, err := channel.DecodeMessage(raw)
		if err != nil {
			c.log.Warn().Err(err).Str("session", id).Msg("skipping malformed message")
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

// Assign assigns a session. An empty agentID assigns it to the caller.
// The returned session reflects the server's view after assignment.
func (c *Client) Assign(ctx context.Context, id, agentID string) (*domain.Session, error) {
	var body any
	if agentID != "" {
		body = map[string]string{"agent_id": agentID}
	}
	env, err := c.do(ctx, "assign session", http.MethodPost, sessionPath(id, "assign"), body)
	if err != nil {
		return nil, err
	}
	if env["session"] == nil {
		return nil, nil
	}
	s, err := decodeSession(env["session"])
	return s, errors.Wrap(err, "assign session")
}

// Close closes a session.
func (c *Client) Close(ctx context.Context, id string) error {
	_, err := c.do(ctx, "close session", http.MethodPost, sessionPath(id, "close"), nil)
	return err
}

// MarkRead clears the session's unread counter server-side.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	_, err := c.do(ctx, "mark read", http.MethodPost, sessionPath(id, "mark_read"), nil)
	return err
}

// DeleteSession deletes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete session", http.MethodDelete, sessionPath(id), nil)
	return err
}

// DeleteMessage deletes one message. The server reports whether the
// session was removed with it.
func (c *Client) DeleteMessage(ctx context.Context, sessionID, messageID string) (sessionDeleted bool, err error) {
	env, err := c.do(ctx, "delete message", http.MethodDelete, sessionPath(sessionID, "messages", messageID), nil)
	if err != nil {
		return false, err
	}
	deleted, _ := env["session_deleted"].(bool)
	return deleted, nil
}
