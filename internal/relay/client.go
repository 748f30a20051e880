package relay

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/logging"
)

var ErrClientClosed = errors.New("client connection closed")

// Client is one handshaken relay connection.
type Client struct {
	ConnID      string
	Info        channel.ClientInfo
	Socket      *websocket.Conn
	AuthResult  AuthResult
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	rooms  map[string]struct{}
	log    *logging.Logger
}

// NewClient wraps an authenticated websocket.
func NewClient(conn *websocket.Conn, info channel.ClientInfo, authResult AuthResult, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		Socket:      conn,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
		rooms:       make(map[string]struct{}),
		log:         log,
	}
}

// Name is how the relay labels this client in fan-out payloads.
func (c *Client) Name() string {
	if c.Info.DisplayName != "" {
		return c.Info.DisplayName
	}
	if c.Info.IsStaff() {
		return "Support Agent"
	}
	return "Customer"
}

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(frame channel.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return c.Socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := channel.NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := channel.NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape channel.ErrorShape) error {
	return c.Send(channel.NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame from the socket.
func (c *Client) ReadFrame() (channel.Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return channel.Frame{}, err
	}
	var f channel.Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return channel.Frame{}, err
	}
	return f, nil
}

// Join adds the client to a room.
func (c *Client) Join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = struct{}{}
}

// Leave removes the client from a room.
func (c *Client) Leave(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
}

// InRoom reports room membership.
func (c *Client) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Rooms lists the client's rooms, sorted.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry tracks connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Str("role", c.Info.Role).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// StaffCount returns the number of connected dashboards.
func (r *ClientRegistry) StaffCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.clients {
		if c.Info.IsStaff() {
			n++
		}
	}
	return n
}

// Fanout sends an event once to every client that is in at least one of
// rooms and passes keep. A nil keep accepts everyone. It returns the
// number of recipients.
func (r *ClientRegistry) Fanout(rooms []string, event string, payload any, seq int64, keep func(*Client) bool) int {
	f, err := channel.NewEvent(event, payload, seq)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("encoding fan-out payload")
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.clients {
		if keep != nil && !keep(c) {
			continue
		}
		member := false
		for _, room := range rooms {
			if c.InRoom(room) {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		if err := c.Send(f); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Str("event", event).Msg("fan-out send failed")
			continue
		}
		n++
	}
	return n
}

// Broadcast sends an event to every client passing keep.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64, keep func(*Client) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if keep != nil && !keep(c) {
			continue
		}
		if err := c.SendEvent(event, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Msg("broadcast send failed")
		}
	}
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}

func except(c *Client) func(*Client) bool {
	return func(o *Client) bool { return o != c }
}

func widgetsOnly(o *Client) bool { return !o.Info.IsStaff() }
