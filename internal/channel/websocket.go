package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/supportsync/internal/version"
)

const handshakeTimeout = 10 * time.Second

// WSDialer connects to a relay over websocket and performs the
// challenge/connect/hello handshake.
type WSDialer struct {
	URL    string
	Token  string
	Client ClientInfo

	dialer *websocket.Dialer
}

// NewWSDialer creates a websocket dialer for url.
func NewWSDialer(url, token string, client ClientInfo) *WSDialer {
	return &WSDialer{
		URL:    url,
		Token:  token,
		Client: client,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (d *WSDialer) Name() string { return "websocket" }

// Dial opens a connection and completes the handshake. The returned Conn has
// not read any event frame yet.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	ws, _, err := d.dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", d.URL, err)
	}

	hello, err := d.handshake(ws)
	if err != nil {
		ws.Close()
		return nil, err
	}
	return &wsConn{ws: ws, connID: hello.Server.ConnID}, nil
}

func (d *WSDialer) handshake(ws *websocket.Conn) (HelloOK, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer ws.SetReadDeadline(time.Time{})

	var challenge Frame
	if err := ws.ReadJSON(&challenge); err != nil {
		return HelloOK{}, fmt.Errorf("reading challenge: %w", err)
	}
	if challenge.Type != FrameTypeEvent || challenge.Event != "connect.challenge" {
		return HelloOK{}, fmt.Errorf("expected connect.challenge, got type=%s event=%s", challenge.Type, challenge.Event)
	}

	params := ConnectParams{
		MinProtocol: ProtocolVersion,
		MaxProtocol: ProtocolVersion,
		Client:      d.Client,
		UserAgent:   version.UserAgent(),
	}
	if d.Token != "" {
		params.Auth = &ConnectAuth{Token: d.Token}
	}
	req, err := NewRequest(uuid.New().String(), "connect", params)
	if err != nil {
		return HelloOK{}, fmt.Errorf("creating connect request: %w", err)
	}
	if err := ws.WriteJSON(req); err != nil {
		return HelloOK{}, fmt.Errorf("sending connect: %w", err)
	}

	var resp Frame
	if err := ws.ReadJSON(&resp); err != nil {
		return HelloOK{}, fmt.Errorf("reading hello: %w", err)
	}
	if resp.Type != FrameTypeResponse || resp.ID != req.ID {
		return HelloOK{}, fmt.Errorf("unexpected handshake frame type=%s id=%s", resp.Type, resp.ID)
	}
	if resp.OK == nil || !*resp.OK {
		if resp.Error != nil {
			return HelloOK{}, fmt.Errorf("connect rejected: %w", resp.Error)
		}
		return HelloOK{}, fmt.Errorf("connect rejected")
	}

	var hello HelloOK
	if err := json.Unmarshal(resp.Payload, &hello); err != nil {
		return HelloOK{}, fmt.Errorf("parsing hello: %w", err)
	}
	return hello, nil
}

// wsConn is a handshaken websocket connection. Writes are serialized.
type wsConn struct {
	ws     *websocket.Conn
	connID string

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) WriteFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	return c.ws.WriteJSON(f)
}

func (c *wsConn) ReadFrame() (Frame, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("parsing frame: %w", err)
	}
	return f, nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.ws.Close()
}
