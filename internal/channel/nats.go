package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/soyeahso/supportsync/internal/logging"
)

const natsInboxSize = 256

// NATSDialer speaks the same frames over NATS subjects. Every room maps to
// <prefix>.room.<room>; outbound frames go to <prefix>.server. Library-level
// reconnects are disabled so the adapter owns retry and room replay.
type NATSDialer struct {
	Servers []string
	Prefix  string
	Token   string
	Client  ClientInfo

	log *logging.Logger
}

// NewNATSDialer creates a NATS dialer.
func NewNATSDialer(servers []string, prefix, token string, client ClientInfo, log *logging.Logger) *NATSDialer {
	if prefix == "" {
		prefix = "supportsync"
	}
	return &NATSDialer{
		Servers: servers,
		Prefix:  prefix,
		Token:   token,
		Client:  client,
		log:     log.Sub("nats"),
	}
}

func (d *NATSDialer) Name() string { return "nats" }

// ServerSubject is where clients publish their outbound frames.
func (d *NATSDialer) ServerSubject() string { return d.Prefix + ".server" }

// RoomSubject maps a room name onto a subject token.
func (d *NATSDialer) RoomSubject(room string) string {
	return d.Prefix + ".room." + strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(room)
}

func (d *NATSDialer) Dial(ctx context.Context) (Conn, error) {
	if len(d.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	c := &natsConn{
		dialer: d,
		inbox:  make(chan Frame, natsInboxSize),
		done:   make(chan struct{}),
		subs:   make(map[string]*nats.Subscription),
	}

	timeout := 3 * time.Second
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) > 0 {
		timeout = time.Until(dl)
	}
	opts := []nats.Option{
		nats.Name(d.Client.ID + "/" + d.Client.InstanceID),
		nats.NoReconnect(),
		nats.Timeout(timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errors.New("nats disconnected")
			}
			c.fail(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.fail(errors.New("nats connection closed"))
		}),
	}
	if d.Token != "" {
		opts = append(opts, nats.Token(d.Token))
	}

	nc, err := nats.Connect(strings.Join(d.Servers, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	c.nc = nc
	d.log.Info().Str("url", nc.ConnectedUrl()).Msg("nats connected")
	return c, nil
}

// natsConn bridges NATS callbacks into the pull-style ReadFrame.
type natsConn struct {
	dialer *NATSDialer
	nc     *nats.Conn
	inbox  chan Frame

	mu   sync.Mutex
	subs map[string]*nats.Subscription

	once sync.Once
	done chan struct{}
	err  error
}

func (c *natsConn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// WriteFrame publishes f to the server subject. Joins and leaves also
// (un)subscribe the matching room subject first, so no room event published
// after the join can be missed.
func (c *natsConn) WriteFrame(f Frame) error {
	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	if f.Type == FrameTypeRequest {
		if err := c.track(f); err != nil {
			return err
		}
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return c.nc.Publish(c.dialer.ServerSubject(), data)
}

func (c *natsConn) track(f Frame) error {
	switch f.Method {
	case EvJoinRoom:
		var p JoinRoom
		if err := json.Unmarshal(f.Params, &p); err != nil {
			return err
		}
		return c.subscribe(p.Room)
	case EvLeaveRoom:
		var p JoinRoom
		if err := json.Unmarshal(f.Params, &p); err != nil {
			return err
		}
		c.unsubscribe(p.Room)
	case EvJoinSession:
		var p JoinSession
		if err := json.Unmarshal(f.Params, &p); err != nil {
			return err
		}
		return c.subscribe(SessionRoom(p.SessionID))
	case EvLeaveSession:
		var p SessionRef
		if err := json.Unmarshal(f.Params, &p); err != nil {
			return err
		}
		c.unsubscribe(SessionRoom(p.SessionID))
	}
	return nil
}

func (c *natsConn) subscribe(room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[room]; ok {
		return nil
	}
	sub, err := c.nc.Subscribe(c.dialer.RoomSubject(room), c.deliver)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", room, err)
	}
	c.subs[room] = sub
	return nil
}

func (c *natsConn) unsubscribe(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[room]; ok {
		sub.Unsubscribe()
		delete(c.subs, room)
	}
}

func (c *natsConn) deliver(m *nats.Msg) {
	var f Frame
	if err := json.Unmarshal(m.Data, &f); err != nil {
		c.dialer.log.Warn().Err(err).Str("subject", m.Subject).Msg("dropping malformed frame")
		return
	}
	select {
	case c.inbox <- f:
	case <-c.done:
	}
}

func (c *natsConn) ReadFrame() (Frame, error) {
	select {
	case f := <-c.inbox:
		return f, nil
	case <-c.done:
		return Frame{}, c.err
	}
}

func (c *natsConn) Close() error {
	c.fail(errors.New("closed"))
	c.nc.Close()
	return nil
}
