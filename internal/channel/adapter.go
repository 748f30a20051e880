// Package channel is the realtime transport seam: it owns the connection to
// the relay, remembers joined rooms, replays them after every reconnect, and
// turns raw server events into domain events.
package channel

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/logging"
)

// ErrNotConnected is returned when emitting while the transport is down.
var ErrNotConnected = errors.New("channel not connected")

// Conn is one established transport connection.
type Conn interface {
	WriteFrame(Frame) error
	ReadFrame() (Frame, error)
	Close() error
}

// Dialer opens connections for a transport.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
	Name() string
}

// Handler receives normalized events. Handlers run on the adapter's read
// goroutine and must not block.
type Handler func(domain.Event)

// StatusHandler is told about every connect and disconnect.
type StatusHandler func(connected bool)

type trackedRoom struct {
	room   string
	method string
	params any
}

// Adapter keeps a single logical subscription alive across reconnects.
type Adapter struct {
	dialer  Dialer
	log     *logging.Logger
	initial time.Duration
	max     time.Duration

	mu        sync.Mutex
	conn      Conn
	connected bool
	rooms     []trackedRoom
	observers map[string][]Handler
	status    []StatusHandler
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(a *Adapter) {
		if initial > 0 {
			a.initial = initial
		}
		if max > 0 {
			a.max = max
		}
	}
}

// NewAdapter creates an adapter over the given dialer. Call Run to connect.
func NewAdapter(d Dialer, log *logging.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		dialer:    d,
		log:       log.Sub("channel"),
		initial:   500 * time.Millisecond,
		max:       30 * time.Second,
		observers: make(map[string][]Handler),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Transport names the underlying dialer.
func (a *Adapter) Transport() string { return a.dialer.Name() }

// Subscribe joins a named room now (if connected) and after every reconnect.
func (a *Adapter) Subscribe(room string) error {
	return a.track(trackedRoom{room: room, method: EvJoinRoom, params: JoinRoom{Room: room}}, nil)
}

// SubscribeSession joins a session's room. Only the first join honours
// silent=false; replays after a reconnect are always silent so no duplicate
// "agent joined" notice is broadcast.
func (a *Adapter) SubscribeSession(sessionID, customerName string, silent bool) error {
	replay := JoinSession{SessionID: sessionID, CustomerName: customerName, Silent: true}
	first := replay
	first.Silent = silent
	return a.track(trackedRoom{room: SessionRoom(sessionID), method: EvJoinSession, params: replay}, first)
}

func (a *Adapter) track(r trackedRoom, firstParams any) error {
	if firstParams == nil {
		firstParams = r.params
	}

	a.mu.Lock()
	i := slices.IndexFunc(a.rooms, func(t trackedRoom) bool { return t.room == r.room })
	if i >= 0 {
		a.rooms[i] = r
	} else {
		a.rooms = append(a.rooms, r)
	}
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	return a.write(conn, r.method, firstParams)
}

// Unsubscribe leaves a room and forgets it.
func (a *Adapter) Unsubscribe(room string) error {
	a.mu.Lock()
	a.rooms = slices.DeleteFunc(a.rooms, func(t trackedRoom) bool { return t.room == room })
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	if id, ok := SessionFromRoom(room); ok {
		return a.write(conn, EvLeaveSession, SessionRef{SessionID: id})
	}
	return a.write(conn, EvLeaveRoom, JoinRoom{Room: room})
}

// Rooms lists tracked rooms in join order.
func (a *Adapter) Rooms() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.rooms))
	for i, r := range a.rooms {
		out[i] = r.room
	}
	return out
}

// Emit sends an outbound event. It fails fast with ErrNotConnected instead
// of queueing.
func (a *Adapter) Emit(event string, payload any) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return a.write(conn, event, payload)
}

func (a *Adapter) write(conn Conn, method string, params any) error {
	f, err := NewRequest(uuid.New().String(), method, params)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(f); err != nil {
		return err
	}
	a.log.Debug().Str("event", method).Msg("emitted")
	return nil
}

// Observe registers h for one inbound event name.
func (a *Adapter) Observe(event string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers[event] = append(a.observers[event], h)
}

// ObserveAll registers h for every event the normalizer understands.
func (a *Adapter) ObserveAll(h Handler) {
	for _, ev := range InboundEvents {
		a.Observe(ev, h)
	}
}

// OnStatus registers a connection status handler.
func (a *Adapter) OnStatus(h StatusHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = append(a.status, h)
}

// Connected reports whether a connection is currently established.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Run dials and serves until ctx is cancelled, reconnecting with
// exponential backoff.
func (a *Adapter) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initial
	b.MaxInterval = a.max
	b.MaxElapsedTime = 0
	b.Reset()

	for {
		conn, err := a.dialer.Dial(ctx)
		if err == nil {
			a.log.Info().Str("transport", a.dialer.Name()).Msg("connected")
			b.Reset()
			err = a.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		a.log.Warn().Err(err).Dur("retryIn", wait).Msg("channel down")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// serve replays tracked rooms before the first read, then pumps frames.
func (a *Adapter) serve(ctx context.Context, conn Conn) error {
	a.mu.Lock()
	for _, r := range a.rooms {
		if err := a.write(conn, r.method, r.params); err != nil {
			a.mu.Unlock()
			conn.Close()
			return err
		}
	}
	a.conn = conn
	a.connected = true
	a.mu.Unlock()
	a.notifyStatus(true)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
		a.mu.Lock()
		a.conn = nil
		a.connected = false
		a.mu.Unlock()
		a.notifyStatus(false)
	}()

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		a.dispatch(f)
	}
}

func (a *Adapter) notifyStatus(connected bool) {
	a.mu.Lock()
	hs := slices.Clone(a.status)
	a.mu.Unlock()
	for _, h := range hs {
		h(connected)
	}
}

func (a *Adapter) dispatch(f Frame) {
	switch f.Type {
	case FrameTypeResponse:
		if f.Error != nil {
			a.log.Warn().Str("id", f.ID).Str("code", f.Error.Code).Msg(f.Error.Message)
		}
		return
	case FrameTypeEvent:
	default:
		a.log.Debug().Str("type", f.Type).Msg("ignoring frame")
		return
	}

	a.mu.Lock()
	hs := slices.Clone(a.observers[f.Event])
	a.mu.Unlock()
	if len(hs) == 0 {
		a.log.Debug().Str("event", f.Event).Msg("no observers")
		return
	}

	ev, err := Normalize(f.Event, f.Payload, f.Seq)
	if err != nil {
		a.log.Warn().Err(err).Str("event", f.Event).Msg("dropping event")
		return
	}
	for _, h := range hs {
		h(ev)
	}
}
