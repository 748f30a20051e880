package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/logging"
)

// fakeConn records writes and serves reads from a channel.
type fakeConn struct {
	mu      sync.Mutex
	written []Frame
	// reads counts ReadFrame calls at the moment of each write
	readsAtWrite []int
	reads        int

	in     chan Frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan Frame, 16), closed: make(chan struct{})}
}

func (c *fakeConn) WriteFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}
	c.written = append(c.written, f)
	c.readsAtWrite = append(c.readsAtWrite, c.reads)
	return nil
}

func (c *fakeConn) ReadFrame() (Frame, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return Frame{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.written...)
}

// fakeDialer hands out queued conns; an exhausted queue fails the dial.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) Name() string { return "fake" }

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("no route")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func testAdapter(d Dialer) *Adapter {
	return NewAdapter(d, logging.New(nil, "silent"), WithBackoff(5*time.Millisecond, 20*time.Millisecond))
}

func runAdapter(t *testing.T, a *Adapter) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	return func() {
		cancel()
		<-done
	}
}

func methods(frames []Frame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Method
	}
	return out
}

func TestEmitWhileDisconnected(t *testing.T) {
	a := testAdapter(&fakeDialer{})
	err := a.Emit(EvTyping, TypingSignal{SessionID: "1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, a.Connected())
}

func TestSubscribeBeforeConnectIsTracked(t *testing.T) {
	a := testAdapter(&fakeDialer{})
	require.NoError(t, a.Subscribe("admins"))
	require.NoError(t, a.SubscribeSession("42", "Ann", false))
	require.NoError(t, a.Subscribe("admins"))
	assert.Equal(t, []string{"admins", "session_42"}, a.Rooms())

	require.NoError(t, a.Unsubscribe("session_42"))
	assert.Equal(t, []string{"admins"}, a.Rooms())
}

func TestReplayBeforeFirstRead(t *testing.T) {
	conn1, conn2 := newFakeConn(), newFakeConn()
	d := &fakeDialer{conns: []*fakeConn{conn1, conn2}}
	a := testAdapter(d)

	var mu sync.Mutex
	var statuses []bool
	a.OnStatus(func(up bool) {
		mu.Lock()
		statuses = append(statuses, up)
		mu.Unlock()
	})

	require.NoError(t, a.Subscribe("admins"))
	stop := runAdapter(t, a)
	defer stop()

	require.Eventually(t, a.Connected, time.Second, 5*time.Millisecond)
	require.NoError(t, a.SubscribeSession("42", "Ann", false))

	first := conn1.frames()
	require.Equal(t, []string{EvJoinRoom, EvJoinSession}, methods(first))
	var js JoinSession
	require.NoError(t, json.Unmarshal(first[1].Params, &js))
	assert.False(t, js.Silent, "first join is announced")

	// drop the connection; the adapter redials and replays
	conn1.Close()
	require.Eventually(t, func() bool { return len(conn2.frames()) == 2 }, time.Second, 5*time.Millisecond)

	replayed := conn2.frames()
	assert.Equal(t, []string{EvJoinRoom, EvJoinSession}, methods(replayed))
	require.NoError(t, json.Unmarshal(replayed[1].Params, &js))
	assert.True(t, js.Silent, "replayed joins are silent")
	assert.Equal(t, "42", js.SessionID)

	conn2.mu.Lock()
	assert.Equal(t, []int{0, 0}, conn2.readsAtWrite, "replay happens before any read")
	conn2.mu.Unlock()
	assert.NotEqual(t, first[0].ID, replayed[0].ID, "each write gets a fresh request id")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(statuses) >= 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []bool{true, false, true}, statuses[:3])
	mu.Unlock()
}

func TestDialFailureRetries(t *testing.T) {
	d := &fakeDialer{}
	a := testAdapter(d)
	stop := runAdapter(t, a)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.dials >= 3
	}, time.Second, 5*time.Millisecond)

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	require.Eventually(t, a.Connected, time.Second, 5*time.Millisecond)

	stop()
	assert.False(t, a.Connected())
}

func TestDispatchNormalizesForObservers(t *testing.T) {
	conn := newFakeConn()
	a := testAdapter(&fakeDialer{conns: []*fakeConn{conn}})

	got := make(chan domain.Event, 4)
	a.Observe(EvMessageSent, func(ev domain.Event) { got <- ev })

	stop := runAdapter(t, a)
	defer stop()

	unobserved, err := NewEvent(EvUserTyping, map[string]any{"session_id": "1", "is_typing": true}, 0)
	require.NoError(t, err)
	bad, err := NewEvent(EvMessageSent, map[string]any{"message": "no session"}, 0)
	require.NoError(t, err)
	good, err := NewEvent(EvMessageSent, map[string]any{"session_id": "1", "message": "hello"}, 3)
	require.NoError(t, err)

	conn.in <- unobserved
	conn.in <- bad
	conn.in <- NewErrorResponse("x", ErrorShape{Code: "E", Message: "nope"})
	conn.in <- good

	select {
	case ev := <-got:
		assert.Equal(t, domain.KindMessageReceived, ev.Kind)
		assert.Equal(t, "hello", ev.Message.Body)
		assert.Equal(t, int64(3), ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	assert.Empty(t, got)
}

func TestEmitAndUnsubscribeWhileConnected(t *testing.T) {
	conn := newFakeConn()
	a := testAdapter(&fakeDialer{conns: []*fakeConn{conn}})
	stop := runAdapter(t, a)
	defer stop()
	require.Eventually(t, a.Connected, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Subscribe("admins"))
	require.NoError(t, a.SubscribeSession("5", "", true))
	require.NoError(t, a.Emit(EvSendMessage, SendMessage{SessionID: "5", Message: "hi"}))
	require.NoError(t, a.Unsubscribe("session_5"))
	require.NoError(t, a.Unsubscribe("admins"))

	assert.Equal(t,
		[]string{EvJoinRoom, EvJoinSession, EvSendMessage, EvLeaveSession, EvLeaveRoom},
		methods(conn.frames()))
	assert.Empty(t, a.Rooms())
}
