package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/logging"
	"github.com/soyeahso/supportsync/internal/present"
	"github.com/soyeahso/supportsync/internal/store"
)

// --- outbound fake ---

type join struct {
	session string
	name    string
	silent  bool
}

type emitted struct {
	event   string
	payload any
}

type fakeOut struct {
	mu      sync.Mutex
	offline bool
	rooms   []string
	joins   []join
	left    []string
	emits   []emitted
}

func (f *fakeOut) Subscribe(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, room)
	return nil
}

func (f *fakeOut) SubscribeSession(id, name string, silent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, join{session: id, name: name, silent: silent})
	return nil
}

func (f *fakeOut) Unsubscribe(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, room)
	return nil
}

func (f *fakeOut) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return channel.ErrNotConnected
	}
	f.emits = append(f.emits, emitted{event: event, payload: payload})
	return nil
}

func (f *fakeOut) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

func (f *fakeOut) joinsFor(id string) []join {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []join
	for _, j := range f.joins {
		if j.session == id {
			out = append(out, j)
		}
	}
	return out
}

func (f *fakeOut) emitted(event string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.emits {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func (f *fakeOut) leftRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.left...)
}

// --- API fake ---

type fakeAPI struct {
	mu sync.Mutex

	sessions  []*domain.Session
	agents    []domain.Agent
	canned    []domain.CannedResponse
	analytics domain.Analytics
	listErr   error

	detail   map[string]*domain.Session
	messages map[string][]domain.Message
	msgsErr  error
	customer *domain.Session

	assigned       *domain.Session
	assignErr      error
	closeErr       error
	readErr        error
	deleteErr      error
	sessionDeleted bool

	// called mid-request, before the response is returned
	duringList  func()
	duringClose func(id string)

	calls []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		detail:   make(map[string]*domain.Session),
		messages: make(map[string][]domain.Message),
	}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) ListSessions(context.Context) ([]*domain.Session, error) {
	f.record("sessions")
	if f.duringList != nil {
		f.duringList()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Session, len(f.sessions))
	for i, s := range f.sessions {
		out[i] = s.Clone()
	}
	return out, f.listErr
}

func (f *fakeAPI) ListAgents(context.Context) ([]domain.Agent, error) {
	f.record("agents")
	return f.agents, nil
}

func (f *fakeAPI) CannedResponses(context.Context) ([]domain.CannedResponse, error) {
	f.record("canned")
	return f.canned, nil
}

func (f *fakeAPI) AnalyticsToday(context.Context) (domain.Analytics, error) {
	f.record("analytics")
	return f.analytics, nil
}

func (f *fakeAPI) SessionDetail(_ context.Context, id string) (*domain.Session, error) {
	f.record("detail " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detail[id], nil
}

func (f *fakeAPI) SessionMessages(_ context.Context, id string) ([]domain.Message, error) {
	f.record("messages " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message(nil), f.messages[id]...), f.msgsErr
}

func (f *fakeAPI) CustomerSession(context.Context) (*domain.Session, error) {
	f.record("customer")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.customer == nil {
		return nil, nil
	}
	return f.customer.Clone(), nil
}

func (f *fakeAPI) Assign(_ context.Context, id, agentID string) (*domain.Session, error) {
	f.record("assign " + id + " " + agentID)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.assigned, f.assignErr
}

func (f *fakeAPI) Close(_ context.Context, id string) error {
	f.record("close " + id)
	if f.duringClose != nil {
		f.duringClose(id)
	}
	return f.closeErr
}

func (f *fakeAPI) MarkRead(_ context.Context, id string) error {
	f.record("read " + id)
	return f.readErr
}

func (f *fakeAPI) DeleteSession(_ context.Context, id string) error {
	f.record("delete " + id)
	return f.deleteErr
}

func (f *fakeAPI) DeleteMessage(_ context.Context, sid, mid string) (bool, error) {
	f.record("delete " + sid + "/" + mid)
	return f.sessionDeleted, f.deleteErr
}

// --- manual clock ---

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires every timer that came due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// --- harness ---

type recorder struct {
	mu      sync.Mutex
	drawn   []present.Region
	notices []domain.Notice
}

func (r *recorder) regions() []present.Region {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]present.Region(nil), r.drawn...)
}

func (r *recorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Title
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawn = nil
	r.notices = nil
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	e       *Engine
	out     *fakeOut
	api     *fakeAPI
	clock   *manualClock
	durable *store.Durability
	rec     *recorder
}

func testConfig(role string) Config {
	return Config{
		Role:          role,
		AgentID:       "7",
		StaffRoom:     "admins",
		SettleDelay:   time.Second,
		TypingWindow:  3 * time.Second,
		TypingQuiet:   time.Second,
		ActionTimeout: 10 * time.Second,
		HistoryLimit:  100,
	}
}

func newHarness(t *testing.T, role string) *harness {
	return newHarnessWith(t, testConfig(role), store.NewMemory())
}

func newHarnessWith(t *testing.T, cfg Config, backend store.Backend) *harness {
	t.Helper()
	log := logging.New(nil, "silent")
	rec := &recorder{}
	tr := present.NewTrigger(log)
	tr.OnAll("recorder", func(_ context.Context, r present.Region) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.drawn = append(rec.drawn, r)
		return nil
	})
	tr.OnNotice("recorder", func(_ context.Context, n domain.Notice) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.notices = append(rec.notices, n)
	})

	h := &harness{
		t:       t,
		out:     &fakeOut{},
		api:     newFakeAPI(),
		clock:   newManualClock(),
		durable: store.NewDurability(backend, "test", cfg.HistoryLimit, log),
		rec:     rec,
	}
	h.e = New(cfg, h.out, h.api, h.durable, tr, log, WithClock(h.clock))

	ctx, cancel := context.WithCancel(context.Background())
	h.ctx = ctx
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) apply(ev domain.Event) {
	h.t.Helper()
	h.e.Apply(ev)
	h.sync()
}

func (h *harness) sync() {
	h.t.Helper()
	require.NoError(h.t, h.e.Sync(h.ctx))
}

func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	h.clock.Advance(d)
	h.sync()
}

func (h *harness) session(id string) *domain.Session {
	h.t.Helper()
	s, ok := h.e.Replica().Session(id)
	require.True(h.t, ok, "session %s should exist", id)
	return s
}

// seed puts sessions straight into the replica.
func (h *harness) seed(sessions ...*domain.Session) {
	for _, s := range sessions {
		h.e.Replica().Put(s)
	}
}

// focus sets the focused session without going through the API.
func (h *harness) focus(id string) {
	h.e.Replica().SetFocus(id)
}

func customerMsg(sid, id, body string, at time.Time) domain.Event {
	return domain.Event{
		Kind:      domain.KindMessageReceived,
		SessionID: sid,
		Message: &domain.Message{
			ID:         id,
			SessionID:  sid,
			SenderType: domain.SenderCustomer,
			SenderName: "Ada",
			Body:       body,
			CreatedAt:  at,
		},
	}
}

func agentMsg(sid, id, body string, at time.Time) domain.Event {
	ev := customerMsg(sid, id, body, at)
	ev.Message.SenderType = domain.SenderAgent
	ev.Message.SenderName = "Sam"
	ev.Message.SenderID = "7"
	return ev
}

func statusEvent(sid string, status domain.Status, agentID, agentName *string) domain.Event {
	return domain.Event{
		Kind:      domain.KindSessionStatusChanged,
		SessionID: sid,
		Status:    &domain.StatusChange{Status: status, AgentID: agentID, AgentName: agentName},
	}
}

func closedEvent(sid string) domain.Event {
	return domain.Event{Kind: domain.KindSessionClosed, SessionID: sid, Closed: &domain.SessionClosed{}}
}

func ptr[T any](v T) *T { return &v }
