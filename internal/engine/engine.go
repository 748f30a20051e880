// Package engine reconciles inbound channel events and local user actions
// into the replica. All replica writes happen on one goroutine (Run); the
// adapter, timers and API results re-enter that loop as queued tasks.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/soyeahso/supportsync/internal/config"
	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/identity"
	"github.com/soyeahso/supportsync/internal/logging"
	"github.com/soyeahso/supportsync/internal/present"
	"github.com/soyeahso/supportsync/internal/replica"
	"github.com/soyeahso/supportsync/internal/store"
)

var (
	ErrStopped         = errors.New("engine stopped")
	ErrUnknownSession  = errors.New("unknown session")
	ErrNoFocus         = errors.New("no chat session selected")
	ErrComposeDisabled = errors.New("composition disabled for this session")
	ErrNotActionable   = errors.New("action not available for this session")
)

// Outbound is the channel side the engine drives.
type Outbound interface {
	Subscribe(room string) error
	SubscribeSession(sessionID, customerName string, silent bool) error
	Unsubscribe(room string) error
	Emit(event string, payload any) error
}

// API is the request/response backend.
type API interface {
	ListSessions(ctx context.Context) ([]*domain.Session, error)
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	CannedResponses(ctx context.Context) ([]domain.CannedResponse, error)
	AnalyticsToday(ctx context.Context) (domain.Analytics, error)
	SessionDetail(ctx context.Context, id string) (*domain.Session, error)
	SessionMessages(ctx context.Context, id string) ([]domain.Message, error)
	CustomerSession(ctx context.Context) (*domain.Session, error)
	Assign(ctx context.Context, id, agentID string) (*domain.Session, error)
	Close(ctx context.Context, id string) error
	MarkRead(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	DeleteMessage(ctx context.Context, sessionID, messageID string) (bool, error)
}

// Config holds the engine's timing and identity settings.
type Config struct {
	Role          string
	AgentID       string
	StaffRoom     string
	SettleDelay   time.Duration
	TypingWindow  time.Duration
	TypingQuiet   time.Duration
	ActionTimeout time.Duration
	HistoryLimit  int
}

// ConfigFrom extracts the engine settings from the app config.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Role:          cfg.Role,
		AgentID:       cfg.AgentID,
		StaffRoom:     cfg.Engine.StaffRoom,
		SettleDelay:   cfg.Engine.SettleDelay(),
		TypingWindow:  cfg.Engine.TypingWindow(),
		TypingQuiet:   cfg.Engine.TypingQuiet(),
		ActionTimeout: cfg.Engine.ActionTimeout(),
		HistoryLimit:  cfg.Engine.HistoryLimit,
	}
}

func (c Config) widget() bool { return c.Role == config.RoleWidget }

type task struct {
	fn   func(ctx context.Context) present.Dirty
	done chan struct{}
}

type timerSlot struct {
	gen uint64
	t   Timer
}

// Engine is one client's synchronization engine.
type Engine struct {
	cfg     Config
	replica *replica.Store
	index   *identity.Index
	durable *store.Durability
	out     Outbound
	api     API
	trigger *present.Trigger
	clock   Clock
	log     *logging.Logger

	work    chan task
	stopped chan struct{}
	once    sync.Once

	prefMu     sync.RWMutex
	filter     replica.Filter
	autoAssign bool
	widgetOpen bool
	connected  bool

	// loop-owned
	runCtx     context.Context
	timers     map[string]timerSlot
	timerGen   uint64
	localClose map[string]bool
	awaitSend  map[string]string
	typingOut  outboundTyping
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithReplica uses an existing replica store.
func WithReplica(r *replica.Store) Option {
	return func(e *Engine) { e.replica = r }
}

// New wires an engine to its collaborators.
func New(cfg Config, out Outbound, api API, durable *store.Durability, trigger *present.Trigger, log *logging.Logger, opts ...Option) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = store.DefaultHistoryLimit
	}
	if cfg.StaffRoom == "" {
		cfg.StaffRoom = "admins"
	}
	e := &Engine{
		cfg:        cfg,
		replica:    replica.New(),
		index:      identity.NewIndex(),
		durable:    durable,
		out:        out,
		api:        api,
		trigger:    trigger,
		clock:      realClock{},
		log:        log.Sub("engine"),
		work:       make(chan task, 256),
		stopped:    make(chan struct{}),
		filter:     replica.FilterAll,
		runCtx:     context.Background(),
		timers:     make(map[string]timerSlot),
		localClose: make(map[string]bool),
		awaitSend:  make(map[string]string),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Replica exposes the replica for read-only rendering.
func (e *Engine) Replica() *replica.Store { return e.replica }

// Index exposes the identity index.
func (e *Engine) Index() *identity.Index { return e.index }

// Role is "dashboard" or "widget".
func (e *Engine) Role() string { return e.cfg.Role }

// Filter is the active sessions-list filter.
func (e *Engine) Filter() replica.Filter {
	e.prefMu.RLock()
	defer e.prefMu.RUnlock()
	return e.filter
}

// AutoAssign reports whether new sessions are assigned automatically.
func (e *Engine) AutoAssign() bool {
	e.prefMu.RLock()
	defer e.prefMu.RUnlock()
	return e.autoAssign
}

// WidgetOpen reports the widget-open flag.
func (e *Engine) WidgetOpen() bool {
	e.prefMu.RLock()
	defer e.prefMu.RUnlock()
	return e.widgetOpen
}

// Connected reports the last transport status seen by the engine.
func (e *Engine) Connected() bool {
	e.prefMu.RLock()
	defer e.prefMu.RUnlock()
	return e.connected
}

// SessionsView lists sessions under the active filter.
func (e *Engine) SessionsView() []*domain.Session {
	return e.replica.Sessions(e.Filter(), e.cfg.AgentID)
}

// Run processes queued work until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	defer e.once.Do(func() { close(e.stopped) })
	for {
		select {
		case <-ctx.Done():
			for key := range e.timers {
				e.cancelTimer(key)
			}
			return ctx.Err()
		case t := <-e.work:
			e.runTask(ctx, t)
		}
	}
}

func (e *Engine) runTask(ctx context.Context, t task) {
	if t.done != nil {
		defer close(t.done)
	}
	var d present.Dirty
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error().Interface("panic", r).Msg("task panicked, continuing")
			}
		}()
		d = t.fn(ctx)
	}()
	e.trigger.Flush(ctx, d)
}

// enqueue schedules fn without waiting. It reports false once stopped.
func (e *Engine) enqueue(fn func(ctx context.Context) present.Dirty) bool {
	select {
	case e.work <- task{fn: fn}:
		return true
	case <-e.stopped:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (e *Engine) do(ctx context.Context, fn func(ctx context.Context) present.Dirty) error {
	t := task{fn: fn, done: make(chan struct{})}
	select {
	case e.work <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrStopped
	}
}

// Sync waits until everything queued before it has been processed.
func (e *Engine) Sync(ctx context.Context) error {
	return e.do(ctx, func(context.Context) present.Dirty { return present.Nothing })
}

// spawn runs an outbound operation off the loop. Only call from the loop.
func (e *Engine) spawn(name string, fn func(ctx context.Context) error) {
	ctx := e.runCtx
	go func() {
		if err := fn(ctx); err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
			e.log.Warn().Err(err).Str("op", name).Msg("background operation failed")
		}
	}()
}

// Apply queues an inbound event. It is the adapter's observer.
func (e *Engine) Apply(ev domain.Event) {
	e.enqueue(func(ctx context.Context) present.Dirty { return e.apply(ctx, ev) })
}

// OnStatus queues a transport status transition. It is the adapter's
// status handler.
func (e *Engine) OnStatus(connected bool) {
	e.enqueue(func(ctx context.Context) present.Dirty { return e.statusChanged(ctx, connected) })
}

func (e *Engine) notify(ctx context.Context, title, msg string) {
	e.trigger.Notify(ctx, domain.Notice{Title: title, Message: msg})
}

// schedule arms a named timer whose callback runs on the loop. Re-arming a
// name replaces the previous timer; a fired timer that was replaced or
// cancelled in the meantime is ignored.
func (e *Engine) schedule(key string, d time.Duration, fn func(ctx context.Context) present.Dirty) {
	e.cancelTimer(key)
	e.timerGen++
	gen := e.timerGen
	t := e.clock.AfterFunc(d, func() {
		e.enqueue(func(ctx context.Context) present.Dirty {
			slot, ok := e.timers[key]
			if !ok || slot.gen != gen {
				return present.Nothing
			}
			delete(e.timers, key)
			return fn(ctx)
		})
	})
	e.timers[key] = timerSlot{gen: gen, t: t}
}

func (e *Engine) cancelTimer(key string) {
	if slot, ok := e.timers[key]; ok {
		slot.t.Stop()
		delete(e.timers, key)
	}
}

func (e *Engine) timerArmed(key string) bool {
	_, ok := e.timers[key]
	return ok
}
