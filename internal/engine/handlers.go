package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/present"
	"github.com/soyeahso/supportsync/internal/replica"
)

type handlerFunc func(*Engine, context.Context, domain.Event) present.Dirty

var handlers = map[domain.Kind]handlerFunc{
	domain.KindNewSession:           (*Engine).onNewSession,
	domain.KindMessageReceived:      (*Engine).onMessage,
	domain.KindMessageDeleted:       (*Engine).onMessageDeleted,
	domain.KindSessionStatusChanged: (*Engine).onStatusChanged,
	domain.KindSessionClosed:        (*Engine).onSessionClosed,
	domain.KindSessionDeleted:       (*Engine).onSessionDeleted,
	domain.KindUnreadCleared:        (*Engine).onUnreadCleared,
	domain.KindAgentStatusChanged:   (*Engine).onAgentStatus,
	domain.KindTypingState:          (*Engine).onTyping,
	domain.KindCustomerCleared:      (*Engine).onCustomerCleared,
	domain.KindSessionAssigned:      (*Engine).onAssigned,
	domain.KindAgentPresence:        (*Engine).onPresence,
	domain.KindNotification:         (*Engine).onNotification,
}

const (
	sessionsAndCounts = present.Dirty(present.SessionsList) | present.Dirty(present.Counts)
	everything        = sessionsAndCounts | present.Dirty(present.FocusedSession) | present.Dirty(present.AgentsList)
)

func (e *Engine) apply(ctx context.Context, ev domain.Event) present.Dirty {
	h, ok := handlers[ev.Kind]
	if !ok {
		e.log.Debug().Str("kind", string(ev.Kind)).Msg("no handler for event")
		return present.Nothing
	}
	if ev.IsMetadata() && ev.Seq > 0 && ev.SessionID != "" {
		if last := e.replica.LastSeq(ev.SessionID); ev.Seq <= last {
			e.log.Debug().
				Str("kind", string(ev.Kind)).
				Str("session", ev.SessionID).
				Int64("seq", ev.Seq).
				Int64("last", last).
				Msg("dropping stale metadata event")
			return present.Nothing
		}
		e.replica.SetSeq(ev.SessionID, ev.Seq)
	}
	return h(e, ctx, ev)
}

// focusedToo adds the focused region when id is the focused session.
func (e *Engine) focusedToo(id string, d present.Dirty) present.Dirty {
	if e.replica.IsFocused(id) {
		return d.With(present.Of(present.FocusedSession))
	}
	return d
}

func (e *Engine) onNewSession(ctx context.Context, ev domain.Event) present.Dirty {
	if e.cfg.widget() || ev.NewSession == nil {
		return present.Nothing
	}
	now := e.clock.Now()
	name := ev.NewSession.CustomerName
	if name == "" {
		name = domain.DefaultSenderName
	}
	sess := &domain.Session{
		ID:              ev.SessionID,
		CustomerName:    name,
		Status:          domain.StatusWaiting,
		LastMessage:     ev.NewSession.Preview,
		LastMessageTime: now,
		UnreadCount:     1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !e.replica.Insert(sess) {
		return present.Nothing
	}
	e.subscribe(ev.SessionID, name)
	e.notify(ctx, "New Chat", "New chat from "+name)

	if e.AutoAssign() && e.cfg.AgentID != "" {
		id := ev.SessionID
		e.spawn("auto-assign", func(ctx context.Context) error {
			return e.Assign(ctx, id, e.cfg.AgentID)
		})
	}
	return sessionsAndCounts
}

func (e *Engine) subscribe(id, name string) {
	if err := e.out.SubscribeSession(id, name, true); err != nil {
		e.log.Debug().Err(err).Str("session", id).Msg("join deferred until reconnect")
	}
}

func (e *Engine) onMessage(ctx context.Context, ev domain.Event) present.Dirty {
	m := ev.Message
	if m == nil {
		return present.Nothing
	}
	if e.cfg.widget() && m.SessionID != e.replica.Focus() {
		return present.Nothing
	}
	if !e.index.Apply(m) {
		return present.Nothing
	}

	d := sessionsAndCounts
	if !e.replica.Has(m.SessionID) {
		body := m.Body
		if body == "" {
			body = "New message"
		}
		name := m.SenderName
		if name == "" || !m.FromCustomer() {
			name = domain.DefaultSenderName
		}
		e.replica.Insert(&domain.Session{
			ID:              m.SessionID,
			CustomerName:    name,
			Status:          domain.StatusWaiting,
			LastMessage:     body,
			LastMessageTime: m.CreatedAt,
			CreatedAt:       m.CreatedAt,
			UpdatedAt:       m.CreatedAt,
		})
		e.subscribe(m.SessionID, name)
	}

	focused := e.replica.IsFocused(m.SessionID)
	reopened := false
	e.replica.Update(m.SessionID, func(s *domain.Session) {
		if !e.cfg.widget() && m.FromCustomer() && s.Status != domain.StatusActive {
			reopened = s.Status == domain.StatusClosed
			s.Status = domain.StatusWaiting
			s.ClosedAt = time.Time{}
		}
		if m.Body != "" && s.LastMessage != m.Body {
			s.LastMessage = m.Body
			s.LastMessageTime = m.CreatedAt
		}
		if e.unreadFor(m, focused) {
			s.UnreadCount++
		}
		s.UpdatedAt = m.CreatedAt
	})

	if reopened {
		e.notifyReopened(ctx, m.SessionID)
	}

	e.replica.AppendMessage(*m, e.cfg.HistoryLimit)
	e.durable.AppendMessage(ctx, *m)
	e.confirmSend(m)

	if focused {
		e.replica.SetTyping(m.SessionID, false)
		e.cancelTimer(typingInKey(m.SessionID))
		d = d.With(present.Of(present.FocusedSession))
	}
	return d
}

// unreadFor decides whether m counts towards the unread badge: customer
// messages outside the focused pane on the dashboard, agent messages while
// the widget is closed.
func (e *Engine) unreadFor(m *domain.Message, focused bool) bool {
	if e.cfg.widget() {
		return m.SenderType == domain.SenderAgent && !e.WidgetOpen()
	}
	return m.FromCustomer() && !focused
}

// confirmSend clears the pending send once our own message is echoed back.
func (e *Engine) confirmSend(m *domain.Message) {
	body, ok := e.awaitSend[m.SessionID]
	if !ok || body != m.Body {
		return
	}
	own := m.SenderType == domain.SenderAgent
	if e.cfg.widget() {
		own = m.FromCustomer()
	}
	if !own {
		return
	}
	delete(e.awaitSend, m.SessionID)
	e.cancelTimer(pendingKey(replica.ActionSend, m.SessionID))
	e.replica.SetPending(m.SessionID, replica.ActionSend, false)
}

func (e *Engine) onMessageDeleted(ctx context.Context, ev domain.Event) present.Dirty {
	md := ev.MessageDeleted
	if md == nil {
		return present.Nothing
	}
	if md.SessionDeleted {
		return e.dropSession(ctx, ev.SessionID)
	}
	removed := e.replica.RemoveMessage(ev.SessionID, md.MessageID)
	e.index.Clear(ev.SessionID)
	if !removed {
		return present.Nothing
	}
	e.durable.PersistMessages(ctx, ev.SessionID, e.replica.Messages(ev.SessionID))
	return e.focusedToo(ev.SessionID, present.Nothing)
}

func (e *Engine) onStatusChanged(ctx context.Context, ev domain.Event) present.Dirty {
	if ev.Status == nil {
		return present.Nothing
	}
	return e.mergeStatus(ctx, ev.SessionID, ev.Status)
}

// mergeStatus shallow-merges a status change. Absent fields are left alone;
// a session this client has not seen is synthesized when it is still open.
func (e *Engine) mergeStatus(ctx context.Context, id string, sc *domain.StatusChange) present.Dirty {
	now := e.clock.Now()
	prev, ok := e.replica.Session(id)
	if !ok {
		if sc.Status != domain.StatusActive && sc.Status != domain.StatusWaiting {
			return present.Nothing
		}
		prev = &domain.Session{
			ID:           id,
			CustomerName: domain.DefaultSenderName,
			Status:       sc.Status,
			CreatedAt:    now,
		}
		e.replica.Insert(prev)
	}
	old := prev.Status

	e.replica.Update(id, func(s *domain.Session) {
		if sc.Status != "" {
			s.Status = sc.Status
		}
		if sc.AgentID != nil {
			s.AgentID = *sc.AgentID
			if s.AgentID == "" {
				s.AgentName = ""
			}
		}
		if sc.AgentName != nil && s.AgentID != "" {
			s.AgentName = *sc.AgentName
		}
		if sc.Priority != nil {
			s.Priority = *sc.Priority
		}
		if s.Status == domain.StatusClosed && s.ClosedAt.IsZero() {
			s.ClosedAt = now
		}
		if s.Status != domain.StatusClosed {
			s.ClosedAt = time.Time{}
		}
		s.UpdatedAt = now
	})

	cur, _ := e.replica.Session(id)
	switch cur.Status {
	case domain.StatusActive, domain.StatusWaiting:
		e.subscribe(id, cur.CustomerName)
	case domain.StatusClosed:
		e.forgetHistory(id)
		e.settlePending(id, replica.ActionClose)
	}
	if cur.Status == domain.StatusActive && cur.Assigned() {
		e.settlePending(id, replica.ActionAssign)
	}

	if old == domain.StatusClosed && cur.Status == domain.StatusWaiting {
		e.notifyReopened(ctx, id)
	} else if e.replica.IsFocused(id) && cur.Status == domain.StatusWaiting && strings.Contains(strings.ToLower(sc.Note), "reopen") {
		e.notify(ctx, "Current Session Waiting", sc.Note)
	}
	return e.focusedToo(id, sessionsAndCounts)
}

func (e *Engine) notifyReopened(ctx context.Context, id string) {
	e.notify(ctx, "Session Reopened",
		fmt.Sprintf("Customer sent a new message. Session #%s is now waiting for assignment.", id))
}

// settlePending clears an optimistic action and its revert timer.
func (e *Engine) settlePending(id string, a replica.Action) {
	e.cancelTimer(pendingKey(a, id))
	e.replica.SetPending(id, a, false)
	if a == replica.ActionSend {
		delete(e.awaitSend, id)
	}
}

// forgetHistory drops a session's rendered messages and identities.
func (e *Engine) forgetHistory(id string) {
	e.index.Clear(id)
	e.replica.ClearMessages(id)
	e.replica.SetTyping(id, false)
	e.cancelTimer(typingInKey(id))
}

func (e *Engine) onSessionClosed(ctx context.Context, ev domain.Event) present.Dirty {
	local := e.localClose[ev.SessionID]
	delete(e.localClose, ev.SessionID)
	return e.closeSession(ctx, ev.SessionID, local)
}

// closeSession marks a session closed. The in-memory focus pointer is kept
// so the pane shows the closed placeholder; the persisted pointer survives
// only for closes this client initiated.
func (e *Engine) closeSession(ctx context.Context, id string, local bool) present.Dirty {
	if !e.replica.Has(id) {
		return present.Nothing
	}
	now := e.clock.Now()
	e.replica.Update(id, func(s *domain.Session) {
		s.Status = domain.StatusClosed
		if s.ClosedAt.IsZero() {
			s.ClosedAt = now
		}
		s.UpdatedAt = now
	})
	e.forgetHistory(id)
	e.settlePending(id, replica.ActionClose)
	e.settlePending(id, replica.ActionSend)

	if !local {
		if saved, ok := e.durable.LoadFocus(ctx); ok && saved == id {
			e.durable.ClearFocus(ctx)
		}
	}

	if e.cfg.widget() && e.replica.IsFocused(id) {
		e.durable.ClearFocus(ctx)
		e.notify(ctx, "Chat Closed", "This chat session has been closed")
	}
	return e.focusedToo(id, sessionsAndCounts)
}

func (e *Engine) onSessionDeleted(ctx context.Context, ev domain.Event) present.Dirty {
	return e.dropSession(ctx, ev.SessionID)
}

// dropSession removes every trace of a session.
func (e *Engine) dropSession(ctx context.Context, id string) present.Dirty {
	focused := e.replica.IsFocused(id)
	known := e.replica.Delete(id)
	e.index.Clear(id)
	e.cancelTimer(typingInKey(id))
	for _, a := range []replica.Action{replica.ActionSend, replica.ActionAssign, replica.ActionClose} {
		e.cancelTimer(pendingKey(a, id))
	}
	delete(e.awaitSend, id)
	delete(e.localClose, id)
	e.durable.ClearMessages(ctx, id)
	if saved, ok := e.durable.LoadFocus(ctx); ok && saved == id {
		e.durable.ClearFocus(ctx)
	}
	if known {
		if err := e.out.Unsubscribe(channel.SessionRoom(id)); err != nil {
			e.log.Debug().Err(err).Str("session", id).Msg("leave not sent")
		}
	}
	if focused {
		e.replica.SetFocus("")
		return everything
	}
	if !known {
		return present.Nothing
	}
	return sessionsAndCounts
}

func (e *Engine) onUnreadCleared(_ context.Context, ev domain.Event) present.Dirty {
	if !e.replica.Update(ev.SessionID, func(s *domain.Session) { s.UnreadCount = 0 }) {
		return present.Nothing
	}
	return sessionsAndCounts
}

func (e *Engine) onAgentStatus(_ context.Context, ev domain.Event) present.Dirty {
	if ev.Agent == nil || ev.Agent.ID == "" {
		return present.Nothing
	}
	if e.replica.UpsertAgent(*ev.Agent) {
		e.log.Debug().Str("agent", ev.Agent.ID).Msg("new agent")
	}
	return present.Of(present.AgentsList, present.Counts)
}

func (e *Engine) onCustomerCleared(ctx context.Context, ev domain.Event) present.Dirty {
	id := ev.SessionID
	e.index.Clear(id)
	e.durable.ClearMessages(ctx, id)
	if saved, ok := e.durable.LoadFocus(ctx); ok && saved == id {
		e.durable.ClearFocus(ctx)
	}
	if !e.cfg.widget() {
		return present.Nothing
	}
	if id != "" && e.replica.Focus() != id {
		return present.Nothing
	}
	own := e.replica.Focus()
	e.replica.Delete(own)
	e.replica.SetFocus("")
	e.durable.ClearFocus(ctx)
	e.durable.ClearMessages(ctx, own)
	e.setWidgetOpen(ctx, false)
	e.notify(ctx, "Chat Cleared", "Your chat session has been cleared by the admin.")
	return everything
}

func (e *Engine) onAssigned(ctx context.Context, ev domain.Event) present.Dirty {
	d := present.Nothing
	if ev.Status != nil && ev.SessionID != "" {
		d = e.mergeStatus(ctx, ev.SessionID, ev.Status)
	}
	if e.cfg.widget() {
		e.replica.SetAgentOnline(true)
		d = d.With(present.Of(present.Counts))
	}
	note := ""
	if ev.Status != nil {
		note = ev.Status.Note
		if note == "" && ev.Status.AgentName != nil && *ev.Status.AgentName != "" {
			note = *ev.Status.AgentName + " is now handling this chat"
		}
	}
	if note == "" {
		note = "An agent has been assigned"
	}
	e.notify(ctx, "Chat Assigned", note)
	return d
}

func (e *Engine) onPresence(_ context.Context, ev domain.Event) present.Dirty {
	if ev.Presence == nil {
		return present.Nothing
	}
	e.replica.SetAgentOnline(ev.Presence.Online)
	return present.Of(present.Counts)
}

func (e *Engine) onNotification(ctx context.Context, ev domain.Event) present.Dirty {
	if ev.Notice != nil {
		e.trigger.Notify(ctx, *ev.Notice)
	}
	return present.Nothing
}
