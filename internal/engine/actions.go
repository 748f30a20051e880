package engine

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/present"
	"github.com/soyeahso/supportsync/internal/replica"
	"github.com/soyeahso/supportsync/internal/store"
)

// Outbound operations run their local part on the loop, call the API off
// the loop, then re-enter to apply the result. They must not be called from
// inside a handler.

// Focus opens a session in the focused pane and loads its history.
func (e *Engine) Focus(ctx context.Context, id string) error {
	var (
		err    error
		closed bool
		unread int
	)
	if derr := e.do(ctx, func(ctx context.Context) present.Dirty {
		sess, ok := e.replica.Session(id)
		if !ok {
			err = ErrUnknownSession
			return present.Nothing
		}
		if prev := e.replica.Focus(); prev != id {
			e.stopTyping()
			if prev != "" {
				e.replica.SetTyping(prev, false)
				e.cancelTimer(typingInKey(prev))
			}
		}
		e.replica.SetFocus(id)
		e.durable.PersistFocus(ctx, id)
		closed = sess.Status == domain.StatusClosed
		e.subscribe(id, sess.CustomerName)
		unread = sess.UnreadCount
		e.replica.Update(id, func(s *domain.Session) { s.UnreadCount = 0 })
		return everything
	}); derr != nil {
		return derr
	}
	if err != nil || closed {
		return err
	}

	readErr := e.api.MarkRead(ctx, id)
	detail, detailErr := e.api.SessionDetail(ctx, id)
	msgs, msgsErr := e.api.SessionMessages(ctx, id)

	return e.do(ctx, func(ctx context.Context) present.Dirty {
		d := present.Of(present.FocusedSession)
		if readErr != nil {
			// the server still counts them as unread
			e.log.Warn().Err(readErr).Str("session", id).Msg("mark read failed")
			if unread > 0 && e.replica.Update(id, func(s *domain.Session) { s.UnreadCount += unread }) {
				d = d.With(sessionsAndCounts)
			}
		}
		if !e.replica.IsFocused(id) {
			return d &^ present.Of(present.FocusedSession)
		}
		if detailErr != nil {
			e.log.Warn().Err(detailErr).Str("session", id).Msg("loading session detail")
		} else if detail != nil {
			e.replica.Update(id, func(s *domain.Session) {
				if detail.Customer != nil {
					s.Customer = detail.Customer
				}
				if len(detail.RecentOrders) > 0 {
					s.RecentOrders = detail.RecentOrders
				}
				if detail.Subject != "" {
					s.Subject = detail.Subject
				}
				if detail.CustomerID != "" {
					s.CustomerID = detail.CustomerID
				}
			})
		}
		if msgsErr != nil {
			e.log.Warn().Err(msgsErr).Str("session", id).Msg("loading messages")
			e.notify(ctx, "Error", "Failed to load messages")
			return d
		}
		e.reseed(ctx, id, msgs)
		return d
	})
}

// reseed replaces a session's history with a fresh load. Every message goes
// back through the identity index, so echoes of loaded messages are
// recognised as duplicates; live messages that arrived during the load are
// kept.
func (e *Engine) reseed(ctx context.Context, id string, msgs []domain.Message) {
	live := e.replica.Messages(id)
	e.index.Clear(id)
	kept := make([]domain.Message, 0, len(msgs)+len(live))
	for _, batch := range [][]domain.Message{msgs, live} {
		for i := range batch {
			m := batch[i]
			if m.SessionID == "" {
				m.SessionID = id
			}
			if e.index.Apply(&m) {
				kept = append(kept, m)
			}
		}
	}
	if n := len(kept) - e.cfg.HistoryLimit; n > 0 {
		kept = kept[n:]
	}
	e.replica.SetMessages(id, kept)
	e.durable.PersistMessages(ctx, id, kept)
}

// Unfocus clears the focused pane.
func (e *Engine) Unfocus(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		prev := e.replica.Focus()
		if prev == "" {
			return present.Nothing
		}
		e.stopTyping()
		e.replica.SetTyping(prev, false)
		e.cancelTimer(typingInKey(prev))
		e.replica.SetFocus("")
		e.durable.ClearFocus(ctx)
		return present.Of(present.FocusedSession)
	})
}

// SendMessage emits a message on the focused session. The send control
// stays pending until the server echoes the message or the action window
// elapses.
func (e *Engine) SendMessage(ctx context.Context, body, attachmentURL string) error {
	body = strings.TrimSpace(body)
	if body == "" && attachmentURL == "" {
		return nil
	}
	if e.cfg.widget() {
		if err := e.ensureCustomerSession(ctx); err != nil {
			return err
		}
	}

	var err error
	if derr := e.do(ctx, func(ctx context.Context) present.Dirty {
		id := e.replica.Focus()
		if id == "" {
			err = ErrNoFocus
			e.notify(ctx, "No Chat Selected", "Select a chat session first.")
			return present.Nothing
		}
		if e.replica.Pending(id, replica.ActionSend) {
			err = ErrComposeDisabled
			return present.Nothing
		}
		if !e.cfg.widget() && !e.replica.Controls(id).Compose {
			err = ErrComposeDisabled
			e.notify(ctx, "Not Assigned", "Assign this chat to yourself before replying.")
			return present.Nothing
		}
		e.stopTyping()
		if emitErr := e.out.Emit(channel.EvSendMessage, channel.SendMessage{
			SessionID:     id,
			Message:       body,
			AttachmentURL: attachmentURL,
		}); emitErr != nil {
			err = emitErr
			e.notify(ctx, "Message Not Sent", "You are offline. The message was not sent.")
			return present.Nothing
		}
		e.replica.SetPending(id, replica.ActionSend, true)
		e.awaitSend[id] = body
		e.schedule(pendingKey(replica.ActionSend, id), e.cfg.ActionTimeout, func(ctx context.Context) present.Dirty {
			if !e.replica.Pending(id, replica.ActionSend) {
				return present.Nothing
			}
			e.settlePending(id, replica.ActionSend)
			e.notify(ctx, "Message Not Confirmed", "The server did not confirm your message. You can send it again.")
			return present.Of(present.FocusedSession)
		})
		return present.Of(present.FocusedSession)
	}); derr != nil {
		return derr
	}
	return err
}

// ensureCustomerSession gives the widget a live session, creating one
// through the API when it has none or its last one was closed.
func (e *Engine) ensureCustomerSession(ctx context.Context) error {
	need := false
	if err := e.do(ctx, func(context.Context) present.Dirty {
		s, ok := e.replica.Session(e.replica.Focus())
		need = !ok || s.Status == domain.StatusClosed
		return present.Nothing
	}); err != nil {
		return err
	}
	if !need {
		return nil
	}

	sess, err := e.api.CustomerSession(ctx)
	if err == nil && (sess == nil || sess.ID == "") {
		err = errors.New("no session returned")
	}
	if err != nil {
		_ = e.do(ctx, func(ctx context.Context) present.Dirty {
			e.notify(ctx, "Connection Error", "Could not start a chat session. Please try again.")
			return present.Nothing
		})
		return errors.Wrap(err, "starting chat session")
	}
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		e.replica.Put(sess)
		e.replica.SetFocus(sess.ID)
		e.durable.PersistFocus(ctx, sess.ID)
		e.subscribe(sess.ID, sess.CustomerName)
		return everything
	})
}

// Assign hands a session to an agent; an empty agentID means this agent.
func (e *Engine) Assign(ctx context.Context, id, agentID string) error {
	if agentID == "" {
		agentID = e.cfg.AgentID
	}
	var err error
	if derr := e.do(ctx, func(ctx context.Context) present.Dirty {
		if !e.replica.Has(id) {
			err = ErrUnknownSession
			return present.Nothing
		}
		if e.replica.Pending(id, replica.ActionAssign) || !e.replica.Controls(id).Assign {
			err = ErrNotActionable
			return present.Nothing
		}
		e.replica.SetPending(id, replica.ActionAssign, true)
		e.schedule(pendingKey(replica.ActionAssign, id), e.cfg.ActionTimeout, func(ctx context.Context) present.Dirty {
			if !e.replica.Pending(id, replica.ActionAssign) {
				return present.Nothing
			}
			e.settlePending(id, replica.ActionAssign)
			e.notify(ctx, "Assignment Not Confirmed", "The assignment was not confirmed. Please try again.")
			return e.focusedToo(id, present.Of(present.SessionsList))
		})
		return e.focusedToo(id, present.Of(present.SessionsList))
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}

	sess, apiErr := e.api.Assign(ctx, id, agentID)

	if derr := e.do(ctx, func(ctx context.Context) present.Dirty {
		if apiErr != nil {
			e.settlePending(id, replica.ActionAssign)
			e.notify(ctx, "Error", "Failed to assign chat session: "+apiErr.Error())
			return e.focusedToo(id, present.Of(present.SessionsList))
		}
		e.notify(ctx, "Success", "Chat session assigned successfully")
		if sess == nil {
			// wait for the session_updated broadcast or the revert timer
			return present.Nothing
		}
		sc := assignedChange(sess, agentID, e.replica)
		d := e.mergeStatus(ctx, id, sc)
		e.settlePending(id, replica.ActionAssign)
		if err := e.out.Emit(channel.EvSessionUpdated, channel.SessionUpdate{
			SessionID: id,
			Status:    string(sc.Status),
			AgentID:   sc.AgentID,
			AgentName: *sc.AgentName,
			Message:   "Session assigned",
		}); err != nil {
			e.log.Debug().Err(err).Str("session", id).Msg("assignment relay not sent")
		}
		return d
	}); derr != nil {
		return derr
	}
	return apiErr
}

// assignedChange builds the status merge for a successful assignment from
// the API's session, falling back to what the replica knows of the agent.
func assignedChange(sess *domain.Session, agentID string, r *replica.Store) *domain.StatusChange {
	status := sess.Status
	if status == "" || status == domain.StatusWaiting {
		status = domain.StatusActive
	}
	id := sess.AgentID
	if id == "" {
		id = agentID
	}
	name := sess.AgentName
	if name == "" {
		if a, ok := r.Agent(id); ok {
			name = a.DisplayName()
		}
	}
	return &domain.StatusChange{Status: status, AgentID: &id, AgentName: &name}
}

// Close ends a session. The focus pointer survives a close made here.
func (e *Engine) Close(ctx context.Context, id string) error {
	var err error
	if derr := e.do(ctx, func(ctx context.Context) present.Dirty {
		if !e.replica.Has(id) {
			err = ErrUnknownSession
			return present.Nothing
		}
		if e.replica.Pending(id, replica.ActionClose) || !e.replica.Controls(id).Actions {
			err = ErrNotActionable
			return present.Nothing
		}
		e.replica.SetPending(id, replica.ActionClose, true)
		// the server broadcasts session_closed before it answers the request
		e.localClose[id] = true
		e.schedule(pendingKey(replica.ActionClose, id), e.cfg.ActionTimeout, func(ctx context.Context) present.Dirty {
			if !e.replica.Pending(id, replica.ActionClose) {
				return present.Nothing
			}
			delete(e.localClose, id)
			e.settlePending(id, replica.ActionClose)
			e.notify(ctx, "Close Not Confirmed", "The session was not closed. Please try again.")
			return e.focusedToo(id, present.Of(present.SessionsList))
		})
		return e.focusedToo(id, present.Of(present.SessionsList))
	}); derr != nil {
		return derr
	}
	if err != nil {
		return err
	}

	apiErr := e.api.Close(ctx, id)

	if derr := e.do(ctx, func(ctx context.Context) present.Dirty {
		if apiErr != nil {
			delete(e.localClose, id)
			e.settlePending(id, replica.ActionClose)
			e.notify(ctx, "Error", "Failed to close chat session: "+apiErr.Error())
			return e.focusedToo(id, present.Of(present.SessionsList))
		}
		d := e.closeSession(ctx, id, true)
		if err := e.out.Emit(channel.EvSessionClosed, channel.SessionClosedNotice{
			SessionID: id,
			Message:   "This chat session has been closed by the support agent",
		}); err != nil {
			e.log.Debug().Err(err).Str("session", id).Msg("close relay not sent")
		}
		e.notify(ctx, "Success", "Chat session closed successfully")
		return d
	}); derr != nil {
		return derr
	}
	return apiErr
}

// DeleteSession removes a session on the server and locally.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	if err := e.api.DeleteSession(ctx, id); err != nil {
		_ = e.do(ctx, func(ctx context.Context) present.Dirty {
			e.notify(ctx, "Error", "Failed to delete chat session: "+err.Error())
			return present.Nothing
		})
		return err
	}
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		d := e.dropSession(ctx, id)
		e.clearCustomer(id)
		e.notify(ctx, "Session Deleted", "Chat session deleted successfully")
		return d
	})
}

// DeleteMessage removes one message. The server may delete the whole
// session when it was the last one.
func (e *Engine) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	sessionDeleted, err := e.api.DeleteMessage(ctx, sessionID, messageID)
	if err != nil {
		_ = e.do(ctx, func(ctx context.Context) present.Dirty {
			e.notify(ctx, "Error", "Failed to delete message: "+err.Error())
			return present.Nothing
		})
		return err
	}
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		d := e.onMessageDeleted(ctx, domain.Event{
			Kind:      domain.KindMessageDeleted,
			SessionID: sessionID,
			MessageDeleted: &domain.MessageDeleted{
				MessageID:      messageID,
				SessionDeleted: sessionDeleted,
			},
		})
		e.clearCustomer(sessionID)
		e.notify(ctx, "Message Deleted", "Message deleted successfully")
		return d
	})
}

func (e *Engine) clearCustomer(id string) {
	if err := e.out.Emit(channel.EvClearCustomerSession, channel.SessionRef{SessionID: id}); err != nil {
		e.log.Debug().Err(err).Str("session", id).Msg("clear relay not sent")
	}
}

// LeaveAsCustomer ends the widget's conversation from the customer side.
func (e *Engine) LeaveAsCustomer(ctx context.Context) error {
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		id := e.replica.Focus()
		if id == "" {
			return present.Nothing
		}
		e.stopTyping()
		ref := channel.SessionRef{SessionID: id}
		for _, ev := range []string{channel.EvCloseSession, channel.EvCustomerLeft} {
			if err := e.out.Emit(ev, ref); err != nil {
				e.log.Debug().Err(err).Str("event", ev).Msg("leave not sent")
			}
		}
		e.replica.Update(id, func(s *domain.Session) {
			s.Status = domain.StatusClosed
			s.ClosedAt = e.clock.Now()
		})
		e.forgetHistory(id)
		e.replica.SetFocus("")
		e.durable.ClearFocus(ctx)
		e.durable.ClearMessages(ctx, id)
		e.setWidgetOpen(ctx, false)
		return everything
	})
}

// SetFilter changes the sessions-list filter.
func (e *Engine) SetFilter(ctx context.Context, f replica.Filter) error {
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		e.prefMu.Lock()
		e.filter = f
		e.prefMu.Unlock()
		e.durable.PersistPreference(ctx, store.PrefChatFilter, string(f))
		return present.Of(present.SessionsList)
	})
}

// SetAutoAssign toggles automatic assignment of new sessions.
func (e *Engine) SetAutoAssign(ctx context.Context, on bool) error {
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		e.prefMu.Lock()
		e.autoAssign = on
		e.prefMu.Unlock()
		e.durable.PersistPreference(ctx, store.PrefAutoAssign, on)
		if on {
			e.notify(ctx, "Auto-assign Enabled", "New chats will be assigned to you automatically.")
		} else {
			e.notify(ctx, "Auto-assign Disabled", "New chats will wait for manual assignment.")
		}
		return present.Nothing
	})
}

// SetWidgetOpen records whether the widget panel is open.
func (e *Engine) SetWidgetOpen(ctx context.Context, open bool) error {
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		e.setWidgetOpen(ctx, open)
		if open {
			e.replica.Update(e.replica.Focus(), func(s *domain.Session) { s.UnreadCount = 0 })
		}
		return present.Of(present.FocusedSession, present.Counts)
	})
}

func (e *Engine) setWidgetOpen(ctx context.Context, open bool) {
	e.prefMu.Lock()
	e.widgetOpen = open
	e.prefMu.Unlock()
	e.durable.PersistPreference(ctx, store.PrefWidgetOpen, open)
}

// statusChanged reacts to transport transitions. On connect, after a settle
// delay, every known session is silently re-joined.
func (e *Engine) statusChanged(ctx context.Context, connected bool) present.Dirty {
	e.prefMu.Lock()
	was := e.connected
	e.connected = connected
	e.prefMu.Unlock()

	if !connected {
		e.cancelTimer("settle")
		if was {
			e.notify(ctx, "Disconnected", "Connection lost. Reconnecting...")
		}
		return present.Of(present.Counts)
	}
	if e.cfg.widget() {
		if err := e.out.Emit(channel.EvGetAgentStatus, struct{}{}); err != nil {
			e.log.Debug().Err(err).Msg("agent status request not sent")
		}
	}
	e.schedule("settle", e.cfg.SettleDelay, func(context.Context) present.Dirty {
		e.rejoinAll()
		return present.Nothing
	})
	return present.Of(present.Counts)
}

func (e *Engine) rejoinAll() {
	n := 0
	for _, id := range e.replica.IDs() {
		s, ok := e.replica.Session(id)
		if !ok {
			continue
		}
		e.subscribe(id, s.CustomerName)
		n++
	}
	e.log.Debug().Int("sessions", n).Msg("re-joined session rooms")
}
