package engine

import (
	"context"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/present"
	"github.com/soyeahso/supportsync/internal/replica"
)

func typingInKey(id string) string { return "typing-in:" + id }

const typingOutKey = "typing-out"

func pendingKey(a replica.Action, id string) string { return "pending:" + string(a) + ":" + id }

func (e *Engine) onTyping(_ context.Context, ev domain.Event) present.Dirty {
	t := ev.Typing
	if t == nil || !e.replica.IsFocused(ev.SessionID) {
		return present.Nothing
	}
	// each side only shows the other party typing
	if t.FromAgent != e.cfg.widget() {
		return present.Nothing
	}
	id := ev.SessionID
	if !t.IsTyping {
		e.cancelTimer(typingInKey(id))
		if !e.replica.Typing(id) {
			return present.Nothing
		}
		e.replica.SetTyping(id, false)
		return present.Of(present.FocusedSession)
	}

	shown := e.replica.Typing(id)
	e.replica.SetTyping(id, true)
	e.schedule(typingInKey(id), e.cfg.TypingWindow, func(context.Context) present.Dirty {
		if !e.replica.Typing(id) {
			return present.Nothing
		}
		e.replica.SetTyping(id, false)
		return present.Of(present.FocusedSession)
	})
	if shown {
		return present.Nothing
	}
	return present.Of(present.FocusedSession)
}

type typingState int

const (
	typingIdle typingState = iota
	typingAnnounced
)

// outboundTyping tracks whether "typing" was announced for a session.
type outboundTyping struct {
	state   typingState
	session string
}

// Typing records local input activity on the focused session. The first
// keystroke announces typing; a quiet period without input retracts it.
func (e *Engine) Typing(ctx context.Context) error {
	return e.do(ctx, func(context.Context) present.Dirty {
		id := e.replica.Focus()
		if id == "" {
			return present.Nothing
		}
		if !e.cfg.widget() && !e.replica.Controls(id).Compose {
			return present.Nothing
		}
		if e.typingOut.state == typingAnnounced && e.typingOut.session != id {
			e.stopTyping()
		}
		if e.typingOut.state == typingIdle {
			if err := e.out.Emit(channel.EvTyping, channel.TypingSignal{SessionID: id, IsTyping: true}); err != nil {
				return present.Nothing
			}
			e.typingOut = outboundTyping{state: typingAnnounced, session: id}
		}
		e.schedule(typingOutKey, e.cfg.TypingQuiet, func(context.Context) present.Dirty {
			e.stopTyping()
			return present.Nothing
		})
		return present.Nothing
	})
}

// stopTyping retracts an announced typing state. Loop only.
func (e *Engine) stopTyping() {
	e.cancelTimer(typingOutKey)
	if e.typingOut.state != typingAnnounced {
		return
	}
	id := e.typingOut.session
	e.typingOut = outboundTyping{}
	if err := e.out.Emit(channel.EvTyping, channel.TypingSignal{SessionID: id, IsTyping: false}); err != nil {
		e.log.Debug().Err(err).Str("session", id).Msg("typing stop not sent")
	}
}
