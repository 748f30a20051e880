package replica

import (
	"sort"
	"strings"

	"github.com/soyeahso/supportsync/internal/domain"
)

// Filter selects which sessions the sessions list shows.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterUnassigned Filter = "unassigned"
	FilterMine       Filter = "mine"
	FilterHigh       Filter = "high"
)

// ParseFilter maps a stored preference onto a Filter; unknown values mean all.
func ParseFilter(s string) Filter {
	switch Filter(s) {
	case FilterUnassigned, FilterMine, FilterHigh:
		return Filter(s)
	default:
		return FilterAll
	}
}

func (f Filter) match(s *domain.Session, me string) bool {
	switch f {
	case FilterUnassigned:
		return !s.Assigned()
	case FilterMine:
		return me != "" && s.AgentID == me
	case FilterHigh:
		return strings.EqualFold(s.Priority, "high")
	default:
		return true
	}
}

// Sessions returns copies of the sessions matching f, newest activity first.
// me is the current staff member's id, used by FilterMine.
func (s *Store) Sessions(f Filter, me string) []*domain.Session {
	s.mu.RLock()
	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if f.match(sess, me) {
			out = append(out, sess.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Activity(), out[j].Activity()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Counts aggregates the dashboard counters.
type Counts struct {
	Active       int `json:"active"`
	Waiting      int `json:"waiting"`
	Unread       int `json:"unread"`
	OnlineAgents int `json:"onlineAgents"`
}

// Counts computes the session and agent counters.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Counts
	for _, sess := range s.sessions {
		switch sess.Status {
		case domain.StatusActive:
			c.Active++
		case domain.StatusWaiting:
			c.Waiting++
		}
		c.Unread += sess.UnreadCount
	}
	for _, a := range s.agents {
		if a.IsAvailable {
			c.OnlineAgents++
		}
	}
	return c
}

// Controls returns the control gating for a session, with in-flight
// optimistic actions holding their control disabled until confirmed or
// reverted.
func (s *Store) Controls(id string) domain.Controls {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.Controls{}
	}
	c := domain.ControlsFor(sess)
	p := s.pending[id]
	if p[ActionSend] {
		c.Compose = false
	}
	if p[ActionAssign] {
		c.Assign = false
	}
	if p[ActionClose] {
		c.Actions = false
		c.Assign = false
	}
	return c
}

// FocusView is what the focused-session region renders.
type FocusView struct {
	// Placeholder is set when nothing is focused or the focused session is
	// closed or gone; the pane shows "no active chat" with controls disabled.
	Placeholder bool
	Session     *domain.Session
	Messages    []domain.Message
	Controls    domain.Controls
	Typing      bool
}

// View builds the focused-session view.
func (s *Store) View() FocusView {
	id := s.Focus()
	if id == "" {
		return FocusView{Placeholder: true}
	}
	sess, ok := s.Session(id)
	if !ok {
		return FocusView{Placeholder: true}
	}
	if sess.Status == domain.StatusClosed {
		return FocusView{Placeholder: true, Session: sess}
	}
	return FocusView{
		Session:  sess,
		Messages: s.Messages(id),
		Controls: s.Controls(id),
		Typing:   s.Typing(id),
	}
}
