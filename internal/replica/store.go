// Package replica holds one client's in-memory view of support sessions,
// agents and the focused conversation. The reconciliation engine is the only
// writer; renderers read through the accessor methods, which return copies.
package replica

import (
	"sort"
	"sync"

	"github.com/soyeahso/supportsync/internal/domain"
)

// Action names an optimistic user action awaiting confirmation.
type Action string

const (
	ActionSend   Action = "send"
	ActionAssign Action = "assign"
	ActionClose  Action = "close"
)

// Store is the replica. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session // id → session
	agents   map[string]*domain.Agent   // normalized id → agent
	messages map[string][]domain.Message
	seqs     map[string]int64
	pending  map[string]map[Action]bool
	typing   map[string]bool

	focus       string
	canned      []domain.CannedResponse
	analytics   domain.Analytics
	agentOnline bool
}

// New creates an empty replica.
func New() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		agents:   make(map[string]*domain.Agent),
		messages: make(map[string][]domain.Message),
		seqs:     make(map[string]int64),
		pending:  make(map[string]map[Action]bool),
		typing:   make(map[string]bool),
	}
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id string) (*domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Has reports whether the session is known.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Put inserts or replaces a session.
func (s *Store) Put(sess *domain.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
}

// Insert adds sess only if no session with its id exists. It reports whether
// the session was inserted.
func (s *Store) Insert(sess *domain.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return false
	}
	s.sessions[sess.ID] = sess.Clone()
	return true
}

// Update applies fn to the stored session in place. It returns false when
// the session is unknown.
func (s *Store) Update(id string, fn func(*domain.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	fn(sess)
	return true
}

// Delete removes a session together with its messages, sequence watermark,
// pending actions and typing state. It returns false when it was unknown.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	delete(s.messages, id)
	delete(s.seqs, id)
	delete(s.pending, id)
	delete(s.typing, id)
	return ok
}

// MergeSessions upserts every listed session. Sessions the replica knows
// but the list omits are kept; removal only follows a deletion event.
// It returns the ids that were not known before.
func (s *Store) MergeSessions(list []*domain.Session) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []string
	for _, sess := range list {
		if _, ok := s.sessions[sess.ID]; !ok {
			added = append(added, sess.ID)
		}
		s.sessions[sess.ID] = sess.Clone()
	}
	return added
}

// IDs returns every known session id in ascending order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of known sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Focus returns the focused session id, or "" when nothing is focused.
func (s *Store) Focus() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focus
}

// IsFocused reports whether id is the focused session.
func (s *Store) IsFocused(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return id != "" && s.focus == id
}

// SetFocus points the focused view at id. An empty id clears focus.
func (s *Store) SetFocus(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus = id
}

// LastSeq returns the highest metadata sequence applied for a session.
func (s *Store) LastSeq(id string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seqs[id]
}

// SetSeq records the sequence of the latest applied metadata event.
func (s *Store) SetSeq(id string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[id] = seq
}

// SetPending marks or clears an optimistic action for a session.
func (s *Store) SetPending(id string, a Action, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.pending[id]
	if !ok {
		if !on {
			return
		}
		set = make(map[Action]bool)
		s.pending[id] = set
	}
	if on {
		set[a] = true
		return
	}
	delete(set, a)
	if len(set) == 0 {
		delete(s.pending, id)
	}
}

// Pending reports whether an optimistic action is in flight.
func (s *Store) Pending(id string, a Action) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending[id][a]
}

// SetTyping shows or hides the remote typing indicator for a session.
func (s *Store) SetTyping(id string, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if visible {
		s.typing[id] = true
	} else {
		delete(s.typing, id)
	}
}

// Typing reports whether the typing indicator is visible for a session.
func (s *Store) Typing(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing[id]
}
