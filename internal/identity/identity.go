// Package identity derives message identities and tracks which ones a
// replica has already applied, per session.
package identity

import (
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/supportsync/internal/domain"
)

// Key is the identity of a message within its session.
type Key string

const sep = "\x1f"

// Of returns the identity of m: session id, the server id when present
// (otherwise the creation timestamp), and the body.
func Of(m *domain.Message) Key {
	ref := m.ID
	if ref == "" {
		ref = "t:" + m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	return Key(strings.Join([]string{m.SessionID, ref, m.Body}, sep))
}

// Index remembers applied identities. Sets are scoped per session so clearing
// one session never affects another.
type Index struct {
	mu       sync.RWMutex
	sessions map[string]map[Key]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{sessions: make(map[string]map[Key]struct{})}
}

// HasApplied reports whether key was marked for sessionID.
func (ix *Index) HasApplied(sessionID string, key Key) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.sessions[sessionID][key]
	return ok
}

// MarkApplied records key for sessionID.
func (ix *Index) MarkApplied(sessionID string, key Key) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set, ok := ix.sessions[sessionID]
	if !ok {
		set = make(map[Key]struct{})
		ix.sessions[sessionID] = set
	}
	set[key] = struct{}{}
}

// Apply marks m and reports whether it was new. It is the check-then-mark
// used by the message handlers.
func (ix *Index) Apply(m *domain.Message) bool {
	key := Of(m)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set, ok := ix.sessions[m.SessionID]
	if !ok {
		set = make(map[Key]struct{})
		ix.sessions[m.SessionID] = set
	}
	if _, seen := set[key]; seen {
		return false
	}
	set[key] = struct{}{}
	return true
}

// Clear forgets every identity recorded for sessionID.
func (ix *Index) Clear(sessionID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.sessions, sessionID)
}

// Len returns the number of identities recorded for sessionID.
func (ix *Index) Len(sessionID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.sessions[sessionID])
}
