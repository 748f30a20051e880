package replica

import "github.com/soyeahso/supportsync/internal/domain"

// AppendMessage adds m to its session's rendered history, evicting the
// oldest entries beyond limit. A non-positive limit means unbounded.
func (s *Store) AppendMessage(m domain.Message, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.messages[m.SessionID], m)
	if limit > 0 && len(list) > limit {
		list = append([]domain.Message(nil), list[len(list)-limit:]...)
	}
	s.messages[m.SessionID] = list
}

// SetMessages replaces a session's rendered history.
func (s *Store) SetMessages(sessionID string, msgs []domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append([]domain.Message(nil), msgs...)
}

// Messages returns a copy of a session's rendered history, oldest first.
func (s *Store) Messages(sessionID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.messages[sessionID]...)
}

// RemoveMessage drops the message with the given server id. It reports
// whether anything was removed.
func (s *Store) RemoveMessage(sessionID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[sessionID]
	for i := range list {
		if list[i].ID == messageID {
			s.messages[sessionID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// ClearMessages forgets a session's rendered history.
func (s *Store) ClearMessages(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, sessionID)
}
