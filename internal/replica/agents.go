package replica

import (
	"sort"

	"github.com/soyeahso/supportsync/internal/domain"
)

// UpsertAgent merges a partial agent record. Agents seen for the first time
// default to unavailable with zero active sessions. It reports whether the
// agent was newly created.
func (s *Store) UpsertAgent(u domain.AgentUpdate) bool {
	if u.ID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[u.ID]
	if !ok {
		a = &domain.Agent{ID: u.ID}
		s.agents[u.ID] = a
	}
	if u.FirstName != "" {
		a.FirstName = u.FirstName
	}
	if u.LastName != "" {
		a.LastName = u.LastName
	}
	if u.Name != "" {
		a.Name = u.Name
	}
	if u.Username != "" {
		a.Username = u.Username
	}
	if u.Email != "" {
		a.Email = u.Email
	}
	if u.IsAvailable != nil {
		a.IsAvailable = *u.IsAvailable
	}
	if u.ActiveSessions != nil {
		a.ActiveSessions = *u.ActiveSessions
	}
	return !ok
}

// ReplaceAgents swaps the agent set after a full reload.
func (s *Store) ReplaceAgents(list []domain.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = make(map[string]*domain.Agent, len(list))
	for i := range list {
		a := list[i]
		s.agents[a.ID] = &a
	}
}

// Agent returns a copy of one agent.
func (s *Store) Agent(id string) (domain.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return domain.Agent{}, false
	}
	return *a, true
}

// Agents returns all agents ordered by display name, then id.
func (s *Store) Agents() []domain.Agent {
	s.mu.RLock()
	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, *a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].DisplayName(), out[j].DisplayName()
		if ni != nj {
			return ni < nj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetAgentOnline records the widget's "any agent online" indicator.
func (s *Store) SetAgentOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentOnline = online
}

// AgentOnline reports the widget's agent presence indicator.
func (s *Store) AgentOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentOnline
}

// SetCannedResponses replaces the saved reply templates.
func (s *Store) SetCannedResponses(list []domain.CannedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canned = append([]domain.CannedResponse(nil), list...)
}

// CannedResponses returns the saved reply templates.
func (s *Store) CannedResponses() []domain.CannedResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CannedResponse(nil), s.canned...)
}

// SetAnalytics stores today's statistics.
func (s *Store) SetAnalytics(a domain.Analytics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analytics = a
}

// Analytics returns today's statistics.
func (s *Store) Analytics() domain.Analytics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analytics
}
