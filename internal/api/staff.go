package api

import (
	"context"
	"net/http"

	"github.com/soyeahso/supportsync/internal/channel"
	"github.com/soyeahso/supportsync/internal/domain"
)

type wireAgent struct {
	ID             string `json:"id"`
	AgentID        string `json:"agent_id"`
	UserID         string `json:"user_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	IsAvailable    bool   `json:"is_available"`
	ActiveSessions int    `json:"active_sessions"`
}

type wireCanned struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

type wireAnalytics struct {
	TotalChats           int      `json:"total_chats"`
	TodayChats           int      `json:"today_chats"`
	ChatsResolved        int      `json:"chats_resolved"`
	AvgResponseTime      float64  `json:"avg_response_time"`
	CustomerSatisfaction float64  `json:"customer_satisfaction"`
	ResolutionRate       *float64 `json:"resolution_rate"`
}

// ListAgents fetches the staff list. The list id is the first of id,
// agent_id and user_id; missing availability reads as unavailable.
func (c *Client) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	env, err := c.do(ctx, "list agents", http.MethodGet, "/agents", nil)
	if err != nil {
		return nil, err
	}
	items, _ := env["agents"].([]any)
	out := make([]domain.Agent, 0, len(items))
	for _, item := range items {
		var w wireAgent
		if err := channel.DecodeInto(item, &w); err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed agent")
			continue
		}
		id := w.ID
		for _, alt := range []string{w.AgentID, w.UserID} {
			if id == "" {
				id = alt
			}
		}
		if id == "" {
			continue
		}
		out = append(out, domain.Agent{
			ID:             id,
			FirstName:      w.FirstName,
			LastName:       w.LastName,
			Name:           w.Name,
			Username:       w.Username,
			Email:          w.Email,
			IsAvailable:    w.IsAvailable,
			ActiveSessions: w.ActiveSessions,
		})
	}
	return out, nil
}

// CannedResponses fetches the active reply templates.
func (c *Client) CannedResponses(ctx context.Context) ([]domain.CannedResponse, error) {
	env, err := c.do(ctx, "canned responses", http.MethodGet, "/canned-responses", nil)
	if err != nil {
		return nil, err
	}
	var list []wireCanned
	if err := channel.DecodeInto(env["responses"], &list); err != nil {
		return nil, err
	}
	out := make([]domain.CannedResponse, len(list))
	for i, w := range list {
		out[i] = domain.CannedResponse(w)
	}
	return out, nil
}

// AnalyticsToday fetches today's dashboard statistics. Servers disagree on
// whether the block lives under "analytics" or "data"; both are accepted.
func (c *Client) AnalyticsToday(ctx context.Context) (domain.Analytics, error) {
	env, err := c.do(ctx, "analytics today", http.MethodGet, "/analytics/today", nil)
	if err != nil {
		return domain.Analytics{}, err
	}
	block := env["analytics"]
	if block == nil {
		block = env["data"]
	}
	var w wireAnalytics
	if err := channel.DecodeInto(block, &w); err != nil {
		return domain.Analytics{}, err
	}

	if w.TotalChats == 0 {
		w.TotalChats = w.TodayChats
	}
	a := domain.Analytics{
		AvgResponseTime:      w.AvgResponseTime,
		TodayChats:           w.TotalChats,
		CustomerSatisfaction: w.CustomerSatisfaction,
	}
	switch {
	case w.ResolutionRate != nil:
		a.ResolutionRate = *w.ResolutionRate
	case w.TotalChats > 0:
		a.ResolutionRate = float64(w.ChatsResolved) * 100 / float64(w.TotalChats)
	}
	return a, nil
}
