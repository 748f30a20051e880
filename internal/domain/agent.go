package domain

import "strings"

// Agent is a staff member visible in the agents list.
type Agent struct {
	ID             string `json:"id"`
	FirstName      string `json:"firstName,omitempty"`
	LastName       string `json:"lastName,omitempty"`
	Name           string `json:"name,omitempty"`
	Username       string `json:"username,omitempty"`
	Email          string `json:"email,omitempty"`
	IsAvailable    bool   `json:"isAvailable"`
	ActiveSessions int    `json:"activeSessions"`
}

// DisplayName picks the best available label for the agent.
func (a *Agent) DisplayName() string {
	first := a.FirstName
	if first == "" {
		first = a.Name
	}
	if name := strings.TrimSpace(first + " " + a.LastName); name != "" {
		return name
	}
	if a.Username != "" {
		return a.Username
	}
	return "Agent"
}

// CannedResponse is a saved reply template.
type CannedResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
}

// Analytics is the "today" statistics block shown on the dashboard.
type Analytics struct {
	AvgResponseTime      float64 `json:"avgResponseTime"`
	ResolutionRate       float64 `json:"resolutionRate"`
	TodayChats           int     `json:"todayChats"`
	CustomerSatisfaction float64 `json:"customerSatisfaction"`
}
