package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input string
		want  Status
		ok    bool
	}{
		{"waiting", StatusWaiting, true},
		{"active", StatusActive, true},
		{"closed", StatusClosed, true},
		{" Active ", StatusActive, true},
		{"", "", false},
		{"archived", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseStatus(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestParseSenderType(t *testing.T) {
	assert.Equal(t, SenderAgent, ParseSenderType("agent"))
	assert.Equal(t, SenderSystem, ParseSenderType("system"))
	assert.Equal(t, SenderCustomer, ParseSenderType("customer"))
	assert.Equal(t, SenderCustomer, ParseSenderType(""))
	assert.Equal(t, SenderCustomer, ParseSenderType("bot"))
}

func TestControlsFor(t *testing.T) {
	tests := []struct {
		name    string
		session *Session
		want    Controls
	}{
		{"nil session", nil, Controls{}},
		{"closed", &Session{Status: StatusClosed, AgentID: "7"}, Controls{}},
		{"waiting", &Session{Status: StatusWaiting}, Controls{Actions: true, Assign: true}},
		{"active unassigned", &Session{Status: StatusActive}, Controls{Actions: true, Assign: true}},
		{"active assigned", &Session{Status: StatusActive, AgentID: "7"}, Controls{Compose: true, Actions: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ControlsFor(tt.session))
		})
	}
}

func TestSessionActivity(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := &Session{CreatedAt: created}
	assert.Equal(t, created, s.Activity())

	last := created.Add(time.Hour)
	s.LastMessageTime = last
	assert.Equal(t, last, s.Activity())
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := &Session{
		ID:           "1",
		Customer:     &Customer{FirstName: "Ada"},
		RecentOrders: []Order{{OrderNumber: "A1"}},
	}
	c := s.Clone()
	c.Customer.FirstName = "Grace"
	c.RecentOrders[0].OrderNumber = "B2"

	assert.Equal(t, "Ada", s.Customer.FirstName)
	assert.Equal(t, "A1", s.RecentOrders[0].OrderNumber)
}

func TestCustomerDisplayName(t *testing.T) {
	var nilCustomer *Customer
	assert.Equal(t, "Guest", nilCustomer.DisplayName())
	assert.Equal(t, "Guest", (&Customer{}).DisplayName())
	assert.Equal(t, "Ada Lovelace", (&Customer{FirstName: "Ada", LastName: "Lovelace"}).DisplayName())
	assert.Equal(t, "Ada", (&Customer{FirstName: "Ada"}).DisplayName())
}

func TestAgentDisplayName(t *testing.T) {
	assert.Equal(t, "Agent", (&Agent{}).DisplayName())
	assert.Equal(t, "sam", (&Agent{Username: "sam"}).DisplayName())
	assert.Equal(t, "Sam Doe", (&Agent{FirstName: "Sam", LastName: "Doe"}).DisplayName())
	assert.Equal(t, "Support Bot", (&Agent{Name: "Support Bot"}).DisplayName())
}

func TestEventIsMetadata(t *testing.T) {
	assert.True(t, Event{Kind: KindSessionStatusChanged}.IsMetadata())
	assert.True(t, Event{Kind: KindSessionClosed}.IsMetadata())
	assert.True(t, Event{Kind: KindSessionAssigned}.IsMetadata())
	assert.False(t, Event{Kind: KindMessageReceived}.IsMetadata())
	assert.False(t, Event{Kind: KindTypingState}.IsMetadata())
}

func TestMessageJSONOmitsEmptyID(t *testing.T) {
	msg := Message{SessionID: "42", Body: "hi", SenderType: SenderCustomer}
	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	_, hasID := raw["id"]
	assert.False(t, hasID)
	assert.Equal(t, "42", raw["sessionId"])
}
