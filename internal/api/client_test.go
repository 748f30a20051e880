package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/supportsync/internal/config"
	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

type recorded struct {
	method string
	path   string
	body   string
	header http.Header
}

type callLog struct {
	mu    sync.Mutex
	calls []recorded
}

func (l *callLog) all() []recorded {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recorded(nil), l.calls...)
}

// testAPI serves canned JSON bodies keyed by "METHOD /path". A body may be
// prefixed with "NNN|" to set the status code.
func testAPI(t *testing.T, routes map[string]string) (*Client, *callLog) {
	t.Helper()
	log := &callLog{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		log.mu.Lock()
		log.calls = append(log.calls, recorded{r.Method, r.URL.Path, string(body), r.Header.Clone()})
		log.mu.Unlock()

		resp, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"success":false,"message":"no route"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status, rest, found := strings.Cut(resp, "|"); found && len(status) == 3 {
			code, _ := strconv.Atoi(status)
			w.WriteHeader(code)
			resp = rest
		}
		io.WriteString(w, resp)
	}))
	t.Cleanup(ts.Close)

	cfg := config.Defaults().API
	cfg.BaseURL = ts.URL + "/messenger/api/"
	cfg.Token = "tok"
	return New(cfg, silentLog()), log
}

func TestListSessions(t *testing.T) {
	c, calls := testAPI(t, map[string]string{
		"GET /messenger/api/sessions": `{"success":true,"sessions":[
			{"id":42,"customer_name":"Unknown","agent_id":null,"agent_name":"Unassigned",
			 "status":"waiting","last_message":"hi","last_message_time":"2024-05-01T10:00:00",
			 "customer":{"id":9,"first_name":"Ann","last_name":"Lee"},
			 "recent_orders":[{"order_number":"A-1","total_amount":"12.5"}]},
			{"customer_name":"no id"},
			{"id":"43","customer_name":"Bo","agent_id":7,"agent_name":"Cy","status":"active"}
		]}`,
	})

	sessions, err := c.ListSessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 2, "sessions without an id are skipped")

	s := sessions[0]
	assert.Equal(t, "42", s.ID)
	assert.Equal(t, domain.DefaultSenderName, s.CustomerName)
	assert.Equal(t, domain.StatusWaiting, s.Status)
	assert.Empty(t, s.AgentName, "unassigned label is dropped")
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), s.LastMessageTime)
	require.NotNil(t, s.Customer)
	assert.Equal(t, "Ann Lee", s.Customer.DisplayName())
	require.Len(t, s.RecentOrders, 1)
	assert.Equal(t, 12.5, s.RecentOrders[0].TotalAmount)

	assert.Equal(t, "7", sessions[1].AgentID)
	assert.Equal(t, "Cy", sessions[1].AgentName)

	got := calls.all()
	require.Len(t, got, 1)
	h := got[0].header
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.NotEmpty(t, h.Get("X-Request-ID"))
	assert.Contains(t, h.Get("User-Agent"), "supportsync/")
}

func TestUnsuccessfulEnvelope(t *testing.T) {
	c, _ := testAPI(t, map[string]string{
		"POST /messenger/api/sessions/42/assign": `400|{"success":false,"message":"Session already assigned to an agent"}`,
		"POST /messenger/api/sessions/42/close":  `{"success":false,"message":"Access denied"}`,
		"GET /messenger/api/agents":              `502|<html>bad gateway</html>`,
	})
	ctx := context.Background()

	_, err := c.Assign(ctx, "42", "")
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "assign session", apiErr.Op)
	assert.Contains(t, err.Error(), "already assigned")
	assert.True(t, errors.Is(err, ErrUnsuccessful))

	err = c.Close(ctx, "42")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 200, apiErr.Status, "success=false on a 200 is still a failure")

	_, err = c.ListAgents(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 502, apiErr.Status)
	assert.Contains(t, apiErr.Message, "bad gateway")
}

func TestTransportError(t *testing.T) {
	cfg := config.Defaults().API
	cfg.BaseURL = "http://127.0.0.1:1"
	c := New(cfg, silentLog())
	err := c.MarkRead(context.Background(), "1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsuccessful))
}

func TestAssignSendsAgent(t *testing.T) {
	c, calls := testAPI(t, map[string]string{
		"POST /messenger/api/sessions/42/assign": `{"success":true,"session":{"id":42,"status":"active","agent_id":5,"agent_name":"Ann Lee"}}`,
	})
	s, err := c.Assign(context.Background(), "42", "5")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, "5", s.AgentID)

	got := calls.all()
	require.Len(t, got, 1)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(got[0].body), &body))
	assert.Equal(t, "5", body["agent_id"])
	assert.Equal(t, "application/json", got[0].header.Get("Content-Type"))
}

func TestSessionMessages(t *testing.T) {
	c, _ := testAPI(t, map[string]string{
		"GET /messenger/api/sessions/42/messages": `{"success":true,"messages":[
			{"id":1,"sender_type":"customer","sender_name":"","message":"hi","created_at":"2024-05-01T10:00:00"},
			{"id":2,"session_id":42,"sender_type":"agent","sender_name":"Ann","message":"hello"},
			"junk"
		]}`,
	})
	msgs, err := c.SessionMessages(context.Background(), "42")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "42", msgs[0].SessionID, "session id is filled from the path")
	assert.Equal(t, domain.DefaultSenderName, msgs[0].SenderName)
	assert.Equal(t, domain.SenderAgent, msgs[1].SenderType)
	assert.Equal(t, "2", msgs[1].ID)
}

func TestSessionDetail(t *testing.T) {
	c, _ := testAPI(t, map[string]string{
		"GET /messenger/api/sessions/42/detail": `{"success":true,"session":{"id":42,"status":"closed","subject":"Refund"}}`,
	})
	s, err := c.SessionDetail(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, s.Status)
	assert.Equal(t, "Refund", s.Subject)
}

func TestCustomerSession(t *testing.T) {
	c, _ := testAPI(t, map[string]string{
		"GET /messenger/api/session": `{"success":true,"session_id":77,"status":"waiting","session":{"customer_name":"Customer"}}`,
	})
	s, err := c.CustomerSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "77", s.ID)
	assert.Equal(t, domain.StatusWaiting, s.Status)
}

func TestListAgentsIDFallback(t *testing.T) {
	c, _ := testAPI(t, map[string]string{
		"GET /messenger/api/agents": `{"success":true,"agents":[
			{"id":3,"first_name":"Ann","is_available":true,"active_sessions":2},
			{"user_id":"u9","username":"bo"},
			{"first_name":"ghost"}
		]}`,
	})
	agents, err := c.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "3", agents[0].ID)
	assert.True(t, agents[0].IsAvailable)
	assert.Equal(t, 2, agents[0].ActiveSessions)
	assert.Equal(t, "u9", agents[1].ID)
	assert.False(t, agents[1].IsAvailable)
	assert.Equal(t, 0, agents[1].ActiveSessions)
}

func TestCannedAndAnalytics(t *testing.T) {
	c, _ := testAPI(t, map[string]string{
		"GET /messenger/api/canned-responses": `{"success":true,"responses":[{"id":1,"title":"Hi","content":"Hello!","category":null}]}`,
		"GET /messenger/api/analytics/today":  `{"success":true,"analytics":{"total_chats":10,"chats_resolved":4,"avg_response_time":31,"customer_satisfaction":4.5}}`,
	})
	ctx := context.Background()

	canned, err := c.CannedResponses(ctx)
	require.NoError(t, err)
	require.Len(t, canned, 1)
	assert.Equal(t, domain.CannedResponse{ID: "1", Title: "Hi", Content: "Hello!"}, canned[0])

	a, err := c.AnalyticsToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, a.TodayChats)
	assert.InDelta(t, 40.0, a.ResolutionRate, 0.001)
	assert.Equal(t, 31.0, a.AvgResponseTime)
	assert.Equal(t, 4.5, a.CustomerSatisfaction)
}

func TestAnalyticsDataKey(t *testing.T) {
	c, _ := testAPI(t, map[string]string{
		"GET /messenger/api/analytics/today": `{"success":true,"data":{"today_chats":3,"resolution_rate":75}}`,
	})
	a, err := c.AnalyticsToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, a.TodayChats)
	assert.Equal(t, 75.0, a.ResolutionRate)
}

func TestDeletes(t *testing.T) {
	c, calls := testAPI(t, map[string]string{
		"DELETE /messenger/api/sessions/42":            `{"success":true}`,
		"DELETE /messenger/api/sessions/42/messages/9": `{"success":true,"message":"Message deleted and session cleared","session_deleted":true}`,
	})
	ctx := context.Background()
	require.NoError(t, c.DeleteSession(ctx, "42"))
	gone, err := c.DeleteMessage(ctx, "42", "9")
	require.NoError(t, err)
	assert.True(t, gone)
	assert.Len(t, calls.all(), 2)
}
