package channel

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/soyeahso/supportsync/internal/domain"
)

// ErrUnknownEvent is returned for event names the normalizer does not map.
var ErrUnknownEvent = errors.New("unknown event")

// wire payload shapes. Fields use the server's snake_case names; numeric ids
// and stringified booleans are accepted through weak decoding.

type wireSessionRef struct {
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type wireNewSession struct {
	SessionID      string `json:"session_id"`
	CustomerName   string `json:"customer_name"`
	MessagePreview string `json:"message_preview"`
}

type wireMessage struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	SenderID      string    `json:"sender_id"`
	SenderName    string    `json:"sender_name"`
	SenderType    string    `json:"sender_type"`
	Message       any       `json:"message"`
	MessageType   string    `json:"message_type"`
	AttachmentURL string    `json:"attachment_url"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}

type wireMessageDeleted struct {
	SessionID      string `json:"session_id"`
	MessageID      string `json:"message_id"`
	SessionDeleted bool   `json:"session_deleted"`
}

type wireSessionUpdated struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Priority  string `json:"priority"`
	Message   string `json:"message"`
}

type wireAgent struct {
	AgentID        string `json:"agent_id"`
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Name           string `json:"name"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	IsAvailable    bool   `json:"is_available"`
	ActiveSessions int    `json:"active_sessions"`
}

type wireTyping struct {
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
	UserID    string `json:"user_id"`
}

type wireNotice struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	AgentName string `json:"agent_name"`
}

type wirePresence struct {
	Online bool `json:"online"`
}

// Normalize maps one inbound wire event onto a typed domain event. The
// envelope seq wins over a seq carried inside the payload.
func Normalize(event string, payload json.RawMessage, seq int64) (domain.Event, error) {
	raw, err := payloadMap(payload)
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "decoding %s payload", event)
	}

	var ref wireSessionRef
	if err := decodeWire(raw, &ref); err != nil {
		return domain.Event{}, errors.Wrapf(err, "decoding %s envelope", event)
	}
	ev := domain.Event{SessionID: ref.SessionID, Seq: seq}
	if ev.Seq == 0 {
		ev.Seq = ref.Seq
	}

	switch event {
	case EvNewChatSession:
		var w wireNewSession
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindNewSession
		ev.NewSession = &domain.NewSession{
			CustomerName: orDefault(w.CustomerName, domain.DefaultSenderName),
			Preview:      w.MessagePreview,
		}

	case EvMessageSent:
		m, err := decodeMessage(raw)
		if err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindMessageReceived
		ev.SessionID = m.SessionID
		ev.Message = m

	case EvMessageDeleted:
		var w wireMessageDeleted
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindMessageDeleted
		ev.MessageDeleted = &domain.MessageDeleted{MessageID: w.MessageID, SessionDeleted: w.SessionDeleted}

	case EvSessionUpdated:
		var w wireSessionUpdated
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindSessionStatusChanged
		ev.Status = &domain.StatusChange{
			Status:    parseStatus(w.Status),
			AgentID:   presentString(raw, "agent_id", w.AgentID),
			AgentName: presentString(raw, "agent_name", w.AgentName),
			Priority:  presentString(raw, "priority", w.Priority),
			Note:      w.Message,
		}

	case EvSessionAssigned:
		var w wireSessionUpdated
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		status := parseStatus(w.Status)
		if status == "" {
			status = domain.StatusActive
		}
		ev.Kind = domain.KindSessionAssigned
		ev.Status = &domain.StatusChange{
			Status:    status,
			AgentID:   presentString(raw, "agent_id", w.AgentID),
			AgentName: presentString(raw, "agent_name", w.AgentName),
			Note:      w.Message,
		}

	case EvSessionClosed:
		var w wireNotice
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindSessionClosed
		ev.Closed = &domain.SessionClosed{Note: w.Message}

	case EvSessionDeleted:
		ev.Kind = domain.KindSessionDeleted

	case EvSessionUnreadCleared:
		ev.Kind = domain.KindUnreadCleared

	case EvClearCustomerSession:
		ev.Kind = domain.KindCustomerCleared

	case EvAgentStatusChanged:
		var w wireAgent
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindAgentStatusChanged
		ev.Agent = &domain.AgentUpdate{
			ID:        firstNonEmpty(w.AgentID, w.ID, w.UserID),
			FirstName: w.FirstName,
			LastName:  w.LastName,
			Name:      w.Name,
			Username:  w.Username,
			Email:     w.Email,
		}
		if _, ok := raw["is_available"]; ok {
			ev.Agent.IsAvailable = &w.IsAvailable
		}
		if _, ok := raw["active_sessions"]; ok {
			ev.Agent.ActiveSessions = &w.ActiveSessions
		}

	case EvUserTyping, EvAgentTyping:
		var w wireTyping
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindTypingState
		ev.Typing = &domain.Typing{IsTyping: w.IsTyping, UserID: w.UserID, FromAgent: event == EvAgentTyping}

	case EvAdminNotification, EvAgentJoined:
		var w wireNotice
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindNotification
		n := &domain.Notice{Title: w.Title, Message: w.Message}
		if event == EvAgentJoined {
			n.Title = orDefault(n.Title, "Agent Joined")
			if n.Message == "" && w.AgentName != "" {
				n.Message = w.AgentName + " joined the chat"
			}
		}
		ev.Notice = n

	case EvAgentStatus:
		var w wirePresence
		if err := decodeWire(raw, &w); err != nil {
			return domain.Event{}, errors.Wrap(err, event)
		}
		ev.Kind = domain.KindAgentPresence
		ev.Presence = &domain.AgentPresence{Online: w.Online}

	case EvAgentOnline, EvAgentOffline:
		ev.Kind = domain.KindAgentPresence
		ev.Presence = &domain.AgentPresence{Online: event == EvAgentOnline}

	default:
		return domain.Event{}, errors.Wrap(ErrUnknownEvent, event)
	}
	return ev, nil
}

// DecodeMessage converts one loosely-typed message object, as found in
// message_sent payloads and API history responses.
func DecodeMessage(raw map[string]any) (*domain.Message, error) {
	return decodeMessage(raw)
}

func decodeMessage(raw map[string]any) (*domain.Message, error) {
	var w wireMessage
	if err := decodeWire(raw, &w); err != nil {
		return nil, err
	}
	// some senders wrap the message object under "message"
	if nested, ok := w.Message.(map[string]any); ok {
		outer := w.SessionID
		w = wireMessage{}
		if err := decodeWire(nested, &w); err != nil {
			return nil, err
		}
		if w.SessionID == "" {
			w.SessionID = outer
		}
	}
	body, _ := w.Message.(string)
	if body == "" && w.Message != nil {
		if _, isMap := w.Message.(map[string]any); !isMap {
			body = stringify(w.Message)
		}
	}

	m := &domain.Message{
		ID:            w.ID,
		SessionID:     w.SessionID,
		SenderID:      w.SenderID,
		SenderType:    domain.ParseSenderType(w.SenderType),
		SenderName:    orDefault(w.SenderName, domain.DefaultSenderName),
		Body:          body,
		MessageType:   w.MessageType,
		AttachmentURL: w.AttachmentURL,
		IsRead:        w.IsRead,
		CreatedAt:     w.CreatedAt,
	}
	if m.SessionID == "" {
		return nil, errors.New("message without session_id")
	}
	return m, nil
}

// DecodeInto decodes a loose map into a wire-tagged struct with the same
// rules the normalizer uses. The API client shares it.
func DecodeInto(raw any, out any) error {
	return decodeWire(raw, out)
}

func decodeWire(raw any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToTimeHook(),
			floatToIDHook(),
		),
	})
	if err != nil {
		return errors.Wrap(err, "new decoder")
	}
	return dec.Decode(raw)
}

func payloadMap(payload json.RawMessage) (map[string]any, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return map[string]any{}, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

var timeType = reflect.TypeOf(time.Time{})

// timeLayouts covers RFC 3339 and the zone-less ISO forms some servers
// emit; zone-less values are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTime parses a wire timestamp. Unparseable input yields the zero time.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func stringToTimeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != timeType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseTime(v), nil
		case float64:
			// epoch milliseconds
			return time.UnixMilli(int64(v)).UTC(), nil
		}
		return data, nil
	}
}

// floatToIDHook renders JSON numbers bound for string fields without a
// fractional part, so 42.0 becomes "42".
func floatToIDHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.Float64 || to.Kind() != reflect.String {
			return data, nil
		}
		return stringify(data), nil
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func parseStatus(s string) domain.Status {
	st, ok := domain.ParseStatus(strings.ToLower(strings.TrimSpace(s)))
	if !ok {
		return ""
	}
	return st
}

// presentString distinguishes an absent key (nil) from an explicit null or
// empty value (pointer to "").
func presentString(raw map[string]any, key, decoded string) *string {
	if _, ok := raw[key]; !ok {
		return nil
	}
	return &decoded
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
