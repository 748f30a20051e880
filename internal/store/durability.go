package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/logging"
)

// Preference names.
const (
	PrefChatFilter = "chat_filter"
	PrefAutoAssign = "auto_assign"
	PrefWidgetOpen = "widget_open"
)

// DefaultHistoryLimit is how many messages are kept per session.
const DefaultHistoryLimit = 100

const defaultOpTimeout = 2 * time.Second

// Durability is the fail-soft persistence layer. Writes that fail are
// logged and dropped; reads that fail report the value as absent. Callers
// never see a storage error.
type Durability struct {
	backend Backend
	log     *logging.Logger
	prefix  string
	limit   int
	timeout time.Duration
}

// NewDurability namespaces all keys under the given profile.
func NewDurability(b Backend, profile string, limit int, log *logging.Logger) *Durability {
	if profile == "" {
		profile = "default"
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Durability{
		backend: b,
		log:     log.Sub("durability"),
		prefix:  "supportsync:" + profile + ":",
		limit:   limit,
		timeout: defaultOpTimeout,
	}
}

// Limit is the per-session history cap.
func (d *Durability) Limit() int { return d.limit }

// Backend returns the wrapped backend.
func (d *Durability) Backend() Backend { return d.backend }

func (d *Durability) focusKey() string { return d.prefix + "focus" }
func (d *Durability) prefKey(name string) string { return d.prefix + "pref:" + name }
func (d *Durability) historyKey(sessID string) string { return d.prefix + "history:" + sessID }

func (d *Durability) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func (d *Durability) warn(err error, op, key string) {
	d.log.Warn().Err(err).Str("op", op).Str("key", key).Str("backend", d.backend.Name()).
		Msg("persistence failed, continuing in memory")
}

// PersistFocus remembers the focused session id.
func (d *Durability) PersistFocus(ctx context.Context, sessionID string) {
	d.setJSON(ctx, d.focusKey(), sessionID)
}

// LoadFocus returns the persisted focus pointer.
func (d *Durability) LoadFocus(ctx context.Context) (string, bool) {
	var id string
	if !d.getJSON(ctx, d.focusKey(), &id) || id == "" {
		return "", false
	}
	return id, true
}

// ClearFocus forgets the focus pointer.
func (d *Durability) ClearFocus(ctx context.Context) {
	d.del(ctx, d.focusKey())
}

// PersistPreference stores any JSON-encodable value under name.
func (d *Durability) PersistPreference(ctx context.Context, name string, value any) {
	d.setJSON(ctx, d.prefKey(name), value)
}

// LoadPreference decodes the stored value into out and reports whether one
// was found.
func (d *Durability) LoadPreference(ctx context.Context, name string, out any) bool {
	return d.getJSON(ctx, d.prefKey(name), out)
}

// AppendMessage adds one message to a session's bounded history.
func (d *Durability) AppendMessage(ctx context.Context, m domain.Message) {
	key := d.historyKey(m.SessionID)
	data, err := json.Marshal(m)
	if err != nil {
		d.warn(err, "encode", key)
		return
	}
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.backend.Append(ctx, key, string(data), d.limit); err != nil {
		d.warn(err, "append", key)
	}
}

// PersistMessages replaces a session's history with msgs, keeping only the
// most recent entries up to the limit.
func (d *Durability) PersistMessages(ctx context.Context, sessionID string, msgs []domain.Message) {
	key := d.historyKey(sessionID)
	if len(msgs) > d.limit {
		msgs = msgs[len(msgs)-d.limit:]
	}
	values := make([]string, 0, len(msgs))
	for i := range msgs {
		data, err := json.Marshal(msgs[i])
		if err != nil {
			d.warn(err, "encode", key)
			continue
		}
		values = append(values, string(data))
	}
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.backend.Replace(ctx, key, values, d.limit); err != nil {
		d.warn(err, "replace", key)
	}
}

// LoadMessages returns a session's persisted history, oldest first.
// Undecodable entries are skipped.
func (d *Durability) LoadMessages(ctx context.Context, sessionID string) []domain.Message {
	key := d.historyKey(sessionID)
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	raw, err := d.backend.Range(ctx, key)
	if err != nil {
		d.warn(err, "range", key)
		return nil
	}
	out := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			d.log.Debug().Err(err).Str("key", key).Msg("skipping corrupt history entry")
			continue
		}
		out = append(out, m)
	}
	return out
}

// ClearMessages drops a session's persisted history.
func (d *Durability) ClearMessages(ctx context.Context, sessionID string) {
	d.del(ctx, d.historyKey(sessionID))
}

func (d *Durability) setJSON(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		d.warn(err, "encode", key)
		return
	}
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.backend.Set(ctx, key, string(data)); err != nil {
		d.warn(err, "set", key)
	}
}

func (d *Durability) getJSON(ctx context.Context, key string, out any) bool {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	raw, ok, err := d.backend.Get(ctx, key)
	if err != nil {
		d.warn(err, "get", key)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		d.log.Debug().Err(err).Str("key", key).Msg("ignoring undecodable value")
		return false
	}
	return true
}

func (d *Durability) del(ctx context.Context, key string) {
	ctx, cancel := d.opCtx(ctx)
	defer cancel()
	if err := d.backend.Delete(ctx, key); err != nil {
		d.warn(err, "delete", key)
	}
}
