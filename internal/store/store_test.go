package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", testLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)
	assert.NotNil(t, db.SQL())
	assert.Equal(t, "sqlite", db.Name())
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "supportsync.db")
	db, err := Open(path, testLog())
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"kv", "history"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- Backend contract, run against every local backend ---

func backends(t *testing.T) map[string]Backend {
	return map[string]Backend{
		"sqlite": testDB(t),
		"memory": NewMemory(),
	}
}

func TestBackend_ScalarRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := b.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Set(ctx, "k", "v1"))
			require.NoError(t, b.Set(ctx, "k", "v2"))
			v, ok, err := b.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v2", v)

			require.NoError(t, b.Delete(ctx, "k"))
			_, ok, _ = b.Get(ctx, "k")
			assert.False(t, ok)
		})
	}
}

func TestBackend_AppendKeepsNewest(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 7; i++ {
				require.NoError(t, b.Append(ctx, "list", fmt.Sprint(i), 3))
			}
			got, err := b.Range(ctx, "list")
			require.NoError(t, err)
			assert.Equal(t, []string{"4", "5", "6"}, got)
		})
	}
}

func TestBackend_ReplaceAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Append(ctx, "list", "old", 10))
			require.NoError(t, b.Replace(ctx, "list", []string{"a", "b", "c"}, 2))
			got, err := b.Range(ctx, "list")
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c"}, got)

			require.NoError(t, b.Delete(ctx, "list"))
			got, err = b.Range(ctx, "list")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	b, err := OpenBackend(ctx, Options{Backend: "memory"}, dir, testLog())
	require.NoError(t, err)
	assert.Equal(t, "memory", b.Name())

	b, err = OpenBackend(ctx, Options{}, dir, testLog())
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "sqlite", b.Name())
	_, err = os.Stat(filepath.Join(dir, "supportsync.db"))
	assert.NoError(t, err)

	_, err = OpenBackend(ctx, Options{Backend: "etcd"}, dir, testLog())
	assert.Error(t, err)
}

// --- Durability ---

func TestDurability_Focus(t *testing.T) {
	ctx := context.Background()
	d := NewDurability(NewMemory(), "test", 0, testLog())

	_, ok := d.LoadFocus(ctx)
	assert.False(t, ok)

	d.PersistFocus(ctx, "42")
	id, ok := d.LoadFocus(ctx)
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	d.ClearFocus(ctx)
	_, ok = d.LoadFocus(ctx)
	assert.False(t, ok)
}

func TestDurability_Preferences(t *testing.T) {
	ctx := context.Background()
	d := NewDurability(testDB(t), "test", 0, testLog())

	var enabled bool
	assert.False(t, d.LoadPreference(ctx, PrefAutoAssign, &enabled))

	d.PersistPreference(ctx, PrefAutoAssign, true)
	d.PersistPreference(ctx, PrefChatFilter, "mine")

	assert.True(t, d.LoadPreference(ctx, PrefAutoAssign, &enabled))
	assert.True(t, enabled)

	var filter string
	assert.True(t, d.LoadPreference(ctx, PrefChatFilter, &filter))
	assert.Equal(t, "mine", filter)
}

func TestDurability_HistoryCappedAt100(t *testing.T) {
	ctx := context.Background()
	d := NewDurability(testDB(t), "test", 0, testLog())
	assert.Equal(t, DefaultHistoryLimit, d.Limit())

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 150; i++ {
		d.AppendMessage(ctx, domain.Message{
			ID:        fmt.Sprint(i),
			SessionID: "42",
			Body:      fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	msgs := d.LoadMessages(ctx, "42")
	require.Len(t, msgs, 100)
	assert.Equal(t, "m50", msgs[0].Body, "oldest entries are evicted first")
	assert.Equal(t, "m149", msgs[99].Body)
	assert.True(t, msgs[0].CreatedAt.Equal(base.Add(50*time.Second)))
}

func TestDurability_PersistMessagesReplaces(t *testing.T) {
	ctx := context.Background()
	d := NewDurability(NewMemory(), "test", 2, testLog())

	d.AppendMessage(ctx, domain.Message{SessionID: "1", Body: "stale"})
	d.PersistMessages(ctx, "1", []domain.Message{
		{SessionID: "1", Body: "a"},
		{SessionID: "1", Body: "b"},
		{SessionID: "1", Body: "c"},
	})

	msgs := d.LoadMessages(ctx, "1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Body)
	assert.Equal(t, "c", msgs[1].Body)

	d.ClearMessages(ctx, "1")
	assert.Empty(t, d.LoadMessages(ctx, "1"))
}

func TestDurability_ProfilesAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	a := NewDurability(b, "a", 0, testLog())
	c := NewDurability(b, "c", 0, testLog())

	a.PersistFocus(ctx, "1")
	_, ok := c.LoadFocus(ctx)
	assert.False(t, ok)
}

func TestDurability_SkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	d := NewDurability(b, "p", 0, testLog())

	d.AppendMessage(ctx, domain.Message{SessionID: "1", Body: "good"})
	require.NoError(t, b.Append(ctx, d.historyKey("1"), "{not json", 100))
	require.NoError(t, b.Set(ctx, d.focusKey(), "{not json"))

	msgs := d.LoadMessages(ctx, "1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "good", msgs[0].Body)

	_, ok := d.LoadFocus(ctx)
	assert.False(t, ok)
}

// failingBackend returns an error from every operation.
type failingBackend struct{}

var errUnavailable = errors.New("storage unavailable")

func (failingBackend) Name() string { return "failing" }
func (failingBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errUnavailable
}
func (failingBackend) Set(context.Context, string, string) error { return errUnavailable }
func (failingBackend) Delete(context.Context, string) error      { return errUnavailable }
func (failingBackend) Append(context.Context, string, string, int) error {
	return errUnavailable
}
func (failingBackend) Replace(context.Context, string, []string, int) error {
	return errUnavailable
}
func (failingBackend) Range(context.Context, string) ([]string, error) { return nil, errUnavailable }
func (failingBackend) Close() error                                      { return nil }

func TestDurability_FailsSoft(t *testing.T) {
	ctx := context.Background()
	d := NewDurability(failingBackend{}, "p", 0, testLog())

	assert.NotPanics(t, func() {
		d.PersistFocus(ctx, "1")
		d.ClearFocus(ctx)
		d.PersistPreference(ctx, PrefAutoAssign, true)
		d.AppendMessage(ctx, domain.Message{SessionID: "1", Body: "x"})
		d.PersistMessages(ctx, "1", []domain.Message{{SessionID: "1"}})
		d.ClearMessages(ctx, "1")
	})

	_, ok := d.LoadFocus(ctx)
	assert.False(t, ok)
	var v bool
	assert.False(t, d.LoadPreference(ctx, PrefAutoAssign, &v))
	assert.Empty(t, d.LoadMessages(ctx, "1"))
}

// --- Redis (only against a live server) ---

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("SUPPORTSYNC_TEST_REDIS")
	if addr == "" {
		t.Skip("SUPPORTSYNC_TEST_REDIS not set")
	}
	ctx := context.Background()
	r, err := OpenRedis(ctx, RedisOptions{Addr: addr}, testLog())
	require.NoError(t, err)
	defer r.Close()

	key := fmt.Sprintf("supportsync:test:%d", time.Now().UnixNano())
	defer r.Delete(ctx, key)
	defer r.Delete(ctx, key+":list")

	_, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Set(ctx, key, "v"))
	v, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Append(ctx, key+":list", fmt.Sprint(i), 3))
	}
	got, err := r.Range(ctx, key+":list")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, got)
}
