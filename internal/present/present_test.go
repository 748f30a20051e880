package present

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/logging"
)

func testTrigger() *Trigger {
	return NewTrigger(logging.New(nil, "silent"))
}

func TestDirty_Set(t *testing.T) {
	d := Of(SessionsList, Counts)
	assert.True(t, d.Has(SessionsList))
	assert.True(t, d.Has(Counts))
	assert.False(t, d.Has(FocusedSession))
	assert.False(t, d.Has(AgentsList))
	assert.Equal(t, []Region{SessionsList, Counts}, d.Regions())
	assert.Equal(t, "sessions-list,counts", d.String())

	d = d.With(Of(FocusedSession))
	assert.True(t, d.Has(FocusedSession))

	assert.True(t, Nothing.Empty())
	assert.Equal(t, "none", Nothing.String())
	assert.Nil(t, Nothing.Regions())
}

func TestFlush_OnlyDirtyRegions(t *testing.T) {
	tr := testTrigger()

	var drawn []Region
	tr.OnAll("rec", func(_ context.Context, r Region) error {
		drawn = append(drawn, r)
		return nil
	})

	tr.Flush(context.Background(), Of(FocusedSession))
	assert.Equal(t, []Region{FocusedSession}, drawn)

	drawn = nil
	tr.Flush(context.Background(), Nothing)
	assert.Empty(t, drawn)

	drawn = nil
	tr.Flush(context.Background(), Of(Counts, SessionsList))
	assert.Equal(t, []Region{SessionsList, Counts}, drawn, "regions are drawn in fixed order")
}

func TestFlush_ErrorDoesNotStopOthers(t *testing.T) {
	tr := testTrigger()

	var second bool
	tr.On(SessionsList, "broken", func(context.Context, Region) error {
		return errors.New("boom")
	})
	tr.On(SessionsList, "ok", func(context.Context, Region) error {
		second = true
		return nil
	})

	tr.Flush(context.Background(), Of(SessionsList))
	assert.True(t, second)
}

func TestOff(t *testing.T) {
	tr := testTrigger()
	tr.On(Counts, "a", func(context.Context, Region) error { return nil })
	tr.On(Counts, "b", func(context.Context, Region) error { return nil })
	require.Equal(t, 2, tr.Count(Counts))

	tr.Off(Counts, "a")
	assert.Equal(t, 1, tr.Count(Counts))
	tr.Off(Counts, "missing")
	assert.Equal(t, 1, tr.Count(Counts))
}

func TestNotify(t *testing.T) {
	tr := testTrigger()
	var got []domain.Notice
	tr.OnNotice("rec", func(_ context.Context, n domain.Notice) {
		got = append(got, n)
	})

	tr.Notify(context.Background(), domain.Notice{Title: "Session Reopened", Message: "Customer is back"})
	require.Len(t, got, 1)
	assert.Equal(t, "Session Reopened", got[0].Title)
}

func TestRegionString(t *testing.T) {
	assert.Equal(t, "agents-list", AgentsList.String())
	assert.Equal(t, "unknown", Region(0).String())
}
