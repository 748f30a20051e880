// Package present routes dirty-region signals from the engine to renderers.
// Only regions marked dirty by an event are redrawn.
package present

import (
	"context"
	"strings"
	"sync"

	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/logging"
)

// Region is one independently redrawable part of the UI.
type Region uint8

// Regions.
const (
	SessionsList Region = 1 << iota
	FocusedSession
	AgentsList
	Counts
)

// AllRegions lists every region in redraw order.
var AllRegions = []Region{SessionsList, FocusedSession, AgentsList, Counts}

func (r Region) String() string {
	switch r {
	case SessionsList:
		return "sessions-list"
	case FocusedSession:
		return "focused-session"
	case AgentsList:
		return "agents-list"
	case Counts:
		return "counts"
	default:
		return "unknown"
	}
}

// Dirty is a set of regions needing a redraw. The zero value is clean.
type Dirty uint8

// Nothing is the clean set.
const Nothing Dirty = 0

// Of builds a dirty set from regions.
func Of(regions ...Region) Dirty {
	var d Dirty
	for _, r := range regions {
		d |= Dirty(r)
	}
	return d
}

// Has reports whether r is in the set.
func (d Dirty) Has(r Region) bool { return d&Dirty(r) != 0 }

// With returns the union of d and o.
func (d Dirty) With(o Dirty) Dirty { return d | o }

// Empty reports whether nothing is dirty.
func (d Dirty) Empty() bool { return d == 0 }

// Regions lists the members of the set in redraw order.
func (d Dirty) Regions() []Region {
	var out []Region
	for _, r := range AllRegions {
		if d.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (d Dirty) String() string {
	if d.Empty() {
		return "none"
	}
	regions := d.Regions()
	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.String()
	}
	return strings.Join(names, ",")
}

// Renderer redraws one region. Returning an error logs the failure but does
// not stop other renderers.
type Renderer func(ctx context.Context, r Region) error

// NoticeHandler shows a transient user-facing notice.
type NoticeHandler func(ctx context.Context, n domain.Notice)

type namedRenderer struct {
	name   string
	render Renderer
}

type namedNotice struct {
	name   string
	handle NoticeHandler
}

// Trigger holds renderer registrations per region and dispatches flushes.
type Trigger struct {
	mu        sync.RWMutex
	renderers map[Region][]namedRenderer
	notices   []namedNotice
	log       *logging.Logger
}

// NewTrigger creates an empty trigger.
func NewTrigger(log *logging.Logger) *Trigger {
	return &Trigger{
		renderers: make(map[Region][]namedRenderer),
		log:       log.Sub("present"),
	}
}

// On registers a renderer for a region. The name identifies it for Off and
// in logs.
func (t *Trigger) On(r Region, name string, render Renderer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderers[r] = append(t.renderers[r], namedRenderer{name: name, render: render})
	t.log.Debug().Stringer("region", r).Str("renderer", name).Msg("renderer registered")
}

// OnAll registers the same renderer for every region.
func (t *Trigger) OnAll(name string, render Renderer) {
	for _, r := range AllRegions {
		t.On(r, name, render)
	}
}

// Off removes all renderers with the given name from the region.
func (t *Trigger) Off(r Region, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.renderers[r]
	filtered := make([]namedRenderer, 0, len(current))
	for _, h := range current {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	t.renderers[r] = filtered
}

// OnNotice registers a notice handler.
func (t *Trigger) OnNotice(name string, handle NoticeHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notices = append(t.notices, namedNotice{name: name, handle: handle})
}

// Flush redraws exactly the regions in d, in redraw order. Renderers for
// clean regions are not called.
func (t *Trigger) Flush(ctx context.Context, d Dirty) {
	if d.Empty() {
		return
	}
	for _, r := range d.Regions() {
		t.mu.RLock()
		handlers := make([]namedRenderer, len(t.renderers[r]))
		copy(handlers, t.renderers[r])
		t.mu.RUnlock()

		for _, h := range handlers {
			if err := h.render(ctx, r); err != nil {
				t.log.Warn().
					Err(err).
					Stringer("region", r).
					Str("renderer", h.name).
					Msg("render failed")
			}
		}
	}
}

// Notify delivers a notice to every notice handler.
func (t *Trigger) Notify(ctx context.Context, n domain.Notice) {
	t.mu.RLock()
	handlers := make([]namedNotice, len(t.notices))
	copy(handlers, t.notices)
	t.mu.RUnlock()

	t.log.Debug().Str("title", n.Title).Msg("notice")
	for _, h := range handlers {
		h.handle(ctx, n)
	}
}

// Count returns the number of renderers registered for a region.
func (t *Trigger) Count(r Region) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.renderers[r])
}
