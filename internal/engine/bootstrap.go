package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/supportsync/internal/domain"
	"github.com/soyeahso/supportsync/internal/present"
	"github.com/soyeahso/supportsync/internal/replica"
	"github.com/soyeahso/supportsync/internal/store"
)

// Bootstrap loads the initial replica and restores persisted state. API
// failures are reported as notices; bootstrap carries on with whatever
// loaded. Run must already be processing work.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if e.cfg.widget() {
		return e.bootstrapWidget(ctx)
	}
	if err := e.out.Subscribe(e.cfg.StaffRoom); err != nil {
		e.log.Debug().Err(err).Str("room", e.cfg.StaffRoom).Msg("staff room join deferred")
	}

	var (
		g         errgroup.Group // no shared context: one failed load must not cancel the others
		sessions  []*domain.Session
		agents    []domain.Agent
		canned    []domain.CannedResponse
		analytics domain.Analytics
		errs      [4]error
	)
	g.Go(func() error { sessions, errs[0] = e.api.ListSessions(ctx); return nil })
	g.Go(func() error { agents, errs[1] = e.api.ListAgents(ctx); return nil })
	g.Go(func() error { canned, errs[2] = e.api.CannedResponses(ctx); return nil })
	g.Go(func() error { analytics, errs[3] = e.api.AnalyticsToday(ctx); return nil })
	_ = g.Wait()

	var refocus string
	if err := e.do(ctx, func(ctx context.Context) present.Dirty {
		e.restorePreferences(ctx)

		what := [4]string{"sessions", "agents", "canned responses", "analytics"}
		for i, err := range errs {
			if err != nil {
				e.log.Error().Err(err).Str("what", what[i]).Msg("bootstrap load failed")
				e.notify(ctx, "Error", "Failed to load "+what[i])
			}
		}
		if errs[0] == nil {
			// live events may have landed while the list was in flight
			e.replica.MergeSessions(sessions)
			for _, s := range sessions {
				e.subscribe(s.ID, s.CustomerName)
			}
		}
		if errs[1] == nil {
			e.replica.ReplaceAgents(agents)
		}
		if errs[2] == nil {
			e.replica.SetCannedResponses(canned)
		}
		if errs[3] == nil {
			e.replica.SetAnalytics(analytics)
		}

		for _, id := range e.replica.IDs() {
			e.seedHistory(ctx, id)
		}

		if saved, ok := e.durable.LoadFocus(ctx); ok {
			s, known := e.replica.Session(saved)
			switch {
			case !known:
				e.durable.ClearFocus(ctx)
			case s.Status == domain.StatusClosed:
				// show the closed placeholder but do not restore next time
				e.replica.SetFocus(saved)
				e.durable.ClearFocus(ctx)
			default:
				refocus = saved
			}
		}
		e.log.Info().
			Int("sessions", e.replica.Len()).
			Int("agents", len(e.replica.Agents())).
			Str("focus", refocus).
			Msg("bootstrap complete")
		return everything
	}); err != nil {
		return err
	}

	if refocus == "" {
		return nil
	}
	if err := e.Focus(ctx, refocus); err != nil && ctx.Err() == nil {
		e.log.Warn().Err(err).Str("session", refocus).Msg("restoring focus")
	}
	return ctx.Err()
}

func (e *Engine) restorePreferences(ctx context.Context) {
	var (
		filter     string
		autoAssign bool
		widgetOpen bool
	)
	e.durable.LoadPreference(ctx, store.PrefChatFilter, &filter)
	e.durable.LoadPreference(ctx, store.PrefAutoAssign, &autoAssign)
	e.durable.LoadPreference(ctx, store.PrefWidgetOpen, &widgetOpen)

	e.prefMu.Lock()
	e.filter = replica.ParseFilter(filter)
	e.autoAssign = autoAssign
	e.widgetOpen = widgetOpen
	e.prefMu.Unlock()
}

// seedHistory loads persisted messages into the replica and identity index
// so replayed server echoes are recognised.
func (e *Engine) seedHistory(ctx context.Context, id string) {
	msgs := e.durable.LoadMessages(ctx, id)
	if len(msgs) == 0 {
		return
	}
	for i := range msgs {
		e.index.Apply(&msgs[i])
	}
	if len(e.replica.Messages(id)) == 0 {
		e.replica.SetMessages(id, msgs)
	}
}

// bootstrapWidget restores the customer's saved session, if any, and
// refreshes its history from the server.
func (e *Engine) bootstrapWidget(ctx context.Context) error {
	var saved string
	if err := e.do(ctx, func(ctx context.Context) present.Dirty {
		e.restorePreferences(ctx)
		id, ok := e.durable.LoadFocus(ctx)
		if !ok {
			return present.Of(present.FocusedSession)
		}
		saved = id
		now := e.clock.Now()
		e.replica.Insert(&domain.Session{
			ID:           id,
			CustomerName: domain.DefaultSenderName,
			Status:       domain.StatusWaiting,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		e.replica.SetFocus(id)
		e.seedHistory(ctx, id)
		e.subscribe(id, domain.DefaultSenderName)
		return everything
	}); err != nil {
		return err
	}
	if saved == "" {
		return nil
	}

	msgs, err := e.api.SessionMessages(ctx, saved)
	if err != nil {
		e.log.Warn().Err(err).Str("session", saved).Msg("refreshing history, keeping local copy")
		return nil
	}
	return e.do(ctx, func(ctx context.Context) present.Dirty {
		if !e.replica.IsFocused(saved) {
			return present.Nothing
		}
		e.reseed(ctx, saved, msgs)
		return present.Of(present.FocusedSession)
	})
}
