package occurrence

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/samber/mo"

	"github.com/davidesb007/kashcal/calendar"
	"github.com/davidesb007/kashcal/recurrence"
	"github.com/davidesb007/kashcal/store"
)

// DefaultLookahead is how far past the requested target the scheduler
// extends, so that ordinary forward navigation does not trigger an
// extension on every step.
const DefaultLookahead = 90 * 24 * time.Hour

// Scheduler detects recurring events whose materialized horizon falls short
// of a navigation target and extends just those events. Lazy extension
// keeps storage bounded for rules that never end.
type Scheduler struct {
	st        store.Store
	mat       *Materializer
	lookahead time.Duration
	logger    *slog.Logger
}

// NewScheduler creates a scheduler. A zero lookahead means
// DefaultLookahead; a nil logger discards.
func NewScheduler(st store.Store, mat *Materializer, lookahead time.Duration, logger *slog.Logger) *Scheduler {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{st: st, mat: mat, lookahead: lookahead, logger: logger}
}

// EventsNeedingExtension lists recurring master events whose most recent
// materialized instance starts before target.
func (s *Scheduler) EventsNeedingExtension(ctx context.Context, target time.Time) ([]string, error) {
	return s.st.EventsMaterializedBefore(ctx, target)
}

// ExtendTo extends (not replaces) the materialized horizon of every event
// falling short of target, collecting a per-event outcome. Already-covered
// events are untouched.
func (s *Scheduler) ExtendTo(ctx context.Context, target time.Time) []mo.Result[Outcome] {
	ids, err := s.EventsNeedingExtension(ctx, target)
	if err != nil {
		return []mo.Result[Outcome]{mo.Err[Outcome](fmt.Errorf("find events needing extension: %w", err))}
	}

	results := make([]mo.Result[Outcome], 0, len(ids))
	for _, id := range ids {
		outcome, err := s.extendEvent(ctx, id, target)
		if err != nil {
			s.logger.Warn("horizon extension failed", "event", id, "error", err)
			results = append(results, mo.Err[Outcome](err))
			continue
		}
		results = append(results, mo.Ok(outcome))
	}
	return results
}

func (s *Scheduler) extendEvent(ctx context.Context, id string, target time.Time) (Outcome, error) {
	rec, err := s.st.GetEvent(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("event %s: %w", id, err)
	}
	ev, err := calendar.DecodeEvent(rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("event %s: %w", id, err)
	}

	latest, err := s.st.LatestOccurrenceStart(ctx, id)
	if err != nil {
		return Outcome{}, fmt.Errorf("event %s: %w", id, err)
	}

	// Resume just past the last materialized instance so it is not
	// duplicated or replaced.
	cutoff := latest.Add(time.Millisecond)
	hz := recurrence.Horizon{Start: cutoff, End: target.Add(s.lookahead)}
	n, err := s.mat.MaterializeFrom(ctx, ev, cutoff, hz)
	if err != nil {
		return Outcome{}, err
	}
	s.logger.Debug("extended horizon", "event", id, "rows", n, "until", hz.End)
	return Outcome{EventID: id, Count: n}, nil
}
