// Package occurrence owns the lifecycle of materialized occurrence rows:
// creating them from expanded recurrence rules, reconciling exception events
// and cancellations against them, and extending the materialized horizon on
// demand.
package occurrence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/samber/mo"

	"github.com/davidesb007/kashcal/calendar"
	"github.com/davidesb007/kashcal/recurrence"
	"github.com/davidesb007/kashcal/store"
)

var (
	// ErrMaterializationConflict wraps an insertion failure for one event's
	// occurrence batch. The event rolls back to its prior state; other
	// events are unaffected.
	ErrMaterializationConflict = errors.New("materialization conflict")
	// ErrNotMaterializable is returned when asked to materialize an
	// exception event; exceptions rewrite existing rows instead.
	ErrNotMaterializable = errors.New("event kind is not materializable")
)

// DefaultMatchTolerance is the absolute-difference window for matching an
// exception's or exclusion's recorded instance time against a
// rule-generated instant. Upstream timezone/DST rounding means the two are
// rarely bit-for-bit equal.
const DefaultMatchTolerance = time.Minute

// Materializer turns expanded instance times into persisted occurrence rows
// and owns their replacement lifecycle. It mutates only the occurrence
// table, never the event store.
type Materializer struct {
	st       store.Store
	expander *recurrence.Expander
	tol      time.Duration
	logger   *slog.Logger
}

// NewMaterializer creates a materializer. A zero tolerance means
// DefaultMatchTolerance; a nil logger discards.
func NewMaterializer(st store.Store, expander *recurrence.Expander, tol time.Duration, logger *slog.Logger) *Materializer {
	if tol <= 0 {
		tol = DefaultMatchTolerance
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Materializer{st: st, expander: expander, tol: tol, logger: logger}
}

// Materialize fully replaces the event's occurrence set with instances
// expanded over the horizon, returning the number of rows written. Full
// replacement (not patching) is deliberate: a recurrence change can shift
// every future instance. On a recurrence failure the existing rows are left
// untouched so the event keeps displaying from its stale set.
func (m *Materializer) Materialize(ctx context.Context, ev calendar.Event, hz recurrence.Horizon) (int, error) {
	return m.materialize(ctx, ev, time.Time{}, hz)
}

// MaterializeFrom replaces only the rows with start >= cutoff, for "this and
// all future" edits and for horizon extension. Rows before the cutoff
// survive unchanged.
func (m *Materializer) MaterializeFrom(ctx context.Context, ev calendar.Event, cutoff time.Time, hz recurrence.Horizon) (int, error) {
	return m.materialize(ctx, ev, cutoff, hz)
}

func (m *Materializer) materialize(ctx context.Context, ev calendar.Event, cutoff time.Time, hz recurrence.Horizon) (int, error) {
	core := ev.Core()

	var rows []store.OccurrenceRecord
	switch e := ev.(type) {
	case calendar.Standalone:
		if !cutoff.IsZero() && core.Start.Before(cutoff) {
			break
		}
		rows = append(rows, buildRow(core, core.Start, core.End))

	case calendar.Master:
		exp, err := m.expander.Expand(core.Start, e.Rule, core.Zone(), hz, recurrence.Options{
			ApplyExclusions: false,
			RDates:          e.RDates,
		})
		if err != nil {
			// Keep whatever is already materialized; the caller retries.
			return 0, fmt.Errorf("expand event %s: %w", core.ID, err)
		}
		duration := core.Duration()
		for _, start := range exp.Times {
			if !cutoff.IsZero() && start.Before(cutoff) {
				continue
			}
			rows = append(rows, buildRow(core, start, start.Add(duration)))
		}
		m.applyExclusions(rows, e.ExDates)
		rows, err = m.applyExceptions(ctx, core.ID, cutoff, rows)
		if err != nil {
			return 0, err
		}

	case calendar.Exception:
		return 0, fmt.Errorf("event %s: %w", core.ID, ErrNotMaterializable)

	default:
		return 0, fmt.Errorf("event %s: %w", core.ID, ErrNotMaterializable)
	}

	if err := m.st.ReplaceOccurrences(ctx, core.ID, cutoff, rows); err != nil {
		return 0, fmt.Errorf("event %s: %w: %w", core.ID, ErrMaterializationConflict, err)
	}
	m.logger.Debug("materialized occurrences",
		"event", core.ID, "rows", len(rows), "from", cutoff)
	return len(rows), nil
}

// Outcome is the per-event result of a batch materialization.
type Outcome struct {
	EventID string
	Count   int
}

// MaterializeAll materializes each event independently, continuing past
// per-event failures and collecting one result per event. Used by forced
// full re-sync.
func (m *Materializer) MaterializeAll(ctx context.Context, events []calendar.Event, hz recurrence.Horizon) []mo.Result[Outcome] {
	results := make([]mo.Result[Outcome], 0, len(events))
	for _, ev := range events {
		n, err := m.Materialize(ctx, ev, hz)
		if err != nil {
			m.logger.Warn("materialization failed",
				"event", ev.Core().ID, "error", err)
			results = append(results, mo.Err[Outcome](err))
			continue
		}
		results = append(results, mo.Ok(Outcome{EventID: ev.Core().ID, Count: n}))
	}
	return results
}

// applyExclusions marks rows matching an EXDATE as cancelled. The rows stay
// materialized so removing the EXDATE later needs no re-expansion.
func (m *Materializer) applyExclusions(rows []store.OccurrenceRecord, exDates []time.Time) {
	for i := range rows {
		for _, ex := range exDates {
			if recurrence.MatchesWithin(rows[i].Start, ex, m.tol) {
				rows[i].Cancelled = true
				break
			}
		}
	}
}

// applyExceptions re-links surviving exception events to the freshly built
// rows. Replacing occurrences does not delete exception event records, so a
// re-materialization must restore the connection or the edits are lost.
//
// On a tail replace, an exception that moved its instance below the cutoff
// still has its linked row in place; the rule slot it replaced re-expands at
// or after the cutoff and must be dropped, not rewritten, or the insert
// collides with the surviving row.
func (m *Materializer) applyExceptions(ctx context.Context, masterID string, cutoff time.Time, rows []store.OccurrenceRecord) ([]store.OccurrenceRecord, error) {
	excRecs, err := m.st.ExceptionsForEvent(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("load exceptions for %s: %w", masterID, err)
	}
	if len(excRecs) == 0 {
		return rows, nil
	}
	linked, err := m.linkedBeforeCutoff(ctx, masterID, cutoff)
	if err != nil {
		return nil, err
	}
	for _, rec := range excRecs {
		ev, err := calendar.DecodeEvent(rec)
		if err != nil {
			m.logger.Warn("skipping undecodable exception", "event", rec.ID, "error", err)
			continue
		}
		exc, ok := ev.(calendar.Exception)
		if !ok {
			continue
		}
		for i := range rows {
			if !recurrence.MatchesWithin(rows[i].Start, exc.OriginalStart, m.tol) {
				continue
			}
			if linked[exc.ID] {
				rows = append(rows[:i], rows[i+1:]...)
			} else {
				overrideRow(&rows[i], exc)
			}
			break
		}
	}
	return rows, nil
}

// linkedBeforeCutoff reports which exception events already own a row that
// survives a tail replace (start before cutoff). Empty on a full replace,
// which deletes every row.
func (m *Materializer) linkedBeforeCutoff(ctx context.Context, masterID string, cutoff time.Time) (map[string]bool, error) {
	if cutoff.IsZero() {
		return nil, nil
	}
	existing, err := m.st.OccurrencesForEvent(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("load occurrences for %s: %w", masterID, err)
	}
	linked := make(map[string]bool)
	for _, row := range existing {
		if row.ExceptionEventID != nil && row.Start.Before(cutoff) {
			linked[*row.ExceptionEventID] = true
		}
	}
	return linked, nil
}

// overrideRow rewrites a row with the exception event's own data. A linked
// row is never cancelled: the exception supersedes any prior EXDATE.
func overrideRow(row *store.OccurrenceRecord, exc calendar.Exception) {
	id := exc.ID
	row.ExceptionEventID = &id
	row.Start = exc.Start
	row.End = exc.End
	row.StartDay, row.EndDay = daySpan(exc.EventCore, exc.Start, exc.End)
	row.Cancelled = false
}

func buildRow(core calendar.EventCore, start, end time.Time) store.OccurrenceRecord {
	startDay, endDay := daySpan(core, start, end)
	return store.OccurrenceRecord{
		EventID:    core.ID,
		CalendarID: core.CalendarID,
		Start:      start,
		End:        end,
		StartDay:   startDay,
		EndDay:     endDay,
	}
}

// daySpan computes the YYYYMMDD day codes for an instance. The end instant
// is exclusive: an all-day event ending at midnight belongs to the prior
// day.
func daySpan(core calendar.EventCore, start, end time.Time) (int, int) {
	loc := core.Zone()
	startDay := calendar.DayCodeOf(start, core.AllDay, loc)
	endRef := end
	if end.After(start) {
		endRef = end.Add(-time.Millisecond)
	}
	endDay := calendar.DayCodeOf(endRef, core.AllDay, loc)
	if endDay < startDay {
		endDay = startDay
	}
	return int(startDay), int(endDay)
}
