// Package query answers range and day queries over materialized
// occurrences, joined with event and calendar data.
package query

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/davidesb007/kashcal/calendar"
	"github.com/davidesb007/kashcal/store"
)

// Instance is one occurrence joined with the event whose data should be
// displayed for it (the exception event when one is linked) and the
// calendar it belongs to.
type Instance struct {
	Occurrence calendar.Occurrence
	Event      calendar.Event
	Calendar   calendar.Calendar
}

// Options controls a query.
type Options struct {
	// IncludeCancelled keeps EXDATE-cancelled occurrences in the result.
	IncludeCancelled bool
	// AllCalendars disables the visible-calendar filter.
	AllCalendars bool
}

// Engine serves range and day queries. It is read-only with respect to the
// occurrence table.
type Engine struct {
	st     store.Store
	logger *slog.Logger
}

// NewEngine creates a query engine. A nil logger discards.
func NewEngine(st store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{st: st, logger: logger}
}

// InRange returns the instances overlapping [start, end), ordered by start
// ascending.
func (e *Engine) InRange(ctx context.Context, start, end time.Time, opts Options) ([]Instance, error) {
	rows, err := e.st.OccurrencesInRange(ctx, start, end, opts.IncludeCancelled)
	if err != nil {
		return nil, fmt.Errorf("query range: %w", err)
	}
	return e.join(ctx, rows, opts)
}

// OnDay returns the instances whose day span covers the given calendar day,
// ordered by start ascending.
func (e *Engine) OnDay(ctx context.Context, day calendar.DayCode, opts Options) ([]Instance, error) {
	rows, err := e.st.OccurrencesOnDay(ctx, int(day), opts.IncludeCancelled)
	if err != nil {
		return nil, fmt.Errorf("query day %d: %w", day, err)
	}
	return e.join(ctx, rows, opts)
}

// OccurrencesForEventInWindow lists the event's upcoming occurrences inside
// [from, from+windowDays), for the reminder-scheduling collaborator.
func (e *Engine) OccurrencesForEventInWindow(ctx context.Context, eventID string, from time.Time, windowDays int) ([]calendar.Occurrence, error) {
	rows, err := e.st.OccurrencesForEventInWindow(ctx, eventID, from, windowDays)
	if err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}
	occs := make([]calendar.Occurrence, len(rows))
	for i, row := range rows {
		occs[i] = calendar.DecodeOccurrence(row)
	}
	return occs, nil
}

// join batch-loads the referenced events and calendars, one lookup per
// table for the whole result rather than one per row, and applies the
// visibility post-filter.
func (e *Engine) join(ctx context.Context, rows []store.OccurrenceRecord, opts Options) ([]Instance, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	eventIDs := make([]string, 0, len(rows))
	calendarIDs := make([]string, 0, len(rows))
	seenEvent := make(map[string]bool)
	seenCalendar := make(map[string]bool)
	for _, row := range rows {
		occ := calendar.DecodeOccurrence(row)
		for _, id := range []string{occ.EventID, occ.DisplayEventID()} {
			if !seenEvent[id] {
				seenEvent[id] = true
				eventIDs = append(eventIDs, id)
			}
		}
		if !seenCalendar[occ.CalendarID] {
			seenCalendar[occ.CalendarID] = true
			calendarIDs = append(calendarIDs, occ.CalendarID)
		}
	}

	events, err := e.st.EventsByIDs(ctx, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("join events: %w", err)
	}
	calendars, err := e.st.CalendarsByIDs(ctx, calendarIDs)
	if err != nil {
		return nil, fmt.Errorf("join calendars: %w", err)
	}

	var visible map[string]bool
	if !opts.AllCalendars {
		visible, err = e.st.VisibleCalendarIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("load visible calendars: %w", err)
		}
	}

	out := make([]Instance, 0, len(rows))
	for _, row := range rows {
		occ := calendar.DecodeOccurrence(row)
		if visible != nil && !visible[occ.CalendarID] {
			continue
		}
		rec, ok := events[occ.DisplayEventID()]
		if !ok {
			// A dangling row; the owning event vanished mid-query.
			e.logger.Warn("occurrence without event, skipping",
				"occurrence", occ.ID, "event", occ.DisplayEventID())
			continue
		}
		ev, err := calendar.DecodeEvent(rec)
		if err != nil {
			e.logger.Warn("undecodable event in query result, skipping",
				"event", rec.ID, "error", err)
			continue
		}
		calRec, ok := calendars[occ.CalendarID]
		if !ok {
			continue
		}
		out = append(out, Instance{
			Occurrence: occ,
			Event:      ev,
			Calendar:   calendar.DecodeCalendar(calRec),
		})
	}
	return out, nil
}

// ByDay expands the instances into one logical membership per calendar day
// they span, startDay through endDay inclusive, crossing month and year
// boundaries.
func ByDay(instances []Instance) map[calendar.DayCode][]Instance {
	out := make(map[calendar.DayCode][]Instance)
	for _, inst := range instances {
		for day := inst.Occurrence.StartDay; ; day = day.Next() {
			out[day] = append(out[day], inst)
			if day >= inst.Occurrence.EndDay {
				break
			}
		}
	}
	return out
}
