// Package icalsync applies iCalendar components handed over by the external
// sync layer to the event store and drives materialization and exception
// reconciliation. It consumes already-parsed go-ical components; fetching,
// authentication and ICS file handling belong to the sync collaborator.
package icalsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/davidesb007/kashcal/calendar"
	"github.com/davidesb007/kashcal/occurrence"
	"github.com/davidesb007/kashcal/recurrence"
	"github.com/davidesb007/kashcal/store"
)

// DefaultHorizon is how far ahead newly synced recurring events are
// materialized.
const DefaultHorizon = 2 * 365 * 24 * time.Hour

// Outcome reports what applying one component did.
type Outcome struct {
	EventID string
	Created bool
	// Materialized is the number of occurrence rows written, where the
	// change required (re-)materialization.
	Materialized int
	// Deferred is set when an exception or cancellation found no
	// materialized instance yet; the caller retries after extension.
	Deferred bool
}

// Bridge translates sync-layer events into store mutations.
type Bridge struct {
	st      store.Store
	mat     *occurrence.Materializer
	rec     *occurrence.Reconciler
	retry   *RetryTracker
	horizon time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewBridge creates a bridge. A nil tracker disables failure bookkeeping, a
// zero horizon means DefaultHorizon, a nil logger discards.
func NewBridge(st store.Store, mat *occurrence.Materializer, rec *occurrence.Reconciler, retry *RetryTracker, horizon time.Duration, logger *slog.Logger) *Bridge {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bridge{
		st:      st,
		mat:     mat,
		rec:     rec,
		retry:   retry,
		horizon: horizon,
		logger:  logger,
		now:     time.Now,
	}
}

// ApplyCalendar applies every VEVENT of the calendar, masters before
// exceptions so RECURRENCE-ID overrides find their master, collecting a
// per-component outcome. One component's failure does not stop the rest.
func (b *Bridge) ApplyCalendar(ctx context.Context, calendarID string, cal *ical.Calendar) []mo.Result[Outcome] {
	var masters, exceptions []*ical.Component
	for _, child := range cal.Children {
		if child.Name != ical.CompEvent {
			continue
		}
		if child.Props.Get(propRecurrenceID) != nil {
			exceptions = append(exceptions, child)
		} else {
			masters = append(masters, child)
		}
	}

	results := make([]mo.Result[Outcome], 0, len(masters)+len(exceptions))
	for _, comp := range append(masters, exceptions...) {
		outcome, err := b.ApplyEvent(ctx, calendarID, comp)
		if err != nil {
			results = append(results, mo.Err[Outcome](err))
			continue
		}
		results = append(results, mo.Ok(outcome))
	}
	return results
}

// ApplyEvent applies a single VEVENT: a master or standalone upsert, or a
// RECURRENCE-ID exception. Recurrence parse failures leave any existing
// materialization untouched (the event keeps displaying from its stale
// rows) and are recorded against the calendar's retry counter.
func (b *Bridge) ApplyEvent(ctx context.Context, calendarID string, comp *ical.Component) (Outcome, error) {
	uid := propValue(comp, ical.PropUID)
	if uid == "" {
		return Outcome{}, fmt.Errorf("component without UID")
	}

	if comp.Props.Get(propRecurrenceID) != nil {
		return b.applyException(ctx, calendarID, uid, comp)
	}
	outcome, err := b.applyMaster(ctx, calendarID, uid, comp)
	if err != nil {
		var recErr *recurrence.RecurrenceError
		if b.retry != nil && errors.As(err, &recErr) {
			b.retry.RecordFailure(calendarID)
		}
		return Outcome{}, err
	}
	if b.retry != nil {
		b.retry.RecordSuccess(calendarID)
	}
	return outcome, nil
}

func (b *Bridge) applyMaster(ctx context.Context, calendarID, uid string, comp *ical.Component) (Outcome, error) {
	core, err := extractCore(comp)
	if err != nil {
		return Outcome{}, fmt.Errorf("uid %s: %w", uid, err)
	}
	core.UID = uid
	core.CalendarID = calendarID

	var rule *recurrence.Rule
	if text := propValue(comp, ical.PropRecurrenceRule); text != "" {
		parsed, err := recurrence.ParseRule(text)
		if err != nil {
			return Outcome{}, fmt.Errorf("uid %s: %w", uid, err)
		}
		rule = &parsed
	}
	exDates := propTimes(comp, ical.PropExceptionDates)
	rDates := propTimes(comp, ical.PropRecurrenceDates)

	existing, err := b.st.EventByUID(ctx, calendarID, uid)
	switch {
	case err == nil:
		return b.updateMaster(ctx, existing, core, rule, exDates, rDates)
	case isNotFound(err):
		return b.insertMaster(ctx, core, rule, exDates, rDates)
	default:
		return Outcome{}, fmt.Errorf("uid %s: %w", uid, err)
	}
}

func (b *Bridge) insertMaster(ctx context.Context, core calendar.EventCore, rule *recurrence.Rule, exDates, rDates []time.Time) (Outcome, error) {
	core.ID = calendar.NewEventID()
	ev := buildEvent(core, rule, exDates, rDates)
	if err := b.st.InsertEvent(ctx, calendar.EncodeEvent(ev)); err != nil {
		return Outcome{}, fmt.Errorf("insert event %s: %w", core.ID, err)
	}
	n, err := b.mat.Materialize(ctx, ev, b.materializationHorizon(core.Start))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{EventID: core.ID, Created: true, Materialized: n}, nil
}

func (b *Bridge) updateMaster(ctx context.Context, existing store.EventRecord, core calendar.EventCore, rule *recurrence.Rule, exDates, rDates []time.Time) (Outcome, error) {
	// Sequence gate: an update that is not newer than the stored revision
	// is a sync echo, not a change.
	if core.Sequence < existing.Sequence {
		return Outcome{EventID: existing.ID}, nil
	}
	core.ID = existing.ID

	ev := buildEvent(core, rule, exDates, rDates)
	if err := b.st.UpdateEvent(ctx, calendar.EncodeEvent(ev)); err != nil {
		return Outcome{}, fmt.Errorf("update event %s: %w", core.ID, err)
	}

	// A recurrence, start or timezone change can shift every future
	// instance: the whole occurrence set is replaced. Anything else only
	// needs the EXDATE delta reconciled against the existing rows.
	if materializationChanged(existing, ev) {
		n, err := b.mat.Materialize(ctx, ev, b.materializationHorizon(core.Start))
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{EventID: core.ID, Materialized: n}, nil
	}

	deferred, err := b.reconcileExDates(ctx, core.ID, existing.ExDates, exDates)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{EventID: core.ID, Deferred: deferred}, nil
}

func (b *Bridge) applyException(ctx context.Context, calendarID, uid string, comp *ical.Component) (Outcome, error) {
	master, err := b.st.EventByUID(ctx, calendarID, uid)
	if err != nil {
		return Outcome{}, fmt.Errorf("exception for unknown uid %s: %w", uid, err)
	}

	core, err := extractCore(comp)
	if err != nil {
		return Outcome{}, fmt.Errorf("uid %s exception: %w", uid, err)
	}
	core.UID = uid
	core.CalendarID = calendarID

	origProp := comp.Props.Get(propRecurrenceID)
	origStart, err := parseICalTime(origProp.Value, origProp.Params)
	if err != nil {
		return Outcome{}, fmt.Errorf("uid %s exception: bad RECURRENCE-ID: %w", uid, err)
	}

	exc, created, err := b.upsertException(ctx, master.ID, core, origStart)
	if err != nil {
		return Outcome{}, err
	}

	linked, err := b.rec.LinkException(ctx, exc)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{EventID: exc.ID, Created: created, Deferred: !linked}, nil
}

// upsertException finds an existing exception event for the same instance
// (same master, original time within tolerance) and updates it, or creates
// a new one.
func (b *Bridge) upsertException(ctx context.Context, masterID string, core calendar.EventCore, origStart time.Time) (calendar.Exception, bool, error) {
	existing, err := b.st.ExceptionsForEvent(ctx, masterID)
	if err != nil {
		return calendar.Exception{}, false, fmt.Errorf("load exceptions: %w", err)
	}
	for _, rec := range existing {
		if rec.OriginalStart != nil &&
			recurrence.MatchesWithin(*rec.OriginalStart, origStart, occurrence.DefaultMatchTolerance) {
			core.ID = rec.ID
			exc := calendar.Exception{EventCore: core, OriginalEventID: masterID, OriginalStart: *rec.OriginalStart}
			if err := b.st.UpdateEvent(ctx, calendar.EncodeEvent(exc)); err != nil {
				return calendar.Exception{}, false, fmt.Errorf("update exception %s: %w", rec.ID, err)
			}
			return exc, false, nil
		}
	}

	core.ID = calendar.NewEventID()
	exc := calendar.Exception{EventCore: core, OriginalEventID: masterID, OriginalStart: origStart}
	if err := b.st.InsertEvent(ctx, calendar.EncodeEvent(exc)); err != nil {
		return calendar.Exception{}, false, fmt.Errorf("insert exception %s: %w", core.ID, err)
	}
	return exc, true, nil
}

// RemoveException deletes an exception event and restores the occurrence it
// overrode to its master-derived state.
func (b *Bridge) RemoveException(ctx context.Context, exceptionID string) error {
	rec, err := b.st.GetEvent(ctx, exceptionID)
	if err != nil {
		return fmt.Errorf("remove exception %s: %w", exceptionID, err)
	}
	ev, err := calendar.DecodeEvent(rec)
	if err != nil {
		return fmt.Errorf("remove exception %s: %w", exceptionID, err)
	}
	exc, ok := ev.(calendar.Exception)
	if !ok {
		return fmt.Errorf("remove exception %s: event is %s", exceptionID, ev.Kind())
	}
	if _, err := b.rec.UnlinkException(ctx, exc); err != nil {
		return err
	}
	if err := b.st.DeleteEvent(ctx, exceptionID); err != nil {
		return fmt.Errorf("remove exception %s: %w", exceptionID, err)
	}
	return nil
}

// reconcileExDates cancels instances for newly added EXDATEs and uncancels
// instances whose EXDATE went away. Reports whether any change was deferred
// for lack of a materialized instance.
func (b *Bridge) reconcileExDates(ctx context.Context, eventID string, old, new []time.Time) (bool, error) {
	deferred := false
	for _, added := range timeSetDiff(new, old) {
		ok, err := b.rec.CancelInstance(ctx, eventID, added)
		if err != nil {
			return false, err
		}
		if !ok {
			deferred = true
		}
	}
	for _, removed := range timeSetDiff(old, new) {
		ok, err := b.rec.UncancelInstance(ctx, eventID, removed)
		if err != nil {
			return false, err
		}
		if !ok {
			deferred = true
		}
	}
	return deferred, nil
}

func (b *Bridge) materializationHorizon(start time.Time) recurrence.Horizon {
	end := b.now().Add(b.horizon)
	return recurrence.Horizon{Start: start, End: end}
}

func buildEvent(core calendar.EventCore, rule *recurrence.Rule, exDates, rDates []time.Time) calendar.Event {
	if rule == nil {
		return calendar.Standalone{EventCore: core}
	}
	return calendar.Master{EventCore: core, Rule: *rule, ExDates: exDates, RDates: rDates}
}

func materializationChanged(old store.EventRecord, ev calendar.Event) bool {
	rec := calendar.EncodeEvent(ev)
	oldRule, newRule := "", ""
	if old.RRule != nil {
		oldRule = *old.RRule
	}
	if rec.RRule != nil {
		newRule = *rec.RRule
	}
	return oldRule != newRule ||
		!old.Start.Equal(rec.Start) || !old.End.Equal(rec.End) ||
		old.Timezone != rec.Timezone || old.AllDay != rec.AllDay ||
		!timeSetEqual(old.RDates, rec.RDates)
}

// timeSetDiff returns the elements of a with no tolerance-match in b.
func timeSetDiff(a, b []time.Time) []time.Time {
	var out []time.Time
	for _, t := range a {
		matched := false
		for _, u := range b {
			if recurrence.MatchesWithin(t, u, occurrence.DefaultMatchTolerance) {
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, t)
		}
	}
	return out
}

func timeSetEqual(a, b []time.Time) bool {
	return len(a) == len(b) && len(timeSetDiff(a, b)) == 0
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
