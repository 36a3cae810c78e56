package icalsync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidesb007/kashcal/calendar"
	"github.com/davidesb007/kashcal/occurrence"
	"github.com/davidesb007/kashcal/recurrence"
	"github.com/davidesb007/kashcal/store"
	"github.com/davidesb007/kashcal/store/sqlite"
)

type bridgeFixture struct {
	st     *sqlite.Store
	rec    *occurrence.Reconciler
	bridge *Bridge
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	st, err := sqlite.Open(filepath.Join(t.TempDir(), "kashcal.db"), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	exp := recurrence.NewExpander(recurrence.ExpanderConfig{MaxInstances: 500}, nil)
	t.Cleanup(exp.Close)

	require.NoError(t, st.UpsertCalendar(context.Background(), store.CalendarRecord{
		ID: "cal-1", Name: "Synced", Visible: true,
	}))

	mat := occurrence.NewMaterializer(st, exp, 0, nil)
	rec := occurrence.NewReconciler(st, 0, nil)
	b := NewBridge(st, mat, rec, nil, 90*24*time.Hour, nil)
	// Pin the clock so the materialization horizon is stable.
	b.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	return &bridgeFixture{st: st, rec: rec, bridge: b}
}

func newVEvent(uid string) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)
	comp.Props.SetText(ical.PropUID, uid)
	return comp
}

func setProp(comp *ical.Component, name, value string, params ical.Params) {
	if params == nil {
		params = make(ical.Params)
	}
	comp.Props.Set(&ical.Prop{Name: name, Params: params, Value: value})
}

// weeklyVEvent builds a Monday 09:00 UTC weekly meeting starting
// 2026-01-05.
func weeklyVEvent(uid string) *ical.Component {
	comp := newVEvent(uid)
	setProp(comp, ical.PropSummary, "Weekly sync", nil)
	setProp(comp, ical.PropDateTimeStart, "20260105T090000Z", nil)
	setProp(comp, ical.PropDateTimeEnd, "20260105T100000Z", nil)
	setProp(comp, ical.PropRecurrenceRule, "FREQ=WEEKLY;BYDAY=MO", nil)
	return comp
}

func TestApplyEventCreatesStandalone(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	comp := newVEvent("uid-1")
	setProp(comp, ical.PropSummary, "Dentist", nil)
	setProp(comp, ical.PropDateTimeStart, "20260106T140000Z", nil)
	setProp(comp, ical.PropDateTimeEnd, "20260106T150000Z", nil)

	outcome, err := f.bridge.ApplyEvent(ctx, "cal-1", comp)
	require.NoError(t, err)
	assert.True(t, outcome.Created)
	assert.Equal(t, 1, outcome.Materialized)

	rec, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "Dentist", rec.Title)
	assert.Nil(t, rec.RRule)
	assert.True(t, rec.Start.Equal(time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)))
}

func TestApplyEventCreatesMaster(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	outcome, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)
	assert.True(t, outcome.Created)
	// Mondays from Jan 5 through the 90-day horizon.
	assert.Greater(t, outcome.Materialized, 10)

	rec, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	require.NotNil(t, rec.RRule)

	rows, err := f.st.OccurrencesForEvent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, rows, outcome.Materialized)
}

func TestApplyEventMissingUID(t *testing.T) {
	f := newBridgeFixture(t)

	comp := ical.NewComponent(ical.CompEvent)
	setProp(comp, ical.PropDateTimeStart, "20260106T140000Z", nil)

	_, err := f.bridge.ApplyEvent(context.Background(), "cal-1", comp)
	assert.Error(t, err)
}

func TestApplyEventSequenceEcho(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	comp := weeklyVEvent("uid-1")
	setProp(comp, ical.PropSequence, "3", nil)
	_, err := f.bridge.ApplyEvent(ctx, "cal-1", comp)
	require.NoError(t, err)

	// A stale echo of an older revision must not overwrite the event.
	stale := weeklyVEvent("uid-1")
	setProp(stale, ical.PropSummary, "Out of date title", nil)
	setProp(stale, ical.PropSequence, "2", nil)
	outcome, err := f.bridge.ApplyEvent(ctx, "cal-1", stale)
	require.NoError(t, err)
	assert.False(t, outcome.Created)
	assert.Zero(t, outcome.Materialized)

	rec, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	assert.Equal(t, "Weekly sync", rec.Title)
	assert.Equal(t, 3, rec.Sequence)
}

func TestApplyEventRuleChangeRematerializes(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	_, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)

	changed := weeklyVEvent("uid-1")
	setProp(changed, ical.PropRecurrenceRule, "FREQ=DAILY;COUNT=5", nil)
	setProp(changed, ical.PropSequence, "1", nil)

	outcome, err := f.bridge.ApplyEvent(ctx, "cal-1", changed)
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.Materialized)

	rec, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	rows, err := f.st.OccurrencesForEvent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestApplyEventBadRuleKeepsExistingRows(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	_, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)

	rec, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	before, err := f.st.OccurrencesForEvent(ctx, rec.ID)
	require.NoError(t, err)
	require.NotEmpty(t, before)

	broken := weeklyVEvent("uid-1")
	setProp(broken, ical.PropRecurrenceRule, "FREQ=WEEKLY;BYSETPOS=2", nil)
	setProp(broken, ical.PropSequence, "1", nil)

	_, err = f.bridge.ApplyEvent(ctx, "cal-1", broken)
	require.Error(t, err)
	var recErr *recurrence.RecurrenceError
	assert.ErrorAs(t, err, &recErr)

	after, err := f.st.OccurrencesForEvent(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestApplyEventExDateDelta(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	_, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)

	// The same event arrives again with the Jan 19 instance excluded.
	withExDate := weeklyVEvent("uid-1")
	setProp(withExDate, ical.PropExceptionDates, "20260119T090000Z", nil)

	outcome, err := f.bridge.ApplyEvent(ctx, "cal-1", withExDate)
	require.NoError(t, err)
	assert.False(t, outcome.Deferred)
	assert.Zero(t, outcome.Materialized, "an EXDATE delta reconciles in place")

	rec, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	rows, err := f.st.OccurrencesForEvent(ctx, rec.ID)
	require.NoError(t, err)

	target := time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)
	found := false
	for _, row := range rows {
		if row.Start.Equal(target) {
			found = true
			assert.True(t, row.Cancelled)
		} else {
			assert.False(t, row.Cancelled)
		}
	}
	require.True(t, found, "the cancelled row persists")

	// Removing the EXDATE uncancels the instance.
	outcome, err = f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)
	assert.False(t, outcome.Deferred)

	rows, err = f.st.OccurrencesForEvent(ctx, rec.ID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.False(t, row.Cancelled)
	}
}

func exceptionVEvent(uid, recurrenceID, newStart, newEnd string) *ical.Component {
	comp := newVEvent(uid)
	setProp(comp, ical.PropSummary, "Moved meeting", nil)
	setProp(comp, propRecurrenceID, recurrenceID, nil)
	setProp(comp, ical.PropDateTimeStart, newStart, nil)
	setProp(comp, ical.PropDateTimeEnd, newEnd, nil)
	return comp
}

func TestApplyException(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	_, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)

	// Move the Jan 19 instance an hour later.
	exc := exceptionVEvent("uid-1", "20260119T090000Z", "20260119T100000Z", "20260119T110000Z")
	outcome, err := f.bridge.ApplyEvent(ctx, "cal-1", exc)
	require.NoError(t, err)
	assert.True(t, outcome.Created)
	assert.False(t, outcome.Deferred)

	master, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	rows, err := f.st.OccurrencesForEvent(ctx, master.ID)
	require.NoError(t, err)

	moved := time.Date(2026, 1, 19, 10, 0, 0, 0, time.UTC)
	found := false
	for _, row := range rows {
		if row.ExceptionEventID != nil {
			found = true
			assert.Equal(t, outcome.EventID, *row.ExceptionEventID)
			assert.True(t, row.Start.Equal(moved))
		}
	}
	require.True(t, found)

	// A re-edit of the same instance updates the exception in place.
	again := exceptionVEvent("uid-1", "20260119T090000Z", "20260119T110000Z", "20260119T120000Z")
	outcome2, err := f.bridge.ApplyEvent(ctx, "cal-1", again)
	require.NoError(t, err)
	assert.False(t, outcome2.Created)
	assert.Equal(t, outcome.EventID, outcome2.EventID)
}

func TestApplyExceptionDeferredBeyondHorizon(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	_, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)

	// An override of an instance past the materialized horizon parks as
	// deferred; the exception event itself is stored.
	exc := exceptionVEvent("uid-1", "20271206T090000Z", "20271206T100000Z", "20271206T110000Z")
	outcome, err := f.bridge.ApplyEvent(ctx, "cal-1", exc)
	require.NoError(t, err)
	assert.True(t, outcome.Created)
	assert.True(t, outcome.Deferred)

	_, err = f.st.GetEvent(ctx, outcome.EventID)
	assert.NoError(t, err)
}

func TestApplyExceptionUnknownMaster(t *testing.T) {
	f := newBridgeFixture(t)

	exc := exceptionVEvent("nobody", "20260119T090000Z", "20260119T100000Z", "20260119T110000Z")
	_, err := f.bridge.ApplyEvent(context.Background(), "cal-1", exc)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyCalendarOrdersMastersFirst(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	cal := ical.NewCalendar()
	// The exception arrives before its master in the feed.
	cal.Children = append(cal.Children,
		exceptionVEvent("uid-1", "20260119T090000Z", "20260119T100000Z", "20260119T110000Z"),
		weeklyVEvent("uid-1"))

	results := f.bridge.ApplyCalendar(ctx, "cal-1", cal)
	require.Len(t, results, 2)
	for i, res := range results {
		assert.True(t, res.IsOk(), "component %d", i)
	}

	master, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	rows, err := f.st.OccurrencesForEvent(ctx, master.ID)
	require.NoError(t, err)

	linked := 0
	for _, row := range rows {
		if row.ExceptionEventID != nil {
			linked++
		}
	}
	assert.Equal(t, 1, linked)
}

func TestApplyCalendarContinuesPastFailure(t *testing.T) {
	f := newBridgeFixture(t)

	bad := newVEvent("bad")
	setProp(bad, ical.PropSummary, "No start", nil)

	cal := ical.NewCalendar()
	cal.Children = append(cal.Children, bad, weeklyVEvent("good"))

	results := f.bridge.ApplyCalendar(context.Background(), "cal-1", cal)
	require.Len(t, results, 2)
	assert.True(t, results[0].IsError())
	assert.True(t, results[1].IsOk())
}

func TestRemoveException(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	_, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)

	exc := exceptionVEvent("uid-1", "20260119T090000Z", "20260119T100000Z", "20260119T110000Z")
	outcome, err := f.bridge.ApplyEvent(ctx, "cal-1", exc)
	require.NoError(t, err)

	require.NoError(t, f.bridge.RemoveException(ctx, outcome.EventID))

	_, err = f.st.GetEvent(ctx, outcome.EventID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	master, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)
	rows, err := f.st.OccurrencesForEvent(ctx, master.ID)
	require.NoError(t, err)

	orig := time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)
	restored := false
	for _, row := range rows {
		require.Nil(t, row.ExceptionEventID)
		if row.Start.Equal(orig) {
			restored = true
		}
	}
	assert.True(t, restored)
}

func TestRemoveExceptionRejectsNonException(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	_, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)
	master, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)

	assert.Error(t, f.bridge.RemoveException(ctx, master.ID))
}

func TestApplyEventDecodesAsMaster(t *testing.T) {
	f := newBridgeFixture(t)
	ctx := context.Background()

	_, err := f.bridge.ApplyEvent(ctx, "cal-1", weeklyVEvent("uid-1"))
	require.NoError(t, err)

	rec, err := f.st.EventByUID(ctx, "cal-1", "uid-1")
	require.NoError(t, err)

	ev, err := calendar.DecodeEvent(rec)
	require.NoError(t, err)
	assert.Equal(t, calendar.KindMaster, ev.Kind())
	assert.Equal(t, "cal-1", ev.Core().CalendarID)
}
