package calendar

import (
	"time"

	"github.com/davidesb007/kashcal/store"
)

// Occurrence is a materialized, queryable instance of an event.
type Occurrence struct {
	ID      int64
	EventID string
	// ExceptionEventID, when set, means the referenced exception event's
	// data is authoritative for display, not the master's.
	ExceptionEventID string
	CalendarID       string
	Start            time.Time
	End              time.Time
	StartDay         DayCode
	EndDay           DayCode
	// Cancelled rows persist (they are excluded from queries, not deleted)
	// so that undoing an EXDATE needs no re-expansion.
	Cancelled bool
}

// DisplayEventID is the event whose data should be rendered for this
// instance: the exception when one is linked, the owning event otherwise.
func (o Occurrence) DisplayEventID() string {
	if o.ExceptionEventID != "" {
		return o.ExceptionEventID
	}
	return o.EventID
}

// SpansDay reports whether the occurrence covers the given calendar day.
func (o Occurrence) SpansDay(day DayCode) bool {
	return day >= o.StartDay && day <= o.EndDay
}

// DecodeOccurrence lifts a persisted occurrence row.
func DecodeOccurrence(rec store.OccurrenceRecord) Occurrence {
	occ := Occurrence{
		ID:         rec.ID,
		EventID:    rec.EventID,
		CalendarID: rec.CalendarID,
		Start:      rec.Start,
		End:        rec.End,
		StartDay:   DayCode(rec.StartDay),
		EndDay:     DayCode(rec.EndDay),
		Cancelled:  rec.Cancelled,
	}
	if rec.ExceptionEventID != nil {
		occ.ExceptionEventID = *rec.ExceptionEventID
	}
	return occ
}

// EncodeOccurrence lowers an occurrence into its persisted row.
func EncodeOccurrence(o Occurrence) store.OccurrenceRecord {
	rec := store.OccurrenceRecord{
		ID:         o.ID,
		EventID:    o.EventID,
		CalendarID: o.CalendarID,
		Start:      o.Start,
		End:        o.End,
		StartDay:   int(o.StartDay),
		EndDay:     int(o.EndDay),
		Cancelled:  o.Cancelled,
	}
	if o.ExceptionEventID != "" {
		id := o.ExceptionEventID
		rec.ExceptionEventID = &id
	}
	return rec
}

// Calendar is a calendar collection events belong to.
type Calendar struct {
	ID        string
	Name      string
	Color     string
	AccountID string
	Visible   bool
}

// DecodeCalendar lifts a persisted calendar record.
func DecodeCalendar(rec store.CalendarRecord) Calendar {
	return Calendar{
		ID:        rec.ID,
		Name:      rec.Name,
		Color:     rec.Color,
		AccountID: rec.AccountID,
		Visible:   rec.Visible,
	}
}
