// Package store defines the persistence boundary of the occurrence engine:
// the persisted record types, the capability-set repository interfaces, and
// the change-notification fan-out used by live queries.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an insert collides with an existing record.
	ErrConflict = errors.New("record conflict")
	// ErrQueryFailure wraps underlying storage I/O errors. Callers get the
	// failure surfaced, never a silent empty result.
	ErrQueryFailure = errors.New("query failure")
)

// EventRecord is the persisted representation of an event. The master /
// standalone / exception roles are encoded with nullable columns here; the
// calendar package decodes records into a tagged domain variant and rejects
// invalid combinations (e.g. an exception carrying a recurrence rule).
type EventRecord struct {
	ID          string
	UID         string
	CalendarID  string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	// Timezone is the IANA zone name the event's wall-clock times anchor to.
	Timezone string
	// RRule holds the recurrence rule text, nil for non-recurring events.
	RRule *string
	// ExDates are excluded instance start times (EXDATE).
	ExDates []time.Time
	// RDates are explicitly added instance start times (RDATE).
	RDates []time.Time
	// OriginalEventID is set on exception events only and references the
	// master event whose instance this record overrides.
	OriginalEventID *string
	// OriginalStart is the instance start time the exception replaces.
	OriginalStart *time.Time
	Sequence      int
	SyncStatus    string
}

// OccurrenceRecord is one materialized instance of an event.
type OccurrenceRecord struct {
	ID      int64
	EventID string
	// ExceptionEventID, when set, references the exception event whose data
	// is authoritative for this instance.
	ExceptionEventID *string
	CalendarID       string
	Start            time.Time
	End              time.Time
	// StartDay and EndDay are YYYYMMDD day codes: UTC-derived for all-day
	// events, local wall-clock for timed events.
	StartDay  int
	EndDay    int
	Cancelled bool
}

// CalendarRecord is a calendar collection an event belongs to.
type CalendarRecord struct {
	ID        string
	Name      string
	Color     string
	AccountID string
	Visible   bool
}

// EventStore holds canonical event records.
type EventStore interface {
	// InsertEvent stores a new event. Returns ErrConflict on duplicate id.
	InsertEvent(ctx context.Context, rec EventRecord) error
	// UpdateEvent replaces the stored record with the same id.
	UpdateEvent(ctx context.Context, rec EventRecord) error
	// GetEvent retrieves an event by id.
	GetEvent(ctx context.Context, id string) (EventRecord, error)
	// DeleteEvent removes an event; its occurrences and exception events are
	// removed with it.
	DeleteEvent(ctx context.Context, id string) error
	// EventsByIDs batch-loads events, keyed by id. Missing ids are absent
	// from the result, not an error.
	EventsByIDs(ctx context.Context, ids []string) (map[string]EventRecord, error)
	// EventByUID finds an event by its stable external identifier within a
	// calendar. Exception events share the master's UID and are not returned.
	EventByUID(ctx context.Context, calendarID, uid string) (EventRecord, error)
	// ExceptionsForEvent lists the exception events overriding instances of
	// the given master event.
	ExceptionsForEvent(ctx context.Context, masterID string) ([]EventRecord, error)
	// RecurringMasters lists all non-exception events that carry a
	// recurrence rule.
	RecurringMasters(ctx context.Context) ([]EventRecord, error)
}

// OccurrenceStore owns the materialized occurrence rows. Only the
// materializer and the exception reconciler mutate it.
type OccurrenceStore interface {
	// ReplaceOccurrences atomically deletes the event's occurrences with
	// start >= cutoff and inserts the given rows. A reader never observes
	// the deleted-but-not-reinserted intermediate state.
	ReplaceOccurrences(ctx context.Context, eventID string, cutoff time.Time, rows []OccurrenceRecord) error
	// UpdateOccurrence rewrites a single row in place, matched by ID.
	UpdateOccurrence(ctx context.Context, rec OccurrenceRecord) error
	// OccurrencesForEvent lists all rows for one event ordered by start,
	// including cancelled ones.
	OccurrencesForEvent(ctx context.Context, eventID string) ([]OccurrenceRecord, error)
	// DeleteOccurrencesAfter removes the event's rows with start >= cutoff,
	// supporting "this and all future" series splits.
	DeleteOccurrencesAfter(ctx context.Context, eventID string, cutoff time.Time) error
	// OccurrencesInRange lists rows overlapping [start, end) ordered by
	// start ascending.
	OccurrencesInRange(ctx context.Context, start, end time.Time, includeCancelled bool) ([]OccurrenceRecord, error)
	// OccurrencesOnDay lists rows whose day span covers the YYYYMMDD day
	// code, ordered by start ascending.
	OccurrencesOnDay(ctx context.Context, day int, includeCancelled bool) ([]OccurrenceRecord, error)
	// OccurrencesForEventInWindow lists the event's non-cancelled rows with
	// start in [from, from+windowDays), for reminder scheduling.
	OccurrencesForEventInWindow(ctx context.Context, eventID string, from time.Time, windowDays int) ([]OccurrenceRecord, error)
	// EventsMaterializedBefore lists recurring master events whose latest
	// materialized start is before target, i.e. whose horizon needs
	// extension to cover target.
	EventsMaterializedBefore(ctx context.Context, target time.Time) ([]string, error)
	// LatestOccurrenceStart reports the most recent materialized start for
	// the event, or ErrNotFound when nothing is materialized.
	LatestOccurrenceStart(ctx context.Context, eventID string) (time.Time, error)
}

// CalendarStore holds calendar collections and their visibility.
type CalendarStore interface {
	UpsertCalendar(ctx context.Context, rec CalendarRecord) error
	GetCalendar(ctx context.Context, id string) (CalendarRecord, error)
	// CalendarsByIDs batch-loads calendars, keyed by id.
	CalendarsByIDs(ctx context.Context, ids []string) (map[string]CalendarRecord, error)
	ListCalendars(ctx context.Context) ([]CalendarRecord, error)
	SetCalendarVisible(ctx context.Context, id string, visible bool) error
	// VisibleCalendarIDs returns the live set of visible calendar ids.
	VisibleCalendarIDs(ctx context.Context) (map[string]bool, error)
}

// Subscriber hands out change subscriptions. A subscription fires when any
// of the requested tables changes; joined queries subscribe to every table
// they read so that a change on either side of the join invalidates them.
type Subscriber interface {
	Subscribe(tables ...Table) *Subscription
}

// Store aggregates the full capability set.
type Store interface {
	EventStore
	OccurrenceStore
	CalendarStore
	Subscriber
	Close() error
}
