// Package calendar holds the domain model of the occurrence engine: events
// as a tagged variant over a shared core, materialized occurrences, and
// YYYYMMDD day codes.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidesb007/kashcal/recurrence"
	"github.com/davidesb007/kashcal/store"
)

var (
	// ErrInvalidRecord is returned when a persisted event record encodes an
	// impossible role combination.
	ErrInvalidRecord = errors.New("invalid event record")
)

// EventKind tags the role of an event.
type EventKind int

const (
	// KindStandalone is a one-off event without recurrence.
	KindStandalone EventKind = iota
	// KindMaster is a recurring event carrying the recurrence definition.
	KindMaster
	// KindException overrides a single instance of a master event.
	KindException
)

// String provides a human-readable representation of the EventKind.
func (k EventKind) String() string {
	switch k {
	case KindStandalone:
		return "standalone"
	case KindMaster:
		return "master"
	case KindException:
		return "exception"
	default:
		return "unknown"
	}
}

// EventCore carries the attributes shared by every event role.
type EventCore struct {
	ID string
	// UID is the stable external identifier, shared between a master and
	// its exceptions.
	UID         string
	CalendarID  string
	Title       string
	Description string
	Place       string
	Start       time.Time
	End         time.Time
	AllDay      bool
	// Timezone is the IANA zone the event's wall-clock times anchor to.
	Timezone   string
	Sequence   int
	SyncStatus string
}

// Zone resolves the event's effective timezone. All-day events are anchored
// to UTC; an unresolvable zone name also falls back to UTC.
func (c EventCore) Zone() *time.Location {
	if c.AllDay || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Duration is the event's span; non-negative.
func (c EventCore) Duration() time.Duration {
	if c.End.Before(c.Start) {
		return 0
	}
	return c.End.Sub(c.Start)
}

// Event is the tagged domain variant: exactly one of Standalone, Master or
// Exception. The persisted representation keeps nullable columns for storage
// simplicity; decoding into this type makes invalid states (an exception
// that also carries a recurrence rule) unrepresentable downstream.
type Event interface {
	Core() EventCore
	Kind() EventKind
}

// Standalone is a non-recurring event.
type Standalone struct {
	EventCore
}

func (e Standalone) Core() EventCore { return e.EventCore }
func (e Standalone) Kind() EventKind { return KindStandalone }

// Master is a recurring event with its recurrence definition and explicit
// instance additions/exclusions.
type Master struct {
	EventCore
	Rule    recurrence.Rule
	ExDates []time.Time
	RDates  []time.Time
}

func (e Master) Core() EventCore { return e.EventCore }
func (e Master) Kind() EventKind { return KindMaster }

// Exception overrides one instance of a master event. Exceptions own no
// recurrence of their own.
type Exception struct {
	EventCore
	// OriginalEventID references the master event.
	OriginalEventID string
	// OriginalStart is the rule-generated instance start this exception
	// replaces (RECURRENCE-ID).
	OriginalStart time.Time
}

func (e Exception) Core() EventCore { return e.EventCore }
func (e Exception) Kind() EventKind { return KindException }

// NewEventID mints a fresh event id.
func NewEventID() string { return uuid.NewString() }

// DecodeEvent lifts a persisted record into the tagged variant, rejecting
// role combinations the domain model rules out.
func DecodeEvent(rec store.EventRecord) (Event, error) {
	core := EventCore{
		ID:          rec.ID,
		UID:         rec.UID,
		CalendarID:  rec.CalendarID,
		Title:       rec.Title,
		Description: rec.Description,
		Place:       rec.Location,
		Start:       rec.Start,
		End:         rec.End,
		AllDay:      rec.AllDay,
		Timezone:    rec.Timezone,
		Sequence:    rec.Sequence,
		SyncStatus:  rec.SyncStatus,
	}

	switch {
	case rec.OriginalEventID != nil:
		if rec.RRule != nil {
			return nil, fmt.Errorf("%w: exception %s carries a recurrence rule", ErrInvalidRecord, rec.ID)
		}
		if rec.OriginalStart == nil {
			return nil, fmt.Errorf("%w: exception %s has no original instance time", ErrInvalidRecord, rec.ID)
		}
		return Exception{
			EventCore:       core,
			OriginalEventID: *rec.OriginalEventID,
			OriginalStart:   *rec.OriginalStart,
		}, nil

	case rec.RRule != nil:
		rule, err := recurrence.ParseRule(*rec.RRule)
		if err != nil {
			return nil, err
		}
		return Master{
			EventCore: core,
			Rule:      rule,
			ExDates:   rec.ExDates,
			RDates:    rec.RDates,
		}, nil

	default:
		return Standalone{EventCore: core}, nil
	}
}

// EncodeEvent lowers the tagged variant back into the nullable-column record.
func EncodeEvent(ev Event) store.EventRecord {
	core := ev.Core()
	rec := store.EventRecord{
		ID:          core.ID,
		UID:         core.UID,
		CalendarID:  core.CalendarID,
		Title:       core.Title,
		Description: core.Description,
		Location:    core.Place,
		Start:       core.Start,
		End:         core.End,
		AllDay:      core.AllDay,
		Timezone:    core.Timezone,
		Sequence:    core.Sequence,
		SyncStatus:  core.SyncStatus,
	}

	switch e := ev.(type) {
	case Master:
		text := e.Rule.String()
		rec.RRule = &text
		rec.ExDates = e.ExDates
		rec.RDates = e.RDates
	case Exception:
		origID := e.OriginalEventID
		origStart := e.OriginalStart
		rec.OriginalEventID = &origID
		rec.OriginalStart = &origStart
	}
	return rec
}
