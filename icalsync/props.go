package icalsync

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/davidesb007/kashcal/calendar"
)

// go-ical exposes no constants for these.
const (
	propRecurrenceID = "RECURRENCE-ID"
	paramTZID        = "TZID"
)

const (
	dateTimeUTCLayout = "20060102T150405Z"
	dateTimeLayout    = "20060102T150405"
	dateLayout        = "20060102"
)

func propValue(comp *ical.Component, name string) string {
	if p := comp.Props.Get(name); p != nil {
		return p.Value
	}
	return ""
}

// extractCore pulls the shared event attributes out of a VEVENT component.
func extractCore(comp *ical.Component) (calendar.EventCore, error) {
	core := calendar.EventCore{
		Title:       propValue(comp, ical.PropSummary),
		Description: propValue(comp, ical.PropDescription),
		Place:       propValue(comp, ical.PropLocation),
		Timezone:    "UTC",
	}

	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return calendar.EventCore{}, fmt.Errorf("no DTSTART")
	}
	core.AllDay = isDateOnly(startProp.Params)
	if tzid := paramValue(startProp.Params, paramTZID); tzid != "" && !core.AllDay {
		core.Timezone = tzid
	}

	start, err := parseICalTime(startProp.Value, startProp.Params)
	if err != nil {
		return calendar.EventCore{}, fmt.Errorf("bad DTSTART: %w", err)
	}
	core.Start = start

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		endProp := comp.Props.Get(ical.PropDateTimeEnd)
		end, err := parseICalTime(endProp.Value, endProp.Params)
		if err != nil {
			return calendar.EventCore{}, fmt.Errorf("bad DTEND: %w", err)
		}
		core.End = end
	case comp.Props.Get(ical.PropDuration) != nil:
		dur, err := comp.Props.Get(ical.PropDuration).Duration()
		if err != nil {
			return calendar.EventCore{}, fmt.Errorf("bad DURATION: %w", err)
		}
		core.End = start.Add(dur)
	case core.AllDay:
		core.End = start.AddDate(0, 0, 1)
	default:
		core.End = start
	}

	if seq := propValue(comp, ical.PropSequence); seq != "" {
		n, err := strconv.Atoi(seq)
		if err == nil {
			core.Sequence = n
		}
	}
	return core, nil
}

// propTimes parses a comma-separated date-time list property (EXDATE,
// RDATE). Date-only values land as midnight UTC.
func propTimes(comp *ical.Component, name string) []time.Time {
	p := comp.Props.Get(name)
	if p == nil || p.Value == "" {
		return nil
	}
	var out []time.Time
	for _, part := range strings.Split(p.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parseICalTime(part, p.Params)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// parseICalTime parses an iCalendar date-time or date value. VALUE=DATE and
// bare dates resolve to midnight UTC; a TZID parameter anchors a floating
// date-time to that zone.
func parseICalTime(value string, params ical.Params) (time.Time, error) {
	if isDateOnly(params) {
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	if t, err := time.Parse(dateTimeUTCLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dateLayout, value); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	loc := time.UTC
	if tzid := paramValue(params, paramTZID); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(dateTimeLayout, value, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func isDateOnly(params ical.Params) bool {
	if params == nil {
		return false
	}
	vals := params["VALUE"]
	return len(vals) > 0 && strings.EqualFold(vals[0], "DATE")
}

func paramValue(params ical.Params, name string) string {
	if params == nil {
		return ""
	}
	if vals := params[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}
