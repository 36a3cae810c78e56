package calendar

import "time"

// DayCode is an integer date in YYYYMMDD form, used for timezone-stable day
// matching. All-day events derive day codes from UTC regardless of device
// timezone; timed events derive them from the event's own zone. Collapsing
// the two is the single largest source of "wrong day" defects.
type DayCode int

// DayCodeOf computes the day code for t. For all-day events the UTC calendar
// date is used; for timed events the wall-clock date in loc (nil means UTC).
func DayCodeOf(t time.Time, allDay bool, loc *time.Location) DayCode {
	if allDay || loc == nil {
		t = t.In(time.UTC)
	} else {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return DayCode(y*10000 + int(m)*100 + d)
}

// Time reconstructs midnight of the coded day in loc (nil means UTC).
func (d DayCode) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), time.Month(d.Month()), d.Day(), 0, 0, 0, 0, loc)
}

func (d DayCode) Year() int  { return int(d) / 10000 }
func (d DayCode) Month() int { return (int(d) / 100) % 100 }
func (d DayCode) Day() int   { return int(d) % 100 }

// Next returns the following calendar day, rolling over month and year
// boundaries (20260131 -> 20260201, 20261231 -> 20270101).
func (d DayCode) Next() DayCode {
	t := d.Time(time.UTC).AddDate(0, 0, 1)
	return DayCodeOf(t, true, nil)
}

// DaysBetween counts the calendar days from a through b inclusive; zero when
// b precedes a.
func DaysBetween(a, b DayCode) int {
	if b < a {
		return 0
	}
	at := a.Time(time.UTC)
	bt := b.Time(time.UTC)
	return int(bt.Sub(at)/(24*time.Hour)) + 1
}
