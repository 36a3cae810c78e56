// Package recurrence expands structured recurrence rules into concrete
// instance start times over a bounded horizon.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Freq is the base repetition frequency of a rule.
type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

// String provides a human-readable representation of the Freq.
func (f Freq) String() string {
	switch f {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	case Yearly:
		return "yearly"
	default:
		return "unknown"
	}
}

// Rule is the structured recurrence definition the product exposes:
// frequency with interval, an end condition (count, until-date inclusive, or
// never), and optional weekday / month-day constraint sets. Rule text
// parsing beyond these shapes is rejected with a *RecurrenceError.
type Rule struct {
	Freq Freq
	// Interval between repetitions; zero is treated as 1.
	Interval int
	// Count limits the total number of instances when positive.
	Count int
	// Until is the inclusive last allowed instance date; nil means no limit.
	Until *time.Time
	// ByWeekday restricts instances to the given weekdays.
	ByWeekday []time.Weekday
	// ByMonthDay restricts instances to the given days of the month (1-31).
	ByMonthDay []int
}

// Validate reports whether the rule is a supported shape.
func (r Rule) Validate() error {
	if r.Freq < Daily || r.Freq > Yearly {
		return &RecurrenceError{Reason: fmt.Sprintf("unsupported frequency %d", int(r.Freq))}
	}
	if r.Interval < 0 {
		return &RecurrenceError{Reason: fmt.Sprintf("negative interval %d", r.Interval)}
	}
	if r.Count < 0 {
		return &RecurrenceError{Reason: fmt.Sprintf("negative count %d", r.Count)}
	}
	if r.Count > 0 && r.Until != nil {
		return &RecurrenceError{Reason: "both count and until set"}
	}
	for _, d := range r.ByMonthDay {
		if d < 1 || d > 31 {
			return &RecurrenceError{Reason: fmt.Sprintf("month day %d out of range", d)}
		}
	}
	return nil
}

// String renders the rule as RFC 5545 RRULE text (without the property name).
func (r Rule) String() string {
	opt := rrule.ROption{
		Freq:       toRRuleFreq[r.Freq],
		Interval:   r.Interval,
		Count:      r.Count,
		Bymonthday: r.ByMonthDay,
	}
	if r.Until != nil {
		opt.Until = r.Until.UTC()
	}
	for _, wd := range r.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, toRRuleWeekday[wd])
	}
	return opt.RRuleString()
}

// ParseRule maps RFC 5545 RRULE text into a Rule. Grammar parsing is
// delegated to rrule-go; shapes outside the supported surface (BYSETPOS,
// BYHOUR, positional weekdays like 2MO, sub-daily frequencies, ...) yield a
// *RecurrenceError rather than a silently truncated rule.
func ParseRule(text string) (Rule, error) {
	opt, err := rrule.StrToROption(text)
	if err != nil {
		return Rule{}, &RecurrenceError{Rule: text, Reason: "malformed rule", Err: err}
	}

	var rule Rule
	switch opt.Freq {
	case rrule.DAILY:
		rule.Freq = Daily
	case rrule.WEEKLY:
		rule.Freq = Weekly
	case rrule.MONTHLY:
		rule.Freq = Monthly
	case rrule.YEARLY:
		rule.Freq = Yearly
	default:
		return Rule{}, &RecurrenceError{Rule: text, Reason: "unsupported frequency"}
	}

	if len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 ||
		len(opt.Bymonth) > 0 || len(opt.Byhour) > 0 || len(opt.Byminute) > 0 ||
		len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return Rule{}, &RecurrenceError{Rule: text, Reason: "unsupported by-part"}
	}

	rule.Interval = opt.Interval
	rule.Count = opt.Count
	if !opt.Until.IsZero() {
		until := opt.Until
		rule.Until = &until
	}
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return Rule{}, &RecurrenceError{Rule: text, Reason: "positional weekday not supported"}
		}
		rule.ByWeekday = append(rule.ByWeekday, fromRRuleWeekday(wd))
	}
	rule.ByMonthDay = opt.Bymonthday

	if err := rule.Validate(); err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// rruleOptions builds the rrule-go options for the rule anchored at the
// given start. The anchor's location carries the wall-clock zone.
func (r Rule) rruleOptions(anchor time.Time) rrule.ROption {
	opt := rrule.ROption{
		Freq:       toRRuleFreq[r.Freq],
		Dtstart:    anchor,
		Interval:   r.Interval,
		Count:      r.Count,
		Bymonthday: r.ByMonthDay,
	}
	if opt.Interval == 0 {
		opt.Interval = 1
	}
	if r.Until != nil {
		opt.Until = *r.Until
	}
	for _, wd := range r.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, toRRuleWeekday[wd])
	}
	return opt
}

var toRRuleFreq = map[Freq]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var toRRuleWeekday = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// fromRRuleWeekday converts rrule-go's Monday-based weekday to time.Weekday.
func fromRRuleWeekday(wd rrule.Weekday) time.Weekday {
	return time.Weekday((wd.Day() + 1) % 7)
}
