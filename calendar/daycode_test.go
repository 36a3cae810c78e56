package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayCodeOf(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	tests := []struct {
		name   string
		t      time.Time
		allDay bool
		loc    *time.Location
		want   DayCode
	}{
		{
			name:   "timed event in UTC",
			t:      time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC),
			allDay: false,
			loc:    time.UTC,
			want:   20260106,
		},
		{
			name: "timed event late evening in negative-offset zone",
			// 2026-01-07 02:30 UTC is still Jan 6 in New York.
			t:      time.Date(2026, 1, 7, 2, 30, 0, 0, time.UTC),
			allDay: false,
			loc:    newYork,
			want:   20260106,
		},
		{
			name: "timed event early morning in positive-offset zone",
			// 2026-01-06 22:00 UTC is already Jan 7 in Tokyo.
			t:      time.Date(2026, 1, 6, 22, 0, 0, 0, time.UTC),
			allDay: false,
			loc:    tokyo,
			want:   20260107,
		},
		{
			name: "all-day event ignores event zone",
			// All-day instants are anchored at UTC midnight; the device or
			// event zone must not shift the calendar date.
			t:      time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC),
			allDay: true,
			loc:    newYork,
			want:   20260106,
		},
		{
			name:   "nil location falls back to UTC",
			t:      time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC),
			allDay: false,
			loc:    nil,
			want:   20260315,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DayCodeOf(tt.t, tt.allDay, tt.loc))
		})
	}
}

func TestDayCodeComponents(t *testing.T) {
	d := DayCode(20261231)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, 12, d.Month())
	assert.Equal(t, 31, d.Day())
}

func TestDayCodeTime(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	d := DayCode(20260106)
	assert.Equal(t, time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC), d.Time(nil))
	assert.Equal(t, time.Date(2026, 1, 6, 0, 0, 0, 0, newYork), d.Time(newYork))
}

func TestDayCodeNext(t *testing.T) {
	tests := []struct {
		name string
		d    DayCode
		want DayCode
	}{
		{name: "mid-month", d: 20260114, want: 20260115},
		{name: "month rollover", d: 20260131, want: 20260201},
		{name: "year rollover", d: 20261231, want: 20270101},
		{name: "leap february", d: 20280228, want: 20280229},
		{name: "non-leap february", d: 20260228, want: 20260301},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.Next())
		})
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		a, b DayCode
		want int
	}{
		{name: "same day", a: 20260106, b: 20260106, want: 1},
		{name: "adjacent days", a: 20260106, b: 20260107, want: 2},
		{name: "across month boundary", a: 20260130, b: 20260202, want: 4},
		{name: "reversed order", a: 20260107, b: 20260106, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysBetween(tt.a, tt.b))
		})
	}
}
