package icalsync

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCore(t *testing.T) {
	t.Run("timed with explicit end", func(t *testing.T) {
		comp := newVEvent("uid-1")
		setProp(comp, ical.PropSummary, "Standup", nil)
		setProp(comp, ical.PropDescription, "Daily check-in", nil)
		setProp(comp, ical.PropLocation, "Room 4", nil)
		setProp(comp, ical.PropDateTimeStart, "20260105T090000Z", nil)
		setProp(comp, ical.PropDateTimeEnd, "20260105T091500Z", nil)
		setProp(comp, ical.PropSequence, "7", nil)

		core, err := extractCore(comp)
		require.NoError(t, err)
		assert.Equal(t, "Standup", core.Title)
		assert.Equal(t, "Daily check-in", core.Description)
		assert.Equal(t, "Room 4", core.Place)
		assert.True(t, core.Start.Equal(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)))
		assert.True(t, core.End.Equal(time.Date(2026, 1, 5, 9, 15, 0, 0, time.UTC)))
		assert.False(t, core.AllDay)
		assert.Equal(t, "UTC", core.Timezone)
		assert.Equal(t, 7, core.Sequence)
	})

	t.Run("floating time with TZID", func(t *testing.T) {
		berlin, err := time.LoadLocation("Europe/Berlin")
		require.NoError(t, err)

		comp := newVEvent("uid-1")
		setProp(comp, ical.PropDateTimeStart, "20260105T090000", ical.Params{paramTZID: []string{"Europe/Berlin"}})
		setProp(comp, ical.PropDateTimeEnd, "20260105T100000", ical.Params{paramTZID: []string{"Europe/Berlin"}})

		core, err := extractCore(comp)
		require.NoError(t, err)
		assert.Equal(t, "Europe/Berlin", core.Timezone)
		assert.True(t, core.Start.Equal(time.Date(2026, 1, 5, 9, 0, 0, 0, berlin)))
	})

	t.Run("all-day", func(t *testing.T) {
		comp := newVEvent("uid-1")
		setProp(comp, ical.PropDateTimeStart, "20260106", ical.Params{"VALUE": []string{"DATE"}})

		core, err := extractCore(comp)
		require.NoError(t, err)
		assert.True(t, core.AllDay)
		assert.Equal(t, "UTC", core.Timezone)
		assert.True(t, core.Start.Equal(time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)))
		// No DTEND: an all-day event covers one day.
		assert.True(t, core.End.Equal(time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("duration instead of end", func(t *testing.T) {
		comp := newVEvent("uid-1")
		setProp(comp, ical.PropDateTimeStart, "20260105T090000Z", nil)
		setProp(comp, ical.PropDuration, "PT1H30M", nil)

		core, err := extractCore(comp)
		require.NoError(t, err)
		assert.True(t, core.End.Equal(time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)))
	})

	t.Run("no end and no duration yields an instant", func(t *testing.T) {
		comp := newVEvent("uid-1")
		setProp(comp, ical.PropDateTimeStart, "20260105T090000Z", nil)

		core, err := extractCore(comp)
		require.NoError(t, err)
		assert.True(t, core.End.Equal(core.Start))
	})

	t.Run("missing DTSTART", func(t *testing.T) {
		comp := newVEvent("uid-1")
		setProp(comp, ical.PropSummary, "No start", nil)

		_, err := extractCore(comp)
		assert.Error(t, err)
	})
}

func TestPropTimes(t *testing.T) {
	comp := newVEvent("uid-1")
	setProp(comp, ical.PropExceptionDates, "20260112T090000Z,20260119T090000Z", nil)

	got := propTimes(comp, ical.PropExceptionDates)
	require.Len(t, got, 2)
	assert.True(t, got[0].Equal(time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)))
	assert.True(t, got[1].Equal(time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)))

	assert.Nil(t, propTimes(comp, ical.PropRecurrenceDates))
}

func TestParseICalTime(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   string
		params  ical.Params
		want    time.Time
		wantErr bool
	}{
		{
			name:  "UTC date-time",
			value: "20260105T090000Z",
			want:  time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name:   "floating with TZID",
			value:  "20260105T090000",
			params: ical.Params{paramTZID: []string{"America/New_York"}},
			want:   time.Date(2026, 1, 5, 9, 0, 0, 0, newYork),
		},
		{
			name:  "floating without TZID is UTC",
			value: "20260105T090000",
			want:  time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name:   "explicit date value",
			value:  "20260105",
			params: ical.Params{"VALUE": []string{"DATE"}},
			want:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "bare date",
			value: "20260105",
			want:  time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		},
		{name: "garbage", value: "not-a-time", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseICalTime(tt.value, tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v, want %v", got, tt.want)
		})
	}
}
