package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule(t *testing.T) {
	until := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		text    string
		want    Rule
		wantErr bool
	}{
		{
			name: "daily",
			text: "FREQ=DAILY",
			want: Rule{Freq: Daily},
		},
		{
			name: "weekly with interval and count",
			text: "FREQ=WEEKLY;INTERVAL=2;COUNT=10",
			want: Rule{Freq: Weekly, Interval: 2, Count: 10},
		},
		{
			name: "weekly by weekdays",
			text: "FREQ=WEEKLY;BYDAY=MO,WE,FR",
			want: Rule{Freq: Weekly, ByWeekday: []time.Weekday{time.Monday, time.Wednesday, time.Friday}},
		},
		{
			name: "monthly by month day",
			text: "FREQ=MONTHLY;BYMONTHDAY=15",
			want: Rule{Freq: Monthly, ByMonthDay: []int{15}},
		},
		{
			name: "yearly with until",
			text: "FREQ=YEARLY;UNTIL=20260630T000000Z",
			want: Rule{Freq: Yearly, Until: &until},
		},
		{name: "malformed", text: "FREQ=NOPE", wantErr: true},
		{name: "sub-daily frequency", text: "FREQ=HOURLY", wantErr: true},
		{name: "bysetpos", text: "FREQ=MONTHLY;BYDAY=MO;BYSETPOS=1", wantErr: true},
		{name: "byhour", text: "FREQ=DAILY;BYHOUR=9", wantErr: true},
		{name: "bymonth", text: "FREQ=YEARLY;BYMONTH=3", wantErr: true},
		{name: "positional weekday", text: "FREQ=MONTHLY;BYDAY=2MO", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRule(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				var recErr *RecurrenceError
				assert.ErrorAs(t, err, &recErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Freq, got.Freq)
			assert.Equal(t, tt.want.Interval, got.Interval)
			assert.Equal(t, tt.want.Count, got.Count)
			assert.Equal(t, tt.want.ByWeekday, got.ByWeekday)
			assert.Equal(t, tt.want.ByMonthDay, got.ByMonthDay)
			if tt.want.Until != nil {
				require.NotNil(t, got.Until)
				assert.True(t, got.Until.Equal(*tt.want.Until))
			} else {
				assert.Nil(t, got.Until)
			}
		})
	}
}

func TestRuleStringRoundTrip(t *testing.T) {
	until := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)

	rules := []Rule{
		{Freq: Daily},
		{Freq: Daily, Interval: 3},
		{Freq: Weekly, Count: 5, ByWeekday: []time.Weekday{time.Monday, time.Thursday}},
		{Freq: Monthly, ByMonthDay: []int{1, 15}},
		{Freq: Yearly, Until: &until},
	}

	for _, rule := range rules {
		t.Run(rule.String(), func(t *testing.T) {
			parsed, err := ParseRule(rule.String())
			require.NoError(t, err)
			assert.Equal(t, rule.Freq, parsed.Freq)
			assert.Equal(t, rule.Count, parsed.Count)
			assert.Equal(t, rule.ByWeekday, parsed.ByWeekday)
			assert.Equal(t, rule.ByMonthDay, parsed.ByMonthDay)
		})
	}
}

func TestRuleValidate(t *testing.T) {
	until := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "plain weekly", rule: Rule{Freq: Weekly}},
		{name: "count only", rule: Rule{Freq: Daily, Count: 10}},
		{name: "until only", rule: Rule{Freq: Daily, Until: &until}},
		{name: "count and until together", rule: Rule{Freq: Daily, Count: 10, Until: &until}, wantErr: true},
		{name: "negative interval", rule: Rule{Freq: Daily, Interval: -1}, wantErr: true},
		{name: "month day out of range", rule: Rule{Freq: Monthly, ByMonthDay: []int{32}}, wantErr: true},
		{name: "frequency out of range", rule: Rule{Freq: Freq(9)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
