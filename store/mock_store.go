package store

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockStore implements the Store interface for testing.
type MockStore struct {
	mock.Mock
	notifier *Notifier
}

// NewMockStore creates a mock with a working notifier so subscription
// plumbing behaves like the real store.
func NewMockStore() *MockStore {
	return &MockStore{notifier: NewNotifier(time.Millisecond)}
}

func (m *MockStore) InsertEvent(ctx context.Context, rec EventRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) UpdateEvent(ctx context.Context, rec EventRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) GetEvent(ctx context.Context, id string) (EventRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(EventRecord), args.Error(1)
}

func (m *MockStore) DeleteEvent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) EventsByIDs(ctx context.Context, ids []string) (map[string]EventRecord, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]EventRecord), args.Error(1)
}

func (m *MockStore) EventByUID(ctx context.Context, calendarID, uid string) (EventRecord, error) {
	args := m.Called(ctx, calendarID, uid)
	return args.Get(0).(EventRecord), args.Error(1)
}

func (m *MockStore) ExceptionsForEvent(ctx context.Context, masterID string) ([]EventRecord, error) {
	args := m.Called(ctx, masterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]EventRecord), args.Error(1)
}

func (m *MockStore) RecurringMasters(ctx context.Context) ([]EventRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]EventRecord), args.Error(1)
}

func (m *MockStore) ReplaceOccurrences(ctx context.Context, eventID string, cutoff time.Time, rows []OccurrenceRecord) error {
	args := m.Called(ctx, eventID, cutoff, rows)
	return args.Error(0)
}

func (m *MockStore) UpdateOccurrence(ctx context.Context, rec OccurrenceRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) OccurrencesForEvent(ctx context.Context, eventID string) ([]OccurrenceRecord, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]OccurrenceRecord), args.Error(1)
}

func (m *MockStore) DeleteOccurrencesAfter(ctx context.Context, eventID string, cutoff time.Time) error {
	args := m.Called(ctx, eventID, cutoff)
	return args.Error(0)
}

func (m *MockStore) OccurrencesInRange(ctx context.Context, start, end time.Time, includeCancelled bool) ([]OccurrenceRecord, error) {
	args := m.Called(ctx, start, end, includeCancelled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]OccurrenceRecord), args.Error(1)
}

func (m *MockStore) OccurrencesOnDay(ctx context.Context, day int, includeCancelled bool) ([]OccurrenceRecord, error) {
	args := m.Called(ctx, day, includeCancelled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]OccurrenceRecord), args.Error(1)
}

func (m *MockStore) OccurrencesForEventInWindow(ctx context.Context, eventID string, from time.Time, windowDays int) ([]OccurrenceRecord, error) {
	args := m.Called(ctx, eventID, from, windowDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]OccurrenceRecord), args.Error(1)
}

func (m *MockStore) EventsMaterializedBefore(ctx context.Context, target time.Time) ([]string, error) {
	args := m.Called(ctx, target)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) LatestOccurrenceStart(ctx context.Context, eventID string) (time.Time, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockStore) UpsertCalendar(ctx context.Context, rec CalendarRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockStore) GetCalendar(ctx context.Context, id string) (CalendarRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(CalendarRecord), args.Error(1)
}

func (m *MockStore) CalendarsByIDs(ctx context.Context, ids []string) (map[string]CalendarRecord, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]CalendarRecord), args.Error(1)
}

func (m *MockStore) ListCalendars(ctx context.Context) ([]CalendarRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]CalendarRecord), args.Error(1)
}

func (m *MockStore) SetCalendarVisible(ctx context.Context, id string, visible bool) error {
	args := m.Called(ctx, id, visible)
	return args.Error(0)
}

func (m *MockStore) VisibleCalendarIDs(ctx context.Context) (map[string]bool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

// Subscribe goes through the real notifier rather than the mock expectation
// machinery; tests can call MarkChanged to simulate writes.
func (m *MockStore) Subscribe(tables ...Table) *Subscription {
	return m.notifier.Subscribe(tables...)
}

// MarkChanged simulates a committed write to the given tables.
func (m *MockStore) MarkChanged(tables ...Table) {
	m.notifier.Mark(tables...)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
