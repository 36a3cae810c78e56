package store

import (
	"sync"
	"time"
)

// Table identifies a persisted table for change notification.
type Table int

const (
	TableEvents Table = iota
	TableOccurrences
	TableCalendars
)

// String provides a human-readable representation of the Table.
func (t Table) String() string {
	switch t {
	case TableEvents:
		return "events"
	case TableOccurrences:
		return "occurrences"
	case TableCalendars:
		return "calendars"
	default:
		return "unknown"
	}
}

// DefaultDebounce is the coalescing window for change delivery. Bursts of
// writes inside the window (bulk sync) produce a single downstream signal.
const DefaultDebounce = 50 * time.Millisecond

// Subscription receives a signal on C after any watched table changes.
// Signals are coalesced; one signal may stand for many writes.
type Subscription struct {
	// C fires at most once per debounce window.
	C <-chan struct{}

	c      chan struct{}
	tables map[Table]bool
	cancel func(s *Subscription)

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// Cancel detaches the subscription. C is never closed, so a pending read
// on a cancelled subscription must be guarded by the caller's context.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	s.cancel(s)
}

func (s *Subscription) watches(t Table) bool { return s.tables[t] }

// mark schedules a delivery unless one is already pending.
func (s *Subscription) mark(debounce time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(debounce, func() {
		s.mu.Lock()
		s.timer = nil
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}
		select {
		case s.c <- struct{}{}:
		default: // a signal is already queued, nothing is lost by dropping
		}
	})
}

// Notifier is an explicit change-notification fan-out. Writers mark the
// tables they touched; subscriptions watching those tables get a debounced
// signal. This replaces framework-level table tracking: the store
// implementation calls Mark after every committed mutation.
type Notifier struct {
	mu       sync.Mutex
	subs     map[*Subscription]struct{}
	debounce time.Duration
}

// NewNotifier creates a fan-out with the given debounce window; zero or
// negative means DefaultDebounce.
func NewNotifier(debounce time.Duration) *Notifier {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Notifier{
		subs:     make(map[*Subscription]struct{}),
		debounce: debounce,
	}
}

// Subscribe registers interest in the given tables. With no tables, the
// subscription watches everything.
func (n *Notifier) Subscribe(tables ...Table) *Subscription {
	watched := make(map[Table]bool, len(tables))
	if len(tables) == 0 {
		watched[TableEvents] = true
		watched[TableOccurrences] = true
		watched[TableCalendars] = true
	}
	for _, t := range tables {
		watched[t] = true
	}

	c := make(chan struct{}, 1)
	sub := &Subscription{
		C:      c,
		c:      c,
		tables: watched,
		cancel: n.remove,
	}

	n.mu.Lock()
	n.subs[sub] = struct{}{}
	n.mu.Unlock()
	return sub
}

// Mark records that the given tables changed and schedules delivery to the
// matching subscriptions.
func (n *Notifier) Mark(tables ...Table) {
	n.mu.Lock()
	var hit []*Subscription
	for sub := range n.subs {
		for _, t := range tables {
			if sub.watches(t) {
				hit = append(hit, sub)
				break
			}
		}
	}
	n.mu.Unlock()

	for _, sub := range hit {
		sub.mark(n.debounce)
	}
}

func (n *Notifier) remove(s *Subscription) {
	n.mu.Lock()
	delete(n.subs, s)
	n.mu.Unlock()
}
