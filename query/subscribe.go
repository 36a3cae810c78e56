package query

import (
	"context"
	"time"

	"github.com/davidesb007/kashcal/store"
)

// Subscribe evaluates the range query immediately and then re-evaluates it
// after every change to the events, occurrences or calendars tables, so a
// renamed event or a toggled calendar refreshes an open view even though
// only one side of the join changed. Deliveries are debounced by the
// store's notification window; a burst of writes produces one refresh.
//
// The returned channel closes when ctx is cancelled or cancel is called.
// A slow consumer only ever misses intermediate states, never the latest:
// pending results are replaced, not queued.
func (e *Engine) Subscribe(ctx context.Context, start, end time.Time, opts Options) (<-chan []Instance, func()) {
	out := make(chan []Instance, 1)
	sub := e.st.Subscribe(store.TableEvents, store.TableOccurrences, store.TableCalendars)

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer sub.Cancel()

		e.deliver(subCtx, out, start, end, opts)
		for {
			select {
			case <-subCtx.Done():
				return
			case <-sub.C:
				e.deliver(subCtx, out, start, end, opts)
			}
		}
	}()
	return out, cancel
}

func (e *Engine) deliver(ctx context.Context, out chan []Instance, start, end time.Time, opts Options) {
	instances, err := e.InRange(ctx, start, end, opts)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Warn("live query evaluation failed", "error", err)
		return
	}
	// Drop the stale pending result, if any, before queueing the fresh one.
	select {
	case <-out:
	default:
	}
	select {
	case out <- instances:
	case <-ctx.Done():
	}
}
