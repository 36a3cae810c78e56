package occurrence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/davidesb007/kashcal/calendar"
	"github.com/davidesb007/kashcal/recurrence"
	"github.com/davidesb007/kashcal/store"
)

// ErrExceptionMatchMiss reports that a link or cancel request found no
// occurrence within tolerance. Reconciler methods signal a miss through
// their boolean return; this sentinel exists for callers that need to carry
// the condition as an error value.
var ErrExceptionMatchMiss = errors.New("no occurrence within tolerance")

// Reconciler links and unlinks exception events and cancellation markers
// against materialized occurrence rows. Matching uses an absolute-difference
// tolerance because a rule-generated instant and an upstream RECURRENCE-ID
// or EXDATE rarely agree bit-for-bit after timezone and DST rounding.
//
// All transitions are idempotent: applying the same exception or EXDATE
// twice has no effect beyond the first application. A request against an
// instance that is not yet materialized returns (false, nil), a deferred
// no-op; the caller retries after horizon extension.
type Reconciler struct {
	st     store.Store
	tol    time.Duration
	logger *slog.Logger
}

// NewReconciler creates a reconciler. A zero tolerance means
// DefaultMatchTolerance; a nil logger discards.
func NewReconciler(st store.Store, tol time.Duration, logger *slog.Logger) *Reconciler {
	if tol <= 0 {
		tol = DefaultMatchTolerance
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{st: st, tol: tol, logger: logger}
}

// LinkException rewrites the matching occurrence of the exception's master
// event to carry the exception's own start/end/day codes and id, un-
// cancelling it if an EXDATE had previously cancelled it. A re-edit of an
// already-linked exception matches by exception id first: after the first
// edit the row's stored start has diverged from the original instance time,
// so tolerance against the original is only the fallback.
func (r *Reconciler) LinkException(ctx context.Context, exc calendar.Exception) (bool, error) {
	rows, err := r.st.OccurrencesForEvent(ctx, exc.OriginalEventID)
	if err != nil {
		return false, fmt.Errorf("link exception %s: %w", exc.ID, err)
	}

	row, ok := findByExceptionID(rows, exc.ID)
	if !ok {
		row, ok = r.findByInstanceTime(rows, exc.OriginalStart)
	}
	if !ok {
		r.logger.Info("exception link deferred, no materialized instance",
			"exception", exc.ID, "master", exc.OriginalEventID,
			"original_start", exc.OriginalStart)
		return false, nil
	}

	updated := row
	overrideRow(&updated, exc)
	if occurrenceEqual(row, updated) {
		return true, nil
	}
	if err := r.st.UpdateOccurrence(ctx, updated); err != nil {
		return false, fmt.Errorf("link exception %s: %w", exc.ID, err)
	}
	return true, nil
}

// UnlinkException restores the occurrence previously overridden by the
// exception to its original master-derived state: original start/end/day
// codes, no exception link, not cancelled.
func (r *Reconciler) UnlinkException(ctx context.Context, exc calendar.Exception) (bool, error) {
	masterRec, err := r.st.GetEvent(ctx, exc.OriginalEventID)
	if err != nil {
		return false, fmt.Errorf("unlink exception %s: %w", exc.ID, err)
	}
	masterEv, err := calendar.DecodeEvent(masterRec)
	if err != nil {
		return false, fmt.Errorf("unlink exception %s: %w", exc.ID, err)
	}
	master := masterEv.Core()

	rows, err := r.st.OccurrencesForEvent(ctx, exc.OriginalEventID)
	if err != nil {
		return false, fmt.Errorf("unlink exception %s: %w", exc.ID, err)
	}
	row, ok := findByExceptionID(rows, exc.ID)
	if !ok {
		return false, nil
	}

	updated := row
	updated.ExceptionEventID = nil
	updated.Start = exc.OriginalStart
	updated.End = exc.OriginalStart.Add(master.Duration())
	updated.StartDay, updated.EndDay = daySpan(master, updated.Start, updated.End)
	updated.Cancelled = false
	if err := r.st.UpdateOccurrence(ctx, updated); err != nil {
		return false, fmt.Errorf("unlink exception %s: %w", exc.ID, err)
	}
	return true, nil
}

// CancelInstance applies an EXDATE: the matching un-linked occurrence's
// cancelled flag is set. The row persists so that removing the EXDATE later
// needs no re-expansion. Exception-linked rows are left alone; an exception
// supersedes a cancellation.
func (r *Reconciler) CancelInstance(ctx context.Context, eventID string, at time.Time) (bool, error) {
	return r.setCancelled(ctx, eventID, at, true)
}

// UncancelInstance reverses CancelInstance when an EXDATE is removed.
func (r *Reconciler) UncancelInstance(ctx context.Context, eventID string, at time.Time) (bool, error) {
	return r.setCancelled(ctx, eventID, at, false)
}

func (r *Reconciler) setCancelled(ctx context.Context, eventID string, at time.Time, cancelled bool) (bool, error) {
	rows, err := r.st.OccurrencesForEvent(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("cancel instance: %w", err)
	}
	row, ok := r.findByInstanceTime(rows, at)
	if !ok {
		r.logger.Info("cancellation deferred, no materialized instance",
			"event", eventID, "at", at, "cancelled", cancelled)
		return false, nil
	}
	if row.Cancelled == cancelled {
		return true, nil
	}
	row.Cancelled = cancelled
	if err := r.st.UpdateOccurrence(ctx, row); err != nil {
		return false, fmt.Errorf("cancel instance: %w", err)
	}
	return true, nil
}

func findByExceptionID(rows []store.OccurrenceRecord, excID string) (store.OccurrenceRecord, bool) {
	for _, row := range rows {
		if row.ExceptionEventID != nil && *row.ExceptionEventID == excID {
			return row, true
		}
	}
	return store.OccurrenceRecord{}, false
}

// findByInstanceTime matches un-linked rows whose start is within tolerance
// of the requested instance time. Linked rows are excluded: their start no
// longer reflects the rule-generated instant.
func (r *Reconciler) findByInstanceTime(rows []store.OccurrenceRecord, at time.Time) (store.OccurrenceRecord, bool) {
	for _, row := range rows {
		if row.ExceptionEventID != nil {
			continue
		}
		if recurrence.MatchesWithin(row.Start, at, r.tol) {
			return row, true
		}
	}
	return store.OccurrenceRecord{}, false
}

func occurrenceEqual(a, b store.OccurrenceRecord) bool {
	aExc, bExc := "", ""
	if a.ExceptionEventID != nil {
		aExc = *a.ExceptionEventID
	}
	if b.ExceptionEventID != nil {
		bExc = *b.ExceptionEventID
	}
	return a.EventID == b.EventID && aExc == bExc &&
		a.Start.Equal(b.Start) && a.End.Equal(b.End) &&
		a.StartDay == b.StartDay && a.EndDay == b.EndDay &&
		a.Cancelled == b.Cancelled
}
