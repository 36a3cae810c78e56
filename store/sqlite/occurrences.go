package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidesb007/kashcal/store"
)

const occurrenceColumns = `id, event_id, exception_event_id, calendar_id,
	start_ts, end_ts, start_day, end_day, is_cancelled`

// ReplaceOccurrences implements store.OccurrenceStore. The delete and the
// bulk insert commit together: a reader never observes the half-replaced
// set, and a failed insert rolls the event back to its prior state.
func (s *Store) ReplaceOccurrences(ctx context.Context, eventID string, cutoff time.Time, rows []store.OccurrenceRecord) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM occurrences WHERE event_id = ? AND start_ts >= ?;`,
			eventID, encodeTime(cutoff)); err != nil {
			return qerr("replace: delete occurrences", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO occurrences (event_id, exception_event_id, calendar_id,
				start_ts, end_ts, start_day, end_day, is_cancelled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);`)
		if err != nil {
			return qerr("replace: prepare insert", err)
		}
		defer stmt.Close()
		for _, rec := range rows {
			if _, err := stmt.ExecContext(ctx,
				rec.EventID, rec.ExceptionEventID, rec.CalendarID,
				encodeTime(rec.Start), encodeTime(rec.End),
				rec.StartDay, rec.EndDay, rec.Cancelled); err != nil {
				return qerr(fmt.Sprintf("replace: insert occurrence at %s", rec.Start), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifier.Mark(store.TableOccurrences)
	return nil
}

// UpdateOccurrence implements store.OccurrenceStore.
func (s *Store) UpdateOccurrence(ctx context.Context, rec store.OccurrenceRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE occurrences SET event_id = ?, exception_event_id = ?,
			calendar_id = ?, start_ts = ?, end_ts = ?, start_day = ?,
			end_day = ?, is_cancelled = ?
		WHERE id = ?;`,
		rec.EventID, rec.ExceptionEventID, rec.CalendarID,
		encodeTime(rec.Start), encodeTime(rec.End),
		rec.StartDay, rec.EndDay, rec.Cancelled, rec.ID)
	if err != nil {
		return qerr("update occurrence", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update occurrence %d: %w", rec.ID, store.ErrNotFound)
	}
	s.notifier.Mark(store.TableOccurrences)
	return nil
}

// OccurrencesForEvent implements store.OccurrenceStore.
func (s *Store) OccurrencesForEvent(ctx context.Context, eventID string) ([]store.OccurrenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+occurrenceColumns+` FROM occurrences
		WHERE event_id = ? ORDER BY start_ts;`, eventID)
	if err != nil {
		return nil, qerr("occurrences for event", err)
	}
	defer rows.Close()
	return collectOccurrences(rows)
}

// DeleteOccurrencesAfter implements store.OccurrenceStore.
func (s *Store) DeleteOccurrencesAfter(ctx context.Context, eventID string, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM occurrences WHERE event_id = ? AND start_ts >= ?;`,
		eventID, encodeTime(cutoff))
	if err != nil {
		return qerr("delete occurrences after", err)
	}
	s.notifier.Mark(store.TableOccurrences)
	return nil
}

// OccurrencesInRange implements store.OccurrenceStore. Overlap with
// [start, end) is inclusive of zero-length occurrences sitting exactly on
// the range start.
func (s *Store) OccurrencesInRange(ctx context.Context, start, end time.Time, includeCancelled bool) ([]store.OccurrenceRecord, error) {
	q := `SELECT ` + occurrenceColumns + ` FROM occurrences
		WHERE start_ts < ? AND (end_ts > ? OR (start_ts = end_ts AND start_ts >= ?))`
	if !includeCancelled {
		q += ` AND is_cancelled = 0`
	}
	q += ` ORDER BY start_ts;`
	rows, err := s.db.QueryContext(ctx, q,
		encodeTime(end), encodeTime(start), encodeTime(start))
	if err != nil {
		return nil, qerr("occurrences in range", err)
	}
	defer rows.Close()
	return collectOccurrences(rows)
}

// OccurrencesOnDay implements store.OccurrenceStore.
func (s *Store) OccurrencesOnDay(ctx context.Context, day int, includeCancelled bool) ([]store.OccurrenceRecord, error) {
	q := `SELECT ` + occurrenceColumns + ` FROM occurrences
		WHERE start_day <= ? AND end_day >= ?`
	if !includeCancelled {
		q += ` AND is_cancelled = 0`
	}
	q += ` ORDER BY start_ts;`
	rows, err := s.db.QueryContext(ctx, q, day, day)
	if err != nil {
		return nil, qerr("occurrences on day", err)
	}
	defer rows.Close()
	return collectOccurrences(rows)
}

// OccurrencesForEventInWindow implements store.OccurrenceStore.
func (s *Store) OccurrencesForEventInWindow(ctx context.Context, eventID string, from time.Time, windowDays int) ([]store.OccurrenceRecord, error) {
	until := from.AddDate(0, 0, windowDays)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+occurrenceColumns+` FROM occurrences
		WHERE event_id = ? AND start_ts >= ? AND start_ts < ?
			AND is_cancelled = 0
		ORDER BY start_ts;`,
		eventID, encodeTime(from), encodeTime(until))
	if err != nil {
		return nil, qerr("occurrences in window", err)
	}
	defer rows.Close()
	return collectOccurrences(rows)
}

// EventsMaterializedBefore implements store.OccurrenceStore: recurring
// masters whose farthest materialized instance falls short of target.
func (s *Store) EventsMaterializedBefore(ctx context.Context, target time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id FROM events e
		JOIN occurrences o ON o.event_id = e.id
		WHERE e.rrule IS NOT NULL AND e.original_event_id IS NULL
		GROUP BY e.id
		HAVING MAX(o.start_ts) < ?
		ORDER BY e.id;`, encodeTime(target))
	if err != nil {
		return nil, qerr("events materialized before", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, qerr("events materialized before scan", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, qerr("events materialized before rows", err)
	}
	return ids, nil
}

// LatestOccurrenceStart implements store.OccurrenceStore.
func (s *Store) LatestOccurrenceStart(ctx context.Context, eventID string) (time.Time, error) {
	var ms sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(start_ts) FROM occurrences WHERE event_id = ?;`,
		eventID).Scan(&ms)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, qerr("latest occurrence start", err)
	}
	if !ms.Valid {
		return time.Time{}, fmt.Errorf("no occurrences for event %s: %w", eventID, store.ErrNotFound)
	}
	return decodeTime(ms.Int64), nil
}

func collectOccurrences(rows *sql.Rows) ([]store.OccurrenceRecord, error) {
	var out []store.OccurrenceRecord
	for rows.Next() {
		var (
			rec            store.OccurrenceRecord
			startMS, endMS int64
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.ExceptionEventID,
			&rec.CalendarID, &startMS, &endMS, &rec.StartDay, &rec.EndDay,
			&rec.Cancelled); err != nil {
			return nil, qerr("scan occurrence", err)
		}
		rec.Start = decodeTime(startMS)
		rec.End = decodeTime(endMS)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, qerr("occurrence rows", err)
	}
	return out, nil
}
