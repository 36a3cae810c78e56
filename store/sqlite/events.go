package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/davidesb007/kashcal/store"
)

const eventColumns = `id, uid, calendar_id, title, description, location,
	start_ts, end_ts, is_all_day, timezone, rrule, exdate, rdate,
	original_event_id, original_instance_ts, sequence, sync_status`

// InsertEvent implements store.EventStore.
func (s *Store) InsertEvent(ctx context.Context, rec store.EventRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		eventArgs(rec)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert event %s: %w", rec.ID, store.ErrConflict)
		}
		return qerr("insert event", err)
	}
	s.notifier.Mark(store.TableEvents)
	return nil
}

// UpdateEvent implements store.EventStore.
func (s *Store) UpdateEvent(ctx context.Context, rec store.EventRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET uid = ?, calendar_id = ?, title = ?, description = ?,
			location = ?, start_ts = ?, end_ts = ?, is_all_day = ?, timezone = ?,
			rrule = ?, exdate = ?, rdate = ?, original_event_id = ?,
			original_instance_ts = ?, sequence = ?, sync_status = ?
		WHERE id = ?;`,
		append(eventArgs(rec)[1:], rec.ID)...)
	if err != nil {
		return qerr("update event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update event %s: %w", rec.ID, store.ErrNotFound)
	}
	s.notifier.Mark(store.TableEvents)
	return nil
}

// GetEvent implements store.EventStore.
func (s *Store) GetEvent(ctx context.Context, id string) (store.EventRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?;`, id)
	rec, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.EventRecord{}, fmt.Errorf("event %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.EventRecord{}, qerr("get event", err)
	}
	return rec, nil
}

// DeleteEvent implements store.EventStore. Occurrence rows and exception
// events cascade through foreign keys.
func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?;`, id)
	if err != nil {
		return qerr("delete event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete event %s: %w", id, store.ErrNotFound)
	}
	s.notifier.Mark(store.TableEvents, store.TableOccurrences)
	return nil
}

// EventsByIDs implements store.EventStore with a single batched lookup.
func (s *Store) EventsByIDs(ctx context.Context, ids []string) (map[string]store.EventRecord, error) {
	out := make(map[string]store.EventRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id IN (`+placeholders(len(ids))+`);`,
		stringArgs(ids)...)
	if err != nil {
		return nil, qerr("events by ids", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, qerr("events by ids scan", err)
		}
		out[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, qerr("events by ids rows", err)
	}
	return out, nil
}

// EventByUID implements store.EventStore.
func (s *Store) EventByUID(ctx context.Context, calendarID, uid string) (store.EventRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE calendar_id = ? AND uid = ? AND original_event_id IS NULL;`,
		calendarID, uid)
	rec, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.EventRecord{}, fmt.Errorf("event uid %s: %w", uid, store.ErrNotFound)
	}
	if err != nil {
		return store.EventRecord{}, qerr("event by uid", err)
	}
	return rec, nil
}

// ExceptionsForEvent implements store.EventStore.
func (s *Store) ExceptionsForEvent(ctx context.Context, masterID string) ([]store.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE original_event_id = ? ORDER BY original_instance_ts;`, masterID)
	if err != nil {
		return nil, qerr("exceptions for event", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// RecurringMasters implements store.EventStore.
func (s *Store) RecurringMasters(ctx context.Context) ([]store.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE rrule IS NOT NULL AND original_event_id IS NULL
		ORDER BY id;`)
	if err != nil {
		return nil, qerr("recurring masters", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

func eventArgs(rec store.EventRecord) []any {
	var origTS any
	if rec.OriginalStart != nil {
		origTS = encodeTime(*rec.OriginalStart)
	}
	return []any{
		rec.ID, rec.UID, rec.CalendarID, rec.Title, rec.Description,
		rec.Location, encodeTime(rec.Start), encodeTime(rec.End), rec.AllDay,
		rec.Timezone, rec.RRule, encodeTimes(rec.ExDates),
		encodeTimes(rec.RDates), rec.OriginalEventID, origTS,
		rec.Sequence, rec.SyncStatus,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (store.EventRecord, error) {
	var (
		rec              store.EventRecord
		startMS, endMS   int64
		exdates, rdates  string
		origInstanceMS   sql.NullInt64
	)
	err := row.Scan(
		&rec.ID, &rec.UID, &rec.CalendarID, &rec.Title, &rec.Description,
		&rec.Location, &startMS, &endMS, &rec.AllDay, &rec.Timezone,
		&rec.RRule, &exdates, &rdates, &rec.OriginalEventID,
		&origInstanceMS, &rec.Sequence, &rec.SyncStatus,
	)
	if err != nil {
		return store.EventRecord{}, err
	}
	rec.Start = decodeTime(startMS)
	rec.End = decodeTime(endMS)
	rec.ExDates = decodeTimes(exdates)
	rec.RDates = decodeTimes(rdates)
	if origInstanceMS.Valid {
		t := decodeTime(origInstanceMS.Int64)
		rec.OriginalStart = &t
	}
	return rec, nil
}

func collectEvents(rows *sql.Rows) ([]store.EventRecord, error) {
	var out []store.EventRecord
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, qerr("scan event", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, qerr("event rows", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	// modernc reports constraint failures in the message; there is no typed
	// error to test against.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
