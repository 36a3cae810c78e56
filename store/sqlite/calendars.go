package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/davidesb007/kashcal/store"
)

// UpsertCalendar implements store.CalendarStore.
func (s *Store) UpsertCalendar(ctx context.Context, rec store.CalendarRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO calendars (id, name, color, account_id, visible)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, color = excluded.color,
			account_id = excluded.account_id, visible = excluded.visible;`,
		rec.ID, rec.Name, rec.Color, rec.AccountID, rec.Visible)
	if err != nil {
		return qerr("upsert calendar", err)
	}
	s.notifier.Mark(store.TableCalendars)
	return nil
}

// GetCalendar implements store.CalendarStore.
func (s *Store) GetCalendar(ctx context.Context, id string) (store.CalendarRecord, error) {
	var rec store.CalendarRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, color, account_id, visible FROM calendars WHERE id = ?;`, id).
		Scan(&rec.ID, &rec.Name, &rec.Color, &rec.AccountID, &rec.Visible)
	if errors.Is(err, sql.ErrNoRows) {
		return store.CalendarRecord{}, fmt.Errorf("calendar %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.CalendarRecord{}, qerr("get calendar", err)
	}
	return rec, nil
}

// CalendarsByIDs implements store.CalendarStore with a single batched lookup.
func (s *Store) CalendarsByIDs(ctx context.Context, ids []string) (map[string]store.CalendarRecord, error) {
	out := make(map[string]store.CalendarRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, account_id, visible FROM calendars
		WHERE id IN (`+placeholders(len(ids))+`);`, stringArgs(ids)...)
	if err != nil {
		return nil, qerr("calendars by ids", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec store.CalendarRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Color, &rec.AccountID, &rec.Visible); err != nil {
			return nil, qerr("calendars by ids scan", err)
		}
		out[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, qerr("calendars by ids rows", err)
	}
	return out, nil
}

// ListCalendars implements store.CalendarStore.
func (s *Store) ListCalendars(ctx context.Context) ([]store.CalendarRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, account_id, visible FROM calendars ORDER BY id;`)
	if err != nil {
		return nil, qerr("list calendars", err)
	}
	defer rows.Close()
	var out []store.CalendarRecord
	for rows.Next() {
		var rec store.CalendarRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Color, &rec.AccountID, &rec.Visible); err != nil {
			return nil, qerr("list calendars scan", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, qerr("list calendars rows", err)
	}
	return out, nil
}

// SetCalendarVisible implements store.CalendarStore.
func (s *Store) SetCalendarVisible(ctx context.Context, id string, visible bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE calendars SET visible = ? WHERE id = ?;`, visible, id)
	if err != nil {
		return qerr("set calendar visible", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("calendar %s: %w", id, store.ErrNotFound)
	}
	s.notifier.Mark(store.TableCalendars)
	return nil
}

// VisibleCalendarIDs implements store.CalendarStore.
func (s *Store) VisibleCalendarIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM calendars WHERE visible = 1;`)
	if err != nil {
		return nil, qerr("visible calendar ids", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, qerr("visible calendar ids scan", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, qerr("visible calendar ids rows", err)
	}
	return out, nil
}
