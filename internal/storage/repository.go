package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rutomatrix/lab-console/internal/model"
)

var ErrNotFound = errors.New("not found")

// SaveBookings replaces the persisted booking snapshot. The whole snapshot
// is swapped in one transaction so a reader never sees a partial fetch.
func (r *Repository) SaveBookings(ctx context.Context, bookings []model.Booking, fetchedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings_cache`); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bookings_cache (device_id, reservation_id, device_name, user_name, ip_type, status, end_time, device_details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range bookings {
		details, err := json.Marshal(b.DeviceDetails)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(
			ctx,
			b.DeviceID,
			b.ReservationID,
			b.DeviceName,
			b.UserName,
			b.IPType,
			string(b.Status),
			b.EndTime.UTC().Format(time.RFC3339Nano),
			string(details),
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bookings_cache_meta (id, fetched_at) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET fetched_at=excluded.fetched_at`,
		fetchedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadBookings returns the persisted snapshot and when it was fetched. An
// empty table yields an empty slice and zero time, not an error.
func (r *Repository) LoadBookings(ctx context.Context) ([]model.Booking, time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, reservation_id, device_name, user_name, ip_type, status, end_time, device_details_json
		FROM bookings_cache`)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer rows.Close()

	bookings := []model.Booking{}
	for rows.Next() {
		var (
			b        model.Booking
			userName sql.NullString
			status   string
			endTime  string
			details  string
		)
		if err := rows.Scan(&b.DeviceID, &b.ReservationID, &b.DeviceName, &userName, &b.IPType, &status, &endTime, &details); err != nil {
			return nil, time.Time{}, err
		}
		b.UserName = userName.String
		b.Status = model.BookingStatus(status)
		if ts, err := time.Parse(time.RFC3339Nano, endTime); err == nil {
			b.EndTime = ts.UTC()
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &b.DeviceDetails); err != nil {
				b.DeviceDetails = nil
			}
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}

	var fetchedAt time.Time
	var raw string
	err = r.db.QueryRowContext(ctx, `SELECT fetched_at FROM bookings_cache_meta WHERE id = 1`).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, time.Time{}, err
	default:
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			fetchedAt = ts.UTC()
		}
	}
	return bookings, fetchedAt, nil
}

// AppendEvent writes one journal row.
func (r *Repository) AppendEvent(ctx context.Context, event model.SessionEvent) error {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_events (occurred_at, console_id, window_id, kind, detail)
		VALUES (?, ?, ?, ?, ?)`,
		occurredAt.UTC().Format(time.RFC3339Nano),
		event.ConsoleID,
		nullableString(event.WindowID),
		event.Kind,
		nullableString(event.Detail),
	)
	return err
}

// ListEvents returns a console's journal, newest first, capped at limit.
func (r *Repository) ListEvents(ctx context.Context, consoleID string, limit int) ([]model.SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, occurred_at, console_id, window_id, kind, detail
		FROM session_events
		WHERE console_id = ?
		ORDER BY id DESC
		LIMIT ?`, consoleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.SessionEvent{}
	for rows.Next() {
		var (
			event            model.SessionEvent
			occurredAt       string
			windowID, detail sql.NullString
		)
		if err := rows.Scan(&event.ID, &occurredAt, &event.ConsoleID, &windowID, &event.Kind, &detail); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, occurredAt); err == nil {
			event.OccurredAt = ts.UTC()
		}
		event.WindowID = windowID.String
		event.Detail = detail.String
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
