package booking

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/rutomatrix/lab-console/internal/model"
)

// ErrNoActiveBooking is returned when no active booking covers the
// requested device and slot combination. This is a valid terminal state
// for a console view, not a fault.
var ErrNoActiveBooking = errors.New("no active booking found for this device and slot combination")

// SnapshotStore persists the last successful booking snapshot so a restart
// can serve last-known bookings until the source answers again.
type SnapshotStore interface {
	SaveBookings(ctx context.Context, bookings []model.Booking, fetchedAt time.Time) error
	LoadBookings(ctx context.Context) ([]model.Booking, time.Time, error)
}

// Manager caches booking snapshots and answers the device/slot matching
// queries the console views need. A failed refresh keeps the previous
// snapshot; only a successful fetch replaces it.
type Manager struct {
	client *Client
	store  SnapshotStore
	logger *slog.Logger

	mu        sync.RWMutex
	bookings  []model.Booking
	fetchedAt time.Time
}

// NewManager builds a Manager. store may be nil to run without persistence.
func NewManager(client *Client, store SnapshotStore, logger *slog.Logger) *Manager {
	return &Manager{client: client, store: store, logger: logger}
}

// Restore loads the persisted snapshot, if any. Missing data is not an
// error; the first successful refresh will fill the cache.
func (m *Manager) Restore(ctx context.Context) {
	if m.store == nil {
		return
	}
	bookings, fetchedAt, err := m.store.LoadBookings(ctx)
	if err != nil {
		m.logger.Warn("booking snapshot restore failed", "err", err)
		return
	}
	if len(bookings) == 0 {
		return
	}
	m.mu.Lock()
	m.bookings = bookings
	m.fetchedAt = fetchedAt
	m.mu.Unlock()
	m.logger.Info("booking snapshot restored", "bookings", len(bookings), "fetched_at", fetchedAt)
}

// Refresh fetches the current booking list and reports whether it differs
// from the cached snapshot. On fetch failure the previous snapshot stays.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	bookings, err := m.client.FetchBookings(ctx)
	if err != nil {
		m.logger.Error("booking fetch failed; keeping previous snapshot", "err", err)
		return false, err
	}
	now := time.Now().UTC()

	m.mu.Lock()
	changed := !reflect.DeepEqual(m.bookings, bookings)
	m.bookings = bookings
	m.fetchedAt = now
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveBookings(ctx, bookings, now); err != nil {
			m.logger.Warn("booking snapshot persist failed", "err", err)
		}
	}
	return changed, nil
}

// Snapshot returns the cached booking list and its fetch time.
func (m *Manager) Snapshot() ([]model.Booking, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Booking, len(m.bookings))
	copy(out, m.bookings)
	return out, m.fetchedAt
}

// MatchSlots finds the active booking for a device covering any of the
// requested slot tags. An empty ipType falls back to the first active
// booking of the device. If several active bookings match, the first by
// scan order wins; at most one active booking per device and slot set is
// expected to be enforced upstream.
func (m *Manager) MatchSlots(deviceID, ipType string) (model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]model.Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		if b.DeviceID == deviceID && b.Status == model.BookingActive {
			active = append(active, b)
		}
	}
	if len(active) == 0 {
		return model.Booking{}, ErrNoActiveBooking
	}
	if ipType == "" {
		ipType = active[0].IPType
	}
	requested := model.SplitSlots(ipType)
	for _, b := range active {
		if b.HasAnySlot(requested) {
			return b, nil
		}
	}
	return model.Booking{}, ErrNoActiveBooking
}

// MatchReservation finds the booking with the given device and reservation
// identifiers regardless of status; callers decide how to treat non-active
// results.
func (m *Manager) MatchReservation(deviceID, reservationID string) (model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.DeviceID == deviceID && b.ReservationID == reservationID {
			return b, nil
		}
	}
	return model.Booking{}, ErrNoActiveBooking
}
