package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rutomatrix/lab-console/internal/alert"
	"github.com/rutomatrix/lab-console/internal/booking"
	"github.com/rutomatrix/lab-console/internal/model"
)

// ErrConsoleNotFound is returned for operations on unknown console ids.
var ErrConsoleNotFound = errors.New("console not found")

// WindowCloser tears down every popup window a console owns.
type WindowCloser interface {
	CloseAll(consoleID string)
}

// Journal records session lifecycle events. A nil journal disables
// recording.
type Journal interface {
	AppendEvent(ctx context.Context, event model.SessionEvent) error
}

// Console is one attached dashboard view: a booking identity plus the
// countdown driving its timer label and alerts.
type console struct {
	id            string
	deviceID      string
	reservationID string

	// mu guards everything below, ipType included: resync rewrites it to
	// the matched booking's slot set.
	mu         sync.Mutex
	ipType     string
	booking    model.Booking
	hasBooking bool
	countdown  *Countdown
	dispatcher *alert.Dispatcher
	// detached marks a console torn down; a resync that snapshotted the
	// console earlier must not restart its countdown.
	detached bool
}

// View is the externally visible state of a console.
type View struct {
	ID            string    `json:"id"`
	DeviceID      string    `json:"device_id"`
	IPType        string    `json:"ip_type"`
	ReservationID string    `json:"reservation_id,omitempty"`
	DeviceName    string    `json:"device_name,omitempty"`
	UserName      string    `json:"user_name,omitempty"`
	EndTime       time.Time `json:"end_time,omitempty"`
	TimeLeft      string    `json:"time_left"`
	HasBooking    bool      `json:"has_booking"`
}

// AttachInput identifies the device context a console view opens on.
// Either ReservationID or IPType narrows the booking; both empty falls
// back to the device's first active booking.
type AttachInput struct {
	DeviceID      string `json:"device_id"`
	IPType        string `json:"ip_type"`
	ReservationID string `json:"reservation_id"`
}

// Options carries the fixed collaborator settings for a Manager.
type Options struct {
	ReservationsURL string
	AlertSoundURL   string
	AlertAckTimeout time.Duration
}

// Manager owns all console views. Each console gets its own countdown and
// alert dispatcher; a booking re-fetch resolving a different end time
// atomically replaces the countdown so stale loops never fire alerts.
type Manager struct {
	bookings *booking.Manager
	hub      *Hub
	windows  WindowCloser
	journal  Journal
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	consoles map[string]*console
}

// NewManager builds a Manager. windows and journal may be nil.
func NewManager(bookings *booking.Manager, hub *Hub, windows WindowCloser, journal Journal, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		bookings: bookings,
		hub:      hub,
		windows:  windows,
		journal:  journal,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		consoles: map[string]*console{},
	}
}

// Attach creates a console view for a device context and starts its
// countdown if an active booking matches. A console without a booking is
// a valid terminal state; a later resync can still start its timer.
func (m *Manager) Attach(ctx context.Context, in AttachInput) (View, error) {
	id := uuid.NewString()
	cons := &console{
		id:            id,
		deviceID:      in.DeviceID,
		ipType:        in.IPType,
		reservationID: in.ReservationID,
	}

	logger := m.logger.With("console_id", id)
	dispatcher := alert.New(&consolePresenter{hub: m.hub, consoleID: id, soundURL: m.opts.AlertSoundURL}, m.opts.AlertAckTimeout, logger)
	cons.dispatcher = dispatcher
	cons.countdown = NewCountdown(
		&consoleSink{hub: m.hub, consoleID: id},
		dispatcher,
		func() { m.expire(id) },
		logger,
	)

	if matched, err := m.resolve(in); err == nil {
		cons.booking = matched
		cons.hasBooking = true
		cons.ipType = matched.IPType
		cons.countdown.Start(matched.EndTime, matched.DeviceName, matched.IPType)
	} else {
		logger.Info("console attached without active booking", "device_id", in.DeviceID, "ip_type", in.IPType)
	}

	m.mu.Lock()
	m.consoles[id] = cons
	m.mu.Unlock()

	m.record(ctx, model.SessionEvent{ConsoleID: id, Kind: model.EventConsoleAttached, Detail: in.DeviceID})
	return m.view(cons), nil
}

// Detach tears a console down: the countdown stops, every popup window it
// owns closes and the console channel drops.
func (m *Manager) Detach(ctx context.Context, id string) error {
	m.mu.Lock()
	cons, ok := m.consoles[id]
	delete(m.consoles, id)
	m.mu.Unlock()
	if !ok {
		return ErrConsoleNotFound
	}

	// Flag before stopping: a resync holding a pre-removal snapshot of the
	// console list must not restart this countdown.
	cons.mu.Lock()
	cons.detached = true
	cons.mu.Unlock()
	cons.countdown.Stop()
	if m.windows != nil {
		m.windows.CloseAll(id)
	}
	m.hub.Drop(id)
	m.record(ctx, model.SessionEvent{ConsoleID: id, Kind: model.EventConsoleDetached})
	return nil
}

// Get returns the current state of a console.
func (m *Manager) Get(id string) (View, bool) {
	m.mu.Lock()
	cons, ok := m.consoles[id]
	m.mu.Unlock()
	if !ok {
		return View{}, false
	}
	return m.view(cons), true
}

// Booking returns the console's current booking, if any.
func (m *Manager) Booking(id string) (model.Booking, bool) {
	m.mu.Lock()
	cons, ok := m.consoles[id]
	m.mu.Unlock()
	if !ok {
		return model.Booking{}, false
	}
	cons.mu.Lock()
	defer cons.mu.Unlock()
	if !cons.hasBooking {
		return model.Booking{}, false
	}
	return cons.booking, true
}

// Ack resolves a pending alert acknowledgment for a console.
func (m *Manager) Ack(id string) {
	m.hub.Ack(id)
}

// NotifyWindowBlocked tells a console that its popup launch was blocked by
// the browser. Fire and forget; the alert goes through the console's
// dispatcher so it cannot collide with a threshold alert already in flight.
func (m *Manager) NotifyWindowBlocked(consoleID, deviceKey string) {
	m.mu.Lock()
	cons, ok := m.consoles[consoleID]
	m.mu.Unlock()
	if !ok {
		return
	}
	go m.presentWindowBlocked(cons, deviceKey)
}

func (m *Manager) presentWindowBlocked(cons *console, deviceKey string) bool {
	message := fmt.Sprintf("The %s window could not open. Please allow popups for this site.", model.SlotByTag(deviceKey).DisplayName)
	return cons.dispatcher.Notify(context.Background(), message)
}

// Resync re-resolves every console against the current booking snapshot.
// A console whose end time changed gets a fresh countdown (old loop
// cancelled first); one whose booking vanished parks without a timer.
func (m *Manager) Resync(ctx context.Context) {
	m.mu.Lock()
	consoles := make([]*console, 0, len(m.consoles))
	for _, cons := range m.consoles {
		consoles = append(consoles, cons)
	}
	m.mu.Unlock()

	for _, cons := range consoles {
		m.resyncConsole(ctx, cons)
	}
}

func (m *Manager) resyncConsole(ctx context.Context, cons *console) {
	cons.mu.Lock()
	defer cons.mu.Unlock()
	if cons.detached {
		return
	}

	matched, err := m.resolve(AttachInput{
		DeviceID:      cons.deviceID,
		IPType:        cons.ipType,
		ReservationID: cons.reservationID,
	})
	if err != nil {
		if cons.hasBooking {
			m.logger.Info("booking no longer active; stopping countdown", "console_id", cons.id)
			cons.hasBooking = false
			cons.countdown.Stop()
		}
		return
	}

	if cons.hasBooking && matched.EndTime.Equal(cons.booking.EndTime) {
		cons.booking = matched
		return
	}

	cons.booking = matched
	cons.hasBooking = true
	cons.ipType = matched.IPType
	cons.countdown.Start(matched.EndTime, matched.DeviceName, matched.IPType)
	m.record(ctx, model.SessionEvent{ConsoleID: cons.id, Kind: model.EventTimerReplaced, Detail: matched.EndTime.Format(time.RFC3339)})
}

// Run resyncs consoles on the configured interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Resync(ctx)
		}
	}
}

// Shutdown stops every console countdown. Used on process teardown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	consoles := make([]*console, 0, len(m.consoles))
	for _, cons := range m.consoles {
		consoles = append(consoles, cons)
	}
	m.consoles = map[string]*console{}
	m.mu.Unlock()
	for _, cons := range consoles {
		cons.mu.Lock()
		cons.detached = true
		cons.mu.Unlock()
		cons.countdown.Stop()
	}
}

func (m *Manager) resolve(in AttachInput) (model.Booking, error) {
	if in.ReservationID != "" {
		return m.bookings.MatchReservation(in.DeviceID, in.ReservationID)
	}
	return m.bookings.MatchSlots(in.DeviceID, in.IPType)
}

func (m *Manager) expire(consoleID string) {
	m.hub.SendRedirect(consoleID, m.opts.ReservationsURL)
	if m.windows != nil {
		m.windows.CloseAll(consoleID)
	}
	m.record(context.Background(), model.SessionEvent{ConsoleID: consoleID, Kind: model.EventSessionExpired})
}

func (m *Manager) view(cons *console) View {
	cons.mu.Lock()
	defer cons.mu.Unlock()
	view := View{
		ID:            cons.id,
		DeviceID:      cons.deviceID,
		IPType:        cons.ipType,
		ReservationID: cons.reservationID,
		HasBooking:    cons.hasBooking,
		TimeLeft:      "00:00:00",
	}
	if cons.hasBooking {
		view.DeviceName = cons.booking.DeviceName
		view.UserName = cons.booking.UserName
		view.EndTime = cons.booking.EndTime
		view.TimeLeft = FormatRemaining(cons.booking.EndTime.Sub(m.now()))
	}
	return view
}

func (m *Manager) record(ctx context.Context, event model.SessionEvent) {
	if m.journal == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now().UTC()
	}
	if err := m.journal.AppendEvent(ctx, event); err != nil {
		m.logger.Warn("journal append failed", "kind", event.Kind, "err", err)
	}
}

type consoleSink struct {
	hub       *Hub
	consoleID string
}

func (s *consoleSink) PublishTime(timeLeft string, inFinalWindow bool) {
	s.hub.PublishTime(s.consoleID, timeLeft, inFinalWindow)
}

type consolePresenter struct {
	hub       *Hub
	consoleID string
	soundURL  string
}

func (p *consolePresenter) PlaySound(ctx context.Context) error {
	return p.hub.SendPlaySound(p.consoleID, p.soundURL)
}

func (p *consolePresenter) Present(ctx context.Context, message string) error {
	return p.hub.PresentAlert(ctx, p.consoleID, message)
}
