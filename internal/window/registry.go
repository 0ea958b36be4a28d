package window

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rutomatrix/lab-console/internal/model"
	"github.com/rutomatrix/lab-console/internal/session"
)

// ErrWindowNotFound is returned when attaching to an unknown or already
// reaped window.
var ErrWindowNotFound = errors.New("window not found")

// Conn is the transport half of a popup channel. Satisfied by
// *websocket.Conn.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Entry is one tracked popup window. EndTime is frozen at open time: a
// booking extension fetched afterwards does not reach an already open
// popup, matching the established dashboard behavior.
type entry struct {
	id        string
	consoleID string
	deviceKey string
	endTime   time.Time
	openedAt  time.Time

	title    string
	conn     Conn
	attached bool
	closed   bool
}

// Snapshot is the externally visible state of a tracked window.
type Snapshot struct {
	ID        string    `json:"id"`
	ConsoleID string    `json:"console_id"`
	DeviceKey string    `json:"device_key"`
	Title     string    `json:"title,omitempty"`
	EndTime   time.Time `json:"end_time"`
	OpenedAt  time.Time `json:"opened_at"`
	Attached  bool      `json:"attached"`
}

// Registry tracks every launched popup window, pushes timer updates into
// each at 1 Hz and reaps windows that closed or outlived their booking.
// The entry set is mutex guarded because the reaper mutates what the
// broadcaster iterates.
type Registry struct {
	logger        *slog.Logger
	journal       session.Journal
	now           func() time.Time
	attachGrace   time.Duration
	notifyBlocked func(consoleID, deviceKey string)

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry builds an empty registry. journal may be nil. attachGrace
// bounds how long an opened window may stay unattached before it is
// considered blocked and reaped.
func NewRegistry(journal session.Journal, attachGrace time.Duration, logger *slog.Logger) *Registry {
	if attachGrace <= 0 {
		attachGrace = 10 * time.Second
	}
	return &Registry{
		logger:      logger,
		journal:     journal,
		now:         time.Now,
		attachGrace: attachGrace,
		entries:     map[string]*entry{},
	}
}

// SetBlockedNotifier registers a callback invoked when a window is reaped
// because its popup never attached, typically because the browser blocked
// it. Set once during wiring, before Run.
func (r *Registry) SetBlockedNotifier(fn func(consoleID, deviceKey string)) {
	r.notifyBlocked = fn
}

// Open records a new window session bound to the booking end time at this
// moment and returns its id. The popup document is served separately and
// attaches its channel afterwards.
func (r *Registry) Open(ctx context.Context, consoleID, deviceKey string, endTime time.Time) Snapshot {
	e := &entry{
		id:        uuid.NewString(),
		consoleID: consoleID,
		deviceKey: deviceKey,
		endTime:   endTime,
		openedAt:  r.now(),
	}
	r.mu.Lock()
	r.entries[e.id] = e
	r.mu.Unlock()

	r.record(ctx, model.SessionEvent{ConsoleID: consoleID, WindowID: e.id, Kind: model.EventWindowOpened, Detail: deviceKey})
	r.logger.Info("window opened", "window_id", e.id, "device_key", deviceKey, "end_time", endTime)
	return snapshotOf(e)
}

// Attach binds the popup's channel to its entry. Attaching to a window
// the reaper already removed fails; the popup should close itself.
func (r *Registry) Attach(windowID string, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[windowID]
	if !ok || e.closed {
		return ErrWindowNotFound
	}
	e.conn = conn
	e.attached = true
	return nil
}

// MarkClosed flags a window whose channel went away. The next reap sweep
// removes it; delivery attempts in between are no-ops.
func (r *Registry) MarkClosed(windowID string) {
	r.mu.Lock()
	if e, ok := r.entries[windowID]; ok {
		e.closed = true
	}
	r.mu.Unlock()
}

// SetTitle records the document title a popup reported after load.
func (r *Registry) SetTitle(windowID, title string) {
	r.mu.Lock()
	if e, ok := r.entries[windowID]; ok {
		e.title = title
	}
	r.mu.Unlock()
}

// BroadcastTick pushes the remaining time into every live window. The
// closed flag is checked immediately before each send and a failed write
// marks the window closed instead of raising an error.
func (r *Registry) BroadcastTick() {
	now := r.now()
	r.mu.Lock()
	targets := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.attached && !e.closed {
			targets = append(targets, e)
		}
	}
	r.mu.Unlock()

	for _, e := range targets {
		remaining := e.endTime.Sub(now)
		minutesLeft := int(remaining / time.Minute)
		update := model.NewUpdateTimer(session.FormatRemaining(remaining), minutesLeft <= 10)

		r.mu.Lock()
		conn, closed := e.conn, e.closed
		r.mu.Unlock()
		if closed || conn == nil {
			continue
		}
		if err := conn.WriteJSON(update); err != nil {
			r.logger.Debug("window push failed; marking closed", "window_id", e.id, "err", err)
			r.MarkClosed(e.id)
		}
	}
}

// Reap removes windows that were closed by the user, expired with their
// booking, or never attached within the grace period. Expired windows are
// force closed first if still open.
func (r *Registry) Reap(ctx context.Context) {
	now := r.now()

	r.mu.Lock()
	doomed := make([]*entry, 0)
	for id, e := range r.entries {
		expired := !e.endTime.After(now)
		blocked := !e.attached && now.Sub(e.openedAt) > r.attachGrace
		if e.closed || expired || blocked {
			delete(r.entries, id)
			doomed = append(doomed, e)
		}
	}
	r.mu.Unlock()

	for _, e := range doomed {
		switch {
		case e.closed:
			r.record(ctx, model.SessionEvent{ConsoleID: e.consoleID, WindowID: e.id, Kind: model.EventWindowClosed})
		case !e.endTime.After(now):
			if e.conn != nil {
				_ = e.conn.WriteJSON(model.NewCloseWindow("booking expired"))
				_ = e.conn.Close()
			}
			r.record(ctx, model.SessionEvent{ConsoleID: e.consoleID, WindowID: e.id, Kind: model.EventWindowExpired})
			r.logger.Info("window force closed; booking expired", "window_id", e.id)
		default:
			r.record(ctx, model.SessionEvent{ConsoleID: e.consoleID, WindowID: e.id, Kind: model.EventWindowClosed, Detail: "never attached"})
			r.logger.Warn("window never attached; popup likely blocked", "window_id", e.id)
			if r.notifyBlocked != nil {
				r.notifyBlocked(e.consoleID, e.deviceKey)
			}
		}
	}
}

// CloseAll closes and removes every window a console owns. Called on
// console teardown.
func (r *Registry) CloseAll(consoleID string) {
	r.mu.Lock()
	doomed := make([]*entry, 0)
	for id, e := range r.entries {
		if e.consoleID == consoleID {
			delete(r.entries, id)
			doomed = append(doomed, e)
		}
	}
	r.mu.Unlock()

	for _, e := range doomed {
		if e.conn != nil && !e.closed {
			_ = e.conn.WriteJSON(model.NewCloseWindow("session ended"))
			_ = e.conn.Close()
		}
		r.record(context.Background(), model.SessionEvent{ConsoleID: consoleID, WindowID: e.id, Kind: model.EventWindowClosed, Detail: "console teardown"})
	}
}

// List returns the tracked windows of a console.
func (r *Registry) List(consoleID string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		if e.consoleID == consoleID {
			out = append(out, snapshotOf(e))
		}
	}
	return out
}

// Get returns one tracked window.
func (r *Registry) Get(windowID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[windowID]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(e), true
}

// Run drives the broadcast and reap sweeps: timer pushes and expiry
// reaping at 1 Hz, closed-window reaping at 2 Hz.
func (r *Registry) Run(ctx context.Context) {
	broadcast := time.NewTicker(time.Second)
	defer broadcast.Stop()
	closedSweep := time.NewTicker(500 * time.Millisecond)
	defer closedSweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-broadcast.C:
			r.BroadcastTick()
			r.Reap(ctx)
		case <-closedSweep.C:
			r.reapClosed(ctx)
		}
	}
}

// reapClosed removes only user-closed windows; the slower sweep handles
// expiry so force closes stay on the 1 Hz cadence.
func (r *Registry) reapClosed(ctx context.Context) {
	r.mu.Lock()
	doomed := make([]*entry, 0)
	for id, e := range r.entries {
		if e.closed {
			delete(r.entries, id)
			doomed = append(doomed, e)
		}
	}
	r.mu.Unlock()

	for _, e := range doomed {
		r.record(ctx, model.SessionEvent{ConsoleID: e.consoleID, WindowID: e.id, Kind: model.EventWindowClosed})
	}
}

func (r *Registry) record(ctx context.Context, event model.SessionEvent) {
	if r.journal == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = r.now().UTC()
	}
	if err := r.journal.AppendEvent(ctx, event); err != nil {
		r.logger.Warn("journal append failed", "kind", event.Kind, "err", err)
	}
}

func snapshotOf(e *entry) Snapshot {
	return Snapshot{
		ID:        e.id,
		ConsoleID: e.consoleID,
		DeviceKey: e.deviceKey,
		Title:     e.title,
		EndTime:   e.endTime,
		OpenedAt:  e.openedAt,
		Attached:  e.attached,
	}
}
