package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Presenter delivers alerts to the console surface. PlaySound is a fire
// and forget directive; Present blocks until the user acknowledged the
// alert or the context expired.
type Presenter interface {
	PlaySound(ctx context.Context) error
	Present(ctx context.Context, message string) error
}

// Dispatcher serializes threshold and expiry notifications. While one
// alert is being presented, further Notify calls are dropped rather than
// queued: a second simultaneous threshold crossing is only possible when
// multiple console views run concurrently, and losing the newer of two
// overlapping alerts is the accepted trade-off.
type Dispatcher struct {
	presenter  Presenter
	ackTimeout time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight bool
}

// New builds a Dispatcher presenting through the given Presenter.
func New(presenter Presenter, ackTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if ackTimeout <= 0 {
		ackTimeout = 30 * time.Second
	}
	return &Dispatcher{presenter: presenter, ackTimeout: ackTimeout, logger: logger}
}

// Notify presents message with a notification sound and waits for the
// acknowledgment. It reports whether the alert was presented; false means
// another alert was in flight and this one was dropped.
func (d *Dispatcher) Notify(ctx context.Context, message string) bool {
	d.mu.Lock()
	if d.inFlight {
		d.mu.Unlock()
		d.logger.Warn("alert dropped; another alert is in flight", "message", message)
		return false
	}
	d.inFlight = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight = false
		d.mu.Unlock()
	}()

	if err := d.presenter.PlaySound(ctx); err != nil {
		d.logger.Debug("alert sound failed", "err", err)
	}

	ackCtx, cancel := context.WithTimeout(ctx, d.ackTimeout)
	defer cancel()
	if err := d.presenter.Present(ackCtx, message); err != nil {
		d.logger.Warn("alert not acknowledged", "message", message, "err", err)
		return true
	}
	d.logger.Info("alert acknowledged", "message", message)
	return true
}
