package booking

import (
	"context"
	"log/slog"
	"time"
)

// Poller refreshes the booking snapshot on a fixed interval and on demand.
// When a refresh changes the snapshot, onChange is invoked so dependent
// timers can re-resolve their bookings.
type Poller struct {
	manager   *Manager
	interval  time.Duration
	onChange  func()
	refreshCh chan struct{}
	logger    *slog.Logger
}

// NewPoller builds a Poller. onChange may be nil.
func NewPoller(manager *Manager, interval time.Duration, onChange func(), logger *slog.Logger) *Poller {
	return &Poller{
		manager:   manager,
		interval:  interval,
		onChange:  onChange,
		refreshCh: make(chan struct{}, 1),
		logger:    logger,
	}
}

// TriggerRefresh requests an immediate poll without waiting the interval.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
		refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		changed, err := p.manager.Refresh(refreshCtx)
		cancel()
		if err != nil {
			continue
		}
		if changed {
			p.logger.Info("booking snapshot changed")
			if p.onChange != nil {
				p.onChange()
			}
		}
	}
}
