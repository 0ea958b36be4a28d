package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const finalWindowMinutes = 10

// Sink receives the formatted countdown once per second.
type Sink interface {
	PublishTime(timeLeft string, inFinalWindow bool)
}

// Notifier presents a one-shot threshold alert. It reports whether the
// alert was actually presented.
type Notifier interface {
	Notify(ctx context.Context, message string) bool
}

type firedSet struct {
	thirty  bool
	ten     bool
	expired bool
}

type countdownRun struct {
	end   time.Time
	name  string
	tag   string
	fired firedSet
}

// Countdown tracks one booking end time at 1 Hz. Threshold alerts fire at
// most once per Start: the fired set resets only when a new countdown is
// started. Threshold checks compare the whole minutes remaining for exact
// equality, so a tick delayed past the exact minute silently skips that
// alert; this mirrors the established behavior and is accepted.
type Countdown struct {
	sink          Sink
	notifier      Notifier
	onExpired     func()
	logger        *slog.Logger
	now           func() time.Time
	tickInterval  time.Duration
	redirectDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCountdown builds a stopped countdown. onExpired runs once, shortly
// after the expiry alert, and may be nil.
func NewCountdown(sink Sink, notifier Notifier, onExpired func(), logger *slog.Logger) *Countdown {
	return &Countdown{
		sink:          sink,
		notifier:      notifier,
		onExpired:     onExpired,
		logger:        logger,
		now:           time.Now,
		tickInterval:  time.Second,
		redirectDelay: time.Second,
	}
}

// Start begins a countdown toward endTime, cancelling any running tick
// loop first. The old loop is fully stopped before the new one starts so
// two loops can never double-fire alerts.
func (c *Countdown) Start(endTime time.Time, subjectName, subjectTag string) {
	c.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	run := &countdownRun{end: endTime, name: subjectName, tag: subjectTag}
	c.logger.Info("countdown started", "subject", subjectName, "tag", subjectTag, "end_time", endTime)
	go c.loop(ctx, run, done)
}

// Stop cancels the tick loop and waits for it to exit. Idempotent.
func (c *Countdown) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Countdown) loop(ctx context.Context, run *countdownRun, done chan struct{}) {
	defer close(done)

	// Immediate step so the display fills in without a one second gap and
	// an end time landing exactly on a threshold minute still alerts.
	if c.step(ctx, run) {
		return
	}

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if c.step(ctx, run) {
			return
		}
	}
}

// step performs one tick and reports whether the countdown finished.
// Checks are ordered expiry, ten minutes, thirty minutes so expiry wins if
// thresholds ever coincide.
func (c *Countdown) step(ctx context.Context, run *countdownRun) bool {
	remaining := run.end.Sub(c.now())

	if remaining <= 0 {
		c.sink.PublishTime("00:00:00", true)
		if !run.fired.expired {
			c.notifier.Notify(ctx, fmt.Sprintf("Your booking for %s (%s) has expired!", run.name, run.tag))
			run.fired.expired = true
			c.logger.Info("countdown expired", "subject", run.name, "tag", run.tag)
			if c.onExpired != nil {
				time.AfterFunc(c.redirectDelay, c.onExpired)
			}
		}
		return true
	}

	minutesLeft := int(remaining / time.Minute)
	c.sink.PublishTime(FormatRemaining(remaining), minutesLeft <= finalWindowMinutes)

	switch {
	case minutesLeft == 10 && !run.fired.ten:
		c.notifier.Notify(ctx, fmt.Sprintf("Warning: Only 10 minutes left for %s (%s)", run.name, run.tag))
		run.fired.ten = true
	case minutesLeft == 30 && !run.fired.thirty:
		c.notifier.Notify(ctx, fmt.Sprintf("Warning: Only 30 minutes left for %s (%s)", run.name, run.tag))
		run.fired.thirty = true
	}
	return false
}

// FormatRemaining renders a duration as HH:MM:SS, clamping negative values
// to "00:00:00" so the display never shows a negative countdown.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int(d/time.Minute) % 60
	seconds := int(d/time.Second) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
