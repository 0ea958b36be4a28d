package session

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu      sync.Mutex
	labels  []string
	inFinal []bool
}

func (s *recordingSink) PublishTime(timeLeft string, inFinalWindow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, timeLeft)
	s.inFinal = append(s.inFinal, inFinalWindow)
}

func (s *recordingSink) last() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.labels) == 0 {
		return "", false
	}
	return s.labels[len(s.labels)-1], s.inFinal[len(s.inFinal)-1]
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, message string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return true
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCountdown(sink Sink, notifier Notifier, onExpired func()) (*Countdown, *time.Time) {
	c := NewCountdown(sink, notifier, onExpired, discardLogger())
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	c.redirectDelay = time.Millisecond
	return c, &clock
}

func TestFormatRemaining(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Minute, "00:00:00"},
		{time.Second, "00:00:01"},
		{90 * time.Minute, "01:30:00"},
		{10*time.Minute + 5*time.Second, "00:10:05"},
		{25*time.Hour + 61*time.Second, "25:01:01"},
	}
	for _, tc := range cases {
		if got := FormatRemaining(tc.in); got != tc.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestThresholdAlertsFireAtMostOnce(t *testing.T) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	c, clock := newTestCountdown(sink, notifier, nil)

	end := clock.Add(30 * time.Minute)
	run := &countdownRun{end: end, name: "Lab Bench 3", tag: "ct1_ip"}

	// Several ticks inside the same whole minute.
	for i := 0; i < 5; i++ {
		*clock = end.Add(-30*time.Minute + time.Duration(i)*time.Second)
		if done := c.step(context.Background(), run); done {
			t.Fatalf("step reported done at tick %d", i)
		}
	}

	msgs := notifier.all()
	if len(msgs) != 1 {
		t.Fatalf("got %d alerts, want 1: %v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "30 minutes") {
		t.Errorf("alert = %q, want 30-minute warning", msgs[0])
	}
}

func TestExactThirtyMinuteEndFiresImmediately(t *testing.T) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	c, clock := newTestCountdown(sink, notifier, nil)

	c.Start(clock.Add(30*time.Minute), "Lab Bench 3", "ct1_ip")
	defer c.Stop()

	deadline := time.Now().Add(time.Second)
	for {
		if len(notifier.all()) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgs := notifier.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "30 minutes") {
		t.Fatalf("alerts = %v, want exactly one 30-minute warning", msgs)
	}
	if label, _ := sink.last(); label != "00:30:00" {
		t.Errorf("last label = %q, want 00:30:00", label)
	}
}

func TestDelayedTickSkipsMissedThreshold(t *testing.T) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	c, clock := newTestCountdown(sink, notifier, nil)

	end := clock.Add(time.Hour)
	run := &countdownRun{end: end, name: "Lab Bench 3", tag: "ct1_ip"}

	// The tick lands past the whole 30-minute mark: 29m59s remaining.
	*clock = end.Add(-29*time.Minute - 59*time.Second)
	c.step(context.Background(), run)

	if msgs := notifier.all(); len(msgs) != 0 {
		t.Errorf("alerts = %v, want none for a missed threshold minute", msgs)
	}
}

func TestFinalWindowFlag(t *testing.T) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	c, clock := newTestCountdown(sink, notifier, nil)

	end := clock.Add(time.Hour)
	run := &countdownRun{end: end, name: "Lab Bench 3", tag: "ct1_ip"}

	*clock = end.Add(-11 * time.Minute)
	c.step(context.Background(), run)
	if _, final := sink.last(); final {
		t.Error("in final window at 11 minutes remaining")
	}

	*clock = end.Add(-7*time.Minute - 30*time.Second)
	c.step(context.Background(), run)
	if label, final := sink.last(); !final || label != "00:07:30" {
		t.Errorf("last = (%q, %v), want (00:07:30, true)", label, final)
	}
}

func TestExpiryScenario(t *testing.T) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	var expired sync.WaitGroup
	expired.Add(1)
	c, clock := newTestCountdown(sink, notifier, func() { expired.Done() })

	end := clock.Add(10*time.Minute + 5*time.Second)
	run := &countdownRun{end: end, name: "Lab Bench 3", tag: "ct1_ip"}
	ctx := context.Background()

	// First tick: 10m05s remaining, whole minutes = 10, warning fires.
	if done := c.step(ctx, run); done {
		t.Fatal("done at first tick")
	}
	// Later ticks inside minute ten stay quiet.
	*clock = end.Add(-10 * time.Minute)
	c.step(ctx, run)
	*clock = end.Add(-9*time.Minute - 59*time.Second)
	c.step(ctx, run)

	msgs := notifier.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "10 minutes") {
		t.Fatalf("alerts before expiry = %v, want one 10-minute warning", msgs)
	}

	// Past the end: display clamps, expiry alert fires once, loop reports
	// done, the redirect callback runs shortly after.
	*clock = end.Add(time.Second)
	if done := c.step(ctx, run); !done {
		t.Fatal("step not done past end time")
	}
	c.step(ctx, run)

	if label, final := sink.last(); label != "00:00:00" || !final {
		t.Errorf("last = (%q, %v), want (00:00:00, true)", label, final)
	}
	msgs = notifier.all()
	if len(msgs) != 2 || !strings.Contains(msgs[1], "expired") {
		t.Fatalf("alerts = %v, want 10-minute warning then one expiry alert", msgs)
	}
	expired.Wait()
}

func TestStartReplacesRunningCountdown(t *testing.T) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	c, clock := newTestCountdown(sink, notifier, nil)
	c.tickInterval = time.Millisecond

	c.Start(clock.Add(30*time.Minute), "Lab Bench 3", "ct1_ip")
	c.Start(clock.Add(10*time.Minute), "Lab Bench 3", "ct1_ip")

	deadline := time.Now().Add(time.Second)
	for {
		if len(notifier.all()) >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()

	// The old loop fired at most its immediate 30-minute alert before being
	// cancelled; the replacement fires its own 10-minute alert exactly once.
	ten := 0
	for _, msg := range notifier.all() {
		if strings.Contains(msg, "10 minutes") {
			ten++
		}
	}
	if ten != 1 {
		t.Fatalf("10-minute alerts = %d, want 1 (alerts: %v)", ten, notifier.all())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	notifier := &recordingNotifier{}
	c, clock := newTestCountdown(sink, notifier, nil)

	c.Stop()
	c.Start(clock.Add(time.Hour), "Lab Bench 3", "ct1_ip")
	c.Stop()
	c.Stop()
}
