package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rutomatrix/lab-console/internal/model"
)

type stubConn struct {
	mu       sync.Mutex
	written  []any
	writeErr error
	closed   bool
}

func (c *stubConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, v)
	return nil
}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.written))
	copy(out, c.written)
	return out
}

func TestHubPublishTimeWithoutConnIsNoop(t *testing.T) {
	hub := NewHub(discardLogger())
	hub.PublishTime("console-1", "00:10:00", true)
}

func TestHubBindReplacesPrevious(t *testing.T) {
	hub := NewHub(discardLogger())
	first := &stubConn{}
	second := &stubConn{}

	hub.Bind("console-1", first)
	hub.Bind("console-1", second)

	if !first.closed {
		t.Error("previous connection not closed on rebind")
	}
	hub.PublishTime("console-1", "00:10:00", true)
	if len(second.messages()) != 1 {
		t.Error("bound connection did not receive the push")
	}
	if len(first.messages()) != 0 {
		t.Error("replaced connection received a push")
	}
}

func TestHubWriteErrorUnbinds(t *testing.T) {
	hub := NewHub(discardLogger())
	conn := &stubConn{writeErr: errors.New("broken pipe")}
	hub.Bind("console-1", conn)

	if err := hub.SendPlaySound("console-1", "http://example/alarm.mp3"); err == nil {
		t.Fatal("SendPlaySound did not surface the write error")
	}
	if !conn.closed {
		t.Error("failed connection not closed")
	}
	if err := hub.SendPlaySound("console-1", "http://example/alarm.mp3"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("after unbind: %v, want ErrNotConnected", err)
	}
}

func TestHubPresentAlertWaitsForAck(t *testing.T) {
	hub := NewHub(discardLogger())
	conn := &stubConn{}
	hub.Bind("console-1", conn)

	done := make(chan error, 1)
	go func() {
		done <- hub.PresentAlert(context.Background(), "console-1", "Warning: Only 10 minutes left")
	}()

	deadline := time.Now().Add(time.Second)
	for len(conn.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 alert", len(msgs))
	}
	if _, ok := msgs[0].(model.Alert); !ok {
		t.Fatalf("got %T, want model.Alert", msgs[0])
	}

	hub.Ack("console-1")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("PresentAlert: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PresentAlert did not return after ack")
	}
}

func TestHubPresentAlertHonorsContext(t *testing.T) {
	hub := NewHub(discardLogger())
	hub.Bind("console-1", &stubConn{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := hub.PresentAlert(ctx, "console-1", "msg"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("PresentAlert = %v, want deadline exceeded", err)
	}
}

func TestHubPresentAlertRejectsSecondWhilePending(t *testing.T) {
	hub := NewHub(discardLogger())
	conn := &stubConn{}
	hub.Bind("console-1", conn)

	done := make(chan error, 1)
	go func() {
		done <- hub.PresentAlert(context.Background(), "console-1", "Warning: Only 30 minutes left")
	}()
	deadline := time.Now().Add(time.Second)
	for len(conn.messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if len(conn.messages()) != 1 {
		t.Fatalf("got %d messages, want 1 alert", len(conn.messages()))
	}

	if err := hub.PresentAlert(context.Background(), "console-1", "overlapping"); !errors.Is(err, ErrAlertPending) {
		t.Fatalf("second PresentAlert = %v, want ErrAlertPending", err)
	}

	// The overlap must not have stolen the first waiter's ack channel.
	hub.Ack("console-1")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first PresentAlert: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("first PresentAlert not released by ack")
	}
}

func TestHubAckWithoutPendingAlert(t *testing.T) {
	hub := NewHub(discardLogger())
	hub.Ack("console-1")
}
