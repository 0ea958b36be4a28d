package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rutomatrix/lab-console/internal/model"
)

// ErrNotConnected is returned when a console has no live channel bound.
var ErrNotConnected = errors.New("console channel not connected")

// ErrAlertPending is returned when a console already has an alert awaiting
// acknowledgment.
var ErrAlertPending = errors.New("alert already pending acknowledgment")

// Conn is the transport half of a console channel. Satisfied by
// *websocket.Conn.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Hub owns the channel to each attached console view: countdown labels,
// sound directives, alerts and redirects all flow through it. A console
// without a bound connection silently drops timer labels but reports an
// error for alerts, so the dispatcher can log the loss.
type Hub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]Conn
	acks  map[string]chan struct{}
}

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		conns:  map[string]Conn{},
		acks:   map[string]chan struct{}{},
	}
}

// Bind attaches a connection to a console, replacing and closing any
// previous one.
func (h *Hub) Bind(consoleID string, conn Conn) {
	h.mu.Lock()
	previous := h.conns[consoleID]
	h.conns[consoleID] = conn
	h.mu.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
}

// Unbind detaches conn from the console if it is still the bound one.
func (h *Hub) Unbind(consoleID string, conn Conn) {
	h.mu.Lock()
	if h.conns[consoleID] == conn {
		delete(h.conns, consoleID)
	}
	h.mu.Unlock()
}

// Drop removes and closes whatever connection the console has bound.
func (h *Hub) Drop(consoleID string) {
	h.mu.Lock()
	conn := h.conns[consoleID]
	delete(h.conns, consoleID)
	h.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (h *Hub) send(consoleID string, payload any) error {
	h.mu.Lock()
	conn := h.conns[consoleID]
	h.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteJSON(payload); err != nil {
		h.Unbind(consoleID, conn)
		_ = conn.Close()
		return err
	}
	return nil
}

// PublishTime pushes a countdown label to the console. Delivery to an
// unconnected console is a no-op.
func (h *Hub) PublishTime(consoleID, timeLeft string, inFinalWindow bool) {
	if err := h.send(consoleID, model.NewUpdateTimer(timeLeft, inFinalWindow)); err != nil && !errors.Is(err, ErrNotConnected) {
		h.logger.Debug("timer push failed", "console_id", consoleID, "err", err)
	}
}

// SendPlaySound pushes a sound directive to the console.
func (h *Hub) SendPlaySound(consoleID, url string) error {
	return h.send(consoleID, model.NewPlaySound(url))
}

// PresentAlert pushes an alert and blocks until the console acknowledges
// it or ctx expires. One alert may be pending per console at a time: a
// second call returns ErrAlertPending instead of stealing the first
// waiter's ack channel.
func (h *Hub) PresentAlert(ctx context.Context, consoleID, message string) error {
	ack := make(chan struct{})
	h.mu.Lock()
	if _, pending := h.acks[consoleID]; pending {
		h.mu.Unlock()
		return ErrAlertPending
	}
	h.acks[consoleID] = ack
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		if h.acks[consoleID] == ack {
			delete(h.acks, consoleID)
		}
		h.mu.Unlock()
	}()

	if err := h.send(consoleID, model.NewAlert(message)); err != nil {
		return err
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ack resolves the pending alert acknowledgment for a console, if any.
func (h *Hub) Ack(consoleID string) {
	h.mu.Lock()
	ack := h.acks[consoleID]
	delete(h.acks, consoleID)
	h.mu.Unlock()
	if ack != nil {
		close(ack)
	}
}

// SendRedirect pushes a navigation directive to the console.
func (h *Hub) SendRedirect(consoleID, url string) {
	if err := h.send(consoleID, model.NewRedirect(url)); err != nil && !errors.Is(err, ErrNotConnected) {
		h.logger.Warn("redirect push failed", "console_id", consoleID, "err", err)
	}
}
