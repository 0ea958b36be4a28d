package model

import "time"

// Session event kinds recorded in the journal.
const (
	EventConsoleAttached = "console_attached"
	EventConsoleDetached = "console_detached"
	EventTimerReplaced   = "timer_replaced"
	EventSessionExpired  = "session_expired"
	EventWindowOpened    = "window_opened"
	EventWindowClosed    = "window_closed"
	EventWindowExpired   = "window_expired"
)

// SessionEvent is one journal row describing a console or window
// lifecycle transition.
type SessionEvent struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	ConsoleID  string    `json:"console_id"`
	WindowID   string    `json:"window_id,omitempty"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
}
