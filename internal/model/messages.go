package model

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged over console and window channels. Every payload
// carries an explicit type tag; free-form messages are rejected on decode.
const (
	MsgUpdateTimer = "updateTimer"
	MsgPlaySound   = "playSound"
	MsgAlert       = "alert"
	MsgAlertAck    = "alertAck"
	MsgRedirect    = "redirect"
	MsgCloseWindow = "closeWindow"
	MsgWindowTitle = "windowTitle"
)

// UpdateTimer is pushed once per second into every live window and console.
type UpdateTimer struct {
	Type            string `json:"type"`
	TimeLeft        string `json:"time_left"`
	IsInFinalWindow bool   `json:"is_in_final_window"`
}

// NewUpdateTimer builds a tagged timer update.
func NewUpdateTimer(timeLeft string, inFinalWindow bool) UpdateTimer {
	return UpdateTimer{Type: MsgUpdateTimer, TimeLeft: timeLeft, IsInFinalWindow: inFinalWindow}
}

// PlaySound asks the console to play a short notification sound. Best
// effort only; playback failure never blocks the alert that follows.
type PlaySound struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// NewPlaySound builds a tagged sound directive.
func NewPlaySound(url string) PlaySound {
	return PlaySound{Type: MsgPlaySound, URL: url}
}

// Alert is a threshold or expiry notification requiring acknowledgment.
type Alert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAlert builds a tagged alert.
func NewAlert(message string) Alert {
	return Alert{Type: MsgAlert, Message: message}
}

// Redirect tells the console to navigate to another page.
type Redirect struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// NewRedirect builds a tagged redirect.
func NewRedirect(url string) Redirect {
	return Redirect{Type: MsgRedirect, URL: url}
}

// CloseWindow tells a popup to close itself.
type CloseWindow struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// NewCloseWindow builds a tagged close directive.
func NewCloseWindow(reason string) CloseWindow {
	return CloseWindow{Type: MsgCloseWindow, Reason: reason}
}

// AlertAck is sent by the console once the user dismissed an alert.
type AlertAck struct {
	Type string `json:"type"`
}

// WindowTitle is posted by a popup after load to report its document title.
type WindowTitle struct {
	Type      string `json:"type"`
	DeviceKey string `json:"device_key"`
	Title     string `json:"title"`
}

// DecodeInbound parses a client-originated message into its typed form.
func DecodeInbound(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	switch envelope.Type {
	case MsgAlertAck:
		var msg AlertAck
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case MsgWindowTitle:
		var msg WindowTitle
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", envelope.Type)
	}
}
