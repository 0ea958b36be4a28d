package model

import (
	"strings"
	"time"
)

// BookingStatus is the lifecycle state reported by the booking source.
type BookingStatus string

const (
	BookingActive    BookingStatus = "active"
	BookingEnded     BookingStatus = "ended"
	BookingCancelled BookingStatus = "cancelled"
)

// Booking is one reservation granting a user control of a device until a
// fixed end time. IPType carries the comma-joined driver slot tags covered
// by the reservation; DeviceDetails maps each slot tag to the instrument IP.
type Booking struct {
	DeviceID      string            `json:"device_id"`
	ReservationID string            `json:"reservation_id"`
	DeviceName    string            `json:"device_name"`
	UserName      string            `json:"user_name"`
	IPType        string            `json:"ip_type"`
	Status        BookingStatus     `json:"status"`
	EndTime       time.Time         `json:"end_time"`
	DeviceDetails map[string]string `json:"device_details"`
}

// Slots returns the trimmed driver slot tags of IPType.
func (b Booking) Slots() []string {
	return SplitSlots(b.IPType)
}

// HasAnySlot reports whether any of the requested slot tags is covered by
// this booking. Matching is any-overlap of the two trimmed tag sets.
func (b Booking) HasAnySlot(requested []string) bool {
	owned := b.Slots()
	for _, want := range requested {
		for _, have := range owned {
			if want == have {
				return true
			}
		}
	}
	return false
}

// SlotIP returns the instrument address bound to a slot tag.
func (b Booking) SlotIP(tag string) string {
	return b.DeviceDetails[tag]
}

// SplitSlots splits a comma-joined slot list into trimmed non-empty tags.
func SplitSlots(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
