package model

import (
	"slices"
	"time"
)

type Booking struct {
	ID                 string      `json:"id"`
	BookedByClientID   string      `json:"booked_by_client_id"`
	PublicOfferingID   string      `json:"public_offering_id"`
	BookedForClientIDs []string    `json:"booked_for_client_ids"`
	SlotKeys           []time.Time `json:"slot_keys"` // слоты расписания предложения
	CreatedAt          time.Time   `json:"created_at"`
}

// Involves checks whether the client booked or attends this booking
func (b *Booking) Involves(clientID string) bool {
	return b.BookedByClientID == clientID || slices.Contains(b.BookedForClientIDs, clientID)
}

func (b *Booking) Clone() *Booking {
	c := *b
	c.BookedForClientIDs = slices.Clone(b.BookedForClientIDs)
	c.SlotKeys = slices.Clone(b.SlotKeys)
	return &c
}

// BookingRequest asks for a booking of a public offering.
// Empty SlotKeys means every slot of the offering window.
type BookingRequest struct {
	PublicOfferingID   string
	BookedByClientID   string
	BookedForClientIDs []string
	SlotKeys           []time.Time
}

// CancellationNotice is sent to clients affected by a cancelled booking.
type CancellationNotice struct {
	ClientID         string
	BookingID        string
	PublicOfferingID string
	LessonType       string
	Window           Window
}
