package model

import "time"

type ReservationKind string

const (
	ReservationKindBooking        ReservationKind = "booking"
	ReservationKindPublicOffering ReservationKind = "public_offering"
)

// ReservationRef points at whatever holds a reserved slot
type ReservationRef struct {
	Kind ReservationKind `json:"kind"`
	ID   string          `json:"id"`
}

// SlotKey identifies a time slot: one per (schedule, start time).
type SlotKey struct {
	ScheduleID string    `json:"schedule_id"`
	StartTime  time.Time `json:"start_time"`
}

type TimeSlot struct {
	ScheduleID string          `json:"schedule_id"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	ReservedBy *ReservationRef `json:"reserved_by"` // nil - слот свободен
}

// Reserved is derived from ReservedBy so the two can never disagree.
func (s *TimeSlot) Reserved() bool {
	return s.ReservedBy != nil
}

func (s *TimeSlot) Key() SlotKey {
	return SlotKey{ScheduleID: s.ScheduleID, StartTime: s.StartTime}
}

func (s *TimeSlot) Window() Window {
	return Window{Start: s.StartTime, End: s.EndTime}
}

// Clone returns a deep copy
func (s *TimeSlot) Clone() *TimeSlot {
	c := *s
	if s.ReservedBy != nil {
		ref := *s.ReservedBy
		c.ReservedBy = &ref
	}
	return &c
}
