package model

import (
	"slices"
	"time"
)

type LessonMode string

const (
	LessonModeGroup LessonMode = "group"
	LessonModeSolo  LessonMode = "solo"
)

func (m LessonMode) Valid() bool {
	return m == LessonModeGroup || m == LessonModeSolo
}

// Offering is the immutable lesson template created by administrators
type Offering struct {
	ID         string        `json:"id"`
	LessonType string        `json:"lesson_type"`
	Mode       LessonMode    `json:"mode"`
	Capacity   int           `json:"capacity"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// PublicOffering is the bookable instance of an Offering
type PublicOffering struct {
	ID            string      `json:"id"`
	OfferingID    string      `json:"offering_id"`
	InstructorID  string      `json:"instructor_id"`
	LocationID    string      `json:"location_id"`
	ScheduleID    string      `json:"schedule_id"`
	MaxClients    int         `json:"max_clients"`
	Window        Window      `json:"window"`
	ReservedSlots []time.Time `json:"reserved_slots"` // ключи слотов расписания предложения
	BookingIDs    []string    `json:"booking_ids"`
	CreatedAt     time.Time   `json:"created_at"`

	// Не хранится, заполняется при чтении
	Offering *Offering `json:"offering,omitempty"`
}

func (p *PublicOffering) ActiveBookings() int {
	return len(p.BookingIDs)
}

func (p *PublicOffering) IsFull() bool {
	return p.ActiveBookings() >= p.MaxClients
}

func (p *PublicOffering) HasReservedSlot(start time.Time) bool {
	return slices.ContainsFunc(p.ReservedSlots, start.Equal)
}

func (p *PublicOffering) Clone() *PublicOffering {
	c := *p
	c.ReservedSlots = slices.Clone(p.ReservedSlots)
	c.BookingIDs = slices.Clone(p.BookingIDs)
	if p.Offering != nil {
		o := *p.Offering
		c.Offering = &o
	}
	return &c
}

// PublishRequest describes a new public offering.
// The lesson window is [Start, Start+offering.Duration).
type PublishRequest struct {
	OfferingID   string
	InstructorID string
	LocationID   string
	ScheduleID   string
	MaxClients   int
	Start        time.Time
}

// UpdatePublicOfferingRequest lists every mutable field of a public offering.
// Nil fields are left unchanged.
type UpdatePublicOfferingRequest struct {
	MaxClients *int
}
