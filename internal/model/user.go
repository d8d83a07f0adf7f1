package model

import (
	"slices"
	"time"
)

const AdultAge = 18

type Client struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Age            int       `json:"age"`
	GuardianID     *string   `json:"guardian_id"`      // обязателен для несовершеннолетних
	TelegramChatID *int64    `json:"telegram_chat_id"` // nil - уведомления только в лог
	ScheduleID     string    `json:"schedule_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *Client) IsMinor() bool {
	return c.Age < AdultAge
}

type Instructor struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Specialization     string    `json:"specialization"`
	AvailableLocations []string  `json:"available_locations"`
	ScheduleID         string    `json:"schedule_id"`
	CreatedAt          time.Time `json:"created_at"`
}

func (i *Instructor) AvailableAt(locationID string) bool {
	return slices.Contains(i.AvailableLocations, locationID)
}

// Branch is a location owning its own schedule. The province/city
// hierarchy above it is managed elsewhere.
type Branch struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CityID     string    `json:"city_id"`
	ScheduleID string    `json:"schedule_id"`
	CreatedAt  time.Time `json:"created_at"`
}
