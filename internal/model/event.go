package model

import (
	"slices"
	"time"
)

type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCanceled  Status = "CANCELED"
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether no further lifecycle transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusCompleted
}

// Threshold identifies a reminder that fires a fixed lead time before an event.
type Threshold string

const (
	Threshold24h Threshold = "24h"
	Threshold2h  Threshold = "2h"
)

// Lead returns how long before the start time the threshold opens.
func (t Threshold) Lead() time.Duration {
	switch t {
	case Threshold24h:
		return 24 * time.Hour
	case Threshold2h:
		return 2 * time.Hour
	}
	return 0
}

// ConfirmationSize is the roster size at which an event becomes CONFIRMED.
const ConfirmationSize = 2

type Event struct {
	ID            string             `json:"id"`
	Sport         Sport              `json:"sport"`
	Location      string             `json:"location"`
	StartTime     time.Time          `json:"start_time"`
	CreatorID     string             `json:"creator_id"`
	Participants  []string           `json:"participants"`
	Capacity      int                `json:"capacity"`
	SkillLevel    int                `json:"skill_level"`
	Status        Status             `json:"status"`
	GroupHandle   string             `json:"group_handle,omitempty"`
	RemindersSent map[Threshold]bool `json:"reminders_sent"`
	BookingLink   string             `json:"booking_link,omitempty"`
	Version       int64              `json:"-"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func (e *Event) HasParticipant(userID string) bool {
	return slices.Contains(e.Participants, userID)
}

func (e *Event) Full() bool {
	return len(e.Participants) >= e.Capacity
}

// ReminderSent reports whether the reminder for t was already recorded.
func (e *Event) ReminderSent(t Threshold) bool {
	return e.RemindersSent[t]
}

// MarkReminder records the reminder for t. Markers never go back to false.
func (e *Event) MarkReminder(t Threshold) {
	if e.RemindersSent == nil {
		e.RemindersSent = make(map[Threshold]bool, 2)
	}
	e.RemindersSent[t] = true
}
