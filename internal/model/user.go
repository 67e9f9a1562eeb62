package model

import "time"

type User struct {
	ID            string    `json:"id"`
	PhoneNumber   string    `json:"phone_number"`
	Name          string    `json:"name"`
	SkillLevel    int       `json:"skill_level"`
	EventsCreated int       `json:"events_created"`
	EventsJoined  int       `json:"events_joined"`
	Premium       bool      `json:"premium"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
