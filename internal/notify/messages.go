package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/huddle/internal/model"
)

const timeLayout = "Mon Jan 2 15:04"

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(timeLayout)
}

func creationMessage(e *model.Event, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s event created!\n", e.Sport.Label())
	fmt.Fprintf(&b, "Date: %s\n", formatTime(e.StartTime, loc))
	fmt.Fprintf(&b, "Location: %s\n", e.Location)
	fmt.Fprintf(&b, "Skill level: %d/5\n", e.SkillLevel)
	fmt.Fprintf(&b, "Participants: %d/%d\n", len(e.Participants), e.Capacity)
	if e.BookingLink != "" {
		fmt.Fprintf(&b, "Booking: %s\n", e.BookingLink)
	}
	fmt.Fprintf(&b, "\nReply with 'JOIN %s' to participate!", e.ID)
	return b.String()
}

func joinMessage(e *model.Event, loc *time.Location) string {
	return fmt.Sprintf(
		"You've successfully joined the %s event on %s at %s. "+
			"You'll receive a reminder 24h before the event. "+
			"Reply with 'LEAVE %s' if you can't make it.",
		e.Sport.Label(), formatTime(e.StartTime, loc), e.Location, e.ID,
	)
}

func reminderMessage(e *model.Event, t model.Threshold, loc *time.Location) string {
	when := "tomorrow"
	if t == model.Threshold2h {
		when = "in less than 2 hours"
	}
	return fmt.Sprintf(
		"Reminder: Your %s event is %s, at %s!\nLocation: %s\nParticipants: %d/%d",
		e.Sport.Label(), when, formatTime(e.StartTime, loc), e.Location, len(e.Participants), e.Capacity,
	)
}

func cancellationMessage(e *model.Event, reason string, loc *time.Location) string {
	return fmt.Sprintf(
		"Your %s event on %s has been canceled.\nReason: %s\nWe hope to see you at another event soon!",
		e.Sport.Label(), formatTime(e.StartTime, loc), reason,
	)
}
