package event

import (
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/dukerupert/huddle/internal/model"
)

// Unambiguous when read aloud or typed on a phone: no 0/O or 1/I.
const idAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// newEventID returns a short id people can type into chat, e.g.
// "PAD-20260415-K7Q2XM".
func newEventID(sport model.Sport, start time.Time) (string, error) {
	suffix, err := gonanoid.Generate(idAlphabet, 6)
	if err != nil {
		return "", fmt.Errorf("generate event id: %w", err)
	}
	prefix := strings.ReplaceAll(string(sport), "_", "")
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, start.UTC().Format("20060102"), suffix), nil
}

// NormalizeID maps user-typed ids onto the canonical upper-case form.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
