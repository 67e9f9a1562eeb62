package model

import "strings"

type Sport string

const (
	SportPadel       Sport = "PADEL"
	SportTennis      Sport = "TENNIS"
	SportFootball    Sport = "FOOTBALL"
	SportBasketball  Sport = "BASKETBALL"
	SportVolleyball  Sport = "VOLLEYBALL"
	SportSquash      Sport = "SQUASH"
	SportBadminton   Sport = "BADMINTON"
	SportTableTennis Sport = "TABLE_TENNIS"
	SportGolf        Sport = "GOLF"
	SportClimbing    Sport = "CLIMBING"
)

type SportInfo struct {
	Sport           Sport    `json:"sport"`
	MinPlayers      int      `json:"min_players"`
	MaxPlayers      int      `json:"max_players"`
	RequiresBooking bool     `json:"requires_booking"`
	Description     string   `json:"description"`
	Equipment       []string `json:"equipment"`
}

// Sports lists every supported sport in display order.
var Sports = []SportInfo{
	{SportPadel, 2, 4, true, "Indoor/Outdoor court sport similar to tennis", []string{"Racket", "Ball"}},
	{SportTennis, 2, 4, true, "Court sport played with rackets and ball", []string{"Racket", "Ball"}},
	{SportFootball, 6, 22, false, "Team sport played with a ball", []string{"Ball", "Boots"}},
	{SportBasketball, 6, 10, false, "Team sport played on a court", []string{"Ball"}},
	{SportVolleyball, 6, 12, false, "Team sport played over a net", []string{"Ball"}},
	{SportSquash, 2, 2, true, "Indoor court sport", []string{"Racket", "Ball"}},
	{SportBadminton, 2, 4, true, "Indoor court sport with shuttlecock", []string{"Racket", "Shuttlecock"}},
	{SportTableTennis, 2, 4, true, "Indoor table sport", []string{"Paddle", "Ball"}},
	{SportGolf, 1, 4, false, "Outdoor course sport", []string{"Golf Clubs", "Golf Balls"}},
	{SportClimbing, 2, 8, false, "Indoor/Outdoor climbing sport", []string{"Climbing Shoes", "Harness"}},
}

// ParseSport resolves a sport name case-insensitively. Spaces are accepted
// in place of underscores ("table tennis").
func ParseSport(name string) (Sport, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	for _, s := range Sports {
		if string(s.Sport) == n {
			return s.Sport, true
		}
	}
	return "", false
}

// Label returns a human-friendly name, e.g. "Table Tennis".
func (s Sport) Label() string {
	words := strings.Split(strings.ToLower(string(s)), "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
