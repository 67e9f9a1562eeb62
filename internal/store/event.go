package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/huddle/internal/model"
)

// ErrConflict is returned by Update when the stored version no longer
// matches the one the caller read.
var ErrConflict = errors.New("event was modified concurrently")

type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

const eventCols = `id, sport, location, start_time, creator_id, participants, capacity, skill_level,
	status, group_handle, reminded_24h, reminded_2h, booking_link, version, created_at, updated_at`

func scanEvent(scanner interface{ Scan(...any) error }) (*model.Event, error) {
	var e model.Event
	var participants string
	var reminded24, reminded2 int

	err := scanner.Scan(&e.ID, &e.Sport, &e.Location, &e.StartTime, &e.CreatorID, &participants, &e.Capacity, &e.SkillLevel,
		&e.Status, &e.GroupHandle, &reminded24, &reminded2, &e.BookingLink, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	e.StartTime = e.StartTime.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()

	if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	e.RemindersSent = map[model.Threshold]bool{
		model.Threshold24h: reminded24 != 0,
		model.Threshold2h:  reminded2 != 0,
	}
	return &e, nil
}

// Create inserts a new event. The version is reset to 1.
func (s *EventStore) Create(ctx context.Context, e *model.Event) error {
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}

	e.Version = 1
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, sport, location, start_time, creator_id, participants, capacity, skill_level,
			status, group_handle, reminded_24h, reminded_2h, booking_link, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Sport, e.Location, e.StartTime.UTC(), e.CreatorID, string(participants), e.Capacity, e.SkillLevel,
		e.Status, e.GroupHandle, boolInt(e.ReminderSent(model.Threshold24h)), boolInt(e.ReminderSent(model.Threshold2h)),
		e.BookingLink, e.Version, e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Get returns the event with the given id, or nil if none exists.
func (s *EventStore) Get(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// Update writes e if the stored version still equals e.Version, then bumps
// e.Version. A mismatch (or a missing row) yields ErrConflict.
func (s *EventStore) Update(ctx context.Context, e *model.Event) error {
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE events
		 SET sport = ?, location = ?, start_time = ?, participants = ?, capacity = ?, skill_level = ?,
		     status = ?, group_handle = ?, reminded_24h = ?, reminded_2h = ?, booking_link = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		e.Sport, e.Location, e.StartTime.UTC(), string(participants), e.Capacity, e.SkillLevel,
		e.Status, e.GroupHandle, boolInt(e.ReminderSent(model.Threshold24h)), boolInt(e.ReminderSent(model.Threshold2h)),
		e.BookingLink, e.UpdatedAt.UTC(),
		e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	e.Version++
	return nil
}

// ListUpcoming returns events starting after the given time that are still
// open (neither canceled nor completed), soonest first.
func (s *EventStore) ListUpcoming(ctx context.Context, after time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+`
		 FROM events
		 WHERE start_time > ? AND status NOT IN (?, ?)
		 ORDER BY start_time ASC`,
		after.UTC(), model.StatusCanceled, model.StatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("query upcoming events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByParticipant returns events starting after the given time whose
// roster contains userID, in any status.
func (s *EventStore) ListByParticipant(ctx context.Context, userID string, after time.Time) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventCols+`
		 FROM events
		 WHERE start_time > ?
		   AND EXISTS (SELECT 1 FROM json_each(events.participants) p WHERE p.value = ?)
		 ORDER BY start_time ASC`,
		after.UTC(), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query participant events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
