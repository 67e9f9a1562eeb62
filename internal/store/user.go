package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/huddle/internal/model"
	"github.com/google/uuid"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var premium int
	err := scanner.Scan(&u.ID, &u.PhoneNumber, &u.Name, &u.SkillLevel, &u.EventsCreated, &u.EventsJoined, &premium, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Premium = premium != 0
	return &u, nil
}

const userCols = `id, phone_number, name, skill_level, events_created, events_joined, is_premium, created_at, updated_at`

func (s *UserStore) Create(ctx context.Context, phoneNumber, name string) (*model.User, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, phone_number, name, skill_level, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`,
		id, phoneNumber, name, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByPhone(ctx context.Context, phoneNumber string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE phone_number = ?`, phoneNumber)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	return u, nil
}

// SetPremium toggles the premium flag.
func (s *UserStore) SetPremium(ctx context.Context, id string, premium bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_premium = ?, updated_at = ? WHERE id = ?`,
		boolInt(premium), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return nil
}

// ReserveEventCreated bumps the created counter if the user is premium or
// still below limit. The check and the increment are one statement, so
// concurrent reservations cannot overshoot. It reports false when no row
// changed, which includes missing users.
func (s *UserStore) ReserveEventCreated(ctx context.Context, id string, limit int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET events_created = events_created + 1, updated_at = ?
		 WHERE id = ? AND (is_premium = 1 OR events_created < ?)`,
		time.Now().UTC(), id, limit,
	)
	if err != nil {
		return false, fmt.Errorf("reserve event created: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve event created: %w", err)
	}
	return n == 1, nil
}

// ReleaseEventCreated undoes a reservation whose event was never stored.
func (s *UserStore) ReleaseEventCreated(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET events_created = events_created - 1, updated_at = ?
		 WHERE id = ? AND events_created > 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("release event created: %w", err)
	}
	return nil
}

// IncrementEventsJoined bumps the joined counter. Missing users are ignored.
func (s *UserStore) IncrementEventsJoined(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET events_joined = events_joined + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("increment events joined: %w", err)
	}
	return nil
}
