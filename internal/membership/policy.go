// Package membership decides who may create events and keeps the per-user
// activity counters.
package membership

import (
	"context"
	"fmt"

	"github.com/dukerupert/huddle/internal/model"
)

// DefaultFreeLimit is how many events a non-premium user may create.
const DefaultFreeLimit = 5

// Users is the subset of the user store the policy needs.
type Users interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	ReserveEventCreated(ctx context.Context, id string, limit int) (bool, error)
	ReleaseEventCreated(ctx context.Context, id string) error
	IncrementEventsJoined(ctx context.Context, id string) error
}

type Policy struct {
	users     Users
	freeLimit int
}

// NewPolicy returns a policy over users. A negative freeLimit selects
// DefaultFreeLimit.
func NewPolicy(users Users, freeLimit int) *Policy {
	if freeLimit < 0 {
		freeLimit = DefaultFreeLimit
	}
	return &Policy{users: users, freeLimit: freeLimit}
}

func (p *Policy) Lookup(ctx context.Context, userID string) (*model.User, error) {
	return p.users.GetByID(ctx, userID)
}

// ReserveEventCreation counts an event against userID's quota if the user
// is premium or under the free limit. Unknown users are allowed; existence
// is checked separately.
func (p *Policy) ReserveEventCreation(ctx context.Context, userID string) (bool, error) {
	ok, err := p.users.ReserveEventCreated(ctx, userID, p.freeLimit)
	if err != nil {
		return false, fmt.Errorf("check quota: %w", err)
	}
	if ok {
		return true, nil
	}
	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check quota: %w", err)
	}
	return u == nil, nil
}

// ReleaseEventCreation returns a reservation whose event was never stored.
func (p *Policy) ReleaseEventCreation(ctx context.Context, userID string) error {
	return p.users.ReleaseEventCreated(ctx, userID)
}

func (p *Policy) RecordEventJoined(ctx context.Context, userID string) error {
	return p.users.IncrementEventsJoined(ctx, userID)
}
