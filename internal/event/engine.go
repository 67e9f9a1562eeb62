// Package event owns the sports event lifecycle: creation, roster changes,
// cancellation, and the time-driven reminder sweep.
//
// Every operation re-reads the event from the Store, validates against that
// state, and writes back conditionally on the version it read. Operations on
// one event id are serialized in-process; a lost race against another process
// is retried. Notifications are best effort and never roll back a committed
// state change.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukerupert/huddle/internal/model"
	"github.com/dukerupert/huddle/internal/store"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

// ReasonInsufficientParticipants is the cancellation reason used by the sweep.
const ReasonInsufficientParticipants = "insufficient participants"

const defaultPageSize = 20

// Store is durable storage for events keyed by id.
type Store interface {
	// Get returns nil, nil when the event does not exist.
	Get(ctx context.Context, id string) (*model.Event, error)
	Create(ctx context.Context, e *model.Event) error
	// Update must fail with store.ErrConflict when e.Version is stale.
	Update(ctx context.Context, e *model.Event) error
	ListUpcoming(ctx context.Context, after time.Time) ([]model.Event, error)
	ListByParticipant(ctx context.Context, userID string, after time.Time) ([]model.Event, error)
}

// Notifier delivers messages to participants.
type Notifier interface {
	SendText(ctx context.Context, userID, message string) error
	CreateGroup(ctx context.Context, name string, participantIDs []string) (string, error)
	EventCreated(ctx context.Context, e *model.Event) error
	JoinConfirmed(ctx context.Context, e *model.Event, userID string) error
	Reminder(ctx context.Context, e *model.Event, t model.Threshold) error
	Canceled(ctx context.Context, e *model.Event, reason string) error
}

// Membership resolves users and enforces creation quotas.
type Membership interface {
	// Lookup returns nil, nil for unknown users.
	Lookup(ctx context.Context, userID string) (*model.User, error)
	// ReserveEventCreation checks the creation quota and counts the new
	// event in one step. It reports false when the quota is used up.
	ReserveEventCreation(ctx context.Context, userID string) (bool, error)
	// ReleaseEventCreation gives back a reservation whose event was never stored.
	ReleaseEventCreation(ctx context.Context, userID string) error
	RecordEventJoined(ctx context.Context, userID string) error
}

// Config tunes the engine. Zero retry settings select the defaults.
type Config struct {
	// MinAdvance is the minimum lead time between creation and start.
	MinAdvance time.Duration
	// MaxRetries bounds how often a conflicting write is retried.
	MaxRetries uint64
	// RetryDelay is the pause between retries.
	RetryDelay time.Duration
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine applies lifecycle operations to events held in a Store.
type Engine struct {
	store      Store
	notifier   Notifier
	membership Membership
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	locks      *keyedMutex
	sweeps     singleflight.Group
}

// NewEngine creates an Engine over the given collaborators.
func NewEngine(s Store, n Notifier, m Membership, cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	e := &Engine{
		store:      s,
		notifier:   n,
		membership: m,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		locks:      newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateParams describes a new event.
type CreateParams struct {
	CreatorID   string
	Sport       model.Sport
	Location    string
	StartTime   time.Time
	Capacity    int
	SkillLevel  int
	BookingLink string
}

// Create schedules a new event with the creator as its only participant.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*model.Event, error) {
	now := e.now().UTC()
	if p.StartTime.Before(now.Add(e.cfg.MinAdvance)) {
		return nil, conflict(ErrInvalidLeadTime, "Events must be created at least %s in advance", formatLead(e.cfg.MinAdvance))
	}
	if err := validateParams(p); err != nil {
		return nil, err
	}

	creator, err := e.membership.Lookup(ctx, p.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("lookup creator: %w", err)
	}
	if creator == nil {
		return nil, ErrCreatorNotFound
	}

	id, err := newEventID(p.Sport, p.StartTime)
	if err != nil {
		return nil, err
	}

	ok, err := e.membership.ReserveEventCreation(ctx, p.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("check quota: %w", err)
	}
	if !ok {
		return nil, conflict(ErrQuotaExceeded, "You've reached your free event creation limit. Please upgrade to premium to create more events.")
	}

	ev := &model.Event{
		ID:           id,
		Sport:        p.Sport,
		Location:     strings.TrimSpace(p.Location),
		StartTime:    p.StartTime.UTC(),
		CreatorID:    p.CreatorID,
		Participants: []string{p.CreatorID},
		Capacity:     p.Capacity,
		SkillLevel:   p.SkillLevel,
		Status:       model.StatusCreated,
		RemindersSent: map[model.Threshold]bool{
			model.Threshold24h: false,
			model.Threshold2h:  false,
		},
		BookingLink: strings.TrimSpace(p.BookingLink),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.Create(ctx, ev); err != nil {
		if rerr := e.membership.ReleaseEventCreation(ctx, p.CreatorID); rerr != nil {
			e.logger.Warn("release event quota", "user_id", p.CreatorID, "error", rerr)
		}
		return nil, fmt.Errorf("create event: %w", err)
	}
	if err := e.notifier.EventCreated(ctx, ev); err != nil {
		e.logger.Warn("notify event created", "event_id", ev.ID, "error", err)
	}

	e.logger.Info("event created", "event_id", ev.ID, "sport", ev.Sport, "start_time", ev.StartTime)
	return ev, nil
}

func validateParams(p CreateParams) error {
	if _, ok := model.ParseSport(string(p.Sport)); !ok {
		return conflict(ErrInvalidInput, "Unknown sport %q", p.Sport)
	}
	if strings.TrimSpace(p.Location) == "" {
		return conflict(ErrInvalidInput, "Location is required")
	}
	if p.Capacity < model.ConfirmationSize {
		return conflict(ErrInvalidInput, "Participant limit must be at least %d", model.ConfirmationSize)
	}
	if p.SkillLevel < 1 || p.SkillLevel > 5 {
		return conflict(ErrInvalidInput, "Skill level must be between 1 and 5")
	}
	return nil
}

// Get returns the current state of an event.
func (e *Engine) Get(ctx context.Context, id string) (*model.Event, error) {
	ev, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if ev == nil {
		return nil, ErrNotFound
	}
	return ev, nil
}

// Filter narrows and pages event listings. Zero values mean "any".
type Filter struct {
	Sport      model.Sport
	SkillLevel int
	// Page is zero-based.
	Page     int
	PageSize int
}

func (f Filter) apply(events []model.Event) []model.Event {
	matched := slices.DeleteFunc(events, func(ev model.Event) bool {
		if f.Sport != "" && ev.Sport != f.Sport {
			return true
		}
		return f.SkillLevel != 0 && ev.SkillLevel != f.SkillLevel
	})

	size := f.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	page := max(f.Page, 0)
	// Compared by division so huge pages cannot overflow the offset.
	if len(matched) == 0 || page > (len(matched)-1)/size {
		return []model.Event{}
	}
	start := page * size
	return matched[start:min(start+size, len(matched))]
}

// ListUpcoming returns open events that have not started yet.
func (e *Engine) ListUpcoming(ctx context.Context, f Filter) ([]model.Event, error) {
	events, err := e.store.ListUpcoming(ctx, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list upcoming: %w", err)
	}
	return f.apply(events), nil
}

// ListForParticipant returns not-yet-started events whose roster contains userID.
func (e *Engine) ListForParticipant(ctx context.Context, userID string, f Filter) ([]model.Event, error) {
	events, err := e.store.ListByParticipant(ctx, userID, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list participant events: %w", err)
	}
	return f.apply(events), nil
}

// Join adds userID to the roster. The event becomes CONFIRMED once the
// roster reaches two participants, at which point a group chat is created.
func (e *Engine) Join(ctx context.Context, eventID, userID string) (*model.Event, error) {
	unlock := e.locks.Lock(eventID)
	ev, err := e.mutateLocked(ctx, eventID, func(ev *model.Event) (bool, error) {
		if ev.Status.Terminal() {
			return false, conflict(ErrWrongStatus, "This event is no longer accepting participants")
		}
		if ev.Full() {
			return false, conflict(ErrAlreadyFull, "This event is already full")
		}
		if ev.HasParticipant(userID) {
			return false, conflict(ErrAlreadyJoined, "You are already a participant in this event")
		}
		u, err := e.membership.Lookup(ctx, userID)
		if err != nil {
			return false, fmt.Errorf("lookup user: %w", err)
		}
		if u == nil {
			return false, ErrUserNotFound
		}

		ev.Participants = append(ev.Participants, userID)
		if ev.Status == model.StatusCreated && len(ev.Participants) >= model.ConfirmationSize {
			ev.Status = model.StatusConfirmed
		}
		return true, nil
	})
	if err == nil {
		ev = e.ensureGroupLocked(ctx, ev)
	}
	unlock()
	if err != nil {
		return nil, err
	}

	if err := e.membership.RecordEventJoined(ctx, userID); err != nil {
		e.logger.Warn("record event joined", "event_id", eventID, "user_id", userID, "error", err)
	}
	if err := e.notifier.JoinConfirmed(ctx, ev, userID); err != nil {
		e.logger.Warn("notify join confirmation", "event_id", eventID, "user_id", userID, "error", err)
	}

	e.logger.Info("participant joined", "event_id", eventID, "user_id", userID, "participants", len(ev.Participants), "status", ev.Status)
	return ev, nil
}

// ensureGroupLocked attaches a group chat handle to a confirmed event that
// lacks one. Failure leaves the handle empty so a later join can retry.
// The caller must hold the event lock.
func (e *Engine) ensureGroupLocked(ctx context.Context, ev *model.Event) *model.Event {
	if ev.GroupHandle != "" || ev.Status != model.StatusConfirmed {
		return ev
	}

	name := fmt.Sprintf("%s on %s", ev.Sport.Label(), ev.StartTime.Format("Mon Jan 2 15:04"))
	handle, err := e.notifier.CreateGroup(ctx, name, ev.Participants)
	if err != nil {
		e.logger.Warn("create group chat", "event_id", ev.ID, "error", err)
		return ev
	}

	updated, err := e.mutateLocked(ctx, ev.ID, func(cur *model.Event) (bool, error) {
		if cur.GroupHandle != "" {
			return false, nil
		}
		cur.GroupHandle = handle
		return true, nil
	})
	if err != nil {
		e.logger.Warn("attach group chat", "event_id", ev.ID, "group", handle, "error", err)
		return ev
	}
	return updated
}

// Leave removes userID from the roster. A confirmed event that drops below
// two participants goes back to CREATED. Creators cannot leave.
func (e *Engine) Leave(ctx context.Context, eventID, userID string) error {
	ev, err := e.mutate(ctx, eventID, func(ev *model.Event) (bool, error) {
		if !ev.HasParticipant(userID) {
			return false, conflict(ErrNotAParticipant, "You are not a participant in this event")
		}
		if ev.CreatorID == userID {
			return false, conflict(ErrCreatorCannotLeave, "As the creator, you can't leave the event. You can cancel it instead.")
		}
		if ev.Status.Terminal() {
			return false, conflict(ErrWrongStatus, "This event is already %s", strings.ToLower(string(ev.Status)))
		}

		ev.Participants = slices.DeleteFunc(ev.Participants, func(p string) bool { return p == userID })
		if len(ev.Participants) < model.ConfirmationSize && ev.Status == model.StatusConfirmed {
			ev.Status = model.StatusCreated
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("You have successfully left the %s event on %s.", ev.Sport.Label(), ev.StartTime.Format("Mon Jan 2 15:04"))
	if err := e.notifier.SendText(ctx, userID, msg); err != nil {
		e.logger.Warn("notify leave", "event_id", eventID, "user_id", userID, "error", err)
	}

	e.logger.Info("participant left", "event_id", eventID, "user_id", userID, "participants", len(ev.Participants), "status", ev.Status)
	return nil
}

// Cancel moves the event to CANCELED and tells every participant why.
func (e *Engine) Cancel(ctx context.Context, eventID, reason string) (*model.Event, error) {
	ev, err := e.mutate(ctx, eventID, func(ev *model.Event) (bool, error) {
		return true, applyCancel(ev)
	})
	if err != nil {
		return nil, err
	}

	if err := e.notifier.Canceled(ctx, ev, reason); err != nil {
		e.logger.Warn("notify cancellation", "event_id", eventID, "error", err)
	}

	e.logger.Info("event canceled", "event_id", eventID, "reason", reason)
	return ev, nil
}

func applyCancel(ev *model.Event) error {
	switch ev.Status {
	case model.StatusCanceled:
		return conflict(ErrAlreadyCanceled, "This event has already been canceled")
	case model.StatusCompleted:
		return conflict(ErrWrongStatus, "This event has already taken place")
	}
	ev.Status = model.StatusCanceled
	return nil
}

// mutate runs fn on a freshly read copy of the event under its lock.
func (e *Engine) mutate(ctx context.Context, id string, fn func(*model.Event) (bool, error)) (*model.Event, error) {
	unlock := e.locks.Lock(id)
	defer unlock()
	return e.mutateLocked(ctx, id, fn)
}

// mutateLocked reads the event, lets fn validate and modify it, and writes it
// back when fn asks to. Version conflicts restart the whole sequence.
func (e *Engine) mutateLocked(ctx context.Context, id string, fn func(*model.Event) (bool, error)) (*model.Event, error) {
	backoff := retry.WithMaxRetries(e.cfg.MaxRetries, retry.NewConstant(e.cfg.RetryDelay))

	var out *model.Event
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ev, err := e.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		if ev == nil {
			return ErrNotFound
		}

		write, err := fn(ev)
		if err != nil {
			return err
		}
		if !write {
			out = ev
			return nil
		}

		ev.UpdatedAt = e.now().UTC()
		if err := e.store.Update(ctx, ev); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return retry.RetryableError(err)
			}
			return fmt.Errorf("update event: %w", err)
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func formatLead(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return d.String()
}
