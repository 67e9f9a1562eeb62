// Package notify turns event lifecycle changes into WhatsApp messages and
// live feed updates.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/huddle/internal/model"
	"github.com/dukerupert/huddle/internal/websocket"
)

// ErrUnknownRecipient is returned when a user id has no phone number on file.
var ErrUnknownRecipient = errors.New("unknown recipient")

const fanOutLimit = 8

// Sender delivers messages over the chat channel.
type Sender interface {
	SendText(ctx context.Context, phone, body string) error
	CreateGroup(ctx context.Context, name string, phones []string) (string, error)
}

// Directory resolves user ids.
type Directory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type Notifier struct {
	sender Sender
	users  Directory
	feed   Broadcaster
	loc    *time.Location
	logger *slog.Logger
}

// New creates a Notifier. feed may be nil; loc defaults to UTC.
func New(sender Sender, users Directory, feed Broadcaster, loc *time.Location, logger *slog.Logger) *Notifier {
	if loc == nil {
		loc = time.UTC
	}
	return &Notifier{sender: sender, users: users, feed: feed, loc: loc, logger: logger}
}

func (n *Notifier) phone(ctx context.Context, userID string) (string, error) {
	u, err := n.users.GetByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", userID, err)
	}
	if u == nil || u.PhoneNumber == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownRecipient, userID)
	}
	return u.PhoneNumber, nil
}

func (n *Notifier) broadcast(action string, e *model.Event, reason string) {
	if n.feed == nil {
		return
	}
	msg := websocket.EventMessage(action, e)
	msg.Reason = reason
	n.feed.Broadcast(msg)
}

// SendText delivers body to a single user.
func (n *Notifier) SendText(ctx context.Context, userID, body string) error {
	phone, err := n.phone(ctx, userID)
	if err != nil {
		return err
	}
	return n.sender.SendText(ctx, phone, body)
}

// CreateGroup opens a group chat for the given participants.
func (n *Notifier) CreateGroup(ctx context.Context, name string, participantIDs []string) (string, error) {
	phones := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		p, err := n.phone(ctx, id)
		if err != nil {
			return "", err
		}
		phones = append(phones, p)
	}
	return n.sender.CreateGroup(ctx, name, phones)
}

// EventCreated sends the announcement to the creator, who shares it onward.
func (n *Notifier) EventCreated(ctx context.Context, e *model.Event) error {
	n.broadcast("created", e, "")
	return n.SendText(ctx, e.CreatorID, creationMessage(e, n.loc))
}

func (n *Notifier) JoinConfirmed(ctx context.Context, e *model.Event, userID string) error {
	n.broadcast("joined", e, "")
	return n.SendText(ctx, userID, joinMessage(e, n.loc))
}

// Reminder sends the threshold reminder to every participant. Delivery
// failures are collected; one bad recipient does not stop the others.
func (n *Notifier) Reminder(ctx context.Context, e *model.Event, t model.Threshold) error {
	return n.fanOut(ctx, e.Participants, reminderMessage(e, t, n.loc))
}

// Canceled tells every participant the event is off and why.
func (n *Notifier) Canceled(ctx context.Context, e *model.Event, reason string) error {
	n.broadcast("canceled", e, reason)
	return n.fanOut(ctx, e.Participants, cancellationMessage(e, reason, n.loc))
}

func (n *Notifier) fanOut(ctx context.Context, userIDs []string, body string) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)
	for _, id := range userIDs {
		g.Go(func() error {
			if err := n.SendText(ctx, id, body); err != nil {
				n.logger.Warn("deliver message", "user_id", id, "error", err)
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
