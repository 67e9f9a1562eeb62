// Package chat turns inbound WhatsApp text commands into event operations
// and replies to the sender.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/huddle/internal/event"
	"github.com/dukerupert/huddle/internal/model"
)

// Engine is the slice of the event engine the processor drives.
type Engine interface {
	Create(ctx context.Context, p event.CreateParams) (*model.Event, error)
	Get(ctx context.Context, id string) (*model.Event, error)
	Join(ctx context.Context, eventID, userID string) (*model.Event, error)
	Leave(ctx context.Context, eventID, userID string) error
	Cancel(ctx context.Context, eventID, reason string) (*model.Event, error)
	ListUpcoming(ctx context.Context, f event.Filter) ([]model.Event, error)
	ListForParticipant(ctx context.Context, userID string, f event.Filter) ([]model.Event, error)
}

type Users interface {
	GetByPhone(ctx context.Context, phone string) (*model.User, error)
	Create(ctx context.Context, phone, name string) (*model.User, error)
}

type Replier interface {
	SendText(ctx context.Context, phone, body string) error
}

const (
	reasonCreatorCanceled = "Canceled by event creator"
	listLimit             = 10
	dedupeWindow          = 10 * time.Minute
)

const (
	msgNotFound     = "Event not found. Please check the event ID and try again."
	msgUnknown      = "I don't understand that command. Type HELP to see available commands."
	msgInternal     = "Something went wrong on our side. Please try again in a moment."
	msgCreated      = "Event created successfully! We'll notify you when people join."
	msgCanceled     = "Event canceled successfully"
	msgNotCreator   = "Only the event creator can cancel an event. To leave an event, use LEAVE [eventId]"
	msgNoEvents     = "There are no upcoming events. You can create one!"
	msgNoMyEvents   = "You have no upcoming events. Reply EVENTS to find one."
	msgBadDate      = "Invalid date/time format. Please use format: YYYY-MM-DD HH:MM (e.g., 2026-04-15 18:30)"
	msgCreateFormat = "Invalid CREATE EVENT command. Example format: " +
		"CREATE EVENT PADEL AT City Sports Club ON 2026-04-15 18:30 FOR 4 PLAYERS SKILL 3 BOOKING http://example.com"
)

const helpText = "*Huddle Commands*\n\n" +
	"• *CREATE EVENT [sport] AT [location] ON [YYYY-MM-DD HH:MM] FOR [number] PLAYERS SKILL [1-5] BOOKING [optional-url]* - Create a new event\n" +
	"• *JOIN [eventId]* - Join an existing event\n" +
	"• *LEAVE [eventId]* - Leave an event you joined\n" +
	"• *CANCEL [eventId]* - Cancel an event (creator only)\n" +
	"• *EVENTS* - Show upcoming events\n" +
	"• *MY EVENTS* - Show the events you are in\n" +
	"• *HELP* - Show this help message"

var createPattern = regexp.MustCompile(`(?is)^CREATE\s+EVENT\s+(.+?)\s+AT\s+(.+?)\s+ON\s+(\d{4}-\d{2}-\d{2})\s+(\d{1,2}:\d{2})\s+FOR\s+(\d+)\s+PLAYERS?\s+SKILL\s+(\d+)(?:\s+BOOKING\s+(\S+))?\s*$`)

// Processor handles one inbound message at a time per call; it is safe for
// concurrent use.
type Processor struct {
	engine  Engine
	users   Users
	replier Replier
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewProcessor creates a Processor. Dates typed by users are read in loc.
func NewProcessor(engine Engine, users Users, replier Replier, loc *time.Location, logger *slog.Logger) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	return &Processor{
		engine:  engine,
		users:   users,
		replier: replier,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
}

// Process handles a delivered message and sends the reply, if any.
// Redelivered message ids are ignored unless the earlier attempt failed
// before the command ran.
func (p *Processor) Process(ctx context.Context, messageID, from, text string) error {
	if messageID != "" && p.duplicate(messageID) {
		p.logger.Debug("duplicate message ignored", "message_id", messageID)
		return nil
	}

	reply, err := p.Handle(ctx, from, text)
	if err != nil {
		if messageID != "" {
			p.forget(messageID)
		}
		return err
	}
	if reply == "" {
		return nil
	}
	if err := p.replier.SendText(ctx, from, reply); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

func (p *Processor) duplicate(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for k, at := range p.seen {
		if now.Sub(at) > dedupeWindow {
			delete(p.seen, k)
		}
	}
	if _, ok := p.seen[id]; ok {
		return true
	}
	p.seen[id] = now
	return false
}

// forget drops id so a redelivery is processed again.
func (p *Processor) forget(id string) {
	p.mu.Lock()
	delete(p.seen, id)
	p.mu.Unlock()
}

// Handle runs the command in text on behalf of the sender and returns the
// reply. An empty reply means the engine already messaged the sender.
// Only registration failures are returned as errors.
func (p *Processor) Handle(ctx context.Context, from, text string) (string, error) {
	user, err := p.register(ctx, from)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	fields := strings.Fields(strings.ToUpper(text))
	if len(fields) == 0 {
		return msgUnknown, nil
	}

	logger := p.logger.With("user_id", user.ID, "command", fields[0])

	switch {
	case fields[0] == "JOIN":
		return p.join(ctx, logger, user, fields), nil
	case fields[0] == "LEAVE":
		return p.leave(ctx, logger, user, fields), nil
	case fields[0] == "CANCEL":
		return p.cancel(ctx, logger, user, fields), nil
	case len(fields) >= 2 && fields[0] == "CREATE" && fields[1] == "EVENT":
		return p.create(ctx, logger, user, text), nil
	case fields[0] == "EVENTS":
		return p.listUpcoming(ctx, logger), nil
	case len(fields) >= 2 && fields[0] == "MY" && fields[1] == "EVENTS":
		return p.listMine(ctx, logger, user), nil
	case fields[0] == "HELP":
		return helpText, nil
	}
	return msgUnknown, nil
}

func (p *Processor) register(ctx context.Context, phone string) (*model.User, error) {
	u, err := p.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("lookup sender: %w", err)
	}
	if u != nil {
		return u, nil
	}

	name := "User"
	if len(phone) >= 4 {
		name += phone[len(phone)-4:]
	}
	u, err = p.users.Create(ctx, phone, name)
	if err != nil {
		return nil, fmt.Errorf("register sender: %w", err)
	}
	p.logger.Info("user registered", "user_id", u.ID)
	return u, nil
}

func (p *Processor) join(ctx context.Context, logger *slog.Logger, u *model.User, fields []string) string {
	if len(fields) < 2 {
		return "Invalid JOIN command. Please use the format: JOIN [eventId]"
	}
	if _, err := p.engine.Join(ctx, event.NormalizeID(fields[1]), u.ID); err != nil {
		return p.errorReply(logger, err)
	}
	return ""
}

func (p *Processor) leave(ctx context.Context, logger *slog.Logger, u *model.User, fields []string) string {
	if len(fields) < 2 {
		return "Invalid LEAVE command. Please use the format: LEAVE [eventId]"
	}
	if err := p.engine.Leave(ctx, event.NormalizeID(fields[1]), u.ID); err != nil {
		return p.errorReply(logger, err)
	}
	return ""
}

func (p *Processor) cancel(ctx context.Context, logger *slog.Logger, u *model.User, fields []string) string {
	if len(fields) < 2 {
		return "Invalid CANCEL command. Please use the format: CANCEL [eventId]"
	}
	id := event.NormalizeID(fields[1])

	ev, err := p.engine.Get(ctx, id)
	if err != nil {
		return p.errorReply(logger, err)
	}
	if ev.CreatorID != u.ID {
		return msgNotCreator
	}
	if _, err := p.engine.Cancel(ctx, id, reasonCreatorCanceled); err != nil {
		return p.errorReply(logger, err)
	}
	return msgCanceled
}

func (p *Processor) create(ctx context.Context, logger *slog.Logger, u *model.User, text string) string {
	m := createPattern.FindStringSubmatch(text)
	if m == nil {
		return msgCreateFormat
	}

	sport, ok := model.ParseSport(m[1])
	if !ok {
		return fmt.Sprintf("Unknown sport %q. Supported sports: %s", strings.TrimSpace(m[1]), sportList())
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", m[3]+" "+m[4], p.loc)
	if err != nil {
		return msgBadDate
	}
	capacity, err := strconv.Atoi(m[5])
	if err != nil {
		return msgCreateFormat
	}
	skill, err := strconv.Atoi(m[6])
	if err != nil {
		return msgCreateFormat
	}

	_, err = p.engine.Create(ctx, event.CreateParams{
		CreatorID:   u.ID,
		Sport:       sport,
		Location:    m[2],
		StartTime:   start,
		Capacity:    capacity,
		SkillLevel:  skill,
		BookingLink: m[7],
	})
	if err != nil {
		return p.errorReply(logger, err)
	}
	return msgCreated
}

func (p *Processor) listUpcoming(ctx context.Context, logger *slog.Logger) string {
	events, err := p.engine.ListUpcoming(ctx, event.Filter{PageSize: listLimit})
	if err != nil {
		return p.errorReply(logger, err)
	}
	if len(events) == 0 {
		return msgNoEvents
	}
	return p.formatEvents("*Upcoming Events*", events)
}

func (p *Processor) listMine(ctx context.Context, logger *slog.Logger, u *model.User) string {
	events, err := p.engine.ListForParticipant(ctx, u.ID, event.Filter{PageSize: listLimit})
	if err != nil {
		return p.errorReply(logger, err)
	}
	if len(events) == 0 {
		return msgNoMyEvents
	}
	return p.formatEvents("*Your Events*", events)
}

func (p *Processor) formatEvents(title string, events []model.Event) string {
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	for _, ev := range events {
		fmt.Fprintf(&b, "*%s*", ev.Sport.Label())
		if ev.Status != model.StatusCreated {
			fmt.Fprintf(&b, " (%s)", strings.ToLower(string(ev.Status)))
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Date: %s\n", ev.StartTime.In(p.loc).Format("Mon Jan 2 15:04"))
		fmt.Fprintf(&b, "Location: %s\n", ev.Location)
		fmt.Fprintf(&b, "%d/%d participants, skill %d/5\n", len(ev.Participants), ev.Capacity, ev.SkillLevel)
		fmt.Fprintf(&b, "ID: %s\n\n", ev.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Processor) errorReply(logger *slog.Logger, err error) string {
	var ce *event.ConflictError
	switch {
	case errors.As(err, &ce):
		return ce.Reason
	case errors.Is(err, event.ErrNotFound):
		return msgNotFound
	case errors.Is(err, event.ErrUserNotFound), errors.Is(err, event.ErrCreatorNotFound):
		return "We couldn't find your account. Please try again."
	}
	logger.Error("chat command failed", "error", err)
	return msgInternal
}

func sportList() string {
	names := make([]string, len(model.Sports))
	for i, s := range model.Sports {
		names[i] = string(s.Sport)
	}
	return strings.Join(names, ", ")
}
