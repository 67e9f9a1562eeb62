package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/huddle/internal/database"
	"github.com/dukerupert/huddle/internal/event"
	"github.com/dukerupert/huddle/internal/membership"
	"github.com/dukerupert/huddle/internal/model"
	"github.com/dukerupert/huddle/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// silentNotifier satisfies event.Notifier without delivering anything.
type silentNotifier struct{}

func (silentNotifier) SendText(context.Context, string, string) error { return nil }
func (silentNotifier) CreateGroup(context.Context, string, []string) (string, error) {
	return "group-chat", nil
}
func (silentNotifier) EventCreated(context.Context, *model.Event) error                  { return nil }
func (silentNotifier) JoinConfirmed(context.Context, *model.Event, string) error         { return nil }
func (silentNotifier) Reminder(context.Context, *model.Event, model.Threshold) error     { return nil }
func (silentNotifier) Canceled(context.Context, *model.Event, string) error              { return nil }

type recordingReplier struct {
	mu      sync.Mutex
	replies map[string][]string
}

func (r *recordingReplier) SendText(_ context.Context, phone, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies[phone] = append(r.replies[phone], body)
	return nil
}

type fixture struct {
	proc    *Processor
	engine  *event.Engine
	users   *store.UserStore
	replier *recordingReplier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := store.NewUserStore(db)
	engine := event.NewEngine(
		store.NewEventStore(db),
		silentNotifier{},
		membership.NewPolicy(users, membership.DefaultFreeLimit),
		event.Config{MinAdvance: 3 * time.Hour},
		logger,
		event.WithClock(func() time.Time { return testNow }),
	)
	replier := &recordingReplier{replies: map[string][]string{}}
	return &fixture{
		proc:    NewProcessor(engine, users, replier, time.UTC, logger),
		engine:  engine,
		users:   users,
		replier: replier,
	}
}

func (f *fixture) send(t *testing.T, from, text string) string {
	t.Helper()
	reply, err := f.proc.Handle(context.Background(), from, text)
	require.NoError(t, err)
	return reply
}

// createEvent creates a padel event for from and returns its id.
func (f *fixture) createEvent(t *testing.T, from string, capacity string) string {
	t.Helper()
	reply := f.send(t, from, "CREATE EVENT PADEL AT City Sports Club ON 2026-03-05 18:30 FOR "+capacity+" PLAYERS SKILL 3")
	require.Equal(t, msgCreated, reply)

	u, err := f.users.GetByPhone(context.Background(), from)
	require.NoError(t, err)
	events, err := f.engine.ListForParticipant(context.Background(), u.ID, event.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	return events[len(events)-1].ID
}

func TestHelpRegistersSender(t *testing.T) {
	f := newFixture(t)

	reply := f.send(t, "+34600000001", "help")
	assert.Equal(t, helpText, reply)

	u, err := f.users.GetByPhone(context.Background(), "+34600000001")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "User0001", u.Name)

	f.send(t, "+34600000001", "HELP")
	again, _ := f.users.GetByPhone(context.Background(), "+34600000001")
	assert.Equal(t, u.ID, again.ID, "second message must not register twice")
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, msgUnknown, f.send(t, "+1", "hello there"))
	assert.Equal(t, msgUnknown, f.send(t, "+1", "   "))
}

func TestCreateEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply := f.send(t, "+100", "create event table tennis at Harbour Hall, court 2 on 2026-03-04 9:05 for 4 players skill 2 booking https://book.example/42")
	require.Equal(t, msgCreated, reply)

	events, err := f.engine.ListUpcoming(ctx, event.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, model.SportTableTennis, ev.Sport)
	assert.Equal(t, "Harbour Hall, court 2", ev.Location)
	assert.Equal(t, time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC), ev.StartTime)
	assert.Equal(t, 4, ev.Capacity)
	assert.Equal(t, 2, ev.SkillLevel)
	assert.Equal(t, "https://book.example/42", ev.BookingLink)
	assert.True(t, strings.HasPrefix(ev.ID, "TAB-20260304-"))
}

func TestCreateEventRejections(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"malformed", "CREATE EVENT PADEL tomorrow", msgCreateFormat},
		{"unknown sport", "CREATE EVENT CHESS AT Club ON 2026-03-05 18:30 FOR 2 PLAYERS SKILL 3", `Unknown sport "CHESS"`},
		{"bad date", "CREATE EVENT PADEL AT Club ON 2026-13-45 18:30 FOR 2 PLAYERS SKILL 3", msgBadDate},
		{"too soon", "CREATE EVENT PADEL AT Club ON 2026-03-01 14:00 FOR 2 PLAYERS SKILL 3", "Events must be created at least 3 hours in advance"},
		{"capacity", "CREATE EVENT PADEL AT Club ON 2026-03-05 18:30 FOR 1 PLAYERS SKILL 3", "Participant limit must be at least 2"},
		{"skill", "CREATE EVENT PADEL AT Club ON 2026-03-05 18:30 FOR 4 PLAYERS SKILL 9", "Skill level must be between 1 and 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			assert.Contains(t, f.send(t, "+100", tt.text), tt.want)

			events, err := f.engine.ListUpcoming(context.Background(), event.Filter{})
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestJoinAndLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createEvent(t, "+100", "4")

	assert.Empty(t, f.send(t, "+200", "join "+strings.ToLower(id)))
	ev, err := f.engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, ev.Status)
	assert.Len(t, ev.Participants, 2)
	assert.Equal(t, "group-chat", ev.GroupHandle)

	assert.Equal(t, "You are already a participant in this event", f.send(t, "+200", "JOIN "+id))
	assert.Equal(t, msgNotFound, f.send(t, "+200", "JOIN PAD-19990101-XXXXXX"))
	assert.Contains(t, f.send(t, "+200", "JOIN"), "Invalid JOIN command")

	assert.Contains(t, f.send(t, "+100", "LEAVE "+id), "As the creator, you can't leave")
	assert.Empty(t, f.send(t, "+200", "LEAVE "+id))
	assert.Equal(t, "You are not a participant in this event", f.send(t, "+200", "LEAVE "+id))

	ev, _ = f.engine.Get(ctx, id)
	assert.Equal(t, model.StatusCreated, ev.Status)
}

func TestJoinFullEvent(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "+100", "2")

	assert.Empty(t, f.send(t, "+200", "JOIN "+id))
	assert.Equal(t, "This event is already full", f.send(t, "+300", "JOIN "+id))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "+100", "4")
	f.send(t, "+200", "JOIN "+id)

	assert.Equal(t, msgNotCreator, f.send(t, "+200", "CANCEL "+id))
	assert.Equal(t, msgCanceled, f.send(t, "+100", "cancel "+id))
	assert.Equal(t, "This event has already been canceled", f.send(t, "+100", "CANCEL "+id))
	assert.Equal(t, msgNotFound, f.send(t, "+100", "CANCEL NOPE"))

	ev, err := f.engine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCanceled, ev.Status)
}

func TestListings(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, msgNoEvents, f.send(t, "+200", "EVENTS"))
	assert.Equal(t, msgNoMyEvents, f.send(t, "+200", "my events"))

	id := f.createEvent(t, "+100", "4")

	all := f.send(t, "+200", "EVENTS")
	assert.Contains(t, all, "*Upcoming Events*")
	assert.Contains(t, all, "ID: "+id)
	assert.Contains(t, all, "1/4 participants")
	assert.Contains(t, all, "Thu Mar 5 18:30")

	assert.Equal(t, msgNoMyEvents, f.send(t, "+200", "MY EVENTS"))
	f.send(t, "+200", "JOIN "+id)
	mine := f.send(t, "+200", "MY EVENTS")
	assert.Contains(t, mine, "*Your Events*")
	assert.Contains(t, mine, "(confirmed)")
}

func TestProcessSendsReplyOnceForRedelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.proc.Process(ctx, "wamid.1", "+100", "HELP"))
	require.NoError(t, f.proc.Process(ctx, "wamid.1", "+100", "HELP"))
	require.NoError(t, f.proc.Process(ctx, "wamid.2", "+100", "HELP"))

	assert.Len(t, f.replier.replies["+100"], 2)
}

// flakyUsers fails sender lookups while down is set.
type flakyUsers struct {
	Users
	mu   sync.Mutex
	down bool
}

func (u *flakyUsers) setDown(down bool) {
	u.mu.Lock()
	u.down = down
	u.mu.Unlock()
}

func (u *flakyUsers) GetByPhone(ctx context.Context, phone string) (*model.User, error) {
	u.mu.Lock()
	down := u.down
	u.mu.Unlock()
	if down {
		return nil, errors.New("database is locked")
	}
	return u.Users.GetByPhone(ctx, phone)
}

func TestProcessRetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := &flakyUsers{Users: f.users, down: true}
	proc := NewProcessor(f.engine, users, f.replier, time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.Error(t, proc.Process(ctx, "wamid.9", "+100", "HELP"))
	assert.Empty(t, f.replier.replies["+100"])

	users.setDown(false)
	require.NoError(t, proc.Process(ctx, "wamid.9", "+100", "HELP"))
	require.Len(t, f.replier.replies["+100"], 1)
	assert.Equal(t, helpText, f.replier.replies["+100"][0])

	require.NoError(t, proc.Process(ctx, "wamid.9", "+100", "HELP"))
	assert.Len(t, f.replier.replies["+100"], 1)
}

func TestProcessSkipsEmptyReply(t *testing.T) {
	f := newFixture(t)
	id := f.createEvent(t, "+100", "4")

	require.NoError(t, f.proc.Process(context.Background(), "", "+200", "JOIN "+id))
	assert.Empty(t, f.replier.replies["+200"])
}

func TestDedupeWindowExpires(t *testing.T) {
	f := newFixture(t)
	now := testNow
	f.proc.now = func() time.Time { return now }

	assert.False(t, f.proc.duplicate("a"))
	assert.True(t, f.proc.duplicate("a"))

	now = now.Add(dedupeWindow + time.Second)
	assert.False(t, f.proc.duplicate("a"))
}
