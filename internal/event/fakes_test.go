package event

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/huddle/internal/model"
	"github.com/dukerupert/huddle/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// cloneEvent deep-copies e so stored events never alias caller memory.
func cloneEvent(e *model.Event) *model.Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Participants = slices.Clone(e.Participants)
	c.RemindersSent = maps.Clone(e.RemindersSent)
	return &c
}

// memStore mimics the SQLite store's versioned writes.
type memStore struct {
	mu         sync.Mutex
	events     map[string]*model.Event
	failUpdate map[string]error
	createErr  error
	updates    int
}

func newMemStore() *memStore {
	return &memStore{
		events:     make(map[string]*model.Event),
		failUpdate: make(map[string]error),
	}
}

func (s *memStore) Get(_ context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	return cloneEvent(ev), nil
}

func (s *memStore) Create(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	e.Version = 1
	s.events[e.ID] = cloneEvent(e)
	return nil
}

func (s *memStore) Update(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failUpdate[e.ID]; err != nil {
		return err
	}
	cur, ok := s.events[e.ID]
	if !ok || cur.Version != e.Version {
		return store.ErrConflict
	}
	e.Version++
	s.events[e.ID] = cloneEvent(e)
	s.updates++
	return nil
}

func (s *memStore) ListUpcoming(_ context.Context, after time.Time) ([]model.Event, error) {
	return s.list(func(ev *model.Event) bool {
		return ev.StartTime.After(after) && !ev.Status.Terminal()
	}), nil
}

func (s *memStore) ListByParticipant(_ context.Context, userID string, after time.Time) ([]model.Event, error) {
	return s.list(func(ev *model.Event) bool {
		return ev.StartTime.After(after) && ev.HasParticipant(userID)
	}), nil
}

func (s *memStore) list(keep func(*model.Event) bool) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Event
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, *cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// put stores an event as-is, bypassing the engine.
func (s *memStore) put(ev *model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Version == 0 {
		ev.Version = 1
	}
	s.events[ev.ID] = cloneEvent(ev)
}

func (s *memStore) get(id string) *model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEvent(s.events[id])
}

type reminderCall struct {
	EventID   string
	Threshold model.Threshold
	To        []string
}

type cancelCall struct {
	EventID string
	Reason  string
	To      []string
}

type fakeNotifier struct {
	mu          sync.Mutex
	texts       map[string][]string
	groupCalls  int
	groupErr    error
	created     []string
	joined      []string
	reminders   []reminderCall
	cancels     []cancelCall
	reminderErr error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{texts: make(map[string][]string)}
}

func (n *fakeNotifier) SendText(_ context.Context, userID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts[userID] = append(n.texts[userID], message)
	return nil
}

func (n *fakeNotifier) CreateGroup(_ context.Context, _ string, _ []string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.groupCalls++
	if n.groupErr != nil {
		return "", n.groupErr
	}
	return "group-test", nil
}

func (n *fakeNotifier) EventCreated(_ context.Context, e *model.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, e.ID)
	return nil
}

func (n *fakeNotifier) JoinConfirmed(_ context.Context, _ *model.Event, userID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.joined = append(n.joined, userID)
	return nil
}

func (n *fakeNotifier) Reminder(_ context.Context, e *model.Event, t model.Threshold) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reminders = append(n.reminders, reminderCall{EventID: e.ID, Threshold: t, To: e.Participants})
	return n.reminderErr
}

func (n *fakeNotifier) Canceled(_ context.Context, e *model.Event, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancels = append(n.cancels, cancelCall{EventID: e.ID, Reason: reason, To: e.Participants})
	return nil
}

func (n *fakeNotifier) groupCallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.groupCalls
}

func (n *fakeNotifier) reminderCalls() []reminderCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]reminderCall(nil), n.reminders...)
}

func (n *fakeNotifier) cancelCalls() []cancelCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]cancelCall(nil), n.cancels...)
}

type fakeMembership struct {
	mu      sync.Mutex
	users   map[string]*model.User
	denied  map[string]bool
	created map[string]int
	joined  map[string]int
}

func newFakeMembership(userIDs ...string) *fakeMembership {
	m := &fakeMembership{
		users:   make(map[string]*model.User),
		denied:  make(map[string]bool),
		created: make(map[string]int),
		joined:  make(map[string]int),
	}
	for _, id := range userIDs {
		m.users[id] = &model.User{ID: id, PhoneNumber: "+1555" + id}
	}
	return m
}

func (m *fakeMembership) Lookup(_ context.Context, userID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID], nil
}

func (m *fakeMembership) ReserveEventCreation(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied[userID] {
		return false, nil
	}
	m.created[userID]++
	return true, nil
}

func (m *fakeMembership) ReleaseEventCreation(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[userID]--
	return nil
}

func (m *fakeMembership) RecordEventJoined(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined[userID]++
	return nil
}

type harness struct {
	engine     *Engine
	store      *memStore
	notifier   *fakeNotifier
	membership *fakeMembership
	clock      *fakeClock
}

func newHarness(t *testing.T, userIDs ...string) *harness {
	t.Helper()
	h := &harness{
		store:      newMemStore(),
		notifier:   newFakeNotifier(),
		membership: newFakeMembership(userIDs...),
		clock:      &fakeClock{now: testNow},
	}
	h.engine = h.newEngine()
	return h
}

// newEngine builds another engine over the same collaborators, standing in
// for a second process sharing the store.
func (h *harness) newEngine() *Engine {
	return NewEngine(h.store, h.notifier, h.membership,
		Config{MinAdvance: 3 * time.Hour, MaxRetries: 50, RetryDelay: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(h.clock.Now),
	)
}

// seed stores an event directly with the given roster and status.
func (h *harness) seed(id string, start time.Time, capacity int, status model.Status, participants ...string) *model.Event {
	ev := &model.Event{
		ID:           id,
		Sport:        model.SportTennis,
		Location:     "Riverside Courts",
		StartTime:    start,
		CreatorID:    participants[0],
		Participants: participants,
		Capacity:     capacity,
		SkillLevel:   3,
		Status:       status,
		RemindersSent: map[model.Threshold]bool{
			model.Threshold24h: false,
			model.Threshold2h:  false,
		},
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	h.store.put(ev)
	return ev
}
