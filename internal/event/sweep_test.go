package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/huddle/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepSends24hReminderOnce(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	ctx := context.Background()
	h.seed("e1", testNow.Add(23*time.Hour), 4, model.StatusConfirmed, "creator", "alice")

	report := h.engine.RunReminderSweep(ctx)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.RemindersSent)
	assert.Empty(t, report.Failures)
	assert.NoError(t, report.Err())

	calls := h.notifier.reminderCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.Threshold24h, calls[0].Threshold)
	assert.Equal(t, []string{"creator", "alice"}, calls[0].To)

	stored := h.store.get("e1")
	assert.True(t, stored.ReminderSent(model.Threshold24h))
	assert.False(t, stored.ReminderSent(model.Threshold2h))

	report = h.engine.RunReminderSweep(ctx)
	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, report.RemindersSent)
	assert.Len(t, h.notifier.reminderCalls(), 1)
}

func TestSweepRetriesMissingGroupForFullEvent(t *testing.T) {
	h := newHarness(t, "creator", "alice", "bob")
	ctx := context.Background()
	h.seed("e1", testNow.Add(48*time.Hour), 2, model.StatusCreated, "creator")

	h.notifier.groupErr = errors.New("gateway down")
	ev, err := h.engine.Join(ctx, "e1", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, ev.Status)
	assert.Empty(t, ev.GroupHandle)
	h.notifier.groupErr = nil

	_, err = h.engine.Join(ctx, "e1", "bob")
	require.ErrorIs(t, err, ErrAlreadyFull)
	assert.Empty(t, h.store.get("e1").GroupHandle)

	h.clock.Advance(25 * time.Hour)
	report := h.engine.RunReminderSweep(ctx)
	assert.Equal(t, 1, report.RemindersSent)
	assert.NoError(t, report.Err())

	assert.Equal(t, "group-test", h.store.get("e1").GroupHandle)
	assert.Equal(t, 2, h.notifier.groupCallCount())
	require.Len(t, h.notifier.reminderCalls(), 1)
}

func TestSweepNotYetDue(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	h.seed("exact", testNow.Add(24*time.Hour), 4, model.StatusConfirmed, "creator", "alice")
	h.seed("later", testNow.Add(30*time.Hour), 4, model.StatusConfirmed, "creator", "alice")

	report := h.engine.RunReminderSweep(context.Background())
	assert.Equal(t, 2, report.Processed)
	assert.Zero(t, report.RemindersSent)
	assert.Empty(t, h.notifier.reminderCalls())
}

func TestSweepSkipsUnconfirmedFor24h(t *testing.T) {
	h := newHarness(t, "creator")
	h.seed("e1", testNow.Add(23*time.Hour), 4, model.StatusCreated, "creator")

	report := h.engine.RunReminderSweep(context.Background())
	assert.Zero(t, report.RemindersSent)
	assert.Zero(t, report.AutoCanceled)

	stored := h.store.get("e1")
	assert.Equal(t, model.StatusCreated, stored.Status)
	assert.False(t, stored.ReminderSent(model.Threshold24h))
	assert.Zero(t, h.store.updates)
}

func TestSweepConfirmedInsideTwoHoursGetsBothReminders(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	h.seed("e1", testNow.Add(90*time.Minute), 4, model.StatusConfirmed, "creator", "alice")

	report := h.engine.RunReminderSweep(context.Background())
	assert.Equal(t, 2, report.RemindersSent)

	calls := h.notifier.reminderCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, model.Threshold24h, calls[0].Threshold)
	assert.Equal(t, model.Threshold2h, calls[1].Threshold)

	stored := h.store.get("e1")
	assert.True(t, stored.ReminderSent(model.Threshold24h))
	assert.True(t, stored.ReminderSent(model.Threshold2h))
	assert.Equal(t, model.StatusConfirmed, stored.Status)
}

func TestSweepFollowsTheClock(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	ctx := context.Background()
	h.seed("e1", testNow.Add(30*time.Hour), 4, model.StatusConfirmed, "creator", "alice")

	h.engine.RunReminderSweep(ctx)
	assert.Empty(t, h.notifier.reminderCalls())

	h.clock.Advance(7 * time.Hour)
	h.engine.RunReminderSweep(ctx)
	require.Len(t, h.notifier.reminderCalls(), 1)

	h.clock.Advance(22 * time.Hour)
	h.engine.RunReminderSweep(ctx)
	calls := h.notifier.reminderCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, model.Threshold2h, calls[1].Threshold)
}

func TestSweepAutoCancelsUnderfilledEvent(t *testing.T) {
	h := newHarness(t, "creator")
	ctx := context.Background()
	h.seed("e1", testNow.Add(90*time.Minute), 4, model.StatusCreated, "creator")

	report := h.engine.RunReminderSweep(ctx)
	assert.Equal(t, 1, report.AutoCanceled)
	assert.Zero(t, report.RemindersSent)
	assert.Empty(t, report.Failures)

	stored := h.store.get("e1")
	assert.Equal(t, model.StatusCanceled, stored.Status)

	cancels := h.notifier.cancelCalls()
	require.Len(t, cancels, 1)
	assert.Equal(t, "e1", cancels[0].EventID)
	assert.Equal(t, ReasonInsufficientParticipants, cancels[0].Reason)
	assert.Equal(t, []string{"creator"}, cancels[0].To)
	assert.Empty(t, h.notifier.reminderCalls())

	report = h.engine.RunReminderSweep(ctx)
	assert.Zero(t, report.Processed)
	assert.Zero(t, report.AutoCanceled)
	assert.Len(t, h.notifier.cancelCalls(), 1)
}

func TestSweepIgnoresTerminalEvents(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	h.seed("canceled", testNow.Add(time.Hour), 4, model.StatusCanceled, "creator", "alice")
	h.seed("completed", testNow.Add(time.Hour), 4, model.StatusCompleted, "creator", "alice")

	report := h.engine.RunReminderSweep(context.Background())
	assert.Zero(t, report.Processed)
	assert.Empty(t, h.notifier.reminderCalls())
	assert.Empty(t, h.notifier.cancelCalls())
}

func TestSweepReminderFailureKeepsMarker(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	ctx := context.Background()
	h.seed("e1", testNow.Add(23*time.Hour), 4, model.StatusConfirmed, "creator", "alice")
	h.notifier.reminderErr = errors.New("gateway timeout")

	report := h.engine.RunReminderSweep(ctx)
	assert.Zero(t, report.RemindersSent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "e1", report.Failures[0].EventID)
	assert.ErrorContains(t, report.Err(), "gateway timeout")

	assert.True(t, h.store.get("e1").ReminderSent(model.Threshold24h))

	h.notifier.reminderErr = nil
	h.engine.RunReminderSweep(ctx)
	assert.Len(t, h.notifier.reminderCalls(), 1, "a claimed reminder is never re-sent")
}

func TestSweepIsolatesFailingEvents(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	h.seed("bad", testNow.Add(22*time.Hour), 4, model.StatusConfirmed, "creator", "alice")
	h.seed("good", testNow.Add(23*time.Hour), 4, model.StatusConfirmed, "creator", "alice")
	h.store.failUpdate["bad"] = errors.New("disk I/O error")

	report := h.engine.RunReminderSweep(context.Background())
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.RemindersSent)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].EventID)
	assert.ErrorContains(t, report.Err(), "event bad")

	calls := h.notifier.reminderCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "good", calls[0].EventID)
}

func TestSweepStopsWhenContextCanceled(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	h.seed("e1", testNow.Add(23*time.Hour), 4, model.StatusConfirmed, "creator", "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := h.engine.RunReminderSweep(ctx)
	assert.Zero(t, report.Processed)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Err(), context.Canceled)
	assert.Empty(t, h.notifier.reminderCalls())
}

func TestConcurrentSweepsSendEachReminderOnce(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	for i := 0; i < 6; i++ {
		h.seed(fmt.Sprintf("e%d", i), testNow.Add(23*time.Hour+time.Duration(i)*time.Minute), 4, model.StatusConfirmed, "creator", "alice")
	}
	h.seed("lonely", testNow.Add(time.Hour), 4, model.StatusCreated, "creator")

	engines := []*Engine{h.engine, h.engine, h.newEngine(), h.newEngine()}
	var wg sync.WaitGroup
	for _, eng := range engines {
		wg.Add(1)
		go func(eng *Engine) {
			defer wg.Done()
			eng.RunReminderSweep(context.Background())
		}(eng)
	}
	wg.Wait()

	assert.Len(t, h.notifier.reminderCalls(), 6)
	assert.Len(t, h.notifier.cancelCalls(), 1)
	for i := 0; i < 6; i++ {
		assert.True(t, h.store.get(fmt.Sprintf("e%d", i)).ReminderSent(model.Threshold24h))
	}
}

func TestSweepRacingJoinNeverConfirmsCanceledEvent(t *testing.T) {
	h := newHarness(t, "creator", "alice")
	h.seed("e1", testNow.Add(time.Hour), 4, model.StatusCreated, "creator")

	other := h.newEngine()
	var (
		wg      sync.WaitGroup
		joinErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.engine.RunReminderSweep(context.Background())
	}()
	go func() {
		defer wg.Done()
		_, joinErr = other.Join(context.Background(), "e1", "alice")
	}()
	wg.Wait()

	stored := h.store.get("e1")
	if joinErr != nil {
		assert.ErrorIs(t, joinErr, ErrWrongStatus)
		assert.Equal(t, model.StatusCanceled, stored.Status)
		assert.Equal(t, []string{"creator"}, stored.Participants)
		return
	}
	// The join won; the sweep then saw a confirmed event.
	assert.Equal(t, model.StatusConfirmed, stored.Status)
	assert.True(t, stored.ReminderSent(model.Threshold2h))
	assert.Empty(t, h.notifier.cancelCalls())
}
