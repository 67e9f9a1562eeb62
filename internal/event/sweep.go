package event

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/huddle/internal/model"
	"go.uber.org/multierr"
)

// SweepFailure records one event the sweep could not fully process. An empty
// EventID means the failure was not tied to a single event.
type SweepFailure struct {
	EventID string
	Err     error
}

// SweepReport summarizes one reminder sweep.
type SweepReport struct {
	StartedAt     time.Time
	Duration      time.Duration
	Processed     int
	RemindersSent int
	AutoCanceled  int
	Failures      []SweepFailure
}

// Err folds all failures into one error, or nil when the sweep was clean.
func (r SweepReport) Err() error {
	var err error
	for _, f := range r.Failures {
		if f.EventID == "" {
			err = multierr.Append(err, f.Err)
			continue
		}
		err = multierr.Append(err, fmt.Errorf("event %s: %w", f.EventID, f.Err))
	}
	return err
}

func (r *SweepReport) fail(eventID string, err error) {
	r.Failures = append(r.Failures, SweepFailure{EventID: eventID, Err: err})
}

type sweepAction int

const (
	actionNone sweepAction = iota
	actionRemind
	actionCancel
)

// RunReminderSweep sends due reminders and cancels events that are about to
// start without enough participants. Concurrent calls share a single run.
// Failures are collected in the report; the sweep itself never fails.
func (e *Engine) RunReminderSweep(ctx context.Context) SweepReport {
	v, _, _ := e.sweeps.Do("reminder-sweep", func() (any, error) {
		return e.sweep(ctx), nil
	})
	return v.(SweepReport)
}

func (e *Engine) sweep(ctx context.Context) (report SweepReport) {
	started := time.Now()
	now := e.now().UTC()
	report.StartedAt = now
	defer func() { report.Duration = time.Since(started) }()

	events, err := e.store.ListUpcoming(ctx, now)
	if err != nil {
		report.fail("", fmt.Errorf("list upcoming: %w", err))
		return report
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			report.fail("", fmt.Errorf("sweep interrupted: %w", err))
			break
		}
		report.Processed++
		for _, t := range []model.Threshold{model.Threshold24h, model.Threshold2h} {
			e.sweepThreshold(ctx, ev.ID, t, now, &report)
		}
	}

	if len(report.Failures) > 0 {
		e.logger.Warn("reminder sweep finished with failures", "processed", report.Processed, "failures", len(report.Failures), "error", report.Err())
	}
	return report
}

// sweepThreshold claims threshold t for one event and then dispatches the
// matching notification. The claim is persisted first, so a reminder is sent
// at most once even if delivery fails. A confirmed event still missing its
// group chat gets another attempt before the reminder goes out.
func (e *Engine) sweepThreshold(ctx context.Context, id string, t model.Threshold, now time.Time, report *SweepReport) {
	var action sweepAction
	unlock := e.locks.Lock(id)
	ev, err := e.mutateLocked(ctx, id, func(ev *model.Event) (bool, error) {
		action = actionNone
		if ev.Status.Terminal() || ev.ReminderSent(t) || !ev.StartTime.Before(now.Add(t.Lead())) {
			return false, nil
		}

		switch ev.Status {
		case model.StatusConfirmed:
			ev.MarkReminder(t)
			action = actionRemind
			return true, nil
		case model.StatusCreated:
			if t != model.Threshold2h {
				return false, nil
			}
			if err := applyCancel(ev); err != nil {
				return false, err
			}
			action = actionCancel
			return true, nil
		}
		return false, nil
	})
	if err == nil && action == actionRemind {
		ev = e.ensureGroupLocked(ctx, ev)
	}
	unlock()
	if IsNotFound(err) {
		// Removed since the scan.
		return
	}
	if err != nil {
		report.fail(id, err)
		return
	}

	switch action {
	case actionRemind:
		if err := e.notifier.Reminder(ctx, ev, t); err != nil {
			report.fail(id, fmt.Errorf("send %s reminder: %w", t, err))
			return
		}
		report.RemindersSent++
		e.logger.Info("reminder sent", "event_id", id, "threshold", t)
	case actionCancel:
		report.AutoCanceled++
		e.logger.Info("event auto-canceled", "event_id", id, "reason", ReasonInsufficientParticipants)
		if err := e.notifier.Canceled(ctx, ev, ReasonInsufficientParticipants); err != nil {
			report.fail(id, fmt.Errorf("notify cancellation: %w", err))
		}
	}
}
