package event

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper runs one reminder sweep.
type Sweeper interface {
	RunReminderSweep(ctx context.Context) SweepReport
}

// Scheduler periodically runs the reminder sweep.
type Scheduler struct {
	mu       sync.RWMutex
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a sweep scheduler. A non-positive interval means hourly.
func NewScheduler(s Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		sweeper:  s,
		interval: interval,
		logger:   logger,
	}
}

// Start runs one sweep right away, to catch up on anything missed while the
// process was down, and then one per interval until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to return.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	report := s.sweeper.RunReminderSweep(ctx)
	s.logger.Info("reminder sweep",
		"processed", report.Processed,
		"reminders_sent", report.RemindersSent,
		"auto_canceled", report.AutoCanceled,
		"failures", len(report.Failures),
		"duration", report.Duration,
	)
}
