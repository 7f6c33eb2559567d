// Package scheduler runs the audit retention sweep. It is the only component
// that deletes audit entries, and it deletes by age alone.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// EventSwept is published after each sweep that removed entries.
const EventSwept = "audit.swept"

// Config controls the sweep.
type Config struct {
	// Retention is the maximum entry age. Zero disables the sweeper.
	Retention time.Duration
	// Interval is the time between sweeps.
	Interval time.Duration
	// Jitter adds a random delay of up to this much to each interval.
	Jitter time.Duration
}

// Scheduler periodically purges expired audit entries.
type Scheduler struct {
	cfg    Config
	pruner Pruner
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Scheduler instance. pub may be nil.
func New(cfg Config, pruner Pruner, pub Publisher, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		pruner: pruner,
		pub:    pub,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Start begins the sweep loop and returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		s.logger.Info("audit retention disabled, sweeper not started")
		return
	}
	s.logger.Info("starting retention sweeper", "retention", s.cfg.Retention.String(), "interval", s.cfg.Interval.String())

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop gracefully stops the sweeper and waits for an in-flight sweep.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	// Initial sweep immediately
	s.Sweep(ctx)

	for {
		timer := time.NewTimer(calculateJitteredInterval(s.cfg.Interval, s.cfg.Jitter))
		select {
		case <-timer.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Sweep runs one purge pass and returns the number of entries removed.
// Failures are logged; the next pass retries.
func (s *Scheduler) Sweep(ctx context.Context) int64 {
	cutoff := s.now().UTC().Add(-s.cfg.Retention)
	n, err := s.pruner.PurgeBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Info("retention sweep removed entries", "removed", n, "cutoff", cutoff)
		if s.pub != nil {
			s.pub.Publish(EventSwept, map[string]any{"removed": n, "cutoff": cutoff})
		}
	} else {
		s.logger.Debug("retention sweep found nothing to remove", "cutoff", cutoff)
	}
	return n
}

// calculateJitteredInterval adds a uniform random delay in [0, jitter].
func calculateJitteredInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(jitter)+1))
}
