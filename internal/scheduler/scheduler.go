// Package scheduler drives the orchestrator on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner is the slice of the orchestrator the scheduler needs.
type Runner interface {
	RunCycle(ctx context.Context, trigger string) error
}

// Scheduler runs cycles on a ticker. Tick failures are logged and the next
// tick proceeds; only context cancellation or Stop ends the loop.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
	log        *zap.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// New creates a Scheduler. Intervals under a second are clamped to a
// second so a misconfigured poll value cannot spin the pipeline.
func New(r Runner, interval time.Duration, runOnStart bool, log *zap.Logger) *Scheduler {
	if interval < time.Second {
		interval = time.Second
	}
	return &Scheduler{
		runner:     r,
		interval:   interval,
		runOnStart: runOnStart,
		log:        log,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the tick loop in a goroutine. Calling Start twice is a
// logged no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.log.Warn("scheduler already started")
		return
	}
	s.started = true
	s.mu.Unlock()

	s.log.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Bool("run_on_start", s.runOnStart))
	go s.loop(ctx)
}

// Stop ends the tick loop and waits for it to exit. Safe to call more
// than once, and before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	if s.runOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped", zap.String("reason", "context cancelled"))
			return
		case <-s.stop:
			s.log.Info("scheduler stopped", zap.String("reason", "stop requested"))
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.runner.RunCycle(ctx, "scheduled"); err != nil {
		s.log.Warn("scheduled cycle failed", zap.Error(err))
	}
}
