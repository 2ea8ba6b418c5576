package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron"

	"metaetl/internal/domain"
	"metaetl/pkg/logger"
)

// CycleRunner runs one ingestion cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*domain.CycleSummary, error)
}

// Scheduler triggers cycles on a cron schedule. A tick that finds a cycle
// still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	runner CycleRunner
	logger *logger.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func New(spec string, runner CycleRunner, logger *logger.Logger) (*Scheduler, error) {
	if _, err := cron.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{
		cron:   cron.New(),
		spec:   spec,
		runner: runner,
		logger: logger,
	}, nil
}

// Start registers the schedule and starts the cron loop. With runOnStart a
// first cycle is launched immediately.
func (s *Scheduler) Start(ctx context.Context, runOnStart bool) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.cron.AddFunc(s.spec, s.tick); err != nil {
		return fmt.Errorf("failed to register schedule: %w", err)
	}
	s.cron.Start()

	s.logger.WithField("schedule", s.spec).Info("Scheduler started")

	if runOnStart {
		go s.tick()
	}
	return nil
}

// Stop halts the schedule, cancels a running cycle and waits for it.
func (s *Scheduler) Stop() {
	s.cron.Stop()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	summary, err := s.runner.RunCycle(s.ctx)
	switch {
	case errors.Is(err, domain.ErrCycleInProgress):
		s.logger.Warn("Previous cycle still running, skipping scheduled cycle")
	case err != nil:
		s.logger.WithError(err).Error("Scheduled cycle failed")
	default:
		s.logger.WithFields(map[string]any{
			"cycle_id": summary.CycleID,
			"status":   summary.Status,
		}).Info("Scheduled cycle completed")
	}
}
