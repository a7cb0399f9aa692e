package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
	"go.uber.org/zap"
)

type scheduled struct {
	kind     models.RunKind
	job      Job
	interval time.Duration
	reset    chan struct{}
}

// Scheduler runs registered jobs at fixed intervals until its context is cancelled.
type Scheduler struct {
	runner *Runner
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[models.RunKind]*scheduled
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler that executes jobs through runner.
func NewScheduler(runner *Runner, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, logger: logger, jobs: make(map[models.RunKind]*scheduled)}
}

// Add registers job to run every interval. A non-positive interval keeps the job paused.
// Add must be called before Start.
func (s *Scheduler) Add(kind models.RunKind, interval time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[kind] = &scheduled{kind: kind, job: job, interval: interval, reset: make(chan struct{}, 1)}
}

// SetInterval changes the interval of a registered job; the wait restarts from now.
// It returns false when kind is not registered.
func (s *Scheduler) SetInterval(kind models.RunKind, interval time.Duration) bool {
	s.mu.Lock()
	j, ok := s.jobs[kind]
	if ok {
		if j.interval == interval {
			s.mu.Unlock()
			return true
		}
		j.interval = interval
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case j.reset <- struct{}{}:
	default:
	}
	s.logger.Info("job interval changed", zap.String("kind", string(kind)), zap.Duration("interval", interval))
	return true
}

// Interval returns the current interval of kind.
func (s *Scheduler) Interval(kind models.RunKind) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[kind]; ok {
		return j.interval
	}
	return 0
}

// Start launches one loop per registered job.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Wait blocks until every loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j *scheduled) {
	defer s.wg.Done()
	for {
		interval := s.Interval(j.kind)
		var tick <-chan time.Time
		var timer *time.Timer
		if interval > 0 {
			timer = time.NewTimer(interval)
			tick = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-j.reset:
			if timer != nil {
				timer.Stop()
			}
		case <-tick:
			s.fire(ctx, j)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, j *scheduled) {
	_, err := s.runner.Run(ctx, j.kind, j.job)
	if errors.Is(err, ErrAlreadyRunning) {
		s.logger.Debug("skipping scheduled run", zap.String("kind", string(j.kind)), zap.Error(err))
	}
}
