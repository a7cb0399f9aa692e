// Package jobs runs the reconciliation and sync jobs, records each run and schedules them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/tsunagu/internal/models"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned when a job of the same kind is already running in this process.
var ErrAlreadyRunning = errors.New("job already running")

// Job does the work of one run and returns a summary to record.
type Job func(ctx context.Context) (map[string]interface{}, error)

// RunStore records runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
}

// Runner executes jobs, allowing one run per kind at a time.
type Runner struct {
	store  RunStore
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	active map[models.RunKind]bool
	wg     sync.WaitGroup
}

// NewRunner creates a runner. store may be nil, in which case runs are only logged.
func NewRunner(store RunStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		active: make(map[models.RunKind]bool),
	}
}

// Running reports whether a job of kind is in progress.
func (r *Runner) Running(kind models.RunKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[kind]
}

// Run executes job and waits for it. The returned run carries the final status;
// the error is the job's error, or ErrAlreadyRunning.
func (r *Runner) Run(ctx context.Context, kind models.RunKind, job Job) (*models.Run, error) {
	run, err := r.begin(ctx, kind)
	if err != nil {
		return nil, err
	}
	err = r.execute(ctx, run, job)
	return run, err
}

// Start records the run and executes job in the background. The returned run is a
// snapshot taken before the job starts.
func (r *Runner) Start(ctx context.Context, kind models.RunKind, job Job) (*models.Run, error) {
	run, err := r.begin(ctx, kind)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.execute(ctx, run, job)
	}()
	return &snapshot, nil
}

// Wait blocks until every background run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) begin(ctx context.Context, kind models.RunKind) (*models.Run, error) {
	r.mu.Lock()
	if r.active[kind] {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", kind, ErrAlreadyRunning)
	}
	r.active[kind] = true
	r.mu.Unlock()

	run := &models.Run{Kind: kind, Status: models.RunRunning, StartedAt: r.now()}
	if r.store != nil {
		if err := r.store.CreateRun(ctx, run); err != nil {
			r.release(kind)
			return nil, fmt.Errorf("record run: %w", err)
		}
	}
	r.logger.Info("job started", zap.String("kind", string(kind)), zap.String("run", run.ID))
	return run, nil
}

func (r *Runner) release(kind models.RunKind) {
	r.mu.Lock()
	delete(r.active, kind)
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, run *models.Run, job Job) (err error) {
	defer r.release(run.Kind)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
		r.finish(ctx, run, err)
	}()
	run.Summary, err = job(ctx)
	return err
}

func (r *Runner) finish(ctx context.Context, run *models.Run, err error) {
	finished := r.now()
	run.FinishedAt = &finished
	run.Status = models.RunSucceeded
	if err != nil {
		run.Status = models.RunFailed
		run.Error = err.Error()
	}
	fields := []zap.Field{
		zap.String("kind", string(run.Kind)),
		zap.String("run", run.ID),
		zap.Duration("took", finished.Sub(run.StartedAt)),
	}
	if err != nil {
		r.logger.Error("job failed", append(fields, zap.Error(err))...)
	} else {
		r.logger.Info("job finished", append(fields, zap.Any("summary", run.Summary))...)
	}
	if r.store == nil {
		return
	}
	// the caller's context may already be cancelled; the outcome is still recorded
	if ferr := r.store.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		r.logger.Warn("failed to record run outcome", zap.String("run", run.ID), zap.Error(ferr))
	}
}
