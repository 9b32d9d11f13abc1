package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
)

// Periodic runs a handler on a fixed interval inside the API process. It
// serves deployments without Redis, where no Asynq worker exists.
type Periodic struct {
	Type     string
	Every    time.Duration
	Handler  asynq.HandlerFunc
	NewTask  func() (*asynq.Task, error)
	RunFirst bool
}

// InlineRunner drives Periodic jobs with tickers.
type InlineRunner struct {
	logger *slog.Logger
	jobs   []Periodic
}

// NewInlineRunner constructs a runner.
func NewInlineRunner(logger *slog.Logger, jobs ...Periodic) *InlineRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineRunner{logger: logger, jobs: jobs}
}

// Run blocks until ctx is cancelled.
func (r *InlineRunner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range r.jobs {
		if job.Every <= 0 || job.Handler == nil {
			continue
		}
		wg.Add(1)
		go func(job Periodic) {
			defer wg.Done()
			r.loop(ctx, job)
		}(job)
	}
	wg.Wait()
	return ctx.Err()
}

func (r *InlineRunner) loop(ctx context.Context, job Periodic) {
	ticker := time.NewTicker(job.Every)
	defer ticker.Stop()
	if job.RunFirst {
		r.fire(ctx, job)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fire(ctx, job)
		}
	}
}

func (r *InlineRunner) fire(ctx context.Context, job Periodic) {
	build := job.NewTask
	if build == nil {
		build = func() (*asynq.Task, error) { return NewTask(job.Type) }
	}
	task, err := build()
	if err != nil {
		r.logger.Error("inline job task", slog.String("job", job.Type), slog.Any("error", err))
		return
	}
	if err := job.Handler(ctx, task); err != nil && ctx.Err() == nil {
		r.logger.Warn("inline job failed", slog.String("job", job.Type), slog.Any("error", err))
	}
}

// Dispatch runs the job of type typ synchronously.
func (r *InlineRunner) Dispatch(ctx context.Context, typ string) (string, error) {
	for _, job := range r.jobs {
		if job.Type != typ || job.Handler == nil {
			continue
		}
		task, err := NewTask(typ)
		if err != nil {
			return "", err
		}
		if err := job.Handler(ctx, task); err != nil {
			return "", err
		}
		return "inline:" + typ, nil
	}
	return "", &UnknownTaskError{Type: typ}
}
