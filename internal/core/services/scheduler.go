package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

// SchedulerConfig bounds how many analysis pipelines run at once.
type SchedulerConfig struct {
	MaxConcurrentJobs int64
}

// PipelineScheduler queues submitted jobs and hands them to a runner under a
// global concurrency limit.
type PipelineScheduler struct {
	logger       *slog.Logger
	pendingQueue chan domain.JobRecord
	semaphore    *semaphore.Weighted
}

func NewPipelineScheduler(logger *slog.Logger, cfg SchedulerConfig) *PipelineScheduler {
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = 10
	}

	return &PipelineScheduler{
		logger:       logger,
		pendingQueue: make(chan domain.JobRecord, 100),
		semaphore:    semaphore.NewWeighted(limit),
	}
}

// Submit adds a job to the scheduling queue.
func (s *PipelineScheduler) Submit(ctx context.Context, rec domain.JobRecord) error {
	select {
	case s.pendingQueue <- rec:
		s.logger.Info("job queued", "job_id", rec.ID)
		return nil
	default:
		return errors.New("scheduling queue full")
	}
}

// Start consumes the queue and runs each job through the handler. The
// consumer loop stops when the context is cancelled.
func (s *PipelineScheduler) Start(ctx context.Context, handler func(context.Context, domain.JobRecord)) {
	s.logger.Info("starting pipeline scheduler")

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping pipeline scheduler")
				return
			case rec := <-s.pendingQueue:
				if err := s.semaphore.Acquire(ctx, 1); err != nil {
					s.logger.Error("failed to acquire semaphore", "error", err)
					return
				}

				// Launch in background so the consumer loop keeps draining.
				go func(r domain.JobRecord) {
					defer s.semaphore.Release(1)
					handler(ctx, r)
				}(rec)
			}
		}
	}()
}
