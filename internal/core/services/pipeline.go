package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/ports"
)

// pipelineStage describes the events one stage emits while it runs. The
// analysis engine itself is out of scope; the pipeline stands in for it by
// walking the stages in order and pushing the lifecycle catalogue.
type pipelineStage struct {
	stage   domain.Stage
	started domain.EventKind
	update  domain.EventKind
	done    domain.EventKind
	steps   []string
}

var pipelineStages = []pipelineStage{
	{
		stage:   domain.StageExtraction,
		started: domain.EventExtractionStarted,
		update:  domain.EventExtractionUpdate,
		done:    domain.EventExtractionComplete,
		steps: []string{
			"Reading document layout",
			"Extracting text, tables and figures",
		},
	},
	{
		stage:   domain.StageProcessing,
		started: domain.EventProcessingStarted,
		update:  domain.EventProcessingUpdate,
		done:    domain.EventProcessingComplete,
		steps: []string{
			"Detecting sustainability metrics",
			"Normalising reported indicators",
		},
	},
	{
		stage:   domain.StageAssessment,
		started: domain.EventAssessmentStarted,
		update:  domain.EventAssessmentUpdate,
		done:    domain.EventAssessmentComplete,
		steps: []string{
			"Mapping disclosures to reporting frameworks",
			"Scoring framework coverage",
		},
	},
	{
		stage:   domain.StageInsights,
		started: domain.EventInsightsStarted,
		update:  domain.EventInsightsUpdate,
		done:    domain.EventInsightsComplete,
		steps: []string{
			"Generating strategic insights",
		},
	},
}

// AnalysisPipeline runs submitted documents through the staged analysis
// sequence, publishing each lifecycle event on the bus and keeping the
// persisted job record in sync.
type AnalysisPipeline struct {
	logger    *slog.Logger
	scheduler *PipelineScheduler
	repo      ports.JobRepository
	bus       *EventBus
	stepDelay time.Duration
}

func NewAnalysisPipeline(
	logger *slog.Logger,
	scheduler *PipelineScheduler,
	repo ports.JobRepository,
	bus *EventBus,
	stepDelay time.Duration,
) *AnalysisPipeline {
	return &AnalysisPipeline{
		logger:    logger,
		scheduler: scheduler,
		repo:      repo,
		bus:       bus,
		stepDelay: stepDelay,
	}
}

// Run starts the scheduler loop.
func (p *AnalysisPipeline) Run(ctx context.Context) error {
	p.scheduler.Start(ctx, p.execute)
	return nil
}

// Submit queues a document for analysis.
func (p *AnalysisPipeline) Submit(ctx context.Context, rec domain.JobRecord) error {
	return p.scheduler.Submit(ctx, rec)
}

func (p *AnalysisPipeline) publish(jobID domain.JobID, kind domain.EventKind, message string) {
	p.bus.Publish(BusEvent{
		JobID:     jobID,
		Kind:      kind,
		Payload:   EncodeEventPayload(message),
		Timestamp: time.Now().Unix(),
	})
}

// execute is the scheduler callback for one job.
func (p *AnalysisPipeline) execute(ctx context.Context, rec domain.JobRecord) {
	p.logger.Info("analysis started", "job_id", rec.ID, "filename", rec.Filename)

	rec.Status = domain.JobStatusRunning
	rec.UpdatedAt = time.Now().UTC()
	if err := p.repo.SaveJob(ctx, rec); err != nil {
		p.logger.Error("failed to save job status", "job_id", rec.ID, "error", err)
	}

	for _, st := range pipelineStages {
		if !p.pause(ctx, rec) {
			return
		}
		p.publish(rec.ID, st.started, "")

		for _, step := range st.steps {
			if !p.pause(ctx, rec) {
				return
			}
			p.publish(rec.ID, st.update, step)
		}

		if !p.pause(ctx, rec) {
			return
		}
		p.publish(rec.ID, st.done, "")
	}

	rec.Status = domain.JobStatusCompleted
	rec.UpdatedAt = time.Now().UTC()
	if err := p.repo.SaveJob(ctx, rec); err != nil {
		p.logger.Error("failed to save job status", "job_id", rec.ID, "error", err)
	}
	p.logger.Info("analysis complete", "job_id", rec.ID)
}

// pause waits one step delay; on cancellation it fails the job record and
// tells subscribers the run is over.
func (p *AnalysisPipeline) pause(ctx context.Context, rec domain.JobRecord) bool {
	select {
	case <-ctx.Done():
		p.fail(rec, fmt.Errorf("analysis interrupted: %w", ctx.Err()))
		return false
	case <-time.After(p.stepDelay):
		return true
	}
}

func (p *AnalysisPipeline) fail(rec domain.JobRecord, cause error) {
	p.logger.Error("analysis failed", "job_id", rec.ID, "error", cause)
	p.publish(rec.ID, domain.EventError, cause.Error())

	msg := cause.Error()
	rec.Status = domain.JobStatusFailed
	rec.Error = &msg
	rec.UpdatedAt = time.Now().UTC()
	// Persist with a fresh context: the run context is already cancelled.
	if err := p.repo.SaveJob(context.Background(), rec); err != nil {
		p.logger.Error("failed to save job status", "job_id", rec.ID, "error", err)
	}
}
