package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
)

// scriptStep is one (event, delay) pair of the fallback script. The delay is
// waited before the event is applied.
type scriptStep struct {
	kind    domain.EventKind
	message string
	delay   time.Duration
}

// fallbackScript replays the full stage sequence a healthy analysis service
// would push, in order, with deterministic relative delays. It always ends in
// insights_complete, so a simulated run terminates in the same observable
// state as a fully successful live run.
var fallbackScript = []scriptStep{
	{kind: domain.EventExtractionStarted, delay: 300 * time.Millisecond},
	{kind: domain.EventExtractionUpdate, message: "Parsing document structure", delay: 600 * time.Millisecond},
	{kind: domain.EventExtractionUpdate, message: "Extracting text, tables and figures", delay: 700 * time.Millisecond},
	{kind: domain.EventExtractionComplete, delay: 500 * time.Millisecond},
	{kind: domain.EventProcessingStarted, delay: 400 * time.Millisecond},
	{kind: domain.EventProcessingUpdate, message: "Identifying sustainability metrics", delay: 700 * time.Millisecond},
	{kind: domain.EventProcessingUpdate, message: "Normalising reported indicators", delay: 700 * time.Millisecond},
	{kind: domain.EventProcessingComplete, delay: 500 * time.Millisecond},
	{kind: domain.EventAssessmentStarted, delay: 400 * time.Millisecond},
	{kind: domain.EventAssessmentUpdate, message: "Mapping disclosures to reporting frameworks", delay: 800 * time.Millisecond},
	{kind: domain.EventAssessmentUpdate, message: "Scoring framework coverage", delay: 700 * time.Millisecond},
	{kind: domain.EventAssessmentComplete, delay: 500 * time.Millisecond},
	{kind: domain.EventInsightsStarted, delay: 400 * time.Millisecond},
	{kind: domain.EventInsightsUpdate, message: "Generating strategic insights", delay: 800 * time.Millisecond},
	{kind: domain.EventInsightsComplete, delay: 600 * time.Millisecond},
}

// Simulator replays the fallback script into an apply callback. It is the
// stand-in driver when the live channel is unavailable: same event shapes,
// same apply path, so downstream behavior matches the live path except for
// data realism.
type Simulator struct {
	logger *slog.Logger
	steps  []scriptStep
	scale  float64
}

type SimulatorOption func(*Simulator)

// WithDelayScale multiplies every scripted delay; tests pass 0 to replay the
// script immediately.
func WithDelayScale(scale float64) SimulatorOption {
	return func(s *Simulator) {
		s.scale = scale
	}
}

// WithScript replaces the default script.
func WithScript(steps []scriptStep) SimulatorOption {
	return func(s *Simulator) {
		s.steps = steps
	}
}

func NewSimulator(logger *slog.Logger, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		logger: logger,
		steps:  fallbackScript,
		scale:  1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run replays the script from its first step, applying each event in order.
// It blocks until the script finishes or the context is cancelled, and may be
// called again to replay the identical script from the start.
func (s *Simulator) Run(ctx context.Context, apply func(domain.AnalysisEvent)) {
	s.logger.Info("fallback simulation started")
	for _, step := range s.steps {
		if ctx.Err() != nil {
			s.logger.Info("fallback simulation stopped", "reason", ctx.Err())
			return
		}
		delay := time.Duration(float64(step.delay) * s.scale)
		select {
		case <-ctx.Done():
			s.logger.Info("fallback simulation stopped", "reason", ctx.Err())
			return
		case <-time.After(delay):
		}
		apply(domain.AnalysisEvent{Kind: step.kind, Message: step.message})
	}
	s.logger.Info("fallback simulation finished")
}
