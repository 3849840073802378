package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
)

// Sink receives a state snapshot after every mutation. Implementations must
// not call back into the tracker.
type Sink interface {
	Publish(snap domain.Snapshot)
}

// EventHandler is the surface a live channel adapter feeds. The adapter calls
// HandleEvent for every decoded message and HandleTransportError exactly once
// if the channel fails or closes unexpectedly.
type EventHandler interface {
	HandleEvent(ev domain.AnalysisEvent)
	HandleTransportError(err error)
}

// LiveSource opens the push channel for a job and delivers its events to h
// until the context is cancelled.
type LiveSource interface {
	Open(ctx context.Context, jobID domain.JobID, h EventHandler) error
}

// Tracker is the progress state machine for document analysis. It owns one
// AnalysisJob at a time, applies lifecycle events from whichever driver is
// active (live channel or fallback simulator), enforces stage ordering and
// progress monotonicity, and publishes a snapshot to its sinks after every
// state change.
type Tracker struct {
	logger *slog.Logger
	source LiveSource
	sim    *Simulator
	sinks  []Sink

	mu         sync.Mutex
	job        *domain.AnalysisJob
	runCtx     context.Context
	runCancel  context.CancelFunc
	liveCancel context.CancelFunc
	done       chan struct{}
}

type TrackerOption func(*Tracker)

// WithLiveSource wires the live channel adapter. Without one the tracker
// falls back to simulation immediately on Start.
func WithLiveSource(src LiveSource) TrackerOption {
	return func(t *Tracker) {
		t.source = src
	}
}

// WithSimulator replaces the default fallback simulator. Tests use this to
// run the script without delays.
func WithSimulator(sim *Simulator) TrackerOption {
	return func(t *Tracker) {
		t.sim = sim
	}
}

// WithSinks registers render sinks for state snapshots.
func WithSinks(sinks ...Sink) TrackerOption {
	return func(t *Tracker) {
		t.sinks = append(t.sinks, sinks...)
	}
}

func NewTracker(logger *slog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	if t.sim == nil {
		t.sim = NewSimulator(logger)
	}
	return t
}

// Start begins tracking a new job in live mode. A still-running previous job
// is cancelled first so two drivers never feed the same render subscription.
func (t *Tracker) Start(ctx context.Context, jobID domain.JobID) {
	t.mu.Lock()
	if t.job != nil && !t.job.Status.Terminal() {
		t.logger.Info("cancelling previous job before starting a new one", "job_id", t.job.ID)
		t.cancelLocked()
	}

	runCtx, runCancel := context.WithCancel(ctx)
	liveCtx, liveCancel := context.WithCancel(runCtx)
	t.runCtx = runCtx
	t.runCancel = runCancel
	t.liveCancel = liveCancel
	t.job = domain.NewAnalysisJob(jobID)
	t.done = make(chan struct{})
	t.appendLogLocked("Starting document analysis")
	t.publishLocked()
	t.mu.Unlock()

	handler := liveHandler{t: t, jobID: jobID}
	if t.source == nil {
		handler.HandleTransportError(errors.New("no live channel configured"))
		return
	}
	if err := t.source.Open(liveCtx, jobID, handler); err != nil {
		handler.HandleTransportError(fmt.Errorf("open live channel: %w", err))
	}
}

// Apply feeds one event into the state machine. origin identifies the driver;
// events from a driver that no longer matches the job's mode are discarded,
// so a stale live connection cannot mutate a job that fell back to
// simulation.
func (t *Tracker) Apply(origin domain.Mode, ev domain.AnalysisEvent) {
	t.mu.Lock()
	var jobID domain.JobID
	if t.job != nil {
		jobID = t.job.ID
	}
	t.mu.Unlock()
	t.applyScoped(jobID, origin, ev)
}

// Cancel stops local tracking immediately: the active driver is closed, a
// cancellation line is logged, stages and progress reset, and the job becomes
// terminal. The remote job may keep running; only tracking stops.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil || t.job.Status.Terminal() {
		return
	}
	t.cancelLocked()
}

// Snapshot returns the current observable state. Zero value before Start.
func (t *Tracker) Snapshot() domain.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.job == nil {
		return domain.Snapshot{}
	}
	return t.job.Snapshot()
}

// Done is closed once the current job reaches a terminal state. Only valid
// after Start.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// liveHandler binds the EventHandler surface to one job, so callbacks from an
// adapter outliving its job cannot touch a successor job.
type liveHandler struct {
	t     *Tracker
	jobID domain.JobID
}

func (h liveHandler) HandleEvent(ev domain.AnalysisEvent) {
	h.t.applyScoped(h.jobID, domain.ModeLive, ev)
}

func (h liveHandler) HandleTransportError(err error) {
	h.t.transportError(h.jobID, err)
}

// transportError is the one-shot fallback trigger: the live channel is gone,
// so the simulator takes over from the start of its script.
func (t *Tracker) transportError(jobID domain.JobID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job := t.job
	if job == nil || job.ID != jobID || job.Status.Terminal() || job.Mode != domain.ModeLive {
		return
	}
	t.logger.Warn("live channel failed, falling back to simulation", "job_id", job.ID, "error", err)
	t.fallbackLocked()
	t.publishLocked()
}

func (t *Tracker) applyScoped(jobID domain.JobID, origin domain.Mode, ev domain.AnalysisEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job := t.job
	if job == nil || job.ID != jobID {
		return
	}
	if job.Status.Terminal() {
		t.logger.Debug("event discarded after terminal state", "job_id", job.ID, "kind", ev.Kind)
		return
	}
	if origin != job.Mode {
		t.logger.Debug("event from inactive driver discarded", "job_id", job.ID, "kind", ev.Kind, "origin", origin)
		return
	}

	changed := false
	switch ev.Action() {
	case domain.ActionError:
		changed = t.handleErrorEventLocked(ev)
	case domain.ActionStarted:
		stage, _ := ev.Stage()
		changed = t.startStageLocked(stage)
	case domain.ActionUpdate:
		stage, _ := ev.Stage()
		changed = t.updateStageLocked(stage, ev.Message)
	case domain.ActionComplete:
		stage, _ := ev.Stage()
		changed = t.completeStageLocked(stage)
	}
	if changed {
		t.publishLocked()
	}
}

// handleErrorEventLocked: first failure in live mode degrades to simulation;
// a failure while already simulated is final.
func (t *Tracker) handleErrorEventLocked(ev domain.AnalysisEvent) bool {
	job := t.job
	if job.Mode == domain.ModeLive {
		t.logger.Warn("analysis service reported an error, falling back to simulation",
			"job_id", job.ID, "message", ev.Message)
		t.fallbackLocked()
		return true
	}

	msg := ev.Message
	if msg == "" {
		msg = "unknown error"
	}
	t.appendLogLocked("Analysis failed: " + msg)
	for _, s := range domain.Stages() {
		if job.Stages[s] == domain.StageActive {
			job.Stages[s] = domain.StageFailed
		}
	}
	job.Status = domain.JobStatusFailed
	t.terminalLocked()
	return true
}

func (t *Tracker) startStageLocked(stage domain.Stage) bool {
	job := t.job
	switch job.Stages[stage] {
	case domain.StageActive:
		// Duplicate start marker, keep the stage where it is.
		return t.raisePercentLocked(stage.EntryPercent())
	case domain.StageNotStarted:
		if !t.priorStagesCompleteLocked(stage) {
			t.logger.Warn("out-of-order stage event ignored", "job_id", job.ID, "stage", stage, "action", "started")
			return false
		}
		job.Stages[stage] = domain.StageActive
		t.raisePercentLocked(stage.EntryPercent())
		t.appendLogLocked(stage.Label() + " started")
		return true
	default:
		t.logger.Warn("out-of-order stage event ignored", "job_id", job.ID, "stage", stage, "action", "started", "status", job.Stages[stage])
		return false
	}
}

func (t *Tracker) updateStageLocked(stage domain.Stage, message string) bool {
	job := t.job
	if job.Stages[stage] != domain.StageActive {
		t.logger.Warn("out-of-order stage event ignored", "job_id", job.ID, "stage", stage, "action", "update")
		return false
	}
	changed := false
	if message != "" {
		t.appendLogLocked(message)
		changed = true
	}
	step := job.Percent + progressStep
	if ceiling := stage.CeilingPercent(); step > ceiling {
		step = ceiling
	}
	if t.raisePercentLocked(step) {
		changed = true
	}
	return changed
}

func (t *Tracker) completeStageLocked(stage domain.Stage) bool {
	job := t.job
	status := job.Stages[stage]
	if status == domain.StageComplete {
		// Duplicate completion, nothing left to do.
		return false
	}
	if status != domain.StageActive && !t.priorStagesCompleteLocked(stage) {
		t.logger.Warn("out-of-order stage event ignored", "job_id", job.ID, "stage", stage, "action", "complete")
		return false
	}

	job.Stages[stage] = domain.StageComplete
	t.raisePercentLocked(stage.CeilingPercent())
	t.appendLogLocked(stage.Label() + " complete")

	if stage == domain.StageInsights {
		job.Status = domain.JobStatusCompleted
		t.appendLogLocked("Analysis complete")
		t.terminalLocked()
	}
	return true
}

// fallbackLocked flips the job to simulated mode, exactly once per job, and
// replays the script from its first event. Stage-local progress cannot be
// resumed from an opaque error, so the script always restarts; monotonic
// clamping and the ordering rules absorb the replayed prefix.
func (t *Tracker) fallbackLocked() {
	job := t.job
	job.Mode = domain.ModeSimulated
	t.appendLogLocked("Live updates unavailable, continuing with simulated progress")
	if t.liveCancel != nil {
		t.liveCancel()
	}

	runCtx := t.runCtx
	if runCtx == nil {
		runCtx = context.Background()
	}
	sim := t.sim
	jobID := job.ID
	go sim.Run(runCtx, func(ev domain.AnalysisEvent) {
		t.applyScoped(jobID, domain.ModeSimulated, ev)
	})
}

func (t *Tracker) cancelLocked() {
	t.appendLogLocked("Analysis cancelled")
	for _, s := range domain.Stages() {
		t.job.Stages[s] = domain.StageNotStarted
	}
	t.job.Percent = 0
	t.job.Status = domain.JobStatusCancelled
	t.terminalLocked()
	t.publishLocked()
}

// terminalLocked stops whichever driver is active and signals Done. Callers
// guarantee the job just moved from Running to a terminal status, so this
// runs at most once per job.
func (t *Tracker) terminalLocked() {
	if t.runCancel != nil {
		t.runCancel()
	}
	if t.done != nil {
		close(t.done)
	}
}

func (t *Tracker) priorStagesCompleteLocked(stage domain.Stage) bool {
	idx := domain.StageIndex(stage)
	for i, s := range domain.Stages() {
		if i >= idx {
			break
		}
		if t.job.Stages[s] != domain.StageComplete {
			return false
		}
	}
	return true
}

// raisePercentLocked clamps progress to be monotonically non-decreasing.
func (t *Tracker) raisePercentLocked(p int) bool {
	if p <= t.job.Percent {
		return false
	}
	t.job.Percent = p
	return true
}

func (t *Tracker) appendLogLocked(message string) {
	t.job.Log = append(t.job.Log, domain.LogEntry{Timestamp: time.Now(), Message: message})
}

func (t *Tracker) publishLocked() {
	snap := t.job.Snapshot()
	for _, sink := range t.sinks {
		sink.Publish(snap)
	}
}

// progressStep is the fixed percent increment per *_update event.
const progressStep = 5
