package services

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
)

// stubSource is a live channel that attaches successfully and never delivers
// anything; tests push events through Apply directly.
type stubSource struct{}

func (stubSource) Open(ctx context.Context, jobID domain.JobID, h EventHandler) error {
	return nil
}

// recordSink captures every published snapshot.
type recordSink struct {
	mu    sync.Mutex
	snaps []domain.Snapshot
}

func (s *recordSink) Publish(snap domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *recordSink) all() []domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Snapshot, len(s.snaps))
	copy(out, s.snaps)
	return out
}

func newTestTracker(t *testing.T, opts ...TrackerOption) *Tracker {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	base := []TrackerOption{
		WithLiveSource(stubSource{}),
		WithSimulator(NewSimulator(logger, WithDelayScale(0))),
	}
	return NewTracker(logger, append(base, opts...)...)
}

func waitDone(t *testing.T, tracker *Tracker) {
	t.Helper()
	select {
	case <-tracker.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal state")
	}
}

func logContains(snap domain.Snapshot, substr string) bool {
	for _, entry := range snap.Log {
		if entry.Message == substr {
			return true
		}
	}
	return false
}

func TestTracker_StartInitialState(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.Start(context.Background(), "doc-1")

	snap := tracker.Snapshot()
	assert.Equal(t, domain.JobID("doc-1"), snap.JobID)
	assert.Equal(t, domain.ModeLive, snap.Mode)
	assert.Equal(t, domain.JobStatusRunning, snap.Status)
	assert.Zero(t, snap.Percent)
	for _, s := range domain.Stages() {
		assert.Equal(t, domain.StageNotStarted, snap.Stages[s])
	}
}

func TestTracker_StageStartAndComplete(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.Start(context.Background(), "doc-1")

	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionStarted})
	snap := tracker.Snapshot()
	assert.Equal(t, 10, snap.Percent)
	assert.Equal(t, domain.StageActive, snap.Stages[domain.StageExtraction])

	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionComplete})
	snap = tracker.Snapshot()
	assert.Equal(t, 25, snap.Percent)
	assert.Equal(t, domain.StageComplete, snap.Stages[domain.StageExtraction])
	// The next stage waits for its own started event.
	assert.Equal(t, domain.StageNotStarted, snap.Stages[domain.StageProcessing])
}

func TestTracker_UpdateStepsTowardCeiling(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.Start(context.Background(), "doc-1")

	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionStarted})
	for i := 0; i < 10; i++ {
		tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionUpdate, Message: "working"})
	}

	// 10 updates would overshoot; progress clamps at the stage ceiling.
	snap := tracker.Snapshot()
	assert.Equal(t, domain.StageExtraction.CeilingPercent(), snap.Percent)
	assert.Equal(t, domain.StageActive, snap.Stages[domain.StageExtraction])
}

func TestTracker_OutOfOrderEventsIgnored(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.Start(context.Background(), "doc-1")

	// Assessment cannot start while extraction has not completed.
	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventAssessmentStarted})
	snap := tracker.Snapshot()
	assert.Equal(t, domain.StageNotStarted, snap.Stages[domain.StageAssessment])
	assert.Zero(t, snap.Percent)

	// Same for completing a stage that never became reachable.
	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventInsightsComplete})
	snap = tracker.Snapshot()
	assert.Equal(t, domain.StageNotStarted, snap.Stages[domain.StageInsights])
	assert.False(t, snap.Terminal)
}

func TestTracker_PercentMonotonic(t *testing.T) {
	sink := &recordSink{}
	tracker := newTestTracker(t, WithSinks(sink))
	tracker.Start(context.Background(), "doc-1")

	// A consistent full run with updates and some duplicates sprinkled in.
	events := []domain.AnalysisEvent{
		{Kind: domain.EventExtractionStarted},
		{Kind: domain.EventExtractionUpdate, Message: "a"},
		{Kind: domain.EventExtractionStarted},
		{Kind: domain.EventExtractionComplete},
		{Kind: domain.EventProcessingStarted},
		{Kind: domain.EventProcessingUpdate, Message: "b"},
		{Kind: domain.EventProcessingComplete},
		{Kind: domain.EventAssessmentStarted},
		{Kind: domain.EventAssessmentComplete},
		{Kind: domain.EventInsightsStarted},
		{Kind: domain.EventInsightsUpdate, Message: "c"},
		{Kind: domain.EventInsightsComplete},
	}
	for _, ev := range events {
		tracker.Apply(domain.ModeLive, ev)
	}

	prev := 0
	for _, snap := range sink.all() {
		assert.GreaterOrEqual(t, snap.Percent, prev)
		prev = snap.Percent
	}

	final := tracker.Snapshot()
	assert.True(t, final.Terminal)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Percent)
}

func TestTracker_FallbackScenario(t *testing.T) {
	// start -> extraction_started -> extraction_complete -> error:
	// the mode flips to Simulated once and the scripted replay carries the
	// job to completion despite the already-complete first stage.
	tracker := newTestTracker(t)
	tracker.Start(context.Background(), "doc-1")

	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionStarted})
	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionComplete})
	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventError, Message: "backend not ready"})

	snap := tracker.Snapshot()
	assert.Equal(t, domain.ModeSimulated, snap.Mode)
	assert.True(t, logContains(snap, "Live updates unavailable, continuing with simulated progress"))

	waitDone(t, tracker)

	final := tracker.Snapshot()
	assert.Equal(t, domain.ModeSimulated, final.Mode)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Percent)
	assert.True(t, final.Terminal)
	for _, s := range domain.Stages() {
		assert.Equal(t, domain.StageComplete, final.Stages[s])
	}
}

func TestTracker_SecondErrorWhileSimulatedFails(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	// Empty script keeps the simulator from racing the test.
	sim := NewSimulator(logger, WithScript(nil))
	tracker := NewTracker(logger, WithLiveSource(stubSource{}), WithSimulator(sim))
	tracker.Start(context.Background(), "doc-1")

	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventError})
	require.Equal(t, domain.ModeSimulated, tracker.Snapshot().Mode)

	// Live events after fallback are discarded even if the stale channel
	// still delivers them.
	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionStarted})
	assert.Equal(t, domain.StageNotStarted, tracker.Snapshot().Stages[domain.StageExtraction])

	tracker.Apply(domain.ModeSimulated, domain.AnalysisEvent{Kind: domain.EventExtractionStarted})
	tracker.Apply(domain.ModeSimulated, domain.AnalysisEvent{Kind: domain.EventError, Message: "still broken"})

	final := tracker.Snapshot()
	assert.Equal(t, domain.JobStatusFailed, final.Status)
	assert.True(t, final.Terminal)
	assert.Equal(t, domain.StageFailed, final.Stages[domain.StageExtraction])
	assert.True(t, logContains(final, "Analysis failed: still broken"))
}

func TestTracker_CancelScenario(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.Start(context.Background(), "doc-2")

	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionStarted})
	tracker.Cancel()

	snap := tracker.Snapshot()
	assert.Equal(t, domain.JobStatusCancelled, snap.Status)
	assert.True(t, snap.Terminal)
	assert.Zero(t, snap.Percent)
	for _, s := range domain.Stages() {
		assert.Equal(t, domain.StageNotStarted, snap.Stages[s])
	}
	assert.True(t, logContains(snap, "Analysis cancelled"))

	// A late-arriving event after cancel is discarded without effect.
	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionComplete})
	after := tracker.Snapshot()
	assert.Zero(t, after.Percent)
	assert.Equal(t, domain.StageNotStarted, after.Stages[domain.StageExtraction])

	// Cancel is idempotent.
	tracker.Cancel()
	assert.Equal(t, domain.JobStatusCancelled, tracker.Snapshot().Status)
}

func TestTracker_SimulatedRunMatchesLiveRun(t *testing.T) {
	// A simulated run driven by the fallback script must land on the same
	// terminal tuple as a live run that received every event in order.
	live := newTestTracker(t)
	live.Start(context.Background(), "doc-live")
	for _, kind := range []domain.EventKind{
		domain.EventExtractionStarted, domain.EventExtractionComplete,
		domain.EventProcessingStarted, domain.EventProcessingComplete,
		domain.EventAssessmentStarted, domain.EventAssessmentComplete,
		domain.EventInsightsStarted, domain.EventInsightsComplete,
	} {
		live.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: kind})
	}

	simulated := newTestTracker(t)
	simulated.Start(context.Background(), "doc-sim")
	simulated.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventError})
	waitDone(t, simulated)

	liveSnap := live.Snapshot()
	simSnap := simulated.Snapshot()

	assert.Equal(t, liveSnap.Stages, simSnap.Stages)
	assert.Equal(t, liveSnap.Percent, simSnap.Percent)
	assert.Equal(t, liveSnap.Status, simSnap.Status)
	assert.True(t, liveSnap.Terminal)
	assert.True(t, simSnap.Terminal)
	assert.Equal(t, domain.ModeLive, liveSnap.Mode)
	assert.Equal(t, domain.ModeSimulated, simSnap.Mode)
}

func TestTracker_NoLiveSourceFallsBackImmediately(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	tracker := NewTracker(logger, WithSimulator(NewSimulator(logger, WithDelayScale(0))))
	tracker.Start(context.Background(), "doc-offline")

	waitDone(t, tracker)

	final := tracker.Snapshot()
	assert.Equal(t, domain.ModeSimulated, final.Mode)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Percent)
}

func TestTracker_StartingNewJobCancelsPrevious(t *testing.T) {
	sink := &recordSink{}
	tracker := newTestTracker(t, WithSinks(sink))
	tracker.Start(context.Background(), "doc-1")
	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionStarted})

	tracker.Start(context.Background(), "doc-2")

	snap := tracker.Snapshot()
	assert.Equal(t, domain.JobID("doc-2"), snap.JobID)
	assert.Equal(t, domain.JobStatusRunning, snap.Status)
	assert.Zero(t, snap.Percent)

	// The replacement job accepts events normally.
	tracker.Apply(domain.ModeLive, domain.AnalysisEvent{Kind: domain.EventExtractionStarted})
	assert.Equal(t, domain.StageActive, tracker.Snapshot().Stages[domain.StageExtraction])
}

func TestTracker_TransportErrorTriggersFallbackOnce(t *testing.T) {
	tracker := newTestTracker(t)
	ctx := context.Background()
	tracker.Start(ctx, "doc-1")

	handler := liveHandler{t: tracker, jobID: "doc-1"}
	handler.HandleTransportError(assert.AnError)

	waitDone(t, tracker)
	final := tracker.Snapshot()
	assert.Equal(t, domain.ModeSimulated, final.Mode)
	assert.Equal(t, domain.JobStatusCompleted, final.Status)

	// A second transport signal after fallback is a no-op.
	handler.HandleTransportError(assert.AnError)
	assert.Equal(t, domain.JobStatusCompleted, tracker.Snapshot().Status)
}
