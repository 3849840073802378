package domain

import (
	"errors"
	"time"
)

type JobID string

type Stage string

const (
	StageExtraction Stage = "extraction"
	StageProcessing Stage = "processing"
	StageAssessment Stage = "assessment"
	StageInsights   Stage = "insights"
)

// Stages returns the analysis stages in execution order. The order is fixed;
// no stage may be skipped and a later stage may only start once every earlier
// one is complete.
func Stages() []Stage {
	return []Stage{StageExtraction, StageProcessing, StageAssessment, StageInsights}
}

// StageIndex returns the position of s in the fixed stage order, or -1.
func StageIndex(s Stage) int {
	for i, stage := range Stages() {
		if stage == s {
			return i
		}
	}
	return -1
}

// Label returns the human-readable name used in log lines and UIs.
func (s Stage) Label() string {
	switch s {
	case StageExtraction:
		return "Document extraction"
	case StageProcessing:
		return "Content processing"
	case StageAssessment:
		return "Framework assessment"
	case StageInsights:
		return "Insight generation"
	}
	return string(s)
}

// EntryPercent is the overall progress a job jumps to when the stage starts.
func (s Stage) EntryPercent() int {
	switch s {
	case StageExtraction:
		return 10
	case StageProcessing:
		return 30
	case StageAssessment:
		return 55
	case StageInsights:
		return 80
	}
	return 0
}

// CeilingPercent is the overall progress reached when the stage completes.
// Ceilings are strictly increasing across the stage order; updates within a
// stage never step past its ceiling.
func (s Stage) CeilingPercent() int {
	switch s {
	case StageExtraction:
		return 25
	case StageProcessing:
		return 50
	case StageAssessment:
		return 75
	case StageInsights:
		return 100
	}
	return 0
}

type StageStatus string

const (
	StageNotStarted StageStatus = "NOT_STARTED"
	StageActive     StageStatus = "ACTIVE"
	StageComplete   StageStatus = "COMPLETE"
	StageFailed     StageStatus = "FAILED"
)

// Mode identifies which driver feeds events into a tracked job.
type Mode string

const (
	// ModeLive means events come from the push channel of the analysis service.
	ModeLive Mode = "LIVE"
	// ModeSimulated means events come from the local fallback script. A job
	// moves Live -> Simulated at most once and never back.
	ModeSimulated Mode = "SIMULATED"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// Terminal reports whether no further mutation is accepted for the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// LogEntry is one line of the append-only job log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// AnalysisJob is the aggregate for one tracked analysis. It is mutated only
// by the tracker; everything else sees read-only snapshots.
type AnalysisJob struct {
	ID      JobID
	Stages  map[Stage]StageStatus
	Percent int
	Log     []LogEntry
	Mode    Mode
	Status  JobStatus
}

func NewAnalysisJob(id JobID) *AnalysisJob {
	stages := make(map[Stage]StageStatus, len(Stages()))
	for _, s := range Stages() {
		stages[s] = StageNotStarted
	}
	return &AnalysisJob{
		ID:     id,
		Stages: stages,
		Mode:   ModeLive,
		Status: JobStatusRunning,
	}
}

// Snapshot is the observable state of a job, published to render sinks on
// every mutation. All fields are copies; sinks may keep them.
type Snapshot struct {
	JobID    JobID                 `json:"job_id"`
	Stages   map[Stage]StageStatus `json:"stages"`
	Percent  int                   `json:"percent"`
	Log      []LogEntry            `json:"log"`
	Mode     Mode                  `json:"mode"`
	Status   JobStatus             `json:"status"`
	Terminal bool                  `json:"terminal"`
}

// Snapshot copies the current job state.
func (j *AnalysisJob) Snapshot() Snapshot {
	stages := make(map[Stage]StageStatus, len(j.Stages))
	for s, st := range j.Stages {
		stages[s] = st
	}
	log := make([]LogEntry, len(j.Log))
	copy(log, j.Log)
	return Snapshot{
		JobID:    j.ID,
		Stages:   stages,
		Percent:  j.Percent,
		Log:      log,
		Mode:     j.Mode,
		Status:   j.Status,
		Terminal: j.Status.Terminal(),
	}
}

// JobRecord is the kernel-side view of a submitted analysis, persisted so the
// API can answer job lookups and listings across requests.
type JobRecord struct {
	ID          JobID     `json:"id"`
	Filename    string    `json:"filename"`
	Status      JobStatus `json:"status"`
	Error       *string   `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var (
	ErrJobNotFound = errors.New("job not found")
)
