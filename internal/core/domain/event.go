package domain

import "errors"

// EventKind is the wire name of one lifecycle event pushed by the analysis
// service. Each stage has a started/update/complete trio; "error" is the
// generic failure event.
type EventKind string

const (
	EventExtractionStarted  EventKind = "extraction_started"
	EventExtractionUpdate   EventKind = "extraction_update"
	EventExtractionComplete EventKind = "extraction_complete"
	EventProcessingStarted  EventKind = "processing_started"
	EventProcessingUpdate   EventKind = "processing_update"
	EventProcessingComplete EventKind = "processing_complete"
	EventAssessmentStarted  EventKind = "assessment_started"
	EventAssessmentUpdate   EventKind = "assessment_update"
	EventAssessmentComplete EventKind = "assessment_complete"
	EventInsightsStarted    EventKind = "insights_started"
	EventInsightsUpdate     EventKind = "insights_update"
	EventInsightsComplete   EventKind = "insights_complete"
	EventError              EventKind = "error"
)

// EventAction classifies what an event does to its stage.
type EventAction int

const (
	ActionStarted EventAction = iota
	ActionUpdate
	ActionComplete
	ActionError
)

type eventShape struct {
	stage  Stage
	action EventAction
}

var eventCatalogue = map[EventKind]eventShape{
	EventExtractionStarted:  {StageExtraction, ActionStarted},
	EventExtractionUpdate:   {StageExtraction, ActionUpdate},
	EventExtractionComplete: {StageExtraction, ActionComplete},
	EventProcessingStarted:  {StageProcessing, ActionStarted},
	EventProcessingUpdate:   {StageProcessing, ActionUpdate},
	EventProcessingComplete: {StageProcessing, ActionComplete},
	EventAssessmentStarted:  {StageAssessment, ActionStarted},
	EventAssessmentUpdate:   {StageAssessment, ActionUpdate},
	EventAssessmentComplete: {StageAssessment, ActionComplete},
	EventInsightsStarted:    {StageInsights, ActionStarted},
	EventInsightsUpdate:     {StageInsights, ActionUpdate},
	EventInsightsComplete:   {StageInsights, ActionComplete},
	EventError:              {"", ActionError},
}

// KnownEventKind reports whether name is part of the event catalogue.
func KnownEventKind(name string) bool {
	_, ok := eventCatalogue[EventKind(name)]
	return ok
}

// AnalysisEvent is one decoded lifecycle event. Message is only set for
// *_update and error events.
type AnalysisEvent struct {
	Kind    EventKind
	Message string
}

// Stage returns the stage the event belongs to; ok is false for "error".
func (e AnalysisEvent) Stage() (Stage, bool) {
	shape, known := eventCatalogue[e.Kind]
	if !known || shape.action == ActionError {
		return "", false
	}
	return shape.stage, true
}

// Action classifies the event. Unknown kinds report ActionError; callers are
// expected to have validated the kind through the parser first.
func (e AnalysisEvent) Action() EventAction {
	shape, known := eventCatalogue[e.Kind]
	if !known {
		return ActionError
	}
	return shape.action
}

var (
	// ErrUnknownEventKind marks an event name outside the catalogue. These
	// are logged and skipped so newer servers can add event types.
	ErrUnknownEventKind = errors.New("unknown event kind")
	// ErrMalformedEvent marks a payload that failed to decode. The event is
	// treated as a no-op update, never a failure.
	ErrMalformedEvent = errors.New("malformed event payload")
)
