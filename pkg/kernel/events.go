package kernel

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
)

// handleJobSSE streams one job's lifecycle events over SSE. It subscribes to
// the event bus keyed by the job ID and writes `event:`/`data:` frames until
// the run terminates or the client disconnects. The stream is closed after a
// terminal event so clients can tell a finished run from a dropped channel.
func (s *Server) handleJobSSE(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	var jobID string
	if len(parts) >= 3 {
		jobID = parts[2] // v1/jobs/{id}/events
	}
	if jobID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := s.eventBus.Subscribe(domain.JobID(jobID))
	defer unsub()

	s.logger.Info("event stream opened", "job_id", jobID)
	defer s.logger.Info("event stream closed", "job_id", jobID)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Payload != "" {
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
			} else {
				fmt.Fprintf(w, "event: %s\ndata:\n\n", evt.Kind)
			}
			flusher.Flush()

			if isTerminalEvent(evt.Kind) {
				return
			}
		}
	}
}

// isTerminalEvent reports whether the stream has nothing further to push.
func isTerminalEvent(kind domain.EventKind) bool {
	return kind == domain.EventInsightsComplete || kind == domain.EventError
}
