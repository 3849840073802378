package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
)

// eventPayload is the JSON body carried by *_update and error events.
// Started/complete markers arrive with an empty payload.
type eventPayload struct {
	Message string `json:"message"`
}

// DecodeEvent validates one raw inbound message and produces a typed event.
//
// Unknown names fail with domain.ErrUnknownEventKind; payloads that are not
// valid JSON fail with domain.ErrMalformedEvent. Both are recoverable: the
// caller logs and drops the message, the job keeps running.
func DecodeEvent(name string, payload []byte) (domain.AnalysisEvent, error) {
	name = strings.TrimSpace(name)
	if !domain.KnownEventKind(name) {
		return domain.AnalysisEvent{}, fmt.Errorf("%w: %q", domain.ErrUnknownEventKind, name)
	}

	ev := domain.AnalysisEvent{Kind: domain.EventKind(name)}
	if len(payload) == 0 {
		return ev, nil
	}

	var body eventPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.AnalysisEvent{}, fmt.Errorf("%w: %s: %v", domain.ErrMalformedEvent, name, err)
	}
	ev.Message = body.Message
	return ev, nil
}

// EncodeEventPayload is the inverse used by the kernel when pushing events.
func EncodeEventPayload(message string) string {
	if message == "" {
		return ""
	}
	data, err := json.Marshal(eventPayload{Message: message})
	if err != nil {
		return ""
	}
	return string(data)
}
