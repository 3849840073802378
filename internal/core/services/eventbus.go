package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
)

// BusEvent is one lifecycle event in flight on the kernel side, before it is
// framed onto the push channel. Payload is the JSON body for *_update and
// error events, empty for bare markers.
type BusEvent struct {
	JobID     domain.JobID
	Kind      domain.EventKind
	Payload   string
	Timestamp int64
}

// EventBus fans analysis events out to push-channel subscribers, keyed by
// job ID. Publishing never blocks; a slow subscriber drops events instead of
// stalling the pipeline.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[domain.JobID][]chan BusEvent
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[domain.JobID][]chan BusEvent),
	}
}

// Subscribe returns a channel receiving events for one job plus an
// unsubscribe function that closes it.
func (b *EventBus) Subscribe(jobID domain.JobID) (<-chan BusEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan BusEvent, 100)
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of the job.
func (b *EventBus) Publish(e BusEvent) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers, ok := b.subs[e.JobID]
	if !ok {
		return
	}

	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID, "kind", e.Kind)
		}
	}
}
