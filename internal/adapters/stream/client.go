package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/domain"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/services"
)

// Client subscribes to the kernel's SSE job-event stream and feeds decoded
// events into a tracker. One Open call is one push subscription keyed by job
// ID; transport failure is signalled to the handler exactly once.
type Client struct {
	logger     *slog.Logger
	baseURL    string
	httpClient *http.Client
}

var _ services.LiveSource = (*Client)(nil)

func NewClient(logger *slog.Logger, baseURL string) *Client {
	return &Client{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client timeout: the event stream stays open for the whole job.
		httpClient: &http.Client{},
	}
}

// Open attaches to the job's event stream. It returns once the subscription
// is established; events are then delivered from a background goroutine until
// the stream ends or ctx is cancelled. Cancellation closes the stream without
// signalling a transport error.
func (c *Client) Open(ctx context.Context, jobID domain.JobID, h services.EventHandler) error {
	url := fmt.Sprintf("%s/v1/jobs/%s/events", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build subscribe request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("subscribe %s: unexpected status %d", url, resp.StatusCode)
	}

	sub := &subscription{
		logger:  c.logger,
		jobID:   jobID,
		handler: h,
		resp:    resp,
	}

	// Unblock the scanner when the caller cancels.
	go func() {
		<-ctx.Done()
		sub.close()
	}()
	go sub.consume(ctx)

	c.logger.Info("live channel attached", "job_id", jobID)
	return nil
}

type subscription struct {
	logger    *slog.Logger
	jobID     domain.JobID
	handler   services.EventHandler
	resp      *http.Response
	closeOnce sync.Once
	errOnce   sync.Once
}

// close is idempotent; it terminates the underlying stream.
func (s *subscription) close() {
	s.closeOnce.Do(func() {
		s.resp.Body.Close()
	})
}

// signalError reports a transport failure at most once.
func (s *subscription) signalError(err error) {
	s.errOnce.Do(func() {
		s.handler.HandleTransportError(err)
	})
}

// consume reads SSE frames (event/data field pairs separated by blank lines)
// until the stream ends.
func (s *subscription) consume(ctx context.Context) {
	defer s.close()

	var (
		eventName string
		data      strings.Builder
	)
	dispatch := func() {
		if eventName == "" {
			return
		}
		s.dispatch(eventName, data.String())
		eventName = ""
		data.Reset()
	}

	scanner := bufio.NewScanner(s.resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			dispatch()
		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive frame.
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	dispatch()

	if ctx.Err() != nil {
		s.logger.Info("live channel closed", "job_id", s.jobID)
		return
	}

	err := scanner.Err()
	if err == nil {
		err = errors.New("event stream closed by server")
	}
	s.signalError(fmt.Errorf("live channel lost: %w", err))
}

func (s *subscription) dispatch(name, payload string) {
	ev, err := services.DecodeEvent(name, []byte(payload))
	switch {
	case errors.Is(err, domain.ErrUnknownEventKind):
		// Forward compatibility: newer servers may push event types we do
		// not know yet.
		s.logger.Warn("skipping unknown event kind", "job_id", s.jobID, "event", name)
		return
	case errors.Is(err, domain.ErrMalformedEvent):
		s.logger.Warn("skipping malformed event payload", "job_id", s.jobID, "event", name, "error", err)
		return
	case err != nil:
		s.logger.Warn("undecodable event dropped", "job_id", s.jobID, "event", name, "error", err)
		return
	}
	s.handler.HandleEvent(ev)
}
