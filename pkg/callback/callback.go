// Package callback receives the results of asynchronous lambda requests
// and queues them for the waiting consumer.
package callback

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/queue"

	"github.com/google/uuid"
)

// Result is the outcome of one asynchronous request. ID correlates it with
// the request that produced it.
type Result struct {
	ID               uuid.UUID `json:"id"`
	RetCode          string    `json:"ret_code"`
	Output           string    `json:"output,omitempty"`
	Responder        string    `json:"responder,omitempty"`
	ProcessingTimeMs uint32    `json:"processing_time_ms"`
	Hops             uint32    `json:"hops"`
	DataOut          []byte    `json:"data_out,omitempty"`
}

// Validate reports whether r carries the fields a consumer relies on.
func (r Result) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: result without id", fabricerr.ErrMalformedMessage)
	}
	if r.RetCode == "" {
		return fmt.Errorf("%w: result %s without return code", fabricerr.ErrMalformedMessage, r.ID)
	}
	return nil
}

// Service owns the callback queue. Deliver is called by the transport for
// every incoming payload; the consumer pops results from Queue.
type Service struct {
	results *queue.Queue[Result]
	log     *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		results: queue.New[Result](),
		log:     logger.With("component", "callback"),
	}
}

// Deliver decodes payload as a Result and queues it. It never waits for a
// consumer.
func (s *Service) Deliver(payload []byte) error {
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		s.log.Warn("dropping undecodable callback", "bytes", len(payload), "error", err)
		return fmt.Errorf("%w: %v", fabricerr.ErrMalformedMessage, err)
	}
	return s.Push(res)
}

// Push queues an already decoded result.
func (s *Service) Push(res Result) error {
	if err := res.Validate(); err != nil {
		s.log.Warn("dropping invalid callback", "error", err)
		return err
	}
	if err := s.results.Push(res); err != nil {
		return fmt.Errorf("queue result %s: %w", res.ID, err)
	}
	s.log.Debug("callback queued", "id", res.ID, "ret_code", res.RetCode, "responder", res.Responder)
	return nil
}

// Queue returns the consumer side of the service.
func (s *Service) Queue() *queue.Queue[Result] {
	return s.results
}

// Close stops accepting results. Results already queued can still be popped.
func (s *Service) Close() {
	s.results.Close()
}
