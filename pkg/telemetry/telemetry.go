// Package telemetry streams utilization snapshots to any number of
// subscribers. Each subscriber has its own queue, so a slow reader never
// blocks the producer or other readers. A reader that falls more than
// defaultBacklog snapshots behind loses the oldest ones.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"edgemesh/pkg/clock"
	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/queue"

	"github.com/zhangyunhao116/skipmap"
)

// Snapshot maps a resource name to its utilization.
type Snapshot map[string]float64

// Monitor is anything that can report its current utilization.
type Monitor interface {
	Utilization() Snapshot
}

type stream struct {
	id   uint64
	msgs *queue.Queue[Snapshot]
}

// defaultBacklog bounds the snapshots queued for one stream.
const defaultBacklog = 256

type Service struct {
	backlog int
	streams *skipmap.Uint64Map[*stream]
	ids     *clock.Sequence
	log     *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backlog: defaultBacklog,
		streams: skipmap.NewUint64[*stream](),
		ids:     clock.NewSequence(0),
		log:     logger.With("component", "telemetry"),
	}
}

// Add queues snap on every open stream. Streams found closed are removed.
func (s *Service) Add(snap Snapshot) {
	s.streams.Range(func(id uint64, st *stream) bool {
		// each stream gets its own copy: writers may encode concurrently
		dropped, err := st.msgs.PushEvict(maps.Clone(snap), s.backlog)
		if err != nil {
			s.streams.Delete(id)
			return true
		}
		if dropped > 0 {
			s.log.Debug("telemetry subscriber behind, dropped oldest snapshots", "stream", id, "dropped", dropped)
		}
		return true
	})
}

// Serve registers a new stream and passes every snapshot added from now on
// to write, in order. It returns nil when ctx ends and an ErrTransport error
// once write fails; either way the stream is closed and removed.
func (s *Service) Serve(ctx context.Context, write func(Snapshot) error) error {
	st := &stream{id: s.ids.Next(), msgs: queue.New[Snapshot]()}
	s.streams.Store(st.id, st)
	s.log.Info("telemetry subscriber added", "stream", st.id)

	defer func() {
		st.msgs.Close()
		s.streams.Delete(st.id)
	}()

	for {
		snap, err := st.msgs.Pop(ctx)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.log.Info("telemetry subscriber left", "stream", st.id)
			return nil
		case err != nil:
			return err
		}

		if err := write(snap); err != nil {
			s.log.Warn("dropping telemetry subscriber", "stream", st.id, "error", err)
			return fmt.Errorf("%w: stream %d: %v", fabricerr.ErrTransport, st.id, err)
		}
	}
}

// Subscribers returns the number of open streams.
func (s *Service) Subscribers() int {
	return s.streams.Len()
}
