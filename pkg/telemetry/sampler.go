package telemetry

import (
	"context"
	"time"

	"edgemesh/pkg/listener"
)

// Sampler polls a Monitor every interval and feeds the result to a Service.
type Sampler struct {
	monitor  Monitor
	service  *Service
	interval time.Duration

	samples chan Snapshot
	pump    *listener.Listener[Snapshot]
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSampler(monitor Monitor, service *Service, interval time.Duration) *Sampler {
	s := &Sampler{
		monitor:  monitor,
		service:  service,
		interval: interval,
		samples:  make(chan Snapshot, 1),
		cancel:   func() {},
		done:     make(chan struct{}),
	}
	s.pump = listener.New("telemetry-sampler", s.samples, func(snap Snapshot) error {
		s.service.Add(snap)
		return nil
	})
	return s
}

func (s *Sampler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.pump.Start(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case s.samples <- s.monitor.Utilization():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

func (s *Sampler) Stop() {
	s.cancel()
	<-s.done
	s.pump.Stop()
}
