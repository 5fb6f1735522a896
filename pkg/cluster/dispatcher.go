package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"edgemesh/pkg/clock"
	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/listener"
	"edgemesh/pkg/metrics"
	"edgemesh/pkg/routing"
	"edgemesh/pkg/sharding"
	"edgemesh/pkg/telemetry"

	"github.com/google/uuid"
)

var ErrStopped = errors.New("dispatcher stopped")

const defaultQueueSize = 64

type Options struct {
	// Tables holds the logical routing tables: one, or two in dual mode
	// where the last one carries final routes only. All tables must have
	// the same number of shards.
	Tables   []*sharding.Set
	Remote   Remote
	Executor Executor
	// Senders is required only to serve asynchronous requests.
	Senders SenderFactory

	QueueSize int
	Clock     clock.Clock
	Rand      routing.RandFunc
	Metrics   metrics.Collector
	Logger    *slog.Logger
}

type job struct {
	ctx   context.Context
	req   Request
	reply chan Response // nil for asynchronous requests
}

type worker struct {
	idx  int
	in   chan job
	pump *listener.Listener[job]
	busy atomic.Int64 // nanoseconds spent processing since the last sample
}

// Dispatcher routes lambda requests. Worker i always reads shard i of every
// table, so workers never contend on table reads.
type Dispatcher struct {
	tables   []*sharding.Set
	remote   Remote
	exec     Executor
	senders  SenderFactory
	clock    clock.Clock
	rnd      routing.RandFunc
	metrics  metrics.Collector
	log      *slog.Logger
	workers  []*worker
	next     atomic.Uint64
	ctx      context.Context
	cancel   context.CancelFunc
	sampleMu sync.Mutex
	sampled  time.Time
}

func NewDispatcher(opts Options) (*Dispatcher, error) {
	if len(opts.Tables) == 0 {
		return nil, fmt.Errorf("%w: dispatcher needs at least one table", fabricerr.ErrConfiguration)
	}
	shards := opts.Tables[0].NumShards()
	for i, t := range opts.Tables {
		if t.NumShards() != shards {
			return nil, fmt.Errorf("%w: table %d has %d shards, want %d",
				fabricerr.ErrConfiguration, i, t.NumShards(), shards)
		}
	}
	if opts.Remote == nil || opts.Executor == nil {
		return nil, fmt.Errorf("%w: dispatcher needs a remote and an executor", fabricerr.ErrConfiguration)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.System
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		tables:  opts.Tables,
		remote:  opts.Remote,
		exec:    opts.Executor,
		senders: opts.Senders,
		clock:   opts.Clock,
		rnd:     opts.Rand,
		metrics: opts.Metrics,
		log:     opts.Logger.With("component", "dispatcher"),
		workers: make([]*worker, shards),
		ctx:     ctx,
		cancel:  cancel,
		sampled: opts.Clock.Now(),
	}
	for i := range d.workers {
		w := &worker{idx: i, in: make(chan job, opts.QueueSize)}
		w.pump = listener.New("dispatch-worker-"+strconv.Itoa(i), w.in, func(j job) error {
			d.handle(w, j)
			return nil
		})
		d.workers[i] = w
	}
	return d, nil
}

// Start launches the workers. They stop when ctx ends or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	context.AfterFunc(ctx, d.cancel)
	for _, w := range d.workers {
		w.pump.Start(d.ctx)
	}
	d.log.Info("dispatcher started", "workers", len(d.workers), "tables", len(d.tables))
}

func (d *Dispatcher) Stop() {
	d.cancel()
	for _, w := range d.workers {
		w.pump.Stop()
	}
}

// Process routes req. Synchronous requests return the response of the
// destination; a request with a callback endpoint is acknowledged at once
// and its result delivered there later.
func (d *Dispatcher) Process(ctx context.Context, req Request) (Response, error) {
	if req.Name == "" {
		return Response{}, fmt.Errorf("%w: request without function name", fabricerr.ErrMalformedMessage)
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	w := d.workers[d.next.Add(1)%uint64(len(d.workers))]

	if req.Callback != "" {
		if err := d.enqueue(ctx, w, job{ctx: d.ctx, req: req}); err != nil {
			return Response{}, err
		}
		return Response{ID: req.ID, RetCode: RetOK, Asynchronous: true}, nil
	}

	reply := make(chan Response, 1)
	if err := d.enqueue(ctx, w, job{ctx: ctx, req: req, reply: reply}); err != nil {
		return Response{}, err
	}
	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-d.ctx.Done():
		return Response{}, ErrStopped
	}
}

// Utilization reports the busy fraction of every worker since the previous
// call.
func (d *Dispatcher) Utilization() telemetry.Snapshot {
	d.sampleMu.Lock()
	defer d.sampleMu.Unlock()

	now := d.clock.Now()
	window := now.Sub(d.sampled)
	d.sampled = now

	snap := make(telemetry.Snapshot, len(d.workers))
	for _, w := range d.workers {
		busy := time.Duration(w.busy.Swap(0))
		u := 0.0
		if window > 0 {
			u = min(float64(busy)/float64(window), 1)
		}
		snap["worker-"+strconv.Itoa(w.idx)] = u
	}
	return snap
}

func (d *Dispatcher) enqueue(ctx context.Context, w *worker, j job) error {
	select {
	case w.in <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrStopped
	}
}

func (d *Dispatcher) handle(w *worker, j job) {
	start := d.clock.Now()
	resp := d.process(j.ctx, w.idx, j.req)
	elapsed := d.clock.Now().Sub(start)
	w.busy.Add(int64(elapsed))

	d.metrics.IncCounter("dispatch_requests_total", map[string]string{"ret_code": resp.RetCode}, 1)
	d.metrics.ObserveHistogram("dispatch_latency_ms", nil, float64(elapsed.Milliseconds()))

	if j.reply != nil {
		j.reply <- resp
		return
	}
	d.deliver(j.ctx, j.req, resp)
}

func (d *Dispatcher) deliver(ctx context.Context, req Request, resp Response) {
	if d.senders == nil {
		d.log.Error("no callback sender configured", "id", req.ID, "callback", req.Callback)
		return
	}
	sender, err := d.senders(req.Callback)
	if err != nil {
		d.log.Error("create callback sender", "callback", req.Callback, "error", err)
		return
	}
	if err := sender.Deliver(ctx, resp.Result()); err != nil {
		d.log.Warn("callback delivery failed", "id", req.ID, "callback", req.Callback, "error", err)
	}
}

// process selects a destination and sends req there. A destination that
// cannot be reached is removed from every table and the selection is
// retried until it succeeds or no destination is left.
func (d *Dispatcher) process(ctx context.Context, shard int, req Request) Response {
	start := d.clock.Now()
	failed := func(code string) Response {
		return Response{ID: req.ID, RetCode: code, Hops: req.Hops}
	}

	if req.Hops > maxHops {
		return failed("loop detected")
	}

	table := d.tables[0]
	if req.Forward {
		table = d.tables[len(d.tables)-1]
	}

	for {
		dest, err := table.Select(shard, req.Name, d.rnd)
		if err != nil {
			return failed(err.Error())
		}

		// the next node answers this node, and counts as one more hop
		fwd := req
		fwd.Forward = true
		fwd.Hops++
		fwd.Callback = ""

		var resp Response
		if dest.Final {
			resp, err = d.exec.Execute(ctx, dest.Endpoint, fwd)
		} else {
			resp, err = d.remote.Invoke(ctx, dest.Endpoint, fwd)
		}

		switch {
		case err == nil:
			resp.ID = req.ID
			if resp.ProcessingTimeMs == 0 {
				resp.ProcessingTimeMs = uint32(d.clock.Now().Sub(start).Milliseconds())
			}
			return resp
		case ctx.Err() != nil:
			return failed(ctx.Err().Error())
		case errors.Is(err, fabricerr.ErrTransport):
			d.log.Warn("destination unreachable, removing", "function", req.Name, "destination", dest.Endpoint, "error", err)
			d.processFailure(req.Name, dest.Endpoint)
		default:
			return failed(err.Error())
		}
	}
}

func (d *Dispatcher) processFailure(function, destination string) {
	for i, t := range d.tables {
		if err := t.Remove(function, destination); err != nil {
			d.log.Error("remove failed destination", "table", i, "function", function, "destination", destination, "error", err)
		}
	}
	d.metrics.IncCounter("dispatch_removed_destinations_total", nil, 1)
}
