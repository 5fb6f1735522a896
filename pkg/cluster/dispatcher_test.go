package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"edgemesh/pkg/callback"
	"edgemesh/pkg/clock"
	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/metrics"
	"edgemesh/pkg/routing"
	"edgemesh/pkg/sharding"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode plays both roles of the lambda transport: Remote and Executor.
type fakeNode struct {
	mu       sync.Mutex
	down     map[string]bool
	executed []string
	execReqs []Request
	invoked  []Request
}

func newFakeNode(down ...string) *fakeNode {
	n := &fakeNode{down: make(map[string]bool)}
	for _, d := range down {
		n.down[d] = true
	}
	return n
}

func (n *fakeNode) Execute(_ context.Context, dest string, req Request) (Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.down[dest] {
		return Response{}, fmt.Errorf("%w: %s refused", fabricerr.ErrTransport, dest)
	}
	n.executed = append(n.executed, dest)
	n.execReqs = append(n.execReqs, req)
	return Response{RetCode: RetOK, Output: "ran " + req.Name, Responder: dest, Hops: req.Hops}, nil
}

func (n *fakeNode) Invoke(_ context.Context, dest string, req Request) (Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.down[dest] {
		return Response{}, fmt.Errorf("%w: %s refused", fabricerr.ErrTransport, dest)
	}
	n.invoked = append(n.invoked, req)
	if req.Callback != "" {
		return Response{ID: req.ID, RetCode: RetOK, Asynchronous: true}, nil
	}
	return Response{RetCode: RetOK, Responder: dest, Hops: req.Hops}, nil
}

type fakeSender struct {
	results chan callback.Result
}

func (s *fakeSender) Deliver(_ context.Context, res callback.Result) error {
	s.results <- res
	return nil
}

func newTables(t *testing.T, n, shards int) []*sharding.Set {
	t.Helper()
	out := make([]*sharding.Set, n)
	for i := range out {
		s, err := sharding.New(shards, routing.PolicyRandom)
		require.NoError(t, err)
		out[i] = s
	}
	return out
}

func startDispatcher(t *testing.T, opts Options) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(opts)
	require.NoError(t, err)
	d.Start(context.Background())
	t.Cleanup(d.Stop)
	return d
}

func TestNewDispatcher_Configuration(t *testing.T) {
	node := newFakeNode()

	_, err := NewDispatcher(Options{Remote: node, Executor: node})
	assert.ErrorIs(t, err, fabricerr.ErrConfiguration)

	_, err = NewDispatcher(Options{Tables: newTables(t, 1, 2)})
	assert.ErrorIs(t, err, fabricerr.ErrConfiguration)

	mixed := append(newTables(t, 1, 2), newTables(t, 1, 3)...)
	_, err = NewDispatcher(Options{Tables: mixed, Remote: node, Executor: node})
	assert.ErrorIs(t, err, fabricerr.ErrConfiguration)
}

func TestDispatcher_FinalRouteExecutes(t *testing.T) {
	tables := newTables(t, 1, 2)
	require.NoError(t, tables[0].Change("f", "computer:1", 1, true))
	node := newFakeNode()
	d := startDispatcher(t, Options{Tables: tables, Remote: node, Executor: node})

	resp, err := d.Process(context.Background(), Request{Name: "f", Input: "x"})
	require.NoError(t, err)
	assert.Equal(t, RetOK, resp.RetCode)
	assert.Equal(t, "computer:1", resp.Responder)
	assert.NotEqual(t, uuid.Nil, resp.ID)
	assert.Equal(t, []string{"computer:1"}, node.executed)
	assert.Empty(t, node.invoked)
}

func TestDispatcher_ExecuteCountsHop(t *testing.T) {
	tables := newTables(t, 1, 1)
	require.NoError(t, tables[0].Change("f", "router:9", 1, true))
	node := newFakeNode()
	d := startDispatcher(t, Options{Tables: tables, Remote: node, Executor: node})

	_, err := d.Process(context.Background(), Request{Name: "f", Hops: 7})
	require.NoError(t, err)

	// a router behind a final route sees one more hop
	require.Len(t, node.execReqs, 1)
	assert.True(t, node.execReqs[0].Forward)
	assert.Equal(t, uint32(8), node.execReqs[0].Hops)
	assert.Empty(t, node.execReqs[0].Callback)
}

func TestDispatcher_NonFinalForwards(t *testing.T) {
	tables := newTables(t, 1, 1)
	require.NoError(t, tables[0].Change("f", "router:2", 1, false))
	node := newFakeNode()
	d := startDispatcher(t, Options{Tables: tables, Remote: node, Executor: node})

	id := uuid.New()
	resp, err := d.Process(context.Background(), Request{ID: id, Name: "f", Hops: 3})
	require.NoError(t, err)
	assert.Equal(t, id, resp.ID)

	require.Len(t, node.invoked, 1)
	fwd := node.invoked[0]
	assert.True(t, fwd.Forward)
	assert.Equal(t, uint32(4), fwd.Hops)
	assert.Equal(t, id, fwd.ID)
}

func TestDispatcher_ForwardedUsesFinalTable(t *testing.T) {
	tables := newTables(t, 2, 1)
	require.NoError(t, tables[0].Change("f", "router:2", 1, false))
	require.NoError(t, tables[1].Change("f", "computer:1", 1, true))
	node := newFakeNode()
	d := startDispatcher(t, Options{Tables: tables, Remote: node, Executor: node})

	resp, err := d.Process(context.Background(), Request{Name: "f", Forward: true, Hops: 1})
	require.NoError(t, err)
	assert.Equal(t, "computer:1", resp.Responder)
	assert.Empty(t, node.invoked)
}

func TestDispatcher_UnreachableDestinationRemoved(t *testing.T) {
	tables := newTables(t, 2, 2)
	for _, tbl := range tables {
		require.NoError(t, tbl.Change("f", "dead:1", 1, true))
	}
	require.NoError(t, tables[0].Change("f", "alive:1", 1, true))
	require.NoError(t, tables[0].Change("g", "dead:1", 1, true))

	node := newFakeNode("dead:1")
	reg := metrics.NewRegistry()
	// a draw near 1 lands on the last endpoint in order: dead:1 first
	d := startDispatcher(t, Options{
		Tables:   tables,
		Remote:   node,
		Executor: node,
		Metrics:  reg,
		Rand:     func() float64 { return 0.999 },
	})

	resp, err := d.Process(context.Background(), Request{Name: "f"})
	require.NoError(t, err)
	assert.Equal(t, RetOK, resp.RetCode)
	assert.Equal(t, "alive:1", resp.Responder)

	for i, tbl := range tables {
		_, ok := tbl.Snapshot()["f"]["dead:1"]
		assert.False(t, ok, "table %d still routes f to dead:1", i)
	}
	// only the failed (function, destination) pair goes
	assert.Contains(t, tables[0].Snapshot()["g"], "dead:1")

	removed, ok := reg.Value("dispatch_removed_destinations_total", nil)
	require.True(t, ok)
	assert.Equal(t, 1.0, removed)
}

func TestDispatcher_NoRouteLeft(t *testing.T) {
	tables := newTables(t, 1, 1)
	require.NoError(t, tables[0].Change("f", "dead:1", 1, true))
	node := newFakeNode("dead:1")
	d := startDispatcher(t, Options{Tables: tables, Remote: node, Executor: node})

	resp, err := d.Process(context.Background(), Request{Name: "f"})
	require.NoError(t, err)
	assert.Equal(t, fabricerr.ErrNoRoute.Error()+`: "f"`, resp.RetCode)
	assert.Empty(t, tables[0].Snapshot())
}

func TestDispatcher_LoopDetected(t *testing.T) {
	tables := newTables(t, 1, 1)
	require.NoError(t, tables[0].Change("f", "router:2", 1, false))
	node := newFakeNode()
	d := startDispatcher(t, Options{Tables: tables, Remote: node, Executor: node})

	resp, err := d.Process(context.Background(), Request{Name: "f", Hops: maxHops + 1})
	require.NoError(t, err)
	assert.Equal(t, "loop detected", resp.RetCode)
	assert.Empty(t, node.invoked)
}

func TestDispatcher_RejectsNamelessRequest(t *testing.T) {
	node := newFakeNode()
	d := startDispatcher(t, Options{Tables: newTables(t, 1, 1), Remote: node, Executor: node})

	_, err := d.Process(context.Background(), Request{})
	assert.ErrorIs(t, err, fabricerr.ErrMalformedMessage)
}

func TestDispatcher_AsynchronousDelivery(t *testing.T) {
	tables := newTables(t, 1, 2)
	require.NoError(t, tables[0].Change("f", "computer:1", 1, true))
	node := newFakeNode()
	sender := &fakeSender{results: make(chan callback.Result, 1)}
	var gotEndpoint string
	d := startDispatcher(t, Options{
		Tables:   tables,
		Remote:   node,
		Executor: node,
		Senders: func(endpoint string) (ResultSender, error) {
			gotEndpoint = endpoint
			return sender, nil
		},
	})

	id := uuid.New()
	ack, err := d.Process(context.Background(), Request{ID: id, Name: "f", Callback: "client:7000"})
	require.NoError(t, err)
	assert.True(t, ack.Asynchronous)
	assert.Equal(t, id, ack.ID)

	select {
	case res := <-sender.results:
		assert.Equal(t, id, res.ID)
		assert.Equal(t, RetOK, res.RetCode)
		assert.Equal(t, "computer:1", res.Responder)
		assert.Equal(t, "client:7000", gotEndpoint)
	case <-time.After(time.Second):
		t.Fatal("result not delivered")
	}
}

func TestSubmit(t *testing.T) {
	node := newFakeNode("router:2")

	id, err := Submit(context.Background(), node, "router:1", "me:6480", Request{Name: "f"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	require.Len(t, node.invoked, 1)
	assert.Equal(t, "me:6480", node.invoked[0].Callback)
	assert.Equal(t, id, node.invoked[0].ID)

	_, err = Submit(context.Background(), node, "router:2", "me:6480", Request{Name: "f"})
	assert.ErrorIs(t, err, fabricerr.ErrTransport)

	_, err = Submit(context.Background(), node, "router:1", "", Request{Name: "f"})
	assert.ErrorIs(t, err, fabricerr.ErrConfiguration)
}

type syncOnlyRemote struct{}

func (syncOnlyRemote) Invoke(_ context.Context, dest string, req Request) (Response, error) {
	return Response{ID: req.ID, RetCode: RetOK, Responder: dest}, nil
}

func TestSubmit_RequiresAsynchronousAck(t *testing.T) {
	_, err := Submit(context.Background(), syncOnlyRemote{}, "router:1", "me:6480", Request{Name: "f"})
	assert.ErrorIs(t, err, fabricerr.ErrMalformedMessage)
}

type slowExecutor struct {
	clk *clock.Manual
}

func (e slowExecutor) Execute(_ context.Context, dest string, _ Request) (Response, error) {
	e.clk.Advance(250 * time.Millisecond)
	return Response{RetCode: RetOK, Responder: dest}, nil
}

func TestDispatcher_Utilization(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	tables := newTables(t, 1, 2)
	require.NoError(t, tables[0].Change("f", "c:1", 1, true))
	node := newFakeNode()
	d := startDispatcher(t, Options{Tables: tables, Remote: node, Executor: slowExecutor{clk: clk}, Clock: clk})

	_, err := d.Process(context.Background(), Request{Name: "f"})
	require.NoError(t, err)
	clk.Advance(750 * time.Millisecond)

	snap := d.Utilization()
	require.Len(t, snap, 2)
	assert.InDelta(t, 0.25, snap["worker-0"]+snap["worker-1"], 1e-9)

	// counters restart with every sample
	clk.Advance(time.Second)
	snap = d.Utilization()
	assert.Zero(t, snap["worker-0"]+snap["worker-1"])
}

func TestDispatcher_StoppedRejects(t *testing.T) {
	node := newFakeNode()
	d, err := NewDispatcher(Options{Tables: newTables(t, 1, 1), Remote: node, Executor: node, QueueSize: 1})
	require.NoError(t, err)
	d.Start(context.Background())
	d.Stop()

	_, err = d.Process(context.Background(), Request{Name: "f"})
	assert.ErrorIs(t, err, ErrStopped)
}
