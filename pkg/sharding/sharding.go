// Package sharding keeps N replicas of one logical routing table, one per
// dispatch worker. Reads are pinned to a shard and never take a lock; writes
// are fanned out to every shard and return only once all shards publish the
// new content. Writes are applied one at a time, in the same order on every
// shard.
package sharding

import (
	"fmt"
	"sync"
	"sync/atomic"

	"edgemesh/pkg/fabricerr"
	"edgemesh/pkg/routing"

	"golang.org/x/sync/errgroup"
)

type shard struct {
	mu    sync.Mutex // serializes writers of this shard
	table atomic.Pointer[routing.Table]
}

// apply runs op on a private copy and publishes it, so readers see either
// the old or the new table and never a partial update.
func (s *shard) apply(op func(*routing.Table) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.table.Load().Clone()
	if err := op(next); err != nil {
		return err
	}
	s.table.Store(next)
	return nil
}

// Set is a fixed-size array of routing table replicas.
type Set struct {
	writeMu sync.Mutex // orders writes; readers never take it
	shards  []*shard
}

// New creates a set of n empty shards using the given policy.
func New(n int, policy routing.Policy) (*Set, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: shard count must be positive, got %d", fabricerr.ErrConfiguration, n)
	}

	s := &Set{shards: make([]*shard, n)}
	for i := range s.shards {
		sh := &shard{}
		sh.table.Store(routing.NewTable(policy))
		s.shards[i] = sh
	}
	return s, nil
}

// NumShards returns the number of replicas.
func (s *Set) NumShards() int {
	return len(s.shards)
}

// Read returns the current table of shard i. The returned table must be
// treated as read-only.
func (s *Set) Read(i int) *routing.Table {
	return s.shards[s.index(i)].table.Load()
}

// Select picks a destination for function using shard i.
func (s *Set) Select(i int, function string, rnd routing.RandFunc) (routing.Destination, error) {
	return s.Read(i).Select(function, rnd)
}

// Snapshot returns the content of the logical table.
func (s *Set) Snapshot() routing.Snapshot {
	return s.Read(0).Full()
}

// Functions returns the function names of the logical table.
func (s *Set) Functions() []string {
	return s.Read(0).Functions()
}

func (s *Set) index(i int) int {
	return int(uint(i) % uint(len(s.shards)))
}

// Change adds or updates a route on every shard.
func (s *Set) Change(function, destination string, weight float64, final bool) error {
	if err := routing.ValidateChange(function, destination, weight); err != nil {
		return err
	}
	return s.writeAll(func(t *routing.Table) error {
		return t.Change(function, destination, weight, final)
	})
}

// Multiply scales the weight of an existing route on every shard.
func (s *Set) Multiply(function, destination string, factor float64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// check on a scratch copy first so that a rejected factor touches no shard
	if err := s.Read(0).Clone().Multiply(function, destination, factor); err != nil {
		return err
	}
	return s.fanOut(func(t *routing.Table) error {
		return t.Multiply(function, destination, factor)
	})
}

// Remove deletes a route from every shard. Missing routes are ignored.
func (s *Set) Remove(function, destination string) error {
	return s.writeAll(func(t *routing.Table) error {
		t.Remove(function, destination)
		return nil
	})
}

// RemoveFunction deletes all routes of function from every shard.
func (s *Set) RemoveFunction(function string) error {
	return s.writeAll(func(t *routing.Table) error {
		t.RemoveFunction(function)
		return nil
	})
}

// Flush deletes every route from every shard.
func (s *Set) Flush() error {
	return s.writeAll(func(t *routing.Table) error {
		t.Flush()
		return nil
	})
}

// ResetAll sets every weight to 1.0 on every shard. Each shard resets its own
// copy of a (function, destination) pair exactly once, so the operation is
// idempotent per pair.
func (s *Set) ResetAll() error {
	return s.writeAll(func(t *routing.Table) error {
		t.Reset()
		return nil
	})
}

// writeAll applies op to every shard. Only one write runs at a time.
func (s *Set) writeAll(op func(*routing.Table) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.fanOut(op)
}

// fanOut applies op to every shard in parallel, each under its own lock.
// Callers hold writeMu.
func (s *Set) fanOut(op func(*routing.Table) error) error {
	var g errgroup.Group
	for i, sh := range s.shards {
		g.Go(func() error {
			if err := sh.apply(op); err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
