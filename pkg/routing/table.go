package routing

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"edgemesh/pkg/fabricerr"
)

// Route is the forwarding entry of one (function, destination) pair.
type Route struct {
	Weight float64 `json:"weight"`
	Final  bool    `json:"final"`
}

// Destination is a route together with the endpoint it points to.
type Destination struct {
	Endpoint string `json:"destination"`
	Route
}

// Snapshot is a plain copy of a table: function -> endpoint -> route.
type Snapshot map[string]map[string]Route

// Table maps function names to their destinations, kept sorted by endpoint.
//
// Table is not safe for concurrent use. Destination slices are never modified
// in place once stored, so Clone only needs to copy the top-level map.
type Table struct {
	policy  Policy
	entries map[string][]Destination
}

// NewTable creates an empty table using the given selection policy.
func NewTable(policy Policy) *Table {
	return &Table{
		policy:  policy,
		entries: make(map[string][]Destination),
	}
}

// Policy returns the selection policy of the table.
func (t *Table) Policy() Policy {
	return t.policy
}

// Clone returns an independent copy of the table.
func (t *Table) Clone() *Table {
	entries := make(map[string][]Destination, len(t.entries))
	for fn, dests := range t.entries {
		entries[fn] = dests
	}
	return &Table{policy: t.policy, entries: entries}
}

// ValidateChange checks the arguments of Change without touching any table.
func ValidateChange(function, destination string, weight float64) error {
	if err := validatePair(function, destination); err != nil {
		return err
	}
	return validateWeight(weight)
}

func validatePair(function, destination string) error {
	if function == "" {
		return fmt.Errorf("%w: empty function name", fabricerr.ErrConfiguration)
	}
	if destination == "" {
		return fmt.Errorf("%w: empty destination for function %q", fabricerr.ErrConfiguration, function)
	}
	return nil
}

func validateWeight(weight float64) error {
	if weight <= 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: %v, must be > 0", fabricerr.ErrInvalidWeight, weight)
	}
	return nil
}

// Change adds a destination for function or updates its weight and flag.
func (t *Table) Change(function, destination string, weight float64, final bool) error {
	if err := ValidateChange(function, destination, weight); err != nil {
		return err
	}

	dests := t.entries[function]
	i, found := search(dests, destination)
	entry := Destination{Endpoint: destination, Route: Route{Weight: weight, Final: final}}

	var updated []Destination
	if found {
		updated = slices.Clone(dests)
		updated[i] = entry
	} else {
		updated = make([]Destination, 0, len(dests)+1)
		updated = append(updated, dests[:i]...)
		updated = append(updated, entry)
		updated = append(updated, dests[i:]...)
	}
	t.entries[function] = updated
	return nil
}

// ChangeWeight updates the weight of an existing destination, keeping its flag.
func (t *Table) ChangeWeight(function, destination string, weight float64) error {
	if err := ValidateChange(function, destination, weight); err != nil {
		return err
	}
	return t.update(function, destination, func(r Route) Route {
		r.Weight = weight
		return r
	})
}

// Multiply scales the weight of an existing destination by factor.
func (t *Table) Multiply(function, destination string, factor float64) error {
	if err := validatePair(function, destination); err != nil {
		return err
	}
	if err := validateWeight(factor); err != nil {
		return fmt.Errorf("weight factor: %w", err)
	}

	dests := t.entries[function]
	i, found := search(dests, destination)
	if !found {
		return fmt.Errorf("%w: function %q has no destination %q", fabricerr.ErrNoRoute, function, destination)
	}
	if err := validateWeight(dests[i].Weight * factor); err != nil {
		return err
	}
	return t.update(function, destination, func(r Route) Route {
		r.Weight *= factor
		return r
	})
}

func (t *Table) update(function, destination string, fn func(Route) Route) error {
	dests := t.entries[function]
	i, found := search(dests, destination)
	if !found {
		return fmt.Errorf("%w: function %q has no destination %q", fabricerr.ErrNoRoute, function, destination)
	}
	updated := slices.Clone(dests)
	updated[i].Route = fn(updated[i].Route)
	t.entries[function] = updated
	return nil
}

// Remove deletes one destination of function. It reports whether an entry
// was actually removed; removing a missing entry is not an error.
func (t *Table) Remove(function, destination string) bool {
	dests := t.entries[function]
	i, found := search(dests, destination)
	if !found {
		return false
	}
	if len(dests) == 1 {
		delete(t.entries, function)
		return true
	}
	updated := make([]Destination, 0, len(dests)-1)
	updated = append(updated, dests[:i]...)
	updated = append(updated, dests[i+1:]...)
	t.entries[function] = updated
	return true
}

// RemoveFunction deletes every destination of function.
func (t *Table) RemoveFunction(function string) bool {
	if _, ok := t.entries[function]; !ok {
		return false
	}
	delete(t.entries, function)
	return true
}

// Flush deletes all entries.
func (t *Table) Flush() {
	t.entries = make(map[string][]Destination)
}

// Reset sets every weight to 1.0, keeping destinations and final flags.
func (t *Table) Reset() {
	for fn, dests := range t.entries {
		updated := slices.Clone(dests)
		for i := range updated {
			updated[i].Weight = 1.0
		}
		t.entries[fn] = updated
	}
}

// Select picks a destination for function according to the table policy.
func (t *Table) Select(function string, rnd RandFunc) (Destination, error) {
	dests := t.entries[function]
	if len(dests) == 0 {
		return Destination{}, fmt.Errorf("%w: %q", fabricerr.ErrNoRoute, function)
	}
	if t.policy == PolicyLeastImpedance {
		return SelectLeast(dests), nil
	}
	if rnd == nil {
		rnd = DefaultRand
	}
	return SelectWeighted(dests, rnd()), nil
}

// Functions returns the function names in sorted order.
func (t *Table) Functions() []string {
	names := make([]string, 0, len(t.entries))
	for fn := range t.entries {
		names = append(names, fn)
	}
	sort.Strings(names)
	return names
}

// Destinations returns a copy of the destinations of function, sorted by endpoint.
func (t *Table) Destinations(function string) []Destination {
	return slices.Clone(t.entries[function])
}

// Len returns the number of (function, destination) pairs.
func (t *Table) Len() int {
	n := 0
	for _, dests := range t.entries {
		n += len(dests)
	}
	return n
}

// Full returns a copy of the whole table.
func (t *Table) Full() Snapshot {
	snap := make(Snapshot, len(t.entries))
	for fn, dests := range t.entries {
		routes := make(map[string]Route, len(dests))
		for _, d := range dests {
			routes[d.Endpoint] = d.Route
		}
		snap[fn] = routes
	}
	return snap
}

func search(dests []Destination, endpoint string) (int, bool) {
	return slices.BinarySearchFunc(dests, endpoint, func(d Destination, target string) int {
		return strings.Compare(d.Endpoint, target)
	})
}
