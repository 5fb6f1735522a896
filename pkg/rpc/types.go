// Package rpc holds the wire types of the node's HTTP APIs and the clients
// that speak them.
package rpc

import (
	"slices"
	"strings"

	"edgemesh/pkg/routing"
)

// Action selects the mutation of a control request.
type Action string

const (
	ActionChange Action = "change"
	ActionRemove Action = "remove"
	ActionFlush  Action = "flush"
	ActionReset  Action = "reset"
)

// ConfigureRequest is the body of POST /api/table.
type ConfigureRequest struct {
	Action      Action  `json:"action"`
	Function    string  `json:"function,omitempty"`
	Destination string  `json:"destination,omitempty"`
	Weight      float64 `json:"weight,omitempty"`
	Final       bool    `json:"final,omitempty"`
}

// TableEntry is one (function, destination) row of a routing table.
type TableEntry struct {
	Function    string  `json:"function"`
	Destination string  `json:"destination"`
	Weight      float64 `json:"weight"`
	Final       bool    `json:"final"`
}

type TableCount struct {
	Count int `json:"count"`
}

// UtilMessage is one line of the utilization stream.
type UtilMessage struct {
	Values map[string]float64 `json:"values"`
}

// envelope mirrors the JSON response of every API call.
type envelope struct {
	Status string `json:"status,omitempty"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Entries flattens snap into rows ordered by function, then destination.
func Entries(snap routing.Snapshot) []TableEntry {
	out := make([]TableEntry, 0, len(snap))
	for fn, dests := range snap {
		for dest, r := range dests {
			out = append(out, TableEntry{Function: fn, Destination: dest, Weight: r.Weight, Final: r.Final})
		}
	}
	slices.SortFunc(out, func(a, b TableEntry) int {
		if c := strings.Compare(a.Function, b.Function); c != 0 {
			return c
		}
		return strings.Compare(a.Destination, b.Destination)
	})
	return out
}

// Snapshot rebuilds a table snapshot from its rows.
func Snapshot(entries []TableEntry) routing.Snapshot {
	snap := make(routing.Snapshot)
	for _, e := range entries {
		dests, ok := snap[e.Function]
		if !ok {
			dests = make(map[string]routing.Route)
			snap[e.Function] = dests
		}
		dests[e.Destination] = routing.Route{Weight: e.Weight, Final: e.Final}
	}
	return snap
}
