package routing

import (
	"io"
	"sort"
	"strconv"
	"strings"
)

// FormatWeight renders a weight in its shortest form, e.g. "1" or "2.5".
func FormatWeight(w float64) string {
	return strconv.FormatFloat(w, 'g', -1, 64)
}

// Dump writes the canonical text rendering of snap to w: one line per
// (function, destination) pair, functions and endpoints in sorted order.
//
//	f1 [1  ] d1
//	f2 [2.5] d2 (F)
func Dump(w io.Writer, snap Snapshot) error {
	_, err := io.WriteString(w, Format(snap))
	return err
}

// Format returns the text produced by Dump.
func Format(snap Snapshot) string {
	functions := make([]string, 0, len(snap))
	maxName, maxWeight := 0, 0
	for fn, routes := range snap {
		functions = append(functions, fn)
		maxName = max(maxName, len(fn))
		for _, r := range routes {
			maxWeight = max(maxWeight, len(FormatWeight(r.Weight)))
		}
	}
	sort.Strings(functions)

	var b strings.Builder
	for _, fn := range functions {
		routes := snap[fn]
		endpoints := make([]string, 0, len(routes))
		for ep := range routes {
			endpoints = append(endpoints, ep)
		}
		sort.Strings(endpoints)

		for i, ep := range endpoints {
			if i == 0 {
				b.WriteString(fn)
				b.WriteString(strings.Repeat(" ", maxName-len(fn)))
			} else {
				b.WriteString(strings.Repeat(" ", maxName))
			}

			r := routes[ep]
			weight := FormatWeight(r.Weight)
			b.WriteString(" [")
			b.WriteString(weight)
			b.WriteString(strings.Repeat(" ", maxWeight-len(weight)))
			b.WriteString("] ")
			b.WriteString(ep)
			if r.Final {
				b.WriteString(" (F)")
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
