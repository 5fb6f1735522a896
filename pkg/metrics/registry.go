package metrics

import (
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

type kind uint8

const (
	counterKind kind = iota
	gaugeKind
	histogramKind
)

type series struct {
	kind  kind
	value atomic.Uint64 // float64 bits; counter total or gauge value

	mu    sync.Mutex // histogram only
	count uint64
	sum   float64
}

// Registry is an in-memory Collector. Series are keyed by name and sorted
// labels, and rendered in the Prometheus text format.
type Registry struct {
	series *skipmap.StringMap[*series]
}

func NewRegistry() *Registry {
	return &Registry{series: skipmap.NewString[*series]()}
}

func (r *Registry) get(name string, labels map[string]string, k kind) *series {
	key := seriesKey(name, labels)
	s, _ := r.series.LoadOrStoreLazy(key, func() *series { return &series{kind: k} })
	return s
}

func (r *Registry) IncCounter(name string, labels map[string]string, delta float64) {
	s := r.get(name, labels, counterKind)
	for {
		old := s.value.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if s.value.CompareAndSwap(old, next) {
			return
		}
	}
}

func (r *Registry) SetGauge(name string, labels map[string]string, value float64) {
	r.get(name, labels, gaugeKind).value.Store(math.Float64bits(value))
}

func (r *Registry) ObserveHistogram(name string, labels map[string]string, value float64) {
	s := r.get(name, labels, histogramKind)
	s.mu.Lock()
	s.count++
	s.sum += value
	s.mu.Unlock()
}

// Value returns the current value of a counter or gauge.
func (r *Registry) Value(name string, labels map[string]string) (float64, bool) {
	s, ok := r.series.Load(seriesKey(name, labels))
	if !ok {
		return 0, false
	}
	return math.Float64frombits(s.value.Load()), true
}

// WriteText renders every series, one per line, in key order.
// Histograms are rendered as _count and _sum.
func (r *Registry) WriteText(w io.Writer) error {
	var err error
	r.series.Range(func(key string, s *series) bool {
		switch s.kind {
		case histogramKind:
			s.mu.Lock()
			count, sum := s.count, s.sum
			s.mu.Unlock()
			name, labels := splitKey(key)
			_, err = fmt.Fprintf(w, "%s_count%s %d\n%s_sum%s %g\n", name, labels, count, name, labels, sum)
		default:
			_, err = fmt.Fprintf(w, "%s %g\n", key, math.Float64frombits(s.value.Load()))
		}
		return err == nil
	})
	return err
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

func splitKey(key string) (string, string) {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		return key[:i], key[i:]
	}
	return key, ""
}
