package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type Counter struct {
	value uint64
}

func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *Counter) Add(n uint64) {
	atomic.AddUint64(&c.value, n)
}

func (c *Counter) Load() uint64 {
	return atomic.LoadUint64(&c.value)
}

type Timer struct {
	start time.Time
}

func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Latency keeps a count and running total of observed durations.
type Latency struct {
	count   Counter
	totalNs Counter
	maxNs   uint64
}

func (l *Latency) Observe(d time.Duration) {
	ns := uint64(d.Nanoseconds())
	l.count.Inc()
	l.totalNs.Add(ns)
	for {
		cur := atomic.LoadUint64(&l.maxNs)
		if ns <= cur || atomic.CompareAndSwapUint64(&l.maxNs, cur, ns) {
			return
		}
	}
}

type LatencySnapshot struct {
	Count  uint64  `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MaxMs  float64 `json:"max_ms"`
}

func (l *Latency) Snapshot() LatencySnapshot {
	n := l.count.Load()
	s := LatencySnapshot{Count: n, MaxMs: float64(atomic.LoadUint64(&l.maxNs)) / 1e6}
	if n > 0 {
		s.MeanMs = float64(l.totalNs.Load()) / float64(n) / 1e6
	}
	return s
}

// Registry hands out named counters and latencies.
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Counter
	latencies map[string]*Latency
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Counter),
		latencies: make(map[string]*Latency),
	}
}

func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c = &Counter{}
	r.counters[name] = c
	return c
}

func (r *Registry) Latency(name string) *Latency {
	r.mu.RLock()
	l, ok := r.latencies[name]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.latencies[name]; ok {
		return l
	}
	l = &Latency{}
	r.latencies[name] = l
	return l
}

type Snapshot struct {
	Counters  map[string]uint64          `json:"counters"`
	Latencies map[string]LatencySnapshot `json:"latencies"`
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		Counters:  make(map[string]uint64, len(r.counters)),
		Latencies: make(map[string]LatencySnapshot, len(r.latencies)),
	}
	for name, c := range r.counters {
		s.Counters[name] = c.Load()
	}
	for name, l := range r.latencies {
		s.Latencies[name] = l.Snapshot()
	}
	return s
}

// Names lists every registered counter, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
