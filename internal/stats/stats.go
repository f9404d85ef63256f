package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// WindowSize is the number of per-second throughput samples retained.
const WindowSize = 60

// Observer receives every recorded result and throughput sample, e.g. to
// export them as metrics. Observers are called outside the aggregator lock.
type Observer interface {
	Observe(r Result)
	ObserveThroughput(opsPerSecond uint64)
}

type kindStats struct {
	durations []time.Duration
	success   int
	errors    int
	hist      *SafeHistogram
}

// Aggregator accumulates Results recorded concurrently by workers.
type Aggregator struct {
	mu      sync.Mutex
	kinds   map[Kind]*kindStats
	results []Result
	window  []uint64
	peak    uint64

	// Operations completed in the current sampling second.
	current atomic.Uint64

	// Running totals for progress reporting without taking the lock.
	Requests atomic.Uint64
	Success  atomic.Uint64
	Fail     atomic.Uint64

	observers []Observer
}

func NewAggregator(observers ...Observer) *Aggregator {
	a := &Aggregator{observers: observers}
	a.Reset()
	return a
}

// Reset discards everything recorded so far.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kinds = make(map[Kind]*kindStats)
	a.results = nil
	a.window = make([]uint64, 0, WindowSize)
	a.peak = 0
	a.current.Store(0)
	a.Requests.Store(0)
	a.Success.Store(0)
	a.Fail.Store(0)
}

// Record is the single mutation entry point. Only successful attempts
// contribute a duration.
func (a *Aggregator) Record(r Result) {
	a.mu.Lock()
	ks, ok := a.kinds[r.Kind]
	if !ok {
		ks = &kindStats{hist: NewSafeHistogram()}
		a.kinds[r.Kind] = ks
	}
	if r.Success {
		ks.durations = append(ks.durations, r.Duration)
		ks.success++
		ks.hist.RecordDuration(r.Duration)
	} else {
		ks.errors++
	}
	a.results = append(a.results, r)
	a.mu.Unlock()

	a.Requests.Add(1)
	if r.Success {
		a.Success.Add(1)
		if !r.Kind.connection() {
			a.current.Add(1)
		}
	} else {
		a.Fail.Add(1)
	}

	for _, o := range a.observers {
		o.Observe(r)
	}
}

// Sample closes the current one-second bucket: it appends the bucket to the
// rolling window, evicting the oldest sample when full, resets the counter
// and updates the peak. It returns the captured value.
func (a *Aggregator) Sample() uint64 {
	v := a.current.Swap(0)

	a.mu.Lock()
	if len(a.window) == WindowSize {
		copy(a.window, a.window[1:])
		a.window = a.window[:WindowSize-1]
	}
	a.window = append(a.window, v)
	if v > a.peak {
		a.peak = v
	}
	a.mu.Unlock()

	for _, o := range a.observers {
		o.ObserveThroughput(v)
	}
	return v
}

// RecentAverage returns the mean of the last n throughput samples.
func (a *Aggregator) RecentAverage(n int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n > len(a.window) {
		n = len(a.window)
	}
	if n == 0 {
		return 0
	}
	var sum uint64
	for _, v := range a.window[len(a.window)-n:] {
		sum += v
	}
	return float64(sum) / float64(n)
}

// Peak returns the highest per-second sample seen so far.
func (a *Aggregator) Peak() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peak
}

// P99 returns the 99th percentile of successful durations for kind.
func (a *Aggregator) P99(kind Kind) time.Duration {
	a.mu.Lock()
	ks, ok := a.kinds[kind]
	a.mu.Unlock()
	if !ok || ks.hist.TotalCount() == 0 {
		return 0
	}
	return ks.hist.Quantile(99)
}

// KindStats is the frozen state of a single operation kind.
type KindStats struct {
	Durations []time.Duration
	Success   int
	Errors    int
}

// Snapshot is a deep copy of the aggregator state, safe to read after the
// run ends while the aggregator is reused.
type Snapshot struct {
	Kinds      map[Kind]KindStats
	Results    []Result
	Throughput []uint64
	Peak       uint64
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		Kinds:      make(map[Kind]KindStats, len(a.kinds)),
		Results:    append([]Result(nil), a.results...),
		Throughput: append([]uint64(nil), a.window...),
		Peak:       a.peak,
	}
	for k, ks := range a.kinds {
		s.Kinds[k] = KindStats{
			Durations: append([]time.Duration(nil), ks.durations...),
			Success:   ks.success,
			Errors:    ks.errors,
		}
	}
	return s
}

// SortedKinds returns the recorded kinds in lexical order.
func (s Snapshot) SortedKinds() []Kind {
	kinds := make([]Kind, 0, len(s.Kinds))
	for k := range s.Kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
