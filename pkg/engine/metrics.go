package engine

import (
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// -------------------------------------------------------------
// Metrics: in-memory aggregation of samples and checks
// -------------------------------------------------------------

type point struct {
	name     string
	duration time.Duration
	failed   bool
	tags     map[string]string
}

type checkCounter struct {
	passes int64
	fails  int64
}

// Metrics aggregates every sample and check of a run and fans them out to
// observers. It is safe for concurrent use by all VUs.
type Metrics struct {
	mu         sync.Mutex
	points     []point
	checks     map[string]*checkCounter
	checkOrder []string

	iterations atomic.Int64
	active     atomic.Int32

	observers []Observer
}

// NewMetrics creates an aggregator forwarding to the given observers.
func NewMetrics(observers ...Observer) *Metrics {
	return &Metrics{
		points:    make([]point, 0, 4096),
		checks:    make(map[string]*checkCounter),
		observers: observers,
	}
}

// AddObserver registers o. It must be called before the run starts.
func (m *Metrics) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// Sample records one request timing.
func (m *Metrics) Sample(s Sample) {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}
	tags := make(map[string]string, len(s.Tags)+3)
	for k, v := range s.Tags {
		tags[k] = v
	}
	if _, ok := tags[TagName]; !ok {
		tags[TagName] = s.Name
	}
	tags[TagMethod] = s.Method
	tags[TagStatus] = strconv.Itoa(s.Status)
	s.Tags = tags

	m.mu.Lock()
	m.points = append(m.points, point{
		name:     s.Name,
		duration: s.Duration,
		failed:   s.Failed(),
		tags:     tags,
	})
	m.mu.Unlock()

	for _, o := range m.observers {
		o.ObserveSample(s)
	}
}

// Check records the outcome of a named assertion and returns ok, so it can
// be used inline like `if !m.Check(vu, "x", cond) { ... }`.
func (m *Metrics) Check(vu VU, name string, ok bool) bool {
	m.mu.Lock()
	c, found := m.checks[name]
	if !found {
		c = &checkCounter{}
		m.checks[name] = c
		m.checkOrder = append(m.checkOrder, name)
	}
	if ok {
		c.passes++
	} else {
		c.fails++
	}
	m.mu.Unlock()

	ck := Check{Time: time.Now(), VU: vu.ID, Iter: vu.Iteration, Name: name, OK: ok}
	for _, o := range m.observers {
		o.ObserveCheck(ck)
	}
	return ok
}

func (m *Metrics) setActiveVUs(n int) {
	if int(m.active.Swap(int32(n))) == n {
		return
	}
	for _, o := range m.observers {
		o.ObserveVUs(n)
	}
}

// ActiveVUs is the number of VUs currently running iterations.
func (m *Metrics) ActiveVUs() int {
	return int(m.active.Load())
}

func (m *Metrics) iterationDone() {
	m.iterations.Add(1)
}

// Iterations is the number of completed iterations.
func (m *Metrics) Iterations() int64 {
	return m.iterations.Load()
}

// -------------------------------------------------------------
// Queries used by thresholds and the summary
// -------------------------------------------------------------

func matches(tags, filter map[string]string) bool {
	for k, v := range filter {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// Durations returns the sorted durations of samples whose tags contain
// every pair of filter.
func (m *Metrics) Durations(filter map[string]string) []time.Duration {
	m.mu.Lock()
	out := make([]time.Duration, 0, len(m.points))
	for _, p := range m.points {
		if matches(p.tags, filter) {
			out = append(out, p.duration)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FailedRequests returns the number of failed and total samples matching filter.
func (m *Metrics) FailedRequests(filter map[string]string) (failed, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.points {
		if !matches(p.tags, filter) {
			continue
		}
		total++
		if p.failed {
			failed++
		}
	}
	return failed, total
}

// CheckCounts returns passes and fails, for one check when name is not empty
// or across all checks otherwise.
func (m *Metrics) CheckCounts(name string) (passes, fails int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for n, c := range m.checks {
		if name != "" && n != name {
			continue
		}
		passes += c.passes
		fails += c.fails
	}
	return passes, fails
}

// -------------------------------------------------------------
// Helpers
// -------------------------------------------------------------

func avgDuration(durations []time.Duration) time.Duration {
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	if len(durations) == 0 {
		return 0
	}
	return sum / time.Duration(len(durations))
}

// percentile expects sorted input. It picks the nearest-rank sample at
// index n*p/100 without interpolation, so with 20 samples or fewer p(95) is
// the maximum.
func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	k := int(float64(len(durations)) * p / 100.0)
	if k >= len(durations) {
		k = len(durations) - 1
	}
	return durations[k]
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
