package engine

import (
	"context"
	"time"
)

// -------------------------------------------------------------
// Per-iteration identity
// -------------------------------------------------------------

// VU identifies the virtual user running an iteration. ID is 1-based and
// Iteration is 0-based and counted per VU, so (ID, Iteration) is unique
// within a run.
type VU struct {
	RunID     string
	ID        int
	Iteration int64
}

// IterationFunc runs one journey iteration. It must return promptly once
// ctx is cancelled.
type IterationFunc func(ctx context.Context, vu VU)

// Stage is one step of the ramping schedule: the VU count moves linearly
// to Target over Duration.
type Stage struct {
	Duration time.Duration
	Target   int
}

// -------------------------------------------------------------
// Samples and checks
// -------------------------------------------------------------

// Tag keys set automatically on every sample.
const (
	TagName     = "name"
	TagMethod   = "method"
	TagStatus   = "status"
	TagEndpoint = "endpoint"
)

// Sample is the timing of one HTTP request.
type Sample struct {
	Time     time.Time
	VU       int
	Iter     int64
	Name     string
	Method   string
	URL      string
	Status   int
	Duration time.Duration
	Err      error
	Tags     map[string]string
}

// Failed follows the usual load-testing convention: transport errors and
// statuses >= 400 count as failed requests.
func (s Sample) Failed() bool {
	return s.Err != nil || s.Status >= 400
}

// Check is the outcome of one assertion.
type Check struct {
	Time time.Time
	VU   int
	Iter int64
	Name string
	OK   bool
}

// Event is the live record of one completed request or VU change, streamed
// to collectors.
type Event struct {
	Timestamp   time.Time `json:"ts"`
	Name        string    `json:"name"`
	Endpoint    string    `json:"endpoint,omitempty"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	Status      int       `json:"status"`
	LatencyMs   float64   `json:"latency_ms"`
	Err         string    `json:"err,omitempty"`
	Concurrency int       `json:"concurrency"`
	VU          int       `json:"vu,omitempty"`
	Iteration   int64     `json:"iter,omitempty"`
}

// Observer receives every sample, check and VU count change. Implementations
// must be safe for concurrent use.
type Observer interface {
	ObserveSample(Sample)
	ObserveCheck(Check)
	ObserveVUs(active int)
}
