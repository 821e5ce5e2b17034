package recorder

import (
	"time"

	"posload/pkg/engine"
)

// RecordedRequest is what we keep of every sample.
type RecordedRequest struct {
	Timestamp time.Time `yaml:"timestamp"`
	VU        int       `yaml:"vu"`
	Iteration int64     `yaml:"iter"`
	Name      string    `yaml:"name"`
	Endpoint  string    `yaml:"endpoint,omitempty"`
	Method    string    `yaml:"method"`
	URL       string    `yaml:"url"`
	Status    int       `yaml:"status"`
	LatencyMs float64   `yaml:"latency_ms"`
	Err       string    `yaml:"err,omitempty"`
}

// RecordedCheck is one check outcome.
type RecordedCheck struct {
	Timestamp time.Time `yaml:"timestamp"`
	VU        int       `yaml:"vu"`
	Iteration int64     `yaml:"iter"`
	Name      string    `yaml:"name"`
	OK        bool      `yaml:"ok"`
}

// RampPoint marks a change of the active VU count.
type RampPoint struct {
	Timestamp time.Time `yaml:"timestamp"`
	Active    int       `yaml:"active"`
}

// RecordedThreshold is the verdict of one threshold expression.
type RecordedThreshold struct {
	Metric     string  `yaml:"metric"`
	Expression string  `yaml:"expression"`
	Observed   float64 `yaml:"observed"`
	OK         bool    `yaml:"ok"`
}

// Session is the layout of a results file.
type Session struct {
	Version     string              `yaml:"version"`
	Journey     string              `yaml:"journey"`
	RunID       string              `yaml:"run_id"`
	Started     time.Time           `yaml:"started"`
	Elapsed     string              `yaml:"elapsed"`
	Iterations  int64               `yaml:"iterations"`
	MaxVUs      int                 `yaml:"max_vus"`
	Interrupted bool                `yaml:"interrupted,omitempty"`
	Passed      bool                `yaml:"passed"`
	Summary     *engine.Summary     `yaml:"summary"`
	Thresholds  []RecordedThreshold `yaml:"thresholds,omitempty"`
	Ramp        []RampPoint         `yaml:"ramp,omitempty"`
	Checks      []RecordedCheck     `yaml:"checks,omitempty"`
	Requests    []RecordedRequest   `yaml:"requests,omitempty"`
}
