package recorder

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"posload/pkg/engine"
)

const sessionVersion = "1.0"

// -------------------------------------------------------------
// Recorder: keeps every sample of a run and writes it as YAML
// -------------------------------------------------------------
type Recorder struct {
	Journey string
	OutDir  string

	fs       afero.Fs
	mu       sync.Mutex
	requests []RecordedRequest
	checks   []RecordedCheck
	ramp     []RampPoint
}

// New creates a Recorder writing into outDir on fs. A nil fs means the OS
// filesystem.
func New(fs afero.Fs, outDir, journey string) *Recorder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Recorder{
		Journey:  journey,
		OutDir:   outDir,
		fs:       fs,
		requests: make([]RecordedRequest, 0, 256),
	}
}

func (r *Recorder) ObserveSample(s engine.Sample) {
	rec := RecordedRequest{
		Timestamp: s.Time,
		VU:        s.VU,
		Iteration: s.Iter,
		Name:      s.Name,
		Endpoint:  s.Tags[engine.TagEndpoint],
		Method:    s.Method,
		URL:       s.URL,
		Status:    s.Status,
		LatencyMs: float64(s.Duration.Microseconds()) / 1000,
	}
	if s.Err != nil {
		rec.Err = s.Err.Error()
	}

	r.mu.Lock()
	r.requests = append(r.requests, rec)
	r.mu.Unlock()
}

func (r *Recorder) ObserveCheck(c engine.Check) {
	r.mu.Lock()
	r.checks = append(r.checks, RecordedCheck{
		Timestamp: c.Time,
		VU:        c.VU,
		Iteration: c.Iter,
		Name:      c.Name,
		OK:        c.OK,
	})
	r.mu.Unlock()
}

func (r *Recorder) ObserveVUs(active int) {
	r.mu.Lock()
	r.ramp = append(r.ramp, RampPoint{Timestamp: time.Now(), Active: active})
	r.mu.Unlock()
}

// Len returns the number of recorded requests.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// Session snapshots everything recorded so far together with the summary.
func (r *Recorder) Session(summary *engine.Summary) Session {
	r.mu.Lock()
	s := Session{
		Version:  sessionVersion,
		Journey:  r.Journey,
		Requests: append([]RecordedRequest(nil), r.requests...),
		Checks:   append([]RecordedCheck(nil), r.checks...),
		Ramp:     append([]RampPoint(nil), r.ramp...),
	}
	r.mu.Unlock()

	if summary == nil {
		return s
	}
	res := summary.Result
	s.RunID = res.RunID
	s.Started = res.Started
	s.Elapsed = res.Elapsed.Round(time.Millisecond).String()
	s.Iterations = res.Iterations
	s.MaxVUs = res.MaxVUs
	s.Interrupted = res.Interrupted
	s.Passed = summary.Passed()
	s.Summary = summary
	for _, t := range summary.Thresholds {
		s.Thresholds = append(s.Thresholds, RecordedThreshold{
			Metric:     t.Threshold.Key,
			Expression: t.Threshold.Expression,
			Observed:   t.Observed,
			OK:         t.OK,
		})
	}
	return s
}

// -------------------------------------------------------------
// WriteYAML writes results_<journey>_<ts>.posload.yaml and returns its path
// -------------------------------------------------------------
func (r *Recorder) WriteYAML(summary *engine.Summary) (string, error) {
	session := r.Session(summary)
	if len(session.Requests) == 0 {
		log.Println("[RECORDER] ⚠️ No requests recorded, results file will hold the summary only.")
	}

	dir := r.OutDir
	if dir == "" {
		dir = "."
	}
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	stamp := time.Now()
	if !session.Started.IsZero() {
		stamp = session.Started
	}
	filename := filepath.Join(dir, fmt.Sprintf("results_%s_%s.posload.yaml",
		sanitizeName(r.Journey), stamp.Format("2006-01-02_150405")))

	f, err := r.fs.Create(filename)
	if err != nil {
		return "", fmt.Errorf("create results file: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(session); err != nil {
		return "", fmt.Errorf("failed to write YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to write YAML: %w", err)
	}

	log.Printf("[RECORDER] ✅ %d requests saved to: %s\n", len(session.Requests), filename)
	return filename, nil
}

// ReadSession loads a results file written by WriteYAML.
func ReadSession(fs afero.Fs, path string) (Session, error) {
	var s Session
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return s, fmt.Errorf("cannot read results file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("invalid YAML format: %w", err)
	}
	return s, nil
}

func sanitizeName(s string) string {
	if s == "" {
		return "run"
	}
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
