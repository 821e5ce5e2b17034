package engine

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// RequestStat aggregates the samples sharing a request name.
type RequestStat struct {
	Name     string  `json:"name" yaml:"name"`
	Endpoint string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Count    int     `json:"count" yaml:"count"`
	Failures int     `json:"failures" yaml:"failures"`
	ErrRate  float64 `json:"err_rate" yaml:"err_rate"`
	AvgMs    float64 `json:"avg_ms" yaml:"avg_ms"`
	P90Ms    float64 `json:"p90_ms" yaml:"p90_ms"`
	P95Ms    float64 `json:"p95_ms" yaml:"p95_ms"`
	MaxMs    float64 `json:"max_ms" yaml:"max_ms"`
}

// CheckStat counts the outcomes of one named check.
type CheckStat struct {
	Name   string `json:"name" yaml:"name"`
	Passes int64  `json:"passes" yaml:"passes"`
	Fails  int64  `json:"fails" yaml:"fails"`
}

// Summary is the end-of-run report.
type Summary struct {
	Result        Result            `json:"-" yaml:"-"`
	Requests      []RequestStat     `json:"requests" yaml:"requests"`
	Checks        []CheckStat       `json:"checks" yaml:"checks"`
	Thresholds    []ThresholdResult `json:"-" yaml:"-"`
	TotalRequests int               `json:"requests_total" yaml:"requests_total"`
	TotalFailures int               `json:"failures_total" yaml:"failures_total"`
	AvgMs         float64           `json:"avg_ms" yaml:"avg_ms"`
	P95Ms         float64           `json:"p95_ms" yaml:"p95_ms"`
}

// Passed reports whether every threshold held.
func (s *Summary) Passed() bool {
	for _, t := range s.Thresholds {
		if !t.OK {
			return false
		}
	}
	return true
}

// FailedThresholds returns the thresholds that did not hold.
func (s *Summary) FailedThresholds() []ThresholdResult {
	var out []ThresholdResult
	for _, t := range s.Thresholds {
		if !t.OK {
			out = append(out, t)
		}
	}
	return out
}

type requestStat struct {
	endpoint  string
	latencies []time.Duration
	failures  int
}

// Summarize aggregates m and evaluates thresholds against it.
func Summarize(m *Metrics, res Result, thresholds []Threshold) *Summary {
	s := &Summary{Result: res}

	stats := make(map[string]*requestStat)
	var global []time.Duration

	m.mu.Lock()
	for _, p := range m.points {
		st, ok := stats[p.name]
		if !ok {
			st = &requestStat{endpoint: p.tags[TagEndpoint]}
			stats[p.name] = st
		}
		st.latencies = append(st.latencies, p.duration)
		if p.failed {
			st.failures++
		}
		global = append(global, p.duration)
	}
	for _, name := range m.checkOrder {
		c := m.checks[name]
		s.Checks = append(s.Checks, CheckStat{Name: name, Passes: c.passes, Fails: c.fails})
	}
	m.mu.Unlock()

	names := make([]string, 0, len(stats))
	for k := range stats {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		st := stats[name]
		sort.Slice(st.latencies, func(i, j int) bool { return st.latencies[i] < st.latencies[j] })
		count := len(st.latencies)
		s.Requests = append(s.Requests, RequestStat{
			Name:     name,
			Endpoint: st.endpoint,
			Count:    count,
			Failures: st.failures,
			ErrRate:  float64(st.failures) / float64(count) * 100,
			AvgMs:    ms(avgDuration(st.latencies)),
			P90Ms:    ms(percentile(st.latencies, 90)),
			P95Ms:    ms(percentile(st.latencies, 95)),
			MaxMs:    ms(st.latencies[count-1]),
		})
		s.TotalRequests += count
		s.TotalFailures += st.failures
	}

	sort.Slice(global, func(i, j int) bool { return global[i] < global[j] })
	s.AvgMs = ms(avgDuration(global))
	s.P95Ms = ms(percentile(global, 95))

	for _, t := range thresholds {
		s.Thresholds = append(s.Thresholds, t.Evaluate(m))
	}
	return s
}

// -------------------------------------------------------------
// Rendering
// -------------------------------------------------------------

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	return table
}

func f2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Render prints the summary tables to w.
func (s *Summary) Render(w io.Writer) {
	pass := color.New(color.FgGreen, color.Bold).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()

	if s.TotalRequests == 0 {
		fmt.Fprintln(w, "No requests executed.")
	} else {
		fmt.Fprintln(w, "\n--- PER REQUEST METRICS ---")
		table := newTable(w, []string{"Request", "Endpoint", "Count", "Fails", "Err(%)", "Avg(ms)", "P90(ms)", "P95(ms)", "Max(ms)"})
		for _, r := range s.Requests {
			table.Append([]string{
				r.Name, r.Endpoint, strconv.Itoa(r.Count), strconv.Itoa(r.Failures),
				f2(r.ErrRate), f2(r.AvgMs), f2(r.P90Ms), f2(r.P95Ms), f2(r.MaxMs),
			})
		}
		table.Render()
	}

	if len(s.Checks) > 0 {
		fmt.Fprintln(w, "\n--- CHECKS ---")
		table := newTable(w, []string{"Check", "Passes", "Fails", ""})
		for _, c := range s.Checks {
			mark := pass("✓")
			if c.Fails > 0 {
				mark = fail("✗")
			}
			table.Append([]string{c.Name, strconv.FormatInt(c.Passes, 10), strconv.FormatInt(c.Fails, 10), mark})
		}
		table.Render()
	}

	if len(s.Thresholds) > 0 {
		fmt.Fprintln(w, "\n--- THRESHOLDS ---")
		table := newTable(w, []string{"Metric", "Expression", "Observed", "Result"})
		for _, t := range s.Thresholds {
			verdict := pass("PASS")
			if !t.OK {
				verdict = fail("FAIL")
			}
			table.Append([]string{t.Threshold.Key, t.Threshold.Expression, f2(t.Observed), verdict})
		}
		table.Render()
	}

	fmt.Fprintln(w, "\n--- RESULTS ---")
	fmt.Fprintf(w, "Run: %s\n", s.Result.RunID)
	fmt.Fprintf(w, "Iterations: %d | Max VUs: %d | Elapsed: %s\n",
		s.Result.Iterations, s.Result.MaxVUs, s.Result.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Total Requests: %d\n", s.TotalRequests)
	fmt.Fprintf(w, "Failures: %d\n", s.TotalFailures)
	fmt.Fprintf(w, "Average Latency: %.2fms\n", s.AvgMs)
	fmt.Fprintf(w, "P95 Latency: %.2fms\n", s.P95Ms)
	fmt.Fprintln(w, "----------------")
}
