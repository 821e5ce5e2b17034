package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Metric names understood by thresholds.
const (
	MetricReqDuration = "http_req_duration"
	MetricReqFailed   = "http_req_failed"
	MetricReqs        = "http_reqs"
	MetricChecks      = "checks"
	MetricIterations  = "iterations"
)

type metricKind int

const (
	kindTrend metricKind = iota
	kindRate
	kindCounter
)

var metricKinds = map[string]metricKind{
	MetricReqDuration: kindTrend,
	MetricReqFailed:   kindRate,
	MetricReqs:        kindCounter,
	MetricChecks:      kindRate,
	MetricIterations:  kindCounter,
}

// Threshold is one pass/fail criterion such as
// `http_req_duration{endpoint:lookup}` with `p(95)<1000`. Durations are
// compared in milliseconds.
type Threshold struct {
	Key        string
	Expression string
	Metric     string
	Filter     map[string]string

	agg   string
	p     float64
	op    string
	value float64
}

// ThresholdResult is the evaluation of a Threshold at the end of a run.
type ThresholdResult struct {
	Threshold Threshold
	Observed  float64
	OK        bool
}

// ParseThresholds parses a metric-key to expressions map. Keys are visited
// in sorted order so results are stable.
func ParseThresholds(raw map[string][]string) ([]Threshold, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		out  []Threshold
		errs *multierror.Error
	)
	for _, key := range keys {
		metric, filter, err := parseMetricKey(key)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		for _, expr := range raw[key] {
			t, err := parseExpression(metric, expr)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			t.Key = key
			t.Filter = filter
			out = append(out, t)
		}
	}
	return out, errs.ErrorOrNil()
}

func parseMetricKey(key string) (string, map[string]string, error) {
	key = strings.TrimSpace(key)
	name, rest, hasFilter := strings.Cut(key, "{")
	name = strings.TrimSpace(name)
	if _, ok := metricKinds[name]; !ok {
		return "", nil, fmt.Errorf("unknown metric %q", name)
	}
	if !hasFilter {
		return name, nil, nil
	}
	body, ok := strings.CutSuffix(rest, "}")
	if !ok {
		return "", nil, fmt.Errorf("%s: missing closing brace", key)
	}
	filter := make(map[string]string)
	for _, pair := range strings.Split(body, ",") {
		k, v, ok := strings.Cut(pair, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return "", nil, fmt.Errorf("%s: tag filter %q must be key:value", key, pair)
		}
		if name == MetricChecks && k != "check" {
			return "", nil, fmt.Errorf("%s: checks only filter on check, not %q", key, k)
		}
		filter[k] = strings.TrimSpace(v)
	}
	return name, filter, nil
}

func parseExpression(metric, expr string) (Threshold, error) {
	t := Threshold{Metric: metric, Expression: expr}
	idx := strings.IndexAny(expr, "<>=!")
	if idx <= 0 {
		return t, fmt.Errorf("expression %q has no comparison", expr)
	}
	opLen := 1
	if idx+1 < len(expr) && expr[idx+1] == '=' {
		opLen = 2
	}
	t.op = expr[idx : idx+opLen]
	if t.op == "=" || t.op == "!" {
		return t, fmt.Errorf("expression %q: unsupported operator %q", expr, t.op)
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(expr[idx+opLen:]), 64)
	if err != nil {
		return t, fmt.Errorf("expression %q: invalid value: %w", expr, err)
	}
	t.value = v

	agg := strings.TrimSpace(expr[:idx])
	kind := metricKinds[metric]
	switch {
	case strings.HasPrefix(agg, "p(") && strings.HasSuffix(agg, ")"):
		p, err := strconv.ParseFloat(agg[2:len(agg)-1], 64)
		if err != nil || p < 0 || p > 100 {
			return t, fmt.Errorf("expression %q: invalid percentile", expr)
		}
		t.agg, t.p = "p", p
	case agg == "avg" || agg == "min" || agg == "max" || agg == "med":
		t.agg = agg
	case agg == "rate" && kind == kindRate:
		t.agg = agg
	case agg == "count" && kind == kindCounter:
		t.agg = agg
	default:
		return t, fmt.Errorf("expression %q: aggregation %q not valid for %s", expr, agg, metric)
	}
	if (t.agg == "p" || t.agg == "avg" || t.agg == "min" || t.agg == "max" || t.agg == "med") && kind != kindTrend {
		return t, fmt.Errorf("expression %q: aggregation %q not valid for %s", expr, agg, metric)
	}
	return t, nil
}

// Evaluate computes the observed value from m and compares it.
func (t Threshold) Evaluate(m *Metrics) ThresholdResult {
	observed := t.observe(m)
	return ThresholdResult{Threshold: t, Observed: observed, OK: compare(observed, t.op, t.value)}
}

func (t Threshold) observe(m *Metrics) float64 {
	switch t.Metric {
	case MetricReqDuration:
		d := m.Durations(t.Filter)
		if len(d) == 0 {
			return 0
		}
		switch t.agg {
		case "p":
			return ms(percentile(d, t.p))
		case "avg":
			return ms(avgDuration(d))
		case "min":
			return ms(d[0])
		case "max":
			return ms(d[len(d)-1])
		case "med":
			return ms(percentile(d, 50))
		}
	case MetricReqFailed:
		failed, total := m.FailedRequests(t.Filter)
		if total == 0 {
			return 0
		}
		return float64(failed) / float64(total)
	case MetricReqs:
		_, total := m.FailedRequests(t.Filter)
		return float64(total)
	case MetricChecks:
		passes, fails := m.CheckCounts(t.Filter["check"])
		if passes+fails == 0 {
			return 0
		}
		return float64(passes) / float64(passes+fails)
	case MetricIterations:
		return float64(m.Iterations())
	}
	return 0
}

func compare(observed float64, op string, value float64) bool {
	switch op {
	case "<":
		return observed < value
	case "<=":
		return observed <= value
	case ">":
		return observed > value
	case ">=":
		return observed >= value
	case "==":
		return observed == value
	case "!=":
		return observed != value
	}
	return false
}
