package recorder

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"posload/pkg/engine"
)

func TestRecorderWritesSession(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := New(fs, "out", "checkout")
	metrics := engine.NewMetrics(rec)

	vu := engine.VU{RunID: "run", ID: 2, Iteration: 4}
	metrics.Sample(engine.Sample{
		VU: 2, Iter: 4, Name: "lookup", Method: "GET", URL: "http://pos/api/catalog/products/search",
		Status: 200, Duration: 12500 * time.Microsecond,
		Tags: map[string]string{engine.TagEndpoint: "lookup"},
	})
	metrics.Sample(engine.Sample{
		VU: 2, Iter: 4, Name: "create cart", Method: "POST", URL: "http://pos/api/sales/carts",
		Duration: time.Second, Err: errors.New("connection refused"),
		Tags: map[string]string{engine.TagEndpoint: "cart"},
	})
	metrics.Check(vu, "create cart status 201", false)
	rec.ObserveVUs(3)

	ths, err := engine.ParseThresholds(map[string][]string{
		"http_req_duration{endpoint:lookup}": {"p(95)<1000"},
	})
	require.NoError(t, err)
	started := time.Date(2026, 2, 10, 10, 0, 0, 0, time.UTC)
	summary := engine.Summarize(metrics, engine.Result{
		RunID: "run", Started: started, Elapsed: 80 * time.Second, Iterations: 1, MaxVUs: 3,
	}, ths)

	path, err := rec.WriteYAML(summary)
	require.NoError(t, err)
	require.Equal(t, "out/results_checkout_2026-02-10_100000.posload.yaml", path)

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "version: \"1.0\"\n"))
	require.Contains(t, string(data), "\n  requests_total: 2\n")

	s, err := ReadSession(fs, path)
	require.NoError(t, err)
	require.Equal(t, "checkout", s.Journey)
	require.Equal(t, "run", s.RunID)
	require.Equal(t, "1m20s", s.Elapsed)
	require.True(t, s.Passed)
	require.Len(t, s.Requests, 2)
	require.Equal(t, "lookup", s.Requests[0].Endpoint)
	require.Equal(t, 12.5, s.Requests[0].LatencyMs)
	require.Equal(t, "connection refused", s.Requests[1].Err)
	require.Equal(t, []RecordedCheck{{
		Timestamp: s.Checks[0].Timestamp, VU: 2, Iteration: 4, Name: "create cart status 201", OK: false,
	}}, s.Checks)
	require.Len(t, s.Ramp, 1)
	require.Equal(t, 3, s.Ramp[0].Active)
	require.Equal(t, []RecordedThreshold{{
		Metric: "http_req_duration{endpoint:lookup}", Expression: "p(95)<1000", Observed: 12.5, OK: true,
	}}, s.Thresholds)
	require.Equal(t, 2, s.Summary.TotalRequests)
	require.Equal(t, 1, s.Summary.TotalFailures)
}

func TestRecorderWithoutRequests(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := New(fs, "", "reporting")

	path, err := rec.WriteYAML(nil)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(path, "results_reporting_"))

	s, err := ReadSession(fs, path)
	require.NoError(t, err)
	require.Empty(t, s.Requests)
	require.Nil(t, s.Summary)
}

func TestRecorderConcurrentObservers(t *testing.T) {
	rec := New(afero.NewMemMapFs(), "out", "checkout")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rec.ObserveSample(engine.Sample{VU: id, Iter: int64(j), Name: "lookup", Status: 200})
				rec.ObserveCheck(engine.Check{VU: id, Iter: int64(j), Name: "lookup status 200", OK: true})
			}
		}(i + 1)
	}
	wg.Wait()

	require.Equal(t, 1000, rec.Len())
	require.Len(t, rec.Session(nil).Checks, 1000)
}

func TestReadSessionErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := ReadSession(fs, "missing.yaml")
	require.ErrorContains(t, err, "cannot read results file")

	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("requests: [unterminated"), 0o644))
	_, err = ReadSession(fs, "bad.yaml")
	require.ErrorContains(t, err, "invalid YAML format")
}

func TestSanitizeName(t *testing.T) {
	require.Equal(t, "run", sanitizeName(""))
	require.Equal(t, "peak_checkout_a_b", sanitizeName("peak checkout:a/b"))
}
