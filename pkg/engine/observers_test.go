package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEventStream(t *testing.T) {
	stream := NewEventStream(4)
	m := NewMetrics(stream)

	m.setActiveVUs(3)
	m.Sample(Sample{
		VU:       2,
		Iter:     7,
		Name:     "checkout",
		Method:   "POST",
		URL:      "http://localhost:8080/api/sales/checkout?x=1",
		Status:   502,
		Duration: 1500 * time.Microsecond,
		Err:      errors.New("bad gateway"),
		Tags:     map[string]string{TagEndpoint: "checkout"},
	})
	stream.Close()
	stream.Close()

	var events []Event
	for ev := range stream.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)

	require.Equal(t, "RAMP_PROGRESS", events[0].Name)
	require.Equal(t, 3, events[0].Concurrency)

	ev := events[1]
	require.Equal(t, "checkout", ev.Name)
	require.Equal(t, "checkout", ev.Endpoint)
	require.Equal(t, "/api/sales/checkout?x=1", ev.Path)
	require.Equal(t, 502, ev.Status)
	require.Equal(t, 1.5, ev.LatencyMs)
	require.Equal(t, "bad gateway", ev.Err)
	require.Equal(t, 3, ev.Concurrency)
	require.Equal(t, 2, ev.VU)
	require.Equal(t, int64(7), ev.Iteration)
}

func TestEventStreamDropsWhenFull(t *testing.T) {
	stream := NewEventStream(1)
	m := NewMetrics(stream)
	for i := 0; i < 3; i++ {
		m.Sample(Sample{Name: "lookup", Method: "GET", Status: 200})
	}
	require.Equal(t, int64(2), stream.Dropped())

	stream.Close()
	m.Sample(Sample{Name: "lookup", Method: "GET", Status: 200})
}

func TestPromObserver(t *testing.T) {
	prom := NewPromObserver()
	m := NewMetrics(prom)

	m.setActiveVUs(5)
	m.Sample(Sample{Name: "lookup", Method: "GET", Status: 200, Duration: 100 * time.Millisecond, Tags: map[string]string{TagEndpoint: "lookup"}})
	m.Sample(Sample{Name: "lookup", Method: "GET", Status: 200, Duration: 300 * time.Millisecond, Tags: map[string]string{TagEndpoint: "lookup"}})
	m.Check(VU{ID: 1}, "lookup status 200", true)
	m.Check(VU{ID: 1}, "lookup status 200", false)

	require.Equal(t, 5.0, testutil.ToFloat64(prom.vus))
	require.Equal(t, 2.0, testutil.ToFloat64(prom.reqs.WithLabelValues("lookup", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(prom.checks.WithLabelValues("lookup status 200", "pass")))
	require.Equal(t, 1.0, testutil.ToFloat64(prom.checks.WithLabelValues("lookup status 200", "fail")))
	require.Equal(t, 1, testutil.CollectAndCount(prom.reqDuration))

	families, err := prom.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestMetricsCheckReturnsOutcome(t *testing.T) {
	m := NewMetrics()
	require.True(t, m.Check(VU{}, "a", true))
	require.False(t, m.Check(VU{}, "a", false))
	require.False(t, m.Check(VU{}, "b", false))

	passes, fails := m.CheckCounts("a")
	require.Equal(t, int64(1), passes)
	require.Equal(t, int64(1), fails)

	passes, fails = m.CheckCounts("")
	require.Equal(t, int64(1), passes)
	require.Equal(t, int64(2), fails)
}

func TestMetricsAddsDefaultTags(t *testing.T) {
	obs := &recordingObserver{}
	m := NewMetrics()
	m.AddObserver(obs)
	m.Sample(Sample{Name: "sales report", Method: "GET", Status: 404})

	require.Len(t, obs.samples, 1)
	tags := obs.samples[0].Tags
	require.Equal(t, "sales report", tags[TagName])
	require.Equal(t, "GET", tags[TagMethod])
	require.Equal(t, "404", tags[TagStatus])
	require.False(t, obs.samples[0].Time.IsZero())

	require.Len(t, m.Durations(map[string]string{TagStatus: "404"}), 1)
	require.Empty(t, m.Durations(map[string]string{TagStatus: "200"}))
}
