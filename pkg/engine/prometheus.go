package engine

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "posload"

// PromObserver exports samples, checks and the VU gauge as Prometheus
// metrics.
type PromObserver struct {
	registry *prometheus.Registry

	reqDuration *prometheus.HistogramVec
	reqs        *prometheus.CounterVec
	checks      *prometheus.CounterVec
	vus         prometheus.Gauge
}

var _ Observer = (*PromObserver)(nil)

func NewPromObserver() *PromObserver {
	registry := prometheus.NewRegistry()
	o := &PromObserver{
		registry: registry,
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_req_duration_seconds",
			Help:      "Latency of HTTP requests issued by the journeys",
			Buckets:   []float64{.025, .05, .1, .25, .5, .75, 1, 1.5, 1.8, 2.5, 5, 10},
		}, []string{"endpoint", "name"}),
		reqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_reqs_total",
			Help:      "Number of HTTP requests issued, by status code",
		}, []string{"name", "status"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "checks_total",
			Help:      "Number of check evaluations, by outcome",
		}, []string{"check", "result"}),
		vus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "vus",
			Help:      "Number of active virtual users",
		}),
	}
	registry.MustRegister(o.reqDuration, o.reqs, o.checks, o.vus)
	return o
}

func (o *PromObserver) Registry() *prometheus.Registry {
	return o.registry
}

func (o *PromObserver) ObserveSample(s Sample) {
	o.reqDuration.WithLabelValues(s.Tags[TagEndpoint], s.Name).Observe(s.Duration.Seconds())
	o.reqs.WithLabelValues(s.Name, strconv.Itoa(s.Status)).Inc()
}

func (o *PromObserver) ObserveCheck(c Check) {
	result := "pass"
	if !c.OK {
		result = "fail"
	}
	o.checks.WithLabelValues(c.Name, result).Inc()
}

func (o *PromObserver) ObserveVUs(active int) {
	o.vus.Set(float64(active))
}
