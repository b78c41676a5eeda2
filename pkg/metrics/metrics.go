// Package metrics exposes Prometheus collectors for workspace lifecycle
// events: how many workspaces are live, how the image cache is performing,
// and whether commands are succeeding.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkspacesActive is the number of workspaces currently registered in
	// the gateway.
	WorkspacesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forgebox_workspaces_active",
			Help: "Number of workspaces currently registered",
		},
	)

	// ProvisionDuration times Provisioner.Provision end to end, including
	// any image cache build it triggers.
	ProvisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forgebox_provision_duration_seconds",
			Help:    "Time taken to provision a new workspace, in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ImageCacheHitsTotal counts EnsureRepositoriesImage/EnsureContextImage
	// calls by whether the image already existed.
	ImageCacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgebox_image_cache_hits_total",
			Help: "Total image cache probes by result",
		},
		[]string{"result"}, // "hit" or "miss"
	)

	// CommandsTotal counts every Cmd/CmdWithOutput call the gateway
	// delegates, by outcome.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forgebox_commands_total",
			Help: "Total commands run through the gateway by result",
		},
		[]string{"result"}, // "ok" or "failed"
	)
)

func init() {
	prometheus.MustRegister(WorkspacesActive)
	prometheus.MustRegister(ProvisionDuration)
	prometheus.MustRegister(ImageCacheHitsTotal)
	prometheus.MustRegister(CommandsTotal)
}

// RecordCommand increments CommandsTotal for one delegated command.
func RecordCommand(ok bool) {
	if ok {
		CommandsTotal.WithLabelValues("ok").Inc()
	} else {
		CommandsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordImageCache increments ImageCacheHitsTotal for one cache probe.
func RecordImageCache(hit bool) {
	if hit {
		ImageCacheHitsTotal.WithLabelValues("hit").Inc()
	} else {
		ImageCacheHitsTotal.WithLabelValues("miss").Inc()
	}
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to one label combination of a
// histogram vec.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labelValues ...string) {
	histogram.WithLabelValues(labelValues...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
