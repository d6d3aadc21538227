// Package metrics records Prometheus counters for a screenshot run and can
// write them to a node-exporter textfile when the run ends.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page and capture outcomes used as the status label.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusSkipped = "skipped"
)

// Recorder owns one registry per run. A nil *Recorder discards observations.
type Recorder struct {
	registry *prometheus.Registry

	pagesTotal             *prometheus.CounterVec
	capturesTotal          *prometheus.CounterVec
	captureDurationSeconds *prometheus.HistogramVec
	authTotal              *prometheus.CounterVec
	rateLimitDelaySeconds  *prometheus.HistogramVec
	runTimestampSeconds    prometheus.Gauge
}

// New builds a Recorder with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		pagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscreenshots_crawl_pages_total",
				Help: "Total number of pages considered by the crawl, labeled by site and status.",
			},
			[]string{"site", "status"},
		),
		capturesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscreenshots_captures_total",
				Help: "Total number of capture tasks, labeled by viewport and status.",
			},
			[]string{"viewport", "status"},
		),
		captureDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webscreenshots_capture_duration_seconds",
				Help:    "Histogram of capture task durations including retries, labeled by viewport.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"viewport"},
		),
		authTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscreenshots_auth_total",
				Help: "Authentication outcomes, labeled by method and final state.",
			},
			[]string{"method", "state"},
		),
		rateLimitDelaySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webscreenshots_rate_limit_delay_seconds",
				Help:    "Histogram of crawl rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		),
		runTimestampSeconds: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webscreenshots_run_timestamp_seconds",
				Help: "Unix time at which the run started.",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObservePage counts a crawl page outcome.
func (r *Recorder) ObservePage(site, status string) {
	if r == nil {
		return
	}
	r.pagesTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveCapture counts a capture outcome and its duration.
func (r *Recorder) ObserveCapture(viewport, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.capturesTotal.WithLabelValues(viewport, status).Inc()
	r.captureDurationSeconds.WithLabelValues(viewport).Observe(d.Seconds())
}

// ObserveAuth counts an authentication outcome.
func (r *Recorder) ObserveAuth(method, state string) {
	if r == nil {
		return
	}
	r.authTotal.WithLabelValues(method, state).Inc()
}

// ObserveRateLimitDelay records time spent waiting on the crawl limiter.
func (r *Recorder) ObserveRateLimitDelay(site string, d time.Duration) {
	if r == nil {
		return
	}
	r.rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(d.Seconds())
}

// SetRunTimestamp records the run start.
func (r *Recorder) SetRunTimestamp(t time.Time) {
	if r == nil {
		return
	}
	r.runTimestampSeconds.Set(float64(t.Unix()))
}

// WriteTextfile writes the registry in the Prometheus text format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
