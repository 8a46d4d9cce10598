// Package metrics exposes Prometheus counters for the award engine, the
// HTTP API and the background jobs.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/classquest/classquest/internal/domain/shared"
)

const namespace = "classquest"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	streamsOpen  prometheus.Gauge

	xpAwarded    prometheus.Counter
	awards       prometheus.Counter
	levelUps     prometheus.Counter
	badgesEarned *prometheus.CounterVec
	activities   *prometheus.CounterVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry that
// also carries the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency. Streams are excluded.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"}),
		streamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_open",
			Help:      "Open server-sent event streams.",
		}),

		xpAwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xp_awarded_total",
			Help:      "Sum of XP granted by awards.",
		}),
		awards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "awards_total",
			Help:      "Committed award operations.",
		}),
		levelUps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_ups_total",
			Help:      "Awards that raised a learner's level.",
		}),
		badgesEarned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "badges_earned_total",
			Help:      "Badges granted, by badge id.",
		}, []string{"badge_id"}),
		activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activities_tracked_total",
			Help:      "Tracked learner activities, by kind.",
		}, []string{"activity"}),

		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Scheduled job run time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"job"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.streamsOpen,
		m.xpAwarded, m.awards, m.levelUps, m.badgesEarned, m.activities,
		m.jobRuns, m.jobDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP
// ══════════════════════════════════════════════════════════════════════════════

// ObserveHTTP records one finished request. route is the mux pattern, not
// the raw path, so user ids do not explode the label set.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// StreamOpened and StreamClosed track live SSE connections.
func (m *Metrics) StreamOpened() { m.streamsOpen.Inc() }
func (m *Metrics) StreamClosed() { m.streamsOpen.Dec() }

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// Register subscribes the recorder to every domain event.
func (m *Metrics) Register(bus shared.EventSubscriber) error {
	return bus.SubscribeAll(m.HandleEvent)
}

// HandleEvent implements shared.EventHandler.
func (m *Metrics) HandleEvent(event shared.Event) error {
	switch e := event.(type) {
	case shared.XPAwardedEvent:
		m.awards.Inc()
		m.xpAwarded.Add(float64(e.Amount))
	case shared.LevelUpEvent:
		m.levelUps.Inc()
	case shared.BadgeEarnedEvent:
		m.badgesEarned.WithLabelValues(e.BadgeID).Inc()
	case shared.ActivityTrackedEvent:
		m.activities.WithLabelValues(e.Activity).Inc()
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

// ObserveJob records one job run.
func (m *Metrics) ObserveJob(job string, d time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}
