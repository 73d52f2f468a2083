// Package metrics exposes crawl and download counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"relentless-tracks/internal/models"
)

const namespace = "relentless_tracks"

// Metrics holds the collectors for one crawl process.
type Metrics struct {
	registry *prometheus.Registry

	pagesExplored      prometheus.Counter
	pagesFailed        prometheus.Counter
	tracksDiscovered   prometheus.Counter
	downloadsCompleted prometheus.Counter
	downloadsFailed    prometheus.Counter
	downloadRetries    prometheus.Counter
	stateSaves         *prometheus.CounterVec

	exploreLatency  prometheus.Histogram
	downloadLatency prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pagesExplored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_explored_total",
			Help:      "Pages explored successfully.",
		}),
		pagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_failed_total",
			Help:      "Pages whose exploration failed; they are not retried.",
		}),
		tracksDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_discovered_total",
			Help:      "Track candidates newly added to the download queue.",
		}),
		downloadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_completed_total",
			Help:      "Tracks downloaded successfully.",
		}),
		downloadsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_failed_total",
			Help:      "Tracks that exhausted retries or failed permanently.",
		}),
		downloadRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_retries_total",
			Help:      "Failed attempts that returned the track to pending.",
		}),
		stateSaves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_saves_total",
			Help:      "State store saves by result.",
		}, []string{"result"}),
		exploreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_explore_seconds",
			Help:      "Page exploration latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		downloadLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_seconds",
			Help:      "Download attempt latency.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObservePage records one exploration.
func (m *Metrics) ObservePage(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.exploreLatency.Observe(d.Seconds())
	if err != nil {
		m.pagesFailed.Inc()
		return
	}
	m.pagesExplored.Inc()
}

// TracksDiscovered counts newly enqueued candidates.
func (m *Metrics) TracksDiscovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.tracksDiscovered.Add(float64(n))
}

// ObserveDownload records one attempt and the state it left the track in.
func (m *Metrics) ObserveDownload(d time.Duration, state models.DownloadState) {
	if m == nil {
		return
	}
	m.downloadLatency.Observe(d.Seconds())
	switch state {
	case models.DownloadCompleted:
		m.downloadsCompleted.Inc()
	case models.DownloadFailed:
		m.downloadsFailed.Inc()
	case models.DownloadPending:
		m.downloadRetries.Inc()
	}
}

// ObserveSave records a state store save.
func (m *Metrics) ObserveSave(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.stateSaves.WithLabelValues("error").Inc()
		return
	}
	m.stateSaves.WithLabelValues("ok").Inc()
}

// RegisterStats exposes live crawl statistics as gauges.
func (m *Metrics) RegisterStats(stats func() models.Stats) {
	if m == nil || stats == nil {
		return
	}
	gauge := func(name, help string, pick func(models.Stats) int) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(pick(stats())) }))
	}
	gauge("frontier_size", "URLs waiting to be explored.", func(s models.Stats) int { return s.QueueSize })
	gauge("visited_pages", "URLs already explored.", func(s models.Stats) int { return s.VisitedCount })
	gauge("downloads_pending", "Tracks waiting for a worker.", func(s models.Stats) int { return s.PendingCount })
	gauge("downloads_in_flight", "Tracks currently downloading.", func(s models.Stats) int { return s.InProgressCount })
	gauge("downloads_done", "Tracks downloaded in this crawl state.", func(s models.Stats) int { return s.DownloadedCount })
}
