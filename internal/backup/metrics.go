package backup

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records backup runs for the /metrics endpoint. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	archiveBytes  prometheus.Histogram
	warnings      prometheus.Counter
	inFlight      prometheus.Gauge
}

// NewMetrics creates the backup collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ninja_backup_mate",
			Name:      "runs_total",
			Help:      "Backup runs by outcome and error type.",
		}, []string{"outcome", "error_type"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ninja_backup_mate",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline state.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"state"}),
		archiveBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ninja_backup_mate",
			Name:      "archive_size_bytes",
			Help:      "Size of delivered backup archives.",
			Buckets:   prometheus.ExponentialBuckets(1<<20, 4, 8),
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ninja_backup_mate",
			Name:      "warnings_total",
			Help:      "Non-fatal warnings raised while building archives.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ninja_backup_mate",
			Name:      "runs_in_flight",
			Help:      "Backup runs currently executing.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.runs, m.stageDuration, m.archiveBytes, m.warnings, m.inFlight)
	}
	return m
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) observeStage(state State, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(state)).Observe(d.Seconds())
}

func (m *Metrics) finished(archive *FinalArchive, err error) {
	if m == nil {
		return
	}
	m.inFlight.Dec()

	if err != nil {
		m.runs.WithLabelValues("failure", string(ErrorType(err))).Inc()
		return
	}
	m.runs.WithLabelValues("success", "").Inc()
	if archive != nil {
		m.archiveBytes.Observe(float64(archive.Size))
		m.warnings.Add(float64(len(archive.Warnings)))
	}
}
