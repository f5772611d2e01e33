// Package metrics records pass outcomes for the Prometheus node exporter
// textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/carolinafsilva/estou-a-ver/internal/monitor"
)

type Metrics struct {
	reg *prometheus.Registry

	passes    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	changes   *prometheus.CounterVec
	monitored prometheus.Gauge
	lastPass  prometheus.Gauge
	backups   prometheus.Counter
	restores  prometheus.Counter
}

// New registers the collectors on a private registry so several monitors,
// or tests, never collide on the global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "estou_passes_total",
			Help: "Verification passes by outcome",
		}, []string{"state"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "estou_pass_duration_seconds",
			Help:    "Time to run one verification pass",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"state"}),
		changes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "estou_file_changes_total",
			Help: "Files found added, removed or altered",
		}, []string{"kind"}),
		monitored: f.NewGauge(prometheus.GaugeOpts{
			Name: "estou_files_monitored",
			Help: "Files covered by the current signature database",
		}),
		lastPass: f.NewGauge(prometheus.GaugeOpts{
			Name: "estou_last_pass_timestamp_seconds",
			Help: "Unix time the most recent pass finished",
		}),
		backups: f.NewCounter(prometheus.CounterOpts{
			Name: "estou_backups_total",
			Help: "Database backups written before re-signing",
		}),
		restores: f.NewCounter(prometheus.CounterOpts{
			Name: "estou_restores_total",
			Help: "Databases restored from backup",
		}),
	}
}

func (m *Metrics) Observe(rep monitor.Report) {
	state := rep.State.String()
	m.passes.WithLabelValues(state).Inc()
	m.duration.WithLabelValues(state).Observe(rep.Finished.Sub(rep.Started).Seconds())
	m.changes.WithLabelValues("added").Add(float64(len(rep.Result.Added)))
	m.changes.WithLabelValues("removed").Add(float64(len(rep.Result.Removed)))
	m.changes.WithLabelValues("altered").Add(float64(len(rep.Result.Altered)))
	if rep.State != monitor.StateCorrupt {
		r := rep.Result
		m.monitored.Set(float64(len(r.Added) + len(r.Altered) + len(r.Unchanged)))
	}
	m.lastPass.Set(float64(rep.Finished.Unix()))
	if rep.BackupWritten {
		m.backups.Inc()
	}
	if rep.Restored {
		m.restores.Inc()
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WriteTextfile writes the current values to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
