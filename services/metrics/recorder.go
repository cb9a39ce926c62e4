// Package metrics exposes lifecycle batch runs and events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

const namespace = "masomo_lifecycle"

// Recorder owns a private registry so that batch commands can push it as a whole.
type Recorder struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	runs        *prometheus.CounterVec
	items       *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	preview     *prometheus.GaugeVec
}

// RunStats summarizes one batch run.
type RunStats struct {
	Job       string // flag_overdue, auto_archive, reconcile
	DryRun    bool
	Processed int
	Skipped   int
	Failed    int
	Warnings  int
	Duration  time.Duration
	Err       error
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		reg: reg,
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of committed lifecycle events",
			},
			[]string{"type"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_runs_total",
				Help:      "Total number of batch runs",
			},
			[]string{"job", "status"},
		),
		items: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Total number of records handled by batch runs",
			},
			[]string{"job", "outcome"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_run_duration_seconds",
				Help:      "Batch run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
			[]string{"job"},
		),
		preview: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "preview_items",
				Help:      "Number of records returned by the latest preview",
			},
			[]string{"kind"},
		),
	}
}

// Subscribe counts every event published on bus.
func (r *Recorder) Subscribe(bus *lifecycle.EventBus) {
	bus.Subscribe(func(_ context.Context, ev lifecycle.ChangeEvent) {
		r.events.WithLabelValues(string(ev.Type)).Inc()
	})
}

func (r *Recorder) ObserveRun(s RunStats) {
	status := "success"
	switch {
	case s.Err != nil:
		status = "error"
	case s.DryRun:
		status = "dry_run"
	}
	r.runs.WithLabelValues(s.Job, status).Inc()
	r.runDuration.WithLabelValues(s.Job).Observe(s.Duration.Seconds())
	if s.DryRun {
		return
	}
	r.items.WithLabelValues(s.Job, "processed").Add(float64(s.Processed))
	r.items.WithLabelValues(s.Job, "skipped").Add(float64(s.Skipped))
	r.items.WithLabelValues(s.Job, "failed").Add(float64(s.Failed))
	r.items.WithLabelValues(s.Job, "warning").Add(float64(s.Warnings))
}

// ObservePreview records the size of the latest preview of kind (overdue, archive_eligible).
func (r *Recorder) ObservePreview(kind string, n int) {
	r.preview.WithLabelValues(kind).Set(float64(n))
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Push sends the registry to a Prometheus Pushgateway. A blank url is a no-op.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	err := push.New(url, namespace+"_"+job).Gatherer(r.reg).PushContext(ctx)
	return errors.Wrapf(err, "pushing %s metrics", job)
}
