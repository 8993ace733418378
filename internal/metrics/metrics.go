// Package metrics exposes Prometheus counters describing sync cycles.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"calnotion/internal/syncer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "calnotion"

// Recorder implements syncer.Recorder on top of a Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	fetched  prometheus.Counter
	skipped  prometheus.Counter
	created  prometheus.Counter
	duration prometheus.Histogram
}

var _ syncer.Recorder = (*Recorder)(nil)

// NewRecorder registers the sync metrics on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Sync cycles by outcome.",
		}, []string{"outcome"}),
		fetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_fetched_total",
			Help:      "Events returned by the source.",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Events already present in the destination.",
		}),
		created: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_created_total",
			Help:      "Rows created in the destination.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall time of a sync cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// ObserveRun records the outcome of one sync cycle.
func (r *Recorder) ObserveRun(result syncer.Result, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.runs.WithLabelValues(outcome).Inc()
	r.fetched.Add(float64(result.Fetched))
	r.skipped.Add(float64(result.Skipped))
	r.created.Add(float64(result.Created))
	r.duration.Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, logger *slog.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
