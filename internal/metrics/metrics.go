// Package metrics exports job throughput as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fop-go/internal/fop"
)

// Metrics is a fop.Notifier that turns job events into counters.
type Metrics struct {
	reg *prometheus.Registry

	activeJobs     prometheus.Gauge
	speed          prometheus.Gauge
	bytesCompleted prometheus.Counter
	bytesWritten   prometheus.Counter
	filesCompleted prometheus.Counter
	jobsFinished   *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec

	mu   sync.Mutex
	last map[string]fop.Progress
}

// New creates the metrics on a private registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		activeJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "fop_active_jobs",
			Help: "Number of jobs currently running",
		}),
		speed: f.NewGauge(prometheus.GaugeOpts{
			Name: "fop_transfer_speed_bytes",
			Help: "Last reported write speed in bytes per second",
		}),
		bytesCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "fop_bytes_completed_total",
			Help: "Logical bytes processed by all jobs",
		}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "fop_bytes_written_total",
			Help: "Bytes written to targets by all jobs",
		}),
		filesCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "fop_files_completed_total",
			Help: "Entries processed by all jobs",
		}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fop_jobs_finished_total",
			Help: "Jobs that reached a terminal state",
		}, []string{"type", "outcome"}),
		jobErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fop_job_errors_total",
			Help: "Errors reported through the decision channel",
		}, []string{"kind"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fop_job_duration_seconds",
			Help:    "Wall time of finished jobs",
			Buckets: prometheus.ExponentialBuckets(0.05, 4, 10),
		}, []string{"type"}),
		last: make(map[string]fop.Progress),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) track(jobID string) fop.Progress {
	p, ok := m.last[jobID]
	if !ok {
		m.last[jobID] = fop.Progress{}
		m.activeJobs.Inc()
	}
	return p
}

func (m *Metrics) CurrentTask(jobID string, from, to fop.URL) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track(jobID)
}

// Progress adds the growth since the previous report of the same job.
func (m *Metrics) Progress(jobID string, p fop.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.track(jobID)
	if d := p.CompletedBytes - prev.CompletedBytes; d > 0 {
		m.bytesCompleted.Add(float64(d))
	}
	if d := p.WrittenBytes - prev.WrittenBytes; d > 0 {
		m.bytesWritten.Add(float64(d))
	}
	if d := p.CompletedFiles - prev.CompletedFiles; d > 0 {
		m.filesCompleted.Add(float64(d))
	}
	m.speed.Set(p.Speed)
	m.last[jobID] = p
}

func (m *Metrics) Finished(jobID string, r *fop.JobResult) {
	m.Progress(jobID, r.Progress)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.last, jobID)
	m.activeJobs.Dec()
	m.jobsFinished.WithLabelValues(r.Type.String(), r.Outcome.String()).Inc()
	m.jobDuration.WithLabelValues(r.Type.String()).Observe(r.Progress.Elapsed.Seconds())
	for _, e := range r.Errors {
		m.jobErrors.WithLabelValues(e.Kind.String()).Inc()
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

var _ fop.Notifier = (*Metrics)(nil)
