// Package metrics exports per-stage batch metrics in the Prometheus textfile
// format, for collection by node_exporter's textfile collector.
package metrics

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"degpredict/domain/stage"
	"degpredict/internal/errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "degpredict"

// Recorder accumulates stage metrics for one invocation
type Recorder struct {
	registry  *prometheus.Registry
	duration  *prometheus.GaugeVec
	success   *prometheus.GaugeVec
	artifacts *prometheus.GaugeVec
	warnings  *prometheus.GaugeVec
	counts    *prometheus.GaugeVec
	bytes     *prometheus.CounterVec
	lastRun   prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of the last execution of each stage.",
		}, []string{"stage", "name"}),
		success: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_success",
			Help:      "1 if the last execution of the stage succeeded, else 0.",
		}, []string{"stage", "name"}),
		artifacts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_artifacts",
			Help:      "Artifacts written by the last execution of the stage.",
		}, []string{"stage", "name"}),
		warnings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_warnings",
			Help:      "Warnings raised by the last execution of the stage.",
		}, []string{"stage", "name"}),
		counts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_records",
			Help:      "Record counts reported by each stage (genes, samples, up, down, ...).",
		}, []string{"stage", "kind"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Bytes written to the artifact store.",
		}, []string{"stage"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the pipeline last finished.",
		}),
	}
	r.registry.MustRegister(r.duration, r.success, r.artifacts, r.warnings, r.counts, r.bytes, r.lastRun)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveStage records one stage result
func (r *Recorder) ObserveStage(res stage.Result) {
	num := strconv.Itoa(int(res.Stage))
	name := string(res.Name)

	r.duration.WithLabelValues(num, name).Set(time.Duration(res.Duration * int64(time.Millisecond)).Seconds())
	ok := 0.0
	if res.Success {
		ok = 1
	}
	r.success.WithLabelValues(num, name).Set(ok)
	r.artifacts.WithLabelValues(num, name).Set(float64(len(res.Artifacts)))
	r.warnings.WithLabelValues(num, name).Set(float64(len(res.Warnings)))

	kinds := make([]string, 0, len(res.Counts))
	for k := range res.Counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		r.counts.WithLabelValues(num, k).Set(float64(res.Counts[k]))
	}
	for _, a := range res.Artifacts {
		r.bytes.WithLabelValues(num).Add(float64(a.Bytes))
	}
}

// MarkFinished stamps the completion time
func (r *Recorder) MarkFinished(t time.Time) {
	r.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile writes all metrics to path atomically. An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Storage(path, err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return errors.Storage(path, err)
	}
	return nil
}
