package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives operation and transfer measurements.
type Recorder interface {
	ObserveOperation(op, result string, d time.Duration)
	IncDownload(result string, bytes int64)
	AddExtracted(members int)
}

// Noop implements Recorder without emitting anything.
type Noop struct{}

func (Noop) ObserveOperation(string, string, time.Duration) {}
func (Noop) IncDownload(string, int64)                      {}
func (Noop) AddExtracted(int)                               {}

// OrNoop substitutes Noop for a nil recorder.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}

// Prom implements Recorder backed by a private Prometheus registry, so a
// short-lived invocation can dump exactly its own series.
type Prom struct {
	reg          *prometheus.Registry
	operations   *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	downloads    *prometheus.CounterVec
	downloadSize prometheus.Counter
	extracted    prometheus.Counter
}

// NewProm registers the packager series under namespace.
func NewProm(namespace string) *Prom {
	p := &Prom{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Packager operations by name and result",
		}, []string{"op", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Packager operation latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"op"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Archive downloads by result",
		}, []string{"result"}),
		downloadSize: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written to the archive cache",
		}),
		extracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extracted_members_total",
			Help:      "Archive members written to package directories",
		}),
	}
	p.reg.MustRegister(p.operations, p.durations, p.downloads, p.downloadSize, p.extracted)
	return p
}

// Registry exposes the underlying registry for gathering.
func (p *Prom) Registry() *prometheus.Registry { return p.reg }

func (p *Prom) ObserveOperation(op, result string, d time.Duration) {
	p.operations.WithLabelValues(op, result).Inc()
	p.durations.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prom) IncDownload(result string, bytes int64) {
	p.downloads.WithLabelValues(result).Inc()
	if bytes > 0 {
		p.downloadSize.Add(float64(bytes))
	}
}

func (p *Prom) AddExtracted(members int) {
	if members > 0 {
		p.extracted.Add(float64(members))
	}
}

// WriteTextfile writes the registry in the text exposition format for the
// node exporter's textfile collector.
func (p *Prom) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, p.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Result maps an error onto the result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
