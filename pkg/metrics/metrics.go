// Package metrics provides Prometheus metrics for geomirror runs. A run is a
// short-lived batch job, so metrics live in a private registry and are
// exported once at the end of the run, either pushed to a Pushgateway or
// written for the node_exporter textfile collector.
//
// # Basic Usage
//
//	collector := metrics.NewCollector("geonames-allcountries")
//	collector.AddDownloadedBytes(n)
//	collector.ObserveStage("fetch", time.Since(start), err)
//	collector.SetDataset(stats.TotalEntries, stats.CountryCount, stats.FileSize)
//	collector.SetResult(isUpdate, err == nil)
//
//	if err := collector.Push(ctx, "http://pushgateway:9091", "geomirror"); err != nil {
//	    log.Warn("metrics push failed", zap.Error(err))
//	}
//
// Every method is safe on a nil *Collector so stages can be used without
// metrics in tests.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/ajitpratap0/geomirror/pkg/mirrorerrors"
)

const namespace = "geomirror"

// Collector holds the metrics of a single run
type Collector struct {
	dataset  string
	registry *prometheus.Registry

	httpRequests     *prometheus.CounterVec   // Requests by method, host and status
	httpDuration     *prometheus.HistogramVec // Request latency up to the response headers
	downloadedBytes  prometheus.Counter       // Archive bytes received
	stageDuration    *prometheus.GaugeVec     // Duration of each stage of this run
	stageFailures    *prometheus.CounterVec   // Failed stages by error type
	datasetEntries   prometheus.Gauge
	datasetCountries prometheus.Gauge
	datasetSize      prometheus.Gauge
	updateAvailable  prometheus.Gauge
	lastSuccess      prometheus.Gauge
	runDuration      prometheus.Gauge
	startTime        time.Time
}

// NewCollector creates a collector with its own registry for dataset.
func NewCollector(dataset string) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"dataset": dataset}

	return &Collector{
		dataset:  dataset,
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_requests_total",
			Help:        "HTTP requests issued by the run",
			ConstLabels: labels,
		}, []string{"method", "host", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_seconds",
			Help:        "Time until response headers were received",
			ConstLabels: labels,
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "host"}),
		downloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "download_bytes_total",
			Help:        "Archive bytes received",
			ConstLabels: labels,
		}),
		stageDuration: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "stage_duration_seconds",
			Help:        "Duration of each pipeline stage",
			ConstLabels: labels,
		}, []string{"stage"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stage_failures_total",
			Help:        "Failed pipeline stages by error type",
			ConstLabels: labels,
		}, []string{"stage", "type"}),
		datasetEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "dataset_entries",
			Help:        "Rows in the extracted table",
			ConstLabels: labels,
		}),
		datasetCountries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "dataset_countries",
			Help:        "Distinct country codes in the extracted table",
			ConstLabels: labels,
		}),
		datasetSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "dataset_archive_bytes",
			Help:        "Size of the archive in bytes",
			ConstLabels: labels,
		}),
		updateAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "update_available",
			Help:        "1 when the run found content differing from the previous release",
			ConstLabels: labels,
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "last_success_timestamp_seconds",
			Help:        "Unix time of the last successful run",
			ConstLabels: labels,
		}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "Duration of the run",
			ConstLabels: labels,
		}),
		startTime: time.Now(),
	}
}

// Registry returns the private registry of the collector
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRequest implements clients.RequestObserver
func (c *Collector) ObserveRequest(method, host string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.httpRequests.WithLabelValues(method, host, code).Inc()
	c.httpDuration.WithLabelValues(method, host).Observe(duration.Seconds())
}

// AddDownloadedBytes adds n received archive bytes
func (c *Collector) AddDownloadedBytes(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.downloadedBytes.Add(float64(n))
}

// ObserveStage records the duration of a stage and counts it as failed when
// err is not nil
func (c *Collector) ObserveStage(stage string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Set(duration.Seconds())
	if err != nil {
		c.stageFailures.WithLabelValues(stage, string(mirrorerrors.TypeOf(err))).Inc()
	}
}

// SetDataset records the statistics of the current archive
func (c *Collector) SetDataset(entries int64, countries int, size int64) {
	if c == nil {
		return
	}
	c.datasetEntries.Set(float64(entries))
	c.datasetCountries.Set(float64(countries))
	c.datasetSize.Set(float64(size))
}

// SetResult records the outcome of the run
func (c *Collector) SetResult(isUpdate, success bool) {
	if c == nil {
		return
	}
	if isUpdate {
		c.updateAvailable.Set(1)
	} else {
		c.updateAvailable.Set(0)
	}
	if success {
		c.lastSuccess.SetToCurrentTime()
	}
	c.runDuration.Set(time.Since(c.startTime).Seconds())
}

// Push replaces the metrics of job on a Pushgateway. Every series already
// carries the dataset label, so it is not used as a grouping key.
func (c *Collector) Push(ctx context.Context, gatewayURL, job string) error {
	if c == nil || gatewayURL == "" {
		return nil
	}
	err := push.New(gatewayURL, job).
		Gatherer(c.registry).
		PushContext(ctx)
	if err != nil {
		return mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeConnection, "failed to push metrics").
			WithDetail("gateway", gatewayURL)
	}
	return nil
}

// WriteTextfile writes all metrics in the text exposition format. The file
// is written atomically so the textfile collector never reads a partial file.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return mirrorerrors.Wrap(err, mirrorerrors.ErrorTypeFile, "failed to write metrics textfile").
			WithDetail("path", path)
	}
	return nil
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the name the timer was created with
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. The timer can be
// stopped multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// String implements fmt.Stringer
func (t *Timer) String() string {
	return fmt.Sprintf("%s: %s", t.name, t.Stop())
}
