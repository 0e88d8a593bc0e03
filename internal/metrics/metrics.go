package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "jsonmessage"

// Collector provides a central place for all application metrics
type Collector struct {
	// Input metrics
	InputEventsReceived *prometheus.CounterVec
	InputBytesReceived  *prometheus.CounterVec
	InputRateLimited    *prometheus.CounterVec

	// Parser metrics
	ParserEventsProcessed *prometheus.CounterVec
	ParserEventsFailed    *prometheus.CounterVec
	ParserDuration        *prometheus.HistogramVec

	// Resolver metrics
	ResolverEvents   *prometheus.CounterVec
	ResolverDuration *prometheus.HistogramVec

	// Output metrics
	OutputEventsSent   *prometheus.CounterVec
	OutputEventsFailed *prometheus.CounterVec
	OutputDuration     *prometheus.HistogramVec

	// Worker pool metrics
	WorkerPoolSize    *prometheus.GaugeVec
	WorkerPoolJobs    *prometheus.CounterVec
	WorkerPoolQueue   *prometheus.GaugeVec
	WorkerJobDuration *prometheus.HistogramVec

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge
	SystemMemSys     prometheus.Gauge
	SystemGCPauses   prometheus.Histogram

	registry *prometheus.Registry
	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initInputMetrics()
	c.initParserMetrics()
	c.initResolverMetrics()
	c.initOutputMetrics()
	c.initWorkerPoolMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(c.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (c *Collector) gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(c.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func (c *Collector) histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(c.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func (c *Collector) gauge(name, help string) prometheus.Gauge {
	return promauto.With(c.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      name,
		Help:      help,
	})
}

func (c *Collector) initInputMetrics() {
	c.InputEventsReceived = c.counterVec("input", "events_received_total",
		"Total number of events received by input source", "input_name", "input_type")
	c.InputBytesReceived = c.counterVec("input", "bytes_received_total",
		"Total bytes received by input source", "input_name", "input_type")
	c.InputRateLimited = c.counterVec("input", "rate_limited_total",
		"Total number of rate-limited requests", "input_name", "input_type")
}

func (c *Collector) initParserMetrics() {
	c.ParserEventsProcessed = c.counterVec("parser", "events_processed_total",
		"Total number of lines successfully parsed", "parser_type")
	c.ParserEventsFailed = c.counterVec("parser", "events_failed_total",
		"Total number of lines that failed parsing", "parser_type", "reason")
	// 10µs to ~300ms
	c.ParserDuration = c.histogramVec("parser", "duration_seconds",
		"Time taken to parse a line", prometheus.ExponentialBuckets(0.00001, 2, 15), "parser_type")
}

func (c *Collector) initResolverMetrics() {
	c.ResolverEvents = c.counterVec("resolver", "events_total",
		"Total number of messages resolved, by outcome", "outcome")
	// 1µs to ~130ms
	c.ResolverDuration = c.histogramVec("resolver", "duration_seconds",
		"Time taken to resolve a message", prometheus.ExponentialBuckets(0.000001, 2, 18), "outcome")
}

func (c *Collector) initOutputMetrics() {
	c.OutputEventsSent = c.counterVec("output", "events_sent_total",
		"Total number of events successfully sent to output", "output_name", "output_type")
	c.OutputEventsFailed = c.counterVec("output", "events_failed_total",
		"Total number of events that failed to send", "output_name", "output_type", "reason")
	// 100µs to ~3s
	c.OutputDuration = c.histogramVec("output", "duration_seconds",
		"Time taken to send an event to output", prometheus.ExponentialBuckets(0.0001, 2, 16), "output_name", "output_type")
}

func (c *Collector) initWorkerPoolMetrics() {
	c.WorkerPoolSize = c.gaugeVec("worker_pool", "workers_total",
		"Current number of workers in the pool", "pool_name")
	c.WorkerPoolJobs = c.counterVec("worker_pool", "jobs_total",
		"Total number of jobs processed", "pool_name", "status")
	c.WorkerPoolQueue = c.gaugeVec("worker_pool", "queue_depth",
		"Number of jobs waiting in the queue", "pool_name")
	c.WorkerJobDuration = c.histogramVec("worker_pool", "job_duration_seconds",
		"Time taken to process a job", prometheus.ExponentialBuckets(0.00001, 2, 16), "pool_name")
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = c.gauge("goroutines_total", "Current number of goroutines")
	c.SystemMemAlloc = c.gauge("memory_allocated_bytes", "Bytes of allocated heap objects")
	c.SystemMemSys = c.gauge("memory_system_bytes", "Total bytes of memory obtained from the OS")
	c.SystemGCPauses = promauto.With(c.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "gc_pause_seconds",
		Help:      "GC pause duration",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
	})
}

// TrackOutputBytes exports the byte count an output keeps for itself
func (c *Collector) TrackOutputBytes(name, outputType string, bytes func() float64) error {
	return c.registry.Register(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "output",
			Name:        "bytes_sent_total",
			Help:        "Total bytes sent to output",
			ConstLabels: prometheus.Labels{"output_name": name, "output_type": outputType},
		},
		bytes,
	))
}

// ObserveResolve records one resolved message
func (c *Collector) ObserveResolve(outcome string, d time.Duration) {
	c.ResolverEvents.WithLabelValues(outcome).Inc()
	c.ResolverDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// Start begins collecting system metrics periodically
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return
	}

	c.started = true
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh

	// Collect system metrics every 15 seconds
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		c.collectSystemMetrics()
		for {
			select {
			case <-ticker.C:
				c.collectSystemMetrics()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop stops the metrics collector
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	close(c.stopCh)
	c.started = false
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
	c.SystemMemSys.Set(float64(m.Sys))

	// Record GC pause time
	if m.NumGC > 0 {
		lastPause := m.PauseNs[(m.NumGC+255)%256]
		c.SystemGCPauses.Observe(float64(lastPause) / 1e9)
	}
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Global metrics collector
var (
	globalCollector *Collector
	once            sync.Once
)

// GetGlobalCollector returns the global metrics collector
func GetGlobalCollector() *Collector {
	once.Do(func() {
		globalCollector = NewCollector()
		globalCollector.Start()
	})
	return globalCollector
}
