package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrQueueFull  = errors.New("job queue full")
	ErrJobTimeout = errors.New("job execution timeout")
)

// JobFunc is a function that processes a log event
type JobFunc func(ctx context.Context, event *types.LogEvent) error

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	Name       string
	NumWorkers int
	QueueSize  int
	JobTimeout time.Duration
	Metrics    *metrics.Collector // Optional
}

// WorkerPool is a fixed set of workers draining a bounded job queue
type WorkerPool struct {
	config   PoolConfig
	workers  []*worker
	jobQueue chan *job
	jobFunc  JobFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// closeMu guards sends on jobQueue against Stop closing it
	closeMu sync.RWMutex
	closed  bool

	// Metrics
	jobsProcessed uint64
	jobsFailed    uint64
	jobsTimeout   uint64
	workersActive int64
}

// worker represents a single worker in the pool
type worker struct {
	id   int
	pool *WorkerPool

	// Metrics
	jobsProcessed uint64
	jobsFailed    uint64
	lastActive    atomic.Int64
}

// job represents a unit of work
type job struct {
	event     *types.LogEvent
	resultCh  chan error
	createdAt time.Time
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(config PoolConfig, jobFunc JobFunc) (*WorkerPool, error) {
	if jobFunc == nil {
		return nil, errors.New("job function is required")
	}

	if config.Name == "" {
		config.Name = "default"
	}

	if config.NumWorkers <= 0 {
		config.NumWorkers = 4 // Default
	}

	if config.QueueSize <= 0 {
		config.QueueSize = 1000 // Default
	}

	if config.JobTimeout == 0 {
		config.JobTimeout = 30 * time.Second // Default
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &WorkerPool{
		config:   config,
		workers:  make([]*worker, config.NumWorkers),
		jobQueue: make(chan *job, config.QueueSize),
		jobFunc:  jobFunc,
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < config.NumWorkers; i++ {
		pool.workers[i] = &worker{id: i, pool: pool}
	}

	return pool, nil
}

// Start starts all workers in the pool
func (p *WorkerPool) Start() {
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}

	if p.config.Metrics != nil {
		p.config.Metrics.WorkerPoolSize.WithLabelValues(p.config.Name).Set(float64(len(p.workers)))
	}
}

// Submit queues a job and waits for its result
func (p *WorkerPool) Submit(ctx context.Context, event *types.LogEvent) error {
	j := p.newJob(event)

	if err := p.enqueue(ctx, j, true); err != nil {
		return err
	}

	timer := time.NewTimer(p.config.JobTimeout)
	defer timer.Stop()

	select {
	case err := <-j.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		atomic.AddUint64(&p.jobsTimeout, 1)
		return ErrJobTimeout
	}
}

// SubmitAsync queues a job without waiting for the result. It fails with
// ErrQueueFull rather than block.
func (p *WorkerPool) SubmitAsync(event *types.LogEvent) error {
	return p.enqueue(context.Background(), p.newJob(event), false)
}

// Enqueue queues a job without waiting for the result, blocking while the
// queue is full until ctx is done
func (p *WorkerPool) Enqueue(ctx context.Context, event *types.LogEvent) error {
	return p.enqueue(ctx, p.newJob(event), true)
}

func (p *WorkerPool) newJob(event *types.LogEvent) *job {
	return &job{
		event:     event,
		resultCh:  make(chan error, 1),
		createdAt: time.Now(),
	}
}

func (p *WorkerPool) enqueue(ctx context.Context, j *job, wait bool) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	if !wait {
		select {
		case p.jobQueue <- j:
			p.observeQueue()
			return nil
		default:
			return ErrQueueFull
		}
	}

	select {
	case p.jobQueue <- j:
		p.observeQueue()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue, lets the workers drain what is already queued,
// and waits for them to exit
func (p *WorkerPool) Stop() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobQueue)
	p.closeMu.Unlock()

	p.wg.Wait()
	p.cancel()

	if p.config.Metrics != nil {
		p.config.Metrics.WorkerPoolSize.WithLabelValues(p.config.Name).Set(0)
	}
	return nil
}

// Metrics returns worker pool statistics
func (p *WorkerPool) Metrics() PoolMetrics {
	workerMetrics := make([]WorkerMetrics, len(p.workers))
	for i, w := range p.workers {
		workerMetrics[i] = w.metrics()
	}

	return PoolMetrics{
		NumWorkers:    len(p.workers),
		JobsProcessed: atomic.LoadUint64(&p.jobsProcessed),
		JobsFailed:    atomic.LoadUint64(&p.jobsFailed),
		JobsTimeout:   atomic.LoadUint64(&p.jobsTimeout),
		WorkersActive: atomic.LoadInt64(&p.workersActive),
		QueueSize:     len(p.jobQueue),
		QueueCapacity: cap(p.jobQueue),
		WorkerMetrics: workerMetrics,
	}
}

func (p *WorkerPool) observeQueue() {
	if p.config.Metrics != nil {
		p.config.Metrics.WorkerPoolQueue.WithLabelValues(p.config.Name).Set(float64(len(p.jobQueue)))
	}
}

// run is the main worker loop
func (w *worker) run() {
	defer w.pool.wg.Done()

	for j := range w.pool.jobQueue {
		w.processJob(j)
	}
}

// processJob processes a single job
func (w *worker) processJob(j *job) {
	p := w.pool
	atomic.AddInt64(&p.workersActive, 1)
	defer atomic.AddInt64(&p.workersActive, -1)

	start := time.Now()
	w.lastActive.Store(start.UnixNano())

	ctx, cancel := context.WithTimeout(p.ctx, p.config.JobTimeout)
	defer cancel()

	err := w.pool.jobFunc(ctx, j.event)

	atomic.AddUint64(&w.jobsProcessed, 1)
	atomic.AddUint64(&p.jobsProcessed, 1)

	status := "completed"
	if err != nil {
		status = "failed"
		atomic.AddUint64(&w.jobsFailed, 1)
		atomic.AddUint64(&p.jobsFailed, 1)
	}

	if p.config.Metrics != nil {
		p.config.Metrics.WorkerPoolJobs.WithLabelValues(p.config.Name, status).Inc()
		p.config.Metrics.WorkerJobDuration.WithLabelValues(p.config.Name).Observe(time.Since(start).Seconds())
	}

	// Send result
	select {
	case j.resultCh <- err:
	default:
	}
}

// metrics returns worker metrics
func (w *worker) metrics() WorkerMetrics {
	m := WorkerMetrics{
		ID:            w.id,
		JobsProcessed: atomic.LoadUint64(&w.jobsProcessed),
		JobsFailed:    atomic.LoadUint64(&w.jobsFailed),
	}
	if ns := w.lastActive.Load(); ns != 0 {
		m.LastActive = time.Unix(0, ns)
	}
	return m
}

// PoolMetrics holds worker pool statistics
type PoolMetrics struct {
	NumWorkers    int
	JobsProcessed uint64
	JobsFailed    uint64
	JobsTimeout   uint64
	WorkersActive int64
	QueueSize     int
	QueueCapacity int
	WorkerMetrics []WorkerMetrics
}

// WorkerMetrics holds individual worker statistics
type WorkerMetrics struct {
	ID            int
	JobsProcessed uint64
	JobsFailed    uint64
	LastActive    time.Time
}

// Utilization returns the queue utilization percentage (0-100)
func (m PoolMetrics) Utilization() float64 {
	if m.QueueCapacity == 0 {
		return 0
	}
	return (float64(m.QueueSize) / float64(m.QueueCapacity)) * 100.0
}

// SuccessRate returns the job success rate percentage (0-100)
func (m PoolMetrics) SuccessRate() float64 {
	total := m.JobsProcessed
	if total == 0 {
		return 100.0
	}
	successful := total - m.JobsFailed
	return (float64(successful) / float64(total)) * 100.0
}
