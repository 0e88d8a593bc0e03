// Package pipeline moves lines from inputs through parsing, message
// resolution and delivery to the configured output.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/dlq"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/health"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/input"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/output"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/parser"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/reliability"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/resolver"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/tracing"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/worker"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrStopped is returned when an input is run after Stop
var ErrStopped = errors.New("pipeline stopped")

// queueDegradedRatio is the queue fill level above which health degrades
const queueDegradedRatio = 0.8

// Resolver structures one message
type Resolver interface {
	Resolve(msg types.RawMessage) resolver.Result
}

// Config wires the pipeline stages together
type Config struct {
	Parser     parser.Parser // Used for inputs run without their own parser
	Resolver   Resolver
	Output     output.Output
	OutputType string
	DLQ        *dlq.DeadLetterQueue // Optional, receives events the output rejected
	Pool       worker.PoolConfig
	Metrics    *metrics.Collector // Optional
	Tracer     trace.Tracer       // Optional
	Logger     *logging.Logger
}

// Pipeline parses lines on the input's goroutine, then resolves and sends
// them on a worker pool. Output order across workers is not preserved.
type Pipeline struct {
	config Config
	pool   *worker.WorkerPool
	tracer trace.Tracer
	logger *logging.Logger

	// mu orders wg.Add against Stop's wg.Wait
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a pipeline
func New(cfg Config) (*Pipeline, error) {
	if cfg.Parser == nil {
		return nil, errors.New("parser is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if cfg.Output == nil {
		return nil, errors.New("output is required")
	}
	if cfg.OutputType == "" {
		cfg.OutputType = "unknown"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Pool.Name == "" {
		cfg.Pool.Name = "pipeline"
	}
	if cfg.Pool.Metrics == nil {
		cfg.Pool.Metrics = cfg.Metrics
	}

	p := &Pipeline{
		config: cfg,
		tracer: cfg.Tracer,
		logger: cfg.Logger.WithComponent("pipeline"),
	}
	if p.tracer == nil {
		p.tracer = noop.NewTracerProvider().Tracer("")
	}

	pool, err := worker.NewWorkerPool(cfg.Pool, p.process)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.pool = pool

	return p, nil
}

// Start starts the workers
func (p *Pipeline) Start() {
	p.pool.Start()
	p.logger.Info().
		Str("output", p.config.Output.Name()).
		Str("parser", p.config.Parser.Name()).
		Msg("Pipeline started")
}

// Run feeds every line of in through the pipeline until its Lines channel
// closes or ctx is done. lp overrides the default parser when not nil.
func (p *Pipeline) Run(ctx context.Context, in input.Input, lp parser.Parser) error {
	if err := p.track(); err != nil {
		return err
	}
	defer p.wg.Done()
	return p.run(ctx, in, lp)
}

// Go is Run on a new goroutine. The input is registered before Go returns,
// so a later Stop waits for it. The channel receives Run's result.
func (p *Pipeline) Go(ctx context.Context, in input.Input, lp parser.Parser) <-chan error {
	errCh := make(chan error, 1)
	if err := p.track(); err != nil {
		errCh <- err
		return errCh
	}

	go func() {
		defer p.wg.Done()
		errCh <- p.run(ctx, in, lp)
	}()
	return errCh
}

func (p *Pipeline) track() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	p.wg.Add(1)
	return nil
}

func (p *Pipeline) run(ctx context.Context, in input.Input, lp parser.Parser) error {
	if lp == nil {
		lp = p.config.Parser
	}

	p.logger.Debug().Str("input", in.Name()).Str("parser", lp.Name()).Msg("Reading input")

	lines := in.Lines()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				p.logger.Info().Str("input", in.Name()).Msg("Input drained")
				return nil
			}
			if err := p.submit(ctx, in, lp, line); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// submit parses a line and queues it, blocking while the queue is full
func (p *Pipeline) submit(ctx context.Context, in input.Input, lp parser.Parser, line types.RawLine) error {
	if m := p.config.Metrics; m != nil {
		m.InputEventsReceived.WithLabelValues(in.Name(), in.Type()).Inc()
		m.InputBytesReceived.WithLabelValues(in.Name(), in.Type()).Add(float64(len(line.Text)))
	}

	event := p.parse(ctx, lp, line)
	if event == nil {
		return nil
	}

	return p.pool.Enqueue(ctx, event)
}

// parse returns nil for lines with nothing to resolve. A line the parser
// rejects is kept whole as the message.
func (p *Pipeline) parse(ctx context.Context, lp parser.Parser, line types.RawLine) *types.LogEvent {
	ctx, span := tracing.TraceParser(ctx, p.tracer, lp.Name())
	defer span.End()

	start := time.Now()
	event, err := lp.Parse(line.Text, line.Source)
	if m := p.config.Metrics; m != nil {
		m.ParserDuration.WithLabelValues(lp.Name()).Observe(time.Since(start).Seconds())
	}

	switch {
	case errors.Is(err, parser.ErrEmptyLine):
		return nil
	case err != nil:
		tracing.RecordError(ctx, err)
		if m := p.config.Metrics; m != nil {
			m.ParserEventsFailed.WithLabelValues(lp.Name(), "error").Inc()
		}
		p.logger.Warn().
			Err(err).
			Str("line", logging.Truncate(line.Text, 256)).
			Msg("Failed to parse line, keeping it as the message")
		return &types.LogEvent{
			Timestamp: time.Now(),
			Message:   line.Text,
			Source:    line.Source,
			Raw:       line.Text,
		}
	}

	if m := p.config.Metrics; m != nil {
		m.ParserEventsProcessed.WithLabelValues(lp.Name()).Inc()
	}
	return event
}

// process is the worker job: resolve the message and send the result
func (p *Pipeline) process(ctx context.Context, event *types.LogEvent) error {
	ctx, span := tracing.TracePipeline(ctx, p.tracer, event.Source)
	defer span.End()

	resolved := p.resolve(ctx, event)

	if err := p.send(ctx, resolved); err != nil {
		tracing.RecordError(ctx, err)
		p.deadLetter(event, err)
		return err
	}
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, event *types.LogEvent) *types.ResolvedEvent {
	_, span := tracing.TraceResolve(ctx, p.tracer, event.Logger)
	defer span.End()

	start := time.Now()
	res := p.config.Resolver.Resolve(event.RawMessage())
	if m := p.config.Metrics; m != nil {
		m.ObserveResolve(string(res.Outcome), time.Since(start))
	}
	span.SetAttributes(attribute.String("resolver.outcome", string(res.Outcome)))

	return &types.ResolvedEvent{
		Timestamp: event.Timestamp,
		Level:     event.Level,
		Logger:    event.Logger,
		Source:    event.Source,
		Message:   res.Value,
		Outcome:   string(res.Outcome),
		Fields:    event.Fields,
	}
}

func (p *Pipeline) send(ctx context.Context, event *types.ResolvedEvent) error {
	out := p.config.Output
	ctx, span := tracing.TraceOutput(ctx, p.tracer, out.Name())
	defer span.End()

	start := time.Now()
	err := out.Send(ctx, event)

	if m := p.config.Metrics; m != nil {
		m.OutputDuration.WithLabelValues(out.Name(), p.config.OutputType).Observe(time.Since(start).Seconds())
		if err != nil {
			m.OutputEventsFailed.WithLabelValues(out.Name(), p.config.OutputType, failureReason(err)).Inc()
		} else {
			m.OutputEventsSent.WithLabelValues(out.Name(), p.config.OutputType).Inc()
		}
	}

	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

func (p *Pipeline) deadLetter(event *types.LogEvent, cause error) {
	log := p.logger.Error().Err(cause).Str("logger", event.Logger).Str("source", event.Source)

	if p.config.DLQ == nil {
		log.Msg("Failed to send event, dropping it")
		return
	}

	if err := p.config.DLQ.Enqueue(event, cause, map[string]string{"output": p.config.Output.Name()}); err != nil {
		log.AnErr("dlq_error", err).Msg("Failed to send event and to dead letter it")
		return
	}
	log.Msg("Failed to send event, moved to dead letter queue")
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, reliability.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, output.ErrOutputClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, reliability.ErrMaxRetriesExceeded):
		return "retries_exhausted"
	default:
		return "error"
	}
}

// ReplayDeadLetters queues every dead lettered event for another attempt.
// Events that fail again go back to the queue.
func (p *Pipeline) ReplayDeadLetters(ctx context.Context) (int, error) {
	if p.config.DLQ == nil {
		return 0, nil
	}

	n, err := p.config.DLQ.Replay(func(event *types.LogEvent) error {
		return p.pool.Enqueue(ctx, event)
	})
	if err != nil {
		return n, err
	}
	if n > 0 {
		p.logger.Info().Int("events", n).Msg("Replayed dead lettered events")
	}
	return n, nil
}

// Stop waits for running inputs to drain, then for queued events to be
// processed. Inputs must be stopped first so their Lines close. Runs
// started after Stop fail with ErrStopped.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.wg.Wait()
	return p.pool.Stop()
}

// RegisterHealthChecks adds checks for the worker queue, the output and
// the dead letter queue
func (p *Pipeline) RegisterHealthChecks(c *health.Checker) {
	c.Register("worker_pool", health.QueueCheck(func() (int, int) {
		m := p.pool.Metrics()
		return m.QueueSize, m.QueueCapacity
	}, queueDegradedRatio))

	out := p.config.Output
	c.Register("output", health.LastErrorCheck(func() (time.Time, time.Time, string) {
		m := out.Metrics()
		return m.LastSendTime, m.LastErrorTime, m.LastError
	}))

	if q := p.config.DLQ; q != nil {
		c.Register("dlq", health.QueueCheck(func() (int, int) {
			return q.Size(), q.Capacity()
		}, queueDegradedRatio))
	}
}

// Stats returns worker pool statistics
func (p *Pipeline) Stats() worker.PoolMetrics {
	return p.pool.Metrics()
}
