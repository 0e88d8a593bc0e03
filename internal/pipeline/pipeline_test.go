package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/dlq"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/health"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/input"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/metrics"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/output"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/parser"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/resolver"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/worker"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// lineInput replays fixed lines and then closes
type lineInput struct {
	*input.BaseInput
}

func newLineInput(lines ...string) *lineInput {
	in := &lineInput{BaseInput: input.NewBaseInput("test", "memory", len(lines)+1)}
	for _, l := range lines {
		in.SendLine(types.RawLine{Text: l, Source: "test.log"})
	}
	in.Close()
	return in
}

func (in *lineInput) Start() error { return nil }
func (in *lineInput) Stop() error  { return nil }

// failingOutput rejects every event
type failingOutput struct {
	mu      sync.Mutex
	metrics output.OutputMetrics
}

func (f *failingOutput) Send(ctx context.Context, event *types.ResolvedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics.EventsFailed++
	f.metrics.LastError = "broker unavailable"
	f.metrics.LastErrorTime = time.Now()
	return errors.New("broker unavailable")
}

func (f *failingOutput) Close() error { return nil }
func (f *failingOutput) Name() string { return "failing" }
func (f *failingOutput) Metrics() *output.OutputMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.metrics
	return &m
}

type fixture struct {
	pipeline *Pipeline
	buf      *bytes.Buffer
	metrics  *metrics.Collector
	spans    *tracetest.SpanRecorder
}

func newFixture(t *testing.T, out output.Output, q *dlq.DeadLetterQueue) *fixture {
	t.Helper()

	lp, err := parser.New(parser.DefaultParserConfig())
	if err != nil {
		t.Fatalf("parser.New() error = %v", err)
	}
	res, err := resolver.New(resolver.Config{Components: []string{"com.acme.Orders"}}, nil)
	if err != nil {
		t.Fatalf("resolver.New() error = %v", err)
	}

	f := &fixture{
		buf:     &bytes.Buffer{},
		metrics: metrics.NewCollector(),
		spans:   tracetest.NewSpanRecorder(),
	}
	if out == nil {
		out = output.NewWriterOutput("buffer", f.buf)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	p, err := New(Config{
		Parser:     lp,
		Resolver:   res,
		Output:     out,
		OutputType: "stdout",
		DLQ:        q,
		Pool:       worker.PoolConfig{NumWorkers: 2, QueueSize: 10},
		Metrics:    f.metrics,
		Tracer:     tp.Tracer("test"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p.Start()
	f.pipeline = p
	return f
}

func (f *fixture) run(t *testing.T, lines ...string) {
	t.Helper()

	if err := f.pipeline.Run(context.Background(), newLineInput(lines...), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestNew(t *testing.T) {
	lp := parser.NewPlainParser(&parser.ParserConfig{})
	res, _ := resolver.New(resolver.Config{}, nil)
	out := output.NewWriterOutput("w", &bytes.Buffer{})

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"complete", Config{Parser: lp, Resolver: res, Output: out}, false},
		{"missing parser", Config{Resolver: res, Output: out}, true},
		{"missing resolver", Config{Parser: lp, Output: out}, true},
		{"missing output", Config{Parser: lp, Resolver: res}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPipeline_ResolvesLines(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.run(t,
		`2024-01-15 10:30:00,123 INFO [com.acme.Orders] - {"orderId":"42","paid":"true"}`,
		"2024-01-15 10:30:01,000 WARN [com.acme.Orders] status: ok, attempt: 2",
		"2024-01-15 10:30:02,000 INFO [com.acme.Other] - status: ok",
		"",
		"not a log4j line",
	)

	got := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(f.buf.String()), "\n") {
		var event struct {
			Logger  string          `json:"logger"`
			Level   string          `json:"level"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("invalid output line %q: %v", line, err)
		}
		got[event.Logger+"|"+event.Level] = string(event.Message)
	}

	want := map[string]string{
		"com.acme.Orders|info": `{"orderId":42,"paid":true}`,
		"com.acme.Orders|warn": `{"status":"ok","attempt":2}`,
		"com.acme.Other|info":  `"status: ok"`,
		"|":                    `"not a log4j line"`,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d: %v", len(got), len(want), got)
	}
	for key, msg := range want {
		if got[key] != msg {
			t.Errorf("%s: message = %s, want %s", key, got[key], msg)
		}
	}
}

func TestPipeline_Metrics(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.run(t,
		`2024-01-15 10:30:00,123 INFO [com.acme.Orders] - {"a":1}`,
		"2024-01-15 10:30:02,000 INFO [com.acme.Other] - hello",
		"",
	)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"received", testutil.ToFloat64(f.metrics.InputEventsReceived.WithLabelValues("test", "memory")), 3},
		{"parsed", testutil.ToFloat64(f.metrics.ParserEventsProcessed.WithLabelValues("regex")), 2},
		{"document", testutil.ToFloat64(f.metrics.ResolverEvents.WithLabelValues("document")), 1},
		{"passthrough", testutil.ToFloat64(f.metrics.ResolverEvents.WithLabelValues("passthrough")), 1},
		{"sent", testutil.ToFloat64(f.metrics.OutputEventsSent.WithLabelValues("buffer", "stdout")), 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestPipeline_Tracing(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.run(t, `2024-01-15 10:30:00,123 INFO [com.acme.Orders] - {"a":1}`)

	spans := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range f.spans.Ended() {
		spans[s.Name()] = s
	}

	for _, name := range []string{"parser.parse", "pipeline.process", "resolver.resolve", "output.send"} {
		if _, ok := spans[name]; !ok {
			t.Errorf("missing span %s", name)
		}
	}

	root := spans["pipeline.process"]
	for _, child := range []string{"resolver.resolve", "output.send"} {
		if s, ok := spans[child]; ok && s.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Errorf("%s is not a child of pipeline.process", child)
		}
	}

	var outcome string
	for _, attr := range spans["resolver.resolve"].Attributes() {
		if attr.Key == "resolver.outcome" {
			outcome = attr.Value.AsString()
		}
	}
	if outcome != "document" {
		t.Errorf("resolver.outcome = %q, want document", outcome)
	}
}

func TestPipeline_DeadLetters(t *testing.T) {
	q, err := dlq.New(dlq.Config{Dir: t.TempDir(), MaxSize: 10}, nil)
	if err != nil {
		t.Fatalf("dlq.New() error = %v", err)
	}
	defer q.Close()

	out := &failingOutput{}
	f := newFixture(t, out, q)

	checker := health.NewChecker(time.Second)
	f.pipeline.RegisterHealthChecks(checker)

	f.run(t,
		"2024-01-15 10:30:00,123 INFO [com.acme.Orders] - a: 1",
		"2024-01-15 10:30:01,123 INFO [com.acme.Orders] - b: 2",
	)

	if q.Size() != 2 {
		t.Fatalf("dlq size = %d, want 2", q.Size())
	}
	entry, _ := q.Dequeue()
	if entry.Metadata["output"] != "failing" || entry.Error != "broker unavailable" {
		t.Errorf("unexpected entry %+v", entry)
	}

	if got := testutil.ToFloat64(f.metrics.OutputEventsFailed.WithLabelValues("failing", "stdout", "error")); got != 2 {
		t.Errorf("failed sends = %v, want 2", got)
	}

	results := checker.Check(context.Background())
	if results["output"].Status != health.StatusDegraded {
		t.Errorf("output health = %s, want degraded", results["output"].Status)
	}
	if results["dlq"].Status != health.StatusHealthy {
		t.Errorf("dlq health = %s, want healthy", results["dlq"].Status)
	}
}

func TestPipeline_ReplayDeadLetters(t *testing.T) {
	q, err := dlq.New(dlq.Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("dlq.New() error = %v", err)
	}
	defer q.Close()

	event := &types.LogEvent{Message: "orderId: 7", Logger: "com.acme.Orders", Source: "test.log"}
	if err := q.Enqueue(event, errors.New("earlier failure"), nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	f := newFixture(t, nil, q)
	n, err := f.pipeline.ReplayDeadLetters(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ReplayDeadLetters() = %d, %v; want 1, nil", n, err)
	}
	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if q.Size() != 0 {
		t.Errorf("dlq size = %d, want 0", q.Size())
	}
	if !strings.Contains(f.buf.String(), `"message":{"orderId":7}`) {
		t.Errorf("replayed event not written: %s", f.buf.String())
	}
}

func TestPipeline_ReplayFailureKeepsRetries(t *testing.T) {
	q, err := dlq.New(dlq.Config{Dir: t.TempDir()}, nil)
	if err != nil {
		t.Fatalf("dlq.New() error = %v", err)
	}
	defer q.Close()

	event := &types.LogEvent{Message: "orderId: 7", Logger: "com.acme.Orders", Source: "test.log"}
	if err := q.Enqueue(event, errors.New("earlier failure"), nil); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	f := newFixture(t, &failingOutput{}, q)
	if _, err := f.pipeline.ReplayDeadLetters(context.Background()); err != nil {
		t.Fatalf("ReplayDeadLetters() error = %v", err)
	}
	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	entry, _ := q.Dequeue()
	if entry == nil {
		t.Fatal("expected the event back in the dead letter queue")
	}
	if entry.Retries != 1 {
		t.Errorf("retries = %d, want 1", entry.Retries)
	}
	if entry.Error != "broker unavailable" {
		t.Errorf("error = %q, want broker unavailable", entry.Error)
	}
}

func TestPipeline_RunCanceled(t *testing.T) {
	f := newFixture(t, nil, nil)
	defer f.pipeline.Stop()

	in := input.NewBaseInput("open", "memory", 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.pipeline.Run(ctx, &lineInput{BaseInput: in}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestPipeline_StopWaitsForGo(t *testing.T) {
	f := newFixture(t, nil, nil)

	in := &lineInput{BaseInput: input.NewBaseInput("open", "memory", 4)}
	errCh := f.pipeline.Go(context.Background(), in, nil)

	stopped := make(chan error, 1)
	go func() { stopped <- f.pipeline.Stop() }()

	select {
	case err := <-stopped:
		t.Fatalf("Stop() returned %v while an input was still open", err)
	case <-time.After(50 * time.Millisecond):
	}

	in.SendLine(types.RawLine{Text: "2024-01-15 10:30:00,123 INFO [com.acme.Orders] - status: ok", Source: "test.log"})
	in.Close()

	if err := <-errCh; err != nil {
		t.Errorf("Go() result = %v, want nil", err)
	}
	if err := <-stopped; err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !strings.Contains(f.buf.String(), `"status":"ok"`) {
		t.Errorf("line sent before Stop was not written: %s", f.buf.String())
	}
}

func TestPipeline_RunAfterStop(t *testing.T) {
	f := newFixture(t, nil, nil)
	if err := f.pipeline.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if err := f.pipeline.Run(context.Background(), newLineInput("status: ok"), nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Run() error = %v, want ErrStopped", err)
	}
	if err := <-f.pipeline.Go(context.Background(), newLineInput("status: ok"), nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Go() error = %v, want ErrStopped", err)
	}
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errors.New("boom"), "error"},
		{context.DeadlineExceeded, "timeout"},
		{context.Canceled, "canceled"},
		{output.ErrOutputClosed, "closed"},
	}

	for _, tt := range tests {
		if got := failureReason(tt.err); got != tt.want {
			t.Errorf("failureReason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
