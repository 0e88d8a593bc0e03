package benchmark

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/input"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/output"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/parser"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/pipeline"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/resolver"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/worker"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

const component = "com.acme.Orders"

var messages = map[string]string{
	"document":    `{"orderId":42,"paid":true,"items":[{"sku":"A-1","qty":2}],"total":19.99}`,
	"fields":      `status: ok, attempt: 2, region: "eu-west-1", tags: [a, b]`,
	"lenient":     `{orderId: 42, 'note': 'almost json',}`,
	"passthrough": `Order 42 shipped to warehouse 7`,
	"nested":      `{"payload":"{\"inner\":\"{\\\"deep\\\":true}\"}"}`,
}

func newResolver(b *testing.B) *resolver.Resolver {
	b.Helper()
	r, err := resolver.New(resolver.Config{Components: []string{component}}, nil)
	if err != nil {
		b.Fatal(err)
	}
	return r
}

// BenchmarkResolve measures each message shape on its own
func BenchmarkResolve(b *testing.B) {
	r := newResolver(b)

	for name, msg := range messages {
		raw := types.RawMessage{Message: msg, Component: component}
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				r.Resolve(raw)
			}
			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "messages/sec")
		})
	}
}

// BenchmarkResolveIneligible measures the fast path for loggers not selected
func BenchmarkResolveIneligible(b *testing.B) {
	r := newResolver(b)
	raw := types.RawMessage{Message: messages["document"], Component: "com.acme.Other"}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r.Resolve(raw)
	}
}

// BenchmarkParallelResolve shares one resolver between goroutines
func BenchmarkParallelResolve(b *testing.B) {
	r := newResolver(b)
	raw := types.RawMessage{Message: messages["fields"], Component: component}

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			r.Resolve(raw)
		}
	})
}

// BenchmarkParserRegex measures the default log4j line layout
func BenchmarkParserRegex(b *testing.B) {
	p, err := parser.New(parser.DefaultParserConfig())
	if err != nil {
		b.Fatal(err)
	}
	line := "2024-01-15 10:30:00,123 INFO [" + component + "] - " + messages["fields"]

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := p.Parse(line, "app.log"); err != nil {
			b.Fatal(err)
		}
	}
}

// memoryInput holds a fixed batch of lines
type memoryInput struct {
	*input.BaseInput
}

func (in *memoryInput) Start() error { return nil }
func (in *memoryInput) Stop() error  { return nil }

// BenchmarkEndToEnd runs lines through parse, resolve and encode
func BenchmarkEndToEnd(b *testing.B) {
	for _, workers := range []int{1, 4} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			lp, err := parser.New(parser.DefaultParserConfig())
			if err != nil {
				b.Fatal(err)
			}

			p, err := pipeline.New(pipeline.Config{
				Parser:   lp,
				Resolver: newResolver(b),
				Output:   output.NewWriterOutput("discard", io.Discard),
				Pool:     worker.PoolConfig{NumWorkers: workers, QueueSize: 1024},
			})
			if err != nil {
				b.Fatal(err)
			}
			p.Start()

			in := &memoryInput{BaseInput: input.NewBaseInput("bench", "memory", b.N+1)}
			shapes := []string{messages["document"], messages["fields"], messages["passthrough"]}
			for i := 0; i < b.N; i++ {
				in.SendLine(types.RawLine{
					Text:   "2024-01-15 10:30:00,123 INFO [" + component + "] - " + shapes[i%len(shapes)],
					Source: "bench.log",
				})
			}
			in.Close()

			b.ReportAllocs()
			b.ResetTimer()

			if err := p.Run(context.Background(), in, nil); err != nil {
				b.Fatal(err)
			}
			if err := p.Stop(); err != nil {
				b.Fatal(err)
			}

			b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "events/sec")
		})
	}
}
