package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/pool"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// FileConfig configures the file output
type FileConfig struct {
	Name        string          `yaml:"name,omitempty"`
	Path        string          `yaml:"path"`
	Compression CompressionType `yaml:"compression,omitempty"`
}

// WriterOutput writes one JSON document per line to a stream
type WriterOutput struct {
	name    string
	mu      sync.Mutex
	w       flushWriteCloser
	closer  io.Closer // underlying file, nil for stdout
	closed  bool
	metrics tracker
}

// NewWriterOutput writes uncompressed JSON lines to w
func NewWriterOutput(name string, w io.Writer) *WriterOutput {
	if name == "" {
		name = "writer"
	}
	return &WriterOutput{name: name, w: nopCompressor{w}}
}

// NewStdoutOutput writes JSON lines to standard output
func NewStdoutOutput(name string) *WriterOutput {
	if name == "" {
		name = TypeStdout
	}
	return NewWriterOutput(name, os.Stdout)
}

// NewFileOutput appends JSON lines to cfg.Path, creating parent directories
func NewFileOutput(cfg FileConfig) (*WriterOutput, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file output path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	cw, err := newCompressor(f, cfg.Compression)
	if err != nil {
		f.Close()
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = TypeFile
	}
	return &WriterOutput{name: name, w: cw, closer: f}, nil
}

// Send encodes the event and writes it as a single line
func (o *WriterOutput) Send(ctx context.Context, event *types.ResolvedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := encodeTo(buf, event); err != nil {
		o.metrics.failure(err)
		return err
	}
	line := buf.Bytes()

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutputClosed
	}

	start := time.Now()
	if _, err := o.w.Write(line); err != nil {
		err = fmt.Errorf("failed to write event: %w", err)
		o.metrics.failure(err)
		return err
	}
	if err := o.w.Flush(); err != nil {
		err = fmt.Errorf("failed to flush event: %w", err)
		o.metrics.failure(err)
		return err
	}

	o.metrics.success(len(line), time.Since(start))
	return nil
}

// Close finishes any compression stream and closes the file
func (o *WriterOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	err := o.w.Close()
	if o.closer != nil {
		if cerr := o.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Name returns the output name
func (o *WriterOutput) Name() string {
	return o.name
}

// Metrics returns the current metrics
func (o *WriterOutput) Metrics() *OutputMetrics {
	return o.metrics.snapshot()
}

// encodeTo appends the event to buf as newline-terminated JSON without
// HTML escaping
func encodeTo(buf *bytes.Buffer, event *types.ResolvedEvent) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(event); err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return nil
}

// encodeLine is encodeTo into a buffer the caller keeps
func encodeLine(event *types.ResolvedEvent) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeTo(&buf, event); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
