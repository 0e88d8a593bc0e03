package output

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/reliability"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// ErrOutputClosed is returned by Send after Close
var ErrOutputClosed = errors.New("output is closed")

// Output defines the interface for all output plugins
type Output interface {
	// Send delivers a single resolved event
	Send(ctx context.Context, event *types.ResolvedEvent) error

	// Close flushes and releases resources
	Close() error

	// Name returns the name of the output plugin
	Name() string

	// Metrics returns a snapshot of the output's counters
	Metrics() *OutputMetrics
}

// OutputMetrics tracks performance and health metrics for an output
type OutputMetrics struct {
	EventsSent    int64         `json:"events_sent"`
	EventsFailed  int64         `json:"events_failed"`
	BytesSent     int64         `json:"bytes_sent"`
	LastSendTime  time.Time     `json:"last_send_time"`
	LastError     string        `json:"last_error,omitempty"`
	LastErrorTime time.Time     `json:"last_error_time,omitempty"`
	AvgLatency    time.Duration `json:"avg_latency"`
}

// Output types
const (
	TypeStdout = "stdout"
	TypeFile   = "file"
	TypeKafka  = "kafka"
)

// Config selects and configures the output
type Config struct {
	Type  string      `yaml:"type"`
	Name  string      `yaml:"name,omitempty"`
	File  FileConfig  `yaml:"file,omitempty"`
	Kafka KafkaConfig `yaml:"kafka,omitempty"`

	Retry          reliability.RetryConfig   `yaml:"retry"`
	CircuitBreaker reliability.BreakerConfig `yaml:"circuit_breaker"`
}

// DefaultConfig writes to stdout
func DefaultConfig() Config {
	return Config{
		Type:  TypeStdout,
		File:  FileConfig{Compression: CompressionNone},
		Kafka: DefaultKafkaConfig(),
		Retry: reliability.DefaultRetryConfig(),
	}
}

// New builds the output named by cfg.Type
func New(cfg Config) (Output, error) {
	switch cfg.Type {
	case "", TypeStdout:
		return NewStdoutOutput(cfg.Name), nil
	case TypeFile:
		file := cfg.File
		if file.Name == "" {
			file.Name = cfg.Name
		}
		return NewFileOutput(file)
	case TypeKafka:
		kafka := cfg.Kafka
		if kafka.Name == "" {
			kafka.Name = cfg.Name
		}
		return NewKafkaOutput(kafka)
	default:
		return nil, fmt.Errorf("unsupported output type: %s", cfg.Type)
	}
}

// tracker accumulates OutputMetrics for concurrent senders
type tracker struct {
	mu sync.Mutex
	m  OutputMetrics
}

func (t *tracker) success(bytes int, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.m.EventsSent++
	t.m.BytesSent += int64(bytes)
	t.m.LastSendTime = time.Now()
	if t.m.AvgLatency == 0 {
		t.m.AvgLatency = latency
	} else {
		t.m.AvgLatency = (t.m.AvgLatency + latency) / 2
	}
}

func (t *tracker) failure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.m.EventsFailed++
	t.m.LastError = err.Error()
	t.m.LastErrorTime = time.Now()
}

func (t *tracker) snapshot() *OutputMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := t.m
	return &m
}
