package config

import (
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/dlq"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/input"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/output"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/parser"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/profiling"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/resolver"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/tracing"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Resolver   ResolverConfig       `yaml:"resolver"`
	Inputs     InputsConfig         `yaml:"inputs"`
	Parser     *parser.ParserConfig `yaml:"parser,omitempty"`
	Output     output.Config        `yaml:"output"`
	WorkerPool WorkerPoolConfig     `yaml:"worker_pool"`
	DLQ        dlq.Config           `yaml:"dlq"`
	Shutdown   ShutdownConfig       `yaml:"shutdown"`
	Logging    LoggingConfig        `yaml:"logging"`
	Metrics    MetricsConfig        `yaml:"metrics"`
	Tracing    tracing.Config       `yaml:"tracing"`
	Profiling  profiling.Config     `yaml:"profiling"`
}

// ResolverConfig selects which loggers get their messages structured
type ResolverConfig struct {
	Components []string `yaml:"components"`
	Tags       []string `yaml:"tags,omitempty"`
	MaxDepth   int      `yaml:"max_depth,omitempty"`
	// LenientJSON enables repair of almost-JSON values, default true
	LenientJSON *bool `yaml:"lenient_json,omitempty"`
}

// ResolverOptions converts the section into resolver options
func (r ResolverConfig) ResolverOptions() resolver.Config {
	return resolver.Config{
		Components: r.Components,
		Tags:       r.Tags,
		MaxDepth:   r.MaxDepth,
		Strict:     r.LenientJSON != nil && !*r.LenientJSON,
	}
}

// InputsConfig defines input sources
type InputsConfig struct {
	Files   []FileInputConfig    `yaml:"files,omitempty"`
	Stdin   bool                 `yaml:"stdin,omitempty"`
	Network []NetworkInputConfig `yaml:"network,omitempty"`
	HTTP    *HTTPInputConfig     `yaml:"http,omitempty"`
}

// FileInputConfig defines file input configuration
type FileInputConfig struct {
	Paths              []string             `yaml:"paths"`
	CheckpointPath     string               `yaml:"checkpoint_path"`
	CheckpointInterval time.Duration        `yaml:"checkpoint_interval"`
	FromBeginning      bool                 `yaml:"from_beginning,omitempty"`
	Parser             *parser.ParserConfig `yaml:"parser,omitempty"`
}

// NetworkInputConfig defines a TCP or UDP line listener
type NetworkInputConfig struct {
	input.NetworkConfig `yaml:",inline"`

	Name   string               `yaml:"name"`
	Parser *parser.ParserConfig `yaml:"parser,omitempty"`
}

// HTTPInputConfig defines the resolve API
type HTTPInputConfig struct {
	Address      string        `yaml:"address"`
	APIKeys      []string      `yaml:"api_keys,omitempty"`
	RateLimit    int           `yaml:"rate_limit,omitempty"` // Requests per second per client
	MaxBodySize  int64         `yaml:"max_body_size,omitempty"`
	MaxBatchSize int           `yaml:"max_batch_size,omitempty"`
	TLSCert      string        `yaml:"tls_cert,omitempty"`
	TLSKey       string        `yaml:"tls_key,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// WorkerPoolConfig holds worker pool configuration
type WorkerPoolConfig struct {
	NumWorkers int           `yaml:"num_workers"`
	QueueSize  int           `yaml:"queue_size,omitempty"`
	JobTimeout time.Duration `yaml:"job_timeout,omitempty"`
}

// ShutdownConfig bounds how long draining may take
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig holds metrics configuration. When the HTTP input is enabled
// metrics are also served on its address.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Default values
const (
	DefaultCheckpointPath     = "/var/lib/jsonmessage/checkpoints"
	DefaultCheckpointInterval = 5 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultMetricsPath        = "/metrics"
	DefaultMetricsAddress     = ":9090"
	DefaultMaxBodySize        = 10 * 1024 * 1024
	DefaultMaxBatchSize       = 1000
	DefaultDLQDir             = "/var/lib/jsonmessage/dlq"
	DefaultShutdownTimeout    = 30 * time.Second
)

// Override adjusts a configuration after it is read and before it is validated
type Override func(*Config)

// WithStdin enables the stdin input
func WithStdin(enabled bool) Override {
	return func(c *Config) {
		if enabled {
			c.Inputs.Stdin = true
		}
	}
}

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return finish(&cfg, overrides)
}

func finish(cfg *Config, overrides []Override) (*Config, error) {
	for _, o := range overrides {
		o(cfg)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Output.Type == "" {
		c.Output.Type = output.TypeStdout
	}
	if c.Output.Type == output.TypeKafka {
		applyKafkaDefaults(&c.Output.Kafka)
	}
	if c.Parser == nil {
		c.Parser = parser.DefaultParserConfig()
	}
	if c.Resolver.MaxDepth == 0 {
		c.Resolver.MaxDepth = resolver.DefaultMaxDepth
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" && c.Inputs.HTTP == nil {
		c.Metrics.Address = DefaultMetricsAddress
	}

	if c.DLQ.Enabled && c.DLQ.Dir == "" {
		c.DLQ.Dir = DefaultDLQDir
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultShutdownTimeout
	}

	for i := range c.Inputs.Network {
		if c.Inputs.Network[i].Name == "" {
			c.Inputs.Network[i].Name = fmt.Sprintf("network-%d", i)
		}
	}

	for i := range c.Inputs.Files {
		if c.Inputs.Files[i].CheckpointPath == "" {
			c.Inputs.Files[i].CheckpointPath = DefaultCheckpointPath
		}
		if c.Inputs.Files[i].CheckpointInterval == 0 {
			c.Inputs.Files[i].CheckpointInterval = DefaultCheckpointInterval
		}
	}

	if h := c.Inputs.HTTP; h != nil {
		if h.MaxBodySize == 0 {
			h.MaxBodySize = DefaultMaxBodySize
		}
		if h.MaxBatchSize == 0 {
			h.MaxBatchSize = DefaultMaxBatchSize
		}
		if h.ReadTimeout == 0 {
			h.ReadTimeout = 30 * time.Second
		}
		if h.WriteTimeout == 0 {
			h.WriteTimeout = 30 * time.Second
		}
	}
}

func applyKafkaDefaults(k *output.KafkaConfig) {
	def := output.DefaultKafkaConfig()
	if len(k.Brokers) == 0 {
		k.Brokers = def.Brokers
	}
	if k.Topic == "" {
		k.Topic = def.Topic
	}
	if k.ClientID == "" {
		k.ClientID = def.ClientID
	}
	if k.Version == "" {
		k.Version = def.Version
	}
	if k.MaxMessageBytes == 0 {
		k.MaxMessageBytes = def.MaxMessageBytes
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Inputs.Files) == 0 && !c.Inputs.Stdin && len(c.Inputs.Network) == 0 && c.Inputs.HTTP == nil {
		return fmt.Errorf("at least one input must be configured")
	}

	for _, n := range c.Inputs.Network {
		if n.Address == "" {
			return fmt.Errorf("network input %s has no address configured", n.Name)
		}
		switch n.Protocol {
		case "", "tcp", "udp", "both":
		default:
			return fmt.Errorf("network input %s has invalid protocol: %s", n.Name, n.Protocol)
		}
		if n.TLSEnabled && (n.TLSCert == "" || n.TLSKey == "") {
			return fmt.Errorf("network input %s needs both tls_cert and tls_key", n.Name)
		}
	}

	for i, fileInput := range c.Inputs.Files {
		if len(fileInput.Paths) == 0 {
			return fmt.Errorf("file input %d has no paths configured", i)
		}
	}

	if h := c.Inputs.HTTP; h != nil {
		if h.Address == "" {
			return fmt.Errorf("HTTP input has no address configured")
		}
		if (h.TLSCert == "") != (h.TLSKey == "") {
			return fmt.Errorf("HTTP input needs both tls_cert and tls_key")
		}
		if h.RateLimit < 0 {
			return fmt.Errorf("HTTP input rate limit must not be negative")
		}
	}

	if c.Resolver.MaxDepth < 0 {
		return fmt.Errorf("resolver max_depth must not be negative: %d", c.Resolver.MaxDepth)
	}

	switch c.Output.Type {
	case output.TypeStdout, output.TypeKafka:
	case output.TypeFile:
		if c.Output.File.Path == "" {
			return fmt.Errorf("file output has no path configured")
		}
	default:
		return fmt.Errorf("invalid output type: %s", c.Output.Type)
	}

	if c.DLQ.MaxSize < 0 {
		return fmt.Errorf("dlq max_size must not be negative")
	}

	if c.Shutdown.Timeout < 0 {
		return fmt.Errorf("shutdown timeout must not be negative")
	}

	if c.WorkerPool.NumWorkers < 0 || c.WorkerPool.QueueSize < 0 {
		return fmt.Errorf("worker pool sizes must not be negative")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1")
	}

	return nil
}

// LoadOrDefault loads configuration from path, or builds the default
// configuration when path is empty
func LoadOrDefault(path string, overrides ...Override) (*Config, error) {
	if path == "" {
		return finish(DefaultConfig(), overrides)
	}
	return Load(path, overrides...)
}

// DefaultConfig returns a configuration that resolves lines from stdin and
// writes them to stdout
func DefaultConfig() *Config {
	return &Config{
		Inputs: InputsConfig{Stdin: true},
		Parser: parser.DefaultParserConfig(),
		Output: output.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics:  MetricsConfig{Path: DefaultMetricsPath},
		Shutdown: ShutdownConfig{Timeout: DefaultShutdownTimeout},
	}
}
