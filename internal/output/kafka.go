package output

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/security"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// KafkaConfig contains Kafka-specific configuration
type KafkaConfig struct {
	Name string `yaml:"name,omitempty"`

	// Brokers is the list of Kafka broker addresses
	Brokers []string `yaml:"brokers"`

	// Topic is the default Kafka topic to send messages to
	Topic string `yaml:"topic"`

	// TopicField optionally names an event field used for topic routing
	TopicField string `yaml:"topic_field,omitempty"`

	// PartitionStrategy defines how to partition messages (hash, random, round-robin)
	PartitionStrategy string `yaml:"partition_strategy,omitempty"`

	// RequiredAcks specifies the number of acknowledgments required (0, 1, -1)
	RequiredAcks int16 `yaml:"required_acks,omitempty"`

	// CompressionCodec specifies the compression codec (none, gzip, snappy, lz4, zstd)
	CompressionCodec string `yaml:"compression_codec,omitempty"`

	// MaxMessageBytes is the maximum size of a single message
	MaxMessageBytes int `yaml:"max_message_bytes,omitempty"`

	// BatchSize and FlushInterval feed the producer's flush triggers
	BatchSize     int           `yaml:"batch_size,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`

	// MaxRetries bounds producer retries per message
	MaxRetries int `yaml:"max_retries,omitempty"`

	// IdempotentWrites enables idempotent producer for exactly-once semantics
	IdempotentWrites bool `yaml:"idempotent_writes,omitempty"`

	// EnableTLS enables TLS for connections
	EnableTLS bool               `yaml:"enable_tls,omitempty"`
	TLS       security.TLSConfig `yaml:"tls,omitempty"`

	// SASL configuration
	SASLEnabled   bool   `yaml:"sasl_enabled,omitempty"`
	SASLMechanism string `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	SASLUsername  string `yaml:"sasl_username,omitempty"`
	SASLPassword  string `yaml:"sasl_password,omitempty"`

	// ClientID is the client identifier
	ClientID string `yaml:"client_id,omitempty"`

	// Version is the Kafka protocol version
	Version string `yaml:"version,omitempty"`
}

// DefaultKafkaConfig returns default Kafka configuration
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:           []string{"localhost:9092"},
		Topic:             "resolved-logs",
		PartitionStrategy: "hash",
		RequiredAcks:      1,
		CompressionCodec:  "none",
		MaxMessageBytes:   1000000, // 1MB
		MaxRetries:        3,
		ClientID:          "jsonmessage",
		Version:           "3.0.0",
	}
}

// KafkaOutput publishes resolved events to Kafka, keyed by logger name so
// one component's events stay on one partition
type KafkaOutput struct {
	config   KafkaConfig
	producer sarama.SyncProducer
	metrics  tracker
	closed   atomic.Bool
}

// NewKafkaOutput creates a new Kafka output
func NewKafkaOutput(config KafkaConfig) (*KafkaOutput, error) {
	saramaConfig, err := config.saramaConfig()
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return newKafkaOutputWithProducer(config, producer), nil
}

func newKafkaOutputWithProducer(config KafkaConfig, producer sarama.SyncProducer) *KafkaOutput {
	return &KafkaOutput{config: config, producer: producer}
}

// saramaConfig validates the settings and translates them for sarama
func (c KafkaConfig) saramaConfig() (*sarama.Config, error) {
	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers specified")
	}

	if c.Topic == "" {
		return nil, fmt.Errorf("no topic specified")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.RequiredAcks(c.RequiredAcks)
	cfg.Producer.Idempotent = c.IdempotentWrites
	if c.IdempotentWrites {
		// sarama rejects idempotence without these
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Net.MaxOpenRequests = 1
	}
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}

	switch c.CompressionCodec {
	case "", "none":
		cfg.Producer.Compression = sarama.CompressionNone
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("unsupported compression codec: %s", c.CompressionCodec)
	}

	switch c.PartitionStrategy {
	case "random":
		cfg.Producer.Partitioner = sarama.NewRandomPartitioner
	case "round-robin":
		cfg.Producer.Partitioner = sarama.NewRoundRobinPartitioner
	case "", "hash":
		cfg.Producer.Partitioner = sarama.NewHashPartitioner
	default:
		return nil, fmt.Errorf("unsupported partition strategy: %s", c.PartitionStrategy)
	}

	if c.MaxMessageBytes > 0 {
		cfg.Producer.MaxMessageBytes = c.MaxMessageBytes
	}
	if c.BatchSize > 1 {
		cfg.Producer.Flush.Messages = c.BatchSize
	}
	if c.FlushInterval > 0 {
		cfg.Producer.Flush.Frequency = c.FlushInterval
	}
	if c.MaxRetries > 0 {
		cfg.Producer.Retry.Max = c.MaxRetries
	}

	if c.Version != "" {
		version, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka version: %w", err)
		}
		cfg.Version = version
	}

	if c.SASLEnabled {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.User = c.SASLUsername
		cfg.Net.SASL.Password = c.SASLPassword

		switch c.SASLMechanism {
		case "SCRAM-SHA-256":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	if c.EnableTLS {
		tlsConfig, err := security.ClientTLS(c.TLS)
		if err != nil {
			return nil, fmt.Errorf("invalid Kafka TLS settings: %w", err)
		}
		cfg.Net.TLS.Enable = true
		cfg.Net.TLS.Config = tlsConfig
	}

	return cfg, nil
}

// Send publishes a single event
func (k *KafkaOutput) Send(ctx context.Context, event *types.ResolvedEvent) error {
	if k.closed.Load() {
		return ErrOutputClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, value, err := k.buildMessage(event)
	if err != nil {
		k.metrics.failure(err)
		return err
	}

	start := time.Now()
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		err = fmt.Errorf("failed to send message to Kafka: %w", err)
		k.metrics.failure(err)
		return err
	}

	k.metrics.success(len(value), time.Since(start))
	return nil
}

// buildMessage creates a Kafka producer message from a resolved event
func (k *KafkaOutput) buildMessage(event *types.ResolvedEvent) (*sarama.ProducerMessage, []byte, error) {
	topic := k.config.Topic
	if k.config.TopicField != "" {
		if v, ok := event.Fields[k.config.TopicField]; ok && v != "" {
			topic = v
		}
	}

	value, err := encodeLine(event)
	if err != nil {
		return nil, nil, err
	}
	value = value[:len(value)-1] // drop the line terminator

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if event.Logger != "" {
		msg.Key = sarama.StringEncoder(event.Logger)
	}

	return msg, value, nil
}

// Close closes the Kafka output
func (k *KafkaOutput) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	return k.producer.Close()
}

// Name returns the output name
func (k *KafkaOutput) Name() string {
	if k.config.Name != "" {
		return k.config.Name
	}
	return TypeKafka
}

// Metrics returns the current metrics
func (k *KafkaOutput) Metrics() *OutputMetrics {
	return k.metrics.snapshot()
}
