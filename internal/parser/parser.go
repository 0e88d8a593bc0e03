package parser

import (
	"errors"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// ErrEmptyLine is returned for lines with no content
var ErrEmptyLine = errors.New("empty log line")

// Parser splits a raw log line into a LogEvent whose Message and Logger
// feed the resolver
type Parser interface {
	// Parse parses a raw log line into a LogEvent
	Parse(line string, source string) (*types.LogEvent, error)

	// Name returns the parser name
	Name() string
}

// ParserType represents different parser types
type ParserType string

const (
	ParserTypeRegex ParserType = "regex"
	ParserTypeJSON  ParserType = "json"
	ParserTypePlain ParserType = "plain"
)

// ParserConfig holds parser configuration
type ParserConfig struct {
	Type         ParserType        `yaml:"type"`
	Pattern      string            `yaml:"pattern,omitempty"`       // For regex parsers
	TimeFormat   string            `yaml:"time_format,omitempty"`   // Time parsing format
	TimeField    string            `yaml:"time_field,omitempty"`    // Field containing timestamp
	LevelField   string            `yaml:"level_field,omitempty"`   // Field containing log level
	LoggerField  string            `yaml:"logger_field,omitempty"`  // Field containing the logger name
	MessageField string            `yaml:"message_field,omitempty"` // Field containing message
	Logger       string            `yaml:"logger,omitempty"`        // Logger name when the line carries none
	CustomFields map[string]string `yaml:"custom_fields,omitempty"` // Custom fields to add
}

// New creates a new parser based on the configuration
func New(cfg *ParserConfig) (Parser, error) {
	if cfg == nil {
		return nil, fmt.Errorf("parser configuration is nil")
	}

	switch cfg.Type {
	case ParserTypeRegex:
		return NewRegexParser(cfg)
	case ParserTypeJSON:
		return NewJSONParser(cfg)
	case ParserTypePlain:
		return NewPlainParser(cfg), nil
	default:
		return nil, fmt.Errorf("unknown parser type: %s", cfg.Type)
	}
}

// DefaultPattern matches log4j style layouts such as
// "2024-01-15 10:30:00,123 INFO [com.acme.Orders] - status: ok"
const DefaultPattern = `^(?P<timestamp>\d{4}-\d{2}-\d{2}[ T][\d:.,]+\S*)\s+(?P<level>[A-Za-z]+)\s+\[?(?P<logger>[^\]\s]+)\]?\s+(?:-\s+)?(?P<message>.*)$`

// DefaultParserConfig returns a default parser configuration
func DefaultParserConfig() *ParserConfig {
	return &ParserConfig{
		Type:         ParserTypeRegex,
		Pattern:      DefaultPattern,
		TimeField:    "timestamp",
		LevelField:   "level",
		LoggerField:  "logger",
		MessageField: "message",
	}
}

// ParseTimestamp attempts to parse a timestamp from a string using multiple formats
func ParseTimestamp(ts string, formats ...string) (time.Time, error) {
	if len(formats) == 0 {
		formats = DefaultTimeFormats()
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp: %s", ts)
}

// DefaultTimeFormats returns common timestamp formats
func DefaultTimeFormats() []string {
	return []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05,000",
		"2006/01/02 15:04:05",
		"02/Jan/2006:15:04:05 -0700",
	}
}

// NormalizeLogLevel normalizes log level strings to standard values
func NormalizeLogLevel(level string) string {
	switch level {
	case "TRACE", "trace":
		return "trace"
	case "DEBUG", "debug":
		return "debug"
	case "INFO", "info", "information", "INFORMATION":
		return "info"
	case "WARN", "warn", "WARNING", "warning":
		return "warn"
	case "ERROR", "error", "ERR", "err":
		return "error"
	case "FATAL", "fatal", "CRITICAL", "critical", "PANIC", "panic":
		return "fatal"
	default:
		return level
	}
}

// parseTime reads ts with the configured format, or the defaults when none
// is set
func parseTime(ts, format string) (time.Time, error) {
	if format != "" {
		return time.Parse(format, ts)
	}
	return ParseTimestamp(ts)
}

func rawEvent(line, source, logger string) *types.LogEvent {
	return &types.LogEvent{
		Timestamp: time.Now(),
		Message:   line,
		Logger:    logger,
		Source:    source,
		Fields:    make(map[string]string),
		Raw:       line,
	}
}
