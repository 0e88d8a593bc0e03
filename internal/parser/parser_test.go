package parser

import (
	"errors"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *ParserConfig
		wantErr bool
	}{
		{
			name: "create regex parser",
			config: &ParserConfig{
				Type:    ParserTypeRegex,
				Pattern: `^(?P<message>.*)$`,
			},
			wantErr: false,
		},
		{
			name: "create json parser",
			config: &ParserConfig{
				Type: ParserTypeJSON,
			},
			wantErr: false,
		},
		{
			name: "create plain parser",
			config: &ParserConfig{
				Type:   ParserTypePlain,
				Logger: "com.acme.Orders",
			},
			wantErr: false,
		},
		{
			name: "regex parser without pattern",
			config: &ParserConfig{
				Type: ParserTypeRegex,
			},
			wantErr: true,
		},
		{
			name: "nil config",
			config: nil,
			wantErr: true,
		},
		{
			name: "unknown parser type",
			config: &ParserConfig{
				Type: "unknown",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		formats []string
		wantErr bool
	}{
		{
			name:    "RFC3339 format",
			input:   "2024-01-15T10:30:00Z",
			formats: []string{time.RFC3339},
			wantErr: false,
		},
		{
			name:    "RFC3339Nano format",
			input:   "2024-01-15T10:30:00.123456789Z",
			formats: []string{time.RFC3339Nano},
			wantErr: false,
		},
		{
			name:    "custom format",
			input:   "2024-01-15 10:30:00",
			formats: []string{"2006-01-02 15:04:05"},
			wantErr: false,
		},
		{
			name:    "default formats - RFC3339",
			input:   "2024-01-15T10:30:00Z",
			formats: nil,
			wantErr: false,
		},
		{
			name:    "default formats - log4j comma millis",
			input:   "2024-01-15 10:30:00,123",
			formats: nil,
			wantErr: false,
		},
		{
			name:    "default formats - apache log",
			input:   "15/Jan/2024:10:30:00 -0700",
			formats: nil,
			wantErr: false,
		},
		{
			name:    "invalid timestamp",
			input:   "invalid-timestamp",
			formats: []string{time.RFC3339},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTimestamp(tt.input, tt.formats...)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimestamp() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"DEBUG", "debug"},
		{"debug", "debug"},
		{"TRACE", "trace"},
		{"trace", "trace"},
		{"INFO", "info"},
		{"info", "info"},
		{"information", "info"},
		{"WARN", "warn"},
		{"warn", "warn"},
		{"WARNING", "warn"},
		{"warning", "warn"},
		{"ERROR", "error"},
		{"error", "error"},
		{"ERR", "error"},
		{"err", "error"},
		{"FATAL", "fatal"},
		{"fatal", "fatal"},
		{"CRITICAL", "fatal"},
		{"critical", "fatal"},
		{"PANIC", "fatal"},
		{"panic", "fatal"},
		{"unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizeLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("NormalizeLogLevel(%s) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultParserConfig(t *testing.T) {
	config := DefaultParserConfig()

	if config.Type != ParserTypeRegex {
		t.Errorf("Default parser type = %v, want %v", config.Type, ParserTypeRegex)
	}

	if config.Pattern == "" {
		t.Error("Default pattern should not be empty")
	}

	if config.LoggerField != "logger" {
		t.Errorf("Default logger field = %v, want logger", config.LoggerField)
	}
}

func TestDefaultPattern(t *testing.T) {
	p, err := New(DefaultParserConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name        string
		line        string
		wantLogger  string
		wantLevel   string
		wantMessage string
		wantTime    time.Time
	}{
		{
			name:        "bracketed logger with comma millis",
			line:        "2024-01-15 10:30:00,123 WARN [com.acme.Orders] status: ok, attempt: 2",
			wantLogger:  "com.acme.Orders",
			wantLevel:   "warn",
			wantMessage: "status: ok, attempt: 2",
			wantTime:    time.Date(2024, 1, 15, 10, 30, 0, 123000000, time.UTC),
		},
		{
			name:        "dash separated message",
			line:        "2024-01-15T10:30:00Z INFO com.acme.Billing - {\"amount\": \"12.50\"}",
			wantLogger:  "com.acme.Billing",
			wantLevel:   "info",
			wantMessage: `{"amount": "12.50"}`,
			wantTime:    time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := p.Parse(tt.line, "test")
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if event.Logger != tt.wantLogger {
				t.Errorf("Logger = %q, want %q", event.Logger, tt.wantLogger)
			}
			if event.Level != tt.wantLevel {
				t.Errorf("Level = %q, want %q", event.Level, tt.wantLevel)
			}
			if event.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", event.Message, tt.wantMessage)
			}
			if !event.Timestamp.Equal(tt.wantTime) {
				t.Errorf("Timestamp = %v, want %v", event.Timestamp, tt.wantTime)
			}
			if len(event.Fields) != 0 {
				t.Errorf("Fields = %v, want none", event.Fields)
			}
		})
	}
}

func TestDefaultTimeFormats(t *testing.T) {
	formats := DefaultTimeFormats()

	if len(formats) == 0 {
		t.Error("DefaultTimeFormats() should return at least one format")
	}

	// Check that common formats are included
	expectedFormats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}

	formatMap := make(map[string]bool)
	for _, f := range formats {
		formatMap[f] = true
	}

	for _, expected := range expectedFormats {
		if !formatMap[expected] {
			t.Errorf("Expected format %s not found in default formats", expected)
		}
	}
}

func TestPlainParser_Parse(t *testing.T) {
	p := NewPlainParser(&ParserConfig{
		Type:         ParserTypePlain,
		Logger:       "com.acme.Orders",
		CustomFields: map[string]string{"env": "prod"},
	})

	event, err := p.Parse("order: 42, status: paid", "stdin")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if event.Message != "order: 42, status: paid" {
		t.Errorf("Message = %q", event.Message)
	}
	if event.Logger != "com.acme.Orders" {
		t.Errorf("Logger = %q, want com.acme.Orders", event.Logger)
	}
	if event.Fields["env"] != "prod" {
		t.Errorf("Fields = %v, want env=prod", event.Fields)
	}

	if _, err := p.Parse("", "stdin"); !errors.Is(err, ErrEmptyLine) {
		t.Errorf("Parse(\"\") error = %v, want ErrEmptyLine", err)
	}
	if p.Name() != "plain" {
		t.Errorf("Name() = %v, want plain", p.Name())
	}
}
