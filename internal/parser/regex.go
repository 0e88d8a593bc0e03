package parser

import (
	"fmt"
	"regexp"
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// RegexParser parses log lines using regular expressions with named groups
type RegexParser struct {
	pattern      *regexp.Regexp
	timeFormat   string
	timeField    string
	levelField   string
	loggerField  string
	messageField string
	logger       string
	customFields map[string]string
}

// NewRegexParser creates a new regex parser
func NewRegexParser(cfg *ParserConfig) (*RegexParser, error) {
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("regex pattern is required")
	}

	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile regex pattern: %w", err)
	}

	return &RegexParser{
		pattern:      pattern,
		timeFormat:   cfg.TimeFormat,
		timeField:    cfg.TimeField,
		levelField:   cfg.LevelField,
		loggerField:  cfg.LoggerField,
		messageField: cfg.MessageField,
		logger:       cfg.Logger,
		customFields: cfg.CustomFields,
	}, nil
}

// Parse parses a log line using regex pattern matching
func (p *RegexParser) Parse(line string, source string) (*types.LogEvent, error) {
	if line == "" {
		return nil, ErrEmptyLine
	}

	match := p.pattern.FindStringSubmatch(line)
	if match == nil {
		// If no match, return the raw line as message
		return rawEvent(line, source, p.logger), nil
	}

	// Extract named groups
	fields := make(map[string]string)
	for i, name := range p.pattern.SubexpNames() {
		if i != 0 && name != "" && i < len(match) {
			fields[name] = match[i]
		}
	}

	event := &types.LogEvent{
		Timestamp: time.Now(),
		Logger:    p.logger,
		Source:    source,
		Fields:    fields,
		Raw:       line,
	}

	if tsStr, ok := fields[p.timeField]; ok && p.timeField != "" {
		if ts, err := parseTime(tsStr, p.timeFormat); err == nil {
			event.Timestamp = ts
			delete(fields, p.timeField) // Remove from fields to avoid duplication
		}
	}

	if level, ok := fields[p.levelField]; ok && p.levelField != "" {
		event.Level = NormalizeLogLevel(level)
		delete(fields, p.levelField)
	}

	if logger, ok := fields[p.loggerField]; ok && p.loggerField != "" {
		event.Logger = logger
		delete(fields, p.loggerField)
	}

	event.Message = line
	if msg, ok := fields[p.messageField]; ok && p.messageField != "" {
		event.Message = msg
		delete(fields, p.messageField)
	}

	for key, value := range p.customFields {
		fields[key] = value
	}

	return event, nil
}

// Name returns the parser name
func (p *RegexParser) Name() string {
	return "regex"
}
