package parser

import (
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// PlainParser treats the whole line as the message of a fixed logger
type PlainParser struct {
	logger       string
	customFields map[string]string
}

// NewPlainParser creates a new plain parser
func NewPlainParser(cfg *ParserConfig) *PlainParser {
	return &PlainParser{
		logger:       cfg.Logger,
		customFields: cfg.CustomFields,
	}
}

// Parse wraps the line in an event
func (p *PlainParser) Parse(line string, source string) (*types.LogEvent, error) {
	if line == "" {
		return nil, ErrEmptyLine
	}

	event := rawEvent(line, source, p.logger)
	for key, value := range p.customFields {
		event.Fields[key] = value
	}
	return event, nil
}

// Name returns the parser name
func (p *PlainParser) Name() string {
	return "plain"
}
