package parser

import (
	"time"

	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
	"github.com/tidwall/gjson"
)

var (
	commonLevelFields   = []string{"level", "severity", "loglevel", "log_level"}
	commonLoggerFields  = []string{"logger", "logger_name", "loggerName", "component"}
	commonMessageFields = []string{"msg", "message", "text", "log"}
)

// JSONParser parses JSON-lines log events. A message that is itself a JSON
// object or array is handed on as its raw JSON text.
type JSONParser struct {
	timeField    string
	timeFormat   string
	levelField   string
	loggerField  string
	messageField string
	logger       string
	customFields map[string]string
}

// NewJSONParser creates a new JSON parser
func NewJSONParser(cfg *ParserConfig) (*JSONParser, error) {
	return &JSONParser{
		timeField:    cfg.TimeField,
		timeFormat:   cfg.TimeFormat,
		levelField:   cfg.LevelField,
		loggerField:  cfg.LoggerField,
		messageField: cfg.MessageField,
		logger:       cfg.Logger,
		customFields: cfg.CustomFields,
	}, nil
}

// Parse parses a JSON log line
func (p *JSONParser) Parse(line string, source string) (*types.LogEvent, error) {
	if line == "" {
		return nil, ErrEmptyLine
	}

	if !gjson.Valid(line) {
		return rawEvent(line, source, p.logger), nil
	}
	doc := gjson.Parse(line)
	if !doc.IsObject() {
		return rawEvent(line, source, p.logger), nil
	}

	event := &types.LogEvent{
		Timestamp: time.Now(),
		Logger:    p.logger,
		Source:    source,
		Fields:    make(map[string]string),
		Raw:       line,
	}
	used := make(map[string]bool)

	if p.timeField != "" {
		if ts := doc.Get(gjson.Escape(p.timeField)); ts.Type == gjson.String {
			if parsed, err := parseTime(ts.Str, p.timeFormat); err == nil {
				event.Timestamp = parsed
				used[p.timeField] = true
			}
		}
	}

	if key, res, ok := lookupString(doc, p.levelField, commonLevelFields); ok {
		event.Level = NormalizeLogLevel(res.Str)
		used[key] = true
	}

	if key, res, ok := lookupString(doc, p.loggerField, commonLoggerFields); ok {
		event.Logger = res.Str
		used[key] = true
	}

	if key, res, ok := lookupMessage(doc, p.messageField); ok {
		event.Message = messageText(res)
		used[key] = true
	}

	// If still no message, use the entire line
	if event.Message == "" {
		event.Message = line
	}

	doc.ForEach(func(key, value gjson.Result) bool {
		if !used[key.Str] {
			event.Fields[key.Str] = fieldText(value)
		}
		return true
	})

	for key, value := range p.customFields {
		event.Fields[key] = value
	}

	return event, nil
}

// Name returns the parser name
func (p *JSONParser) Name() string {
	return "json"
}

// lookupString finds the configured field, or the first common field name
// when none is configured, holding a string value
func lookupString(doc gjson.Result, field string, common []string) (string, gjson.Result, bool) {
	candidates := common
	if field != "" {
		candidates = []string{field}
	}
	for _, name := range candidates {
		if res := doc.Get(gjson.Escape(name)); res.Type == gjson.String {
			return name, res, true
		}
	}
	return "", gjson.Result{}, false
}

func lookupMessage(doc gjson.Result, field string) (string, gjson.Result, bool) {
	candidates := commonMessageFields
	if field != "" {
		candidates = append([]string{field}, commonMessageFields...)
	}
	for _, name := range candidates {
		res := doc.Get(gjson.Escape(name))
		if res.Type == gjson.String || res.IsObject() || res.IsArray() {
			return name, res, true
		}
	}
	return "", gjson.Result{}, false
}

func messageText(res gjson.Result) string {
	if res.Type == gjson.String {
		return res.Str
	}
	return res.Raw
}

func fieldText(res gjson.Result) string {
	switch res.Type {
	case gjson.String:
		return res.Str
	case gjson.JSON:
		return res.Raw
	default:
		return res.String()
	}
}
