package types

import "time"

// LogEvent represents a raw log entry after line parsing, before its
// message has been resolved into a structured value
type LogEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message"`
	Level     string            `json:"level,omitempty"`
	Logger    string            `json:"logger,omitempty"` // Component that emitted the line
	Source    string            `json:"source"`
	Fields    map[string]string `json:"fields,omitempty"`
	Raw       string            `json:"raw,omitempty"` // Original raw log line
	Retries   int               `json:"-"`             // Dead letter replays so far
}

// RawMessage is the resolver input: a message and the component that logged it
type RawMessage struct {
	Message   string
	Component string
}

// RawMessage returns the resolver input carried by the event
func (e *LogEvent) RawMessage() RawMessage {
	return RawMessage{Message: e.Message, Component: e.Logger}
}

// ResolvedEvent is a log event whose message has been through the resolver
type ResolvedEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level,omitempty"`
	Logger    string            `json:"logger,omitempty"`
	Source    string            `json:"source,omitempty"`
	Message   Value             `json:"message"`
	Outcome   string            `json:"-"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// RawLine is one line read by an input, before parsing
type RawLine struct {
	Text   string
	Source string
}

// FilePosition tracks the current position in a file
type FilePosition struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Inode  uint64 `json:"inode"`
}
