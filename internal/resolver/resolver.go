// Package resolver turns free-form log messages into structured values.
//
// Messages from eligible components are normalized in stages: curly quotes
// are straightened, a message that already is a JSON object or array is
// walked so that string leaves holding encoded JSON, numbers or booleans
// get their real types, and anything else is read as a comma separated list
// of key/value pairs with optional bracket tags such as {api:OrderAPI}.
//
// A Resolver is immutable once built and safe for concurrent use.
package resolver

import (
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/jsonmessage/internal/logging"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// Name identifies the resolver in configuration and metrics
const Name = "JsonMessage"

const (
	// DefaultMaxDepth bounds nested JSON decoding of string leaves
	DefaultMaxDepth = 32

	// MaxNesting bounds bracket nesting within any text handed to a decoder.
	// Deeper text is not treated as JSON, which keeps decoding time linear
	// in the message length.
	MaxNesting = 64

	// maxLoggedMessage caps how much of a message goes into a warning
	maxLoggedMessage = 256
)

// Outcome records which path produced a result
type Outcome string

const (
	OutcomeEmpty       Outcome = "empty"
	OutcomePassthrough Outcome = "passthrough"
	OutcomeDocument    Outcome = "document"
	OutcomeFields      Outcome = "fields"
	OutcomeFallback    Outcome = "fallback"
)

// Config holds resolver configuration
type Config struct {
	Components []string // Loggers whose messages are structured
	Tags       []string // Bracket tag names, DefaultTagNames when empty
	MaxDepth   int      // Nested decode bound, DefaultMaxDepth when zero
	Strict     bool     // Disable the lenient JSON decoder
}

// Result is the outcome of resolving one message
type Result struct {
	Value   types.Value
	Outcome Outcome
}

// Resolver structures log messages
type Resolver struct {
	filter   ComponentFilter
	patterns *PatternSet
	decoders DecoderChain
	maxDepth int
	logger   *logging.Logger
}

// New creates a resolver. A nil logger discards output.
func New(cfg Config, logger *logging.Logger) (*Resolver, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must not be negative: %d", cfg.MaxDepth)
	}
	maxDepth := cfg.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}

	tags := cfg.Tags
	if len(tags) == 0 {
		tags = DefaultTagNames
	}
	patterns, err := NewPatternSet(tags...)
	if err != nil {
		return nil, fmt.Errorf("invalid tag patterns: %w", err)
	}

	r := &Resolver{
		filter:   NewComponentFilter(cfg.Components),
		patterns: patterns,
		decoders: DefaultDecoders(cfg.Strict),
		maxDepth: maxDepth,
		logger:   logger.WithComponent("resolver"),
	}

	if r.filter.Empty() {
		r.logger.Info().Msg("No target components configured, messages will pass through unchanged")
	} else {
		r.logger.Info().
			Strs("components", r.filter.Components()).
			Strs("tags", patterns.Names()).
			Int("max_depth", maxDepth).
			Msg("Resolver initialized")
	}

	return r, nil
}

// IsEligible reports whether messages from componentID are structured
func (r *Resolver) IsEligible(componentID string) bool {
	return r.filter.IsEligible(componentID)
}

// Resolve structures one message. It never fails: a blank message yields an
// empty string, an ineligible component gets its message back verbatim, and
// an unexpected failure while structuring falls back to the original text.
func (r *Resolver) Resolve(msg types.RawMessage) (res Result) {
	if strings.TrimSpace(msg.Message) == "" {
		return Result{Value: types.String(""), Outcome: OutcomeEmpty}
	}

	if !r.filter.IsEligible(msg.Component) {
		r.logger.Debug().Str("logger", msg.Component).Msg("Component not targeted, passing message through")
		return Result{Value: types.String(msg.Message), Outcome: OutcomePassthrough}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn().
				Str("logger", msg.Component).
				Str("message", logging.Truncate(msg.Message, maxLoggedMessage)).
				Str("error", fmt.Sprint(rec)).
				Msg("Failed to structure message, passing it through")
			res = Result{Value: types.String(msg.Message), Outcome: OutcomeFallback}
		}
	}()

	normalized := NormalizeQuotes(msg.Message)

	if doc, ok := ParseDocument(normalized); ok {
		return Result{Value: r.walk(doc, 0), Outcome: OutcomeDocument}
	}

	return Result{Value: types.Map(r.ParseMessage(normalized)), Outcome: OutcomeFields}
}
