package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// DefaultTagNames are the bracket tags extracted when none are configured
var DefaultTagNames = []string{"api", "proxy"}

// TagPattern matches one bracket tag such as {api:OrderAPI}. The captured
// text runs up to the next closing brace.
type TagPattern struct {
	Name string
	re   *regexp.Regexp
}

// PatternSet is an ordered, read-only table of bracket tags. Table order
// decides extraction order and therefore key order in the result.
type PatternSet struct {
	patterns []TagPattern
}

// NewPatternSet compiles a pattern for each tag name
func NewPatternSet(names ...string) (*PatternSet, error) {
	seen := make(map[string]bool, len(names))
	patterns := make([]TagPattern, 0, len(names))

	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("tag name is empty")
		}
		if strings.ContainsAny(name, "{}:") {
			return nil, fmt.Errorf("tag name %q contains a reserved character", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate tag name %q", name)
		}
		seen[name] = true

		re, err := regexp.Compile(`\{` + regexp.QuoteMeta(name) + `:([^}]+)\}`)
		if err != nil {
			return nil, fmt.Errorf("failed to compile tag pattern %q: %w", name, err)
		}
		patterns = append(patterns, TagPattern{Name: name, re: re})
	}

	return &PatternSet{patterns: patterns}, nil
}

// Names returns the tag names in table order
func (p *PatternSet) Names() []string {
	names := make([]string, len(p.patterns))
	for i, pattern := range p.patterns {
		names[i] = pattern.Name
	}
	return names
}

// Extract pulls every tag occurrence out of s. It returns the text with all
// matched tags cut out and a map of tag name to captured text: a string for
// a single occurrence, a list of strings in match order for several.
func (p *PatternSet) Extract(s string) (string, *types.OrderedMap) {
	tags := types.NewOrderedMap()
	remaining := s

	for _, pattern := range p.patterns {
		matches := pattern.re.FindAllStringSubmatchIndex(remaining, -1)
		if len(matches) == 0 {
			continue
		}

		captured := make([]string, 0, len(matches))
		var b strings.Builder
		last := 0
		for _, m := range matches {
			captured = append(captured, remaining[m[2]:m[3]])
			b.WriteString(remaining[last:m[0]])
			last = m[1]
		}
		b.WriteString(remaining[last:])
		remaining = b.String()

		if len(captured) == 1 {
			tags.Set(pattern.Name, types.String(captured[0]))
		} else {
			tags.Set(pattern.Name, types.Strings(captured))
		}
	}

	return remaining, tags
}
