package resolver

import "strings"

// ComponentFilter decides which loggers get their messages structured.
// A component is eligible when its name equals, starts with or ends with
// one of the configured names.
type ComponentFilter struct {
	components []string
}

// NewComponentFilter builds a filter from configured names. Blank names
// are dropped since they would match every component.
func NewComponentFilter(components []string) ComponentFilter {
	names := make([]string, 0, len(components))
	for _, c := range components {
		if strings.TrimSpace(c) == "" {
			continue
		}
		names = append(names, c)
	}
	return ComponentFilter{components: names}
}

// IsEligible reports whether messages from componentID should be structured
func (f ComponentFilter) IsEligible(componentID string) bool {
	if componentID == "" {
		return false
	}
	for _, c := range f.components {
		if componentID == c || strings.HasPrefix(componentID, c) || strings.HasSuffix(componentID, c) {
			return true
		}
	}
	return false
}

// Components returns the configured names
func (f ComponentFilter) Components() []string {
	out := make([]string, len(f.components))
	copy(out, f.components)
	return out
}

// Empty reports whether no component is configured
func (f ComponentFilter) Empty() bool {
	return len(f.components) == 0
}
