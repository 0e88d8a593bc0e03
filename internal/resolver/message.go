package resolver

import (
	"strings"

	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// TextKey holds the leftover message when no key/value pair was found
const TextKey = "text"

// ParseMessage turns an informal log message into an ordered map. Bracket
// tags come first in table order, followed by key/value segments in message
// order. A repeated key keeps its first position and takes the last value.
// When no segment is a pair, the trimmed leftover text is stored under
// TextKey.
func (r *Resolver) ParseMessage(s string) *types.OrderedMap {
	remaining, result := r.patterns.Extract(s)

	found := false
	for _, segment := range SplitTopLevel(remaining) {
		key, raw, ok := SplitKeyValue(strings.TrimSpace(segment))
		if !ok {
			continue
		}
		result.Set(key, r.coerce(raw, 0))
		found = true
	}

	if !found {
		if leftover := strings.TrimSpace(remaining); leftover != "" {
			result.Set(TextKey, types.String(leftover))
		}
	}

	return result
}
