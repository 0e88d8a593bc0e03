package resolver

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
)

// numberPattern is the accepted decimal grammar: optional minus, digits
// with an optional fraction (or a bare fraction), optional exponent.
// No thousands separators, no leading plus.
var numberPattern = regexp.MustCompile(`^-?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?$`)

// Coerce converts a raw value into the most specific structured value it
// represents. With allowJSON set, text wrapped in {} or [] is decoded and
// walked; otherwise, or when decoding fails, the text is tried as a
// boolean, a decimal, and a double-quoted string, in that order. Anything
// else comes back as the raw string.
func (r *Resolver) Coerce(raw string, allowJSON bool) types.Value {
	depth := 0
	if !allowJSON {
		depth = r.maxDepth
	}
	return r.coerce(raw, depth)
}

// Walk re-coerces every string leaf of v, keeping map key order and
// sequence order. Strings that hold encoded JSON are unpacked.
func (r *Resolver) Walk(v types.Value) types.Value {
	return r.walk(v, 0)
}

// coerce carries depth, the number of JSON decodes already performed on the
// way to this leaf. Once depth reaches maxDepth, JSON decoding stops.
func (r *Resolver) coerce(raw string, depth int) types.Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return types.String(raw)
	}

	text := NormalizeQuotes(trimmed)

	if depth < r.maxDepth && looksLikeJSON(text) {
		if v, ok := r.decoders.Decode(text); ok {
			return r.walk(v, depth+1)
		}
	}

	if strings.EqualFold(text, "true") {
		return types.Bool(true)
	}
	if strings.EqualFold(text, "false") {
		return types.Bool(false)
	}

	if d, ok := parseDecimal(text); ok {
		return types.Number(d)
	}

	if inner, ok := unquote(text); ok {
		return types.String(inner)
	}

	return types.String(raw)
}

func (r *Resolver) walk(v types.Value, depth int) types.Value {
	switch v.Kind() {
	case types.KindString:
		s, _ := v.AsString()
		return r.coerce(s, depth)

	case types.KindMap:
		m, _ := v.AsMap()
		out := types.NewOrderedMap()
		m.Range(func(key string, item types.Value) bool {
			out.Set(key, r.walk(item, depth))
			return true
		})
		return types.Map(out)

	case types.KindList:
		items, _ := v.AsList()
		out := make([]types.Value, len(items))
		for i, item := range items {
			out[i] = r.walk(item, depth)
		}
		return types.List(out...)

	default:
		return v
	}
}

func parseDecimal(text string) (decimal.Decimal, bool) {
	if !numberPattern.MatchString(text) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// unquote strips one pair of surrounding double quotes. The inner text must
// not contain another unescaped double quote, so `"a" and "b"` is left as is.
func unquote(text string) (string, bool) {
	if len(text) < 2 || text[0] != '"' || text[len(text)-1] != '"' {
		return "", false
	}

	inner := text[1 : len(text)-1]
	escaped := false
	for i := 0; i < len(inner); i++ {
		switch {
		case escaped:
			escaped = false
		case inner[i] == '\\':
			escaped = true
		case inner[i] == '"':
			return "", false
		}
	}
	// a trailing backslash escapes the closing quote
	if escaped {
		return "", false
	}
	return inner, true
}
