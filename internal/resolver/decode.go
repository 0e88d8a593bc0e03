package resolver

import (
	"math"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/shopspring/decimal"
	"github.com/therealutkarshpriyadarshi/jsonmessage/pkg/types"
	"github.com/tidwall/gjson"
)

// Decoder turns JSON text into a structured value. Decode reports false
// instead of returning an error: a failed decode only means the text is not
// that kind of JSON.
type Decoder interface {
	Decode(text string) (types.Value, bool)
	Name() string
}

// StrictDecoder accepts RFC 8259 JSON only
type StrictDecoder struct{}

// Decode validates text and converts it, keeping object key order and
// exact number literals
func (StrictDecoder) Decode(text string) (types.Value, bool) {
	if exceedsNesting(text, MaxNesting) || !gjson.Valid(text) {
		return types.Value{}, false
	}
	return fromResult(gjson.Parse(text)), true
}

// Name returns the decoder name
func (StrictDecoder) Name() string {
	return "strict"
}

// LenientDecoder repairs relaxed JSON (unquoted keys, single quotes,
// trailing commas, missing brackets) before decoding it strictly. Unquoted
// literals must be single tokens: "[see docs]" is prose, not a list.
type LenientDecoder struct{}

// Decode repairs text and decodes the result
func (LenientDecoder) Decode(text string) (types.Value, bool) {
	if exceedsNesting(text, MaxNesting) || hasAdjacentLiterals(text) {
		return types.Value{}, false
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return types.Value{}, false
	}
	return StrictDecoder{}.Decode(repaired)
}

// Name returns the decoder name
func (LenientDecoder) Name() string {
	return "lenient"
}

// DecoderChain tries decoders in order and keeps the first one that yields
// an object or array
type DecoderChain []Decoder

// DefaultDecoders returns the strict decoder followed, unless strict is
// set, by the lenient one
func DefaultDecoders(strict bool) DecoderChain {
	if strict {
		return DecoderChain{StrictDecoder{}}
	}
	return DecoderChain{StrictDecoder{}, LenientDecoder{}}
}

// Decode runs the chain
func (c DecoderChain) Decode(text string) (types.Value, bool) {
	for _, d := range c {
		v, ok := d.Decode(text)
		if !ok {
			continue
		}
		if k := v.Kind(); k == types.KindMap || k == types.KindList {
			return v, true
		}
	}
	return types.Value{}, false
}

// ParseDocument reports whether s is, as a whole, a strict JSON object or
// array. Bare scalars are rejected so plain text such as "42" is never
// taken for an existing document.
func ParseDocument(s string) (types.Value, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return types.Value{}, false
	}
	return DecoderChain{StrictDecoder{}}.Decode(trimmed)
}

// looksLikeJSON reports whether text is wrapped in {} or []
func looksLikeJSON(text string) bool {
	return (strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}")) ||
		(strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]"))
}

// exceedsNesting reports whether brackets outside quoted spans nest deeper
// than max
func exceedsNesting(text string, max int) bool {
	depth := 0
	inQuotes, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inQuotes = !inQuotes
		case inQuotes:
		case c == '{' || c == '[':
			depth++
			if depth > max {
				return true
			}
		case c == '}' || c == ']':
			depth--
		}
	}
	return false
}

// hasAdjacentLiterals reports whether an unquoted literal is followed, after
// whitespace only, by another literal or a quoted string
func hasAdjacentLiterals(text string) bool {
	var quote byte
	escaped := false
	inLiteral, afterLiteral := false, false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}

		switch c {
		case '"', '\'':
			if afterLiteral {
				return true
			}
			quote = c
			inLiteral, afterLiteral = false, false
		case ' ', '\t', '\n', '\r':
			if inLiteral {
				inLiteral, afterLiteral = false, true
			}
		case '{', '}', '[', ']', ',', ':':
			inLiteral, afterLiteral = false, false
		default:
			if afterLiteral {
				return true
			}
			inLiteral = true
		}
	}
	return false
}

func fromResult(res gjson.Result) types.Value {
	switch res.Type {
	case gjson.True:
		return types.Bool(true)
	case gjson.False:
		return types.Bool(false)
	case gjson.Number:
		if d, err := decimal.NewFromString(res.Raw); err == nil {
			return types.Number(d)
		}
		if math.IsInf(res.Num, 0) || math.IsNaN(res.Num) {
			return types.String(res.Raw)
		}
		return types.Number(decimal.NewFromFloat(res.Num))
	case gjson.String:
		return types.String(res.Str)
	case gjson.JSON:
		if res.IsArray() {
			items := make([]types.Value, 0)
			res.ForEach(func(_, item gjson.Result) bool {
				items = append(items, fromResult(item))
				return true
			})
			return types.List(items...)
		}
		m := types.NewOrderedMap()
		res.ForEach(func(key, item gjson.Result) bool {
			m.Set(key.Str, fromResult(item))
			return true
		})
		return types.Map(m)
	default:
		return types.Null()
	}
}
