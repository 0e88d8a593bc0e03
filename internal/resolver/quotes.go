package resolver

import "strings"

// quoteReplacer folds typographic quotes onto their ASCII forms
var quoteReplacer = strings.NewReplacer(
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2018", "'",
	"\u2019", "'",
)

// NormalizeQuotes replaces curly double and single quotes with straight
// ASCII quotes. Every other character is left untouched.
func NormalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}
