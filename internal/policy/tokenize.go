package policy

import "strings"

// Tokenize splits a command line into words. A double or single quote
// opens a span that is closed only by the same quote character; the
// quote characters themselves are dropped and whitespace inside the
// span is preserved. Backslashes have no special meaning. An
// unterminated quote is not an error: the remainder of the string
// becomes part of the final token.
func Tokenize(command string) []string {
	var tokens []string
	var current strings.Builder
	var inQuote rune

	for _, ch := range command {
		if inQuote != 0 {
			if ch == inQuote {
				inQuote = 0
			} else {
				current.WriteRune(ch)
			}
			continue
		}

		if ch == '"' || ch == '\'' {
			inQuote = ch
			continue
		}

		if ch == ' ' || ch == '\t' || ch == '\n' {
			if current.Len() > 0 {
				tokens = append(tokens, current.String())
				current.Reset()
			}
			continue
		}

		current.WriteRune(ch)
	}

	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}
