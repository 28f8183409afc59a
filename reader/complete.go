package reader

import "strings"

// Complete reports whether src holds only whole data: every list and
// vector is closed, no string or character literal is cut short and no
// quote prefix is waiting for its datum. Malformed input counts as
// complete so the reader can report it.
func Complete(src string) bool {
	lx := NewLexer(strings.NewReader(src))
	depth := 0
	pending := false
	for {
		tok, err := lx.Next()
		if err != nil {
			return !lx.truncated
		}
		switch tok.Type {
		case TokenEOF:
			return depth <= 0 && !pending
		case TokenLParen, TokenVector:
			depth++
			pending = false
		case TokenRParen:
			depth--
			pending = false
		case TokenQuote, TokenQuasiquote, TokenUnquote, TokenUnquoteSplicing:
			pending = true
		default:
			pending = false
		}
	}
}
