package reader

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/chazu/ls9/vm"
	"github.com/michaelmacinnis/adapted"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for LS9 source
// ---------------------------------------------------------------------------

// charNames maps the names accepted after #\ to their characters.
var charNames = map[string]rune{
	"space":     ' ',
	"newline":   '\n',
	"linefeed":  '\n',
	"tab":       '\t',
	"return":    '\r',
	"nul":       0,
	"null":      0,
	"backspace": '\b',
	"escape":    0x1B,
	"altmode":   0x1B,
	"delete":    0x7F,
	"rubout":    0x7F,
}

// Lexer reads tokens from a rune stream. It never reads past the
// delimiter that ends a token, so a stream can be shared with read-char.
type Lexer struct {
	in   io.RuneScanner
	line int

	// truncated is set when input ends inside a token.
	truncated bool
}

// NewLexer creates a lexer over in.
func NewLexer(in io.RuneScanner) *Lexer {
	return &Lexer{in: in, line: 1}
}

func (l *Lexer) errorf(format string, args ...interface{}) error {
	return vm.Errorf(vm.KindSyntax, "line %d: %s", l.line, fmt.Sprintf(format, args...))
}

// read returns the next rune, or 0 and io.EOF.
func (l *Lexer) read() (rune, error) {
	r, _, err := l.in.ReadRune()
	if err != nil {
		return 0, err
	}
	if r == '\n' {
		l.line++
	}
	return r, nil
}

func (l *Lexer) unread(r rune) {
	if r == '\n' {
		l.line--
	}
	_ = l.in.UnreadRune()
}

func isDelimiter(r rune) bool {
	switch r {
	case '(', ')', '"', ';', '\'', '`', ',':
		return true
	}
	return unicode.IsSpace(r)
}

// skipWhitespaceAndComments consumes blanks and ; comments and returns
// the first significant rune.
func (l *Lexer) skipWhitespaceAndComments() (rune, error) {
	for {
		r, err := l.read()
		if err != nil {
			return 0, err
		}
		switch {
		case unicode.IsSpace(r):
		case r == ';':
			for r != '\n' {
				if r, err = l.read(); err != nil {
					return 0, err
				}
			}
		default:
			return r, nil
		}
	}
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	r, err := l.skipWhitespaceAndComments()
	if err == io.EOF {
		return Token{Type: TokenEOF, Line: l.line}, nil
	}
	if err != nil {
		return Token{}, err
	}
	tok := Token{Line: l.line}

	switch r {
	case '(':
		tok.Type = TokenLParen
	case ')':
		tok.Type = TokenRParen
	case '\'':
		tok.Type = TokenQuote
	case '`':
		tok.Type = TokenQuasiquote
	case ',':
		tok.Type = TokenUnquote
		next, err := l.read()
		switch {
		case err == nil && next == '@':
			tok.Type = TokenUnquoteSplicing
		case err == nil:
			l.unread(next)
		case err != io.EOF:
			return Token{}, err
		}
	case '"':
		return l.readString(tok)
	case '#':
		return l.readHash(tok)
	default:
		text, err := l.readAtom(r)
		if err != nil {
			return Token{}, err
		}
		tok.Text = text
		switch {
		case text == ".":
			tok.Type = TokenDot
			tok.Text = ""
		case isInteger(text):
			tok.Type = TokenInteger
		default:
			tok.Type = TokenSymbol
		}
	}
	return tok, nil
}

// readAtom collects the constituents of a symbol or number starting
// with first.
func (l *Lexer) readAtom(first rune) (string, error) {
	var sb strings.Builder
	sb.WriteRune(first)
	for {
		r, err := l.read()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if isDelimiter(r) {
			l.unread(r)
			return sb.String(), nil
		}
		sb.WriteRune(r)
	}
}

// readString reads a string body up to the closing quote and decodes its
// escapes.
func (l *Lexer) readString(tok Token) (Token, error) {
	var raw strings.Builder
	escaped := false
	for {
		r, err := l.read()
		if err == io.EOF {
			l.truncated = true
			return Token{}, l.errorf("unterminated string")
		}
		if err != nil {
			return Token{}, err
		}
		if r == '"' && !escaped {
			break
		}
		escaped = r == '\\' && !escaped
		raw.WriteRune(r)
	}
	s, err := adapted.ActualBytes(raw.String())
	if err != nil {
		return Token{}, l.errorf("bad escape in string %q", raw.String())
	}
	tok.Type = TokenString
	tok.Text = s
	return tok, nil
}

// readHash reads the syntax introduced by #.
func (l *Lexer) readHash(tok Token) (Token, error) {
	r, err := l.read()
	if err == io.EOF {
		l.truncated = true
		return Token{}, l.errorf("unexpected end of input after #")
	}
	if err != nil {
		return Token{}, err
	}
	switch r {
	case '(':
		tok.Type = TokenVector
		return tok, nil
	case '\\':
		return l.readChar(tok)
	}
	name, err := l.readAtom(r)
	if err != nil {
		return Token{}, err
	}
	switch name {
	case "t", "true":
		tok.Type = TokenTrue
	case "f", "false":
		tok.Type = TokenFalse
	default:
		return Token{}, l.errorf("unknown syntax #%s", name)
	}
	return tok, nil
}

// readChar reads the character after #\. A single rune stands for
// itself; longer names are looked up, and xHH... gives a code point.
func (l *Lexer) readChar(tok Token) (Token, error) {
	first, err := l.read()
	if err == io.EOF {
		l.truncated = true
		return Token{}, l.errorf("unexpected end of input after #\\")
	}
	if err != nil {
		return Token{}, err
	}
	tok.Type = TokenChar
	if isDelimiter(first) {
		tok.Text = string(first)
		return tok, nil
	}
	name, err := l.readAtom(first)
	if err != nil {
		return Token{}, err
	}
	if len([]rune(name)) == 1 {
		tok.Text = name
		return tok, nil
	}
	if c, ok := charNames[strings.ToLower(name)]; ok {
		tok.Text = string(c)
		return tok, nil
	}
	if name[0] == 'x' || name[0] == 'U' || name[0] == 'u' {
		if c, ok := parseHex(name[1:]); ok {
			tok.Text = string(c)
			return tok, nil
		}
	}
	return Token{}, l.errorf("unknown character name #\\%s", name)
}

// isInteger reports whether text is an optionally signed run of decimal
// digits.
func isInteger(text string) bool {
	if text[0] == '+' || text[0] == '-' {
		text = text[1:]
	}
	if text == "" {
		return false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseHex(s string) (rune, bool) {
	if s == "" || len(s) > 6 {
		return 0, false
	}
	var v rune
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | (c - '0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | (c - 'a' + 10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | (c - 'A' + 10)
		default:
			return 0, false
		}
	}
	return v, v <= vm.MaxChar
}
