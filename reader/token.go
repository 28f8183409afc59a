package reader

import "fmt"

// TokenType identifies the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenLParen
	TokenRParen
	TokenVector // #(
	TokenDot
	TokenQuote           // '
	TokenQuasiquote      // `
	TokenUnquote         // ,
	TokenUnquoteSplicing // ,@
	TokenString
	TokenChar
	TokenTrue
	TokenFalse
	TokenInteger
	TokenSymbol
)

var tokenNames = map[TokenType]string{
	TokenEOF:             "EOF",
	TokenLParen:          "(",
	TokenRParen:          ")",
	TokenVector:          "#(",
	TokenDot:             ".",
	TokenQuote:           "'",
	TokenQuasiquote:      "`",
	TokenUnquote:         ",",
	TokenUnquoteSplicing: ",@",
	TokenString:          "STRING",
	TokenChar:            "CHAR",
	TokenTrue:            "#t",
	TokenFalse:           "#f",
	TokenInteger:         "INTEGER",
	TokenSymbol:          "SYMBOL",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", int(t))
}

// Token is a lexical token. Text holds the decoded string body, the
// character, the digits of an integer or the name of a symbol.
type Token struct {
	Type TokenType
	Text string
	Line int
}

func (t Token) String() string {
	if t.Text == "" {
		return t.Type.String()
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Text)
}
