// Package lexer provides lexical analysis for outpack queries.
// It turns query text into a stream of tokens for the parser.
package lexer

import (
	"errors"
	"fmt"
	"strconv"
)

// Lexer tokenizes query text.
//
// Lexer instances are not safe for concurrent use; create one per query via New().
type Lexer struct {
	source  string     // Query text to tokenize
	start   int        // Start position of current token
	current int        // Current position in source
	line    int        // Current line number (1-indexed)
	column  int        // Current column number (1-indexed)
	tokens  []Token    // Collected tokens
	errors  []LexError // Collected errors
}

// New creates a new Lexer for the given query text
func New(source string) *Lexer {
	return &Lexer{
		source:  source,
		start:   0,
		current: 0,
		line:    1,
		column:  1,
		tokens:  make([]Token, 0),
		errors:  make([]LexError, 0),
	}
}

// ScanTokens tokenizes the entire source and returns tokens and errors
func (l *Lexer) ScanTokens() ([]Token, []LexError) {
	for !l.isAtEnd() {
		l.start = l.current
		l.scanToken()
	}

	l.tokens = append(l.tokens, Token{
		Type:   TOKEN_EOF,
		Lexeme: "",
		Offset: l.current,
		Line:   l.line,
		Column: l.column,
	})

	return l.tokens, l.errors
}

// scanToken processes the next token
func (l *Lexer) scanToken() {
	c := l.advance()

	switch {
	case c == '(':
		l.addToken(TOKEN_LPAREN)
	case c == ')':
		l.addToken(TOKEN_RPAREN)
	case c == '!':
		l.scanBangToken()
	case c == '=' || c == '<' || c == '>':
		l.scanComparison(c)
	case c == '&':
		l.scanAmpersandToken()
	case c == '|':
		l.scanPipeToken()
	case c == '"' || c == '\'':
		l.string(c)
	case c == ' ' || c == '\r' || c == '\t':
		// Ignore whitespace
	case c == '\n':
		l.line++
		l.column = 1
	case c == '-' || c == '+':
		if l.isDigit(l.peek()) || (l.peek() == '.' && l.isDigit(l.peekNext())) {
			l.number()
		} else {
			l.addError(fmt.Sprintf("Unexpected character: '%c'", c))
		}
	case c == '.':
		if l.isDigit(l.peek()) {
			l.number()
		} else {
			l.addError("Unexpected character: '.'")
		}
	case l.isDigit(c):
		l.number()
	case l.isAlpha(c):
		l.identifier()
	default:
		l.addError(fmt.Sprintf("Unexpected character: '%c'", c))
	}
}

// scanBangToken handles ! and !=
func (l *Lexer) scanBangToken() {
	if l.match('=') {
		l.addToken(TOKEN_NEQ)
	} else {
		l.addToken(TOKEN_BANG)
	}
}

// scanComparison handles operators starting with = < or >. The operator is
// one or two characters from "=!<>"; only ==, <, >, <= and >= are valid.
func (l *Lexer) scanComparison(c byte) {
	if l.isOperatorChar(l.peek()) {
		l.advance()
	}

	switch op := l.source[l.start:l.current]; op {
	case "==":
		l.addToken(TOKEN_EQ)
	case "<":
		l.addToken(TOKEN_LT)
	case ">":
		l.addToken(TOKEN_GT)
	case "<=":
		l.addToken(TOKEN_LTE)
	case ">=":
		l.addToken(TOKEN_GTE)
	case "=":
		l.addError("Invalid operator '=' (did you mean '=='?)")
	default:
		l.addError(fmt.Sprintf("Invalid comparison operator '%s'", op))
	}
}

// scanAmpersandToken handles && (single & is an error)
func (l *Lexer) scanAmpersandToken() {
	if l.match('&') {
		l.addToken(TOKEN_DOUBLE_AMP)
	} else {
		l.addError("Unexpected character '&' (did you mean '&&'?)")
	}
}

// scanPipeToken handles || (single | is an error)
func (l *Lexer) scanPipeToken() {
	if l.match('|') {
		l.addToken(TOKEN_DOUBLE_PIPE)
	} else {
		l.addError("Unexpected character '|' (did you mean '||'?)")
	}
}

// string handles quoted literals. There are no escape sequences: a backslash
// or the opening quote character cannot appear inside the literal.
func (l *Lexer) string(quote byte) {
	startLine := l.line
	startColumn := l.column - 1

	for !l.isAtEnd() && l.peek() != quote {
		if l.peek() == '\\' {
			l.advance()
			l.addError("Backslash is not allowed in string literals")
			l.skipToQuote(quote)
			return
		}
		if l.peek() == '\n' {
			l.line++
			l.column = 0
		}
		l.advance()
	}

	if l.isAtEnd() {
		l.addError(fmt.Sprintf("Unterminated string starting at offset %d", l.start))
		return
	}

	// Consume closing quote
	l.advance()

	l.tokens = append(l.tokens, Token{
		Type:    TOKEN_STRING_LITERAL,
		Lexeme:  l.source[l.start:l.current],
		Literal: l.source[l.start+1 : l.current-1],
		Offset:  l.start,
		Line:    startLine,
		Column:  startColumn,
	})
}

// skipToQuote consumes the remainder of a bad string literal so scanning can continue
func (l *Lexer) skipToQuote(quote byte) {
	for !l.isAtEnd() && l.peek() != quote {
		l.advance()
	}
	if !l.isAtEnd() {
		l.advance()
	}
}

// number handles numeric literals: optional sign, digits with an optional
// fraction, optional exponent
func (l *Lexer) number() {
	for l.isDigit(l.peek()) {
		l.advance()
	}

	if l.peek() == '.' {
		l.advance()
		for l.isDigit(l.peek()) {
			l.advance()
		}
	}

	if l.peek() == 'e' || l.peek() == 'E' {
		l.advance()
		if l.peek() == '+' || l.peek() == '-' {
			l.advance()
		}
		if !l.isDigit(l.peek()) {
			l.addError("Invalid number: expected digits after exponent")
			return
		}
		for l.isDigit(l.peek()) {
			l.advance()
		}
	}

	lexeme := l.source[l.start:l.current]
	value, err := strconv.ParseFloat(lexeme, 64)
	if errors.Is(err, strconv.ErrRange) {
		// infinities have no literal form to print back
		l.addError(fmt.Sprintf("Number out of range: %s", lexeme))
		return
	}
	if err != nil {
		l.addError(fmt.Sprintf("Invalid number literal: %s", lexeme))
		return
	}
	l.addTokenWithLiteral(TOKEN_NUMBER_LITERAL, value)
}

// identifier handles keywords, lookups and bare words
func (l *Lexer) identifier() {
	for l.isAlphaNumeric(l.peek()) {
		l.advance()
	}

	text := l.source[l.start:l.current]

	if lookup, ok := LookupPrefixes[text]; ok && l.peek() == ':' {
		l.lookup(lookup, text)
		return
	}

	tokenType, isKeyword := Keywords[text]
	if !isKeyword {
		tokenType = TOKEN_IDENTIFIER
	}

	switch tokenType {
	case TOKEN_TRUE:
		l.addTokenWithLiteral(tokenType, true)
	case TOKEN_FALSE:
		l.addTokenWithLiteral(tokenType, false)
	default:
		l.addToken(tokenType)
	}
}

// lookup handles "<prefix>:<key>"; no whitespace is allowed around the colon
func (l *Lexer) lookup(tokenType TokenType, prefix string) {
	l.advance() // consume ':'

	keyStart := l.current
	for l.isAlphaNumeric(l.peek()) {
		l.advance()
	}

	if l.current == keyStart {
		l.addError(fmt.Sprintf("Expected identifier after '%s:'", prefix))
		return
	}

	l.addTokenWithLiteral(tokenType, l.source[keyStart:l.current])
}

// Helper methods

// isAtEnd checks if we've reached the end of the source
func (l *Lexer) isAtEnd() bool {
	return l.current >= len(l.source)
}

// advance consumes and returns the current character
func (l *Lexer) advance() byte {
	if l.isAtEnd() {
		return 0
	}
	c := l.source[l.current]
	l.current++
	l.column++
	return c
}

// match checks if the current character matches expected and consumes it
func (l *Lexer) match(expected byte) bool {
	if l.isAtEnd() || l.source[l.current] != expected {
		return false
	}
	l.current++
	l.column++
	return true
}

// peek returns the current character without consuming it
func (l *Lexer) peek() byte {
	if l.isAtEnd() {
		return 0
	}
	return l.source[l.current]
}

// peekNext returns the next character without consuming
func (l *Lexer) peekNext() byte {
	if l.current+1 >= len(l.source) {
		return 0
	}
	return l.source[l.current+1]
}

func (l *Lexer) isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (l *Lexer) isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		c == '_'
}

func (l *Lexer) isAlphaNumeric(c byte) bool {
	return l.isAlpha(c) || l.isDigit(c)
}

func (l *Lexer) isOperatorChar(c byte) bool {
	return c == '=' || c == '!' || c == '<' || c == '>'
}

// addToken adds a token with the current lexeme
func (l *Lexer) addToken(tokenType TokenType) {
	l.addTokenWithLiteral(tokenType, nil)
}

// addTokenWithLiteral adds a token with a literal value
func (l *Lexer) addTokenWithLiteral(tokenType TokenType, literal interface{}) {
	l.tokens = append(l.tokens, Token{
		Type:    tokenType,
		Lexeme:  l.source[l.start:l.current],
		Literal: literal,
		Offset:  l.start,
		Line:    l.line,
		Column:  l.column - (l.current - l.start),
	})
}

// addError records a lexical error
func (l *Lexer) addError(message string) {
	lexeme := ""
	if l.start < len(l.source) {
		end := l.current
		if end > l.start+20 {
			end = l.start + 20
		}
		lexeme = l.source[l.start:end]
	}

	l.errors = append(l.errors, LexError{
		Message: message,
		Offset:  l.start,
		Line:    l.line,
		Column:  l.column - (l.current - l.start),
		Lexeme:  lexeme,
	})
}

// IsIdentifier reports whether s can be used as a lookup key
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}
