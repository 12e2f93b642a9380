package parser

import (
	"fmt"

	"github.com/mrc-ide/outpack-server/internal/query/ast"
	"github.com/mrc-ide/outpack-server/internal/query/lexer"
)

// ParseError represents malformed query text. Offset is the byte offset at
// which parsing failed; Expected describes what the parser wanted there.
type ParseError struct {
	Offset   int
	Expected string
	Location ast.SourceLocation
	Token    lexer.Token
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Token.Type == lexer.TOKEN_EOF {
		return fmt.Sprintf("Parse error at offset %d: %s (at end of query)", e.Offset, e.Expected)
	}
	return fmt.Sprintf("Parse error at offset %d: %s (near '%s')", e.Offset, e.Expected, e.Token.Lexeme)
}

// NewParseError creates a new parse error positioned at token
func NewParseError(expected string, token lexer.Token) *ParseError {
	return &ParseError{
		Offset:   token.Offset,
		Expected: expected,
		Location: ast.TokenLocation(token),
		Token:    token,
	}
}

// fromLexError converts a lexical error into a parse error
func fromLexError(err lexer.LexError) *ParseError {
	return &ParseError{
		Offset:   err.Offset,
		Expected: err.Message,
		Location: ast.SourceLocation{Offset: err.Offset, Line: err.Line, Column: err.Column},
		Token:    lexer.Token{Type: lexer.TOKEN_ERROR, Lexeme: err.Lexeme, Offset: err.Offset, Line: err.Line, Column: err.Column},
	}
}
