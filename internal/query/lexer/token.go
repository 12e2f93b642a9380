package lexer

import "fmt"

// TokenType represents the type of a token in an outpack query
type TokenType int

const (
	// TOKEN_EOF marks the end of the token stream.
	TOKEN_EOF TokenType = iota
	// TOKEN_ERROR represents a lexical error encountered during scanning.
	TOKEN_ERROR

	// Keywords
	TOKEN_LATEST // latest
	TOKEN_SINGLE // single
	TOKEN_ID     // id
	TOKEN_NAME   // name

	// Lookups with a key; Literal holds the key
	TOKEN_PARAMETER   // parameter:<key>
	TOKEN_THIS        // this:<key>
	TOKEN_ENVIRONMENT // environment:<key>

	// Literals
	TOKEN_IDENTIFIER     // any other bare word (never valid in a query, kept for error messages)
	TOKEN_NUMBER_LITERAL // 42, -1.5, 2e10
	TOKEN_STRING_LITERAL // "abc", 'abc'
	TOKEN_TRUE           // true, TRUE, True
	TOKEN_FALSE          // false, FALSE, False

	// Operators
	TOKEN_BANG        // !
	TOKEN_EQ          // ==
	TOKEN_NEQ         // !=
	TOKEN_LT          // <
	TOKEN_GT          // >
	TOKEN_LTE         // <=
	TOKEN_GTE         // >=
	TOKEN_DOUBLE_AMP  // &&
	TOKEN_DOUBLE_PIPE // ||

	// Delimiters
	TOKEN_LPAREN // (
	TOKEN_RPAREN // )
)

// TokenTypeNames maps token types to their string representations
var TokenTypeNames = map[TokenType]string{
	TOKEN_EOF:            "EOF",
	TOKEN_ERROR:          "ERROR",
	TOKEN_LATEST:         "LATEST",
	TOKEN_SINGLE:         "SINGLE",
	TOKEN_ID:             "ID",
	TOKEN_NAME:           "NAME",
	TOKEN_PARAMETER:      "PARAMETER",
	TOKEN_THIS:           "THIS",
	TOKEN_ENVIRONMENT:    "ENVIRONMENT",
	TOKEN_IDENTIFIER:     "IDENTIFIER",
	TOKEN_NUMBER_LITERAL: "NUMBER_LITERAL",
	TOKEN_STRING_LITERAL: "STRING_LITERAL",
	TOKEN_TRUE:           "TRUE",
	TOKEN_FALSE:          "FALSE",
	TOKEN_BANG:           "BANG",
	TOKEN_EQ:             "EQ",
	TOKEN_NEQ:            "NEQ",
	TOKEN_LT:             "LT",
	TOKEN_GT:             "GT",
	TOKEN_LTE:            "LTE",
	TOKEN_GTE:            "GTE",
	TOKEN_DOUBLE_AMP:     "DOUBLE_AMP",
	TOKEN_DOUBLE_PIPE:    "DOUBLE_PIPE",
	TOKEN_LPAREN:         "LPAREN",
	TOKEN_RPAREN:         "RPAREN",
}

// String returns the string representation of a TokenType
func (t TokenType) String() string {
	if name, ok := TokenTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", t)
}

// IsComparison reports whether t is one of the six infix comparison operators
func (t TokenType) IsComparison() bool {
	return t >= TOKEN_EQ && t <= TOKEN_GTE
}

// IsLookup reports whether t starts a lookup test value
func (t TokenType) IsLookup() bool {
	switch t {
	case TOKEN_ID, TOKEN_NAME, TOKEN_PARAMETER, TOKEN_THIS, TOKEN_ENVIRONMENT:
		return true
	}
	return false
}

// IsLiteral reports whether t is a literal test value
func (t TokenType) IsLiteral() bool {
	switch t {
	case TOKEN_NUMBER_LITERAL, TOKEN_STRING_LITERAL, TOKEN_TRUE, TOKEN_FALSE:
		return true
	}
	return false
}

// Token represents a single lexical token in a query
type Token struct {
	Type    TokenType   // The type of the token
	Lexeme  string      // The raw text of the token
	Literal interface{} // The parsed value (literals) or lookup key
	Offset  int         // Byte offset of the first character
	Line    int         // Line number (1-indexed)
	Column  int         // Column number (1-indexed)
}

// String returns a string representation of the token
func (t Token) String() string {
	if t.Literal != nil {
		return fmt.Sprintf("%s '%s' (%v) at offset %d",
			t.Type.String(), t.Lexeme, t.Literal, t.Offset)
	}
	return fmt.Sprintf("%s '%s' at offset %d", t.Type.String(), t.Lexeme, t.Offset)
}

// Keywords maps reserved words to their token types
var Keywords = map[string]TokenType{
	"latest": TOKEN_LATEST,
	"single": TOKEN_SINGLE,
	"id":     TOKEN_ID,
	"name":   TOKEN_NAME,

	"true":  TOKEN_TRUE,
	"TRUE":  TOKEN_TRUE,
	"True":  TOKEN_TRUE,
	"false": TOKEN_FALSE,
	"FALSE": TOKEN_FALSE,
	"False": TOKEN_FALSE,
}

// LookupPrefixes maps the word before ':' to the lookup token it introduces
var LookupPrefixes = map[string]TokenType{
	"parameter":   TOKEN_PARAMETER,
	"this":        TOKEN_THIS,
	"environment": TOKEN_ENVIRONMENT,
}

// LexError represents an error encountered during lexical analysis
type LexError struct {
	Message string // Error message
	Offset  int    // Byte offset where the error occurred
	Line    int    // Line number where error occurred
	Column  int    // Column number where error occurred
	Lexeme  string // The problematic text
}

// Error implements the error interface
func (e LexError) Error() string {
	return fmt.Sprintf("Lexical error at offset %d: %s (near '%s')",
		e.Offset, e.Message, e.Lexeme)
}
