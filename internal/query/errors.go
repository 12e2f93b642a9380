package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query/eval"
	"github.com/mrc-ide/outpack-server/internal/query/lexer"
	"github.com/mrc-ide/outpack-server/internal/query/parser"
)

// ErrorKind says which stage of query handling failed
type ErrorKind int

const (
	// KindParse wraps a *parser.ParseError
	KindParse ErrorKind = iota + 1
	// KindEval wraps an *eval.Error
	KindEval
)

// Error is returned by Engine for any query failure
type Error struct {
	Kind  ErrorKind
	Query string
	Err   error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindParse:
		return fmt.Sprintf("Failed to parse query '%s': %v", e.Query, e.Err)
	default:
		return fmt.Sprintf("Failed to evaluate query '%s': %v", e.Query, e.Err)
	}
}

// Unwrap returns the underlying parse or evaluation error
func (e *Error) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err came from malformed query text
func IsParseError(err error) bool {
	var perr *parser.ParseError
	return errors.As(err, &perr)
}

// IsNoMatch reports whether err means the query selected nothing, or more
// than one packet where exactly one was required
func IsNoMatch(err error) bool {
	return errors.Is(err, eval.ErrNoMatch) || errors.Is(err, eval.ErrAmbiguousMatch)
}

// ParseValue converts a command-line or query-string value into a typed
// value using literal syntax: numbers and booleans as in queries, a quoted
// string as its contents, anything else as a plain string.
func ParseValue(s string) metadata.Value {
	trimmed := strings.TrimSpace(s)
	tokens, errs := lexer.New(trimmed).ScanTokens()
	if len(errs) == 0 && len(tokens) == 2 {
		tok := tokens[0]
		switch tok.Type {
		case lexer.TOKEN_NUMBER_LITERAL:
			return metadata.Number(tok.Literal.(float64))
		case lexer.TOKEN_TRUE, lexer.TOKEN_FALSE:
			return metadata.Bool(tok.Type == lexer.TOKEN_TRUE)
		case lexer.TOKEN_STRING_LITERAL:
			return metadata.String(tok.Literal.(string))
		}
	}
	return metadata.String(s)
}

// ParseEnvironment converts key=value pairs to environment bindings
func ParseEnvironment(pairs []string) (map[string]metadata.Value, error) {
	env := make(map[string]metadata.Value, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || !lexer.IsIdentifier(key) {
			return nil, fmt.Errorf("invalid environment binding '%s' (expected key=value)", pair)
		}
		env[key] = ParseValue(value)
	}
	return env, nil
}
