package eval

import (
	"fmt"

	"github.com/mrc-ide/outpack-server/internal/query/ast"
)

// ErrorKind classifies evaluation failures
type ErrorKind int

const (
	// NoCurrentPacket means this: was used without a bound packet
	NoCurrentPacket ErrorKind = iota + 1
	// UnknownEnvironmentKey means environment: named a key the caller did not supply
	UnknownEnvironmentKey
	// TypeMismatch means an ordering comparison had incompatible or absent operands
	TypeMismatch
	// NoMatch means latest(body) or single(body) matched nothing
	NoMatch
	// AmbiguousMatch means single(body) matched more than one packet
	AmbiguousMatch
)

var errorKindNames = map[ErrorKind]string{
	NoCurrentPacket:       "NoCurrentPacket",
	UnknownEnvironmentKey: "UnknownEnvironmentKey",
	TypeMismatch:          "TypeMismatch",
	NoMatch:               "NoMatch",
	AmbiguousMatch:        "AmbiguousMatch",
}

// String returns the name of the kind
func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is an evaluation failure. Use errors.Is with the Err* sentinels to
// test the kind.
type Error struct {
	Kind     ErrorKind
	Message  string
	Location ast.SourceLocation
}

// Sentinels for errors.Is
var (
	ErrNoCurrentPacket       = &Error{Kind: NoCurrentPacket}
	ErrUnknownEnvironmentKey = &Error{Kind: UnknownEnvironmentKey}
	ErrTypeMismatch          = &Error{Kind: TypeMismatch}
	ErrNoMatch               = &Error{Kind: NoMatch}
	ErrAmbiguousMatch        = &Error{Kind: AmbiguousMatch}
)

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind ErrorKind, loc ast.SourceLocation, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		Location: loc,
	}
}
