// Package ast defines the Abstract Syntax Tree (AST) node types for outpack queries.
// Every node renders back to canonical query text via String(); parsing that text
// yields an equal tree.
package ast

import (
	"strconv"
	"strings"

	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query/lexer"
)

// SourceLocation tracks the position of an AST node in the query text
type SourceLocation struct {
	Offset int // Byte offset (0-indexed)
	Line   int // Line number (1-indexed)
	Column int // Column number (1-indexed)
}

// TokenLocation returns the location of a token
func TokenLocation(tok lexer.Token) SourceLocation {
	return SourceLocation{Offset: tok.Offset, Line: tok.Line, Column: tok.Column}
}

// Node is the base interface for all AST nodes
type Node interface {
	Location() SourceLocation
	String() string
	node()
}

// Query is the root of a parsed query: a *Body, *ShortformLatest or *ShortformID
type Query interface {
	Node
	queryNode()
}

// Expr is one operand of a Body
type Expr interface {
	Node
	exprNode()
}

// TestValue is either side of an infix comparison: a *Lookup or a *Literal
type TestValue interface {
	Node
	testValueNode()
}

// BoolOp joins expressions within a Body
type BoolOp int

const (
	// And is set intersection (&&)
	And BoolOp = iota
	// Or is set union (||)
	Or
)

// String returns the query syntax for the operator
func (o BoolOp) String() string {
	if o == Or {
		return "||"
	}
	return "&&"
}

// Operator is an infix comparison operator
type Operator int

const (
	// Equal is ==
	Equal Operator = iota
	// NotEqual is !=
	NotEqual
	// LessThan is <
	LessThan
	// LessThanOrEqual is <=
	LessThanOrEqual
	// GreaterThan is >
	GreaterThan
	// GreaterThanOrEqual is >=
	GreaterThanOrEqual
)

var operatorSyntax = map[Operator]string{
	Equal:              "==",
	NotEqual:           "!=",
	LessThan:           "<",
	LessThanOrEqual:    "<=",
	GreaterThan:        ">",
	GreaterThanOrEqual: ">=",
}

// String returns the query syntax for the operator
func (o Operator) String() string {
	return operatorSyntax[o]
}

// IsOrdering reports whether the operator needs ordered operands
func (o Operator) IsOrdering() bool {
	return o != Equal && o != NotEqual
}

// Body is a flat, left-to-right chain of expressions joined by && and ||.
// There is no precedence between the two operators.
type Body struct {
	First Expr
	Rest  []BoolTerm
	Loc   SourceLocation
}

// BoolTerm is one "op expr" continuation of a Body
type BoolTerm struct {
	Op   BoolOp
	Expr Expr
}

func (b *Body) node()      {}
func (b *Body) queryNode() {}

// Location returns the source location of the body
func (b *Body) Location() SourceLocation { return b.Loc }

func (b *Body) String() string {
	var sb strings.Builder
	sb.WriteString(b.First.String())
	for _, term := range b.Rest {
		sb.WriteString(" ")
		sb.WriteString(term.Op.String())
		sb.WriteString(" ")
		sb.WriteString(term.Expr.String())
	}
	return sb.String()
}

// ShortformLatest is the bare keyword `latest`
type ShortformLatest struct {
	Loc SourceLocation
}

func (s *ShortformLatest) node()      {}
func (s *ShortformLatest) queryNode() {}

// Location returns the source location of the keyword
func (s *ShortformLatest) Location() SourceLocation { return s.Loc }

func (s *ShortformLatest) String() string { return "latest" }

// ShortformID is a query consisting of a single quoted string, meaning id == "<string>"
type ShortformID struct {
	ID  string
	Loc SourceLocation
}

func (s *ShortformID) node()      {}
func (s *ShortformID) queryNode() {}

// Location returns the source location of the literal
func (s *ShortformID) Location() SourceLocation { return s.Loc }

func (s *ShortformID) String() string { return quote(s.ID) }

// Negation is !expr
type Negation struct {
	Inner Expr
	Loc   SourceLocation
}

func (n *Negation) node()     {}
func (n *Negation) exprNode() {}

// Location returns the source location of the '!'
func (n *Negation) Location() SourceLocation { return n.Loc }

func (n *Negation) String() string { return "!" + n.Inner.String() }

// Brackets is a parenthesised body
type Brackets struct {
	Inner *Body
	Loc   SourceLocation
}

func (b *Brackets) node()     {}
func (b *Brackets) exprNode() {}

// Location returns the source location of the '('
func (b *Brackets) Location() SourceLocation { return b.Loc }

func (b *Brackets) String() string { return "(" + b.Inner.String() + ")" }

// Function names
const (
	FuncLatest = "latest"
	FuncSingle = "single"
)

// NoArgFunc is a function called with no arguments: latest()
type NoArgFunc struct {
	Name string
	Loc  SourceLocation
}

func (f *NoArgFunc) node()     {}
func (f *NoArgFunc) exprNode() {}

// Location returns the source location of the function name
func (f *NoArgFunc) Location() SourceLocation { return f.Loc }

func (f *NoArgFunc) String() string { return f.Name + "()" }

// SingleArgFunc is latest(body) or single(body)
type SingleArgFunc struct {
	Name string
	Arg  *Body
	Loc  SourceLocation
}

func (f *SingleArgFunc) node()     {}
func (f *SingleArgFunc) exprNode() {}

// Location returns the source location of the function name
func (f *SingleArgFunc) Location() SourceLocation { return f.Loc }

func (f *SingleArgFunc) String() string { return f.Name + "(" + f.Arg.String() + ")" }

// Infix is a comparison between two test values
type Infix struct {
	LHS TestValue
	Op  Operator
	RHS TestValue
	Loc SourceLocation
}

func (i *Infix) node()     {}
func (i *Infix) exprNode() {}

// Location returns the source location of the left operand
func (i *Infix) Location() SourceLocation { return i.Loc }

func (i *Infix) String() string {
	return i.LHS.String() + " " + i.Op.String() + " " + i.RHS.String()
}

// LookupKind identifies what a Lookup reads
type LookupKind int

const (
	// LookupID reads the packet id
	LookupID LookupKind = iota
	// LookupName reads the packet name
	LookupName
	// LookupParameter reads parameter:<key> of the packet under test
	LookupParameter
	// LookupThis reads parameter <key> of the packet bound as `this`
	LookupThis
	// LookupEnvironment reads <key> from the caller's environment bindings
	LookupEnvironment
)

// Lookup is a value resolved at evaluation time
type Lookup struct {
	Kind LookupKind
	Key  string
	Loc  SourceLocation
}

func (l *Lookup) node()          {}
func (l *Lookup) testValueNode() {}

// Location returns the source location of the lookup
func (l *Lookup) Location() SourceLocation { return l.Loc }

func (l *Lookup) String() string {
	switch l.Kind {
	case LookupID:
		return "id"
	case LookupName:
		return "name"
	case LookupParameter:
		return "parameter:" + l.Key
	case LookupThis:
		return "this:" + l.Key
	case LookupEnvironment:
		return "environment:" + l.Key
	default:
		return "<unknown lookup>"
	}
}

// PerPacket reports whether the lookup depends on the packet being tested
func (l *Lookup) PerPacket() bool {
	return l.Kind == LookupID || l.Kind == LookupName || l.Kind == LookupParameter
}

// Literal is a constant string, number or boolean
type Literal struct {
	Value metadata.Value
	Loc   SourceLocation
}

func (l *Literal) node()          {}
func (l *Literal) testValueNode() {}

// Location returns the source location of the literal
func (l *Literal) Location() SourceLocation { return l.Loc }

func (l *Literal) String() string {
	switch l.Value.Kind() {
	case metadata.KindString:
		return quote(l.Value.Str())
	case metadata.KindNumber:
		return strconv.FormatFloat(l.Value.Num(), 'g', -1, 64)
	case metadata.KindBool:
		return strconv.FormatBool(l.Value.Boolean())
	default:
		return "<absent>"
	}
}

// quote renders s using a quote character that does not appear in it.
// A string containing both quote characters cannot be written in the language.
func quote(s string) string {
	if strings.Contains(s, `"`) {
		return "'" + s + "'"
	}
	return `"` + s + `"`
}
