package eval

import (
	"errors"

	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query/ast"
)

// errAbsentOperand is returned by Compare when an ordering operator meets an
// absent value. The evaluator decides whether that excludes a packet or fails
// the query.
var errAbsentOperand = errors.New("absent operand")

// errIncompatible is returned by Compare for ordering over values whose kinds
// cannot be ordered against each other.
var errIncompatible = errors.New("incompatible operands")

// Compare applies op to two values. Values of different kinds are never
// equal; absent equals only absent; != is false when either side is absent.
// Ordering requires two strings (byte-wise) or two numbers.
func Compare(op ast.Operator, l, r metadata.Value) (bool, error) {
	switch op {
	case ast.Equal:
		return l.Equal(r), nil
	case ast.NotEqual:
		if l.IsAbsent() || r.IsAbsent() {
			return false, nil
		}
		return !l.Equal(r), nil
	}

	if l.IsAbsent() || r.IsAbsent() {
		return false, errAbsentOperand
	}
	if l.Kind() != r.Kind() || l.Kind() == metadata.KindBool {
		return false, errIncompatible
	}

	var c int
	switch l.Kind() {
	case metadata.KindString:
		c = compareStrings(l.Str(), r.Str())
	case metadata.KindNumber:
		c = compareNumbers(l.Num(), r.Num())
	}

	switch op {
	case ast.LessThan:
		return c < 0, nil
	case ast.LessThanOrEqual:
		return c <= 0, nil
	case ast.GreaterThan:
		return c > 0, nil
	case ast.GreaterThanOrEqual:
		return c >= 0, nil
	}
	return false, errIncompatible
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareNumbers(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
