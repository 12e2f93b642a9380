// Package eval evaluates parsed outpack queries against a metadata index.
//
// Filter expressions denote predicates over every known packet and evaluate to
// an id-ordered subset of them: && intersects, || unions and ! complements
// within the full packet set. latest and single reduce a filter result to one
// packet.
package eval

import (
	"errors"

	"github.com/mrc-ide/outpack-server/internal/metadata"
	"github.com/mrc-ide/outpack-server/internal/query/ast"
)

// Source is the read surface of the index used during evaluation. Every
// method must return packets in ascending id order, and the packet set must
// not change for the duration of one Evaluate call.
type Source interface {
	All() []*metadata.Packet
	Get(id string) (*metadata.Packet, bool)
	ByName(name string) []*metadata.Packet
	WithParameter(key string) []*metadata.Packet
}

// Context carries per-evaluation bindings
type Context struct {
	// This is the packet that this:<key> reads parameters from
	This *metadata.Packet
	// Environment supplies values for environment:<key>
	Environment map[string]metadata.Value
}

type evaluator struct {
	src Source
	ctx Context
}

// Evaluate runs q against src
func Evaluate(q ast.Query, src Source, c Context) (Selection, error) {
	e := &evaluator{src: src, ctx: c}

	switch n := q.(type) {
	case *ast.ShortformLatest:
		p, err := e.latest(e.src.All(), n.Loc)
		if err != nil {
			return Selection{}, err
		}
		return singleSelection(p), nil

	case *ast.ShortformID:
		return setSelection(e.byID(n.ID)), nil

	case *ast.Body:
		if len(n.Rest) == 0 {
			switch f := n.First.(type) {
			case *ast.NoArgFunc, *ast.SingleArgFunc:
				p, err := e.function(f)
				if err != nil {
					return Selection{}, err
				}
				return singleSelection(p), nil
			}
		}
		packets, err := e.body(n)
		if err != nil {
			return Selection{}, err
		}
		return setSelection(packets), nil
	}

	return Selection{}, errors.New("unsupported query node")
}

func (e *evaluator) body(b *ast.Body) ([]*metadata.Packet, error) {
	acc, err := e.expr(b.First)
	if err != nil {
		return nil, err
	}

	for _, term := range b.Rest {
		rhs, err := e.expr(term.Expr)
		if err != nil {
			return nil, err
		}
		if term.Op == ast.And {
			acc = intersect(acc, rhs)
		} else {
			acc = union(acc, rhs)
		}
	}

	return acc, nil
}

func (e *evaluator) expr(x ast.Expr) ([]*metadata.Packet, error) {
	switch n := x.(type) {
	case *ast.Negation:
		inner, err := e.expr(n.Inner)
		if err != nil {
			return nil, err
		}
		return difference(e.src.All(), inner), nil

	case *ast.Brackets:
		return e.body(n.Inner)

	case *ast.NoArgFunc, *ast.SingleArgFunc:
		p, err := e.function(n)
		if err != nil {
			return nil, err
		}
		return []*metadata.Packet{p}, nil

	case *ast.Infix:
		return e.infix(n)
	}

	return nil, errors.New("unsupported expression node")
}

func (e *evaluator) function(x ast.Expr) (*metadata.Packet, error) {
	switch f := x.(type) {
	case *ast.NoArgFunc:
		return e.latest(e.src.All(), f.Loc)

	case *ast.SingleArgFunc:
		matches, err := e.body(f.Arg)
		if err != nil {
			return nil, err
		}
		if f.Name == ast.FuncSingle {
			return e.single(matches, f)
		}
		return e.latest(matches, f.Loc)
	}

	return nil, errors.New("unsupported function node")
}

func (e *evaluator) latest(packets []*metadata.Packet, loc ast.SourceLocation) (*metadata.Packet, error) {
	if len(packets) == 0 {
		return nil, newError(NoMatch, loc, "latest found no matching packets")
	}
	return packets[len(packets)-1], nil
}

func (e *evaluator) single(packets []*metadata.Packet, f *ast.SingleArgFunc) (*metadata.Packet, error) {
	switch len(packets) {
	case 0:
		return nil, newError(NoMatch, f.Loc, "query found no packets, but expected exactly one: %s", f.Arg)
	case 1:
		return packets[0], nil
	default:
		return nil, newError(AmbiguousMatch, f.Loc, "query found %d packets, but expected exactly one: %s", len(packets), f.Arg)
	}
}

func (e *evaluator) byID(id string) []*metadata.Packet {
	if p, ok := e.src.Get(id); ok {
		return []*metadata.Packet{p}
	}
	return []*metadata.Packet{}
}

// operand is one side of an infix test. Per-packet lookups are resolved
// during the scan; everything else is resolved once up front.
type operand struct {
	lookup    *ast.Lookup
	perPacket bool
	value     metadata.Value
}

func (o operand) at(p *metadata.Packet) metadata.Value {
	if !o.perPacket {
		return o.value
	}
	switch o.lookup.Kind {
	case ast.LookupID:
		return metadata.String(p.ID)
	case ast.LookupName:
		return metadata.String(p.Name)
	default:
		return p.Parameter(o.lookup.Key)
	}
}

func (e *evaluator) operand(tv ast.TestValue) (operand, error) {
	switch v := tv.(type) {
	case *ast.Literal:
		return operand{value: v.Value}, nil

	case *ast.Lookup:
		switch v.Kind {
		case ast.LookupThis:
			if e.ctx.This == nil {
				return operand{}, newError(NoCurrentPacket, v.Loc, "'%s' used without a current packet", v)
			}
			return operand{lookup: v, value: e.ctx.This.Parameter(v.Key)}, nil
		case ast.LookupEnvironment:
			value, ok := e.ctx.Environment[v.Key]
			if !ok {
				return operand{}, newError(UnknownEnvironmentKey, v.Loc, "'%s' is not set in the environment", v.Key)
			}
			return operand{lookup: v, value: value}, nil
		default:
			return operand{lookup: v, perPacket: true}, nil
		}
	}

	return operand{}, errors.New("unsupported test value node")
}

func (e *evaluator) infix(n *ast.Infix) ([]*metadata.Packet, error) {
	lhs, err := e.operand(n.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := e.operand(n.RHS)
	if err != nil {
		return nil, err
	}

	if n.Op.IsOrdering() {
		for _, o := range []operand{lhs, rhs} {
			if o.perPacket {
				continue
			}
			if o.value.IsAbsent() || o.value.Kind() == metadata.KindBool {
				return nil, e.mismatch(n, lhs.value, rhs.value)
			}
		}
	}

	if !lhs.perPacket && !rhs.perPacket {
		ok, err := Compare(n.Op, lhs.value, rhs.value)
		if err != nil {
			return nil, e.mismatch(n, lhs.value, rhs.value)
		}
		if ok {
			return e.src.All(), nil
		}
		return []*metadata.Packet{}, nil
	}

	if n.Op == ast.Equal {
		if packets, ok := e.equality(lhs, rhs); ok {
			return packets, nil
		}
		if packets, ok := e.equality(rhs, lhs); ok {
			return packets, nil
		}
	}

	out := make([]*metadata.Packet, 0)
	for _, p := range e.candidates(n.Op, lhs, rhs) {
		l, r := lhs.at(p), rhs.at(p)
		ok, err := Compare(n.Op, l, r)
		if errors.Is(err, errAbsentOperand) {
			// a packet missing the parameter is simply not selected
			continue
		}
		if err != nil {
			return nil, e.mismatch(n, l, r)
		}
		if ok {
			out = append(out, p)
		}
	}

	return out, nil
}

// equality answers "lookup == constant" from the index's secondary
// structures where possible
func (e *evaluator) equality(lookup, constant operand) ([]*metadata.Packet, bool) {
	if !lookup.perPacket || constant.perPacket {
		return nil, false
	}

	value := constant.value
	switch lookup.lookup.Kind {
	case ast.LookupName:
		if value.Kind() != metadata.KindString {
			return []*metadata.Packet{}, true
		}
		return e.src.ByName(value.Str()), true

	case ast.LookupID:
		if value.Kind() != metadata.KindString {
			return []*metadata.Packet{}, true
		}
		return e.byID(value.Str()), true

	case ast.LookupParameter:
		if value.IsAbsent() {
			return nil, false
		}
		out := make([]*metadata.Packet, 0)
		for _, p := range e.src.WithParameter(lookup.lookup.Key) {
			if p.Parameter(lookup.lookup.Key).Equal(value) {
				out = append(out, p)
			}
		}
		return out, true
	}

	return nil, false
}

// candidates narrows the scan to packets that set a parameter whenever a
// packet lacking it could not match
func (e *evaluator) candidates(op ast.Operator, lhs, rhs operand) []*metadata.Packet {
	for _, pair := range [][2]operand{{lhs, rhs}, {rhs, lhs}} {
		o, other := pair[0], pair[1]
		if !o.perPacket || o.lookup.Kind != ast.LookupParameter {
			continue
		}
		if op != ast.Equal || (!other.perPacket && !other.value.IsAbsent()) {
			return e.src.WithParameter(o.lookup.Key)
		}
	}
	return e.src.All()
}

func (e *evaluator) mismatch(n *ast.Infix, l, r metadata.Value) *Error {
	return newError(TypeMismatch, n.Loc, "cannot compare %s %s %s in '%s'", l.Kind(), n.Op, r.Kind(), n)
}
