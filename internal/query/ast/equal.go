package ast

// SameTree reports whether two trees have the same structure and values.
// Source locations are ignored.
func SameTree(a, b Node) bool {
	switch x := a.(type) {
	case *Body:
		y, ok := b.(*Body)
		if !ok || len(x.Rest) != len(y.Rest) || !SameTree(x.First, y.First) {
			return false
		}
		for i := range x.Rest {
			if x.Rest[i].Op != y.Rest[i].Op || !SameTree(x.Rest[i].Expr, y.Rest[i].Expr) {
				return false
			}
		}
		return true
	case *ShortformLatest:
		_, ok := b.(*ShortformLatest)
		return ok
	case *ShortformID:
		y, ok := b.(*ShortformID)
		return ok && x.ID == y.ID
	case *Negation:
		y, ok := b.(*Negation)
		return ok && SameTree(x.Inner, y.Inner)
	case *Brackets:
		y, ok := b.(*Brackets)
		return ok && SameTree(x.Inner, y.Inner)
	case *NoArgFunc:
		y, ok := b.(*NoArgFunc)
		return ok && x.Name == y.Name
	case *SingleArgFunc:
		y, ok := b.(*SingleArgFunc)
		return ok && x.Name == y.Name && SameTree(x.Arg, y.Arg)
	case *Infix:
		y, ok := b.(*Infix)
		return ok && x.Op == y.Op && SameTree(x.LHS, y.LHS) && SameTree(x.RHS, y.RHS)
	case *Lookup:
		y, ok := b.(*Lookup)
		return ok && x.Kind == y.Kind && x.Key == y.Key
	case *Literal:
		y, ok := b.(*Literal)
		return ok && x.Value.Equal(y.Value)
	default:
		return false
	}
}
