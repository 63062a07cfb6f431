package datalog

import "github.com/rune-authz/rune/internal/fact"

// UnifyAtomFact attempts to unify atom (after applying base) against f,
// extending base. It returns the merged substitution and true on success;
// on failure it returns (nil, false) without mutating base.
//
// Predicate and arity must match. Each Constant term must equal the
// corresponding fact argument; each unbound Variable term binds to the
// corresponding argument, with repeated variables required to bind
// consistently.
func UnifyAtomFact(atom Atom, f fact.Fact, base Substitution) (Substitution, bool) {
	if atom.Predicate != f.Predicate || len(atom.Terms) != len(f.Args) {
		return nil, false
	}
	bindings := Substitution{}
	for i, t := range atom.Terms {
		t = t.Apply(base)
		if t.IsVariable() {
			if existing, ok := bindings[t.Name()]; ok {
				if !existing.Equal(f.Args[i]) {
					return nil, false
				}
				continue
			}
			bindings[t.Name()] = f.Args[i]
		} else if !t.Value().Equal(f.Args[i]) {
			return nil, false
		}
	}
	return base.Merge(bindings)
}

// UnifyAtomAtom attempts to unify two atoms (after applying base), merging
// bindings made in either direction. It compares atom shapes without
// consulting any fact store.
func UnifyAtomAtom(a, b Atom, base Substitution) (Substitution, bool) {
	if a.Predicate != b.Predicate || len(a.Terms) != len(b.Terms) {
		return nil, false
	}
	cur := base
	for i := range a.Terms {
		ta := a.Terms[i].Apply(cur)
		tb := b.Terms[i].Apply(cur)
		switch {
		case !ta.IsVariable() && !tb.IsVariable():
			if !ta.Value().Equal(tb.Value()) {
				return nil, false
			}
		case ta.IsVariable() && !tb.IsVariable():
			merged, ok := cur.Merge(Substitution{ta.Name(): tb.Value()})
			if !ok {
				return nil, false
			}
			cur = merged
		case !ta.IsVariable() && tb.IsVariable():
			merged, ok := cur.Merge(Substitution{tb.Name(): ta.Value()})
			if !ok {
				return nil, false
			}
			cur = merged
		default:
			if ta.Name() != tb.Name() {
				// Two differently-named free variables: no binding is made
				// between them and unification fails. Two free variables
				// with the same name fall through and unify trivially.
				return nil, false
			}
		}
	}
	return cur, true
}
