// Package datalog implements RUNE's rule AST (spec.md C3): terms, atoms,
// rules, aggregate atoms, and substitutions, plus unification (C4) and
// stratification (C5).
package datalog

import "github.com/rune-authz/rune/internal/value"

// Term is either a Variable or a Constant.
type Term struct {
	isVar bool
	name  string
	val   value.Value
}

// Var constructs a Variable term.
func Var(name string) Term { return Term{isVar: true, name: name} }

// Const constructs a Constant term.
func Const(v value.Value) Term { return Term{val: v} }

// IsVariable reports whether t is a Variable.
func (t Term) IsVariable() bool { return t.isVar }

// Name returns the variable name; only meaningful when IsVariable().
func (t Term) Name() string { return t.name }

// Value returns the constant payload; only meaningful when !IsVariable().
func (t Term) Value() value.Value { return t.val }

// Substitution is a finite map from variable name to Value.
type Substitution map[string]value.Value

// Clone returns a shallow copy.
func (s Substitution) Clone() Substitution {
	cp := make(Substitution, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// Merge returns the union of s and other if they agree on every shared
// variable, and true. If they disagree on any shared variable, it returns
// (nil, false) and neither input is mutated.
func (s Substitution) Merge(other Substitution) (Substitution, bool) {
	out := s.Clone()
	for k, v := range other {
		if existing, ok := out[k]; ok {
			if !existing.Equal(v) {
				return nil, false
			}
			continue
		}
		out[k] = v
	}
	return out, true
}

// Apply replaces a bound Variable with its Constant; unbound Variables and
// Constants are returned unchanged.
func (t Term) Apply(sub Substitution) Term {
	if !t.isVar {
		return t
	}
	if v, ok := sub[t.name]; ok {
		return Const(v)
	}
	return t
}

// String renders the term for diagnostics and rule text reconstruction.
func (t Term) String() string {
	if t.isVar {
		return t.name
	}
	return t.val.String()
}
