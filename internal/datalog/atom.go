package datalog

import (
	"strings"

	"github.com/rune-authz/rune/internal/fact"
	"github.com/rune-authz/rune/internal/value"
)

// Atom is a predicate applied to an ordered list of terms, optionally
// negated.
type Atom struct {
	Predicate string
	Terms     []Term
	Negated   bool
}

// NewAtom constructs a positive Atom.
func NewAtom(predicate string, terms ...Term) Atom {
	return Atom{Predicate: predicate, Terms: append([]Term(nil), terms...)}
}

// Negate returns a negated copy of a (shallow copy, same terms).
func (a Atom) Negate() Atom {
	a.Terms = append([]Term(nil), a.Terms...)
	a.Negated = true
	return a
}

// Arity returns len(Terms).
func (a Atom) Arity() int { return len(a.Terms) }

// IsGround reports whether every term is a Constant.
func (a Atom) IsGround() bool {
	for _, t := range a.Terms {
		if t.IsVariable() {
			return false
		}
	}
	return true
}

// Apply substitutes bound variables throughout a's terms.
func (a Atom) Apply(sub Substitution) Atom {
	out := Atom{Predicate: a.Predicate, Negated: a.Negated, Terms: make([]Term, len(a.Terms))}
	for i, t := range a.Terms {
		out.Terms[i] = t.Apply(sub)
	}
	return out
}

// Variables returns the distinct variable names appearing in a, in
// first-occurrence order.
func (a Atom) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range a.Terms {
		if t.IsVariable() && !seen[t.Name()] {
			seen[t.Name()] = true
			out = append(out, t.Name())
		}
	}
	return out
}

// ToFact converts a ground Atom into a Fact. Returns ok=false if a is not
// ground.
func (a Atom) ToFact() (fact.Fact, bool) {
	if !a.IsGround() {
		return fact.Fact{}, false
	}
	args := make([]value.Value, len(a.Terms))
	for i, t := range a.Terms {
		args[i] = t.Value()
	}
	return fact.New(a.Predicate, args...), true
}

// String renders the atom for diagnostics.
func (a Atom) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		parts[i] = t.String()
	}
	s := a.Predicate + "(" + strings.Join(parts, ", ") + ")"
	if a.Negated {
		return "not " + s
	}
	return s
}
