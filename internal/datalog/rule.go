package datalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rune-authz/rune/internal/rerr"
)

// AggOp identifies an aggregation operator (spec.md §3 AggregateAtom).
type AggOp string

const (
	AggCount AggOp = "count"
	AggSum   AggOp = "sum"
	AggMin   AggOp = "min"
	AggMax   AggOp = "max"
	AggMean  AggOp = "mean"
)

// AggregateAtom evaluates an aggregation operator over the distinct
// substitutions satisfying Body, binding ResultVar to the outcome.
type AggregateAtom struct {
	Operator      AggOp
	AggregatedVar string
	ResultVar     string
	Body          []Atom
}

// BodyElem is one element of a rule body: exactly one of Atom or Aggregate
// is non-nil.
type BodyElem struct {
	Atom      *Atom
	Aggregate *AggregateAtom
}

// AtomElem wraps a plain Atom as a BodyElem.
func AtomElem(a Atom) BodyElem { return BodyElem{Atom: &a} }

// AggregateElem wraps an AggregateAtom as a BodyElem.
func AggregateElem(a AggregateAtom) BodyElem { return BodyElem{Aggregate: &a} }

// Rule is a head atom derived from a conjunctive body (spec.md C3).
type Rule struct {
	ID      string
	Name    string
	Head    Atom
	Body    []BodyElem
	Stratum int
}

// IsFactRule reports whether r has an empty body (and therefore must have a
// ground head to be useful).
func (r Rule) IsFactRule() bool { return len(r.Body) == 0 }

// Safety reports whether every head variable also appears in at least one
// non-negated body atom or is an aggregate's ResultVar, per spec.md §3.
// A ResultVar counts since that position is always ground once the
// aggregate succeeds; variables that appear only inside an aggregate's own
// body do not count.
func (r Rule) Safety() error {
	bound := make(map[string]bool)
	for _, elem := range r.Body {
		switch {
		case elem.Atom != nil && !elem.Atom.Negated:
			for _, v := range elem.Atom.Variables() {
				bound[v] = true
			}
		case elem.Aggregate != nil:
			bound[elem.Aggregate.ResultVar] = true
		}
	}
	for _, v := range r.Head.Variables() {
		if !bound[v] {
			return rerr.New(rerr.KindUnsafeRule, fmt.Sprintf("rule %s: head variable %q does not appear in any positive body atom", r.Name, v))
		}
	}
	return nil
}

// ComputeID assigns a stable, content-derived identifier and, if Name is
// empty, a default name of "<head predicate>#<index>".
func (r *Rule) ComputeID(index int) {
	if r.Name == "" {
		r.Name = fmt.Sprintf("%s#%d", r.Head.Predicate, index)
	}
	h := sha256.New()
	h.Write([]byte(r.Head.String()))
	for _, elem := range r.Body {
		if elem.Atom != nil {
			h.Write([]byte(elem.Atom.String()))
		}
		if elem.Aggregate != nil {
			h.Write([]byte(fmt.Sprintf("%s(%s->%s)", elem.Aggregate.Operator, elem.Aggregate.AggregatedVar, elem.Aggregate.ResultVar)))
			for _, a := range elem.Aggregate.Body {
				h.Write([]byte(a.String()))
			}
		}
	}
	r.ID = hex.EncodeToString(h.Sum(nil))[:16]
}

// BodyPredicates returns every predicate referenced in the body, including
// within aggregate sub-bodies, each paired with whether the reference is
// negated.
type PredRef struct {
	Predicate string
	Negated   bool
}

func (r Rule) BodyPredicates() []PredRef {
	var out []PredRef
	for _, elem := range r.Body {
		if elem.Atom != nil {
			out = append(out, PredRef{elem.Atom.Predicate, elem.Atom.Negated})
		}
		if elem.Aggregate != nil {
			for _, a := range elem.Aggregate.Body {
				out = append(out, PredRef{a.Predicate, a.Negated})
			}
		}
	}
	return out
}
