package datalog

import (
	"testing"

	"github.com/rune-authz/rune/internal/fact"
	"github.com/rune-authz/rune/internal/value"
)

func TestUnifyAtomFactBindsVariables(t *testing.T) {
	atom := NewAtom("edge", Var("X"), Var("Y"))
	f := fact.New("edge", value.IntValue(1), value.IntValue(2))
	sub, ok := UnifyAtomFact(atom, f, Substitution{})
	if !ok {
		t.Fatalf("expected unification to succeed")
	}
	if sub["X"].Int() != 1 || sub["Y"].Int() != 2 {
		t.Fatalf("unexpected bindings: %+v", sub)
	}
}

func TestUnifyAtomFactRepeatedVariableMustAgree(t *testing.T) {
	atom := NewAtom("same", Var("X"), Var("X"))
	ok1 := fact.New("same", value.IntValue(1), value.IntValue(1))
	bad := fact.New("same", value.IntValue(1), value.IntValue(2))

	if _, ok := UnifyAtomFact(atom, ok1, Substitution{}); !ok {
		t.Fatalf("expected matching repeated variable to unify")
	}
	if _, ok := UnifyAtomFact(atom, bad, Substitution{}); ok {
		t.Fatalf("expected mismatched repeated variable to fail")
	}
}

func TestUnifyAtomFactConstantMismatch(t *testing.T) {
	atom := NewAtom("p", Const(value.IntValue(5)))
	f := fact.New("p", value.IntValue(6))
	if _, ok := UnifyAtomFact(atom, f, Substitution{}); ok {
		t.Fatalf("expected constant mismatch to fail unification")
	}
}

func TestUnifyAtomFactArityAndPredicateMismatch(t *testing.T) {
	atom := NewAtom("p", Var("X"))
	if _, ok := UnifyAtomFact(atom, fact.New("q", value.IntValue(1)), Substitution{}); ok {
		t.Fatalf("expected predicate mismatch to fail")
	}
	if _, ok := UnifyAtomFact(atom, fact.New("p", value.IntValue(1), value.IntValue(2)), Substitution{}); ok {
		t.Fatalf("expected arity mismatch to fail")
	}
}

func TestSubstitutionMergeConflict(t *testing.T) {
	a := Substitution{"X": value.IntValue(1)}
	b := Substitution{"X": value.IntValue(2)}
	if _, ok := a.Merge(b); ok {
		t.Fatalf("expected conflicting merge to fail")
	}
	c := Substitution{"Y": value.IntValue(2)}
	merged, ok := a.Merge(c)
	if !ok || len(merged) != 2 {
		t.Fatalf("expected compatible merge to succeed with both bindings")
	}
}

func TestRuleSafety(t *testing.T) {
	safe := Rule{
		Name: "allowed",
		Head: NewAtom("allowed", Var("U")),
		Body: []BodyElem{
			AtomElem(NewAtom("user", Var("U"))),
			AtomElem(NewAtom("blocked", Var("U")).Negate()),
		},
	}
	if err := safe.Safety(); err != nil {
		t.Fatalf("expected safe rule, got %v", err)
	}

	unsafe := Rule{
		Name: "bad",
		Head: NewAtom("bad", Var("U"), Var("V")),
		Body: []BodyElem{
			AtomElem(NewAtom("user", Var("U"))),
		},
	}
	if err := unsafe.Safety(); err == nil {
		t.Fatalf("expected unsafe rule (V only in head) to be rejected")
	}

	negOnly := Rule{
		Name: "bad2",
		Head: NewAtom("bad2", Var("U")),
		Body: []BodyElem{
			AtomElem(NewAtom("blocked", Var("U")).Negate()),
		},
	}
	if err := negOnly.Safety(); err == nil {
		t.Fatalf("expected rule with head var only in negated atom to be rejected")
	}
}

func TestStratifyTransitiveClosureIsStratumZero(t *testing.T) {
	rules := []Rule{
		{Head: NewAtom("path", Var("X"), Var("Y")), Body: []BodyElem{AtomElem(NewAtom("edge", Var("X"), Var("Y")))}},
		{Head: NewAtom("path", Var("X"), Var("Z")), Body: []BodyElem{
			AtomElem(NewAtom("path", Var("X"), Var("Y"))),
			AtomElem(NewAtom("edge", Var("Y"), Var("Z"))),
		}},
	}
	strata, err := Stratify(rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strata["path"] != 0 || strata["edge"] != 0 {
		t.Fatalf("expected non-negated recursive rules in stratum 0, got %+v", strata)
	}
}

func TestStratifyNegationCrossesUpward(t *testing.T) {
	rules := []Rule{
		{Head: NewAtom("allowed", Var("U")), Body: []BodyElem{
			AtomElem(NewAtom("user", Var("U"))),
			AtomElem(NewAtom("blocked", Var("U")).Negate()),
		}},
	}
	strata, err := Stratify(rules)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strata["allowed"] <= strata["blocked"] {
		t.Fatalf("expected allowed's stratum to exceed blocked's, got %+v", strata)
	}
}

func TestStratifyRejectsNegatedCycle(t *testing.T) {
	rules := []Rule{
		{Head: NewAtom("p", Var("X")), Body: []BodyElem{AtomElem(NewAtom("q", Var("X")).Negate())}},
		{Head: NewAtom("q", Var("X")), Body: []BodyElem{AtomElem(NewAtom("p", Var("X")))}},
	}
	if _, err := Stratify(rules); err == nil {
		t.Fatalf("expected a cycle through negation to be rejected")
	}
}

func TestStratifyAllowsNonNegatedCycle(t *testing.T) {
	rules := []Rule{
		{Head: NewAtom("p", Var("X")), Body: []BodyElem{AtomElem(NewAtom("q", Var("X")))}},
		{Head: NewAtom("q", Var("X")), Body: []BodyElem{AtomElem(NewAtom("p", Var("X")))}},
	}
	if _, err := Stratify(rules); err != nil {
		t.Fatalf("expected a mutually-recursive cycle without negation to be accepted, got %v", err)
	}
}

func TestStratifyDeterministicAcrossEqualInput(t *testing.T) {
	rules := []Rule{
		{Head: NewAtom("allowed", Var("U")), Body: []BodyElem{
			AtomElem(NewAtom("user", Var("U"))),
			AtomElem(NewAtom("blocked", Var("U")).Negate()),
		}},
	}
	a, err := Stratify(rules)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Stratify(rules)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != len(b) {
		t.Fatalf("expected same predicate set")
	}
	for k, v := range a {
		if b[k] != v {
			t.Fatalf("expected deterministic stratum assignment, predicate %q got %d vs %d", k, v, b[k])
		}
	}
}

func TestAtomToFactRequiresGround(t *testing.T) {
	if _, ok := NewAtom("p", Var("X")).ToFact(); ok {
		t.Fatalf("expected non-ground atom to fail ToFact")
	}
	f, ok := NewAtom("p", Const(value.IntValue(1))).ToFact()
	if !ok || f.Predicate != "p" {
		t.Fatalf("expected ground atom to convert to a fact")
	}
}
