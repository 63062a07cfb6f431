package eval

import (
	"context"
	"testing"

	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/fact"
	"github.com/rune-authz/rune/internal/value"
)

func mustStratify(t *testing.T, rules []datalog.Rule) []datalog.Rule {
	t.Helper()
	strata, err := datalog.Stratify(rules)
	if err != nil {
		t.Fatalf("stratify: %v", err)
	}
	datalog.AssignStrata(rules, strata)
	for i := range rules {
		rules[i].ComputeID(i)
	}
	return rules
}

func baseFacts(facts ...fact.Fact) map[string]fact.Fact {
	m := make(map[string]fact.Fact, len(facts))
	for _, f := range facts {
		m[f.Key()] = f
	}
	return m
}

func TestTransitiveClosure(t *testing.T) {
	rules := mustStratify(t, []datalog.Rule{
		{Name: "path_base", Head: datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Y")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("edge", datalog.Var("X"), datalog.Var("Y"))),
		}},
		{Name: "path_step", Head: datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Z")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Y"))),
			datalog.AtomElem(datalog.NewAtom("edge", datalog.Var("Y"), datalog.Var("Z"))),
		}},
	})

	base := baseFacts(
		fact.New("edge", value.IntValue(1), value.IntValue(2)),
		fact.New("edge", value.IntValue(2), value.IntValue(3)),
		fact.New("edge", value.IntValue(3), value.IntValue(4)),
	)

	result, err := Evaluate(context.Background(), rules, base, Options{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	want := []fact.Fact{
		fact.New("path", value.IntValue(1), value.IntValue(2)),
		fact.New("path", value.IntValue(2), value.IntValue(3)),
		fact.New("path", value.IntValue(3), value.IntValue(4)),
		fact.New("path", value.IntValue(1), value.IntValue(3)),
		fact.New("path", value.IntValue(2), value.IntValue(4)),
		fact.New("path", value.IntValue(1), value.IntValue(4)),
	}
	for _, w := range want {
		if _, ok := result.Facts[w.Key()]; !ok {
			t.Errorf("missing derived fact %s", w.String())
		}
	}
	if _, ok := result.Facts[fact.New("path", value.IntValue(4), value.IntValue(1)).Key()]; ok {
		t.Errorf("derived a path that does not exist in the graph")
	}
}

func TestStratifiedNegation(t *testing.T) {
	rules := mustStratify(t, []datalog.Rule{
		{Name: "allowed", Head: datalog.NewAtom("allowed", datalog.Var("U")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("user", datalog.Var("U"))),
			datalog.AtomElem(datalog.NewAtom("blocked", datalog.Var("U")).Negate()),
		}},
	})

	base := baseFacts(
		fact.New("user", value.StringValue("alice")),
		fact.New("user", value.StringValue("bob")),
		fact.New("blocked", value.StringValue("bob")),
	)

	result, err := Evaluate(context.Background(), rules, base, Options{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if _, ok := result.Facts[fact.New("allowed", value.StringValue("alice")).Key()]; !ok {
		t.Errorf("expected alice to be allowed")
	}
	if _, ok := result.Facts[fact.New("allowed", value.StringValue("bob")).Key()]; ok {
		t.Errorf("expected bob to be blocked, not allowed")
	}
}

func TestCountSumMeanAggregation(t *testing.T) {
	rules := mustStratify(t, []datalog.Rule{
		{Name: "stats", Head: datalog.NewAtom("stats", datalog.Var("N"), datalog.Var("S"), datalog.Var("M")), Body: []datalog.BodyElem{
			datalog.AggregateElem(datalog.AggregateAtom{
				Operator: datalog.AggCount, AggregatedVar: "V", ResultVar: "N",
				Body: []datalog.Atom{datalog.NewAtom("score", datalog.Var("P"), datalog.Var("V"))},
			}),
			datalog.AggregateElem(datalog.AggregateAtom{
				Operator: datalog.AggSum, AggregatedVar: "V", ResultVar: "S",
				Body: []datalog.Atom{datalog.NewAtom("score", datalog.Var("P"), datalog.Var("V"))},
			}),
			datalog.AggregateElem(datalog.AggregateAtom{
				Operator: datalog.AggMean, AggregatedVar: "V", ResultVar: "M",
				Body: []datalog.Atom{datalog.NewAtom("score", datalog.Var("P"), datalog.Var("V"))},
			}),
		}},
	})

	base := baseFacts(
		fact.New("score", value.StringValue("alice"), value.IntValue(10)),
		fact.New("score", value.StringValue("bob"), value.IntValue(20)),
		fact.New("score", value.StringValue("carol"), value.IntValue(30)),
	)

	result, err := Evaluate(context.Background(), rules, base, Options{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	want := fact.New("stats", value.IntValue(3), value.IntValue(60), value.IntValue(20))
	if _, ok := result.Facts[want.Key()]; !ok {
		t.Errorf("expected stats(3, 60, 20), got facts: %+v", result.Facts)
	}
}

func TestAggregateTypeMismatchFailsQuietly(t *testing.T) {
	rules := mustStratify(t, []datalog.Rule{
		{Name: "total", Head: datalog.NewAtom("total", datalog.Var("S")), Body: []datalog.BodyElem{
			datalog.AggregateElem(datalog.AggregateAtom{
				Operator: datalog.AggSum, AggregatedVar: "V", ResultVar: "S",
				Body: []datalog.Atom{datalog.NewAtom("score", datalog.Var("P"), datalog.Var("V"))},
			}),
		}},
	})

	base := baseFacts(fact.New("score", value.StringValue("alice"), value.StringValue("not-a-number")))

	result, err := Evaluate(context.Background(), rules, base, Options{})
	if err != nil {
		t.Fatalf("expected evaluation to succeed despite the type mismatch, got %v", err)
	}
	if len(result.Diagnostics) == 0 {
		t.Errorf("expected a recorded type-mismatch diagnostic")
	}
	for k := range result.Facts {
		if k != fact.New("score", value.StringValue("alice"), value.StringValue("not-a-number")).Key() {
			t.Errorf("expected no derivation for total, got extra fact %s", k)
		}
	}
}

func TestParallelEvaluationMatchesSequential(t *testing.T) {
	rules := mustStratify(t, []datalog.Rule{
		{Name: "path_base", Head: datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Y")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("edge", datalog.Var("X"), datalog.Var("Y"))),
		}},
		{Name: "path_step", Head: datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Z")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Y"))),
			datalog.AtomElem(datalog.NewAtom("edge", datalog.Var("Y"), datalog.Var("Z"))),
		}},
	})
	base := baseFacts(
		fact.New("edge", value.IntValue(1), value.IntValue(2)),
		fact.New("edge", value.IntValue(2), value.IntValue(3)),
	)

	seq, err := Evaluate(context.Background(), rules, base, Options{})
	if err != nil {
		t.Fatalf("sequential Evaluate: %v", err)
	}
	par, err := Evaluate(context.Background(), rules, base, Options{Parallel: true})
	if err != nil {
		t.Fatalf("parallel Evaluate: %v", err)
	}
	if len(seq.Facts) != len(par.Facts) {
		t.Fatalf("sequential derived %d facts, parallel derived %d", len(seq.Facts), len(par.Facts))
	}
	for k := range seq.Facts {
		if _, ok := par.Facts[k]; !ok {
			t.Errorf("parallel evaluation missing fact %s", k)
		}
	}
}

func TestEvaluateWithProvenanceTracksBaseFactsAndRules(t *testing.T) {
	rules := mustStratify(t, []datalog.Rule{
		{Name: "path_base", Head: datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Y")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("edge", datalog.Var("X"), datalog.Var("Y"))),
		}},
		{Name: "path_step", Head: datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Z")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Y"))),
			datalog.AtomElem(datalog.NewAtom("edge", datalog.Var("Y"), datalog.Var("Z"))),
		}},
	})
	base := baseFacts(
		fact.New("edge", value.IntValue(1), value.IntValue(2)),
		fact.New("edge", value.IntValue(2), value.IntValue(3)),
	)

	result, err := Evaluate(context.Background(), rules, base, Options{RecordProvenance: true})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Provenance == nil {
		t.Fatalf("expected a provenance store")
	}

	target := fact.New("path", value.IntValue(1), value.IntValue(3))
	proof := result.Provenance.ShortestProof(target)
	if proof == nil {
		t.Fatalf("expected a recorded derivation for %s", target.String())
	}
	rulesUsed := ContributingRules(proof)
	if len(rulesUsed) == 0 {
		t.Errorf("expected at least one contributing rule")
	}
	bases := BaseFacts(proof)
	if len(bases) == 0 {
		t.Errorf("expected at least one contributing base fact")
	}
}

func TestEvaluateRespectsContextCancellation(t *testing.T) {
	rules := mustStratify(t, []datalog.Rule{
		{Name: "path_base", Head: datalog.NewAtom("path", datalog.Var("X"), datalog.Var("Y")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("edge", datalog.Var("X"), datalog.Var("Y"))),
		}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Evaluate(ctx, rules, baseFacts(), Options{})
	if err == nil {
		t.Fatalf("expected a cancellation error")
	}
}
