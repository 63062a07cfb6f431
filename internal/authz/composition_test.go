package authz

import (
	"context"
	"testing"
	"time"

	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/eval"
	"github.com/rune-authz/rune/internal/fact"
	"github.com/rune-authz/rune/internal/value"
)

func stratifiedRules(t *testing.T, rules []datalog.Rule) []datalog.Rule {
	t.Helper()
	strata, err := datalog.Stratify(rules)
	if err != nil {
		t.Fatalf("Stratify: %v", err)
	}
	datalog.AssignStrata(rules, strata)
	for i := range rules {
		rules[i].ComputeID(i)
	}
	return rules
}

// permitRule derives permit(P,A,R) from admin(P) and owns(P,R), i.e. an
// admin may perform any action on a resource they own.
func permitRule() datalog.Rule {
	return datalog.Rule{
		Name: "admin_owns_permit",
		Head: datalog.NewAtom("permit", datalog.Var("P"), datalog.Var("A"), datalog.Var("R")),
		Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("admin", datalog.Var("P"))),
			datalog.AtomElem(datalog.NewAtom("owns", datalog.Var("P"), datalog.Var("R"))),
			datalog.AtomElem(datalog.NewAtom("action_any", datalog.Var("A"))),
		},
	}
}

func forbidRule() datalog.Rule {
	return datalog.Rule{
		Name: "suspended_forbid",
		Head: datalog.NewAtom("forbid", datalog.Var("P"), datalog.Var("A"), datalog.Var("R")),
		Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("suspended", datalog.Var("P"))),
			datalog.AtomElem(datalog.NewAtom("admin", datalog.Var("P"))),
			datalog.AtomElem(datalog.NewAtom("owns", datalog.Var("P"), datalog.Var("R"))),
			datalog.AtomElem(datalog.NewAtom("action_any", datalog.Var("A"))),
		},
	}
}

type alwaysPermit struct{}

func (alwaysPermit) Evaluate(ctx context.Context, req Request) (PolicyVerdict, error) {
	return PolicyVerdict{Decision: Permit, Policies: []string{"always-permit"}}, nil
}

type alwaysForbid struct{}

func (alwaysForbid) Evaluate(ctx context.Context, req Request) (PolicyVerdict, error) {
	return PolicyVerdict{Decision: Forbid, Policies: []string{"always-forbid"}}, nil
}

func newTestEngine(t *testing.T, rules []datalog.Rule, policy PolicyEvaluator, facts ...fact.Fact) (*CompositionEngine, *fact.Store) {
	t.Helper()
	store := fact.NewStore()
	store.AddMany(facts)

	ev := eval.NewIncrementalEvaluator(stratifiedRules(t, rules), eval.Options{RecordProvenance: true})
	cache, err := NewDecisionCache(100, time.Minute)
	if err != nil {
		t.Fatalf("NewDecisionCache: %v", err)
	}
	return NewCompositionEngine(store, ev, policy, cache, "permit", "forbid"), store
}

func TestAuthorizePermitsViaDatalog(t *testing.T) {
	engine, _ := newTestEngine(t, []datalog.Rule{permitRule()}, NewStaticEvaluator(nil),
		fact.New("admin", value.StringValue("alice")),
		fact.New("owns", value.StringValue("alice"), value.StringValue("doc-1")),
		fact.New("action_any", value.StringValue("read")),
	)

	req := Request{Principal: Entity{Type: "user", ID: "alice"}, Action: "read", Resource: Entity{Type: "document", ID: "doc-1"}}
	result, err := engine.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != Permit {
		t.Errorf("expected Permit, got %s", result.Decision)
	}
	if result.Cached {
		t.Errorf("expected first call to be uncached")
	}
	if len(result.Rules) == 0 {
		t.Errorf("expected at least one contributing rule")
	}
}

func TestAuthorizeDenyOverridesDatalogPermit(t *testing.T) {
	engine, _ := newTestEngine(t, []datalog.Rule{permitRule()}, alwaysForbid{},
		fact.New("admin", value.StringValue("alice")),
		fact.New("owns", value.StringValue("alice"), value.StringValue("doc-1")),
		fact.New("action_any", value.StringValue("read")),
	)

	req := Request{Principal: Entity{Type: "user", ID: "alice"}, Action: "read", Resource: Entity{Type: "document", ID: "doc-1"}}
	result, err := engine.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != Forbid {
		t.Errorf("expected Forbid to override Permit, got %s", result.Decision)
	}
}

func TestAuthorizeDatalogForbidOverridesPolicyPermit(t *testing.T) {
	engine, _ := newTestEngine(t, []datalog.Rule{permitRule(), forbidRule()}, alwaysPermit{},
		fact.New("admin", value.StringValue("alice")),
		fact.New("owns", value.StringValue("alice"), value.StringValue("doc-1")),
		fact.New("action_any", value.StringValue("read")),
		fact.New("suspended", value.StringValue("alice")),
	)

	req := Request{Principal: Entity{Type: "user", ID: "alice"}, Action: "read", Resource: Entity{Type: "document", ID: "doc-1"}}
	result, err := engine.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != Forbid {
		t.Errorf("expected Forbid, got %s", result.Decision)
	}
}

func TestAuthorizeDefaultsToDenyWithNoMatch(t *testing.T) {
	engine, _ := newTestEngine(t, []datalog.Rule{permitRule()}, NewStaticEvaluator(nil))

	req := Request{Principal: Entity{Type: "user", ID: "bob"}, Action: "read", Resource: Entity{Type: "document", ID: "doc-2"}}
	result, err := engine.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != Deny {
		t.Errorf("expected Deny, got %s", result.Decision)
	}
}

func TestAuthorizeCachesResult(t *testing.T) {
	engine, _ := newTestEngine(t, []datalog.Rule{permitRule()}, NewStaticEvaluator(nil),
		fact.New("admin", value.StringValue("alice")),
		fact.New("owns", value.StringValue("alice"), value.StringValue("doc-1")),
		fact.New("action_any", value.StringValue("read")),
	)

	req := Request{Principal: Entity{Type: "user", ID: "alice"}, Action: "read", Resource: Entity{Type: "document", ID: "doc-1"}}
	if _, err := engine.Authorize(context.Background(), req); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	second, err := engine.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !second.Cached {
		t.Errorf("expected second identical call to be cached")
	}
}

func TestSwapEvaluatorAffectsFutureRequestsOnly(t *testing.T) {
	engine, _ := newTestEngine(t, []datalog.Rule{permitRule()}, NewStaticEvaluator(nil),
		fact.New("admin", value.StringValue("alice")),
		fact.New("owns", value.StringValue("alice"), value.StringValue("doc-1")),
		fact.New("action_any", value.StringValue("read")),
	)

	req := Request{Principal: Entity{Type: "user", ID: "carol"}, Action: "read", Resource: Entity{Type: "document", ID: "doc-9"}}
	before, err := engine.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if before.Decision != Deny {
		t.Fatalf("expected initial Deny, got %s", before.Decision)
	}

	newRules := stratifiedRules(t, []datalog.Rule{
		{Name: "everyone_permit", Head: datalog.NewAtom("permit", datalog.Var("P"), datalog.Var("A"), datalog.Var("R")), Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("requestable", datalog.Var("P"), datalog.Var("A"), datalog.Var("R"))),
		}},
	})
	engine.SwapEvaluator(eval.NewIncrementalEvaluator(newRules, eval.Options{RecordProvenance: true}))
	engine.ClearCache()

	// alice is permitted under the original rules (see
	// TestAuthorizePermitsViaDatalog); the swapped-in rules need a
	// requestable fact, so the same request is now denied.
	req2 := Request{Principal: Entity{Type: "user", ID: "alice"}, Action: "read", Resource: Entity{Type: "document", ID: "doc-1"}}
	after, err := engine.Authorize(context.Background(), req2)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if after.Decision != Deny {
		t.Errorf("expected Deny since requestable fact absent, got %s", after.Decision)
	}
}
