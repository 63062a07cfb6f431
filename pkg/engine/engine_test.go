package engine

import (
	"context"
	"testing"

	"github.com/rune-authz/rune/internal/authz"
	"github.com/rune-authz/rune/internal/config"
	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/value"
)

func ownerPermitRules(t *testing.T) []datalog.Rule {
	t.Helper()
	rule := datalog.Rule{
		Name: "permit",
		Head: datalog.NewAtom("permit", datalog.Var("P"), datalog.Var("A"), datalog.Var("R")),
		Body: []datalog.BodyElem{
			datalog.AtomElem(datalog.NewAtom("owns", datalog.Var("P"), datalog.Var("R"))),
			datalog.AtomElem(datalog.NewAtom("action_any", datalog.Var("A"))),
		},
	}
	rules := []datalog.Rule{rule}
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

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Logging.Development = false
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestEngineAuthorizesViaDatalogRules(t *testing.T) {
	e := newTestEngine(t)
	if err := e.ReloadRules(ownerPermitRules(t)); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
	e.AddFact("owns", value.StringValue("alice"), value.StringValue("doc-1"))
	e.AddFact("action_any", value.StringValue("read"))

	req := authz.Request{
		Principal: authz.Entity{Type: "User", ID: "alice"},
		Action:    "read",
		Resource:  authz.Entity{Type: "Document", ID: "doc-1"},
	}

	result, err := e.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != authz.Permit {
		t.Fatalf("expected Permit, got %s (%s)", result.Decision, result.Explanation)
	}
}

func TestEngineDefaultsToDenyWithNoRules(t *testing.T) {
	e := newTestEngine(t)

	req := authz.Request{
		Principal: authz.Entity{Type: "User", ID: "alice"},
		Action:    "read",
		Resource:  authz.Entity{Type: "Document", ID: "doc-1"},
	}

	result, err := e.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != authz.Deny {
		t.Fatalf("expected Deny, got %s", result.Decision)
	}
}

func TestEngineReloadPoliciesCanForbidOverDatalogPermit(t *testing.T) {
	e := newTestEngine(t)
	if err := e.ReloadRules(ownerPermitRules(t)); err != nil {
		t.Fatalf("ReloadRules: %v", err)
	}
	e.AddFact("owns", value.StringValue("alice"), value.StringValue("doc-1"))
	e.AddFact("action_any", value.StringValue("read"))

	if err := e.ReloadPolicies([]authz.Policy{{
		ID: "suspensions",
		Rules: []authz.PolicyRule{{
			ID:     "block-suspended",
			Effect: authz.Forbid,
			Conditions: []authz.Condition{{
				Attribute: authz.AttributeRef{Source: authz.SourcePrincipal, Key: "suspended"},
				Operator:  authz.OpEquals,
				Value:     value.BoolValue(true),
			}},
		}},
	}}); err != nil {
		t.Fatalf("ReloadPolicies: %v", err)
	}

	req := authz.Request{
		Principal: authz.Entity{Type: "User", ID: "alice", Attributes: map[string]value.Value{
			"suspended": value.BoolValue(true),
		}},
		Action:   "read",
		Resource: authz.Entity{Type: "Document", ID: "doc-1"},
	}

	result, err := e.Authorize(context.Background(), req)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Decision != authz.Forbid {
		t.Fatalf("expected Forbid to override Datalog permit, got %s", result.Decision)
	}
}

func TestEngineCacheStatsReflectHitsAndMisses(t *testing.T) {
	e := newTestEngine(t)
	req := authz.Request{
		Principal: authz.Entity{Type: "User", ID: "alice"},
		Action:    "read",
		Resource:  authz.Entity{Type: "Document", ID: "doc-1"},
	}

	if _, err := e.Authorize(context.Background(), req); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if _, err := e.Authorize(context.Background(), req); err != nil {
		t.Fatalf("Authorize: %v", err)
	}

	stats := e.CacheStats()
	if stats.Size != 1 {
		t.Errorf("expected cache size 1, got %d", stats.Size)
	}
	if stats.HitRate <= 0 {
		t.Errorf("expected a positive hit rate after a repeat request, got %f", stats.HitRate)
	}

	e.ClearCache()
	if stats := e.CacheStats(); stats.Size != 0 {
		t.Errorf("expected cache cleared, got size %d", stats.Size)
	}
}

func TestParseRequestResolvesTypedAndBareEntityRefs(t *testing.T) {
	e := newTestEngine(t)

	req, err := e.ParseRequest([]byte(`{"principal":"User:alice","action":"read","resource":"doc-1","context":{"ip":"10.0.0.1"}}`))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if req.Principal.Type != "User" || req.Principal.ID != "alice" {
		t.Errorf("expected typed principal ref, got %+v", req.Principal)
	}
	if req.Resource.Type != "" || req.Resource.ID != "doc-1" {
		t.Errorf("expected bare resource ref, got %+v", req.Resource)
	}
	if req.Context["ip"].Str() != "10.0.0.1" {
		t.Errorf("expected context to carry ip, got %+v", req.Context)
	}
}

func TestParseRequestRejectsMissingAction(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.ParseRequest([]byte(`{"principal":"alice","resource":"doc-1"}`)); err == nil {
		t.Fatalf("expected an invalid-request error")
	}
}

func TestMarshalResponseOmitsDiagnosticsWithoutDebug(t *testing.T) {
	result := authz.AuthorizationResult{Decision: authz.Permit, Explanation: "ok"}

	data, err := MarshalResponse(result, false)
	if err != nil {
		t.Fatalf("MarshalResponse: %v", err)
	}
	if string(data) != `{"decision":"Permit","reasons":["ok"]}` {
		t.Errorf("unexpected JSON without debug: %s", data)
	}

	data, err = MarshalResponse(result, true)
	if err != nil {
		t.Fatalf("MarshalResponse: %v", err)
	}
	resp := ToWireResponse(result, true)
	if resp.Diagnostics == nil {
		t.Fatalf("expected diagnostics with debug, got none in %s", data)
	}
}
