package authz

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/rune-authz/rune/internal/value"
)

// PolicyEvaluator is the external policy engine's contract as seen by the
// composition engine (spec.md §1, §4.7 step 2): total over its input,
// independent of the fact store, safe to run concurrently with the
// Datalog evaluator.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, req Request) (PolicyVerdict, error)
}

// PolicyVerdict is one external-policy-engine outcome: a decision plus the
// identifiers of the policies that produced it, for AuthorizationResult's
// evidence trail.
type PolicyVerdict struct {
	Decision Decision
	Policies []string
}

// Operator is a trimmed condition comparator, covering the subset of
// attribute-based access control comparisons a reference policy engine
// needs to exercise the composition engine in tests.
type Operator string

const (
	OpEquals Operator = "equals"
	OpIn     Operator = "in"
	OpExists Operator = "exists"
	OpGT     Operator = "greater_than"
	OpLT     Operator = "less_than"
)

// AttributeSource names where a Condition's left-hand attribute comes
// from.
type AttributeSource string

const (
	SourcePrincipal AttributeSource = "principal"
	SourceResource  AttributeSource = "resource"
	SourceContext   AttributeSource = "context"
	SourceParams    AttributeSource = "params"
)

// AttributeRef locates a single attribute to compare against.
type AttributeRef struct {
	Source AttributeSource
	Key    string
}

// Condition is a single comparison evaluated against a Request.
type Condition struct {
	Attribute AttributeRef
	Operator  Operator
	Value     value.Value
	Values    []value.Value // populated for OpIn
}

// PolicyRule is one (effect, conditions) pair within a Policy. All
// conditions must hold for the rule to match; the first matching rule in
// priority order (highest first) determines the policy's verdict.
type PolicyRule struct {
	ID         string
	Effect     Decision
	Conditions []Condition
	Priority   int
}

// Policy is a named, ordered list of rules.
type Policy struct {
	ID    string
	Rules []PolicyRule
}

// StaticEvaluator evaluates an in-memory set of policies, swappable at
// runtime via SetPolicies. It is a reference PolicyEvaluator used to
// exercise the composition engine; a production deployment supplies its
// own.
type StaticEvaluator struct {
	policies atomic.Pointer[[]Policy]
	Default  Decision
}

// NewStaticEvaluator returns an evaluator over policies with Deny as the
// default verdict when no rule matches.
func NewStaticEvaluator(policies []Policy) *StaticEvaluator {
	e := &StaticEvaluator{Default: Deny}
	e.SetPolicies(policies)
	return e
}

// SetPolicies atomically replaces the policy set, for use by the reload
// coordinator (C12).
func (e *StaticEvaluator) SetPolicies(policies []Policy) {
	cp := append([]Policy(nil), policies...)
	e.policies.Store(&cp)
}

// Evaluate checks every policy's rules, highest priority first, and
// returns the first match; falls back to Default when nothing matches.
func (e *StaticEvaluator) Evaluate(ctx context.Context, req Request) (PolicyVerdict, error) {
	var matched []string
	decision := e.Default
	found := false

	policies := e.policies.Load()
	if policies == nil {
		return PolicyVerdict{Decision: decision}, nil
	}
	for _, p := range *policies {
		rules := make([]PolicyRule, len(p.Rules))
		copy(rules, p.Rules)
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

		for _, r := range rules {
			if ctx.Err() != nil {
				return PolicyVerdict{}, ctx.Err()
			}
			if conditionsMatch(r.Conditions, req) {
				if !found {
					decision = r.Effect
					found = true
				}
				matched = append(matched, p.ID+"/"+r.ID)
				break
			}
		}
	}

	return PolicyVerdict{Decision: decision, Policies: matched}, nil
}

func conditionsMatch(conds []Condition, req Request) bool {
	for _, c := range conds {
		if !conditionMatch(c, req) {
			return false
		}
	}
	return true
}

func conditionMatch(c Condition, req Request) bool {
	v, ok := lookupAttribute(c.Attribute, req)

	switch c.Operator {
	case OpExists:
		return ok
	case OpEquals:
		return ok && v.Equal(c.Value)
	case OpIn:
		if !ok {
			return false
		}
		for _, candidate := range c.Values {
			if v.Equal(candidate) {
				return true
			}
		}
		return false
	case OpGT:
		return ok && v.Kind() == value.Int && c.Value.Kind() == value.Int && v.Int() > c.Value.Int()
	case OpLT:
		return ok && v.Kind() == value.Int && c.Value.Kind() == value.Int && v.Int() < c.Value.Int()
	default:
		return false
	}
}

func lookupAttribute(ref AttributeRef, req Request) (value.Value, bool) {
	switch ref.Source {
	case SourcePrincipal:
		v, ok := req.Principal.Attributes[ref.Key]
		return v, ok
	case SourceResource:
		v, ok := req.Resource.Attributes[ref.Key]
		return v, ok
	case SourceContext:
		v, ok := req.Context[ref.Key]
		return v, ok
	case SourceParams:
		v, ok := req.Params[ref.Key]
		return v, ok
	default:
		return value.Value{}, false
	}
}
