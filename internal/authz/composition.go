package authz

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rune-authz/rune/internal/eval"
	"github.com/rune-authz/rune/internal/fact"
	"github.com/rune-authz/rune/internal/value"
)

// CompositionEngine implements Authorize (C11): fingerprint, cache lookup,
// concurrent Datalog + external-policy dispatch, deny-overrides merge, and
// cache insertion.
type CompositionEngine struct {
	facts     *fact.Store
	evaluator *atomicEvaluator
	policy    PolicyEvaluator
	cache     *DecisionCache

	permitPredicate string
	forbidPredicate string

	group singleflight.Group
}

// NewCompositionEngine wires a fact store, an initial evaluator, an
// external policy evaluator and a decision cache into one engine.
func NewCompositionEngine(facts *fact.Store, evaluator *eval.IncrementalEvaluator, policy PolicyEvaluator, cache *DecisionCache, permitPredicate, forbidPredicate string) *CompositionEngine {
	e := &CompositionEngine{
		facts:           facts,
		evaluator:       newAtomicEvaluator(evaluator),
		policy:          policy,
		cache:           cache,
		permitPredicate: permitPredicate,
		forbidPredicate: forbidPredicate,
	}
	return e
}

// SwapEvaluator atomically replaces the evaluator used for the Datalog
// side of future Authorize calls. Requests already in flight keep using
// the snapshot and evaluator they started with (spec.md §5 "no request
// observes a mixture of old and new rules").
func (e *CompositionEngine) SwapEvaluator(ev *eval.IncrementalEvaluator) {
	e.evaluator.store(ev)
}

// SwapPolicies replaces the external policy evaluator's policy set, when
// the configured PolicyEvaluator supports it (the built-in StaticEvaluator
// does; a custom external engine may manage its own reload path instead,
// in which case this is a no-op).
func (e *CompositionEngine) SwapPolicies(policies []Policy) {
	if updater, ok := e.policy.(interface{ SetPolicies([]Policy) }); ok {
		updater.SetPolicies(policies)
	}
}

// ClearCache drops every cached decision.
func (e *CompositionEngine) ClearCache() {
	e.cache.Clear()
}

// CacheStats reports the decision cache's current size and hit rate.
func (e *CompositionEngine) CacheStats() Stats {
	return e.cache.Stats()
}

type datalogOutcome struct {
	decision Decision
	rules    []string
	facts    []string
}

// Authorize computes an AuthorizationResult for req, consulting the
// decision cache first and, on a miss, dispatching the Datalog and
// external-policy evaluations concurrently.
func (e *CompositionEngine) Authorize(ctx context.Context, req Request) (AuthorizationResult, error) {
	fp := req.Fingerprint()
	if cached, ok := e.cache.Get(fp); ok {
		return cached, nil
	}

	// Concurrent identical requests for the same fingerprint share one
	// evaluation rather than each redoing the fixpoint and policy dispatch.
	v, err, _ := e.group.Do(string(fp), func() (interface{}, error) {
		return e.evaluate(ctx, req)
	})
	if err != nil {
		return AuthorizationResult{}, err
	}
	result := v.(AuthorizationResult)

	if cached, ok := e.cache.Get(fp); ok {
		return cached, nil
	}
	e.cache.Put(fp, result)
	return result, nil
}

func (e *CompositionEngine) evaluate(ctx context.Context, req Request) (AuthorizationResult, error) {
	start := time.Now()

	var dl datalogOutcome
	var pv PolicyVerdict

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ev := e.evaluator.load()
		snap := e.facts.Snapshot()
		result, err := ev.Evaluate(gctx, snap)
		if err != nil {
			return err
		}
		dl = deriveDatalogOutcome(result, req, e.permitPredicate, e.forbidPredicate)
		return nil
	})
	g.Go(func() error {
		verdict, err := e.policy.Evaluate(gctx, req)
		if err != nil {
			return err
		}
		pv = verdict
		return nil
	})
	if err := g.Wait(); err != nil {
		return AuthorizationResult{}, err
	}

	decision := Combine(dl.decision, pv.Decision)
	return AuthorizationResult{
		Decision:    decision,
		Explanation: explain(req, dl, pv, decision),
		Rules:       dl.rules,
		Facts:       dl.facts,
		Policies:    pv.Policies,
		Duration:    time.Since(start),
		Cached:      false,
	}, nil
}

// deriveDatalogOutcome reads the Datalog verdict off a full evaluation
// result: permit if the permit predicate holds for the request's triple,
// forbid if the forbid predicate holds, deny otherwise (spec.md §4.7
// step 2).
func deriveDatalogOutcome(result *eval.Result, req Request, permitPredicate, forbidPredicate string) datalogOutcome {
	t := req.triple()
	args := []value.Value{
		value.StringValue(t.principalID),
		value.StringValue(t.action),
		value.StringValue(t.resourceID),
	}

	forbidFact := fact.New(forbidPredicate, args...)
	if _, ok := result.Facts[forbidFact.Key()]; ok {
		return buildOutcome(result, forbidFact, Forbid)
	}

	permitFact := fact.New(permitPredicate, args...)
	if _, ok := result.Facts[permitFact.Key()]; ok {
		return buildOutcome(result, permitFact, Permit)
	}

	return datalogOutcome{decision: Deny}
}

func buildOutcome(result *eval.Result, f fact.Fact, decision Decision) datalogOutcome {
	out := datalogOutcome{decision: decision}
	if result.Provenance == nil {
		return out
	}
	proof := result.Provenance.ShortestProof(f)
	if proof == nil {
		return out
	}
	out.rules = ruleNames(proof)
	for _, bf := range eval.BaseFacts(proof) {
		out.facts = append(out.facts, bf.Key())
	}
	return out
}

// ruleNames walks a proof tree collecting distinct rule names, mirroring
// eval.ContributingRules but reporting names instead of IDs for the
// human-facing AuthorizationResult.
func ruleNames(d *eval.Derivation) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*eval.Derivation)
	walk = func(n *eval.Derivation) {
		if !n.IsBase && !seen[n.RuleName] {
			seen[n.RuleName] = true
			out = append(out, n.RuleName)
		}
		for _, p := range n.Premises {
			walk(p)
		}
	}
	walk(d)
	return out
}

func explain(req Request, dl datalogOutcome, pv PolicyVerdict, decision Decision) string {
	return fmt.Sprintf(
		"%s %s on %s:%s -> %s (datalog=%s, policy=%s, %s)",
		req.Principal.Type, req.Action, req.Resource.Type, req.Resource.ID,
		decision, dl.decision, pv.Decision, paramsSummary(len(req.Params)),
	)
}
