// Package engine wires the Datalog deduction core and the decision
// composition layer into one embeddable type: Engine. This is the surface
// a CLI, server, or language binding consumes (spec.md §6); it owns no
// transport of its own.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/rune-authz/rune/internal/authz"
	"github.com/rune-authz/rune/internal/config"
	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/eval"
	"github.com/rune-authz/rune/internal/fact"
	"github.com/rune-authz/rune/internal/reload"
	"github.com/rune-authz/rune/internal/rlog"
	"github.com/rune-authz/rune/internal/value"
)

// Engine is RUNE's embeddable authorization engine: a fact store, a
// swappable rule evaluator, an external policy evaluator, a decision
// cache, and (optionally) a file-watching reload coordinator, composed
// per spec.md §4.7.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	facts       *fact.Store
	composition *authz.CompositionEngine
	policy      *authz.StaticEvaluator
	coordinator *reload.Coordinator
}

// New constructs an Engine from cfg, starting with no rules and no
// policies loaded (spec.md "no persisted state": the caller supplies
// rules and policies via ReloadRules/ReloadPolicies or the reload
// coordinator after New returns).
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := rlog.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	facts := fact.NewStore()
	evalOpts := eval.Options{MaxIterations: cfg.Eval.MaxIterations, Parallel: cfg.Eval.Parallel, RecordProvenance: cfg.Eval.RecordProvenance}
	evaluator := eval.NewIncrementalEvaluator(nil, evalOpts)
	policy := authz.NewStaticEvaluator(nil)

	cache, err := authz.NewDecisionCache(cfg.Cache.MaxSize, cfg.CacheTTL())
	if err != nil {
		return nil, err
	}

	composition := authz.NewCompositionEngine(facts, evaluator, policy, cache, cfg.Composition.PermitPredicate, cfg.Composition.ForbidPredicate)

	e := &Engine{
		cfg:         cfg,
		logger:      rlog.Component(logger, "engine"),
		facts:       facts,
		composition: composition,
		policy:      policy,
	}

	coordinator, err := reload.New(reload.Options{
		RulesPath:        cfg.Reload.RulesPath,
		PoliciesPath:     cfg.Reload.PoliciesPath,
		DebounceInterval: cfg.DebounceInterval(),
		MaxRetries:       cfg.Reload.MaxRetries,
		RetryDelay:       cfg.RetryDelay(),
		EvalOptions:      evalOpts,
	}, composition, rlog.Component(logger, "reload"))
	if err != nil {
		return nil, err
	}
	e.coordinator = coordinator

	return e, nil
}

// Watch starts the reload coordinator, watching the configured rule and
// policy paths for changes. Optional: an embedder that drives reloads
// itself (via ReloadRules/ReloadPolicies) need not call this.
func (e *Engine) Watch(ctx context.Context) error {
	return e.coordinator.Start(ctx)
}

// Close stops the reload coordinator, if running.
func (e *Engine) Close() {
	e.coordinator.Stop()
}

// ReloadRules stratifies, assigns rule IDs to, and safety-checks rules,
// then atomically swaps them in for future Authorize calls. In-flight
// requests keep evaluating against the evaluator and snapshot they
// started with. Rejects the whole set on the first unsafe rule or
// stratification failure, leaving the previously installed rules in
// place (spec.md §6/§7: errors are rejected at rule installation).
func (e *Engine) ReloadRules(rules []datalog.Rule) error {
	rules = append([]datalog.Rule(nil), rules...)

	strata, err := datalog.Stratify(rules)
	if err != nil {
		return err
	}
	datalog.AssignStrata(rules, strata)
	for i := range rules {
		rules[i].ComputeID(i)
	}
	for _, r := range rules {
		if err := r.Safety(); err != nil {
			return err
		}
	}

	evalOpts := eval.Options{MaxIterations: e.cfg.Eval.MaxIterations, Parallel: e.cfg.Eval.Parallel, RecordProvenance: e.cfg.Eval.RecordProvenance}
	ev := eval.NewIncrementalEvaluator(rules, evalOpts)
	e.composition.SwapEvaluator(ev)
	e.composition.ClearCache()
	return nil
}

// ReloadPolicies replaces the external policy evaluator's policy set.
func (e *Engine) ReloadPolicies(policies []authz.Policy) error {
	e.policy.SetPolicies(policies)
	e.composition.ClearCache()
	return nil
}

// AddFact appends a base fact, reporting whether it was new (spec.md
// Engine::add_fact).
func (e *Engine) AddFact(predicate string, args ...value.Value) bool {
	return e.facts.Add(fact.New(predicate, args...))
}

// Authorize answers one authorization request, consulting the decision
// cache, then the Datalog evaluator and external policy engine
// concurrently on a miss (spec.md §4.7).
func (e *Engine) Authorize(ctx context.Context, req authz.Request) (authz.AuthorizationResult, error) {
	return e.composition.Authorize(ctx, req)
}

// ClearCache drops every cached decision.
func (e *Engine) ClearCache() {
	e.composition.ClearCache()
}

// CacheStats reports the decision cache's size and hit rate.
func (e *Engine) CacheStats() authz.Stats {
	return e.composition.CacheStats()
}

// Logger exposes the engine's component logger, for an embedder that
// wants to attach its own fields.
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}
