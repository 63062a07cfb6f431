// Package eval implements RUNE's Datalog evaluation core: per-stratum
// semi-naive bottom-up fixpoint evaluation (spec.md C6), an
// re-evaluate-on-change incremental wrapper (C7), aggregation (C9), and
// provenance recording (C8). The algorithm shape is grounded on
// google/mangle's seminaivebottomup.go (full first round, then delta-pinned
// rounds until no rule yields a new fact); the join, indexing and
// provenance-interning code underneath is RUNE's own.
package eval

import (
	"context"
	"sync"

	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/fact"
	"github.com/rune-authz/rune/internal/rerr"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxIterations bounds the number of delta rounds a single stratum
// may run before evaluation gives up and reports a timeout. It exists to
// turn a runaway rule set (a stratification bug slipping past Stratify, or
// an unbounded-growth rule over unbounded domains) into an error instead of
// a hang.
const DefaultMaxIterations = 10000

// Options configures a single Evaluate call.
type Options struct {
	// MaxIterations overrides DefaultMaxIterations; <= 0 uses the default.
	MaxIterations int
	// Parallel applies a stratum's rules concurrently via errgroup. Safe
	// because rules within a stratum never write a predicate another rule
	// in the same round reads as "delta" (semi-naive rounds are read-facts
	// write-newDelta), and the provenance Store is its own mutex domain.
	Parallel bool
	// RecordProvenance builds a Store recording how each derived fact was
	// reached. Per spec.md it is per-evaluation state; never share a Result
	// across requests.
	RecordProvenance bool
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Facts       map[string]fact.Fact // base facts plus everything derived, keyed by Fact.Key()
	Provenance  *Store               // nil unless Options.RecordProvenance
	FiredRules  []string             // rule names that matched at least once, first-fired order
	Strata      int                  // number of strata processed (0 if the rule set was empty)
	Diagnostics []error              // non-fatal issues hit during evaluation (e.g. aggregate type mismatches)
}

// Evaluate runs the full evaluation to fixpoint: every stratum, in
// ascending order, is evaluated to its own fixpoint before the next
// stratum starts, which is what makes stratified negation sound (a
// negated reference always resolves against a stratum whose facts have
// already stopped changing).
func Evaluate(ctx context.Context, rules []datalog.Rule, base map[string]fact.Fact, opts Options) (*Result, error) {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	var prov *Store
	if opts.RecordProvenance {
		prov = NewStore()
	}

	facts := make(map[string]fact.Fact, len(base))
	for k, f := range base {
		facts[k] = f
	}

	byStratum := make(map[int][]datalog.Rule)
	maxStratum := -1
	for _, r := range rules {
		byStratum[r.Stratum] = append(byStratum[r.Stratum], r)
		if r.Stratum > maxStratum {
			maxStratum = r.Stratum
		}
	}

	firedSeen := make(map[string]bool)
	var fired []string
	var firedMu sync.Mutex
	markFired := func(name string) {
		firedMu.Lock()
		defer firedMu.Unlock()
		if !firedSeen[name] {
			firedSeen[name] = true
			fired = append(fired, name)
		}
	}

	var diags []error
	var diagsMu sync.Mutex
	addDiag := func(err error) {
		diagsMu.Lock()
		diags = append(diags, err)
		diagsMu.Unlock()
	}

	derivationFor := func(f fact.Fact) *Derivation {
		if prov == nil {
			return nil
		}
		if ds := prov.DerivationsOf(f); len(ds) > 0 {
			return ds[0]
		}
		return prov.internBase(f)
	}

	for s := 0; s <= maxStratum; s++ {
		if err := ctx.Err(); err != nil {
			return nil, rerr.Wrap(rerr.KindTimeout, "evaluation cancelled", err)
		}
		stratumRules := byStratum[s]
		if len(stratumRules) == 0 {
			continue
		}

		var plainRules, factRules []datalog.Rule
		for _, r := range stratumRules {
			if r.IsFactRule() {
				factRules = append(factRules, r)
			} else {
				plainRules = append(plainRules, r)
			}
		}

		for _, r := range factRules {
			f, ok := r.Head.ToFact()
			if !ok {
				return nil, rerr.New(rerr.KindUnsafeRule, "fact rule "+r.Name+" has a non-ground head")
			}
			markFired(r.Name)
			if _, exists := facts[f.Key()]; exists {
				continue
			}
			facts[f.Key()] = f
			if prov != nil {
				prov.internDerived(f, r.ID, r.Name, nil)
			}
		}

		if len(plainRules) == 0 {
			continue
		}

		// Round 0: full evaluation of every rule against the facts carried
		// into this stratum (base facts plus this stratum's fact-rule
		// heads). This is what makes a non-recursive rule like
		// path(X,Y):-edge(X,Y) fire even though edge never appears as a
		// "delta" of this stratum.
		idx := buildIndex(facts)
		delta, err := runTasks(ctx, fullTasks(plainRules), facts, idx, nil, prov, derivationFor, markFired, addDiag, opts.Parallel)
		if err != nil {
			return nil, err
		}
		mergeNew(facts, delta)

		iter := 0
		for len(delta) > 0 {
			iter++
			if iter > maxIter {
				return nil, rerr.New(rerr.KindTimeout, "stratum exceeded max fixpoint iterations")
			}
			if err := ctx.Err(); err != nil {
				return nil, rerr.Wrap(rerr.KindTimeout, "evaluation cancelled", err)
			}
			idx = buildIndex(facts)
			deltaIdx := buildIndex(delta)
			newDelta, err := runTasks(ctx, pinnedTasks(plainRules), facts, idx, deltaIdx, prov, derivationFor, markFired, addDiag, opts.Parallel)
			if err != nil {
				return nil, err
			}
			mergeNew(facts, newDelta)
			delta = newDelta
		}
	}

	return &Result{Facts: facts, Provenance: prov, FiredRules: fired, Strata: maxStratum + 1, Diagnostics: diags}, nil
}

func mergeNew(facts, delta map[string]fact.Fact) {
	for k, f := range delta {
		if _, exists := facts[k]; !exists {
			facts[k] = f
		}
	}
}

// ruleTask is one (rule, pinned-body-position) unit of work. pin == -1
// means every positive atom matches against the full accumulated fact set
// (used for round 0 and for any rule containing an aggregate, which is
// always re-evaluated in full since its result can change without any of
// its dependencies becoming "new" in the delta sense).
type ruleTask struct {
	rule datalog.Rule
	pin  int
}

func fullTasks(rules []datalog.Rule) []ruleTask {
	tasks := make([]ruleTask, len(rules))
	for i, r := range rules {
		tasks[i] = ruleTask{rule: r, pin: -1}
	}
	return tasks
}

func pinnedTasks(rules []datalog.Rule) []ruleTask {
	var tasks []ruleTask
	for _, r := range rules {
		if hasAggregate(r) {
			tasks = append(tasks, ruleTask{rule: r, pin: -1})
			continue
		}
		plain := false
		for i, elem := range r.Body {
			if elem.Atom != nil && !elem.Atom.Negated {
				tasks = append(tasks, ruleTask{rule: r, pin: i})
				plain = true
			}
		}
		if !plain {
			// Body is entirely negated atoms (unusual but not unsafe if
			// the head has no variables); still needs one evaluation pass.
			tasks = append(tasks, ruleTask{rule: r, pin: -1})
		}
	}
	return tasks
}

func hasAggregate(r datalog.Rule) bool {
	for _, e := range r.Body {
		if e.Aggregate != nil {
			return true
		}
	}
	return false
}

// runTasks evaluates every task and unions the resulting facts, either
// sequentially or concurrently across an errgroup.
func runTasks(ctx context.Context, tasks []ruleTask, facts map[string]fact.Fact, idx *posIndex, pinIdx *posIndex, prov *Store, derivationFor func(fact.Fact) *Derivation, markFired func(string), addDiag func(error), parallel bool) (map[string]fact.Fact, error) {
	out := make(map[string]fact.Fact)
	if !parallel || len(tasks) <= 1 {
		for _, t := range tasks {
			rf, err := applyRule(t.rule, t.pin, facts, idx, pinIdx, prov, derivationFor, markFired, addDiag)
			if err != nil {
				return nil, err
			}
			for k, f := range rf {
				out[k] = f
			}
		}
		return out, nil
	}

	var mu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			rf, err := applyRule(t.rule, t.pin, facts, idx, pinIdx, prov, derivationFor, markFired, addDiag)
			if err != nil {
				return err
			}
			mu.Lock()
			for k, f := range rf {
				out[k] = f
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// row is a partial variable binding accumulated while joining a rule body,
// together with the Derivations of the facts consulted so far (nil when
// provenance isn't being recorded).
type row struct {
	sub      datalog.Substitution
	premises []*Derivation
}

// joinBody evaluates body left to right starting from seed, returning one
// row per satisfying binding. pinPos, when >= 0, forces the positive atom
// at that body index to match against pinIdx instead of idx; every other
// positive atom and every aggregate always matches against the full
// facts/idx. Negated atoms are tested against facts
// (always sound here: Stratify rejects any negated edge inside a stratum,
// so a negated atom's predicate belongs to a strictly lower, already
// fully-evaluated stratum).
func joinBody(body []datalog.BodyElem, pinPos int, seed datalog.Substitution, facts map[string]fact.Fact, idx *posIndex, pinIdx *posIndex, derivationFor func(fact.Fact) *Derivation, addDiag func(error)) ([]row, error) {
	rows := []row{{sub: seed}}
	for i, elem := range body {
		var next []row
		switch {
		case elem.Atom != nil && elem.Atom.Negated:
			atom := *elem.Atom
			for _, r := range rows {
				applied := atom.Apply(r.sub)
				if !applied.IsGround() {
					return nil, rerr.New(rerr.KindUnsafeRule, "negated atom "+atom.String()+" has an unbound variable")
				}
				f, _ := applied.ToFact()
				if _, present := facts[f.Key()]; present {
					continue
				}
				next = append(next, r)
			}
		case elem.Atom != nil:
			atom := *elem.Atom
			srcIdx := idx
			if i == pinPos {
				srcIdx = pinIdx
			}
			for _, r := range rows {
				applied := atom.Apply(r.sub)
				for _, cand := range srcIdx.candidates(applied) {
					merged, ok := datalog.UnifyAtomFact(atom, cand, r.sub)
					if !ok {
						continue
					}
					prem := r.premises
					if d := derivationFor(cand); d != nil {
						prem = append(append([]*Derivation(nil), r.premises...), d)
					}
					next = append(next, row{sub: merged, premises: prem})
				}
			}
		case elem.Aggregate != nil:
			agg := *elem.Aggregate
			for _, r := range rows {
				val, premises, ok, err := evalAggregate(agg, r.sub, facts, idx, derivationFor, addDiag)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				merged, ok := r.sub.Merge(datalog.Substitution{agg.ResultVar: val})
				if !ok {
					continue
				}
				prem := append(append([]*Derivation(nil), r.premises...), premises...)
				next = append(next, row{sub: merged, premises: prem})
			}
		}
		rows = next
		if len(rows) == 0 {
			return nil, nil
		}
	}
	return rows, nil
}

// applyRule joins rule's body (pinned at pinPos, or fully if pinPos < 0)
// and grounds Head against every resulting row, skipping facts already
// present in facts. Rows that fail to ground the head indicate an unsafe
// rule that slipped past Rule.Safety.
func applyRule(rule datalog.Rule, pinPos int, facts map[string]fact.Fact, idx *posIndex, pinIdx *posIndex, prov *Store, derivationFor func(fact.Fact) *Derivation, markFired func(string), addDiag func(error)) (map[string]fact.Fact, error) {
	rows, err := joinBody(rule.Body, pinPos, datalog.Substitution{}, facts, idx, pinIdx, derivationFor, addDiag)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make(map[string]fact.Fact)
	for _, r := range rows {
		head := rule.Head.Apply(r.sub)
		f, ok := head.ToFact()
		if !ok {
			return nil, rerr.New(rerr.KindUnsafeRule, "rule "+rule.Name+" produced a non-ground head")
		}
		markFired(rule.Name)
		if _, known := facts[f.Key()]; known {
			continue
		}
		if prov != nil {
			prov.internDerived(f, rule.ID, rule.Name, r.premises)
		}
		out[f.Key()] = f
	}
	return out, nil
}
