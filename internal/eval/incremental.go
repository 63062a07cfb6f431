package eval

import (
	"context"
	"sync"

	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/fact"
)

// IncrementalEvaluator caches the last Result keyed by FactStore generation
// and re-evaluates from scratch whenever that generation changes. Spec.md
// §9 chooses correctness over efficiency here deliberately: rather than
// computing a true incremental delta across calls (which would require
// truth maintenance for retraction), a change to the base fact set simply
// invalidates the cache and the next Evaluate call is a full run. Rules
// are fixed for the lifetime of one IncrementalEvaluator — Reload (C12)
// builds a new one and swaps it in, which is what invalidates on a rule
// change.
type IncrementalEvaluator struct {
	rules []datalog.Rule
	opts  Options

	mu             sync.Mutex
	lastResult     *Result
	lastGeneration uint64
	haveLast       bool
}

// NewIncrementalEvaluator returns an evaluator over a fixed rule set.
func NewIncrementalEvaluator(rules []datalog.Rule, opts Options) *IncrementalEvaluator {
	return &IncrementalEvaluator{rules: rules, opts: opts}
}

// Evaluate returns the fixpoint Result for snap, reusing the previous
// Result if snap's generation matches the one used last time.
func (e *IncrementalEvaluator) Evaluate(ctx context.Context, snap *fact.Snapshot) (*Result, error) {
	e.mu.Lock()
	if e.haveLast && e.lastGeneration == snap.Generation() {
		result := e.lastResult
		e.mu.Unlock()
		return result, nil
	}
	e.mu.Unlock()

	base := make(map[string]fact.Fact, snap.Len())
	for _, f := range snap.All() {
		base[f.Key()] = f
	}
	result, err := Evaluate(ctx, e.rules, base, e.opts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lastResult = result
	e.lastGeneration = snap.Generation()
	e.haveLast = true
	e.mu.Unlock()
	return result, nil
}

// Invalidate drops any cached Result, forcing the next Evaluate call to
// run a full fixpoint regardless of generation.
func (e *IncrementalEvaluator) Invalidate() {
	e.mu.Lock()
	e.haveLast = false
	e.lastResult = nil
	e.mu.Unlock()
}

// Rules returns the rule set this evaluator runs, for diagnostics.
func (e *IncrementalEvaluator) Rules() []datalog.Rule {
	return e.rules
}
