package eval

import (
	"sort"

	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/fact"
	"github.com/rune-authz/rune/internal/rerr"
	"github.com/rune-authz/rune/internal/value"
)

// evalAggregate evaluates agg's sub-body against facts, starting from the
// outer row's substitution base (so variables already bound outside the
// aggregate act as an implicit group-by key), and folds agg.Operator over
// the distinct resulting bindings of agg.AggregatedVar. ok is false when
// the sub-body has no satisfying rows or a type mismatch was hit, in
// either case the aggregate contributes nothing for this outer row; a
// type mismatch additionally reports a non-fatal rerr.KindTypeMismatch via
// addDiag rather than aborting the whole evaluation (spec.md's
// TypeMismatchError is a diagnostic, not an abort).
func evalAggregate(agg datalog.AggregateAtom, base datalog.Substitution, facts map[string]fact.Fact, idx *posIndex, derivationFor func(fact.Fact) *Derivation, addDiag func(error)) (value.Value, []*Derivation, bool, error) {
	elems := make([]datalog.BodyElem, len(agg.Body))
	for i, a := range agg.Body {
		elems[i] = datalog.AtomElem(a)
	}
	rows, err := joinBody(elems, -1, base, facts, idx, nil, derivationFor, addDiag)
	if err != nil {
		return value.Value{}, nil, false, err
	}
	if len(rows) == 0 {
		return value.Value{}, nil, false, nil
	}

	groupVars := make(map[string]bool)
	for _, a := range agg.Body {
		if a.Negated {
			continue
		}
		for _, v := range a.Variables() {
			groupVars[v] = true
		}
	}

	seen := make(map[string]bool)
	var distinct []row
	for _, r := range rows {
		key := dedupKey(r.sub, groupVars)
		if seen[key] {
			continue
		}
		seen[key] = true
		distinct = append(distinct, r)
	}

	var premises []*Derivation
	for _, r := range distinct {
		premises = append(premises, r.premises...)
	}

	if agg.Operator == datalog.AggCount {
		return value.IntValue(int64(len(distinct))), premises, true, nil
	}

	nums := make([]int64, 0, len(distinct))
	for _, r := range distinct {
		v, ok := r.sub[agg.AggregatedVar]
		if !ok {
			return value.Value{}, nil, false, rerr.New(rerr.KindUnsafeRule, "aggregate over unbound variable "+agg.AggregatedVar)
		}
		if v.Kind() != value.Int {
			addDiag(rerr.New(rerr.KindTypeMismatch, "aggregate "+string(agg.Operator)+" requires int values, got "+v.Kind().String()))
			return value.Value{}, nil, false, nil
		}
		nums = append(nums, v.Int())
	}
	if len(nums) == 0 {
		return value.Value{}, nil, false, nil
	}

	switch agg.Operator {
	case datalog.AggSum:
		var sum int64
		for _, n := range nums {
			sum += n
		}
		return value.IntValue(sum), premises, true, nil
	case datalog.AggMin:
		min := nums[0]
		for _, n := range nums[1:] {
			if n < min {
				min = n
			}
		}
		return value.IntValue(min), premises, true, nil
	case datalog.AggMax:
		max := nums[0]
		for _, n := range nums[1:] {
			if n > max {
				max = n
			}
		}
		return value.IntValue(max), premises, true, nil
	case datalog.AggMean:
		var sum int64
		for _, n := range nums {
			sum += n
		}
		return value.IntValue(sum / int64(len(nums))), premises, true, nil
	default:
		return value.Value{}, nil, false, rerr.New(rerr.KindInternal, "unknown aggregate operator "+string(agg.Operator))
	}
}

// dedupKey builds a canonical key over sub restricted to vars, so distinct
// bindings of the aggregate's own body (ignoring variables bound only in
// the outer row) collapse to one row each.
func dedupKey(sub datalog.Substitution, vars map[string]bool) string {
	keys := make([]string, 0, len(vars))
	for v := range vars {
		keys = append(keys, v)
	}
	sort.Strings(keys)
	var sb []byte
	for _, k := range keys {
		sb = append(sb, k...)
		sb = append(sb, '=')
		if val, ok := sub[k]; ok {
			sb = append(sb, val.Key()...)
		}
		sb = append(sb, ';')
	}
	return string(sb)
}
