package eval

import (
	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/fact"
)

// posIndex implements the three index shapes spec.md §4.3 names: by
// predicate, by (predicate, position-0 constant), and by (predicate,
// position-1 constant). It is rebuilt cheaply from a flat fact set at the
// start of each fixpoint round.
type posIndex struct {
	byPred  map[string][]fact.Fact
	byPred0 map[string]map[string][]fact.Fact
	byPred1 map[string]map[string][]fact.Fact
}

func buildIndex(facts map[string]fact.Fact) *posIndex {
	idx := &posIndex{
		byPred:  make(map[string][]fact.Fact),
		byPred0: make(map[string]map[string][]fact.Fact),
		byPred1: make(map[string]map[string][]fact.Fact),
	}
	for _, f := range facts {
		idx.byPred[f.Predicate] = append(idx.byPred[f.Predicate], f)
		if len(f.Args) >= 1 {
			m := idx.byPred0[f.Predicate]
			if m == nil {
				m = make(map[string][]fact.Fact)
				idx.byPred0[f.Predicate] = m
			}
			k := f.Args[0].Key()
			m[k] = append(m[k], f)
		}
		if len(f.Args) >= 2 {
			m := idx.byPred1[f.Predicate]
			if m == nil {
				m = make(map[string][]fact.Fact)
				idx.byPred1[f.Predicate] = m
			}
			k := f.Args[1].Key()
			m[k] = append(m[k], f)
		}
	}
	return idx
}

// candidates returns an indexed candidate set for atom (already
// substituted under the current partial binding): the position-0 constant
// index when the first term is a constant, else the position-1 constant
// index when the second term is, else the full predicate set. The result
// is a superset of true matches; callers still run full unification.
func (idx *posIndex) candidates(applied datalog.Atom) []fact.Fact {
	terms := applied.Terms
	if len(terms) >= 1 && !terms[0].IsVariable() {
		m := idx.byPred0[applied.Predicate]
		return m[terms[0].Value().Key()]
	}
	if len(terms) >= 2 && !terms[1].IsVariable() {
		m := idx.byPred1[applied.Predicate]
		return m[terms[1].Value().Key()]
	}
	return idx.byPred[applied.Predicate]
}
