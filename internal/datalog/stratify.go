package datalog

import (
	"fmt"
	"sort"

	"github.com/rune-authz/rune/internal/rerr"
)

// edge is a dependency edge head-predicate -> body-predicate.
type edge struct {
	to      string
	negated bool
}

// Stratify partitions rules into strata: Stratum(p) = max over incoming
// predecessors of (stratum(q)+1 if negated, else stratum(q)), computed over
// the condensation of the predicate dependency graph's strongly connected
// components. Returns StratificationError if any SCC contains a negated
// internal edge (a cycle through negation). Deterministic: predicates are
// always processed in sorted order, so equal input always yields an equal
// partition.
func Stratify(rules []Rule) (map[string]int, error) {
	graph := make(map[string][]edge)
	predicates := make(map[string]bool)
	predicates["true"] = true
	for _, r := range rules {
		predicates[r.Head.Predicate] = true
		for _, ref := range r.BodyPredicates() {
			predicates[ref.Predicate] = true
			graph[r.Head.Predicate] = append(graph[r.Head.Predicate], edge{ref.Predicate, ref.Negated})
		}
	}

	order := sortedKeys(predicates)
	sccOf, sccs := tarjanSCC(order, graph)

	// Check for a negated edge whose endpoints lie in the same SCC.
	for _, p := range order {
		for _, e := range graph[p] {
			if sccOf[p] == sccOf[e.to] && e.negated {
				return nil, rerr.New(rerr.KindStratification, fmt.Sprintf("cycle through negated dependency on predicate %q", e.to))
			}
		}
	}

	// Build condensation edges: sccA -> sccB if any predicate in A depends
	// on a predicate in B, keeping the strongest (negated) edge between any
	// two distinct SCCs.
	sccNegated := make(map[[2]int]bool)
	sccEdges := make(map[int]map[int]bool)
	for _, p := range order {
		for _, e := range graph[p] {
			a, b := sccOf[p], sccOf[e.to]
			if a == b {
				continue
			}
			if sccEdges[a] == nil {
				sccEdges[a] = make(map[int]bool)
			}
			sccEdges[a][b] = true
			if e.negated {
				sccNegated[[2]int{a, b}] = true
			}
		}
	}

	stratum := make([]int, len(sccs))
	// Process SCCs in an order consistent with dependency (topological over
	// condensation): repeatedly relax until fixpoint. The condensation is
	// acyclic (cycles were already rejected or collapsed into one SCC), so
	// this converges in at most len(sccs) rounds.
	changed := true
	for round := 0; changed && round <= len(sccs)+1; round++ {
		changed = false
		for a := 0; a < len(sccs); a++ {
			for b := range sccEdges[a] {
				want := stratum[b]
				if sccNegated[[2]int{a, b}] {
					want++
				}
				if want > stratum[a] {
					stratum[a] = want
					changed = true
				}
			}
		}
	}

	result := make(map[string]int, len(predicates))
	for p := range predicates {
		result[p] = stratum[sccOf[p]]
	}
	return result, nil
}

// AssignStrata applies the stratum map computed by Stratify to rules,
// in-place, using each rule's head predicate.
func AssignStrata(rules []Rule, strata map[string]int) {
	for i := range rules {
		rules[i].Stratum = strata[rules[i].Head.Predicate]
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// tarjanSCC computes strongly connected components over graph restricted to
// the given deterministic predicate order, returning a map from predicate to
// SCC index and the list of SCCs (as predicate name slices, for debugging).
// SCC indices are assigned in completion order, which is reverse-topological
// (Tarjan's classic property): if SCC a has an edge to a different SCC b,
// then index(a) > index(b). Stratify does not depend on this order; it
// relaxes strata to a fixpoint.
func tarjanSCC(order []string, graph map[string][]edge) (map[string]int, [][]string) {
	index := make(map[string]int)
	lowlink := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	counter := 0
	sccOf := make(map[string]int)
	var sccs [][]string

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, e := range graph[v] {
			w := e.to
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if index[w] < lowlink[v] {
					lowlink[v] = index[w]
				}
			}
		}

		if lowlink[v] == index[v] {
			var comp []string
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sccIdx := len(sccs)
			for _, w := range comp {
				sccOf[w] = sccIdx
			}
			sccs = append(sccs, comp)
		}
	}

	for _, v := range order {
		if _, seen := index[v]; !seen {
			strongconnect(v)
		}
	}
	return sccOf, sccs
}
