package eval

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rune-authz/rune/internal/fact"
)

// Derivation is a witness for a fact: either a Base fact or a rule
// application over premise Derivations (spec.md C8). Sharing across the
// derivation forest is by structural hash, producing a DAG with no cycles.
type Derivation struct {
	ID       string
	Fact     fact.Fact
	IsBase   bool
	RuleID   string
	RuleName string
	Premises []*Derivation
	Depth    int // 0 for base facts; max(premise depths)+1 otherwise
}

// Store interns Derivation nodes by structural hash and answers provenance
// queries. It is per-evaluation state, never shared across requests
// (spec.md §5 "Provenance cache is per-evaluation; not shared").
type Store struct {
	mu       sync.Mutex
	byHash   map[string]*Derivation
	byFact   map[string][]*Derivation // fact key -> all derivations interned for it
}

// NewStore returns an empty provenance Store.
func NewStore() *Store {
	return &Store{byHash: make(map[string]*Derivation), byFact: make(map[string][]*Derivation)}
}

// internBase interns a Base derivation for f, reusing an existing node with
// the same structural hash if one exists.
func (s *Store) internBase(f fact.Fact) *Derivation {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := "base:" + f.Key()
	if d, ok := s.byHash[hash]; ok {
		return d
	}
	d := &Derivation{ID: uuid.NewString(), Fact: f, IsBase: true, Depth: 0}
	s.byHash[hash] = d
	s.byFact[f.Key()] = append(s.byFact[f.Key()], d)
	return d
}

// internDerived interns a rule-derived node for f given the rule and the
// exact premise derivations that produced it, reusing a structurally
// identical node if one already exists.
func (s *Store) internDerived(f fact.Fact, ruleID, ruleName string, premises []*Derivation) *Derivation {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := derivationHash(f, ruleID, premises)
	if d, ok := s.byHash[hash]; ok {
		return d
	}
	depth := 0
	for _, p := range premises {
		if p.Depth+1 > depth {
			depth = p.Depth + 1
		}
	}
	d := &Derivation{
		ID:       uuid.NewString(),
		Fact:     f,
		RuleID:   ruleID,
		RuleName: ruleName,
		Premises: premises,
		Depth:    depth,
	}
	s.byHash[hash] = d
	s.byFact[f.Key()] = append(s.byFact[f.Key()], d)
	return d
}

func derivationHash(f fact.Fact, ruleID string, premises []*Derivation) string {
	h := sha256.New()
	h.Write([]byte(f.Key()))
	h.Write([]byte{0})
	h.Write([]byte(ruleID))
	for _, p := range premises {
		h.Write([]byte{0})
		h.Write([]byte(p.ID))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DerivationsOf returns every interned derivation for f, in no particular
// order.
func (s *Store) DerivationsOf(f fact.Fact) []*Derivation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Derivation(nil), s.byFact[f.Key()]...)
}

// ShortestProof returns the minimum-depth derivation for f, or nil if none
// was recorded.
func (s *Store) ShortestProof(f fact.Fact) *Derivation {
	ds := s.DerivationsOf(f)
	if len(ds) == 0 {
		return nil
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Depth < ds[j].Depth })
	return ds[0]
}

// BaseFacts walks d's proof tree and returns the distinct base facts it
// ultimately rests on.
func BaseFacts(d *Derivation) []fact.Fact {
	seen := make(map[string]bool)
	var out []fact.Fact
	var walk func(*Derivation)
	walk = func(n *Derivation) {
		if n.IsBase {
			if !seen[n.Fact.Key()] {
				seen[n.Fact.Key()] = true
				out = append(out, n.Fact)
			}
			return
		}
		for _, p := range n.Premises {
			walk(p)
		}
	}
	walk(d)
	return out
}

// ContributingRules walks d's proof tree and returns the distinct rule IDs
// involved.
func ContributingRules(d *Derivation) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(*Derivation)
	walk = func(n *Derivation) {
		if !n.IsBase && !seen[n.RuleID] {
			seen[n.RuleID] = true
			out = append(out, n.RuleID)
		}
		for _, p := range n.Premises {
			walk(p)
		}
	}
	walk(d)
	return out
}
