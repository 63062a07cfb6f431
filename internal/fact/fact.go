// Package fact implements RUNE's Fact type and the concurrent FactStore
// described in spec.md C1/C2: an immutable-snapshot store published via
// atomic pointer swap, giving lock-free concurrent reads while facts are
// appended and retracted.
package fact

import (
	"strconv"
	"strings"

	"github.com/rune-authz/rune/internal/value"
)

// Fact is a predicate applied to a ground argument sequence. The sequence
// number orders audit/provenance output only; it is excluded from equality
// and hashing.
type Fact struct {
	Predicate string
	Args      []value.Value
	Seq       uint64
}

// New constructs a Fact with the given predicate and arguments. Seq is left
// zero; FactStore.Add assigns the real sequence number.
func New(predicate string, args ...value.Value) Fact {
	cp := make([]value.Value, len(args))
	copy(cp, args)
	return Fact{Predicate: predicate, Args: cp}
}

// Key returns a canonical encoding used for equality, hashing, and map
// storage. Two facts are Equal iff their Key()s match.
func (f Fact) Key() string {
	var sb strings.Builder
	sb.WriteString(f.Predicate)
	sb.WriteByte('/')
	sb.WriteString(strconv.Itoa(len(f.Args)))
	for _, a := range f.Args {
		sb.WriteByte('|')
		sb.WriteString(a.Key())
	}
	return sb.String()
}

// Equal reports whether two facts have the same predicate and argument
// sequence; the Seq field is ignored.
func (f Fact) Equal(other Fact) bool {
	if f.Predicate != other.Predicate || len(f.Args) != len(other.Args) {
		return false
	}
	for i := range f.Args {
		if !f.Args[i].Equal(other.Args[i]) {
			return false
		}
	}
	return true
}

// String renders a Datalog-ish textual form for diagnostics.
func (f Fact) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = a.String()
	}
	return f.Predicate + "(" + strings.Join(parts, ", ") + ")"
}
