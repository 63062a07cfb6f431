package authz

import (
	"sync/atomic"

	"github.com/rune-authz/rune/internal/eval"
)

// atomicEvaluator publishes an *eval.IncrementalEvaluator via an atomic
// pointer, giving readers release/acquire semantics across a reload swap
// (spec.md §5 "rule-set pointer is updated with release/acquire
// semantics").
type atomicEvaluator struct {
	ptr atomic.Pointer[eval.IncrementalEvaluator]
}

func newAtomicEvaluator(ev *eval.IncrementalEvaluator) *atomicEvaluator {
	a := &atomicEvaluator{}
	a.ptr.Store(ev)
	return a
}

func (a *atomicEvaluator) load() *eval.IncrementalEvaluator { return a.ptr.Load() }

func (a *atomicEvaluator) store(ev *eval.IncrementalEvaluator) { a.ptr.Store(ev) }
