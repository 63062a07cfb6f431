// Package authz implements the request/decision model, fingerprinting,
// decision cache and composition engine from spec.md §3, §4.6 and §4.7.
package authz

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rune-authz/rune/internal/value"
)

// Entity is a typed, identified principal or resource. Parents model
// hierarchy (e.g. a document's folder, a user's team) for rules that climb
// an ownership chain.
type Entity struct {
	Type       string
	ID         string
	Attributes map[string]value.Value
	Parents    []Entity
}

// Request is the unit of authorization work: a principal performing a
// named action, with parameters, against a resource, in some context.
type Request struct {
	Principal Entity
	Action    string
	Params    map[string]value.Value
	Resource  Entity
	Context   map[string]value.Value
}

// Decision is the three-valued outcome of an authorization check.
type Decision string

const (
	Permit Decision = "permit"
	Deny   Decision = "deny"
	Forbid Decision = "forbid"
)

// Combine merges two decisions under the deny-overrides lattice
// Forbid > Deny > Permit (spec.md §4.7 step 3).
func Combine(a, b Decision) Decision {
	if a == Forbid || b == Forbid {
		return Forbid
	}
	if a == Deny || b == Deny {
		return Deny
	}
	return Permit
}

// AuthorizationResult is the outcome of one authorize call: the decision,
// a human explanation, and the evidence consulted to reach it.
type AuthorizationResult struct {
	Decision    Decision
	Explanation string
	Rules       []string
	Facts       []string
	Policies    []string
	Duration    time.Duration
	Cached      bool
}

// Fingerprint is a deterministic, collision-resistant cache key derived
// from the parts of a Request that affect its decision.
type Fingerprint string

// Fingerprint computes r's cache key: principal type/id, action name,
// resource type/id, and a stable encoding of params and context. Entity
// attributes and parents do not affect the fingerprint directly — they
// only matter insofar as the fact store already reflects them, and the
// fact store's generation is covered separately by the incremental
// evaluator's own cache key.
func (r Request) Fingerprint() Fingerprint {
	h := sha256.New()
	h.Write([]byte(r.Principal.Type))
	h.Write([]byte{0})
	h.Write([]byte(r.Principal.ID))
	h.Write([]byte{0})
	h.Write([]byte(r.Action))
	h.Write([]byte{0})
	h.Write([]byte(r.Resource.Type))
	h.Write([]byte{0})
	h.Write([]byte(r.Resource.ID))
	h.Write([]byte{0})
	writeStableMap(h, r.Params)
	h.Write([]byte{0})
	writeStableMap(h, r.Context)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func writeStableMap(h interface{ Write([]byte) (int, error) }, m map[string]value.Value) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(m[k].Key()))
		h.Write([]byte{';'})
	}
}

// triple identifies the (principal, action, resource) argument tuple the
// composition engine looks up the permit/forbid predicates with.
type triple struct {
	principalID string
	action      string
	resourceID  string
}

func (r Request) triple() triple {
	return triple{principalID: r.Principal.ID, action: r.Action, resourceID: r.Resource.ID}
}

func (t triple) String() string {
	var sb strings.Builder
	sb.WriteString(t.principalID)
	sb.WriteByte(':')
	sb.WriteString(t.action)
	sb.WriteByte(':')
	sb.WriteString(t.resourceID)
	return sb.String()
}

// paramsSummary renders the request's parameter count for the human
// explanation string.
func paramsSummary(n int) string {
	return strconv.Itoa(n) + " param(s)"
}
