package engine

import (
	"encoding/json"
	"strings"

	"github.com/rune-authz/rune/internal/authz"
	"github.com/rune-authz/rune/internal/rerr"
	"github.com/rune-authz/rune/internal/value"
)

// WireRequest is the wire-visible request shape (spec.md §6): principal and
// resource are "<Type>:<id>" or a bare "<id>" (Type defaults to "").
type WireRequest struct {
	Principal string                 `json:"principal"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Diagnostics is the optional debug block of a WireResponse.
type Diagnostics struct {
	EvaluationTimeMs float64  `json:"evaluation_time_ms"`
	CacheHit         bool     `json:"cache_hit"`
	RulesEvaluated   int      `json:"rules_evaluated"`
	PoliciesEvaluated int     `json:"policies_evaluated"`
	MatchedRules     []string `json:"matched_rules"`
	MatchedPolicies  []string `json:"matched_policies"`
}

// WireResponse is the wire-visible response shape (spec.md §6).
type WireResponse struct {
	Decision    string       `json:"decision"`
	Reasons     []string     `json:"reasons"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// ParseRequest decodes a WireRequest from JSON and resolves it into an
// authz.Request ready for Authorize.
func (e *Engine) ParseRequest(data []byte) (authz.Request, error) {
	var wr WireRequest
	if err := json.Unmarshal(data, &wr); err != nil {
		return authz.Request{}, rerr.Wrap(rerr.KindInvalidRequest, "decoding request JSON", err)
	}
	return wr.toRequest()
}

func (wr WireRequest) toRequest() (authz.Request, error) {
	if wr.Action == "" {
		return authz.Request{}, rerr.New(rerr.KindInvalidRequest, "request is missing an action")
	}
	principal, err := parseEntityRef(wr.Principal)
	if err != nil {
		return authz.Request{}, rerr.Wrap(rerr.KindInvalidRequest, "parsing principal", err)
	}
	resource, err := parseEntityRef(wr.Resource)
	if err != nil {
		return authz.Request{}, rerr.Wrap(rerr.KindInvalidRequest, "parsing resource", err)
	}
	return authz.Request{
		Principal: principal,
		Action:    wr.Action,
		Params:    toValueMap(wr.Params),
		Resource:  resource,
		Context:   toValueMap(wr.Context),
	}, nil
}

func parseEntityRef(ref string) (authz.Entity, error) {
	if ref == "" {
		return authz.Entity{}, rerr.New(rerr.KindInvalidRequest, "empty entity reference")
	}
	if typ, id, ok := strings.Cut(ref, ":"); ok {
		return authz.Entity{Type: typ, ID: id}, nil
	}
	return authz.Entity{ID: ref}, nil
}

func toValueMap(m map[string]interface{}) map[string]value.Value {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]value.Value, len(m))
	for k, v := range m {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v interface{}) value.Value {
	switch t := v.(type) {
	case nil:
		return value.NullValue()
	case bool:
		return value.BoolValue(t)
	case string:
		return value.StringValue(t)
	case float64:
		return value.IntValue(int64(t))
	case []interface{}:
		items := make([]value.Value, len(t))
		for i, it := range t {
			items[i] = toValue(it)
		}
		return value.ArrayValue(items...)
	case map[string]interface{}:
		pairs := make([]value.Pair, 0, len(t))
		for k, vv := range t {
			pairs = append(pairs, value.Pair{Key: k, Value: toValue(vv)})
		}
		return value.ObjectValue(pairs...)
	default:
		return value.NullValue()
	}
}

// ToWireResponse renders an AuthorizationResult in the spec's response
// shape. diagnostics is included only when debug is true.
func ToWireResponse(result authz.AuthorizationResult, debug bool) WireResponse {
	resp := WireResponse{
		Decision: capitalize(string(result.Decision)),
		Reasons:  []string{result.Explanation},
	}
	if debug {
		resp.Diagnostics = &Diagnostics{
			EvaluationTimeMs:  float64(result.Duration.Microseconds()) / 1000.0,
			CacheHit:          result.Cached,
			RulesEvaluated:    len(result.Rules),
			PoliciesEvaluated: len(result.Policies),
			MatchedRules:      result.Rules,
			MatchedPolicies:   result.Policies,
		}
	}
	return resp
}

// MarshalResponse encodes an AuthorizationResult as the wire response JSON.
func MarshalResponse(result authz.AuthorizationResult, debug bool) ([]byte, error) {
	return json.Marshal(ToWireResponse(result, debug))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
