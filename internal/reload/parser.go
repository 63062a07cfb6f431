package reload

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rune-authz/rune/internal/authz"
	"github.com/rune-authz/rune/internal/datalog"
	"github.com/rune-authz/rune/internal/rerr"
	"github.com/rune-authz/rune/internal/value"
)

// RuleParser turns a rule file's raw bytes into a stratified, ID-assigned
// rule set, or a ParseError/UnsafeRuleError/StratificationError. The
// config file format is treated as an external contract (spec.md §6); this
// is the default, built-in implementation, but a Coordinator accepts any
// function with this signature so a deployment can swap in its own.
type RuleParser func(data []byte) ([]datalog.Rule, error)

// PolicyParser turns a policy file's raw bytes into a policy set.
type PolicyParser func(data []byte) ([]authz.Policy, error)

// ParseRules parses RUNE's line-oriented Datalog dialect: one fact or rule
// per statement, terminated by '.', heads followed by ':-' and a
// comma-separated body, '~' negating an atom, and 'aggregate(op, avar,
// rvar, subatom, subatom, ...)' introducing an AggregateAtom.
//
//	admin(alice).
//	permit(P,A,R) :- admin(P), owns(P,R), action_any(A).
//	forbid(P,A,R) :- suspended(P), admin(P), owns(P,R), action_any(A).
//	stats(N,S) :- aggregate(count, V, N, score(P,V)), aggregate(sum, V, S, score(P,V)).
func ParseRules(data []byte) ([]datalog.Rule, error) {
	stmts, err := splitStatements(string(data))
	if err != nil {
		return nil, err
	}

	var rules []datalog.Rule
	for _, stmt := range stmts {
		r, err := parseStatement(stmt)
		if err != nil {
			return nil, rerr.Wrap(rerr.KindParse, "parsing rule statement", err)
		}
		rules = append(rules, r)
	}

	strata, err := datalog.Stratify(rules)
	if err != nil {
		return nil, err
	}
	datalog.AssignStrata(rules, strata)
	for i := range rules {
		rules[i].ComputeID(i)
	}
	for _, r := range rules {
		if err := r.Safety(); err != nil {
			return nil, err
		}
	}
	return rules, nil
}

// splitStatements strips comments (# to end of line) and splits on '.'
// terminators that are not inside a quoted string.
func splitStatements(src string) ([]string, error) {
	var cleaned strings.Builder
	inString := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '#' && !inString {
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		}
		if c == '"' {
			inString = !inString
		}
		cleaned.WriteByte(c)
	}

	var stmts []string
	var cur strings.Builder
	inString = false
	for _, c := range cleaned.String() {
		if c == '"' {
			inString = !inString
		}
		if c == '.' && !inString {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				stmts = append(stmts, s)
			}
			cur.Reset()
			continue
		}
		cur.WriteRune(c)
	}
	if strings.TrimSpace(cur.String()) != "" {
		return nil, fmt.Errorf("trailing statement missing terminating '.'")
	}
	return stmts, nil
}

func parseStatement(stmt string) (datalog.Rule, error) {
	head, rest, hasBody := strings.Cut(stmt, ":-")
	headAtom, err := parseAtom(strings.TrimSpace(head))
	if err != nil {
		return datalog.Rule{}, err
	}

	name := headAtom.Predicate
	rule := datalog.Rule{Name: name, Head: headAtom}
	if !hasBody {
		return rule, nil
	}

	elems, err := parseBody(rest)
	if err != nil {
		return datalog.Rule{}, err
	}
	rule.Body = elems
	return rule, nil
}

func parseBody(src string) ([]datalog.BodyElem, error) {
	parts, err := splitTopLevel(src, ',')
	if err != nil {
		return nil, err
	}

	var elems []datalog.BodyElem
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "aggregate(") {
			agg, err := parseAggregate(p)
			if err != nil {
				return nil, err
			}
			elems = append(elems, datalog.AggregateElem(agg))
			continue
		}
		negated := false
		if strings.HasPrefix(p, "~") {
			negated = true
			p = strings.TrimSpace(p[1:])
		}
		atom, err := parseAtom(p)
		if err != nil {
			return nil, err
		}
		if negated {
			atom = atom.Negate()
		}
		elems = append(elems, datalog.AtomElem(atom))
	}
	return elems, nil
}

func parseAggregate(src string) (datalog.AggregateAtom, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(src, "aggregate("), ")")
	fields, err := splitTopLevel(inner, ',')
	if err != nil {
		return datalog.AggregateAtom{}, err
	}
	if len(fields) < 4 {
		return datalog.AggregateAtom{}, fmt.Errorf("aggregate requires op, aggregated-var, result-var, body: %q", src)
	}

	op, err := parseAggOp(strings.TrimSpace(fields[0]))
	if err != nil {
		return datalog.AggregateAtom{}, err
	}

	bodySrc := strings.Join(fields[3:], ",")
	atomStrs, err := splitTopLevel(bodySrc, ',')
	if err != nil {
		return datalog.AggregateAtom{}, err
	}
	var body []datalog.Atom
	for _, a := range atomStrs {
		atom, err := parseAtom(strings.TrimSpace(a))
		if err != nil {
			return datalog.AggregateAtom{}, err
		}
		body = append(body, atom)
	}

	return datalog.AggregateAtom{
		Operator:      op,
		AggregatedVar: strings.TrimSpace(fields[1]),
		ResultVar:     strings.TrimSpace(fields[2]),
		Body:          body,
	}, nil
}

func parseAggOp(s string) (datalog.AggOp, error) {
	switch s {
	case string(datalog.AggCount):
		return datalog.AggCount, nil
	case string(datalog.AggSum):
		return datalog.AggSum, nil
	case string(datalog.AggMin):
		return datalog.AggMin, nil
	case string(datalog.AggMax):
		return datalog.AggMax, nil
	case string(datalog.AggMean):
		return datalog.AggMean, nil
	default:
		return "", fmt.Errorf("unknown aggregate operator %q", s)
	}
}

func parseAtom(src string) (datalog.Atom, error) {
	open := strings.IndexByte(src, '(')
	if open < 0 || !strings.HasSuffix(src, ")") {
		return datalog.Atom{}, fmt.Errorf("malformed atom %q", src)
	}
	predicate := strings.TrimSpace(src[:open])
	if predicate == "" {
		return datalog.Atom{}, fmt.Errorf("atom missing predicate name: %q", src)
	}
	argsSrc := src[open+1 : len(src)-1]
	argStrs, err := splitTopLevel(argsSrc, ',')
	if err != nil {
		return datalog.Atom{}, err
	}

	var terms []datalog.Term
	for _, a := range argStrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		terms = append(terms, parseTerm(a))
	}
	return datalog.NewAtom(predicate, terms...), nil
}

func parseTerm(s string) datalog.Term {
	if s[0] >= 'A' && s[0] <= 'Z' {
		return datalog.Var(s)
	}
	if strings.HasPrefix(s, "\"") && strings.HasSuffix(s, "\"") && len(s) >= 2 {
		return datalog.Const(value.StringValue(s[1 : len(s)-1]))
	}
	if s == "true" || s == "false" {
		return datalog.Const(value.BoolValue(s == "true"))
	}
	if s == "null" {
		return datalog.Const(value.NullValue())
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return datalog.Const(value.IntValue(n))
	}
	return datalog.Const(value.StringValue(s))
}

// splitTopLevel splits src on sep, ignoring occurrences nested inside
// parentheses or quotes.
func splitTopLevel(src string, sep byte) ([]string, error) {
	var parts []string
	var cur strings.Builder
	depth := 0
	inString := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"':
			inString = !inString
			cur.WriteByte(c)
		case inString:
			cur.WriteByte(c)
		case c == '(':
			depth++
			cur.WriteByte(c)
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses in %q", src)
			}
			cur.WriteByte(c)
		case c == sep && depth == 0:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inString {
		return nil, fmt.Errorf("unterminated string literal in %q", src)
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses in %q", src)
	}
	if cur.Len() > 0 || len(parts) > 0 {
		parts = append(parts, cur.String())
	}
	return parts, nil
}

// --- policy JSON parsing -----------------------------------------------

type policyFileCondition struct {
	Source string      `json:"source"`
	Key    string      `json:"key"`
	Op     string      `json:"operator"`
	Value  interface{} `json:"value"`
	Values []interface{} `json:"values"`
}

type policyFileRule struct {
	ID         string                 `json:"id"`
	Effect     string                 `json:"effect"`
	Priority   int                    `json:"priority"`
	Conditions []policyFileCondition  `json:"conditions"`
}

type policyFile struct {
	ID    string           `json:"id"`
	Rules []policyFileRule `json:"rules"`
}

// ParsePolicies parses a JSON array of policies into authz.Policy values.
func ParsePolicies(data []byte) ([]authz.Policy, error) {
	var files []policyFile
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, rerr.Wrap(rerr.KindParse, "parsing policy file", err)
	}

	var out []authz.Policy
	for _, f := range files {
		p := authz.Policy{ID: f.ID}
		for _, r := range f.Rules {
			rule := authz.PolicyRule{ID: r.ID, Priority: r.Priority, Effect: authz.Decision(r.Effect)}
			for _, c := range r.Conditions {
				cond := authz.Condition{
					Attribute: authz.AttributeRef{Source: authz.AttributeSource(c.Source), Key: c.Key},
					Operator:  authz.Operator(c.Op),
				}
				if c.Value != nil {
					cond.Value = toValue(c.Value)
				}
				for _, v := range c.Values {
					cond.Values = append(cond.Values, toValue(v))
				}
				rule.Conditions = append(rule.Conditions, cond)
			}
			p.Rules = append(p.Rules, rule)
		}
		out = append(out, p)
	}
	return out, nil
}

func toValue(v interface{}) value.Value {
	switch t := v.(type) {
	case string:
		return value.StringValue(t)
	case bool:
		return value.BoolValue(t)
	case float64:
		return value.IntValue(int64(t))
	case nil:
		return value.NullValue()
	default:
		return value.StringValue(fmt.Sprintf("%v", t))
	}
}
