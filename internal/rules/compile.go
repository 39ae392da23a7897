package rules

import (
	"strings"

	"github.com/example/realtime-docstore/internal/db"
)

// compilerError marks semantic errors found while lowering the AST, carrying
// the source index of the offending node.
type compilerError struct {
	message string
	index   int
}

func (e *compilerError) Error() string { return e.message }

// condition is a compiled rule condition: a literal, a context variable
// lookup, or a comparison/logic node over two conditions.
type condition interface {
	resolve(vars map[string]any) any
}

type literal struct {
	value any
}

func (l literal) resolve(map[string]any) any { return l.value }

// variable resolves a dotted path against the evaluation context.
type variable struct {
	path []string
}

func (v variable) resolve(vars map[string]any) any {
	var current any = vars
	for _, segment := range v.path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[segment]
	}
	return current
}

type conditionMatcher struct {
	left     condition
	right    condition
	operator string
}

func (c conditionMatcher) resolve(vars map[string]any) any {
	left := c.left.resolve(vars)
	right := c.right.resolve(vars)

	switch c.operator {
	case "==":
		return looseEqual(left, right)
	case "!=":
		return !looseEqual(left, right)
	case "<", "<=", ">", ">=":
		cmp, ok := looseCompare(left, right)
		if !ok {
			return false
		}
		switch c.operator {
		case "<":
			return cmp < 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		default:
			return cmp >= 0
		}
	case "&&":
		return truthy(left) && truthy(right)
	case "||":
		return truthy(left) || truthy(right)
	default:
		return false
	}
}

// rule binds an operation to its compiled condition.
type rule struct {
	operation db.Operation
	condition condition
}

func (r rule) test(vars map[string]any) bool {
	return truthy(r.condition.resolve(vars))
}

// segment is one compiled path position: a literal that must match exactly
// or a variable that matches anything and binds its value.
type segment struct {
	name     string
	variable bool
}

// match is one compiled match block. A wildcard match covers all remaining
// depth; its submatches are never considered.
type match struct {
	segments   []segment
	rules      []rule
	wildcard   bool
	submatches []*match
}

func (m *match) match(path []string, operation db.Operation, vars map[string]any) bool {
	if len(path) < len(m.segments) {
		return false
	}

	local := make(map[string]any, len(vars)+len(m.segments))
	for k, v := range vars {
		local[k] = v
	}
	for i, seg := range m.segments {
		if seg.variable {
			local[seg.name] = path[i]
			continue
		}
		if seg.name != path[i] {
			return false
		}
	}

	remaining := path[len(m.segments):]
	if len(remaining) > 0 && !m.wildcard {
		for _, sub := range m.submatches {
			if sub.match(remaining, operation, local) {
				return true
			}
		}
		return false
	}

	for _, r := range m.rules {
		if r.operation == operation && r.test(local) {
			return true
		}
	}
	return false
}

// Matcher is a compiled rule tree implementing db.PermissionEngine.
type Matcher struct {
	matches []*match
}

// HasPermission walks the match tree depth-first. Root sessions bypass every
// rule.
func (m *Matcher) HasPermission(path []string, operation db.Operation, session *db.Session) bool {
	if session != nil && session.Root {
		return true
	}
	vars := map[string]any{"request": requestContext(session)}
	for _, root := range m.matches {
		if root.match(path, operation, vars) {
			return true
		}
	}
	return false
}

func requestContext(session *db.Session) map[string]any {
	if session == nil {
		return map[string]any{}
	}
	var uid any
	if session.UID != "" {
		uid = session.UID
	}
	return map[string]any{
		"id":   session.ID,
		"uid":  uid,
		"root": session.Root,
	}
}

// compileService lowers the AST of one service block into a Matcher.
func compileService(service serviceNode) (*Matcher, error) {
	matches := make([]*match, 0, len(service.matches))
	for _, node := range service.matches {
		compiled, err := compileMatch(node)
		if err != nil {
			return nil, err
		}
		matches = append(matches, compiled)
	}
	return &Matcher{matches: matches}, nil
}

func compileMatch(node *matchNode) (*match, error) {
	compiled := &match{}
	for i, seg := range node.path {
		if !seg.variable && seg.name == "*" {
			if i != len(node.path)-1 {
				return nil, &compilerError{message: "path wildcard is only allowed as the final segment", index: node.idx}
			}
			compiled.wildcard = true
			continue
		}
		compiled.segments = append(compiled.segments, segment{name: seg.name, variable: seg.variable})
	}

	for _, allow := range node.rules {
		cond, err := compileCondition(allow.condition)
		if err != nil {
			return nil, err
		}
		for _, operation := range allow.operations {
			compiled.rules = append(compiled.rules, rule{operation: db.Operation(operation), condition: cond})
		}
	}

	for _, sub := range node.matches {
		compiledSub, err := compileMatch(sub)
		if err != nil {
			return nil, err
		}
		compiled.submatches = append(compiled.submatches, compiledSub)
	}
	return compiled, nil
}

func compileCondition(node exprOrValue) (condition, error) {
	switch n := node.(type) {
	case valueNode:
		switch n.kind {
		case valueTrue:
			return literal{value: true}, nil
		case valueFalse:
			return literal{value: false}, nil
		case valueNull:
			return literal{value: nil}, nil
		case valueNumber:
			return literal{value: n.number}, nil
		case valueString:
			return literal{value: n.text}, nil
		case valueVariable:
			return variable{path: strings.Split(n.text, ".")}, nil
		default:
			return nil, &compilerError{message: "invalid value type", index: n.idx}
		}
	case exprNode:
		left, err := compileCondition(n.left)
		if err != nil {
			return nil, err
		}
		right, err := compileCondition(n.right)
		if err != nil {
			return nil, err
		}
		return conditionMatcher{left: left, right: right, operator: n.operator}, nil
	default:
		return nil, &compilerError{message: "invalid condition node", index: 0}
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case nil:
		return false
	default:
		if n, ok := toNumber(v); ok {
			return n != 0
		}
		return true
	}
}

func looseEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		return false
	}
}

func looseCompare(a, b any) (int, bool) {
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
