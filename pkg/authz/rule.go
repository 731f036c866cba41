package authz

import (
	"context"
	"fmt"
)

// Predicate decides access for one field invocation.
type Predicate func(ctx context.Context, args map[string]interface{}) (bool, error)

type ruleKind int

const (
	kindAtomic ruleKind = iota
	kindAnd
)

// Rule is a composable access rule.
type Rule struct {
	kind        ruleKind
	name        string
	predicate   Predicate
	left, right *Rule
}

// Atomic wraps a single predicate.
func Atomic(name string, p Predicate) Rule {
	return Rule{kind: kindAtomic, name: name, predicate: p}
}

// And passes only when both l and r pass. r is not evaluated when l fails.
func And(l, r Rule) Rule {
	return Rule{kind: kindAnd, left: &l, right: &r}
}

// Evaluate runs the rule. A predicate error stops evaluation.
func (r Rule) Evaluate(ctx context.Context, args map[string]interface{}) (bool, error) {
	switch r.kind {
	case kindAtomic:
		if r.predicate == nil {
			return false, fmt.Errorf("authz: rule %q has no predicate", r.name)
		}
		return r.predicate(ctx, args)
	case kindAnd:
		ok, err := r.left.Evaluate(ctx, args)
		if err != nil || !ok {
			return false, err
		}
		return r.right.Evaluate(ctx, args)
	default:
		return false, fmt.Errorf("authz: unknown rule kind %d", r.kind)
	}
}

func (r Rule) String() string {
	if r.kind == kindAnd {
		return "(" + r.left.String() + " AND " + r.right.String() + ")"
	}
	return r.name
}
