// Package filter defines metadata predicates for chunk queries.
// Only exact-match (TAG equality) conditions are supported.
package filter

import "fmt"

// MaxConditions is the maximum number of conditions per expression.
const MaxConditions = 8

// Condition is a single equality constraint on a metadata field.
type Condition struct {
	key   string
	value string
}

// NewMatch creates an exact match condition.
func NewMatch(key, value string) (Condition, error) {
	if key == "" {
		return Condition{}, fmt.Errorf("filter key is required")
	}
	if value == "" {
		return Condition{}, fmt.Errorf("match value is required for key %q", key)
	}
	return Condition{key: key, value: value}, nil
}

// MustMatch creates an exact match condition, panicking on invalid input.
// For use with compile-time constant keys.
func MustMatch(key, value string) Condition {
	c, err := NewMatch(key, value)
	if err != nil {
		panic(err)
	}
	return c
}

// Key returns the field name.
func (c Condition) Key() string { return c.key }

// Value returns the exact match value.
func (c Condition) Value() string { return c.value }

// Expression is a conjunction of equality conditions.
type Expression struct {
	conds []Condition
}

// And validates and creates an expression matching all given conditions.
func And(conds ...Condition) (Expression, error) {
	if len(conds) > MaxConditions {
		return Expression{}, fmt.Errorf("too many filter conditions (max %d)", MaxConditions)
	}
	return Expression{conds: conds}, nil
}

// MustAnd creates an expression, panicking on invalid input. For use with
// compile-time constant condition sets.
func MustAnd(conds ...Condition) Expression {
	e, err := And(conds...)
	if err != nil {
		panic(err)
	}
	return e
}

// Conditions returns the conjunction's conditions.
func (e Expression) Conditions() []Condition { return e.conds }

// IsEmpty reports whether the expression has no conditions.
func (e Expression) IsEmpty() bool { return len(e.conds) == 0 }

// Matches evaluates the expression against a field map (used by the
// in-memory store driver).
func (e Expression) Matches(fields map[string]string) bool {
	for _, c := range e.conds {
		if fields[c.key] != c.value {
			return false
		}
	}
	return true
}
