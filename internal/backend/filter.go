package backend

import (
	"fmt"
	"strings"
)

// Op is a comparison operator in a Filter.
type Op int

const (
	OpEq Op = iota
	OpNeq
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Condition compares one field against a value.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. The zero Filter matches everything.
type Filter []Condition

// Where starts a filter with no conditions.
func Where() Filter { return nil }

// Eq adds field == value.
func (f Filter) Eq(field string, value any) Filter {
	return append(f[:len(f):len(f)], Condition{Field: field, Op: OpEq, Value: value})
}

// Neq adds field != value.
func (f Filter) Neq(field string, value any) Filter {
	return append(f[:len(f):len(f)], Condition{Field: field, Op: OpNeq, Value: value})
}

// Match reports whether fields satisfy every condition. A missing field is
// never equal to anything and always differs from the value.
func (f Filter) Match(fields map[string]any) bool {
	for _, c := range f {
		v, ok := fields[c.Field]
		eq := ok && equal(v, c.Value)
		switch c.Op {
		case OpEq:
			if !eq {
				return false
			}
		case OpNeq:
			if eq {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Validate checks every field name in the filter.
func (f Filter) Validate() error {
	for _, c := range f {
		if err := ValidateField(c.Field); err != nil {
			return err
		}
		if c.Op != OpEq && c.Op != OpNeq {
			return fmt.Errorf("unsupported operator %s on %q", c.Op, c.Field)
		}
	}
	return nil
}

func (f Filter) String() string {
	if len(f) == 0 {
		return "*"
	}
	parts := make([]string, len(f))
	for i, c := range f {
		parts[i] = fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
	}
	return strings.Join(parts, " && ")
}

// equal compares decoded field values. Numbers compare by value regardless
// of their Go type since stores differ in how they decode them.
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
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
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
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
