package registry

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/dukex/nodebase/pkg/attributes"
)

// comparisons lists the matchProperty operators in the order they are tried.
var comparisons = []struct {
	key  string
	test func(cmp int) bool
}{
	{"moreThan", func(cmp int) bool { return cmp > 0 }},
	{"moreThanOrEqual", func(cmp int) bool { return cmp >= 0 }},
	{"lessThan", func(cmp int) bool { return cmp < 0 }},
	{"lessThanOrEqual", func(cmp int) bool { return cmp <= 0 }},
}

// hasMany passes when every listed property holds a non-empty list.
func hasMany(c *Context, meta Meta) (bool, error) {
	properties, err := meta.Strings("properties")
	if err != nil {
		return false, err
	}

	if c.Data == nil || len(properties) == 0 {
		return false, nil
	}

	for _, property := range properties {
		list, ok := c.Data[property].([]any)
		if !ok || len(list) == 0 {
			return false, nil
		}
	}

	return true, nil
}

// hasProperty passes when the proposed state carries every listed property.
func hasProperty(c *Context, meta Meta) (bool, error) {
	properties, err := meta.Strings("properties")
	if err != nil {
		return false, err
	}

	if len(properties) == 0 && meta.String("property") != "" {
		properties = []string{meta.String("property")}
	}

	if c.Data == nil || len(properties) == 0 {
		return false, nil
	}

	for _, property := range properties {
		if _, ok := c.Data[property]; !ok {
			return false, nil
		}
	}

	return true, nil
}

func isEmptyProperty(c *Context, meta Meta) (bool, error) {
	value, _ := c.Lookup(meta.String("property"))

	return isEmpty(value), nil
}

// matchProperty compares a property with a literal value or with another property.
func matchProperty(c *Context, meta Meta) (bool, error) {
	if c.Data == nil {
		return false, nil
	}

	value, _ := c.Lookup(meta.String("property"))

	if meta.Has("value") {
		return equal(value, meta["value"]), nil
	}

	if not, ok := meta.Object("not"); ok {
		switch {
		case not.Has("value"):
			return !equal(value, not["value"]), nil
		case not.Has("property"):
			other, _ := c.Lookup(not.String("property"))

			return !equal(value, other), nil
		}
	}

	for _, comparison := range comparisons {
		operand, ok := meta.Object(comparison.key)
		if !ok {
			continue
		}

		var other any

		switch {
		case operand.Has("value"):
			other = operand["value"]
		case operand.Has("property"):
			other, _ = c.Lookup(operand.String("property"))
		default:
			continue
		}

		cmp, ok := compare(value, other)

		return ok && comparison.test(cmp), nil
	}

	return false, fmt.Errorf("matchProperty on %q declares no comparison", meta.String("property"))
}

// setPropertyGuard records the declared error and lets the transition through.
func setPropertyGuard(c *Context, meta Meta) (bool, error) {
	c.AddError(meta.String("property"), meta.String("message"))

	return true, nil
}

func setProperty(c *Context, meta Meta) (bool, error) {
	if c.Data == nil {
		return false, nil
	}

	c.SetProperty(meta.String("property"), meta["value"])

	return true, nil
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case bool:
		return !v
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}

	if n, ok := number(value); ok {
		return n == 0 || math.IsNaN(n)
	}

	return false
}

func equal(a, b any) bool {
	a, b = plain(a), plain(b)

	x, okA := number(a)
	y, okB := number(b)

	if okA && okB {
		return x == y
	}

	return reflect.DeepEqual(a, b)
}

// compare orders two numbers or two strings. Values of other kinds are not ordered.
func compare(a, b any) (int, bool) {
	a, b = plain(a), plain(b)

	x, okA := number(a)
	y, okB := number(b)

	switch {
	case okA && okB:
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	case okA || okB:
		return 0, false
	}

	s, okA := a.(string)
	t, okB := b.(string)

	if !okA || !okB {
		return 0, false
	}

	return strings.Compare(s, t), true
}

// plain renders date times as RFC 3339 text so stored and proposed values meet.
func plain(value any) any {
	if t, ok := value.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}

	return value
}

// number reads numeric values. Strings are never numbers here.
func number(value any) (float64, bool) {
	if _, ok := value.(string); ok {
		return 0, false
	}

	return attributes.ToFloat(value)
}
