package condx

import (
	"encoding/json"
	"regexp"
	"sync"
	"time"
)

// Evaluator evaluates trees and caches compiled patterns. The zero value is
// ready to use and safe for concurrent use.
type Evaluator struct {
	patterns sync.Map // map[string]*regexp.Regexp
}

// Evaluate is a convenience for one-off evaluation without a pattern cache.
func Evaluate(n Node, attrs Attributes, loc *time.Location) bool {
	var e Evaluator
	return e.Eval(n, attrs, loc)
}

// Eval reports whether n holds for attrs. loc is the timezone clock-of-day
// comparisons are made in; nil means UTC.
func (e *Evaluator) Eval(n Node, attrs Attributes, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return e.eval(n, attrs, loc)
}

func (e *Evaluator) eval(n Node, attrs Attributes, loc *time.Location) bool {
	switch n.Op {
	case OpAnd:
		if len(n.Children) == 0 {
			return false
		}
		for _, c := range n.Children {
			if !e.eval(c, attrs, loc) {
				return false
			}
		}
		return true

	case OpOr:
		for _, c := range n.Children {
			if e.eval(c, attrs, loc) {
				return true
			}
		}
		return false

	case OpNot:
		if len(n.Children) != 1 {
			return false
		}
		return !e.eval(n.Children[0], attrs, loc)
	}

	v, ok := attrs.Lookup(n.Attr)
	if !ok {
		return false
	}

	// List attributes match when any element does
	if elems, isList := elements(v); isList {
		for _, el := range elems {
			if e.leaf(n, el, loc) {
				return true
			}
		}
		return false
	}
	return e.leaf(n, v, loc)
}

func (e *Evaluator) leaf(n Node, v any, loc *time.Location) bool {
	switch n.Op {
	case OpEquals:
		return equal(v, n.Value)

	case OpIn:
		for _, want := range n.Values {
			if equal(v, want) {
				return true
			}
		}
		return false

	case OpMatches:
		s, ok := v.(string)
		if !ok {
			return false
		}
		re := e.compile(n.Pattern)
		return re != nil && re.MatchString(s)

	case OpBetween:
		return between(v, n.Low, n.High, loc)

	default:
		return false
	}
}

func (e *Evaluator) compile(pattern string) *regexp.Regexp {
	if v, ok := e.patterns.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	e.patterns.Store(pattern, re)
	return re
}

func elements(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// equal compares scalars exactly. Numbers compare by value regardless of
// their Go type; strings are case-sensitive.
func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		y, ok := toTime(b)
		return ok && x.Equal(y)
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

type boundKind int

const (
	kindNumber boundKind = iota + 1
	kindTime
	kindClock
)

type bound struct {
	kind    boundKind
	num     float64
	at      time.Time
	minutes int
}

func (b bound) cmp(o bound) int {
	switch b.kind {
	case kindNumber:
		return cmpOrdered(b.num, o.num)
	case kindTime:
		return b.at.Compare(o.at)
	default:
		return cmpOrdered(b.minutes, o.minutes)
	}
}

func cmpOrdered[T int | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// toBound classifies a between operand. Strings are tried as RFC 3339 first
// and then as a wall clock "HH:MM" or "HH:MM:SS".
func toBound(v any) (bound, bool) {
	if f, ok := toFloat(v); ok {
		return bound{kind: kindNumber, num: f}, true
	}
	if t, ok := v.(time.Time); ok {
		return bound{kind: kindTime, at: t}, true
	}
	s, ok := v.(string)
	if !ok {
		return bound{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return bound{kind: kindTime, at: t}, true
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return bound{kind: kindClock, minutes: t.Hour()*60 + t.Minute()}, true
		}
	}
	return bound{}, false
}

func between(v, lowRaw, highRaw any, loc *time.Location) bool {
	lo, okLo := toBound(lowRaw)
	hi, okHi := toBound(highRaw)
	if !okLo || !okHi || lo.kind != hi.kind {
		return false
	}

	var x bound
	switch lo.kind {
	case kindNumber:
		f, ok := toFloat(v)
		if !ok {
			return false
		}
		x = bound{kind: kindNumber, num: f}

	case kindTime:
		t, ok := toTime(v)
		if !ok {
			return false
		}
		x = bound{kind: kindTime, at: t}

	case kindClock:
		// Instants are projected onto the wall clock of loc
		if t, ok := toTime(v); ok {
			t = t.In(loc)
			x = bound{kind: kindClock, minutes: t.Hour()*60 + t.Minute()}
			break
		}
		b, ok := toBound(v)
		if !ok || b.kind != kindClock {
			return false
		}
		x = b
	}

	if lo.kind == kindClock && lo.cmp(hi) > 0 {
		// Window wraps midnight, e.g. 22:00 to 06:00
		return x.cmp(lo) >= 0 || x.cmp(hi) <= 0
	}
	return x.cmp(lo) >= 0 && x.cmp(hi) <= 0
}
