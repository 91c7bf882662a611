package condx

import (
	"fmt"
	"regexp"
	"strings"
)

// Limits bound the size of a condition tree.
type Limits struct {
	MaxDepth int
	MaxNodes int
}

// DefaultLimits are applied when Validate is given a zero Limits.
var DefaultLimits = Limits{MaxDepth: 32, MaxNodes: 1024}

// Problem is one structural defect, located by a path such as
// "children[1].children[0]".
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// InvalidError lists every problem found in a tree.
type InvalidError struct {
	Problems []Problem
}

func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		if p.Path == "" {
			msgs[i] = p.Message
			continue
		}
		msgs[i] = p.Path + ": " + p.Message
	}
	return "condx: invalid condition: " + strings.Join(msgs, "; ")
}

type validator struct {
	limits   Limits
	nodes    int
	problems []Problem
}

// Validate checks n is structurally sound: known operators, correct arity,
// attribute paths under a known root, compilable patterns, comparable
// between bounds and size within limits. It returns *InvalidError.
func Validate(n Node, limits Limits) error {
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultLimits.MaxDepth
	}
	if limits.MaxNodes <= 0 {
		limits.MaxNodes = DefaultLimits.MaxNodes
	}

	v := &validator{limits: limits}
	v.walk(n, "", 1)

	if v.nodes > limits.MaxNodes {
		v.add("", fmt.Sprintf("tree has %d nodes, limit is %d", v.nodes, limits.MaxNodes))
	}
	if len(v.problems) > 0 {
		return &InvalidError{Problems: v.problems}
	}
	return nil
}

func (v *validator) add(path, msg string) {
	v.problems = append(v.problems, Problem{Path: path, Message: msg})
}

func (v *validator) walk(n Node, path string, depth int) {
	v.nodes++
	if v.nodes > v.limits.MaxNodes {
		return
	}
	if depth > v.limits.MaxDepth {
		v.add(path, fmt.Sprintf("nesting deeper than %d", v.limits.MaxDepth))
		return
	}

	switch n.Op {
	case OpAnd, OpOr:
		if len(n.Children) == 0 {
			v.add(path, fmt.Sprintf("%q needs at least one child", n.Op))
		}
	case OpNot:
		if len(n.Children) != 1 {
			v.add(path, fmt.Sprintf(`"not" needs exactly one child, got %d`, len(n.Children)))
		}
	case OpEquals, OpIn, OpBetween, OpMatches:
		v.leaf(n, path)
		if len(n.Children) > 0 {
			v.add(path, fmt.Sprintf("%q cannot have children", n.Op))
		}
		return
	case "":
		v.add(path, "missing operator")
		return
	default:
		v.add(path, fmt.Sprintf("unknown operator %q", n.Op))
		return
	}

	for i, c := range n.Children {
		v.walk(c, childPath(path, i), depth+1)
	}
}

func (v *validator) leaf(n Node, path string) {
	if !validRoot(n.Attr) {
		v.add(path, fmt.Sprintf("attribute %q must be %q or start with subject., resource. or environment.", n.Attr, RootAction))
	}

	switch n.Op {
	case OpEquals:
		if n.Value == nil {
			v.add(path, `"equals" needs a value`)
		}
	case OpIn:
		if len(n.Values) == 0 {
			v.add(path, `"in" needs at least one value`)
		}
	case OpMatches:
		if n.Pattern == "" {
			v.add(path, `"matches" needs a pattern`)
		} else if _, err := regexp.Compile(n.Pattern); err != nil {
			v.add(path, fmt.Sprintf("bad pattern: %v", err))
		}
	case OpBetween:
		lo, okLo := toBound(n.Low)
		hi, okHi := toBound(n.High)
		switch {
		case !okLo || !okHi:
			v.add(path, `"between" bounds must both be numbers, RFC 3339 times or HH:MM`)
		case lo.kind != hi.kind:
			v.add(path, `"between" bounds must be of the same kind`)
		case lo.kind != kindClock && lo.cmp(hi) > 0:
			// Clock ranges may wrap midnight, everything else must be ordered
			v.add(path, `"between" low bound is above high bound`)
		}
	}
}

func childPath(parent string, i int) string {
	if parent == "" {
		return fmt.Sprintf("children[%d]", i)
	}
	return fmt.Sprintf("%s.children[%d]", parent, i)
}
