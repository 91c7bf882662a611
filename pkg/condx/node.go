// Package condx implements the condition language used by access policies
// and conditional role assignments: boolean trees (and, or, not) over leaf
// predicates (equals, in, between, matches) evaluated against an attribute
// document.
//
// Evaluation is total. A leaf whose attribute is missing, or whose operands
// cannot be compared, is false; it never errors. Structural problems are
// caught up front by Validate.
package condx

// Op names a node operator.
type Op string

const (
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpNot     Op = "not"
	OpEquals  Op = "equals"
	OpIn      Op = "in"
	OpBetween Op = "between"
	OpMatches Op = "matches"
)

// IsLogical reports whether op combines child nodes.
func (op Op) IsLogical() bool {
	return op == OpAnd || op == OpOr || op == OpNot
}

// Node is one vertex of a condition tree. Which fields are meaningful
// depends on Op:
//
//	and, or   Children (at least one)
//	not       Children (exactly one)
//	equals    Attr, Value
//	in        Attr, Values
//	between   Attr, Low, High (numbers, RFC 3339 times or "HH:MM")
//	matches   Attr, Pattern (RE2)
type Node struct {
	Op       Op     `json:"op" yaml:"op"`
	Children []Node `json:"children,omitempty" yaml:"children,omitempty"`

	Attr    string `json:"attr,omitempty" yaml:"attr,omitempty"`
	Value   any    `json:"value,omitempty" yaml:"value,omitempty"`
	Values  []any  `json:"values,omitempty" yaml:"values,omitempty"`
	Low     any    `json:"low,omitempty" yaml:"low,omitempty"`
	High    any    `json:"high,omitempty" yaml:"high,omitempty"`
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

func And(children ...Node) Node { return Node{Op: OpAnd, Children: children} }
func Or(children ...Node) Node  { return Node{Op: OpOr, Children: children} }
func Not(child Node) Node       { return Node{Op: OpNot, Children: []Node{child}} }

func Equals(attr string, v any) Node { return Node{Op: OpEquals, Attr: attr, Value: v} }

func In(attr string, values ...any) Node { return Node{Op: OpIn, Attr: attr, Values: values} }

func Between(attr string, low, high any) Node {
	return Node{Op: OpBetween, Attr: attr, Low: low, High: high}
}

func Matches(attr, pattern string) Node { return Node{Op: OpMatches, Attr: attr, Pattern: pattern} }
