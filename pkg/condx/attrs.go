package condx

import "strings"

// Attribute roots a path may start with.
const (
	RootSubject     = "subject"
	RootResource    = "resource"
	RootEnvironment = "environment"
	RootAction      = "action"
)

// Attributes is the document conditions are evaluated against, e.g.
//
//	{"subject": {"id": "u1", "department": "eng"},
//	 "resource": {"type": "document", "classification": "confidential"},
//	 "action": "read",
//	 "environment": {"time": time.Time, "ip": "10.0.0.1"}}
type Attributes map[string]any

// Lookup resolves a dotted path such as "subject.department". Nested maps of
// type map[string]any, map[string]string and Attributes are walked.
func (a Attributes) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var cur any = map[string]any(a)
	for seg := range strings.SplitSeq(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case Attributes:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := m[seg]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}

	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Set stores v under a dotted path, creating intermediate maps.
func (a Attributes) Set(path string, v any) {
	segs := strings.Split(path, ".")
	m := map[string]any(a)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := m[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[seg] = next
		}
		m = next
	}
	m[segs[len(segs)-1]] = v
}

func validRoot(path string) bool {
	root, _, _ := strings.Cut(path, ".")
	switch root {
	case RootSubject, RootResource, RootEnvironment:
		return strings.Contains(path, ".") && !strings.HasSuffix(path, ".") && !strings.Contains(path, "..")
	case RootAction:
		return path == RootAction
	default:
		return false
	}
}
