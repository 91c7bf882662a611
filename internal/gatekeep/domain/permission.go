package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Scope bounds where a permission applies.
type Scope string

const (
	ScopeGlobal    Scope = "global"    // any workspace
	ScopeWorkspace Scope = "workspace" // any resource inside the evaluated workspace
	ScopeResource  Scope = "resource"  // one resource instance
)

// Wildcard matches any resource type or action.
const Wildcard = "*"

func (s Scope) Valid() bool {
	return s == ScopeGlobal || s == ScopeWorkspace || s == ScopeResource
}

// rank orders scopes from most to least permissive.
func (s Scope) rank() int {
	switch s {
	case ScopeGlobal:
		return 0
	case ScopeWorkspace:
		return 1
	default:
		return 2
	}
}

// Permission is a (resource, action, scope) triple. Equality is structural.
// It encodes as its canonical string in JSON and YAML.
type Permission struct {
	Scope      Scope
	Resource   string
	ResourceID string
	Action     string
}

// String renders the canonical form <scope>:<resource>[/<id>]:<action>.
func (p Permission) String() string {
	res := p.Resource
	if p.ResourceID != "" {
		res += "/" + p.ResourceID
	}
	return string(p.Scope) + ":" + res + ":" + p.Action
}

func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Permission) UnmarshalText(b []byte) error {
	parsed, err := ParsePermission(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePermission accepts the canonical form or the short form
// <resource>:<action>, which means workspace scope.
func ParsePermission(s string) (Permission, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")

	var p Permission
	switch len(parts) {
	case 2:
		p = Permission{Scope: ScopeWorkspace, Resource: parts[0], Action: parts[1]}
	case 3:
		p = Permission{Scope: Scope(strings.ToLower(parts[0])), Resource: parts[1], Action: parts[2]}
	default:
		return Permission{}, fmt.Errorf("permission %q: want <scope>:<resource>:<action> or <resource>:<action>", s)
	}

	if res, id, ok := strings.Cut(p.Resource, "/"); ok {
		p.Resource, p.ResourceID = res, id
	}

	if err := p.Validate(); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// MustParsePermission is ParsePermission for literals.
func MustParsePermission(s string) Permission {
	p, err := ParsePermission(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePermissions parses a list, stopping at the first bad entry.
func ParsePermissions(ss []string) ([]Permission, error) {
	out := make([]Permission, 0, len(ss))
	for _, s := range ss {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Validate checks the permission is well formed.
func (p Permission) Validate() error {
	switch {
	case !p.Scope.Valid():
		return fmt.Errorf("permission %q: unknown scope %q", p.String(), p.Scope)
	case p.Resource == "" || p.Action == "":
		return fmt.Errorf("permission %q: resource and action are required", p.String())
	case strings.ContainsAny(p.Resource+p.Action+p.ResourceID, ": "):
		return fmt.Errorf("permission %q: fields may not contain ':' or spaces", p.String())
	case p.Scope == ScopeResource && p.ResourceID == "":
		return fmt.Errorf("permission %q: resource scope needs a resource id", p.String())
	case p.Scope != ScopeResource && p.ResourceID != "":
		return fmt.Errorf("permission %q: only resource scope may name a resource id", p.String())
	case p.ResourceID == Wildcard:
		return fmt.Errorf("permission %q: resource id may not be a wildcard", p.String())
	}
	return nil
}

// PermissionCheck is the question asked of RBAC: may the subject perform
// Action on a Resource of this type (and optionally this instance) that lives
// in WorkspaceID? An empty WorkspaceID means the workspace being evaluated.
type PermissionCheck struct {
	Resource    string
	ResourceID  string
	Action      string
	WorkspaceID string
}

// Grants reports whether p allows check when evaluated inside workspace.
//
// Global permissions match any workspace, workspace permissions match any
// instance inside the evaluated workspace and resource permissions need the
// exact instance.
func (p Permission) Grants(workspace string, check PermissionCheck) bool {
	if p.Resource != Wildcard && p.Resource != check.Resource {
		return false
	}
	if p.Action != Wildcard && p.Action != check.Action {
		return false
	}

	target := check.WorkspaceID
	if target == "" {
		target = workspace
	}

	switch p.Scope {
	case ScopeGlobal:
		return true
	case ScopeWorkspace:
		return target == workspace
	case ScopeResource:
		return target == workspace && check.ResourceID != "" && p.ResourceID == check.ResourceID
	default:
		return false
	}
}

// AnyGrants reports whether any of perms grants check.
func AnyGrants(perms []Permission, workspace string, check PermissionCheck) bool {
	return slices.ContainsFunc(perms, func(p Permission) bool { return p.Grants(workspace, check) })
}

// ComparePermissions orders permissions most permissive scope first, then by
// canonical string, giving deterministic output for sets.
func ComparePermissions(a, b Permission) int {
	if d := a.Scope.rank() - b.Scope.rank(); d != 0 {
		return d
	}
	return strings.Compare(a.String(), b.String())
}

// SortPermissions sorts and deduplicates perms in place and returns the
// result.
func SortPermissions(perms []Permission) []Permission {
	slices.SortFunc(perms, ComparePermissions)
	return slices.Compact(perms)
}

// PermissionStrings renders perms in canonical form.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}
