package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/condx"
)

// Effect is the outcome a rule produces when its condition holds.
type Effect string

const (
	EffectAllow         Effect = "ALLOW"
	EffectDeny          Effect = "DENY"
	EffectNotApplicable Effect = "NOT_APPLICABLE"
)

// Rule is one condition/effect pair. Rules are tried in order and the first
// whose condition holds decides the policy.
type Rule struct {
	Effect      Effect     `json:"effect" yaml:"effect"`
	Condition   condx.Node `json:"condition" yaml:"condition"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// Policy is an attribute based rule set. It applies to requests whose
// resource type and action match its target filters; empty filters match
// everything. Clock comparisons in conditions use Timezone.
type Policy struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Resources   []string  `json:"resources,omitempty"`
	Actions     []string  `json:"actions,omitempty"`
	Rules       []Rule    `json:"rules"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Applies reports whether the policy targets resourceType and action.
func (p Policy) Applies(resourceType, action string) bool {
	return matchesFilter(p.Resources, resourceType) && matchesFilter(p.Actions, action)
}

func matchesFilter(filter []string, v string) bool {
	return len(filter) == 0 || slices.Contains(filter, Wildcard) || slices.Contains(filter, v)
}

// Location resolves Timezone, defaulting to UTC.
func (p Policy) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

// Validate reports every structural problem with the policy as a
// *ValidationError with code INVALID_POLICY.
func (p Policy) Validate(limits condx.Limits) error {
	ve := &ValidationError{Code: CodeInvalidPolicy}

	if strings.TrimSpace(p.Name) == "" {
		ve.Add("name", "is required")
	}
	if _, err := p.Location(); err != nil {
		ve.Add("timezone", fmt.Sprintf("unknown timezone %q", p.Timezone))
	}
	if len(p.Rules) == 0 {
		ve.Add("rules", "at least one rule is required")
	}
	for i, r := range p.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if r.Effect != EffectAllow && r.Effect != EffectDeny {
			ve.Add(field+".effect", fmt.Sprintf("must be %s or %s", EffectAllow, EffectDeny))
		}

		err := condx.Validate(r.Condition, limits)
		if inv, ok := err.(*condx.InvalidError); ok {
			for _, prob := range inv.Problems {
				path := field + ".condition"
				if prob.Path != "" {
					path += "." + prob.Path
				}
				ve.Add(path, prob.Message)
			}
		} else if err != nil {
			ve.Add(field+".condition", err.Error())
		}
	}
	for i, res := range p.Resources {
		if res == "" {
			ve.Add(fmt.Sprintf("resources[%d]", i), "is empty")
		}
	}
	for i, act := range p.Actions {
		if act == "" {
			ve.Add(fmt.Sprintf("actions[%d]", i), "is empty")
		}
	}

	return ve.Err()
}

// ResourceRef identifies the resource a request targets. WorkspaceID is the
// workspace that owns it, empty meaning the caller's workspace.
type ResourceRef struct {
	Type        string         `json:"type"`
	ID          string         `json:"id,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// AccessRequest is one authorization question.
type AccessRequest struct {
	Resource    ResourceRef    `json:"resource"`
	Action      string         `json:"action"`
	Environment map[string]any `json:"environment,omitempty"`
}

// Check converts the request into the RBAC question.
func (r AccessRequest) Check() PermissionCheck {
	return PermissionCheck{
		Resource:    r.Resource.Type,
		ResourceID:  r.Resource.ID,
		Action:      r.Action,
		WorkspaceID: r.Resource.WorkspaceID,
	}
}

// PolicyDecision is the ABAC engine's combined outcome. PolicyID and
// RuleIndex identify the rule that decided it, if any.
type PolicyDecision struct {
	Effect    Effect `json:"effect"`
	PolicyID  string `json:"policy_id,omitempty"`
	RuleIndex int    `json:"rule_index"`
	Reason    string `json:"reason,omitempty"`
}

// Decision is the final authorization answer. Reason is for logs and audit;
// callers only see Allowed.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"-"`
	PolicyID string `json:"-"`
}
