package service

import (
	"context"
	"errors"
	"maps"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/condx"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
)

// PolicyService stores attribute based policies and evaluates them with
// deny-overrides combining.
type PolicyService struct {
	Store    store.Store
	Audit    audit.Emitter
	Limits   condx.Limits
	CacheTTL time.Duration
	Now      func() time.Time

	gen   atomic.Uint64
	cache sync.Map // workspace id -> *cached[[]compiledPolicy]
	eval  condx.Evaluator
}

type compiledPolicy struct {
	domain.Policy
	loc *time.Location
}

func (s *PolicyService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *PolicyService) emit(ctx context.Context, ev audit.Event) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Emit(ctx, ev)
}

func (s *PolicyService) policies(ctx context.Context, workspaceID string) ([]compiledPolicy, error) {
	ttl := s.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if v, ok := s.cache.Load(workspaceID); ok {
		c := v.(*cached[[]compiledPolicy])
		if c.gen == s.gen.Load() && time.Since(c.loaded) < ttl {
			return c.value, nil
		}
	}

	gen := s.gen.Load()
	list, err := s.Store.Policies().ListPolicies(ctx, workspaceID)
	if err != nil {
		return nil, storeErr(err)
	}

	out := make([]compiledPolicy, 0, len(list))
	for _, p := range list {
		loc, err := p.Location()
		if err != nil {
			// Stored policies were validated; an unknown zone means the
			// tzdata changed under us. Evaluate in UTC rather than skip a
			// policy that might deny.
			loc = time.UTC
		}
		out = append(out, compiledPolicy{Policy: p, loc: loc})
	}
	s.cache.Store(workspaceID, &cached[[]compiledPolicy]{gen: gen, loaded: time.Now(), value: out})
	return out, nil
}

// Evaluate runs every policy that targets the request's workspace, resource
// type and action. Within a policy the first rule whose condition holds
// decides; across policies any DENY wins, then any ALLOW, otherwise the
// result is NOT_APPLICABLE.
func (s *PolicyService) Evaluate(ctx context.Context, subject domain.AuthContext, req domain.AccessRequest) (domain.PolicyDecision, error) {
	workspaceID := req.Resource.WorkspaceID
	if workspaceID == "" {
		workspaceID = subject.WorkspaceID
	}

	list, err := s.policies(ctx, workspaceID)
	if err != nil {
		return domain.PolicyDecision{Effect: domain.EffectDeny, Reason: "policy store unavailable"}, err
	}

	attrs := RequestAttributes(subject, req, s.now())

	result := domain.PolicyDecision{Effect: domain.EffectNotApplicable, RuleIndex: -1}
	for _, p := range list {
		if !p.Applies(req.Resource.Type, req.Action) {
			continue
		}
		for i, rule := range p.Rules {
			if !s.eval.Eval(rule.Condition, attrs, p.loc) {
				continue
			}
			d := domain.PolicyDecision{Effect: rule.Effect, PolicyID: p.ID, RuleIndex: i, Reason: ruleReason(p.Policy, i)}
			switch {
			case rule.Effect == domain.EffectDeny:
				return d, nil
			case result.Effect == domain.EffectNotApplicable:
				result = d
			}
			break
		}
	}
	return result, nil
}

func ruleReason(p domain.Policy, i int) string {
	if d := p.Rules[i].Description; d != "" {
		return p.Name + ": " + d
	}
	return p.Name + " rule " + strconv.Itoa(i)
}

// RequestAttributes builds the document conditions are evaluated against.
// Caller supplied attributes never override the identity fields taken from
// the token.
func RequestAttributes(subject domain.AuthContext, req domain.AccessRequest, now time.Time) condx.Attributes {
	subj := map[string]any{}
	maps.Copy(subj, subject.Attributes)
	subj["id"] = subject.UserID
	subj["workspace_id"] = subject.WorkspaceID
	subj["roles"] = subject.Roles
	subj["mfa_verified"] = subject.MFAVerified
	subj["session_id"] = subject.SessionID

	res := map[string]any{}
	maps.Copy(res, req.Resource.Attributes)
	res["type"] = req.Resource.Type
	if req.Resource.ID != "" {
		res["id"] = req.Resource.ID
	}
	res["workspace_id"] = req.Resource.WorkspaceID
	if req.Resource.WorkspaceID == "" {
		res["workspace_id"] = subject.WorkspaceID
	}

	env := map[string]any{}
	maps.Copy(env, req.Environment)
	if _, ok := env["time"]; !ok {
		env["time"] = now
	}

	return condx.Attributes{
		condx.RootSubject:     subj,
		condx.RootResource:    res,
		condx.RootAction:      req.Action,
		condx.RootEnvironment: env,
	}
}

// CreatePolicy validates and stores a new policy.
func (s *PolicyService) CreatePolicy(ctx context.Context, p domain.Policy, actor string) (domain.Policy, error) {
	if err := p.Validate(s.Limits); err != nil {
		return domain.Policy{}, err
	}

	now := s.now()
	if p.ID == "" {
		p.ID = idx.NewAt(now).String()
	}
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now

	if err := s.Store.Policies().CreatePolicy(ctx, p); err != nil {
		return domain.Policy{}, storeErr(err)
	}
	s.gen.Add(1)

	s.emit(ctx, audit.New(audit.KindPolicyChanged, actor, p.WorkspaceID).
		With("policy_id", p.ID).
		With("policy", p.Name).
		With("change", "created"))
	return p, nil
}

// UpdatePolicy replaces a policy. p.Version must match the stored version;
// a stale version yields domain.ErrConflict.
func (s *PolicyService) UpdatePolicy(ctx context.Context, p domain.Policy, actor string) (domain.Policy, error) {
	if err := p.Validate(s.Limits); err != nil {
		return domain.Policy{}, err
	}

	existing, err := s.Store.Policies().GetPolicy(ctx, p.ID)
	if err != nil {
		return domain.Policy{}, storeErr(err)
	}
	if p.Version == 0 {
		p.Version = existing.Version
	}
	p.WorkspaceID = existing.WorkspaceID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = s.now()

	if err := s.Store.Policies().UpdatePolicy(ctx, p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Policy{}, domain.WithMessage(domain.ErrConflict, "policy was modified concurrently")
		}
		return domain.Policy{}, storeErr(err)
	}
	p.Version++
	s.gen.Add(1)

	s.emit(ctx, audit.New(audit.KindPolicyChanged, actor, p.WorkspaceID).
		With("policy_id", p.ID).
		With("policy", p.Name).
		With("change", "updated").
		With("version", strconv.Itoa(p.Version)))
	return p, nil
}

// DeletePolicy removes a policy.
func (s *PolicyService) DeletePolicy(ctx context.Context, id, actor string) error {
	p, err := s.Store.Policies().GetPolicy(ctx, id)
	if err != nil {
		return storeErr(err)
	}
	if err := s.Store.Policies().DeletePolicy(ctx, id); err != nil {
		return storeErr(err)
	}
	s.gen.Add(1)

	s.emit(ctx, audit.New(audit.KindPolicyChanged, actor, p.WorkspaceID).
		With("policy_id", p.ID).
		With("policy", p.Name).
		With("change", "deleted"))
	return nil
}

func (s *PolicyService) GetPolicy(ctx context.Context, id string) (domain.Policy, error) {
	p, err := s.Store.Policies().GetPolicy(ctx, id)
	return p, storeErr(err)
}

func (s *PolicyService) ListPolicies(ctx context.Context, workspaceID string) ([]domain.Policy, error) {
	list, err := s.Store.Policies().ListPolicies(ctx, workspaceID)
	if err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}
