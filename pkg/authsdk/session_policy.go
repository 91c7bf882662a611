package authsdk

import (
	"context"
	"net/http"
)

// ListPolicies returns the policies that apply in the caller's workspace.
// Requires: policies:manage
func (s *Session) ListPolicies(ctx context.Context) ([]Policy, error) {
	var out ListPoliciesResponse
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/policies", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Policies, nil
}

// GetPolicy returns one policy.
// Requires: policies:manage
func (s *Session) GetPolicy(ctx context.Context, id string) (*Policy, error) {
	var out Policy
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/policies/"+pathEscape(id), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePolicy validates and stores a policy. Invalid condition trees come
// back as an *APIError with code INVALID_POLICY and per-field detail.
// Requires: policies:manage (global:policies:manage for global policies)
func (s *Session) CreatePolicy(ctx context.Context, req PolicyRequest) (*Policy, error) {
	var out Policy
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/policies", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePolicy replaces a policy. req.Version must be the current version;
// a stale version fails with CONFLICT.
// Requires: policies:manage
func (s *Session) UpdatePolicy(ctx context.Context, id string, req PolicyRequest) (*Policy, error) {
	var out Policy
	if err := s.doAuthJSON(ctx, http.MethodPut, "/v1/policies/"+pathEscape(id), req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePolicy deletes a policy.
// Requires: policies:manage
func (s *Session) DeletePolicy(ctx context.Context, id string) error {
	return s.doAuthJSON(ctx, http.MethodDelete, "/v1/policies/"+pathEscape(id), nil, nil, http.StatusNoContent)
}
