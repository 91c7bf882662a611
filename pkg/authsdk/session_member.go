package authsdk

import (
	"context"
	"net/http"
)

// ListMembers returns the members of the caller's workspace.
// Requires: members:manage
func (s *Session) ListMembers(ctx context.Context) ([]Member, error) {
	var out ListMembersResponse
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/members", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Members, nil
}

// PutMember adds userID to the caller's workspace or replaces its attributes.
// Requires: members:manage
func (s *Session) PutMember(ctx context.Context, userID string, attributes map[string]any) (*Member, error) {
	var out Member
	if err := s.doAuthJSON(ctx, http.MethodPut, "/v1/members/"+pathEscape(userID), MemberRequest{Attributes: attributes}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveMember removes userID from the caller's workspace. Existing tokens
// stop refreshing.
// Requires: members:manage
func (s *Session) RemoveMember(ctx context.Context, userID string) error {
	return s.doAuthJSON(ctx, http.MethodDelete, "/v1/members/"+pathEscape(userID), nil, nil, http.StatusNoContent)
}
