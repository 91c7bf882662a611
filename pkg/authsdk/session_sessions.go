package authsdk

import (
	"context"
	"net/http"
)

// ListSessions returns the caller's sessions in the current workspace,
// most recently active first.
func (s *Session) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var out ListSessionsResponse
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/sessions", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// TerminateSession ends one of the caller's sessions. Ending an already
// ended session succeeds.
func (s *Session) TerminateSession(ctx context.Context, id string) error {
	return s.doAuthJSON(ctx, http.MethodDelete, "/v1/sessions/"+pathEscape(id), nil, nil, http.StatusNoContent)
}

// TerminateOthers ends every session of the caller except this one and
// returns how many were ended.
func (s *Session) TerminateOthers(ctx context.Context) (int, error) {
	var out TerminateOthersResponse
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/sessions/terminate-others", nil, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Terminated, nil
}
