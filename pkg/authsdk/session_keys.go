package authsdk

import (
	"context"
	"net/http"
)

// RotateKey generates a new signing key.
// Requires: global:keys:manage
func (s *Session) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	var out RotateKeyResponse
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/keys/rotate", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListKeys returns the signing keys that still sign or verify.
// Requires: global:keys:manage
func (s *Session) ListKeys(ctx context.Context) ([]SigningKeyInfo, error) {
	var out ListKeysResponse
	if err := s.doAuthJSON(ctx, http.MethodGet, "/v1/keys", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// RetireKey stops a key from signing. It keeps verifying until its grace
// period ends.
// Requires: global:keys:manage
func (s *Session) RetireKey(ctx context.Context, kid string) error {
	return s.doAuthJSON(ctx, http.MethodPost, "/v1/keys/"+pathEscape(kid)+"/retire", nil, nil, http.StatusNoContent)
}
