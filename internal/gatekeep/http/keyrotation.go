package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// KeyRotationHandler manages signing keys. Keys are shared by every
// workspace, so all of its routes need global:keys:manage.
type KeyRotationHandler struct {
	KeyRotationService *service.KeyRotationService
}

func (h *KeyRotationHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	var req authsdk.RotateKeyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	resp, err := h.KeyRotationService.RotateKey(ctx, service.RotateKeyRequest{
		RetireExisting: req.RetireExisting,
	}, ac.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("signing key rotated",
		"kid", resp.NewKey.Kid,
		"retired", len(resp.RetiredKeys),
		"active", resp.ActiveKeys,
	)
	httpx.WriteJSON(w, http.StatusOK, authsdk.RotateKeyResponse{
		NewKey:      keyInfo(resp.NewKey),
		RetiredKeys: keyInfos(resp.RetiredKeys),
		ActiveKeys:  resp.ActiveKeys,
	})
}

func (h *KeyRotationHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.KeyRotationService.ListSigningKeys(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.ListKeysResponse{Keys: keyInfos(keys)})
}

// HandleRetireKey stops a key signing. It keeps verifying until its grace
// period ends.
func (h *KeyRotationHandler) HandleRetireKey(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	if err := h.KeyRotationService.RetireKey(r.Context(), r.PathValue("kid"), ac.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
