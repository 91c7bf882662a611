package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// toAPIError maps an engine error onto a status and a body safe to return.
// Token failures collapse to INVALID_TOKEN except expiry, which callers
// recover from by refreshing.
func toAPIError(err error) *authsdk.APIError {
	msg := domain.PublicMessage(err)

	switch domain.CodeOf(err) {
	case domain.CodeMalformed, domain.CodeSignatureInvalid, domain.CodeRevoked, domain.CodeTokenReused:
		return authsdk.NewAPIError(http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken, msg)
	case domain.CodeExpired:
		return authsdk.NewAPIError(http.StatusUnauthorized, authsdk.ErrorCodeExpired, msg)
	case domain.CodeStaleAssertion:
		return authsdk.NewAPIError(http.StatusUnauthorized, authsdk.ErrorCodeStaleAssertion, msg)
	case domain.CodeSessionInactive:
		return authsdk.NewAPIError(http.StatusUnauthorized, authsdk.ErrorCodeNotAuthorized, msg)
	case domain.CodeNotAuthorized:
		return authsdk.NewAPIError(http.StatusForbidden, authsdk.ErrorCodeNotAuthorized, msg)
	case domain.CodeNotFound:
		return authsdk.NewAPIError(http.StatusNotFound, authsdk.ErrorCodeNotFound, "not found")
	case domain.CodeConflict:
		return authsdk.NewAPIError(http.StatusConflict, authsdk.ErrorCodeConflict, msg)
	case domain.CodeInvalidPolicy, domain.CodeInvalidRole, domain.CodeRoleCycle, domain.CodeInvalidRequest:
		apiErr := authsdk.NewAPIError(http.StatusBadRequest, string(domain.CodeOf(err)), msg)
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			for _, f := range ve.Fields {
				apiErr.Fields = append(apiErr.Fields, authsdk.FieldError{Field: f.Field, Message: f.Message})
			}
		}
		return apiErr
	default:
		return authsdk.NewAPIError(http.StatusServiceUnavailable, authsdk.ErrorCodeStoreUnavailable, msg)
	}
}

// writeError logs err and writes its public form.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	log := slogx.FromContext(r.Context())

	if apiErr.StatusCode >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	} else {
		log.Debug("request rejected", "error", err, "code", apiErr.Code)
	}

	if apiErr.StatusCode == http.StatusUnauthorized {
		httpx.WriteBearerError(w, apiErr.Code, apiErr.Message)
		return
	}
	apiErr.WriteError(w)
}

// badRequest reports a body that could not be decoded.
func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, domain.WithMessage(domain.ErrInvalidRequest, err.Error()))
}
