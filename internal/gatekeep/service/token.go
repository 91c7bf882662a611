package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/obs"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// TokenClaims is what goes into an access token besides identity.
type TokenClaims struct {
	Roles       []string
	Permissions []domain.Permission
	Attributes  map[string]any
}

// ClaimsResolver recomputes a user's claims when a refresh mints a new
// access token.
type ClaimsResolver interface {
	ResolveClaims(ctx context.Context, userID, workspaceID string) (TokenClaims, error)
}

// SessionGuard is the slice of the session manager the token manager
// needs. Touch marks a refresh as session activity and returns
// domain.ErrSessionInactive for ended sessions.
type SessionGuard interface {
	Touch(ctx context.Context, sessionID string) error
	TerminateSession(ctx context.Context, sessionID, reason string) error
}

// IssueRequest describes a fresh token pair.
type IssueRequest struct {
	UserID      string
	WorkspaceID string
	SessionID   string
	MFAVerified bool
	TokenClaims
}

type TokenService struct {
	KeyManager  *jwtx.KeyManager
	Store       store.Store
	Revocations *Blacklist
	Claims      ClaimsResolver
	Sessions    SessionGuard
	Audit       audit.Emitter
	Metrics     *obs.Metrics

	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Now func() time.Time

	chains keyedMutex
}

func (s *TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

func (s *TokenService) emit(ctx context.Context, ev audit.Event) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Emit(ctx, ev)
}

// Issue mints a new access token and starts a new refresh chain.
func (s *TokenService) Issue(ctx context.Context, req IssueRequest) (*domain.TokenPair, error) {
	if req.UserID == "" || req.WorkspaceID == "" || req.SessionID == "" {
		return nil, domain.WithMessage(domain.ErrInvalidRequest, "user, workspace and session are required")
	}

	now := s.now()
	var pair *domain.TokenPair
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		pair, _, err = s.mint(ctx, tx, req, "", "", now)
		return err
	})
	if err != nil {
		return nil, storeErr(err)
	}

	s.emit(ctx, audit.New(audit.KindTokenIssued, req.UserID, req.WorkspaceID).
		With("session_id", req.SessionID))
	return pair, nil
}

// mint signs an access token and stores the refresh record that goes with
// it. An empty chainID starts a new chain rooted at the new record.
func (s *TokenService) mint(ctx context.Context, tx store.Tx, req IssueRequest, chainID, parentID string, now time.Time) (*domain.TokenPair, domain.RefreshToken, error) {
	jti := jwtx.NewJTI()
	claims := jwtx.NewAccessClaims(jwtx.AccessClaimsParams{
		Subject:     req.UserID,
		WorkspaceID: req.WorkspaceID,
		SessionID:   req.SessionID,
		Issuer:      s.Issuer,
		Audience:    s.Audience,
		Roles:       req.Roles,
		Perms:       domain.PermissionStrings(domain.SortPermissions(req.Permissions)),
		Attrs:       req.Attributes,
		MFA:         req.MFAVerified,
		TTL:         s.accessTTL(),
		JTI:         jti,
		Now:         now,
	})
	access, err := s.KeyManager.Sign(claims)
	if err != nil {
		return nil, domain.RefreshToken{}, fmt.Errorf("sign access token: %w", err)
	}

	opaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, domain.RefreshToken{}, err
	}

	id := idx.NewAt(now).String()
	if chainID == "" {
		chainID = id
	}
	rec := domain.RefreshToken{
		ID:              id,
		TokenHash:       cryptox.FingerprintToken(opaque),
		ChainID:         chainID,
		ParentID:        parentID,
		UserID:          req.UserID,
		WorkspaceID:     req.WorkspaceID,
		SessionID:       req.SessionID,
		AccessTokenID:   jti,
		AccessExpiresAt: claims.ExpiresAtTime(),
		MFAVerified:     req.MFAVerified,
		Status:          domain.RefreshActive,
		IssuedAt:        now,
		ExpiresAt:       now.Add(s.refreshTTL()),
	}
	if err := tx.RefreshTokens().CreateRefreshToken(ctx, rec); err != nil {
		return nil, domain.RefreshToken{}, err
	}

	return &domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     opaque,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessTTL().Seconds()),
		ExpiresAt:        rec.AccessExpiresAt,
		RefreshExpiresAt: rec.ExpiresAt,
		SessionID:        req.SessionID,
	}, rec, nil
}

// Validate verifies an access token and returns the caller it describes.
// Checks run in order: structure and signature, expiry, revocation, type.
func (s *TokenService) Validate(ctx context.Context, raw string) (ac domain.AuthContext, err error) {
	defer func() { s.Metrics.ObserveValidation(obs.ResultLabel(err)) }()

	if raw == "" {
		return domain.AuthContext{}, domain.ErrMalformed
	}

	claims, err := s.KeyManager.Verifier.Verify(raw)
	if err != nil {
		return domain.AuthContext{}, verifyError(err)
	}
	if claims.ID == "" {
		return domain.AuthContext{}, domain.WithMessage(domain.ErrMalformed, "token has no id")
	}

	revoked, err := s.Revocations.Contains(ctx, claims.ID)
	if err != nil {
		return domain.AuthContext{}, err
	}
	if revoked {
		return domain.AuthContext{}, domain.ErrRevoked
	}

	if claims.Type != jwtx.TokenTypeAccess {
		return domain.AuthContext{}, domain.WithMessage(domain.ErrMalformed, "not an access token")
	}

	perms, err := domain.ParsePermissions(claims.Perms)
	if err != nil {
		return domain.AuthContext{}, domain.Wrap(domain.ErrMalformed, err)
	}

	return domain.AuthContext{
		UserID:      claims.Subject,
		WorkspaceID: claims.WorkspaceID,
		Roles:       claims.Roles,
		Permissions: perms,
		Attributes:  claims.Attrs,
		SessionID:   claims.SID,
		MFAVerified: claims.MFA,
		TokenID:     claims.ID,
		IssuedAt:    claims.IssuedAtTime(),
		ExpiresAt:   claims.ExpiresAtTime(),
	}, nil
}

func verifyError(err error) error {
	switch {
	case errors.Is(err, jwtx.ErrMalformed), errors.Is(err, jwtx.ErrInvalidClaim):
		return domain.Wrap(domain.ErrMalformed, err)
	case errors.Is(err, jwtx.ErrExpired):
		return domain.Wrap(domain.ErrExpired, err)
	case errors.Is(err, jwtx.ErrNotYetValid):
		return &domain.Error{Code: domain.CodeExpired, Category: domain.CategoryTemporal, Message: "token not yet valid", Err: err}
	default:
		// signature, unknown kid, issuer and audience
		return domain.Wrap(domain.ErrSignatureInvalid, err)
	}
}

var errLostRotation = errors.New("refresh token rotated concurrently")

// Refresh rotates a refresh token: the presented record becomes ROTATED and
// a child is minted in the same chain. Presenting a ROTATED token again is
// treated as theft and revokes the whole chain.
func (s *TokenService) Refresh(ctx context.Context, opaque string) (pair *domain.TokenPair, err error) {
	defer func() { s.Metrics.ObserveRefresh(obs.ResultLabel(err)) }()

	if opaque == "" {
		return nil, domain.WithMessage(domain.ErrMalformed, "refresh token is required")
	}

	found, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.WithMessage(domain.ErrMalformed, "unknown refresh token")
		}
		return nil, storeErr(err)
	}

	unlock := s.chains.Lock(found.ChainID)
	pair, rec, err := s.rotate(ctx, found.ID)
	unlock()

	if errors.Is(err, domain.ErrTokenReused) {
		s.reuseDetected(ctx, rec)
	}
	if err != nil {
		return nil, err
	}

	s.emit(ctx, audit.New(audit.KindTokenRefreshed, rec.UserID, rec.WorkspaceID).
		With("chain_id", rec.ChainID).
		With("session_id", rec.SessionID))
	return pair, nil
}

// rotate runs with the chain lock held. The record is re-read under the lock
// so its status is current.
func (s *TokenService) rotate(ctx context.Context, id string) (*domain.TokenPair, domain.RefreshToken, error) {
	l := slogx.FromContext(ctx)
	now := s.now()

	rec, err := s.Store.RefreshTokens().GetRefreshToken(ctx, id)
	if err != nil {
		return nil, domain.RefreshToken{}, storeErr(err)
	}

	switch rec.Status {
	case domain.RefreshRotated:
		return nil, rec, s.revokeChainLocked(ctx, rec, domain.ReasonReuseDetected, domain.ErrTokenReused)
	case domain.RefreshRevoked:
		return nil, rec, domain.ErrRevoked
	}
	if rec.IsExpired(now) {
		return nil, rec, domain.ErrExpired
	}

	if s.Sessions != nil {
		if err := s.Sessions.Touch(ctx, rec.SessionID); err != nil {
			if errors.Is(err, domain.ErrSessionInactive) {
				return nil, rec, s.revokeChainLocked(ctx, rec, domain.ReasonLogout, domain.ErrRevoked)
			}
			return nil, rec, storeErr(err)
		}
	}

	claims, err := s.Claims.ResolveClaims(ctx, rec.UserID, rec.WorkspaceID)
	if err != nil {
		l.Warn("refresh claims resolution failed", "user_id", rec.UserID, "workspace_id", rec.WorkspaceID, "error", err)
		if domain.CodeOf(err) == domain.CodeNotAuthorized {
			return nil, rec, s.revokeChainLocked(ctx, rec, domain.ReasonAdmin, domain.ErrRevoked)
		}
		return nil, rec, storeErr(err)
	}

	var pair *domain.TokenPair
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.RefreshTokens().MarkRotated(ctx, rec.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRotation
		}
		pair, _, err = s.mint(ctx, tx, IssueRequest{
			UserID:      rec.UserID,
			WorkspaceID: rec.WorkspaceID,
			SessionID:   rec.SessionID,
			MFAVerified: rec.MFAVerified,
			TokenClaims: claims,
		}, rec.ChainID, rec.ID, now)
		return err
	})
	if errors.Is(err, errLostRotation) {
		// Another instance rotated this record between our read and the CAS.
		return nil, rec, s.revokeChainLocked(ctx, rec, domain.ReasonReuseDetected, domain.ErrTokenReused)
	}
	if err != nil {
		return nil, rec, storeErr(err)
	}
	return pair, rec, nil
}

// revokeChainLocked revokes every record in rec's chain and blacklists the
// access tokens they minted, then returns outcome. Store failures win over
// outcome so the caller sees a dependency error.
func (s *TokenService) revokeChainLocked(ctx context.Context, rec domain.RefreshToken, reason string, outcome error) error {
	now := s.now()

	chain, err := s.Store.RefreshTokens().ListChain(ctx, rec.ChainID)
	if err != nil {
		return storeErr(err)
	}
	if _, err := s.Store.RefreshTokens().RevokeChain(ctx, rec.ChainID, reason, now); err != nil {
		return storeErr(err)
	}
	for _, t := range chain {
		if t.AccessTokenID == "" || !t.AccessExpiresAt.After(now) {
			continue
		}
		if err := s.Revocations.Add(ctx, t.AccessTokenID, t.AccessExpiresAt, reason); err != nil {
			slogx.FromContext(ctx).Error("blacklist access token failed", "jti", t.AccessTokenID, "error", err)
		}
	}
	return outcome
}

// reuseDetected runs after the chain lock is released because terminating
// the session revokes chains again through the session hook.
func (s *TokenService) reuseDetected(ctx context.Context, rec domain.RefreshToken) {
	slogx.FromContext(ctx).Warn("refresh token reuse detected",
		slog.String("chain_id", rec.ChainID),
		slog.String("user_id", rec.UserID),
		slog.String("session_id", rec.SessionID),
	)

	s.emit(ctx, audit.New(audit.KindTokenReuseDetected, rec.UserID, rec.WorkspaceID).
		Failed(audit.OutcomeFailure, domain.ReasonReuseDetected).
		With("chain_id", rec.ChainID).
		With("token_id", rec.ID).
		With("session_id", rec.SessionID))

	if s.Sessions == nil || rec.SessionID == "" {
		return
	}
	if err := s.Sessions.TerminateSession(ctx, rec.SessionID, domain.ReasonReuseDetected); err != nil {
		slogx.FromContext(ctx).Error("terminate session after reuse failed", "session_id", rec.SessionID, "error", err)
	}
}

// Revoke revokes a token by id. A refresh record id revokes its chain and
// the access tokens it minted; anything else is taken as an access token id
// and blacklisted for one access lifetime. Revoking twice is not an error.
func (s *TokenService) Revoke(ctx context.Context, tokenID, reason string) error {
	if tokenID == "" {
		return domain.WithMessage(domain.ErrInvalidRequest, "token id is required")
	}

	rec, err := s.Store.RefreshTokens().GetRefreshToken(ctx, tokenID)
	switch {
	case err == nil:
		unlock := s.chains.Lock(rec.ChainID)
		err = s.revokeChainLocked(ctx, rec, reason, nil)
		unlock()
		if err != nil {
			return err
		}
		s.emit(ctx, audit.New(audit.KindTokenRevoked, rec.UserID, rec.WorkspaceID).
			With("chain_id", rec.ChainID).
			With("reason", reason))
		return nil

	case errors.Is(err, store.ErrNotFound):
		if err := s.Revocations.Add(ctx, tokenID, s.now().Add(s.accessTTL()), reason); err != nil {
			return err
		}
		s.emit(ctx, audit.New(audit.KindTokenRevoked, "", "").
			With("jti", tokenID).
			With("reason", reason))
		return nil

	default:
		return storeErr(err)
	}
}

// RevokeSession revokes every chain bound to a session and returns how many
// chains were touched.
func (s *TokenService) RevokeSession(ctx context.Context, sessionID, reason string) (int, error) {
	records, err := s.Store.RefreshTokens().ListSessionTokens(ctx, sessionID)
	if err != nil {
		return 0, storeErr(err)
	}

	seen := make(map[string]bool)
	for _, rec := range records {
		if seen[rec.ChainID] {
			continue
		}
		seen[rec.ChainID] = true

		unlock := s.chains.Lock(rec.ChainID)
		err := s.revokeChainLocked(ctx, rec, reason, nil)
		unlock()
		if err != nil {
			return len(seen) - 1, err
		}
	}
	return len(seen), nil
}

// Blacklist revokes an access token id until the given time.
func (s *TokenService) Blacklist(ctx context.Context, tokenID string, until time.Time, reason string) error {
	return s.Revocations.Add(ctx, tokenID, until, reason)
}

// IsBlacklisted reports whether an access token id is revoked.
func (s *TokenService) IsBlacklisted(ctx context.Context, tokenID string) (bool, error) {
	return s.Revocations.Contains(ctx, tokenID)
}

// RefreshRecord returns a stored refresh record by id.
func (s *TokenService) RefreshRecord(ctx context.Context, id string) (domain.RefreshToken, error) {
	rec, err := s.Store.RefreshTokens().GetRefreshToken(ctx, id)
	if err != nil {
		return domain.RefreshToken{}, storeErr(err)
	}
	return rec, nil
}

// LookupRefreshToken finds the record behind an opaque refresh token without
// rotating it.
func (s *TokenService) LookupRefreshToken(ctx context.Context, opaque string) (domain.RefreshToken, error) {
	if opaque == "" {
		return domain.RefreshToken{}, domain.WithMessage(domain.ErrMalformed, "refresh token is required")
	}
	rec, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, cryptox.FingerprintToken(opaque))
	if errors.Is(err, store.ErrNotFound) {
		return domain.RefreshToken{}, domain.WithMessage(domain.ErrMalformed, "unknown refresh token")
	}
	if err != nil {
		return domain.RefreshToken{}, storeErr(err)
	}
	return rec, nil
}

// storeErr maps store failures into the domain taxonomy. Domain errors pass
// through untouched.
func storeErr(err error) error {
	var de *domain.Error
	var ve *domain.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &de), errors.As(err, &ve):
		return err
	case errors.Is(err, store.ErrNotFound):
		return domain.Wrap(domain.ErrNotFound, err)
	case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, store.ErrConflict):
		return domain.Wrap(domain.ErrConflict, err)
	default:
		return domain.Wrap(domain.ErrStoreUnavailable, err)
	}
}
