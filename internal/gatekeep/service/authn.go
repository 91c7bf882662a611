package service

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/condx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// DefaultAssertionSkew is how old (or how far in the future) an identity
// assertion may be when it is exchanged for tokens.
const DefaultAssertionSkew = 2 * time.Minute

// AuthenticateRequest exchanges a verified identity assertion for a session
// in one workspace.
type AuthenticateRequest struct {
	Identity    domain.Identity `json:"identity"`
	WorkspaceID string          `json:"workspace_id"`
	Device      domain.Device   `json:"device"`
	MFAVerified bool            `json:"mfa_verified"`
}

type AuthenticateResult struct {
	Session     domain.Session
	Tokens      *domain.TokenPair
	Roles       []string
	Permissions []domain.Permission
}

// AuthnService turns identity assertions into sessions and tokens.
type AuthnService struct {
	Store    store.Store
	Tokens   *TokenService
	Sessions *SessionService
	RBAC     *RBACService
	Audit    audit.Emitter

	AssertionSkew time.Duration
	Now           func() time.Time
}

func (s *AuthnService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *AuthnService) fail(ctx context.Context, req AuthenticateRequest, err error) error {
	if s.Audit != nil {
		_ = s.Audit.Emit(ctx, audit.New(audit.KindAuthenticationError, req.Identity.Subject, req.WorkspaceID).
			Failed(audit.OutcomeFailure, string(domain.CodeOf(err))).
			With("provider", req.Identity.Provider))
	}
	return err
}

// Authenticate checks the assertion is fresh and the subject is a member of
// the workspace, then opens a session and issues tokens for it.
func (s *AuthnService) Authenticate(ctx context.Context, req AuthenticateRequest) (*AuthenticateResult, error) {
	l := slogx.FromContext(ctx)
	id := req.Identity

	if id.Subject == "" || req.WorkspaceID == "" {
		return nil, domain.WithMessage(domain.ErrInvalidRequest, "subject and workspace_id are required")
	}

	skew := s.AssertionSkew
	if skew <= 0 {
		skew = DefaultAssertionSkew
	}
	now := s.now()
	if id.IssuedAt.IsZero() || now.Sub(id.IssuedAt) > skew || id.IssuedAt.Sub(now) > skew {
		l.Info("stale identity assertion", "subject", id.Subject, "issued_at", id.IssuedAt)
		return nil, s.fail(ctx, req, domain.ErrStaleAssertion)
	}

	claims, err := s.ResolveClaims(ctx, id.Subject, req.WorkspaceID)
	if err != nil {
		return nil, s.fail(ctx, req, err)
	}

	sess, err := s.Sessions.CreateSession(ctx, id.Subject, req.WorkspaceID, req.Device, req.MFAVerified)
	if err != nil {
		return nil, err
	}

	pair, err := s.Tokens.Issue(ctx, IssueRequest{
		UserID:      id.Subject,
		WorkspaceID: req.WorkspaceID,
		SessionID:   sess.ID,
		MFAVerified: req.MFAVerified,
		TokenClaims: claims,
	})
	if err != nil {
		// Do not leave a session without tokens behind
		if terr := s.Sessions.TerminateSession(ctx, sess.ID, domain.ReasonExpired); terr != nil {
			l.Error("cleanup session after failed issue", "session_id", sess.ID, "error", terr)
		}
		return nil, err
	}

	l.Info("authenticated",
		"user_id", id.Subject,
		"workspace_id", req.WorkspaceID,
		"session_id", sess.ID,
		"provider", id.Provider,
	)
	return &AuthenticateResult{
		Session:     sess,
		Tokens:      pair,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}

// ResolveClaims loads the member's attributes and resolves their roles and
// permissions. A user who is not a member is not authorized.
func (s *AuthnService) ResolveClaims(ctx context.Context, userID, workspaceID string) (TokenClaims, error) {
	m, err := s.Store.Members().GetMember(ctx, workspaceID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TokenClaims{}, domain.ErrNotAuthorized
		}
		return TokenClaims{}, storeErr(err)
	}

	subject := map[string]any{}
	for k, v := range m.Attributes {
		subject[k] = v
	}
	subject["id"] = userID
	subject["workspace_id"] = workspaceID

	r, err := s.RBAC.Resolve(ctx, userID, workspaceID,
		WithAttributes(condx.Attributes{condx.RootSubject: subject}))
	if err != nil {
		return TokenClaims{}, err
	}

	return TokenClaims{
		Roles:       r.Roles,
		Permissions: r.Permissions,
		Attributes:  m.Attributes,
	}, nil
}

// Logout ends the caller's session. Tokens bound to it are revoked by the
// session termination hook; the presented access token is blacklisted here
// as well so it stops working even if the hook fails.
func (s *AuthnService) Logout(ctx context.Context, ac domain.AuthContext) error {
	if ac.TokenID != "" && ac.ExpiresAt.After(s.now()) {
		if err := s.Tokens.Blacklist(ctx, ac.TokenID, ac.ExpiresAt, domain.ReasonLogout); err != nil {
			return err
		}
	}
	err := s.Sessions.TerminateSession(ctx, ac.SessionID, domain.ReasonLogout)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
