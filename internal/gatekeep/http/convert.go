package http

import (
	"fmt"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
)

func tokenResponse(pair *domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        pair.TokenType,
		ExpiresIn:        pair.ExpiresIn,
		ExpiresAt:        pair.ExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		SessionID:        pair.SessionID,
	}
}

func introspection(ac domain.AuthContext) authsdk.IntrospectResponse {
	return authsdk.IntrospectResponse{
		Active:      true,
		UserID:      ac.UserID,
		WorkspaceID: ac.WorkspaceID,
		Roles:       ac.Roles,
		Permissions: domain.PermissionStrings(ac.Permissions),
		Attributes:  ac.Attributes,
		SessionID:   ac.SessionID,
		MFAVerified: ac.MFAVerified,
		TokenID:     ac.TokenID,
		IssuedAt:    &ac.IssuedAt,
		ExpiresAt:   &ac.ExpiresAt,
	}
}

func sessionInfo(s domain.Session, current string) authsdk.SessionInfo {
	return authsdk.SessionInfo{
		ID:                s.ID,
		UserID:            s.UserID,
		WorkspaceID:       s.WorkspaceID,
		DeviceFingerprint: s.DeviceFingerprint,
		IP:                s.IP,
		Country:           s.Country,
		UserAgent:         s.UserAgent,
		CreatedAt:         s.CreatedAt,
		LastActivityAt:    s.LastActivityAt,
		ExpiresAt:         s.ExpiresAt,
		Status:            string(s.Status),
		MFAVerified:       s.MFAVerified,
		RiskScore:         s.RiskScore,
		Flagged:           s.Flagged,
		TerminatedReason:  s.TerminatedReason,
		Current:           s.ID == current,
	}
}

func roleInfo(r domain.Role) authsdk.Role {
	return authsdk.Role{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		Name:        r.Name,
		Description: r.Description,
		Permissions: domain.PermissionStrings(r.Permissions),
		Parents:     r.Parents,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// roleFromRequest builds a role in workspace. Bad permission strings are
// reported per field like any other role validation failure.
func roleFromRequest(req authsdk.RoleRequest, workspace string) (domain.Role, error) {
	ve := &domain.ValidationError{Code: domain.CodeInvalidRole}
	perms := make([]domain.Permission, 0, len(req.Permissions))
	for i, s := range req.Permissions {
		p, err := domain.ParsePermission(s)
		if err != nil {
			ve.Add(fmt.Sprintf("permissions[%d]", i), err.Error())
			continue
		}
		perms = append(perms, p)
	}
	if err := ve.Err(); err != nil {
		return domain.Role{}, err
	}

	return domain.Role{
		WorkspaceID: workspace,
		Name:        req.Name,
		Description: req.Description,
		Permissions: perms,
		Parents:     req.Parents,
	}, nil
}

func assignmentInfo(a domain.RoleAssignment) authsdk.Assignment {
	return authsdk.Assignment{
		ID:          a.ID,
		UserID:      a.UserID,
		RoleID:      a.RoleID,
		WorkspaceID: a.WorkspaceID,
		AssignedBy:  a.AssignedBy,
		AssignedAt:  a.AssignedAt,
		ExpiresAt:   a.ExpiresAt,
		Conditions:  a.Conditions,
	}
}

func memberInfo(m domain.Member) authsdk.Member {
	return authsdk.Member{
		WorkspaceID: m.WorkspaceID,
		UserID:      m.UserID,
		Attributes:  m.Attributes,
		CreatedAt:   m.CreatedAt,
	}
}

func policyInfo(p domain.Policy) authsdk.Policy {
	rules := make([]authsdk.Rule, len(p.Rules))
	for i, r := range p.Rules {
		rules[i] = authsdk.Rule{Effect: string(r.Effect), Condition: r.Condition, Description: r.Description}
	}
	return authsdk.Policy{
		ID:          p.ID,
		WorkspaceID: p.WorkspaceID,
		Name:        p.Name,
		Description: p.Description,
		Timezone:    p.Timezone,
		Resources:   p.Resources,
		Actions:     p.Actions,
		Rules:       rules,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func policyFromRequest(req authsdk.PolicyRequest, workspace string) domain.Policy {
	rules := make([]domain.Rule, len(req.Rules))
	for i, r := range req.Rules {
		rules[i] = domain.Rule{Effect: domain.Effect(r.Effect), Condition: r.Condition, Description: r.Description}
	}
	return domain.Policy{
		WorkspaceID: workspace,
		Name:        req.Name,
		Description: req.Description,
		Timezone:    req.Timezone,
		Resources:   req.Resources,
		Actions:     req.Actions,
		Rules:       rules,
		Version:     req.Version,
	}
}

func keyInfo(k domain.SigningKey) authsdk.SigningKeyInfo {
	return authsdk.SigningKeyInfo{
		ID:        k.ID,
		Kid:       k.Kid,
		Algorithm: k.Algorithm,
		CreatedAt: k.CreatedAt,
		RetiredAt: k.RetiredAt,
		ExpiresAt: k.ExpiresAt,
	}
}

func keyInfos(keys []domain.SigningKey) []authsdk.SigningKeyInfo {
	out := make([]authsdk.SigningKeyInfo, len(keys))
	for i, k := range keys {
		out[i] = keyInfo(k)
	}
	return out
}
