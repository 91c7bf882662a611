/*
Package authsdk provides a client SDK for the gatekeep authorization service.

# Overview

Gatekeep turns a verified identity assertion into a workspace scoped session
with a short-lived JWT access token and a single use refresh token, and
answers authorization questions for that session. The package is organized
around two types:

  - SDKClient: unauthenticated operations (identity exchange, refresh,
    health, JWKS) and creation of Sessions
  - Session: authenticated operations with automatic token refresh

# Exchanging an Identity

Only the identity gateway, which has already verified the user with the
identity provider, may exchange assertions. It authenticates with a shared
gateway token:

	client := authsdk.NewSDKClient("https://gatekeep.example.com")
	client.GatewayToken = os.Getenv("GATEKEEP_GATEWAY_TOKEN")

	session, err := client.Authenticate(ctx, authsdk.AuthenticateRequest{
		Identity: authsdk.Identity{
			Subject:  "alice",
			Provider: "oidc",
			IssuedAt: time.Now(),
		},
		WorkspaceID: "acme",
		Device:      authsdk.Device{Fingerprint: fp, IP: ip},
		MFAVerified: true,
	})

Assertions older than a couple of minutes are rejected with STALE_ASSERTION.

# Automatic Token Refresh

Session methods refresh the access token shortly before it expires. Refresh
tokens are single use: each refresh returns a new one and presenting a spent
token revokes every token from the same login. Sessions serialize refreshes
so concurrent callers sharing one Session never present the same refresh
token twice.

# Authorization

	resp, err := session.Authorize(ctx, authsdk.AuthorizeRequest{
		Resource: authsdk.ResourceRef{
			Type:       "document",
			ID:         "doc-1",
			Attributes: map[string]any{"classification": "confidential"},
		},
		Action: "read",
	})
	if err == nil && resp.Allowed {
		// proceed
	}

A denial is a normal response, not an error.

# Management

Roles, assignments, members, policies and signing keys are managed through
Session methods. Each requires a permission in the caller's workspace, such
as roles:manage or policies:manage; global roles and policies and the
signing keys require the global form (global:roles:manage).

Policy conditions are built with package condx:

	req := authsdk.PolicyRequest{
		Name:      "confidential-docs",
		Resources: []string{"document"},
		Rules: []authsdk.Rule{{
			Effect: "DENY",
			Condition: condx.And(
				condx.Equals("resource.classification", "confidential"),
				condx.Not(condx.Equals("subject.department", "legal")),
			),
		}},
	}

# Error Handling

Every non-2xx response is returned as an *APIError. Errors compare by code:

	if errors.Is(err, authsdk.ErrNotAuthorized) {
		...
	}

Validation failures carry per-field detail in APIError.Fields.

# Thread Safety

Sessions are safe for concurrent use.
*/
package authsdk
