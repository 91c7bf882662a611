package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// GatewayTokenHeader carries the shared secret that identifies the trusted
// identity gateway on POST /v1/sessions.
const GatewayTokenHeader = "X-Gateway-Token"

// SDKClient is a client for the gatekeep service. It covers the
// unauthenticated endpoints and creates authenticated Sessions.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// GatewayToken is sent when exchanging identity assertions. Only the
	// identity gateway holds it.
	GatewayToken string
}

// NewSDKClient creates a new gatekeep client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Exchange trades a verified identity assertion for a token pair.
func (c *SDKClient) Exchange(ctx context.Context, req AuthenticateRequest) (*TokenResponse, error) {
	body, headers, err := jsonBody(req)
	if err != nil {
		return nil, err
	}
	if c.GatewayToken != "" {
		headers[GatewayTokenHeader] = c.GatewayToken
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/sessions", body, headers)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusCreated); err != nil {
		return nil, err
	}
	return &tokenResp, nil
}

// Authenticate exchanges an identity assertion and wraps the tokens in a
// Session.
func (c *SDKClient) Authenticate(ctx context.Context, req AuthenticateRequest) (*Session, error) {
	tokenResp, err := c.Exchange(ctx, req)
	if err != nil {
		return nil, err
	}
	return newSession(c, tokenResp), nil
}

// AuthenticateWithRefreshToken creates a session from a stored refresh token.
// The token is rotated immediately.
func (c *SDKClient) AuthenticateWithRefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	tokenResp, err := c.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	return newSession(c, tokenResp), nil
}

// NewSessionFromTokens creates a session from tokens obtained elsewhere. The
// session still refreshes itself when the access token expires.
func (c *SDKClient) NewSessionFromTokens(accessToken, refreshToken string, expiresIn int64) *Session {
	return newSession(c, &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	})
}
