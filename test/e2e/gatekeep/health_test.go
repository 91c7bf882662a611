//go:build e2e

package gatekeep_test

import (
	"testing"

	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoints(t *testing.T) {
	client := authsdk.NewSDKClient(setupContainer(t, nil))

	live, err := client.GetLiveness(t.Context())
	assertHealthy(t, live, err)
	require.NotEmpty(t, live.Uptime)

	ready, err := client.GetReadiness(t.Context())
	assertHealthy(t, ready, err)
	require.NotNil(t, ready.Checks)
	require.Equal(t, "ok", ready.Checks.Database)
	require.Equal(t, "ok", ready.Checks.Signer)
	require.Equal(t, "ok", ready.Checks.Blacklist)
}

func TestJWKSPublishesSigningKey(t *testing.T) {
	client := authsdk.NewSDKClient(setupContainer(t, nil))

	jwks, err := client.GetJWKS(t.Context())
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "OKP", jwks.Keys[0].Kty)
	require.NotEmpty(t, jwks.Keys[0].Kid)
}
