package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyChecker interface {
	IsReady() bool
}

type DegradedChecker interface {
	Degraded() bool
}

// ReadyzHandler reports whether the store answers, a signing key is loaded
// and the blacklist is in sync with the store. A degraded blacklist only
// fails readiness; requests are still served according to the fail-open
// setting.
func ReadyzHandler(startTime time.Time, version string, st Pinger, keys ReadyChecker, blacklist DegradedChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &authsdk.HealthChecks{
			Database:  "ok",
			Signer:    "ok",
			Blacklist: "ok",
		}
		status, code := "ok", http.StatusOK
		degrade := func() { status, code = "degraded", http.StatusServiceUnavailable }

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			checks.Database = "error: " + err.Error()
			degrade()
		}
		if !keys.IsReady() {
			checks.Signer = "error: no keys loaded"
			degrade()
		}
		if blacklist != nil && blacklist.Degraded() {
			checks.Blacklist = "error: out of sync with store"
			degrade()
		}

		httpx.WriteJSON(w, code, authsdk.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
