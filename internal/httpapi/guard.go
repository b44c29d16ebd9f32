package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"wildwatch.app/internal/audit"
	"wildwatch.app/internal/auth"
	"wildwatch.app/internal/guard"
	"wildwatch.app/internal/profile"
)

// Self-managed routes answer in JSON or SSE and never get the placeholder page.
var selfManagedPrefixes = []string{
	"/api/",
	"/evidence",
	"/tags/",
	"/events/",
}

func selfManaged(path string) bool {
	for _, p := range selfManagedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return strings.HasPrefix(path, "/bulletins/") && strings.HasSuffix(path, "/upvotes")
}

// freshProfile lists routes whose answer is the profile itself; they bypass
// the profile cache so a revoked token is noticed on the next call.
func freshProfile(path string) bool {
	return path == "/api/me"
}

// withGuard renders nothing protected unless the guard allows it.
func (a *API) withGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs := requestSessionFrom(r.Context())
		evalCtx := r.Context()
		if freshProfile(r.URL.Path) {
			evalCtx = profile.WithFresh(evalCtx)
		}
		d := a.guard.Evaluate(evalCtx, r.URL.Path, rs.tokens)

		switch d.State {
		case guard.Allowed:
			ctx := r.Context()
			if d.Profile.Valid() {
				ctx = profile.NewContext(ctx, d.Profile)
				ctx = auth.ContextWithSubject(ctx, d.Profile.Email)
			}
			next.ServeHTTP(w, r.WithContext(ctx))

		case guard.Initializing, guard.Checking:
			w.Header().Set("Retry-After", "1")
			if selfManaged(r.URL.Path) {
				writeError(w, r, http.StatusServiceUnavailable, "session is still loading")
				return
			}
			a.pages.placeholder(w, r, http.StatusServiceUnavailable)

		case guard.Redirecting:
			if d.Reason == guard.ReasonAuthFailed {
				_ = audit.LogEvent(r.Context(), audit.EventForcedSignOut, map[string]any{"path": r.URL.Path})
			}
			target := redirectTarget(d)
			if selfManaged(r.URL.Path) {
				payload := map[string]any{
					"error":    string(d.Reason),
					"redirect": target,
				}
				if rid := RequestIDFromContext(r.Context()); rid != "" {
					payload["request_id"] = rid
				}
				writeJSON(w, http.StatusUnauthorized, payload)
				return
			}
			w.Header().Set("Location", target)
			a.pages.placeholder(w, r, http.StatusSeeOther)
		}
	})
}

func redirectTarget(d guard.Decision) string {
	switch d.Reason {
	case guard.ReasonNone, guard.ReasonNoToken:
		return d.Redirect
	}
	return d.Redirect + "?" + url.Values{"reason": {string(d.Reason)}}.Encode()
}
