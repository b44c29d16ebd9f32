package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"wildwatch.app/internal/audit"
	"wildwatch.app/internal/backend"
	"wildwatch.app/internal/logout"
)

const lastEmailKey = "last_email"

var loginReasons = map[string]string{
	"network":      "We could not reach WildWatch. Check your connection and try again.",
	"missing_role": "Your account has no role assigned yet. Contact your office administrator.",
	"oauth":        "Sign-in with Microsoft did not complete. Please try again.",
}

func (a *API) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	v := view{Title: "Sign in", Form: map[string]string{}, Data: a.deps.OAuthURL}
	if last, ok, err := a.local(rs).Get(r.Context(), lastEmailKey); err == nil && ok {
		v.Form["email"] = string(last)
	}
	reason := r.URL.Query().Get("reason")
	if reason == "auth_failed" {
		v.Notice = "Your session has ended. Please sign in again."
	} else if msg, ok := loginReasons[reason]; ok {
		v.Error = msg
	}
	a.pages.render(w, r, http.StatusOK, "login", v)
}

func validateLogin(email, password string) error {
	verr := &ValidationError{}
	if email == "" {
		verr.add("email", "Email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		verr.add("email", "Enter a valid email address")
	}
	if password == "" {
		verr.add("password", "Password is required")
	}
	return verr.orNil()
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	v := view{Title: "Sign in", Form: map[string]string{"email": email}, Data: a.deps.OAuthURL}

	if err := validateLogin(email, password); err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		v.FieldErrors = verr.FieldErrors
		a.pages.render(w, r, http.StatusUnprocessableEntity, "login", v)
		return
	}

	token, err := a.deps.Backend.Login(r.Context(), email, password)
	switch {
	case errors.Is(err, backend.ErrInvalidCredentials):
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{"email": strings.ToLower(email)})
		v.Error = "Invalid email or password."
		a.pages.render(w, r, http.StatusUnauthorized, "login", v)
		return
	case err != nil:
		v.Error = loginReasons["network"]
		a.pages.render(w, r, http.StatusBadGateway, "login", v)
		return
	}

	if err := rs.tokens.SetToken(r.Context(), token); err != nil {
		v.Error = "Could not start your session."
		a.pages.render(w, r, http.StatusInternalServerError, "login", v)
		return
	}
	_ = a.local(rs).Set(r.Context(), lastEmailKey, []byte(strings.ToLower(email)))
	_ = audit.LogEvent(r.Context(), audit.EventLogin, map[string]any{"email": strings.ToLower(email)})
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleOAuthCallback receives the token the backend minted after the
// identity provider handshake.
func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("token"))
	if token == "" || q.Get("error") != "" {
		http.Redirect(w, r, "/login?reason=oauth", http.StatusSeeOther)
		return
	}
	if err := rs.tokens.SetToken(r.Context(), token); err != nil {
		http.Redirect(w, r, "/login?reason=oauth", http.StatusSeeOther)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventOAuthCallback, nil)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		a.pages.render(w, r, http.StatusBadRequest, "message", view{Title: "Verification failed", Data: "The verification link is incomplete."})
		return
	}
	err := a.deps.Backend.VerifyEmail(r.Context(), token)
	var ne *backend.NetworkError
	switch {
	case err == nil:
		a.pages.render(w, r, http.StatusOK, "message", view{Title: "Email verified", Data: "Your email is verified. You can sign in now."})
	case errors.As(err, &ne) && ne.Status >= 400 && ne.Status < 500, errors.Is(err, backend.ErrUnauthorized):
		a.pages.render(w, r, http.StatusBadRequest, "message", view{Title: "Verification failed", Data: "The verification link is invalid or has expired."})
	default:
		a.pages.render(w, r, http.StatusBadGateway, "message", view{Title: "Verification failed", Data: loginReasons["network"]})
	}
}

func (a *API) handleResetPage(w http.ResponseWriter, r *http.Request) {
	a.pages.render(w, r, http.StatusOK, "reset", view{Title: "Reset password", Form: map[string]string{}})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PostFormValue("email"))
	v := view{Title: "Reset password", Form: map[string]string{"email": email}}
	verr := &ValidationError{}
	if email == "" {
		verr.add("email", "Email is required")
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		verr.add("email", "Enter a valid email address")
	}
	if verr.orNil() != nil {
		v.FieldErrors = verr.FieldErrors
		a.pages.render(w, r, http.StatusUnprocessableEntity, "reset", v)
		return
	}

	err := a.deps.Backend.RequestPasswordReset(r.Context(), email)
	var ne *backend.NetworkError
	if err != nil && !(errors.As(err, &ne) && ne.Status >= 400 && ne.Status < 500) {
		v.Error = loginReasons["network"]
		a.pages.render(w, r, http.StatusBadGateway, "reset", v)
		return
	}
	// Unknown addresses get the same answer as known ones.
	a.pages.render(w, r, http.StatusOK, "message", view{
		Title: "Check your inbox",
		Data:  "If an account exists for that address, a reset link is on its way.",
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	rs := requestSessionFrom(r.Context())
	token, _ := rs.tokens.Token()
	clearers := []logout.Clearer{
		rs.jar,
		logout.ClearFunc{Label: "local", Fn: a.local(rs).Clear},
		logout.ClearFunc{Label: "session", Fn: a.sessionStorage(rs).Clear},
		logout.ClearFunc{Label: "evidence", Fn: func(ctx context.Context) error {
			_, err := a.deps.Evidence.Clear(ctx, rs.clientID)
			return err
		}},
		logout.ClearFunc{Label: "profile", Fn: func(ctx context.Context) error {
			a.deps.Profiles.Forget(ctx, token)
			return nil
		}},
	}
	a.logout.Run(r.Context(), rs.tokens, clearers, &navigator{w: w, r: r, base: strings.TrimRight(a.deps.PublicURL, "/")})
}

// navigator turns the logout navigation into a 303. A hard navigation also
// asks the browser to drop everything it holds for the origin.
type navigator struct {
	w    http.ResponseWriter
	r    *http.Request
	base string
}

func (n *navigator) Navigate(target string) {
	http.Redirect(n.w, n.r, target, http.StatusSeeOther)
}

func (n *navigator) HardNavigate(target string) {
	n.w.Header().Set("Clear-Site-Data", `"cache", "cookies", "storage"`)
	http.Redirect(n.w, n.r, n.base+target, http.StatusSeeOther)
}
