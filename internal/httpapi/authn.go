package httpapi

import (
	"context"
	"net/http"
	"time"

	"wildwatch.app/internal/auth"
	"wildwatch.app/internal/ids"
	"wildwatch.app/internal/obs"
	"wildwatch.app/internal/session"
	"wildwatch.app/internal/store"
)

type sessionKey struct{}

// requestSession is the per-request view of one browser instance.
type requestSession struct {
	clientID string
	tokens   *session.TokenStore
	jar      *session.CookieJar
}

func requestSessionFrom(ctx context.Context) *requestSession {
	s, _ := ctx.Value(sessionKey{}).(*requestSession)
	return s
}

// local and sessionStorage are the client's namespaces.
func (a *API) local(rs *requestSession) store.Namespace {
	return store.Namespace{KV: a.deps.Local, Name: store.LocalNamespace(rs.clientID)}
}

func (a *API) sessionStorage(rs *requestSession) store.Namespace {
	return store.Namespace{KV: a.deps.Session, Name: store.SessionNamespace(rs.clientID), TTL: a.deps.SessionTTL}
}

// bearerJar prefers an Authorization header over the token cookie so API
// callers can skip cookies. Writes still go to the cookie jar.
type bearerJar struct {
	*session.CookieJar
	bearer string
}

func (j bearerJar) Load(ctx context.Context) (string, bool, error) {
	if j.bearer != "" {
		return j.bearer, true, nil
	}
	return j.CookieJar.Load(ctx)
}

// withSession resolves the ww_client cookie (issuing one when missing or
// invalid) and opens the token store for this request.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := ""
		if c, err := r.Cookie(session.ClientCookie); err == nil && a.deps.Signer != nil {
			if id, err := a.deps.Signer.Parse(c.Value); err == nil && ids.ValidClientID(id) {
				clientID = id
			}
		}
		if clientID == "" {
			clientID = ids.NewClientID()
			a.issueClientCookie(w, clientID)
		}

		jar := session.NewCookieJar(w, r, a.deps.Cookies)
		var durable session.Durable = jar
		if h := r.Header.Get("Authorization"); h != "" {
			if token, err := auth.ExtractBearerToken(h); err == nil {
				durable = bearerJar{CookieJar: jar, bearer: token}
			}
		}
		tokens, err := session.Open(r.Context(), durable, a.deps.Bus, clientID)
		if err != nil {
			obs.Error("session_open_failed", map[string]any{"err": err, "request_id": RequestIDFromContext(r.Context())})
			writeError(w, r, http.StatusInternalServerError, "session unavailable")
			return
		}

		ctx := auth.ContextWithClientID(r.Context(), clientID)
		if token, ok := tokens.Token(); ok {
			ctx = auth.ContextWithToken(ctx, token)
		}
		ctx = context.WithValue(ctx, sessionKey{}, &requestSession{clientID: clientID, tokens: tokens, jar: jar})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) issueClientCookie(w http.ResponseWriter, clientID string) {
	if a.deps.Signer == nil {
		return
	}
	value, err := a.deps.Signer.Issue(clientID)
	if err != nil {
		obs.Error("client_cookie_issue_failed", map[string]any{"err": err})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     session.ClientCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(a.deps.Signer.TTL() / time.Second),
		HttpOnly: true,
		Secure:   a.deps.Cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
