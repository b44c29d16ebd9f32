package session

import (
	"context"
	"net/http"
	"time"
)

// CookieOptions control how the portal writes the token cookie.
type CookieOptions struct {
	Secure bool
	MaxAge time.Duration
}

// CookieJar is the portal Durable: it reads the request cookies and writes
// Set-Cookie headers on the response of the same request.
type CookieJar struct {
	w       http.ResponseWriter
	r       *http.Request
	host    string
	opts    CookieOptions
	expired map[string]bool
}

func NewCookieJar(w http.ResponseWriter, r *http.Request, opts CookieOptions) *CookieJar {
	return &CookieJar{
		w:       w,
		r:       r,
		host:    NormalizeHost(r.Host),
		opts:    opts,
		expired: make(map[string]bool),
	}
}

func (j *CookieJar) Load(context.Context) (string, bool, error) {
	c, err := j.r.Cookie(TokenCookie)
	if err != nil || c.Value == "" {
		return "", false, nil
	}
	return c.Value, true, nil
}

func (j *CookieJar) Save(_ context.Context, token string) error {
	http.SetCookie(j.w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(j.opts.MaxAge / time.Second),
		HttpOnly: true,
		Secure:   j.opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	delete(j.expired, TokenCookie)
	return nil
}

func (j *CookieJar) Remove(context.Context) error {
	j.Expire(TokenCookie)
	return nil
}

// Expire writes expiring headers for name under every scope, once per response.
func (j *CookieJar) Expire(name string) {
	if j.expired[name] {
		return
	}
	for _, c := range ExpireCookie(name, j.host, j.opts.Secure) {
		http.SetCookie(j.w, c)
	}
	j.expired[name] = true
}

// Name identifies the jar in logout results.
func (j *CookieJar) Name() string { return "cookies" }

// Clear expires every cookie the browser sent with this request.
func (j *CookieJar) Clear(context.Context) error {
	for _, c := range j.r.Cookies() {
		j.Expire(c.Name)
	}
	return nil
}
