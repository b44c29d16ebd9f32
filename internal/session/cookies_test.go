package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestScopes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		host string
		want []Scope
	}{
		{"portal.wildwatch.cit.edu:8443", []Scope{
			{Path: "/"},
			{Path: "/", Domain: "portal.wildwatch.cit.edu"},
			{Path: "/", Domain: ".portal.wildwatch.cit.edu"},
			{Path: "/", Domain: ".wildwatch.cit.edu"},
		}},
		{"WildWatch.edu.", []Scope{
			{Path: "/"},
			{Path: "/", Domain: "wildwatch.edu"},
			{Path: "/", Domain: ".wildwatch.edu"},
		}},
		{"localhost:8080", []Scope{
			{Path: "/"},
			{Path: "/", Domain: "localhost"},
			{Path: "/", Domain: ".localhost"},
		}},
		{"127.0.0.1:8080", []Scope{{Path: "/"}, {Path: "/", Domain: "127.0.0.1"}}},
		{"[::1]:8080", []Scope{{Path: "/"}}},
		{"", []Scope{{Path: "/"}}},
	}
	for _, tc := range cases {
		if got := Scopes(tc.host); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Scopes(%q) = %+v, want %+v", tc.host, got, tc.want)
		}
	}
}

func TestExpireCookieCollapsesLeadingDot(t *testing.T) {
	cookies := ExpireCookie(TokenCookie, "portal.cit.edu", true)
	if len(cookies) != 3 {
		t.Fatalf("got %d cookies, want 3", len(cookies))
	}
	rendered := make(map[string]bool)
	for _, c := range cookies {
		if c.MaxAge >= 0 || c.Value != "" || !c.Secure {
			t.Fatalf("cookie does not expire: %+v", c)
		}
		s := c.String()
		if rendered[s] {
			t.Fatalf("duplicate Set-Cookie %q", s)
		}
		rendered[s] = true
	}
}

func TestCookieJarClearExpiresEveryCookieOnce(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://portal.cit.edu/logout", nil)
	req.AddCookie(&http.Cookie{Name: TokenCookie, Value: "jwt"})
	req.AddCookie(&http.Cookie{Name: ClientCookie, Value: "c"})
	req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})
	rr := httptest.NewRecorder()
	jar := NewCookieJar(rr, req, CookieOptions{})

	if err := jar.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := jar.Remove(context.Background()); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	headers := rr.Header().Values("Set-Cookie")
	if len(headers) != 9 {
		t.Fatalf("got %d Set-Cookie headers, want 9: %v", len(headers), headers)
	}
	perName := map[string]int{}
	for _, h := range headers {
		perName[strings.SplitN(h, "=", 2)[0]]++
		if !strings.Contains(h, "Max-Age=0") {
			t.Fatalf("header does not expire cookie: %q", h)
		}
	}
	for _, name := range []string{TokenCookie, ClientCookie, "theme"} {
		if perName[name] != 3 {
			t.Fatalf("cookie %s expired %d times, want 3", name, perName[name])
		}
	}
}

func TestCookieJarSaveAndLoad(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/auth/callback", nil)
	rr := httptest.NewRecorder()
	jar := NewCookieJar(rr, req, CookieOptions{Secure: true, MaxAge: time.Hour})

	if _, ok, _ := jar.Load(context.Background()); ok {
		t.Fatal("unexpected token in empty request")
	}
	if err := jar.Save(context.Background(), "jwt"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	resp := rr.Result()
	var found *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == TokenCookie {
			found = c
		}
	}
	if found == nil || found.Value != "jwt" || found.MaxAge != 3600 || !found.HttpOnly || found.Path != "/" {
		t.Fatalf("unexpected token cookie: %+v", found)
	}
}
