package session

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// Cookie names owned by the session layer.
const (
	TokenCookie  = "token"
	ClientCookie = "ww_client"
)

// Scope is one path/domain combination a cookie may have been written with.
type Scope struct {
	Path   string
	Domain string
}

// Scopes lists the variants for host: host-only, exact hostname,
// leading-dot hostname and leading-dot parent domain.
func Scopes(host string) []Scope {
	host = NormalizeHost(host)
	scopes := []Scope{{Path: "/"}}
	if host == "" {
		return scopes
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() != nil {
			scopes = append(scopes, Scope{Path: "/", Domain: host})
		}
		return scopes
	}
	scopes = append(scopes,
		Scope{Path: "/", Domain: host},
		Scope{Path: "/", Domain: "." + host},
	)
	if i := strings.IndexByte(host, '.'); i > 0 {
		parent := host[i+1:]
		// skip bare TLDs such as ".edu"
		if strings.Contains(parent, ".") {
			scopes = append(scopes, Scope{Path: "/", Domain: "." + parent})
		}
	}
	return scopes
}

// ExpireCookie returns one expiring Set-Cookie per distinct rendered scope.
// net/http drops the leading dot of Domain, so ".host" and "host" collapse.
func ExpireCookie(name, host string, secure bool) []*http.Cookie {
	seen := make(map[Scope]struct{})
	var out []*http.Cookie
	for _, sc := range Scopes(host) {
		key := Scope{Path: sc.Path, Domain: strings.TrimPrefix(sc.Domain, ".")}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     sc.Path,
			Domain:   sc.Domain,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return out
}

// NormalizeHost strips the port and trailing dot and lower-cases host.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	return strings.TrimSuffix(strings.ToLower(host), ".")
}
