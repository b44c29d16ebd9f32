package guard

import (
	"path"
	"strings"
)

var publicPaths = []string{
	"/",
	"/login",
	"/auth/callback",
	"/verify-email",
	"/reset-password",
	"/logout",
	"/events/session",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/favicon.ico",
}

var publicPrefixes = []string{
	"/assets/",
}

// Classifier partitions paths into public and protected. Anything not listed
// as public is protected.
type Classifier struct {
	exact    map[string]struct{}
	prefixes []string
}

func NewClassifier(paths, prefixes []string) Classifier {
	c := Classifier{exact: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		c.exact[clean(p)] = struct{}{}
	}
	c.prefixes = append(c.prefixes, prefixes...)
	return c
}

// DefaultClassifier is the portal route table.
func DefaultClassifier() Classifier {
	return NewClassifier(publicPaths, publicPrefixes)
}

func (c Classifier) IsPublic(p string) bool {
	p = clean(p)
	if _, ok := c.exact[p]; ok {
		return true
	}
	for _, prefix := range c.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// clean resolves dot segments so "/assets/../dashboard" cannot pass as public.
func clean(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}
