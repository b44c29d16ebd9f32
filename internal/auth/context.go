package auth

import (
	"context"
	"strings"
)

type tokenContextKey struct{}
type clientContextKey struct{}
type subjectContextKey struct{}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ContextWithClientID attaches the browser/CLI instance id.
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return ctx
	}
	return context.WithValue(ctx, clientContextKey{}, clientID)
}

func ClientIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(clientContextKey{}).(string)
	return v, ok && v != ""
}

// ContextWithSubject records who the request acts for (the profile email).
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(subjectContextKey{}).(string)
	return v, ok && v != ""
}
