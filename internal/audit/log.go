// Package audit writes session lifecycle events to the JSON log stream.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"wildwatch.app/internal/auth"
	"wildwatch.app/internal/obs"
)

type requestIDKey struct{}

// WithRequestID tags ctx so later events carry the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID = strings.TrimSpace(requestID); requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// secretFields never reach the log, whatever the caller passes.
var secretFields = map[string]bool{"token": true, "password": true, "authorization": true}

// LogEvent writes one audit line. Client id and subject come from ctx; email
// values are masked.
func LogEvent(ctx context.Context, event Event, fields map[string]any) error {
	if strings.TrimSpace(string(event)) == "" {
		return errors.New("audit: event name is required")
	}
	entry := map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"type":   "audit",
		"level":  event.Level(),
		"event":  string(event),
		"fields": redact(fields),
	}
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok {
		entry["request_id"] = rid
	}
	if clientID, ok := auth.ClientIDFromContext(ctx); ok {
		entry["client_id"] = clientID
	}
	if subject, ok := auth.SubjectFromContext(ctx); ok {
		entry["subject"] = MaskEmail(subject)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

func redact(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		lk := strings.ToLower(k)
		switch {
		case secretFields[lk]:
			continue
		case strings.Contains(lk, "email"):
			if s, ok := v.(string); ok {
				v = MaskEmail(s)
			}
		}
		out[k] = v
	}
	return out
}

// MaskEmail keeps the first letter of the local part and the domain:
// "juan@cit.edu" becomes "j***@cit.edu". Values without "@" are returned as is.
func MaskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return s
	}
	return s[:1] + "***" + s[at:]
}
