// Package profile exchanges a session token for the signed-in user's profile.
package profile

import (
	"context"
	"strings"

	"wildwatch.app/internal/backend"
)

// Profile is the normalized user profile. Empty fields are omitted on the wire.
type Profile struct {
	FirstName      string  `json:"firstName,omitempty"`
	LastName       string  `json:"lastName,omitempty"`
	SchoolIDNumber string  `json:"schoolIdNumber,omitempty"`
	Email          string  `json:"email,omitempty"`
	Role           string  `json:"role,omitempty"`
	OfficeCode     *string `json:"officeCode,omitempty"`
}

// Valid reports whether the profile carries a role; the guard requires one.
func (p Profile) Valid() bool { return p.Role != "" }

// DisplayName joins first and last name, falling back to the email.
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Email
	}
	return name
}

// IsOfficeAdmin reports an office-scoped account.
func (p Profile) IsOfficeAdmin() bool {
	return p.Role == "OFFICE_ADMIN" || p.OfficeCode != nil
}

// Normalize maps a raw backend payload into a Profile.
func Normalize(p backend.ProfilePayload) Profile {
	out := Profile{
		FirstName:      trim(p.FirstName),
		LastName:       trim(p.LastName),
		SchoolIDNumber: p.SchoolID(),
		Email:          strings.ToLower(trim(p.Email)),
		Role:           NormalizeRole(firstNonEmpty(trim(p.Role), trim(p.UserRole))),
	}
	if office := strings.ToUpper(firstNonEmpty(trim(p.OfficeCode), trim(p.Office))); office != "" {
		out.OfficeCode = &office
	}
	return out
}

// NormalizeRole trims, upper-cases and strips a Spring "ROLE_" prefix.
// Separators become underscores: "office admin" -> "OFFICE_ADMIN".
func NormalizeRole(role string) string {
	role = strings.ToUpper(strings.TrimSpace(role))
	role = strings.TrimPrefix(role, "ROLE_")
	role = strings.Join(strings.FieldsFunc(role, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
	return role
}

func trim(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type profileContextKey struct{}

// NewContext attaches a profile the guard allowed.
func NewContext(ctx context.Context, p Profile) context.Context {
	return context.WithValue(ctx, profileContextKey{}, &p)
}

// FromContext returns the profile attached by NewContext.
func FromContext(ctx context.Context) (Profile, bool) {
	if ctx == nil {
		return Profile{}, false
	}
	p, ok := ctx.Value(profileContextKey{}).(*Profile)
	if !ok || p == nil {
		return Profile{}, false
	}
	return *p, true
}
