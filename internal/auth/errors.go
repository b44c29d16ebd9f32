package auth

import "errors"

var (
	// ErrMissingToken is returned when a bearer header or cookie is absent.
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrBadScheme    = errors.New("auth: invalid authorization scheme")
)
