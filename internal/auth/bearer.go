package auth

import "strings"

const bearer = "Bearer "

// BearerHeader formats token for the Authorization header.
func BearerHeader(token string) string {
	return bearer + token
}

// ExtractBearerToken parses an Authorization header value.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", ErrBadScheme
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
