package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const clientIssuer = "wildwatch-portal"

// ErrInvalidClient indicates the client cookie failed validation.
var ErrInvalidClient = errors.New("auth: invalid client cookie")

// ClientClaims identify one browser instance. Subject carries the client id.
type ClientClaims struct {
	jwt.RegisteredClaims
}

// ClientSigner issues and verifies the signed ww_client cookie value (HS256).
type ClientSigner struct {
	key []byte
	ttl time.Duration
}

func NewClientSigner(key []byte, ttl time.Duration) (*ClientSigner, error) {
	if len(key) < 16 {
		return nil, errors.New("auth: client signing key too short")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: ttl must be greater than zero")
	}
	return &ClientSigner{key: key, ttl: ttl}, nil
}

// TTL is the lifetime stamped into issued cookies.
func (s *ClientSigner) TTL() time.Duration { return s.ttl }

// Issue signs a cookie value for clientID.
func (s *ClientSigner) Issue(clientID string) (string, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return "", errors.New("auth: client id is required")
	}
	now := time.Now().UTC()
	claims := ClientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    clientIssuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign client cookie: %w", err)
	}
	return signed, nil
}

// Parse verifies a cookie value and returns the client id it carries.
func (s *ClientSigner) Parse(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrInvalidClient
	}
	parsed, err := jwt.ParseWithClaims(value, &ClientClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidClient
		}
		return s.key, nil
	})
	if err != nil {
		return "", ErrInvalidClient
	}
	claims, ok := parsed.Claims.(*ClientClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidClient
	}
	if err := validateClaims(claims); err != nil {
		return "", ErrInvalidClient
	}
	return claims.Subject, nil
}

func validateClaims(claims *ClientClaims) error {
	if claims.Issuer != clientIssuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := time.Now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("cookie expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("cookie issued in the future")
	}
	return nil
}
