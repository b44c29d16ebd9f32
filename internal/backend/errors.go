package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is returned for any 401 from the backend. It is the only
	// signal that a token is no longer valid.
	ErrUnauthorized = errors.New("backend: unauthorized")
	// ErrInvalidCredentials is returned by Login for a rejected email/password.
	ErrInvalidCredentials = errors.New("backend: invalid credentials")
	// ErrNetwork matches every *NetworkError through errors.Is.
	ErrNetwork = errors.New("backend: unavailable")
)

// NetworkError covers transport failures and non-2xx statuses other than 401.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// NotFound reports a 404 status.
func (e *NetworkError) NotFound() bool { return e.Status == http.StatusNotFound }

// mapStatus converts a non-2xx status into the error taxonomy.
func mapStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized && op == opLogin:
		return ErrInvalidCredentials
	case status == http.StatusBadRequest && op == opLogin:
		return ErrInvalidCredentials
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return &NetworkError{Op: op, Status: status}
}
