// Package backend is the typed HTTP client for the WildWatch REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wildwatch.app/internal/auth"
)

const (
	opLogin        = "login"
	opLogout       = "logout"
	opProfile      = "profile"
	opVerifyEmail  = "verify-email"
	opResetRequest = "reset-password-request"
	opIncidents    = "incidents"
	opIncident     = "incident"
	opSubmit       = "submit-incident"
	opBulletins    = "bulletins"
	opTags         = "generate-tags"

	maxResponseBytes = 4 << 20
)

// Client calls the backend. It holds no session state; every authenticated
// call takes the token explicitly.
type Client struct {
	base      *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit throttles outgoing calls to perSecond with the given burst.
func WithRateLimit(perSecond, burst int) Option {
	return func(c *Client) {
		if perSecond > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// New validates baseURL and builds a client.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base:      u,
		http:      &http.Client{Timeout: 10 * time.Second},
		userAgent: "wildwatch-portal",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var out loginResponse
	if err := c.do(ctx, opLogin, http.MethodPost, "/api/auth/login", "", nil, loginRequest{Email: email, Password: password}, &out); err != nil {
		return "", err
	}
	token := out.Token
	if token == "" {
		token = out.AccessToken
	}
	if token == "" {
		return "", &NetworkError{Op: opLogin, Err: errors.New("response carried no token")}
	}
	return token, nil
}

// Logout invalidates token server-side.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, opLogout, http.MethodPost, "/api/auth/logout", token, nil, nil, nil)
}

// Profile fetches the current user's profile for token.
func (c *Client) Profile(ctx context.Context, token string) (ProfilePayload, error) {
	var out ProfilePayload
	err := c.do(ctx, opProfile, http.MethodGet, "/api/auth/profile", token, nil, nil, &out)
	return out, err
}

func (c *Client) VerifyEmail(ctx context.Context, verificationToken string) error {
	q := url.Values{"token": []string{verificationToken}}
	return c.do(ctx, opVerifyEmail, http.MethodGet, "/api/auth/verify-email", "", q, nil, nil)
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, opResetRequest, http.MethodPost, "/api/auth/reset-password-request", "", nil, resetRequest{Email: email}, nil)
}

// InProgressIncidents lists the caller's open reports.
func (c *Client) InProgressIncidents(ctx context.Context, token string) ([]Incident, error) {
	var out []Incident
	err := c.do(ctx, opIncidents, http.MethodGet, "/api/incidents/in-progress", token, nil, nil, &out)
	return out, err
}

func (c *Client) Incident(ctx context.Context, token, trackingNumber string) (Incident, error) {
	var out Incident
	err := c.do(ctx, opIncident, http.MethodGet, "/api/incidents/"+url.PathEscape(trackingNumber), token, nil, nil, &out)
	return out, err
}

func (c *Client) SubmitIncident(ctx context.Context, token string, sub IncidentSubmission) (Incident, error) {
	var out Incident
	err := c.do(ctx, opSubmit, http.MethodPost, "/api/incidents", token, nil, sub, &out)
	return out, err
}

func (c *Client) Bulletins(ctx context.Context, token string) ([]Bulletin, error) {
	var out []Bulletin
	err := c.do(ctx, opBulletins, http.MethodGet, "/api/bulletins", token, nil, nil, &out)
	return out, err
}

func (c *Client) GenerateTags(ctx context.Context, token string, req TagRequest) ([]string, error) {
	var out tagResponse
	if err := c.do(ctx, opTags, http.MethodPost, "/api/tags/generate", token, nil, req, &out); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &NetworkError{Op: op, Err: err}
		}
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("backend %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", auth.BearerHeader(token))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := mapStatus(op, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// WithDeadline returns a context bounded by d, defaulting to 10s.
func WithDeadline(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 10 * time.Second
	}
	return context.WithTimeout(parent, d)
}
