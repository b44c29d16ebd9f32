// Package guard decides, per navigation, whether a path may render.
package guard

import (
	"context"
	"errors"

	"wildwatch.app/internal/obs"
	"wildwatch.app/internal/profile"
)

// LoginPath is where every redirect points.
const LoginPath = "/login"

// State of one navigation.
type State int

const (
	Initializing State = iota
	Checking
	Allowed
	Redirecting
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Checking:
		return "checking"
	case Allowed:
		return "allowed"
	case Redirecting:
		return "redirecting"
	}
	return "unknown"
}

// Reason explains a redirect.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonNoToken     Reason = "no_token"
	ReasonAuthFailed  Reason = "auth_failed"
	ReasonNetwork     Reason = "network"
	ReasonMissingRole Reason = "missing_role"
)

// LoadResult is the outcome of the profile load for the current token.
type LoadResult struct {
	Settled bool
	Profile profile.Profile
	Err     error
}

// Input is everything Decide looks at.
type Input struct {
	Path     string
	Mounted  bool
	HasToken bool
	Load     LoadResult
}

type Decision struct {
	State    State
	Redirect string
	Reason   Reason
	Profile  profile.Profile
}

// Decide is a pure function of its input.
func (c Classifier) Decide(in Input) Decision {
	if c.IsPublic(in.Path) {
		return Decision{State: Allowed}
	}
	if !in.Mounted {
		return Decision{State: Initializing}
	}
	if !in.HasToken {
		return redirect(ReasonNoToken)
	}
	if !in.Load.Settled {
		return Decision{State: Checking}
	}
	switch {
	case errors.Is(in.Load.Err, profile.ErrAuth):
		return redirect(ReasonAuthFailed)
	case in.Load.Err != nil:
		return redirect(ReasonNetwork)
	case !in.Load.Profile.Valid():
		return redirect(ReasonMissingRole)
	}
	return Decision{State: Allowed, Profile: in.Load.Profile}
}

func redirect(r Reason) Decision {
	return Decision{State: Redirecting, Redirect: LoginPath, Reason: r}
}

// Tokens is the slice of the token store the guard needs.
type Tokens interface {
	Token() (string, bool)
	RemoveToken(ctx context.Context) error
}

// Fetcher loads the profile for a token.
type Fetcher interface {
	Fetch(ctx context.Context, token string) (profile.Profile, error)
}

// Guard runs Decide against live session state.
type Guard struct {
	classifier Classifier
	profiles   Fetcher
	mounted    func() bool
}

// New builds a Guard. mounted reports whether the host finished initializing.
func New(c Classifier, profiles Fetcher, mounted func() bool) *Guard {
	if mounted == nil {
		mounted = func() bool { return true }
	}
	return &Guard{classifier: c, profiles: profiles, mounted: mounted}
}

func (g *Guard) Classifier() Classifier { return g.classifier }

// Evaluate decides for path. Public paths never touch the session. A 401 from
// the profile load removes the token exactly once. If ctx ended while loading,
// the result is discarded and the decision stays Checking.
func (g *Guard) Evaluate(ctx context.Context, path string, tokens Tokens) Decision {
	d := g.evaluate(ctx, path, tokens)
	obs.ObserveGuardDecision(d.State.String())
	return d
}

func (g *Guard) evaluate(ctx context.Context, path string, tokens Tokens) Decision {
	in := Input{Path: path, Mounted: g.mounted()}
	if g.classifier.IsPublic(path) || !in.Mounted {
		return g.classifier.Decide(in)
	}
	token, ok := tokens.Token()
	in.HasToken = ok
	if !ok {
		return g.classifier.Decide(in)
	}

	p, err := g.profiles.Fetch(ctx, token)
	if ctx.Err() != nil {
		return Decision{State: Checking}
	}
	in.Load = LoadResult{Settled: true, Profile: p, Err: err}

	if errors.Is(err, profile.ErrAuth) {
		if rmErr := tokens.RemoveToken(ctx); rmErr != nil {
			obs.Warn("guard_token_remove_failed", map[string]any{"err": rmErr, "path": path})
		}
	}
	return g.classifier.Decide(in)
}
