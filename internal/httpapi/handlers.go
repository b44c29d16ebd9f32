package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"wildwatch.app/internal/auth"
	"wildwatch.app/internal/backend"
	"wildwatch.app/internal/evidence"
	"wildwatch.app/internal/guard"
	"wildwatch.app/internal/logout"
	"wildwatch.app/internal/obs"
	"wildwatch.app/internal/profile"
	"wildwatch.app/internal/realtime"
	"wildwatch.app/internal/session"
	"wildwatch.app/internal/store"
)

const serviceName = "wildwatch-portal"

// Backend is the part of the backend client the portal calls.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context, token string) error
	Profile(ctx context.Context, token string) (backend.ProfilePayload, error)
	VerifyEmail(ctx context.Context, verificationToken string) error
	RequestPasswordReset(ctx context.Context, email string) error
	InProgressIncidents(ctx context.Context, token string) ([]backend.Incident, error)
	Incident(ctx context.Context, token, trackingNumber string) (backend.Incident, error)
	SubmitIncident(ctx context.Context, token string, sub backend.IncidentSubmission) (backend.Incident, error)
	Bulletins(ctx context.Context, token string) ([]backend.Bulletin, error)
	GenerateTags(ctx context.Context, token string, req backend.TagRequest) ([]string, error)
}

// ReadyProbe checks the portal's own dependencies.
type ReadyProbe struct {
	DB    *sql.DB
	Redis func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		return rp.Redis(ctx)
	}
	return nil
}

// Deps wires the portal.
type Deps struct {
	Backend   Backend
	Profiles  *profile.Loader
	Signer    *auth.ClientSigner
	Bus       *session.Bus
	Local     store.KV
	Session   store.KV
	Evidence  *evidence.Stager
	Dialer    realtime.Dialer
	WSURL     string
	Ready     ReadyProbe
	Version   string
	PublicURL string
	OAuthURL  string
	Cookies   session.CookieOptions

	SessionTTL    time.Duration
	LogoutTimeout time.Duration
	RateBurst     int
	RatePerSec    int
}

// API is the portal HTTP layer.
type API struct {
	deps    Deps
	guard   *guard.Guard
	logout  *logout.Sequencer
	pages   *pages
	mounted atomic.Bool

	rateBurst  int
	ratePerSec int
}

func New(d Deps) *API {
	if d.Bus == nil {
		d.Bus = session.NewBus()
	}
	if d.Local == nil {
		d.Local = store.NewMemory()
	}
	if d.Session == nil {
		d.Session = store.NewMemory()
	}
	if d.Evidence == nil {
		d.Evidence = evidence.NewStager(d.Session)
	}
	if d.Profiles == nil {
		d.Profiles = profile.NewLoader(d.Backend)
	}
	if d.Dialer == nil {
		d.Dialer = realtime.WebsocketDialer{}
	}
	if d.SessionTTL <= 0 {
		d.SessionTTL = 2 * time.Hour
	}
	a := &API{
		deps:       d,
		pages:      mustLoadPages(),
		rateBurst:  d.RateBurst,
		ratePerSec: d.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	a.guard = guard.New(guard.DefaultClassifier(), d.Profiles, a.mounted.Load)
	a.logout = logout.New(d.Backend,
		logout.WithTimeout(d.LogoutTimeout),
		logout.WithLoginPath(guard.LoginPath),
	)
	return a
}

// MarkReady flips the portal to mounted; protected pages render Initializing
// until then.
func (a *API) MarkReady() { a.mounted.Store(true) }

func (a *API) Mounted() bool { return a.mounted.Load() }

// Handler returns the full middleware chain around the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, obs.Instrument, SecurityHeaders, CORS(a.deps.PublicURL))
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	r.Use(MaxBodyBytes(a.deps.Evidence.MaxSize() + 1<<20))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())
	r.Handle("/assets/*", assetHandler())

	r.Group(func(r chi.Router) {
		r.Use(a.withSession, a.withGuard)

		r.Get("/", a.handleRoot)
		r.Get("/login", a.handleLoginPage)
		r.Post("/login", a.handleLogin)
		r.Get("/auth/callback", a.handleOAuthCallback)
		r.Get("/verify-email", a.handleVerifyEmail)
		r.Get("/reset-password", a.handleResetPage)
		r.Post("/reset-password", a.handleResetPassword)
		r.Post("/logout", a.handleLogout)
		r.Get("/events/session", a.handleSessionEvents)

		r.Get("/dashboard", a.handleDashboard)
		r.Get("/incidents/tracking", a.handleTracking)
		r.Get("/incidents/new", a.handleNewIncident)
		r.Get("/incidents/{trackingNumber}", a.handleIncident)
		r.Post("/incidents", a.handleSubmitIncident)
		r.Get("/bulletins", a.handleBulletins)
		r.Get("/bulletins/{id}/upvotes", a.handleUpvotes)
		r.Post("/evidence", a.handleStageEvidence)
		r.Get("/evidence", a.handleListEvidence)
		r.Delete("/evidence/{id}", a.handleDiscardEvidence)
		r.Post("/tags/generate", a.handleGenerateTags)
		r.Get("/api/me", a.handleMe)
	})

	// Unrouted paths are protected: only a signed-in caller learns they do not exist.
	r.NotFound(a.withSession(a.withGuard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	}))).ServeHTTP)
	r.MethodNotAllowed(a.withSession(a.withGuard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}))).ServeHTTP)
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.deps.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	if !a.Mounted() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "starting",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.deps.Version,
	})
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	target := guard.LoginPath
	if _, ok := requestSessionFrom(r.Context()).tokens.Token(); ok {
		target = "/dashboard"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
