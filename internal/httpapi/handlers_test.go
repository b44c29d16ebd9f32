package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"wildwatch.app/internal/auth"
	"wildwatch.app/internal/backend"
	"wildwatch.app/internal/backend/backendtest"
	"wildwatch.app/internal/evidence"
	"wildwatch.app/internal/profile"
	"wildwatch.app/internal/session"
	"wildwatch.app/internal/store"
)

type testPortal struct {
	t       *testing.T
	backend *backendtest.Server
	api     *API
	local   *store.Memory
	baseURL string
	client  *http.Client
}

func newTestPortal(t *testing.T) *testPortal {
	t.Helper()

	be := backendtest.New()
	be.SeedDemo()
	beSrv := be.Start()
	t.Cleanup(beSrv.Close)

	client, err := backend.New(beSrv.URL)
	if err != nil {
		t.Fatalf("backend client: %v", err)
	}
	keys, err := auth.DeriveKeys("test-session-secret-0123456789")
	if err != nil {
		t.Fatalf("derive keys: %v", err)
	}
	signer, err := auth.NewClientSigner(keys.ClientCookie, time.Hour)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	local := store.NewMemory()
	sessionKV := store.NewMemory()

	api := New(Deps{
		Backend:    client,
		Profiles:   profile.NewLoader(client, profile.WithCache(store.NewMemory(), keys.Fingerprint, time.Minute)),
		Signer:     signer,
		Local:      local,
		Session:    sessionKV,
		Evidence:   evidence.NewStager(sessionKV),
		WSURL:      backendtest.WebsocketURL(beSrv.URL),
		Version:    "test",
		PublicURL:  "http://portal.test",
		RateBurst:  1000,
		RatePerSec: 1000,
	})
	api.MarkReady()

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &testPortal{t: t, backend: be, api: api, local: local, baseURL: srv.URL, client: newBrowser(t)}
}

// newBrowser keeps cookies and never follows redirects.
func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (p *testPortal) do(req *http.Request) *http.Response {
	p.t.Helper()
	resp, err := p.client.Do(req)
	if err != nil {
		p.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	return resp
}

func (p *testPortal) get(path string) *http.Response {
	p.t.Helper()
	req, err := http.NewRequest(http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		p.t.Fatalf("new request: %v", err)
	}
	return p.do(req)
}

func (p *testPortal) postForm(path string, form url.Values) *http.Response {
	p.t.Helper()
	req, err := http.NewRequest(http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		p.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req)
}

func (p *testPortal) login() {
	p.t.Helper()
	resp := p.postForm("/login", url.Values{"email": {"student@cit.edu"}, "password": {"wildcats"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/dashboard" {
		p.t.Fatalf("login: status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func (p *testPortal) cookie(name string) (string, bool) {
	u, _ := url.Parse(p.baseURL)
	for _, c := range p.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthReadyInfo(t *testing.T) {
	p := newTestPortal(t)

	resp := p.get("/healthz")
	health := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusOK || health["service"] != serviceName {
		t.Fatalf("healthz: %d %v", resp.StatusCode, health)
	}
	resp = p.get("/readyz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: %d", resp.StatusCode)
	}
	resp = p.get("/v1/info")
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" {
		t.Fatalf("info: %v", info)
	}
}

func TestProtectedBeforeMountShowsPlaceholder(t *testing.T) {
	p := newTestPortal(t)
	p.api.mounted.Store(false)

	resp := p.get("/readyz")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before mount: %d", resp.StatusCode)
	}
	resp = p.get("/dashboard")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(body, "placeholder") {
		t.Fatalf("dashboard before mount: %d", resp.StatusCode)
	}
	if strings.Contains(body, "In progress") {
		t.Fatal("protected content rendered before mount")
	}
	resp = p.get("/login")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public page before mount: %d", resp.StatusCode)
	}
}

func TestProtectedWithoutTokenRedirects(t *testing.T) {
	p := newTestPortal(t)

	resp := p.get("/incidents/tracking")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if strings.Contains(body, "Case tracking") {
		t.Fatal("protected content rendered without token")
	}
	if n := p.backend.Calls(http.MethodGet, "/api/auth/profile"); n != 0 {
		t.Fatalf("profile fetched %d times without a token", n)
	}
	if _, ok := p.cookie(session.ClientCookie); !ok {
		t.Fatal("client cookie not issued")
	}
}

func TestLoginAndDashboard(t *testing.T) {
	p := newTestPortal(t)
	p.login()

	if _, ok := p.cookie(session.TokenCookie); !ok {
		t.Fatal("token cookie not set")
	}
	resp := p.get("/dashboard")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: %d", resp.StatusCode)
	}
	for _, want := range []string{"Juan Dela Cruz", "WW-20240301-0001", "STUDENT"} {
		if !strings.Contains(body, want) {
			t.Fatalf("dashboard missing %q", want)
		}
	}

	resp = p.get("/api/me")
	me := decode[profile.Profile](t, resp)
	if me.Role != "STUDENT" || me.Email != "student@cit.edu" {
		t.Fatalf("me: %+v", me)
	}

	resp = p.get("/login")
	body = readBody(t, resp)
	if !strings.Contains(body, `value="student@cit.edu"`) {
		t.Fatal("login form did not remember the last email")
	}
}

func TestLoginValidationSkipsBackend(t *testing.T) {
	p := newTestPortal(t)

	resp := p.postForm("/login", url.Values{"email": {"not-an-email"}})
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(body, "Enter a valid email address") || !strings.Contains(body, "Password is required") {
		t.Fatal("field errors not rendered")
	}
	if n := p.backend.Calls(http.MethodPost, "/api/auth/login"); n != 0 {
		t.Fatalf("backend login called %d times", n)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	p := newTestPortal(t)

	resp := p.postForm("/login", url.Values{"email": {"student@cit.edu"}, "password": {"nope"}})
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(body, "Invalid email or password") {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if _, ok := p.cookie(session.TokenCookie); ok {
		t.Fatal("token stored after failed login")
	}
}

func TestRevokedTokenClearsSessionOnce(t *testing.T) {
	p := newTestPortal(t)
	p.login()
	token, _ := p.cookie(session.TokenCookie)
	p.backend.RevokeToken(token)

	resp := p.get("/dashboard")
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login?reason=auth_failed" {
		t.Fatalf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if _, ok := p.cookie(session.TokenCookie); ok {
		t.Fatal("token cookie survived a 401")
	}
	before := p.backend.Calls(http.MethodGet, "/api/auth/profile")

	resp = p.get("/dashboard")
	resp.Body.Close()
	if resp.Header.Get("Location") != "/login" {
		t.Fatalf("second navigation location %q", resp.Header.Get("Location"))
	}
	if after := p.backend.Calls(http.MethodGet, "/api/auth/profile"); after != before {
		t.Fatalf("profile fetched again without a token")
	}
}

func TestProfileNetworkFailureKeepsToken(t *testing.T) {
	p := newTestPortal(t)
	p.login()
	p.backend.FailNext(http.MethodGet, "/api/auth/profile", http.StatusInternalServerError)

	resp := p.get("/dashboard")
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login?reason=network" {
		t.Fatalf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if _, ok := p.cookie(session.TokenCookie); !ok {
		t.Fatal("token dropped on a network failure")
	}
	resp = p.get("/dashboard")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry: %d", resp.StatusCode)
	}
}

func TestSelfManagedRouteAnswersJSON(t *testing.T) {
	p := newTestPortal(t)

	resp := p.get("/api/me")
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusUnauthorized || body["redirect"] != "/login" {
		t.Fatalf("status %d body %v", resp.StatusCode, body)
	}
}

func TestBearerHeaderIsAccepted(t *testing.T) {
	p := newTestPortal(t)
	token := p.backend.IssueToken("osa@cit.edu")

	req, _ := http.NewRequest(http.MethodGet, p.baseURL+"/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	me := decode[profile.Profile](t, resp)
	if !me.IsOfficeAdmin() || me.OfficeCode == nil || *me.OfficeCode != "OSA" {
		t.Fatalf("me: %+v", me)
	}
}

func TestMeNoticesRevocationDespiteCache(t *testing.T) {
	p := newTestPortal(t)
	p.login()

	for i := 0; i < 2; i++ {
		resp := p.get("/dashboard")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("dashboard: %d", resp.StatusCode)
		}
	}
	resp := p.get("/api/me")
	me := decode[profile.Profile](t, resp)
	if resp.StatusCode != http.StatusOK || me.Email != "student@cit.edu" {
		t.Fatalf("me: %d %+v", resp.StatusCode, me)
	}

	token, _ := p.cookie(session.TokenCookie)
	p.backend.RevokeToken(token)
	before := p.backend.Calls(http.MethodGet, "/api/auth/profile")

	resp = p.get("/api/me")
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusUnauthorized || body["error"] != "auth_failed" {
		t.Fatalf("me after revoke: %d %v", resp.StatusCode, body)
	}
	if after := p.backend.Calls(http.MethodGet, "/api/auth/profile"); after != before+1 {
		t.Fatalf("profile fetches after revoke = %d, want 1", after-before)
	}
	if _, ok := p.cookie(session.TokenCookie); ok {
		t.Fatal("token cookie survived a revoked /api/me")
	}
}

func TestOAuthCallback(t *testing.T) {
	p := newTestPortal(t)

	resp := p.get("/auth/callback")
	resp.Body.Close()
	if resp.Header.Get("Location") != "/login?reason=oauth" {
		t.Fatalf("missing token: %q", resp.Header.Get("Location"))
	}

	token := p.backend.IssueToken("student@cit.edu")
	resp = p.get("/auth/callback?token=" + url.QueryEscape(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/dashboard" {
		t.Fatalf("status %d location %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if got, _ := p.cookie(session.TokenCookie); got != token {
		t.Fatalf("token cookie %q", got)
	}
}

func TestVerifyEmailAndReset(t *testing.T) {
	p := newTestPortal(t)
	p.backend.AddVerification("v-123", "student@cit.edu")

	resp := p.get("/verify-email?token=v-123")
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || !strings.Contains(body, "Email verified") {
		t.Fatalf("verify: %d", resp.StatusCode)
	}
	resp = p.get("/verify-email?token=v-123")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reused link: %d", resp.StatusCode)
	}

	resp = p.postForm("/reset-password", url.Values{"email": {""}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("reset validation: %d", resp.StatusCode)
	}
	resp = p.postForm("/reset-password", url.Values{"email": {"student@cit.edu"}})
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || !strings.Contains(body, "Check your inbox") {
		t.Fatalf("reset: %d", resp.StatusCode)
	}
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

func (p *testPortal) stageEvidence(name string, data []byte) evidence.File {
	p.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		p.t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()
	req, _ := http.NewRequest(http.MethodPost, p.baseURL+"/evidence", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp := p.do(req)
	if resp.StatusCode != http.StatusCreated {
		p.t.Fatalf("stage evidence: %d %s", resp.StatusCode, readBody(p.t, resp))
	}
	return decode[evidence.File](p.t, resp)
}

func TestSubmitIncidentWithEvidence(t *testing.T) {
	p := newTestPortal(t)
	p.login()
	staged := p.stageEvidence("scene.png", pngBytes)
	if staged.ContentType != "image/png" {
		t.Fatalf("staged %+v", staged)
	}

	resp := p.postForm("/incidents", url.Values{"incidentType": {"Theft"}})
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusUnprocessableEntity || !strings.Contains(body, "Location is required") {
		t.Fatalf("validation: %d", resp.StatusCode)
	}
	if n := p.backend.Calls(http.MethodPost, "/api/incidents"); n != 0 {
		t.Fatalf("backend called on invalid form")
	}

	resp = p.postForm("/incidents", url.Values{
		"incidentType":   {"Theft"},
		"location":       {"Library"},
		"description":    {"Phone taken from the study table"},
		"dateOfIncident": {"2024-03-01"},
		"tags":           {"theft, library, Theft"},
	})
	resp.Body.Close()
	loc := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusSeeOther || !strings.HasPrefix(loc, "/incidents/WW-") {
		t.Fatalf("submit: %d %q", resp.StatusCode, loc)
	}

	resp = p.get(loc)
	body = readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "scene.png") || !strings.Contains(body, "theft, library") {
		t.Fatalf("incident page: %d", resp.StatusCode)
	}

	resp = p.get("/evidence")
	list := decode[struct{ Items []evidence.File }](t, resp)
	if len(list.Items) != 0 {
		t.Fatalf("evidence not cleared after submit: %+v", list.Items)
	}
}

func TestSubmitIncidentBackendFailureKeepsDraft(t *testing.T) {
	p := newTestPortal(t)
	p.login()
	p.backend.FailNext(http.MethodPost, "/api/incidents", http.StatusServiceUnavailable)

	form := url.Values{"incidentType": {"Vandalism"}, "location": {"Gym"}, "description": {"Graffiti on the wall"}}
	resp := p.postForm("/incidents", form)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d", resp.StatusCode)
	}
	resp = p.get("/incidents/new")
	if body := readBody(t, resp); !strings.Contains(body, "Graffiti on the wall") {
		t.Fatal("draft not restored from session storage")
	}
}

func TestEvidenceDiscardAndErrors(t *testing.T) {
	p := newTestPortal(t)
	p.login()
	staged := p.stageEvidence("a.png", pngBytes)

	req, _ := http.NewRequest(http.MethodDelete, p.baseURL+"/evidence/"+staged.ID, nil)
	resp := p.do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("discard: %d", resp.StatusCode)
	}
	resp = p.do(req.Clone(context.Background()))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second discard: %d", resp.StatusCode)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "run.sh")
	_, _ = fw.Write([]byte("#!/bin/sh\necho hi\n"))
	_ = mw.Close()
	req, _ = http.NewRequest(http.MethodPost, p.baseURL+"/evidence", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp = p.do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("unsupported type: %d", resp.StatusCode)
	}
}

func TestGenerateTags(t *testing.T) {
	p := newTestPortal(t)
	p.login()

	post := func(body string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, p.baseURL+"/tags/generate", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return p.do(req)
	}
	resp := post(`{"description":"","location":"Gym"}`)
	verr := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusUnprocessableEntity || verr["fieldErrors"] == nil {
		t.Fatalf("validation: %d %v", resp.StatusCode, verr)
	}
	resp = post(`{"description":"Someone stole a laptop in the library","location":"Library"}`)
	tags := decode[map[string][]string](t, resp)
	if resp.StatusCode != http.StatusOK || len(tags["tags"]) == 0 {
		t.Fatalf("tags: %d %v", resp.StatusCode, tags)
	}
}

func TestLogoutClearsClientState(t *testing.T) {
	p := newTestPortal(t)
	p.login()
	p.stageEvidence("a.png", pngBytes)
	token, _ := p.cookie(session.TokenCookie)
	clientID := clientOf(t, p)

	resp := p.postForm("/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("logout: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if resp.Header.Get("Clear-Site-Data") != "" {
		t.Fatal("soft logout sent Clear-Site-Data")
	}
	if _, ok := p.cookie(session.TokenCookie); ok {
		t.Fatal("token cookie survived logout")
	}
	if n := p.backend.Calls(http.MethodPost, "/api/auth/logout"); n != 1 {
		t.Fatalf("backend logout calls %d", n)
	}
	if keys, _ := p.local.Keys(context.Background(), store.LocalNamespace(clientID)); len(keys) != 0 {
		t.Fatalf("local storage kept %v", keys)
	}
	// The backend dropped the token as well.
	req, _ := http.NewRequest(http.MethodGet, p.baseURL+"/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("token still valid: %d", resp.StatusCode)
	}
}

// clientOf reads the client id the portal assigned to the test browser.
func clientOf(t *testing.T, p *testPortal) string {
	t.Helper()
	v, ok := p.cookie(session.ClientCookie)
	if !ok {
		t.Fatal("no client cookie")
	}
	id, err := p.api.deps.Signer.Parse(v)
	if err != nil {
		t.Fatalf("parse client cookie: %v", err)
	}
	return id
}

func TestLogoutWithBackend404StillNavigates(t *testing.T) {
	p := newTestPortal(t)
	p.login()
	p.backend.SetLogoutStatus(http.StatusNotFound)

	resp := p.postForm("/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("logout: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if _, ok := p.cookie(session.TokenCookie); ok {
		t.Fatal("token cookie survived logout")
	}
}

func TestLogoutWithoutSessionNavigatesOnce(t *testing.T) {
	p := newTestPortal(t)
	p.client.Jar = nil

	resp := p.postForm("/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("logout: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if n := p.backend.Calls(http.MethodPost, "/api/auth/logout"); n != 0 {
		t.Fatalf("backend logout called without a token")
	}
}

type failingKV struct{ store.KV }

func (failingKV) Clear(context.Context, string) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestLogoutStorageFailureIsHard(t *testing.T) {
	p := newTestPortal(t)
	p.api.deps.Local = failingKV{KV: p.local}
	p.login()

	resp := p.postForm("/logout", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "http://portal.test/login" {
		t.Fatalf("logout: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
	if resp.Header.Get("Clear-Site-Data") == "" {
		t.Fatal("hard logout without Clear-Site-Data")
	}
}

// nextEvent reads SSE lines until an event named name arrives and returns its data.
func nextEvent(t *testing.T, r *bufio.Reader, name string) string {
	t.Helper()
	current := ""
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && current == name:
			return strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestSessionEventsReachOtherViews(t *testing.T) {
	p := newTestPortal(t)
	p.login()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/events/session", nil)
	stream := p.do(req)
	defer stream.Body.Close()
	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	reader := bufio.NewReader(stream.Body)
	if _, err := reader.ReadString('\n'); err != nil {
		t.Fatalf("stream preamble: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.api.deps.Bus.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp := p.postForm("/logout", nil)
	resp.Body.Close()

	var change session.Change
	if err := json.Unmarshal([]byte(nextEvent(t, reader, "session")), &change); err != nil {
		t.Fatal(err)
	}
	if change.Kind != session.TokenRemoved {
		t.Fatalf("change %+v", change)
	}
}

func TestUpvoteStream(t *testing.T) {
	p := newTestPortal(t)
	p.login()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/bulletins/1/upvotes", nil)
	stream := p.do(req)
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("status %d", stream.StatusCode)
	}
	reader := bufio.NewReader(stream.Body)

	deadline := time.Now().Add(2 * time.Second)
	for p.backend.Subscribers("1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.backend.PublishUpvotes("1", 5)

	var ev struct {
		BulletinID string `json:"bulletinId"`
		Count      int    `json:"count"`
	}
	if err := json.Unmarshal([]byte(nextEvent(t, reader, "upvotes")), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.BulletinID != "1" || ev.Count != 5 {
		t.Fatalf("event %+v", ev)
	}

	cancel()
	deadline = time.Now().Add(2 * time.Second)
	for p.backend.Subscribers("1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener not closed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUpvoteStreamEndsWhenBackendDrops(t *testing.T) {
	p := newTestPortal(t)
	p.login()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/bulletins/2/upvotes", nil)
	stream := p.do(req)
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("status %d", stream.StatusCode)
	}
	reader := bufio.NewReader(stream.Body)

	deadline := time.Now().Add(2 * time.Second)
	for p.backend.Subscribers("2") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listener never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := p.backend.DropSubscribers("2"); n != 1 {
		t.Fatalf("dropped %d sockets", n)
	}

	var ev struct {
		BulletinID string `json:"bulletinId"`
	}
	if err := json.Unmarshal([]byte(nextEvent(t, reader, "upvotes_closed")), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.BulletinID != "2" {
		t.Fatalf("event %+v", ev)
	}
	if _, err := io.ReadAll(reader); err != nil {
		t.Fatalf("stream did not end: %v", err)
	}
}

func TestBulletinsPage(t *testing.T) {
	p := newTestPortal(t)
	p.login()

	resp := p.get("/bulletins")
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Lost and found moved") || !strings.Contains(body, `data-bulletin="1"`) {
		t.Fatalf("bulletins: %d", resp.StatusCode)
	}
}

func TestIncidentNotFound(t *testing.T) {
	p := newTestPortal(t)
	p.login()

	resp := p.get("/incidents/WW-00000000-9999")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestUnknownPathsAreProtected(t *testing.T) {
	p := newTestPortal(t)

	for _, path := range []string{"/reports/archive", "/leaderboard", "/incidents", "/login/"} {
		resp := p.get(path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
			t.Fatalf("anonymous GET %s: status %d location %q", path, resp.StatusCode, resp.Header.Get("Location"))
		}
	}

	p.login()
	resp := p.get("/reports/archive")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("signed-in GET unknown path: %d", resp.StatusCode)
	}
	resp = p.get("/incidents")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("signed-in GET /incidents: %d", resp.StatusCode)
	}
}

func TestAssetsArePublic(t *testing.T) {
	p := newTestPortal(t)
	resp := p.get("/assets/app.css")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("asset: %d", resp.StatusCode)
	}
}
