// Package backendtest is an in-memory stand-in for the WildWatch backend:
// REST endpoints plus the WebSocket upvote topic. Tests and cmd/devbackend use it.
package backendtest

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"wildwatch.app/internal/backend"
)

// User is an account known to the fake backend.
type User struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	SchoolID   string
	Role       string
	OfficeCode *string
}

type subscribeFrame struct {
	Type        string `json:"type"`
	Destination string `json:"destination"`
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

var topicPattern = regexp.MustCompile(`^/topic/bulletins/([^/]+)/upvotes$`)

// Server implements the backend endpoints consumed by the portal.
type Server struct {
	mu            sync.Mutex
	users         map[string]User
	tokens        map[string]string
	verifications map[string]string
	incidents     map[string]backend.Incident
	bulletins     []backend.Bulletin
	topics        map[string]map[*wsConn]struct{}
	subscribes    map[string]int
	calls         map[string]int
	failNext      map[string]int
	logoutStatus  int
	seq           int

	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

func New() *Server {
	s := &Server{
		users:         make(map[string]User),
		tokens:        make(map[string]string),
		verifications: make(map[string]string),
		incidents:     make(map[string]backend.Incident),
		topics:        make(map[string]map[*wsConn]struct{}),
		subscribes:    make(map[string]int),
		calls:         make(map[string]int),
		failNext:      make(map[string]int),
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		mux:           http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/auth/login", s.login)
	s.mux.HandleFunc("POST /api/auth/logout", s.logout)
	s.mux.HandleFunc("GET /api/auth/profile", s.authed(s.profile))
	s.mux.HandleFunc("GET /api/auth/verify-email", s.verifyEmail)
	s.mux.HandleFunc("POST /api/auth/reset-password-request", s.resetRequest)
	s.mux.HandleFunc("GET /api/incidents/in-progress", s.authed(s.inProgress))
	s.mux.HandleFunc("GET /api/incidents/{trackingNumber}", s.authed(s.incident))
	s.mux.HandleFunc("POST /api/incidents", s.authed(s.submitIncident))
	s.mux.HandleFunc("GET /api/bulletins", s.authed(s.listBulletins))
	s.mux.HandleFunc("POST /api/tags/generate", s.authed(s.generateTags))
	s.mux.HandleFunc("GET /ws", s.websocket)
	return s
}

// Handler returns the HTTP surface, counting calls and applying forced failures.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls[key]++
		status, forced := s.failNext[key]
		if forced {
			delete(s.failNext, key)
		}
		s.mu.Unlock()
		if forced {
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

// Start serves on a loopback httptest server; callers close it.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.Handler())
}

// WebsocketURL maps an http base URL of this server to its /ws endpoint.
func WebsocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[strings.ToLower(u.Email)] = u
}

// IssueToken signs u in without a password, as the OAuth callback would.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.NewString()
	s.tokens[token] = strings.ToLower(email)
	return token
}

// RevokeToken makes every later call with token answer 401.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// RevokeSessions revokes every token issued to email and reports how many.
func (s *Server) RevokeSessions(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, owner := range s.tokens {
		if owner == strings.ToLower(email) {
			delete(s.tokens, token)
			n++
		}
	}
	return n
}

// AddVerification registers an email verification token.
func (s *Server) AddVerification(token, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications[token] = email
}

// FailNext answers the next "METHOD /path" request with status.
func (s *Server) FailNext(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[method+" "+path] = status
}

// SetLogoutStatus makes logout answer status instead of 200.
func (s *Server) SetLogoutStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutStatus = status
}

// Calls reports how many times "METHOD /path" was requested.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func (s *Server) AddBulletin(b backend.Bulletin) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.bulletins = append(s.bulletins, b)
}

// AddIncident stores inc for the owner email.
func (s *Server) AddIncident(owner string, inc backend.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inc.ID = strings.ToLower(owner)
	s.incidents[inc.TrackingNumber] = inc
}

// Subscribes counts SUBSCRIBE frames received for a bulletin.
func (s *Server) Subscribes(bulletinID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribes[bulletinID]
}

// Subscribers counts currently open sockets on a bulletin topic.
func (s *Server) Subscribers(bulletinID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics[bulletinID])
}

// PublishUpvotes pushes count to every socket subscribed to the bulletin and
// returns how many received it.
func (s *Server) PublishUpvotes(bulletinID string, count int) int {
	return s.PublishRaw(bulletinID, map[string]string{"body": strconv.Itoa(count)})
}

// PublishRaw sends an arbitrary frame on the bulletin topic.
func (s *Server) PublishRaw(bulletinID string, frame any) int {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.topics[bulletinID]))
	for c := range s.topics[bulletinID] {
		conns = append(conns, c)
	}
	for i := range s.bulletins {
		if s.bulletins[i].IDString() == bulletinID {
			if m, ok := frame.(map[string]string); ok {
				if n, err := strconv.Atoi(m["body"]); err == nil {
					s.bulletins[i].UpvoteCount = n
				}
			}
		}
	}
	s.mu.Unlock()

	delivered := 0
	for _, c := range conns {
		if err := c.write(frame); err == nil {
			delivered++
		}
	}
	return delivered
}

// DropSubscribers closes every socket on the bulletin topic without a close
// frame, as a backend restart would, and returns how many were dropped.
func (s *Server) DropSubscribers(bulletinID string) int {
	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.topics[bulletinID]))
	for c := range s.topics[bulletinID] {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		_ = c.conn.Close()
		c.mu.Unlock()
	}
	return len(conns)
}

// SeedDemo loads a student, an office admin and a few bulletins.
func (s *Server) SeedDemo() {
	office := "OSA"
	s.AddUser(User{Email: "student@cit.edu", Password: "wildcats", FirstName: "Juan", LastName: "Dela Cruz", SchoolID: "21-1234-567", Role: "student"})
	s.AddUser(User{Email: "osa@cit.edu", Password: "wildcats", FirstName: "Maria", LastName: "Santos", SchoolID: "00-0001-001", Role: "ROLE_OFFICE_ADMIN", OfficeCode: &office})
	s.AddBulletin(backend.Bulletin{ID: 1, Title: "Lost and found moved", Content: "The lost and found desk is now at the GLE lobby.", AuthorName: "OSA"})
	s.AddBulletin(backend.Bulletin{ID: 2, Title: "Flooding near RTL", Content: "Avoid the RTL parking area until further notice.", AuthorName: "SSO"})
	s.AddIncident("student@cit.edu", backend.Incident{TrackingNumber: "WW-20240301-0001", IncidentType: "Theft", Location: "Library", Description: "Bag stolen", Status: "In Progress", SubmittedAt: time.Now().UTC()})
}

// StartDemo bumps a random bulletin's upvotes every interval until stop is called.
func (s *Server) StartDemo(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.mu.Lock()
				if len(s.bulletins) == 0 {
					s.mu.Unlock()
					continue
				}
				b := s.bulletins[rnd.Intn(len(s.bulletins))]
				s.mu.Unlock()
				s.PublishUpvotes(b.IDString(), b.UpvoteCount+1)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// --- handlers ---

func (s *Server) authed(next func(http.ResponseWriter, *http.Request, User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		s.mu.Lock()
		email, ok := s.tokens[token]
		user := s.users[email]
		s.mu.Unlock()
		if token == "" || !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r, user)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	s.mu.Lock()
	u, ok := s.users[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if !ok || u.Password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": s.IssueToken(u.Email)})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := s.logoutStatus
	if status == 0 {
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		delete(s.tokens, token)
		status = http.StatusOK
	}
	s.mu.Unlock()
	writeJSON(w, status, map[string]string{"status": http.StatusText(status)})
}

func (s *Server) profile(w http.ResponseWriter, _ *http.Request, u User) {
	body := map[string]any{
		"firstName":      u.FirstName,
		"lastName":       u.LastName,
		"schoolIdNumber": u.SchoolID,
		"email":          u.Email,
		"role":           u.Role,
	}
	if u.OfficeCode != nil {
		body["officeCode"] = *u.OfficeCode
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	s.mu.Lock()
	_, ok := s.verifications[token]
	delete(s.verifications, token)
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid or expired token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *Server) resetRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) inProgress(w http.ResponseWriter, _ *http.Request, u User) {
	s.mu.Lock()
	out := []backend.Incident{}
	for _, inc := range s.incidents {
		if inc.ID == strings.ToLower(u.Email) && inc.Status != "Resolved" {
			out = append(out, inc)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TrackingNumber < out[j].TrackingNumber })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) incident(w http.ResponseWriter, r *http.Request, u User) {
	s.mu.Lock()
	inc, ok := s.incidents[r.PathValue("trackingNumber")]
	s.mu.Unlock()
	if !ok || inc.ID != strings.ToLower(u.Email) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) submitIncident(w http.ResponseWriter, r *http.Request, u User) {
	var sub backend.IncidentSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.seq++
	inc := backend.Incident{
		ID:             strings.ToLower(u.Email),
		TrackingNumber: fmt.Sprintf("WW-%s-%04d", now.Format("20060102"), s.seq),
		IncidentType:   sub.IncidentType,
		Location:       sub.Location,
		Description:    sub.Description,
		DateOfIncident: sub.DateOfIncident,
		Status:         "Pending",
		SubmittedAt:    now,
		Tags:           sub.Tags,
	}
	for _, ev := range sub.Evidence {
		inc.Evidence = append(inc.Evidence, backend.EvidenceRef{FileName: ev.FileName, ContentType: ev.ContentType, Size: ev.Size})
	}
	s.incidents[inc.TrackingNumber] = inc
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, inc)
}

func (s *Server) listBulletins(w http.ResponseWriter, _ *http.Request, _ User) {
	s.mu.Lock()
	out := append([]backend.Bulletin{}, s.bulletins...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) generateTags(w http.ResponseWriter, r *http.Request, _ User) {
	var req backend.TagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Description) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "description required"})
		return
	}
	seen := map[string]bool{}
	var tags []string
	for _, word := range strings.Fields(strings.ToLower(req.Description + " " + req.Location)) {
		word = strings.Trim(word, ".,;:!?\"'()")
		if len(word) < 4 || seen[word] {
			continue
		}
		seen[word] = true
		tags = append(tags, word)
		if len(tags) == 5 {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}

func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsConn{conn: conn}
	defer conn.Close()

	var bulletinID string
	defer func() {
		if bulletinID == "" {
			return
		}
		s.mu.Lock()
		delete(s.topics[bulletinID], c)
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame subscribeFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "SUBSCRIBE" {
			continue
		}
		m := topicPattern.FindStringSubmatch(frame.Destination)
		if m == nil || bulletinID != "" {
			continue
		}
		bulletinID = m[1]
		s.mu.Lock()
		if s.topics[bulletinID] == nil {
			s.topics[bulletinID] = make(map[*wsConn]struct{})
		}
		s.topics[bulletinID][c] = struct{}{}
		s.subscribes[bulletinID]++
		s.mu.Unlock()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
