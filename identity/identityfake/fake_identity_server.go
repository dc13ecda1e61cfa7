// Package identityfake is an in-process identity boundary and protected API for tests.
package identityfake

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// SigningKey signs JWT access tokens when JWTAccessTokens is enabled
var SigningKey = []byte("identityfake-signing-key")

// Protected API routes served next to the identity endpoints
const (
	RouteData = "/data"
	RouteEcho = "/echo"
)

// Anti-forgery cookie and header checked in DjangoSessions mode
const (
	CSRFCookie = "csrftoken"
	CSRFHeader = "X-CSRFToken"
)

// User is an account known to the fake
type User struct {
	ID       int
	Username string
	Email    string
	Password string
	Role     string
}

// Server is an httptest identity boundary with call counters and failure switches.
// Paths match config defaults: /login /register /refresh /logout /me.
type Server struct {
	*httptest.Server

	LoginCalls    atomic.Int64
	RegisterCalls atomic.Int64
	RefreshCalls  atomic.Int64
	LogoutCalls   atomic.Int64
	MeCalls       atomic.Int64
	APICalls      atomic.Int64
	CSRFCalls     atomic.Int64

	mu      sync.Mutex
	users   map[string]*User
	access  map[string]string // access token -> username
	refresh map[string]string // refresh token -> username
	csrf    map[string]bool
	nextID  int
	seq     atomic.Int64

	// Switches, set before issuing calls
	RotateRefreshTokens   bool          // issue a new refresh token on every refresh
	JWTAccessTokens       bool          // issue HS256 JWT access tokens carrying identity claims
	RegisterReturnsTokens bool          // sign the user in on register
	RefreshStatus         int           // non-zero forces /refresh to answer with this status
	RefreshOmitsAccess    bool          // /refresh answers 200 without access_token
	RefreshDelay          time.Duration // hold /refresh open, widening the concurrency window
	LogoutStatus          int           // non-zero forces /logout to answer with this status
	LogoutDelay           time.Duration
	LoginStatus           int // non-zero forces /login to answer with this status
	SessionCookie         string
	// DjangoSessions answers login with the user and a session Set-Cookie instead of
	// tokens, and rejects unsafe calls whose X-CSRFToken does not match the csrftoken cookie
	DjangoSessions bool
}

// New starts the fake and stops it when the test ends
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		users:         make(map[string]*User),
		access:        make(map[string]string),
		refresh:       make(map[string]string),
		csrf:          make(map[string]bool),
		SessionCookie: "sessionid",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /me", s.handleMe)
	mux.HandleFunc("GET /csrf", s.handleCSRF)
	mux.HandleFunc("GET "+RouteData, s.handleData)
	mux.HandleFunc("POST "+RouteEcho, s.handleEcho)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddUser registers an account and returns it
func (s *Server) AddUser(username, password, role string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := &User{ID: s.nextID, Username: username, Email: username + "@example.com", Password: password, Role: role}
	s.users[username] = u
	return u
}

// Issue mints credentials for a known user without going through /login
func (s *Server) Issue(username string) (accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(s.users[username])
}

// ExpireAccessTokens invalidates every outstanding access token, as if they timed out
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]string)
}

// RevokeRefreshTokens invalidates every outstanding refresh token
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = make(map[string]string)
}

// AccessTokenValid reports whether token would be accepted by the protected API
func (s *Server) AccessTokenValid(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.access[token]
	return ok
}

func (s *Server) issueLocked(u *User) (string, string) {
	n := s.seq.Add(1)
	accessToken := fmt.Sprintf("access-%d", n)
	if s.JWTAccessTokens {
		claims := jwtlib.MapClaims{
			"user_id":  u.ID,
			"username": u.Username,
			"role":     u.Role,
			"exp":      time.Now().Add(15 * time.Minute).Unix(),
			"jti":      fmt.Sprintf("%d", n),
		}
		signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(SigningKey)
		if err == nil {
			accessToken = signed
		}
	}
	refreshToken := fmt.Sprintf("refresh-%d", n)
	s.access[accessToken] = u.Username
	s.refresh[refreshToken] = u.Username
	return accessToken, refreshToken
}

func (s *Server) loginBody(u *User, accessToken, refreshToken string) map[string]any {
	body := map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user_id":       u.ID,
		"username":      u.Username,
		"expires_in":    900,
	}
	if u.Role != "" {
		body["role"] = u.Role
	}
	return body
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.LoginCalls.Add(1)
	if s.LoginStatus != 0 {
		writeJSON(w, s.LoginStatus, map[string]string{"detail": "forced failure"})
		return
	}
	if !s.checkCSRF(w, r) {
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	if !ok || u.Password != req.Password {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "user not found or wrong password"})
		return
	}
	accessToken, refreshToken := s.issueLocked(u)
	if s.DjangoSessions {
		delete(s.refresh, refreshToken)
		s.rotateCSRFLocked(w, r)
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{
			Name:     s.SessionCookie,
			Value:    accessToken,
			Path:     "/",
			HttpOnly: true,
			Expires:  time.Now().Add(14 * 24 * time.Hour),
		})
		writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "username": u.Username})
		return
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, s.loginBody(u, accessToken, refreshToken))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.RegisterCalls.Add(1)
	if !s.checkCSRF(w, r) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || len(req.Password) < 6 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid registration"})
		return
	}

	s.mu.Lock()
	if _, exists := s.users[req.Username]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "username already exists"})
		return
	}
	s.nextID++
	u := &User{ID: s.nextID, Username: req.Username, Email: req.Email, Password: req.Password, Role: "User"}
	s.users[u.Username] = u
	var body map[string]any
	if s.RegisterReturnsTokens && !s.DjangoSessions {
		accessToken, refreshToken := s.issueLocked(u)
		body = s.loginBody(u, accessToken, refreshToken)
	} else {
		body = map[string]any{"user_id": u.ID, "username": u.Username}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.RefreshCalls.Add(1)
	if s.RefreshDelay > 0 {
		time.Sleep(s.RefreshDelay)
	}
	if s.RefreshStatus != 0 {
		writeJSON(w, s.RefreshStatus, map[string]string{"detail": "forced failure"})
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid body"})
		return
	}
	if s.RefreshOmitsAccess {
		writeJSON(w, http.StatusOK, map[string]any{"expires_in": 900})
		return
	}

	s.mu.Lock()
	username, ok := s.refresh[req.RefreshToken]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "refresh token invalid or expired"})
		return
	}
	u := s.users[username]
	accessToken, newRefresh := s.issueLocked(u)
	body := map[string]any{"access_token": accessToken, "expires_in": 900}
	if s.RotateRefreshTokens {
		delete(s.refresh, req.RefreshToken)
		body["refresh_token"] = newRefresh
	} else {
		delete(s.refresh, newRefresh)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.LogoutCalls.Add(1)
	if s.LogoutDelay > 0 {
		select {
		case <-time.After(s.LogoutDelay):
		case <-r.Context().Done():
			return
		}
	}
	if s.LogoutStatus != 0 {
		writeJSON(w, s.LogoutStatus, map[string]string{"detail": "forced failure"})
		return
	}
	if !s.checkCSRF(w, r) {
		return
	}

	token := s.credential(r)
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	delete(s.access, token)
	delete(s.refresh, req.RefreshToken)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"detail": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	s.MeCalls.Add(1)
	u, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "authentication credentials were not provided"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  u.ID,
		"username": u.Username,
		"email":    u.Email,
		"role":     u.Role,
	})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.APICalls.Add(1)
	u, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": u.Username, "token": s.credential(r)})
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	s.APICalls.Add(1)
	if _, ok := s.authenticate(r); !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
		return
	}
	if !s.checkCSRF(w, r) {
		return
	}
	body, _ := io.ReadAll(r.Body)
	writeJSON(w, http.StatusOK, map[string]any{
		"body":       string(body),
		"token":      s.credential(r),
		"request_id": r.Header.Get("X-Request-ID"),
		"custom":     r.Header.Get("X-Custom"),
	})
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	s.CSRFCalls.Add(1)
	s.mu.Lock()
	s.rotateCSRFLocked(w, r)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"detail": "CSRF cookie set"})
}

// rotateCSRFLocked retires the request's token and sets a new csrftoken cookie
func (s *Server) rotateCSRFLocked(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CSRFCookie); err == nil {
		delete(s.csrf, c.Value)
	}
	token := fmt.Sprintf("csrf-%d", s.seq.Add(1))
	s.csrf[token] = true
	http.SetCookie(w, &http.Cookie{Name: CSRFCookie, Value: token, Path: "/"})
}

// checkCSRF writes a 403 and reports false when an unsafe call is not CSRF protected
func (s *Server) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	if !s.DjangoSessions {
		return true
	}
	c, err := r.Cookie(CSRFCookie)
	s.mu.Lock()
	known := err == nil && s.csrf[c.Value]
	s.mu.Unlock()
	if !known || r.Header.Get(CSRFHeader) != c.Value {
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "CSRF Failed: CSRF token missing or incorrect."})
		return false
	}
	return true
}

func (s *Server) authenticate(r *http.Request) (*User, bool) {
	token := s.credential(r)
	if token == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.access[token]
	if !ok {
		return nil, false
	}
	return s.users[username], true
}

// credential reads a bearer token, falling back to the session cookie
func (s *Server) credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie(s.SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
