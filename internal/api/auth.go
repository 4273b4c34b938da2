package api

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"esports-insights/internal/review"
)

const (
	// Session cookie name
	SessionCookieName = "esports_insights_session"

	// DefaultSessionTTL applies when AuthOptions.SessionTTL is zero
	DefaultSessionTTL = 24 * time.Hour

	CookieHTTPOnly = true
	CookieSameSite = http.SameSiteLaxMode
)

// ErrInvalidToken is returned by Login for an unknown token
var ErrInvalidToken = errors.New("invalid token")

// Session is an authenticated reviewer session
type Session struct {
	Reviewer  review.Reviewer `json:"reviewer"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// AuthOptions configures an Authenticator
type AuthOptions struct {
	// Tokens are "token:reviewerID:role" entries
	Tokens     []string
	Secret     string
	SessionTTL time.Duration
	Secure     bool
	Now        func() time.Time
}

// Authenticator maps static reviewer tokens to signed session cookies
type Authenticator struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	tokens    map[string]review.Reviewer
	secretKey []byte
	ttl       time.Duration
	secure    bool
	now       func() time.Time
}

// ParseTokens parses "token:reviewerID:role" entries
func ParseTokens(entries []string) (map[string]review.Reviewer, error) {
	out := make(map[string]review.Reviewer, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed token entry %q, want token:id:role", entry)
		}
		out[parts[0]] = review.Reviewer{ID: parts[1], Role: review.ParseRole(parts[2])}
	}
	return out, nil
}

// NewAuthenticator creates an authenticator. An empty secret gets a random one,
// so sessions do not survive a restart.
func NewAuthenticator(opts AuthOptions) (*Authenticator, error) {
	tokens, err := ParseTokens(opts.Tokens)
	if err != nil {
		return nil, err
	}
	secretKey := []byte(opts.Secret)
	if len(secretKey) == 0 {
		secretKey = make([]byte, 32)
		if _, err := rand.Read(secretKey); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Authenticator{
		sessions:  make(map[string]*Session),
		tokens:    tokens,
		secretKey: secretKey,
		ttl:       ttl,
		secure:    opts.Secure,
		now:       now,
	}, nil
}

// lookupToken does a constant-time scan of the token table
func (a *Authenticator) lookupToken(token string) (review.Reviewer, bool) {
	var found review.Reviewer
	ok := false
	for known, r := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			found, ok = r, true
		}
	}
	return found, ok
}

// Login exchanges a token for a new session id
func (a *Authenticator) Login(token string) (string, *Session, error) {
	reviewer, ok := a.lookupToken(strings.TrimSpace(token))
	if !ok {
		return "", nil, ErrInvalidToken
	}

	sessionID, err := generateSessionID()
	if err != nil {
		return "", nil, err
	}
	now := a.now()
	session := &Session{Reviewer: reviewer, CreatedAt: now, ExpiresAt: now.Add(a.ttl)}

	a.mu.Lock()
	a.pruneLocked(now)
	a.sessions[sessionID] = session
	a.mu.Unlock()

	log.Printf("🔐 Session created for %s (%s)", reviewer.ID, reviewer.Role)
	return sessionID, session, nil
}

func (a *Authenticator) pruneLocked(now time.Time) {
	for id, s := range a.sessions {
		if now.After(s.ExpiresAt) {
			delete(a.sessions, id)
		}
	}
}

// GetSession returns a live session or nil
func (a *Authenticator) GetSession(sessionID string) *Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[sessionID]
	if !ok || a.now().After(s.ExpiresAt) {
		return nil
	}
	return s
}

// DeleteSession removes a session
func (a *Authenticator) DeleteSession(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}

// Principal resolves the caller from a bearer token or the session cookie
func (a *Authenticator) Principal(r *http.Request) (review.Reviewer, bool) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return a.lookupToken(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	}
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return review.Reviewer{}, false
	}
	sessionID, err := a.decodeCookie(cookie.Value)
	if err != nil {
		return review.Reviewer{}, false
	}
	s := a.GetSession(sessionID)
	if s == nil {
		return review.Reviewer{}, false
	}
	return s.Reviewer, true
}

// SetSessionCookie sets the signed session cookie on the response
func (a *Authenticator) SetSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    a.encodeCookie(sessionID),
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: CookieHTTPOnly,
		Secure:   a.secure,
		SameSite: CookieSameSite,
	})
}

// ClearSessionCookie removes the session cookie
func (a *Authenticator) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: CookieHTTPOnly,
		Secure:   a.secure,
		SameSite: CookieSameSite,
	})
}

// encodeCookie creates a signed cookie value
func (a *Authenticator) encodeCookie(sessionID string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(sessionID))
	signature := hex.EncodeToString(mac.Sum(nil))
	return base64.URLEncoding.EncodeToString([]byte(sessionID + "." + signature))
}

// decodeCookie verifies and extracts the session ID from cookie
func (a *Authenticator) decodeCookie(cookieValue string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(cookieValue)
	if err != nil {
		return "", fmt.Errorf("invalid cookie encoding")
	}
	parts := strings.SplitN(string(decoded), ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid cookie format")
	}
	sessionID, providedSig := parts[0], parts[1]

	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(sessionID))
	expectedSig := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(providedSig), []byte(expectedSig)) {
		return "", fmt.Errorf("invalid cookie signature")
	}
	return sessionID, nil
}

// generateSessionID creates a cryptographically random session ID
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

type principalKey struct{}

// localAdmin acts for every request when auth is disabled
var localAdmin = review.Reviewer{ID: "local", Role: review.RoleAdmin}

// withPrincipal resolves the caller once per request. A nil authenticator
// means auth is disabled.
func withPrincipal(a *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, localAdmin)))
				return
			}
			if p, ok := a.Principal(r); ok {
				r = r.WithContext(context.WithValue(r.Context(), principalKey{}, p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFrom(ctx context.Context) (review.Reviewer, bool) {
	p, ok := ctx.Value(principalKey{}).(review.Reviewer)
	return p, ok
}

// requireAuthenticated rejects callers with no principal
func requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := principalFrom(r.Context()); !ok {
			writeError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireReviewer rejects callers without a reviewer or admin role
func requireReviewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r.Context())
		if !ok {
			writeError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !p.CanReview() {
			writeError(w, review.ErrForbidden.Error(), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AuthStatus is the body of GET /api/auth/status
type AuthStatus struct {
	Enabled       bool   `json:"enabled"`
	Authenticated bool   `json:"authenticated"`
	ReviewerID    string `json:"reviewer_id,omitempty"`
	Role          string `json:"role,omitempty"`
}

func (a *Authenticator) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	sessionID, session, err := a.Login(req.Token)
	if err != nil {
		writeError(w, err.Error(), http.StatusUnauthorized)
		return
	}
	a.SetSessionCookie(w, sessionID)
	writeJSON(w, AuthStatus{
		Enabled:       true,
		Authenticated: true,
		ReviewerID:    session.Reviewer.ID,
		Role:          string(session.Reviewer.Role),
	})
}

func (a *Authenticator) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if sessionID, err := a.decodeCookie(cookie.Value); err == nil {
			a.DeleteSession(sessionID)
		}
	}
	a.ClearSessionCookie(w)
	writeJSON(w, map[string]bool{"success": true})
}

func handleAuthStatus(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := AuthStatus{Enabled: enabled}
		if p, ok := principalFrom(r.Context()); ok {
			status.Authenticated = true
			status.ReviewerID = p.ID
			status.Role = string(p.Role)
		}
		writeJSON(w, status)
	}
}
