// Package identity maps requests to agent identities. Signing in issues a
// short login code carried in a cookie; API clients may exchange the code
// for a bearer token. Both resolve to the agent's user name.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"

	"github.com/opencx/agentsim/internal/directory"
)

const (
	// CodeCookieName is the login-code cookie set after sign-in.
	CodeCookieName = "WWE_CODE"
	// RedirectCookieName remembers the client redirect target across the
	// sign-in handshake.
	RedirectCookieName = "WWE_URI"
)

type contextKey int

const identityKey contextKey = iota

// IdentityFromContext extracts the agent user name from the request
// context, or "" when the request is unauthenticated.
func IdentityFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(identityKey).(string); ok {
		return v
	}
	return ""
}

// WithIdentity returns a context carrying the agent user name.
func WithIdentity(ctx context.Context, userName string) context.Context {
	return context.WithValue(ctx, identityKey, userName)
}

// Manager owns the login-code and bearer-token tables.
type Manager struct {
	mu     sync.Mutex
	dir    *directory.Directory
	codes  map[string]string // login code -> user name
	tokens map[string]string // bearer token -> user name
}

// NewManager creates an identity manager over the agent directory.
func NewManager(dir *directory.Directory) *Manager {
	return &Manager{
		dir:    dir,
		codes:  make(map[string]string),
		tokens: make(map[string]string),
	}
}

// SignIn validates credentials against the directory and issues a login
// code. Agents with no configured password accept any password.
func (m *Manager) SignIn(userName, password string) (string, bool) {
	agent := m.dir.ByIdentity(userName)
	if agent == nil {
		return "", false
	}
	if agent.Password != "" && agent.Password != password {
		return "", false
	}
	code := randomCode(4)
	m.mu.Lock()
	m.codes[code] = userName
	m.mu.Unlock()
	return code, true
}

// Resolve returns the user name behind a login code, or "".
func (m *Manager) Resolve(code string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[code]
}

// IssueToken exchanges a login code for a bearer token.
func (m *Manager) IssueToken(code string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userName, ok := m.codes[code]
	if !ok {
		return "", false
	}
	token := randomCode(16)
	m.tokens[token] = userName
	return token, true
}

// IssueTokenFor issues a bearer token directly for a user name, used by the
// password grant.
func (m *Manager) IssueTokenFor(userName string) string {
	token := randomCode(16)
	m.mu.Lock()
	m.tokens[token] = userName
	m.mu.Unlock()
	return token
}

// ResolveToken returns the user name behind a bearer token, or "".
func (m *Manager) ResolveToken(token string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[token]
}

// SignOut invalidates a login code. Tokens issued from it stay valid until
// process shutdown, matching the permissive simulator contract.
func (m *Manager) SignOut(code string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	userName := m.codes[code]
	delete(m.codes, code)
	return userName
}

// FromRequest resolves the agent identity of a request: login-code cookie
// first, then a bearer token, then an explicit code query parameter.
func (m *Manager) FromRequest(r *http.Request) string {
	if c, err := r.Cookie(CodeCookieName); err == nil {
		if userName := m.Resolve(c.Value); userName != "" {
			return userName
		}
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if userName := m.ResolveToken(parts[1]); userName != "" {
				return userName
			}
		}
	}
	if code := r.URL.Query().Get("code"); code != "" {
		return m.Resolve(code)
	}
	return ""
}

// Middleware resolves the request identity and injects it into the context.
// Unresolved requests pass through anonymous; handlers that require an
// identity reject them individually.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userName := m.FromRequest(r); userName != "" {
			r = r.WithContext(WithIdentity(r.Context(), userName))
		}
		next.ServeHTTP(w, r)
	})
}

func randomCode(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform source is broken.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
