package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type contextKey struct{}

// TokenAuthenticator resolves bearer tokens to employee ids. The token
// table comes from configuration and can be swapped at runtime.
type TokenAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]string
	logger *zap.Logger
}

// NewTokenAuthenticator creates an authenticator over token -> employee id
func NewTokenAuthenticator(tokens map[string]string, logger *zap.Logger) *TokenAuthenticator {
	a := &TokenAuthenticator{logger: logger}
	a.SetTokens(tokens)
	return a
}

// SetTokens replaces the token table
func (a *TokenAuthenticator) SetTokens(tokens map[string]string) {
	copied := make(map[string]string, len(tokens))
	for token, employeeID := range tokens {
		if token == "" || employeeID == "" {
			continue
		}
		copied[token] = employeeID
	}

	a.mu.Lock()
	a.tokens = copied
	a.mu.Unlock()

	a.logger.Debug("Token table loaded", zap.Int("count", len(copied)))
}

// Authenticate returns the employee behind the request's token. Browsers
// cannot set headers on websocket upgrades, so an access_token query
// parameter is accepted as well.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (string, bool) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		return "", false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	for candidate, employeeID := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return employeeID, true
		}
	}
	return "", false
}

// WithEmployee stores the authenticated employee id on ctx
func WithEmployee(ctx context.Context, employeeID string) context.Context {
	return context.WithValue(ctx, contextKey{}, employeeID)
}

// EmployeeID returns the authenticated employee id stored on ctx
func EmployeeID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
