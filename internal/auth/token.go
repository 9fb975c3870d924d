// Package auth holds the short-lived bearer credentials the registry issues
// for a test session and for each supporting-document upload.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/esvtools/esvsync/internal/log"
)

// DefaultLifetime is assumed for credentials that carry no exp claim.
// The registry rotates session tokens roughly every 30 minutes.
const DefaultLifetime = 30 * time.Minute

// ErrExpired indicates a stored credential can no longer authenticate
// requests and the operator has to obtain a fresh one.
var ErrExpired = errors.New("access token expired")

// Token is a bearer credential plus its issuance timestamp. A token is
// exclusively owned by the stage that is currently submitting with it;
// the mutex only guards against accidental cross-stage reads.
type Token struct {
	mu       sync.Mutex
	value    string
	issuedAt time.Time
}

// New creates a token issued now.
func New(value string) *Token {
	return &Token{value: value, issuedAt: time.Now()}
}

// Restore rebuilds a token from persisted state.
func Restore(value string, issuedAt time.Time) *Token {
	return &Token{value: value, issuedAt: issuedAt}
}

// Value returns the credential string.
func (t *Token) Value() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// IssuedAt returns the issuance timestamp.
func (t *Token) IssuedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.issuedAt
}

// Replace overwrites the credential with a renewed one from the registry.
// The issuance timestamp is reset to now.
func (t *Token) Replace(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = value
	t.issuedAt = time.Now()
	log.Debug(log.CatAuth, "Access token replaced")
}

// Duplicate returns an independent copy carrying the same credential and
// issuance time. Used to propagate the session token decoded from the
// status file into the context used for stage submissions.
func (t *Token) Duplicate() *Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Token{value: t.value, issuedAt: t.issuedAt}
}

// CopyFrom overwrites this token with the credential and issuance time of
// another token.
func (t *Token) CopyFrom(src *Token) {
	if src == nil {
		return
	}
	value := src.Value()
	issued := src.IssuedAt()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = value
	t.issuedAt = issued
}

// Usable reports whether the credential can still authenticate a request.
// Registry credentials are JWTs; when the exp claim is readable it is
// authoritative. Opaque tokens fall back to issuance age against the
// given lifetime (DefaultLifetime when zero).
func (t *Token) Usable(lifetime time.Duration) bool {
	t.mu.Lock()
	value := t.value
	issued := t.issuedAt
	t.mu.Unlock()

	if value == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(value, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return time.Now().Before(exp.Time)
		}
	}

	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return time.Since(issued) < lifetime
}
