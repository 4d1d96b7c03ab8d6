// Package session issues and tracks server-side session tokens and enforces
// the per-endpoint-class rate limits the HTTP control plane depends on.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultIdleTTL is how long a session may go unused before it expires.
const DefaultIdleTTL = 30 * time.Minute

// Token is an opaque, server-issued session identifier.
type Token struct {
	Value      string    `json:"token"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Manager tracks live session tokens with idle-TTL expiry.
type Manager struct {
	mu      sync.Mutex
	idleTTL time.Duration
	tokens  map[string]*Token
}

// NewManager constructs a Manager with the given idle TTL (DefaultIdleTTL if
// zero).
func NewManager(idleTTL time.Duration) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Manager{idleTTL: idleTTL, tokens: make(map[string]*Token)}
}

// Issue mints a new session token.
func (m *Manager) Issue() (Token, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return Token{}, err
	}
	now := time.Now()
	tok := &Token{Value: hex.EncodeToString(raw), CreatedAt: now, LastSeenAt: now}

	m.mu.Lock()
	m.tokens[tok.Value] = tok
	m.mu.Unlock()

	return *tok, nil
}

// Touch validates value and, if valid and unexpired, refreshes its
// last-seen time and reports true. An unknown or idle-expired token is
// evicted and reported invalid.
func (m *Manager) Touch(value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok, ok := m.tokens[value]
	if !ok {
		return false
	}
	if time.Since(tok.LastSeenAt) > m.idleTTL {
		delete(m.tokens, value)
		return false
	}
	tok.LastSeenAt = time.Now()
	return true
}

// Revoke invalidates a session token (logout).
func (m *Manager) Revoke(value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, value)
}

// Class identifies a rate-limit bucket for one endpoint category.
type Class string

const (
	ClassRead     Class = "read"
	ClassMutation Class = "mutation"
)

// Limiter enforces the control plane's default per-endpoint-class budgets:
// 60 req/min for reads, 10 req/min for mutations.
type Limiter struct {
	mu       sync.Mutex
	perToken map[string]map[Class]*rate.Limiter
	reads    rate.Limit
	readBur  int
	muts     rate.Limit
	mutBur   int
}

// NewLimiter constructs a Limiter with the spec's default budgets.
func NewLimiter() *Limiter {
	return &Limiter{
		perToken: make(map[string]map[Class]*rate.Limiter),
		reads:    rate.Limit(60.0 / 60.0),
		readBur:  60,
		muts:     rate.Limit(10.0 / 60.0),
		mutBur:   10,
	}
}

// Allow reports whether a request in the given class, for the given
// identity (session token value, or a fixed key for unauthenticated
// callers), is within budget.
func (l *Limiter) Allow(identity string, class Class) bool {
	return l.limiterFor(identity, class).Allow()
}

func (l *Limiter) limiterFor(identity string, class Class) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	byClass, ok := l.perToken[identity]
	if !ok {
		byClass = make(map[Class]*rate.Limiter)
		l.perToken[identity] = byClass
	}
	lim, ok := byClass[class]
	if !ok {
		if class == ClassMutation {
			lim = rate.NewLimiter(l.muts, l.mutBur)
		} else {
			lim = rate.NewLimiter(l.reads, l.readBur)
		}
		byClass[class] = lim
	}
	return lim
}
