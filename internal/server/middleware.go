package server

import (
	"net/http"

	"github.com/kiteflow/trader/internal/session"
)

// sessionTokenHeader is where callers present a previously-issued session
// token; unauthenticated requests are rate-limited under a fixed identity.
const sessionTokenHeader = "X-Session-Token"

const anonymousIdentity = "anonymous"

func (s *Server) identity(r *http.Request) string {
	if tok := r.Header.Get(sessionTokenHeader); tok != "" {
		return tok
	}
	return anonymousIdentity
}

// rateLimited enforces the per-endpoint-class budget for the caller's
// identity and, for ClassMutation routes, also requires a valid session
// token (401 auth-required otherwise).
func (s *Server) rateLimited(class session.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := s.identity(r)
			if !s.limiter.Allow(identity, class) {
				w.Header().Set("Retry-After", "1")
				s.writeError(w, http.StatusTooManyRequests, "rate-limited", "request budget exceeded for this endpoint class")
				return
			}
			if class == session.ClassMutation {
				tok := r.Header.Get(sessionTokenHeader)
				if tok == "" || !s.sessions.Touch(tok) {
					s.writeError(w, http.StatusUnauthorized, "auth-required", "a valid session token is required")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
