package live

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// stateStore tracks outstanding OAuth state nonces. A nonce is not tied to
// the session that requested it: any callback presenting an outstanding,
// unexpired nonce is accepted. A nonce is consumed (single use) on a
// successful or stale callback, per the spec's "repeat callback with the
// same state returns 400 stale-state" requirement.
type stateStore struct {
	mu     sync.Mutex
	active map[string]time.Time
}

func newStateStore() *stateStore {
	return &stateStore{active: map[string]time.Time{}}
}

const stateTTL = 10 * time.Minute

// Issue mints a new state nonce and records it as outstanding.
func (s *stateStore) Issue() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauth: generate state: %w", err)
	}
	state := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[state] = time.Now().Add(stateTTL)
	return state, nil
}

// Consume validates and removes state, returning false if it is unknown,
// stale, or already consumed.
func (s *stateStore) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.active[state]
	if !ok {
		return false
	}
	delete(s.active, state)
	return time.Now().Before(expiry)
}

// AuthorizationURL builds the vendor login redirect URL for apiKey bound to state.
func AuthorizationURL(baseLoginURL, apiKey, state string) string {
	v := url.Values{}
	v.Set("api_key", apiKey)
	v.Set("state", state)
	return baseLoginURL + "?" + v.Encode()
}
