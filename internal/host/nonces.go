package host

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// NonceStore issues single-use form tokens bound to a user
type NonceStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

// NewNonceStore creates a store holding at most size live nonces for ttl each
func NewNonceStore(size int, ttl time.Duration) *NonceStore {
	return &NonceStore{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func nonceKey(user, nonce string) string {
	return user + "\x00" + nonce
}

// Issue returns a fresh nonce for user
func (s *NonceStore) Issue(user string) string {
	nonce := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(nonceKey(user, nonce), struct{}{})
	return nonce
}

// Consume reports whether nonce was issued to user and is still live. A nonce
// is accepted at most once.
func (s *NonceStore) Consume(user, nonce string) bool {
	if nonce == "" {
		return false
	}
	key := nonceKey(user, nonce)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache.Get(key); !ok {
		return false
	}
	s.cache.Remove(key)
	return true
}
