package host

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Severity of an admin notice
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
)

// Notice is a message shown once on the next admin page render
type Notice struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// NoticeStore keeps pending notices per user until drained or expired
type NoticeStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, []Notice]
}

// NewNoticeStore creates a store that forgets a user's notices after ttl
func NewNoticeStore(size int, ttl time.Duration) *NoticeStore {
	return &NoticeStore{cache: expirable.NewLRU[string, []Notice](size, nil, ttl)}
}

// Add queues notice for user
func (s *NoticeStore) Add(user string, notice Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, _ := s.cache.Get(user)
	pending = append(append([]Notice(nil), pending...), notice)
	s.cache.Add(user, pending)
}

// Drain returns and forgets every pending notice for user
func (s *NoticeStore) Drain(user string) []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.cache.Get(user)
	if !ok {
		return nil
	}
	s.cache.Remove(user)
	return pending
}
