// Package idempotency guards non-repeatable write endpoints with the
// Idempotency-Key header.
package idempotency

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// DefaultTTL is how long a completed response remains replayable.
const DefaultTTL = 24 * time.Hour

// Entry is the stored state of one idempotency key. A pending entry has been
// reserved by a request that has not finished yet.
type Entry struct {
	Key        string      `json:"key"`
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	Pending    bool        `json:"pending"`
	StatusCode int         `json:"status_code,omitempty"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Store persists idempotency entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Reserve claims key for method and path. When the key is already
	// claimed it returns the existing entry and false.
	Reserve(ctx context.Context, key, method, path string) (*Entry, bool, error)
	// Complete records the final response for a reserved key.
	Complete(ctx context.Context, entry *Entry) error
	// Release drops a reservation so the key can be retried.
	Release(ctx context.Context, key string) error
}

// MemoryStore is an in-process Store with TTL expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	nowFunc func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore returns a MemoryStore and starts its hourly eviction loop.
// A non-positive ttl selects DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		nowFunc: time.Now,
		stop:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the eviction loop.
func (s *MemoryStore) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	for key, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) Reserve(_ context.Context, key, method, path string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if existing, ok := s.entries[key]; ok && !now.After(existing.ExpiresAt) {
		return copyEntry(existing), false, nil
	}

	s.entries[key] = &Entry{
		Key:       key,
		Method:    method,
		Path:      path,
		Pending:   true,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	return nil, true, nil
}

func (s *MemoryStore) Complete(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyEntry(entry)
	cp.Pending = false
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.nowFunc()
	}
	cp.ExpiresAt = cp.CreatedAt.Add(s.ttl)
	s.entries[entry.Key] = cp
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	if e.Headers != nil {
		cp.Headers = e.Headers.Clone()
	}
	if e.Body != nil {
		cp.Body = append([]byte(nil), e.Body...)
	}
	return &cp
}
