// Package retrieval implements the fingerprint-keyed output cache used to
// short-circuit repeat inference calls: bounded size with LRU eviction and a
// per-entry TTL.
package retrieval

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a store constructed without an explicit capacity.
const DefaultMaxEntries = 256

// Fingerprint returns the stable cache key for a task invocation: the hex
// SHA-256 of the canonical JSON of task type, input payload, and tags. Tags
// are omitted when empty so untagged tasks hash identically across callers
// that pass nil or []. Canonical form comes from encoding/json's sorted map
// keys.
func Fingerprint(taskType string, input map[string]any, tags []string) string {
	payload := map[string]any{
		"task_type":     taskType,
		"input_payload": input,
	}
	if len(tags) > 0 {
		payload["tags"] = tags
	}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	key       string
	value     map[string]any
	expiresAt time.Time
}

// Store is a process-wide TTL+LRU cache. The zero value is not usable; use
// New. All methods are safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	maxEntries int
	clock      func() time.Time
	items      map[string]*list.Element
	order      *list.List // front is most recently used
}

// New creates a store holding at most maxEntries entries. A non-positive
// capacity falls back to DefaultMaxEntries. A nil clock uses time.Now;
// tests inject a fake clock to step TTLs deterministically.
func New(maxEntries int, clock func() time.Time) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		maxEntries: maxEntries,
		clock:      clock,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached value for key. An entry whose TTL has elapsed is
// removed and reported as absent; a hit refreshes recency.
func (s *Store) Get(key string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !s.clock().Before(e.expiresAt) {
		s.order.Remove(el)
		delete(s.items, key)
		return nil, false
	}
	s.order.MoveToFront(el)
	return e.value, true
}

// Put stores value under key for ttl. An existing entry is updated in place
// with fresh recency and expiry; at capacity the least recently used entry
// is evicted first.
func (s *Store) Put(key string, value map[string]any, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.clock().Add(ttl)
	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		s.order.MoveToFront(el)
		return
	}
	for len(s.items) >= s.maxEntries {
		s.evictOldest()
	}
	s.items[key] = s.order.PushFront(&entry{key: key, value: value, expiresAt: expiresAt})
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element)
	s.order.Init()
}

// Configure changes the capacity, evicting least recently used entries when
// the store is over the new bound. Non-positive values reset to the default.
func (s *Store) Configure(maxEntries int) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxEntries = maxEntries
	for len(s.items) > s.maxEntries {
		s.evictOldest()
	}
}

// Len reports the current entry count, expired entries included until their
// next Get.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) evictOldest() {
	oldest := s.order.Back()
	if oldest == nil {
		return
	}
	s.order.Remove(oldest)
	delete(s.items, oldest.Value.(*entry).key)
}
