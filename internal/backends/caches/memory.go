package caches

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/conneroisu/starhp/internal/backends"
	"github.com/conneroisu/starhp/internal/compiler"
	"github.com/conneroisu/starhp/internal/errors"
	"github.com/conneroisu/starhp/internal/logging"
)

// Memory strategies.
const (
	StrategyUnbounded = "unbounded"
	StrategyLRU       = "lru"
)

// MemoryOptions configures a MemoryCache.
type MemoryOptions struct {
	TTL      time.Duration
	Strategy string
	// MaxEntries bounds the lru strategy.
	MaxEntries int
}

// NewMemoryCache caches the Code of inner in process memory.
func NewMemoryCache(inner backends.Container, opts MemoryOptions, logger logging.Logger) (*Container, error) {
	store, err := NewMemoryStore(opts.Strategy, opts.MaxEntries)
	if err != nil {
		return nil, err
	}

	return New(inner, store, opts.TTL, logger)
}

// NewMemoryStore returns the Store for strategy. An empty strategy is
// unbounded.
func NewMemoryStore(strategy string, maxEntries int) (Store, error) {
	switch strategy {
	case "", StrategyUnbounded:
		return &MapStore{entries: map[string]memoryEntry{}}, nil
	case StrategyLRU:
		if maxEntries <= 0 {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
				fmt.Sprintf("lru strategy needs max_entries > 0, got %d", maxEntries))
		}

		return NewLRUStore(maxEntries), nil
	default:
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown memory cache strategy %q", strategy))
	}
}

type memoryEntry struct {
	code     compiler.Code
	cachedAt int64
}

// MapStore keeps every entry until it is removed.
type MapStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func (m *MapStore) Load(name string, valid func(int64) bool) (compiler.Code, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[name]
	m.mu.RUnlock()

	if !ok || !valid(entry.cachedAt) {
		return nil, false, nil
	}

	return entry.code, true, nil
}

func (m *MapStore) Save(name string, code compiler.Code, cachedAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = memoryEntry{code: code, cachedAt: cachedAt}

	return nil
}

func (m *MapStore) CachedAt(name string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[name]

	return entry.cachedAt, ok, nil
}

func (m *MapStore) Remove(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[name]
	delete(m.entries, name)

	return ok, nil
}

// Names yields a sorted snapshot.
func (m *MapStore) Names() iter.Seq2[string, error] {
	m.mu.RLock()
	names := slices.Sorted(maps.Keys(m.entries))
	m.mu.RUnlock()

	return func(yield func(string, error) bool) {
		for _, name := range names {
			if !yield(name, nil) {
				return
			}
		}
	}
}

func (m *MapStore) Close() error {
	return nil
}

// lruEntry is a node of the recency list.
type lruEntry struct {
	name string
	memoryEntry
	prev *lruEntry
	next *lruEntry
}

// LRUStore keeps at most maxEntries entries, evicting the least recently
// loaded or saved one.
type LRUStore struct {
	mu         sync.Mutex
	entries    map[string]*lruEntry
	maxEntries int
	evictions  int64
	// head and tail are sentinels.
	head *lruEntry
	tail *lruEntry
}

// NewLRUStore creates an LRUStore holding up to maxEntries entries.
func NewLRUStore(maxEntries int) *LRUStore {
	s := &LRUStore{
		entries:    make(map[string]*lruEntry),
		maxEntries: maxEntries,
		head:       &lruEntry{},
		tail:       &lruEntry{},
	}
	s.head.next = s.tail
	s.tail.prev = s.head

	return s
}

func (s *LRUStore) Load(name string, valid func(int64) bool) (compiler.Code, bool, error) {
	var entry memoryEntry
	s.mu.Lock()
	node, ok := s.entries[name]
	if ok {
		s.moveToFront(node)
		entry = node.memoryEntry
	}
	s.mu.Unlock()

	if !ok || !valid(entry.cachedAt) {
		return nil, false, nil
	}

	return entry.code, true, nil
}

func (s *LRUStore) Save(name string, code compiler.Code, cachedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[name]; ok {
		existing.memoryEntry = memoryEntry{code: code, cachedAt: cachedAt}
		s.moveToFront(existing)

		return nil
	}

	for len(s.entries) >= s.maxEntries && s.tail.prev != s.head {
		lru := s.tail.prev
		s.removeFromList(lru)
		delete(s.entries, lru.name)
		s.evictions++
	}

	entry := &lruEntry{name: name, memoryEntry: memoryEntry{code: code, cachedAt: cachedAt}}
	s.entries[name] = entry
	s.addToFront(entry)

	return nil
}

func (s *LRUStore) CachedAt(name string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok {
		return 0, false, nil
	}

	return entry.cachedAt, true, nil
}

func (s *LRUStore) Remove(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[name]
	if !ok {
		return false, nil
	}
	s.removeFromList(entry)
	delete(s.entries, name)

	return true, nil
}

// Names yields a snapshot from most to least recently used.
func (s *LRUStore) Names() iter.Seq2[string, error] {
	s.mu.Lock()
	names := make([]string, 0, len(s.entries))
	for e := s.head.next; e != s.tail; e = e.next {
		names = append(names, e.name)
	}
	s.mu.Unlock()

	return func(yield func(string, error) bool) {
		for _, name := range names {
			if !yield(name, nil) {
				return
			}
		}
	}
}

// Evictions returns how many entries were dropped for capacity.
func (s *LRUStore) Evictions() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.evictions
}

func (s *LRUStore) Close() error {
	return nil
}

func (s *LRUStore) addToFront(entry *lruEntry) {
	entry.prev = s.head
	entry.next = s.head.next
	s.head.next.prev = entry
	s.head.next = entry
}

func (s *LRUStore) removeFromList(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (s *LRUStore) moveToFront(entry *lruEntry) {
	s.removeFromList(entry)
	s.addToFront(entry)
}
