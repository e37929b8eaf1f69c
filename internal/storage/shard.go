package storage

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const ShardCount = 16
const shardMask = uint64(ShardCount - 1)

// StoredValue is a value and its absolute expiry. A zero ExpireAt means the
// entry never expires.
type StoredValue struct {
	Value    string
	ExpireAt time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (v StoredValue) Expired(now time.Time) bool {
	return !v.ExpireAt.IsZero() && !v.ExpireAt.After(now)
}

type Shard struct {
	mu   sync.RWMutex
	data map[string]StoredValue
}

// Store is the process-wide key-value mapping shared by every connection.
// Expiry is lazy: Get never removes an entry, an expired entry stays in
// place until the next Set of the same key, and nothing sweeps in the
// background.
type Store struct {
	shards [ShardCount]*Shard
	now    func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now as the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for i := 0; i < ShardCount; i++ {
		s.shards[i] = &Shard{data: make(map[string]StoredValue)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) shard(key string) *Shard {
	return s.shards[xxhash.Sum64String(key)&shardMask]
}

// Set overwrites key unconditionally with a value that never expires.
func (s *Store) Set(key, value string) {
	s.put(key, StoredValue{Value: value})
}

// SetWithTTL overwrites key with a value that expires ttl from now. A ttl
// of zero or less stores an entry that is already expired.
func (s *Store) SetWithTTL(key, value string, ttl time.Duration) {
	s.put(key, StoredValue{Value: value, ExpireAt: s.now().Add(ttl)})
}

func (s *Store) put(key string, entry StoredValue) {
	shard := s.shard(key)
	shard.mu.Lock()
	shard.data[key] = entry
	shard.mu.Unlock()
}

// Get returns the entry for key without judging its expiry.
func (s *Store) Get(key string) (StoredValue, bool) {
	shard := s.shard(key)
	shard.mu.RLock()
	v, ok := shard.data[key]
	shard.mu.RUnlock()
	return v, ok
}

// Lookup returns the value for key if it is present and not expired.
func (s *Store) Lookup(key string) (string, bool) {
	v, ok := s.Get(key)
	if !ok || v.Expired(s.now()) {
		return "", false
	}
	return v.Value, true
}

// Len counts physically present entries, expired ones included.
func (s *Store) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.data)
		shard.mu.RUnlock()
	}
	return n
}
