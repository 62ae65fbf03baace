// Package session implements C4, the sharded TTL map from SessionKey to
// the last-known outbound route. It is consulted on every outbound
// reply to answer "which room/thread does this conversation continue
// in".
//
// Grounded on other_examples' sharded/shard.go: each shard is an
// independent mutex-protected map selected by a stable hash, so
// concurrent resolves on different keys never contend. Staleness
// checks follow pkg/connector/cache_ttl.go's "is this entry fresh"
// idiom.
package session

import (
	"container/list"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"github.com/agentjido/jido-messaging/internal/model"
)

// Source describes where a Resolve result came from.
type Source string

const (
	SourceFresh    Source = "fresh"
	SourceFallback Source = "fallback"
)

// Route is the opaque outbound target a SessionKey resolves to.
type Route struct {
	BridgeID       string
	ExternalRoomID string
	ThreadID       string
}

// ResolveResult annotates a resolve() call per spec §4.4.
type ResolveResult struct {
	Route         Route
	Source        Source
	Fallback      bool
	Stale         bool
	FallbackReason string
}

type record struct {
	key       model.SessionKey
	route     Route
	updatedAt time.Time
	expiresAt time.Time
	elem      *list.Element
}

type shard struct {
	mu       sync.Mutex
	entries  map[model.SessionKey]*record
	lru      *list.List // front = most recently used
	capacity int
}

func newShard(capacity int) *shard {
	return &shard{
		entries:  make(map[model.SessionKey]*record),
		lru:      list.New(),
		capacity: capacity,
	}
}

func (s *shard) touch(r *record) {
	if r.elem != nil {
		s.lru.MoveToFront(r.elem)
		return
	}
	r.elem = s.lru.PushFront(r)
}

func (s *shard) evictOldestLocked() {
	back := s.lru.Back()
	if back == nil {
		return
	}
	r := back.Value.(*record)
	s.lru.Remove(back)
	delete(s.entries, r.key)
}

// Store is the sharded session route cache.
type Store struct {
	shards   []*shard
	ttl      time.Duration
	degraded map[int]bool // shards marked unavailable (worker crash simulation)
	mu       sync.RWMutex
}

// New builds a Store. shardCount, ttl and capacity fall back to the
// spec defaults (max(2, 2*CPUs) / 30m / 10000) when non-positive.
func New(shardCount int, ttl time.Duration, capacity int) *Store {
	if shardCount < 1 {
		shardCount = 2 * runtime.NumCPU()
		if shardCount < 2 {
			shardCount = 2
		}
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if capacity <= 0 {
		capacity = 10000
	}
	st := &Store{ttl: ttl, degraded: make(map[int]bool)}
	st.shards = make([]*shard, shardCount)
	for i := range st.shards {
		st.shards[i] = newShard(capacity)
	}
	return st
}

func (s *Store) shardIndex(key model.SessionKey) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return int(h.Sum32()) % len(s.shards)
}

// MarkShardUnavailable simulates a shard worker crash; subsequent
// Get/Resolve calls on keys hashing to that shard degrade to fallback
// per spec §4.4's "never fails the outbound path" guarantee.
func (s *Store) MarkShardUnavailable(idx int, unavailable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unavailable {
		s.degraded[idx] = true
	} else {
		delete(s.degraded, idx)
	}
}

func (s *Store) isDegraded(idx int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded[idx]
}

// Set writes key→route with the store's TTL, evicting the shard's
// least-recently-used entry if it would exceed capacity.
func (s *Store) Set(key model.SessionKey, route Route) {
	idx := s.shardIndex(key)
	sh := s.shards[idx]
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if r, ok := sh.entries[key]; ok {
		r.route = route
		r.updatedAt = now
		r.expiresAt = now.Add(s.ttl)
		sh.touch(r)
		return
	}
	r := &record{key: key, route: route, updatedAt: now, expiresAt: now.Add(s.ttl)}
	sh.entries[key] = r
	sh.touch(r)
	if len(sh.entries) > sh.capacity {
		sh.evictOldestLocked()
	}
}

// GetStatus is the outcome of Get.
type GetStatus string

const (
	GetFresh    GetStatus = "fresh"
	GetExpired  GetStatus = "expired"
	GetNotFound GetStatus = "not_found"
)

// Get looks up key without falling back, reporting whether the record
// is fresh, expired, or absent.
func (s *Store) Get(key model.SessionKey) (Route, GetStatus) {
	idx := s.shardIndex(key)
	if s.isDegraded(idx) {
		return Route{}, GetNotFound
	}
	sh := s.shards[idx]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	r, ok := sh.entries[key]
	if !ok {
		return Route{}, GetNotFound
	}
	if time.Now().After(r.expiresAt) {
		return r.route, GetExpired
	}
	sh.touch(r)
	return r.route, GetFresh
}

// Resolve implements spec §4.4's resolve(): fresh state hit, else the
// partition's own (possibly stale) last-known route, else the first
// caller-provided fallback route. Shard unavailability degrades to the
// fallback chain with fallback_reason "session_unavailable" and never
// returns an error.
func (s *Store) Resolve(key model.SessionKey, fallbackRoutes []Route) ResolveResult {
	idx := s.shardIndex(key)
	if s.isDegraded(idx) {
		return s.fallbackResult(fallbackRoutes, "session_unavailable")
	}

	sh := s.shards[idx]
	sh.mu.Lock()
	r, ok := sh.entries[key]
	if ok {
		route := r.route
		fresh := !time.Now().After(r.expiresAt)
		sh.touch(r)
		sh.mu.Unlock()
		if fresh {
			return ResolveResult{Route: route, Source: SourceFresh}
		}
		return ResolveResult{Route: route, Source: SourceFallback, Fallback: true, Stale: true, FallbackReason: "partition_stale"}
	}
	sh.mu.Unlock()

	return s.fallbackResult(fallbackRoutes, "no_session_state")
}

func (s *Store) fallbackResult(fallbackRoutes []Route, reason string) ResolveResult {
	if len(fallbackRoutes) == 0 {
		return ResolveResult{Source: SourceFallback, Fallback: true, Stale: true, FallbackReason: reason}
	}
	return ResolveResult{Route: fallbackRoutes[0], Source: SourceFallback, Fallback: true, FallbackReason: reason}
}

// Prune removes expired entries from every shard, including degraded
// ones, so a shard that recovers comes back empty of stale state.
func (s *Store) Prune() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		now := time.Now()
		for k, r := range sh.entries {
			if now.After(r.expiresAt) {
				if r.elem != nil {
					sh.lru.Remove(r.elem)
				}
				delete(sh.entries, k)
			}
		}
		sh.mu.Unlock()
	}
}

// Size returns the total number of entries across all shards.
func (s *Store) Size() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}
