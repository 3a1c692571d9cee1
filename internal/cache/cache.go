package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Namespaces used across the pipeline. Each carries its own default
// TTL; callers may override per Set call.
const (
	NamespaceCurrentPicks  = "current-picks"
	NamespaceStats         = "stats"
	NamespaceHistory       = "history"
	NamespaceScanDetail    = "scan-detail"
	NamespaceAnalysisBatch = "analysis-batch"
)

type entry struct {
	value     any
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	KeyCount int
	Hits     int64
	Misses   int64
	HitRate  float64
}

// WarmProvider is a read-through function invoked at startup to
// pre-populate one hot key.
type WarmProvider struct {
	Namespace string
	Key       string
	Load      func(ctx context.Context) (any, error)
}

// Store is an in-process namespaced TTL key/value store. It is a pure
// performance layer: a restart equals a full flush and must only cost
// latency, never correctness. Get and Set never fail outward; internal
// problems degrade to a miss or a no-op.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]entry
	ttls     map[string]time.Duration
	hits     int64
	misses   int64
	logger   *slog.Logger
	now      func() time.Time
	fallback time.Duration
}

// New builds a Store with per-namespace default TTLs. Namespaces
// absent from ttls fall back to fallbackTTL; a zero fallback means
// no expiry.
func New(ttls map[string]time.Duration, fallbackTTL time.Duration, logger *slog.Logger) *Store {
	copied := make(map[string]time.Duration, len(ttls))
	for ns, ttl := range ttls {
		copied[ns] = ttl
	}
	return &Store{
		entries:  map[string]entry{},
		ttls:     copied,
		logger:   logger,
		now:      time.Now,
		fallback: fallbackTTL,
	}
}

// Get returns the cached value for namespace/key, or ok=false on any
// miss, including expiry.
func (s *Store) Get(namespace, key string) (any, bool) {
	full := namespace + ":" + key

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[full]
	if !ok {
		s.misses++
		return nil, false
	}
	if e.expired(s.now()) {
		delete(s.entries, full)
		s.misses++
		return nil, false
	}

	s.hits++
	return e.value, true
}

// Set stores value under namespace/key. ttlOverride, when positive,
// replaces the namespace default for this entry only.
func (s *Store) Set(namespace, key string, value any, ttlOverride ...time.Duration) {
	ttl := s.ttlFor(namespace)
	if len(ttlOverride) > 0 && ttlOverride[0] > 0 {
		ttl = ttlOverride[0]
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[namespace+":"+key] = entry{value: value, expiresAt: expiresAt}
}

// Delete removes the given namespace/key pairs and reports how many
// entries actually existed.
func (s *Store) Delete(namespace string, keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range keys {
		full := namespace + ":" + key
		if _, ok := s.entries[full]; ok {
			delete(s.entries, full)
			removed++
		}
	}
	return removed
}

// DeleteNamespace drops every entry in the namespace and reports the
// removed count. Used for post-scan invalidation of response caches.
func (s *Store) DeleteNamespace(namespace string) int {
	prefix := namespace + ":"

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for full := range s.entries {
		if len(full) >= len(prefix) && full[:len(prefix)] == prefix {
			delete(s.entries, full)
			removed++
		}
	}
	return removed
}

// Clear empties the store without touching hit/miss counters.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]entry{}
}

// Snapshot returns current counters; expired-but-unswept entries still
// count toward KeyCount since they are removed lazily on Get.
func (s *Store) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		KeyCount: len(s.entries),
		Hits:     s.hits,
		Misses:   s.misses,
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Warm runs each provider once and stores its result. Provider
// failures are isolated: they are logged and skipped, never returned.
func (s *Store) Warm(ctx context.Context, providers []WarmProvider) {
	for _, p := range providers {
		if p.Load == nil {
			continue
		}
		value, err := p.Load(ctx)
		if err != nil {
			s.warn("cache warm provider failed", "namespace", p.Namespace, "key", p.Key, "error", err)
			continue
		}
		s.Set(p.Namespace, p.Key, value)
	}
}

func (s *Store) ttlFor(namespace string) time.Duration {
	if ttl, ok := s.ttls[namespace]; ok {
		return ttl
	}
	return s.fallback
}

func (s *Store) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
