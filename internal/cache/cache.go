// Package cache implements the in-memory response cache for upstream API
// reads. Entries are grouped into types derived from the endpoint path so
// that eviction pressure from one hot resource family cannot flush
// everything else. The store is process-wide but explicitly constructed;
// callers inject it where needed.
package cache

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Known entry types. Anything that does not match a known path prefix
// lands in TypeDefault.
const (
	TypeMetrics   = "metrics"
	TypeCampaigns = "campaigns"
	TypeTemplates = "templates"
	TypeProfiles  = "profiles"
	TypeDefault   = "default"
)

var knownTypes = []string{TypeMetrics, TypeCampaigns, TypeTemplates, TypeProfiles}

// DefaultTTL is the lifetime applied when the configured table has no
// entry for a type and no "default" row either.
const DefaultTTL = 5 * time.Minute

// Classify derives the entry type from a cache key. Keys look like
// "GET /api/campaigns?sort=name"; the method prefix, leading slashes,
// and the api/ segment are ignored. Unknown shapes never error, they
// classify as TypeDefault.
func Classify(key string) string {
	path := key
	if i := strings.IndexByte(path, ' '); i >= 0 {
		path = path[i+1:]
	}
	path = strings.TrimLeft(path, "/")
	path = strings.TrimPrefix(path, "api/")
	for _, t := range knownTypes {
		if strings.HasPrefix(path, t) {
			return t
		}
	}
	return TypeDefault
}

// Entry is one cached response.
type Entry struct {
	Key          string
	Value        any
	Type         string
	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
}

// Config controls store behavior.
type Config struct {
	// Enabled gates every operation. A disabled store never hits and
	// never retains.
	Enabled bool
	// MaxEntries caps the total entry count across all types. Enforced
	// at insert time.
	MaxEntries int
	// TTL maps entry type to lifetime. The "default" row covers
	// unrecognized types.
	TTL map[string]time.Duration
}

// Stats is a point-in-time summary of store contents.
type Stats struct {
	Enabled bool
	Total   int
	ByType  map[string]int
}

// Store holds cached responses keyed by request identity. All methods are
// safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	cfg     Config
	logger  *slog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates an empty store.
func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		entries: make(map[string]*Entry),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Has reports whether key holds a live entry. Expired entries are purged
// on check. Aside from that lazy purge, Has has no side effects; asking
// twice gives the same answer.
func (s *Store) Has(key string) bool {
	if !s.cfg.Enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if s.now().After(e.ExpiresAt) {
		delete(s.entries, key)
		return false
	}
	return true
}

// Get returns the value for key and refreshes its last-accessed time.
// The boolean is false for absent, expired, or disabled.
func (s *Store) Get(key string) (any, bool) {
	if !s.cfg.Enabled {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().After(e.ExpiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	e.LastAccessed = s.now()
	return e.Value, true
}

// Set stores value under key, overwriting any existing entry. Nil values
// are rejected. When the store is full and key is new, a partial eviction
// of the key's type runs first so the capacity invariant holds at insert.
// Returns whether the value was cached.
func (s *Store) Set(key string, value any) bool {
	if !s.cfg.Enabled || value == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	typ := Classify(key)
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.cfg.MaxEntries {
		removed := s.evictLocked(typ)
		s.logger.Debug("cache capacity eviction",
			"type", typ,
			"removed", removed,
			"capacity", s.cfg.MaxEntries)
	}
	now := s.now()
	s.entries[key] = &Entry{
		Key:          key,
		Value:        value,
		Type:         typ,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(s.ttlFor(typ)),
	}
	return true
}

func (s *Store) ttlFor(typ string) time.Duration {
	if ttl, ok := s.cfg.TTL[typ]; ok {
		return ttl
	}
	if ttl, ok := s.cfg.TTL[TypeDefault]; ok {
		return ttl
	}
	return DefaultTTL
}

// Evict removes the oldest-used fifth of the given type's entries
// (minimum one when any exist). Returns how many were removed.
func (s *Store) Evict(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(typ)
}

func (s *Store) evictLocked(typ string) int {
	victims := s.ofTypeLocked(typ)
	if len(victims) == 0 {
		// Nothing of this type to shed. Take pressure off the largest
		// type instead so the insert still has room.
		victims = s.ofTypeLocked(s.largestTypeLocked())
	}
	if len(victims) == 0 {
		return 0
	}
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].LastAccessed.Before(victims[j].LastAccessed)
	})
	n := (len(victims) + 4) / 5
	if n < 1 {
		n = 1
	}
	for _, e := range victims[:n] {
		delete(s.entries, e.Key)
	}
	return n
}

func (s *Store) ofTypeLocked(typ string) []*Entry {
	var out []*Entry
	for _, e := range s.entries {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) largestTypeLocked() string {
	counts := make(map[string]int)
	for _, e := range s.entries {
		counts[e.Type]++
	}
	best := TypeDefault
	bestN := -1
	for typ, n := range counts {
		if n > bestN {
			best, bestN = typ, n
		}
	}
	return best
}

// ClearExpired removes every entry past its expiry and returns the count.
// Runs a full scan; intended for the periodic sweeper.
func (s *Store) ClearExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if now.After(e.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// ClearType removes every entry of the given type and returns the count.
func (s *Store) ClearType(typ string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if e.Type == typ {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// ClearAll empties the store and returns how many entries it held.
func (s *Store) ClearAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	s.entries = make(map[string]*Entry)
	return n
}

// Stats returns entry counts broken down by type.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Enabled: s.cfg.Enabled,
		Total:   len(s.entries),
		ByType:  make(map[string]int),
	}
	for _, e := range s.entries {
		st.ByType[e.Type]++
	}
	return st
}

// StartSweeper launches the periodic expiry sweep. It stops when ctx is
// canceled. Logging happens outside the store lock so a slow sink cannot
// stall readers.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if !s.cfg.Enabled || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.ClearExpired(); removed > 0 {
					s.logger.Debug("cache sweep", "removed", removed)
				}
			}
		}
	}()
}
