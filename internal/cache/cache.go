// Package cache provides the content-addressed response cache. Entries
// are keyed by request fingerprint and evicted by TTL or capacity (LRU),
// whichever hits first.
package cache

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vedprakash-m/vigor-llm-engine/internal/domain"
)

// Entry is one cached generation.
type Entry struct {
	// Fingerprint binds the entry to its key; a mismatch on lookup
	// means corruption and the entry is never served.
	Fingerprint string        `json:"fingerprint"`
	Content     string        `json:"content"`
	ProviderID  string        `json:"provider_id"`
	Model       string        `json:"model"`
	Usage       domain.Usage  `json:"usage"`
	StoredAt    time.Time     `json:"stored_at"`
	TTL         time.Duration `json:"ttl"`
}

// Stats is the aggregate exposed on the admin health surface.
type Stats struct {
	Size    int     `json:"size"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is a bounded, TTL-expiring response cache. Lookups and stores of
// different keys proceed concurrently; the underlying store is internally
// locked per operation, not per request.
type Cache struct {
	lru        *expirable.LRU[string, []byte]
	defaultTTL time.Duration
	logger     *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	corrupted atomic.Int64
}

// New creates a cache holding at most capacity entries, each expiring
// after ttl.
func New(capacity int, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		lru:        expirable.NewLRU[string, []byte](capacity, nil, ttl),
		defaultTTL: ttl,
		logger:     logger,
	}
}

// Lookup returns the entry stored under the fingerprint, or ok=false on a
// miss. Corrupt entries (undecodable, or bound to a different
// fingerprint) count as misses and are purged, never served.
func (c *Cache) Lookup(fingerprint string) (*Entry, bool) {
	raw, ok := c.lru.Get(fingerprint)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.corrupt(fingerprint, domain.ErrCacheCorruption("undecodable cache entry"))
		return nil, false
	}
	if entry.Fingerprint != fingerprint {
		c.corrupt(fingerprint, domain.ErrCacheCorruption("fingerprint mismatch"))
		return nil, false
	}
	if entry.TTL > 0 && time.Since(entry.StoredAt) > entry.TTL {
		c.lru.Remove(fingerprint)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return &entry, true
}

// Store writes an entry under the fingerprint. A non-positive ttl uses
// the cache default; a ttl above the default is clamped to it, since the
// backing store purges at the default horizon regardless.
func (c *Cache) Store(fingerprint string, entry Entry, ttl time.Duration) {
	if ttl <= 0 || ttl > c.defaultTTL {
		ttl = c.defaultTTL
	}
	entry.Fingerprint = fingerprint
	entry.StoredAt = time.Now()
	entry.TTL = ttl

	raw, err := json.Marshal(entry)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("cache store failed", slog.String("error", err.Error()))
		}
		return
	}
	c.lru.Add(fingerprint, raw)
}

// Stats returns a consistent snapshot of hit accounting.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	s := Stats{
		Size:   c.lru.Len(),
		Hits:   hits,
		Misses: misses,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}

func (c *Cache) corrupt(fingerprint string, err error) {
	c.lru.Remove(fingerprint)
	c.misses.Add(1)
	c.corrupted.Add(1)
	if c.logger != nil {
		c.logger.Error("cache corruption",
			slog.String("fingerprint", fingerprint),
			slog.String("error", err.Error()),
		)
	}
}
