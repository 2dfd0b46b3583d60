// Package cache implements the short-term memory tier: a bounded in-memory
// store of recently accepted items and their embeddings, with TTL expiry and
// LRU eviction. It serves as both a retrieval tier and the recent window the
// gating redundancy check scans.
package cache

import (
	"container/list"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/memuri/internal/memory"
)

// ErrInvalidCapacity indicates a non-positive cache capacity.
var ErrInvalidCapacity = errors.New("cache capacity must be positive")

// Match is an item returned from a similarity scan with its cosine score.
type Match struct {
	Item  *memory.Item
	Score float64
}

// Config holds cache configuration.
type Config struct {
	// Capacity is the maximum number of entries. Default: 256.
	Capacity int `koanf:"capacity"`

	// TTL is the default entry lifetime. Zero means entries never expire
	// unless a per-entry TTL is given.
	TTL time.Duration `koanf:"ttl"`
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 256
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	return nil
}

type entry struct {
	item      *memory.Item
	vector    []float32
	expiresAt time.Time // zero means no expiry
	elem      *list.Element
}

// ShortTerm is a bounded similarity cache. Thread-safe; duplicate IDs are
// last-writer-wins.
type ShortTerm struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    *list.List // front = most recently used, values are item IDs
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

// New creates a short-term cache.
func New(cfg Config) (*ShortTerm, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ShortTerm{
		entries:  make(map[string]*entry),
		order:    list.New(),
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		now:      time.Now,
	}, nil
}

// Put stores an item with its embedding. A zero ttl falls back to the
// configured default; storing an existing ID replaces the previous entry.
func (c *ShortTerm) Put(item *memory.Item, vector []float32, ttl time.Duration) {
	if item == nil || item.ID == "" {
		return
	}
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if existing, ok := c.entries[item.ID]; ok {
		existing.item = item
		existing.vector = vector
		existing.expiresAt = expiresAt
		c.order.MoveToFront(existing.elem)
		return
	}

	for len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	e := &entry{item: item, vector: vector, expiresAt: expiresAt}
	e.elem = c.order.PushFront(item.ID)
	c.entries[item.ID] = e
}

// Get returns the cached item by ID, or nil if absent or expired.
func (c *ShortTerm) Get(id string) *memory.Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	if c.expiredLocked(e) {
		c.removeLocked(id, e)
		return nil
	}
	c.order.MoveToFront(e.elem)
	return e.item
}

// Delete removes entries by ID. Missing IDs are ignored.
func (c *ShortTerm) Delete(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if e, ok := c.entries[id]; ok {
			c.removeLocked(id, e)
		}
	}
}

// Similar scans live entries and returns up to k matches ordered by
// descending cosine similarity, item ID ascending on ties.
func (c *ShortTerm) Similar(vector []float32, k int) []Match {
	if k <= 0 || len(vector) == 0 {
		return nil
	}

	c.mu.RLock()
	now := c.now()
	matches := make([]Match, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		score := CosineSimilarity(vector, e.vector)
		matches = append(matches, Match{Item: e.item, Score: score})
	}
	c.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Item.ID < matches[j].Item.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Recent returns up to n live entries in most-recently-used order, with
// their vectors. This is the redundancy window the gating evaluator scans.
func (c *ShortTerm) Recent(n int) []Match {
	if n <= 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]Match, 0, n)
	for elem := c.order.Front(); elem != nil && len(out) < n; elem = elem.Next() {
		e := c.entries[elem.Value.(string)]
		if e == nil {
			continue
		}
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		out = append(out, Match{Item: e.item, Score: 0})
	}
	return out
}

// RecentVectors returns the embeddings of up to n live entries in
// most-recently-used order.
func (c *ShortTerm) RecentVectors(n int) [][]float32 {
	if n <= 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([][]float32, 0, n)
	for elem := c.order.Front(); elem != nil && len(out) < n; elem = elem.Next() {
		e := c.entries[elem.Value.(string)]
		if e == nil {
			continue
		}
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		out = append(out, e.vector)
	}
	return out
}

// Len returns the number of entries, including not-yet-collected expired ones.
func (c *ShortTerm) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Purge removes all expired entries and returns how many were dropped.
func (c *ShortTerm) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for id, e := range c.entries {
		if c.expiredLocked(e) {
			c.removeLocked(id, e)
			dropped++
		}
	}
	return dropped
}

func (c *ShortTerm) expiredLocked(e *entry) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

func (c *ShortTerm) removeLocked(id string, e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, id)
}

func (c *ShortTerm) evictOldestLocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	id := back.Value.(string)
	if e, ok := c.entries[id]; ok {
		c.removeLocked(id, e)
	}
}

// CosineSimilarity computes the cosine similarity of two vectors. Returns 0
// for mismatched lengths or zero-norm inputs.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
