package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Entry is one cached LLM match result. The value stays raw JSON so the
// cache does not depend on the scoring types.
type Entry struct {
	Value     json.RawMessage
	ModelID   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// MatchCache keeps recent LLM-assisted skill match results keyed by a
// signature of the inputs, so repeated matching on an unchanged job does not
// pay for another inference call. Results stay advisory either way.
type MatchCache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	ttl        time.Duration
	maxEntries int
}

func NewMatchCache(config Config) *MatchCache {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	return &MatchCache{
		entries:    make(map[string]Entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

// BuildSignature hashes the ordered input parts into a stable cache key.
func (c *MatchCache) BuildSignature(parts ...string) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(strings.TrimSpace(part)))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

func (c *MatchCache) Get(signature string) (Entry, bool) {
	c.mu.RLock()
	entry, exists := c.entries[signature]
	c.mu.RUnlock()

	if !exists {
		return Entry{}, false
	}
	if time.Now().UTC().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, signature)
		c.mu.Unlock()
		return Entry{}, false
	}
	return entry, true
}

func (c *MatchCache) Put(signature string, value json.RawMessage, modelID string) {
	now := time.Now().UTC()
	entry := Entry{
		Value:     append(json.RawMessage(nil), value...),
		ModelID:   modelID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		for key, existing := range c.entries {
			if now.After(existing.ExpiresAt) {
				delete(c.entries, key)
			}
		}
	}
	if len(c.entries) >= c.maxEntries {
		var (
			oldestKey string
			oldestTS  time.Time
			first     = true
		)
		for key, existing := range c.entries {
			if first || existing.ExpiresAt.Before(oldestTS) {
				first = false
				oldestKey = key
				oldestTS = existing.ExpiresAt
			}
		}
		if !first {
			delete(c.entries, oldestKey)
		}
	}
	c.entries[signature] = entry
}

func (c *MatchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
