// Package cache is the TTL cache shared by the server and client tiers.
package cache

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/marketdash-backend/internal/market"
)

const DefaultTTL = 5 * time.Minute

// Clock abstracts time.Now so TTL expiry can be driven from tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type entry[T any] struct {
	value      T
	insertedAt time.Time
}

// Cache maps string keys to values that expire ttl after insertion. Entries
// are only dropped by expiry-on-read or Clear; there is no background
// eviction and failed fetches are never stored.
type Cache[T any] struct {
	ttl   time.Duration
	clock Clock

	mu    sync.RWMutex
	items map[string]entry[T]
}

func New[T any](ttl time.Duration, clock Clock) *Cache[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Cache[T]{
		ttl:   ttl,
		clock: clock,
		items: make(map[string]entry[T]),
	}
}

// Get returns the value for key if it was set less than ttl ago.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	var zero T
	if !ok {
		return zero, false
	}
	if c.clock.Now().Sub(e.insertedAt) >= c.ttl {
		c.mu.Lock()
		if cur, still := c.items[key]; still && cur.insertedAt.Equal(e.insertedAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set overwrites key unconditionally.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	c.items[key] = entry[T]{value: value, insertedAt: c.clock.Now()}
	c.mu.Unlock()
}

// Clear drops every entry and returns how many were held.
func (c *Cache[T]) Clear() int {
	c.mu.Lock()
	n := len(c.items)
	c.items = make(map[string]entry[T])
	c.mu.Unlock()
	return n
}

func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache[T]) TTL() time.Duration { return c.ttl }

// QuotesKey builds "tag:A,B" from symbols normalized, deduped and sorted, so
// [B,A] and [A,B] share an entry.
func QuotesKey(tag string, symbols []string) string {
	seen := make(map[string]struct{}, len(symbols))
	list := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = market.Normalize(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		list = append(list, s)
	}
	slices.Sort(list)
	return tag + ":" + strings.Join(list, ",")
}

func HistoryKey(symbol string) string {
	return "history:" + market.Normalize(symbol)
}
