package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/NikhilSetiya/voxgate/pkg/resilience"
)

// Config holds cache configuration
type Config struct {
	Capacity int           `json:"capacity"`
	TTL      time.Duration `json:"ttl"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Capacity: 100,
		TTL:      time.Hour,
	}
}

// Entry is one cached result
type Entry struct {
	Key       string
	Value     interface{}
	CreatedAt time.Time
}

// Stats reports cache effectiveness
type Stats struct {
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

// ResponseCache maps fingerprints to prior results. Entries expire lazily
// after TTL and the oldest entry is evicted when capacity is reached. The
// cache is advisory: a miss is never an error.
type ResponseCache struct {
	config *Config
	clock  resilience.Clock

	mu      sync.Mutex
	entries map[string]*list.Element
	// order holds *Entry values oldest first
	order *list.List
	stats Stats
}

// New creates a response cache
func New(config *Config, clock resilience.Clock) *ResponseCache {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Capacity <= 0 {
		config.Capacity = DefaultConfig().Capacity
	}
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if clock == nil {
		clock = resilience.SystemClock()
	}

	return &ResponseCache{
		config:  config,
		clock:   clock,
		entries: make(map[string]*list.Element, config.Capacity),
		order:   list.New(),
	}
}

// Get returns the value stored under key if it has not expired
func (c *ResponseCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	entry := elem.Value.(*Entry)
	if c.clock.Now().Sub(entry.CreatedAt) >= c.config.TTL {
		c.removeLocked(elem)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return entry.Value, true
}

// Put stores value under key, evicting the oldest entry when full
func (c *ResponseCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*Entry)
		entry.Value = value
		entry.CreatedAt = now
		c.order.MoveToBack(elem)
		return
	}

	if c.order.Len() >= c.config.Capacity {
		if oldest := c.order.Front(); oldest != nil {
			c.removeLocked(oldest)
			c.stats.Evictions++
		}
	}

	c.entries[key] = c.order.PushBack(&Entry{Key: key, Value: value, CreatedAt: now})
}

// Delete removes key if present
func (c *ResponseCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// Purge drops every expired entry and returns how many were removed
func (c *ResponseCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if now.Sub(elem.Value.(*Entry).CreatedAt) >= c.config.TTL {
			c.removeLocked(elem)
			removed++
		}
		elem = next
	}
	c.stats.Expired += uint64(removed)
	return removed
}

// Clear empties the cache
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element, c.config.Capacity)
	c.order.Init()
}

// Len returns the number of stored entries, expired ones included
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a copy of the cache counters
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = c.order.Len()
	s.Capacity = c.config.Capacity
	return s
}

func (c *ResponseCache) removeLocked(elem *list.Element) {
	entry := c.order.Remove(elem).(*Entry)
	delete(c.entries, entry.Key)
}
