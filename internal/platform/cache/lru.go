package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU is an in-process SlotCache with a size bound and per-entry TTL.
type LRU struct {
	entries *expirable.LRU[string, *Entry]

	mu          sync.Mutex
	generations map[string]int64
}

// NewLRU creates an LRU holding at most size entries, each for at most ttl.
func NewLRU(size int, ttl time.Duration) *LRU {
	return &LRU{
		entries:     expirable.NewLRU[string, *Entry](size, nil, ttl),
		generations: make(map[string]int64),
	}
}

func (c *LRU) Generation(_ context.Context, tenant string, doctorID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[doctorPrefix(tenant, doctorID)], nil
}

func (c *LRU) Get(_ context.Context, key Key) (*Entry, bool, error) {
	e, ok := c.entries.Get(key.String())
	return e, ok, nil
}

func (c *LRU) Set(_ context.Context, key Key, entry *Entry) error {
	c.entries.Add(key.String(), entry)
	return nil
}

func (c *LRU) InvalidateDoctor(_ context.Context, tenant string, doctorID uuid.UUID) error {
	prefix := doctorPrefix(tenant, doctorID)

	c.mu.Lock()
	c.generations[prefix]++
	c.mu.Unlock()

	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
	return nil
}

// Len returns the number of live entries.
func (c *LRU) Len() int {
	return c.entries.Len()
}
