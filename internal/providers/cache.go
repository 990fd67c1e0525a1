package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jackzampolin/reask/internal/extract"
)

// CachedBackend memoizes successful backend responses by exact prompt.
// Errors are never cached. A reask prompt embeds the previous output, so
// only identical conversations hit.
type CachedBackend struct {
	next  extract.Backend
	cache *lru.Cache[string, extract.RawResponse]

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedBackend wraps next with an LRU of the given size.
func NewCachedBackend(next extract.Backend, size int) (*CachedBackend, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, extract.RawResponse](size)
	if err != nil {
		return nil, err
	}
	return &CachedBackend{next: next, cache: cache}, nil
}

// Generate returns a cached response or calls the wrapped backend.
func (c *CachedBackend) Generate(ctx context.Context, prompt string) (*extract.RawResponse, error) {
	key := promptKey(prompt)
	if resp, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return &resp, nil
	}
	c.misses.Add(1)

	resp, err := c.next.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		c.cache.Add(key, *resp)
	}
	return resp, nil
}

// Stats returns cache hits and misses since creation.
func (c *CachedBackend) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached prompts.
func (c *CachedBackend) Len() int {
	return c.cache.Len()
}

func promptKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

var _ extract.Backend = (*CachedBackend)(nil)
