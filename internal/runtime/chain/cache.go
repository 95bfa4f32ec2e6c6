package chain

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTemplateCacheSize bounds a cache created with a non-positive size.
const DefaultTemplateCacheSize = 256

// TemplateCache keeps assembled templates so traversals of an unchanged
// registration set skip assembly. Keys embed provider versions, so a changed
// provider simply misses and the stale entry ages out.
type TemplateCache struct {
	entries *lru.Cache[string, *Template]
	// build serialises construction per cache so concurrent misses on one key
	// assemble once.
	build  sync.Mutex
	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheStats is a point-in-time view of a TemplateCache.
type CacheStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// NewTemplateCache creates a cache holding at most size templates.
func NewTemplateCache(size int) (*TemplateCache, error) {
	if size <= 0 {
		size = DefaultTemplateCacheSize
	}
	entries, err := lru.New[string, *Template](size)
	if err != nil {
		return nil, fmt.Errorf("create template cache: %w", err)
	}
	return &TemplateCache{entries: entries}, nil
}

// TemplateKey builds a cache key from an endpoint name, a sequence label and
// the versions of every provider that contributed units.
func TemplateKey(endpoint, label string, versions ...uint64) string {
	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte('|')
	b.WriteString(label)
	for _, v := range versions {
		b.WriteByte('|')
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}

// Get returns the template cached under key.
func (c *TemplateCache) Get(key string) (*Template, bool) {
	t, ok := c.entries.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return t, ok
}

// GetOrBuild returns the cached template for key or builds and caches it.
// Build errors are returned and nothing is cached.
func (c *TemplateCache) GetOrBuild(key string, build func() (*Template, error)) (*Template, error) {
	if t, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		return t, nil
	}
	c.build.Lock()
	defer c.build.Unlock()
	if t, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		return t, nil
	}
	c.misses.Add(1)
	t, err := build()
	if err != nil {
		return nil, err
	}
	c.entries.Add(key, t)
	return t, nil
}

// Purge drops every cached template.
func (c *TemplateCache) Purge() {
	c.entries.Purge()
}

func (c *TemplateCache) Stats() CacheStats {
	return CacheStats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   c.entries.Len(),
	}
}
