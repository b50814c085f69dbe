package translator

import "sync"

// Cache stores finished translations keyed by (text, target language).
type Cache interface {
	Get(text, targetLang string) (string, bool)
	Set(text, targetLang, translated string)
}

type cacheKey struct {
	text string
	lang string
}

// MemoryCache lives for the whole process and never evicts.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]string
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[cacheKey]string)}
}

func (c *MemoryCache) Get(text, targetLang string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[cacheKey{text: text, lang: targetLang}]
	return v, ok
}

func (c *MemoryCache) Set(text, targetLang, translated string) {
	c.mu.Lock()
	c.entries[cacheKey{text: text, lang: targetLang}] = translated
	c.mu.Unlock()
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
