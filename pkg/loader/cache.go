package loader

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes loaded files. Concurrent loads of the same key share one
// fetch; failed fetches are not cached.
type Cache struct {
	mu    sync.RWMutex
	data  map[string][]byte
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{data: make(map[string][]byte)}
}

func (c *Cache) Get(key string, fetch func() ([]byte, error)) ([]byte, error) {
	c.mu.RLock()
	if cached, ok := c.data[key]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		if cached, ok := c.data[key]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()

		data, err := fetch()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.data[key] = data
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Forget drops key so the next Get fetches again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	c.group.Forget(key)
}
