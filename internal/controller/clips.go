package controller

import (
	"sync"

	"github.com/google/uuid"
)

// DefaultClipCacheSize is the number of synthesised clips kept per session.
const DefaultClipCacheSize = 16

// clipCache keeps the most recent WAV clips of a session so the UI can fetch
// them by id after the event that produced them has returned.
type clipCache struct {
	mu    sync.Mutex
	size  int
	order []string
	clips map[string][]byte
}

func newClipCache(size int) *clipCache {
	if size <= 0 {
		size = DefaultClipCacheSize
	}
	return &clipCache{size: size, clips: make(map[string][]byte, size)}
}

// put stores wav under a fresh id, evicting the oldest clip when full.
func (c *clipCache) put(wav []byte) string {
	id := uuid.NewString()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.order) == c.size {
		delete(c.clips, c.order[0])
		c.order = c.order[1:]
	}
	c.order = append(c.order, id)
	c.clips[id] = wav
	return id
}

func (c *clipCache) get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wav, ok := c.clips[id]
	return wav, ok
}

func (c *clipCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	clear(c.clips)
}

func (c *clipCache) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}
