package commandqueue

import (
	"context"
	"sync"
	"time"
)

const (
	defaultDedupTTL    = 5 * time.Minute
	dedupSweepInterval = time.Minute
)

// dedupCache remembers recent task results by request id so a retried
// request replays the original outcome instead of running again.
type dedupCache struct {
	mu      sync.RWMutex
	entries map[string]dedupEntry
	ttl     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type dedupEntry struct {
	result  taskResult
	savedAt time.Time
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &dedupCache{
		entries: make(map[string]dedupEntry),
		ttl:     ttl,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Stop ends the background sweep. The done channel closes once it exits.
func (c *dedupCache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Get returns the cached result for a request id, if present and fresh.
func (c *dedupCache) Get(requestID string) (taskResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[requestID]
	if !ok || time.Since(entry.savedAt) > c.ttl {
		return taskResult{}, false
	}
	return entry.result, true
}

// Set records a completed task's result for replay.
func (c *dedupCache) Set(requestID string, result taskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[requestID] = dedupEntry{result: result, savedAt: time.Now()}
}

func (c *dedupCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *dedupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]dedupEntry)
}

// sweep drops expired entries until the cache is stopped.
func (c *dedupCache) sweep() {
	defer close(c.done)

	ticker := time.NewTicker(dedupSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, entry := range c.entries {
				if now.Sub(entry.savedAt) > c.ttl {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
