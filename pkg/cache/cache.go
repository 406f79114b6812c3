package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultLoadTimeout = time.Minute

type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	MaxEntries           int
	// LoadTimeout bounds a load shared by concurrent callers. It runs
	// detached from any one caller's context.
	LoadTimeout time.Duration
}

// Hooks receive the key of every lookup outcome. Any hook may be nil.
type Hooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStale func(key string)
	OnError func(key string)
}

// Loader produces the value for key. Errors are returned to the caller and never cached.
type Loader[V any] func(ctx context.Context, key string) (V, error)

type entry[V any] struct {
	value     V
	expiresAt time.Time
	staleAt   time.Time
}

// Cache is a TTL cache with stale-while-revalidate and one in-flight load per key.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[string]*entry[V]
	order []string
	opts  Options
	hooks Hooks
	sf    singleflight.Group
	now   func() time.Time
}

func New[V any](opts Options, hooks Hooks) *Cache[V] {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	return &Cache[V]{
		items: make(map[string]*entry[V]),
		opts:  opts,
		hooks: hooks,
		now:   time.Now,
	}
}

// Get returns the cached value for key, loading it when absent or hard-expired.
// A stale entry is returned immediately while one background refresh runs.
func (c *Cache[V]) Get(ctx context.Context, key string, load Loader[V]) (V, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if ok {
		if now.Before(e.expiresAt) {
			fire(c.hooks.OnHit, key)
			return e.value, nil
		}
		if now.Before(e.staleAt) {
			fire(c.hooks.OnStale, key)
			refreshCtx := context.WithoutCancel(ctx)
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
					loadCtx, cancel := context.WithTimeout(refreshCtx, c.opts.LoadTimeout)
					defer cancel()
					if v, err := load(loadCtx, key); err == nil {
						c.Set(key, v)
					} else {
						fire(c.hooks.OnError, key)
					}
					return nil, nil
				})
			}()
			return e.value, nil
		}
		c.Delete(key)
	}

	fire(c.hooks.OnMiss, key)
	// The first caller leaving must not fail the others waiting on the same key.
	shared := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(shared, c.opts.LoadTimeout)
		defer cancel()
		v, err := load(loadCtx, key)
		if err != nil {
			return v, err
		}
		c.Set(key, v)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			fire(c.hooks.OnError, key)
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Set stores value under key using the configured TTL.
func (c *Cache[V]) Set(key string, value V) {
	now := c.now()
	e := &entry[V]{
		value:     value,
		expiresAt: now.Add(c.opts.TTL),
	}
	e.staleAt = e.expiresAt.Add(c.opts.StaleWhileRevalidate)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictLocked()
}

// Peek returns a cached value without loading. Stale entries count.
func (c *Cache[V]) Peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || !c.now().Before(e.staleAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictLocked drops the oldest inserted keys once MaxEntries is exceeded.
func (c *Cache[V]) evictLocked() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

func fire(hook func(string), key string) {
	if hook != nil {
		hook(key)
	}
}
