// Package cache is an in-process TTL cache that runs at most one producer per
// key at a time and shares its result with every concurrent caller.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies a cached value. Params distinguishes variants of the same
// kind and date, such as a provider name.
type Key struct {
	Kind   string
	Date   string
	Params string
}

// String quotes each field so distinct keys never render the same.
func (k Key) String() string {
	return fmt.Sprintf("%q|%q|%q", k.Kind, k.Date, k.Params)
}

// Observer receives cache events, typically for metrics.
type Observer interface {
	Hit(kind string)
	Miss(kind string)
	Produced(kind string, err error)
}

type nopObserver struct{}

func (nopObserver) Hit(string)             {}
func (nopObserver) Miss(string)            {}
func (nopObserver) Produced(string, error) {}

// Policy maps a kind to its default freshness window
type Policy struct {
	TTLs    map[string]time.Duration
	Default time.Duration
}

// TTL returns the window for kind
func (p Policy) TTL(kind string) time.Duration {
	if ttl, ok := p.TTLs[kind]; ok && ttl > 0 {
		return ttl
	}
	if p.Default > 0 {
		return p.Default
	}
	return 5 * time.Minute
}

type entry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

// Cache is safe for concurrent use. Writes are serialized under a mutex;
// lookups of resolved entries only take the read lock.
type Cache struct {
	mu       sync.RWMutex
	entries  map[Key]entry
	group    singleflight.Group
	policy   Policy
	observer Observer
	now      func() time.Time

	// produceTimeout bounds a producer once it is detached from its caller
	produceTimeout time.Duration
}

// Option configures a Cache
type Option func(*Cache)

// WithPolicy sets per-kind default TTLs
func WithPolicy(p Policy) Option {
	return func(c *Cache) { c.policy = p }
}

// WithObserver reports hits, misses and producer calls
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithProducerTimeout bounds how long a producer may run
func WithProducerTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.produceTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// DefaultProducerTimeout bounds producers when no WithProducerTimeout is given
const DefaultProducerTimeout = 30 * time.Second

// New creates an empty cache
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:        make(map[Key]entry),
		observer:       nopObserver{},
		now:            time.Now,
		produceTimeout: DefaultProducerTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the policy window for kind
func (c *Cache) TTL(kind string) time.Duration {
	return c.policy.TTL(kind)
}

// Peek returns a still-valid value without producing one.
func (c *Cache) Peek(key Key) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) >= e.ttl {
		return nil, false
	}
	return e.value, true
}

// Set stores value with a fresh timestamp. ttl <= 0 uses the kind's policy.
func (c *Cache) Set(key Key, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.policy.TTL(key.Kind)
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, fetchedAt: c.now(), ttl: ttl}
	c.mu.Unlock()
}

// Invalidate drops one entry
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateKind drops every entry of a kind
func (c *Cache) InvalidateKind(kind string) {
	c.mu.Lock()
	for k := range c.entries {
		if k.Kind == kind {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Purge removes expired entries and returns how many were dropped.
func (c *Cache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if now.Sub(e.fetchedAt) >= e.ttl {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Fetch returns the cached value for key, or runs producer to fill it. While a
// producer for key is running, other callers wait for its result instead of
// starting their own. Errors are shared with the waiters but never cached.
//
// The producer runs with the values of the first caller's ctx but not its
// cancellation, so a caller that gives up only stops waiting; the others still
// get the result. The producer is bounded by the cache's producer timeout.
func Fetch[V any](ctx context.Context, c *Cache, key Key, ttl time.Duration, producer func(context.Context) (V, error)) (V, error) {
	var zero V

	if v, ok := c.Peek(key); ok {
		if typed, ok := v.(V); ok {
			c.observer.Hit(key.Kind)
			return typed, nil
		}
	}
	c.observer.Miss(key.Kind)

	ch := c.group.DoChan(key.String(), func() (any, error) {
		// a producer that finished between Peek and DoChan already stored it
		if v, ok := c.Peek(key); ok {
			return v, nil
		}
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.produceTimeout)
		defer cancel()
		v, err := producer(pctx)
		c.observer.Produced(key.Kind, err)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, ok := res.Val.(V)
		if !ok {
			return zero, fmt.Errorf("cache: %s holds %T", key, res.Val)
		}
		return typed, nil
	}
}
