// ABOUTME: Thread-safe TTL cache of claimed idempotency keys
// ABOUTME: Lets the gateway reject a repeated dialog submission inside a time window

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// MaxKeyLength bounds client-supplied idempotency keys.
const MaxKeyLength = 100

// Key scopes a client-supplied idempotency key to one user so two users
// can never collide.
func Key(userID, idempotencyKey string) string {
	return userID + ":" + idempotencyKey
}

type entry struct {
	claimedAt time.Time
	element   *list.Element
}

// Cache remembers claimed keys for ttl, holding at most maxSize of them.
// The oldest claim is evicted first when full.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*entry
	order   *list.List // keys, oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts its background sweeper. Call Close to stop it.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &Cache{
		claims:  make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweep(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

func (c *Cache) liveLocked(key string) (*entry, bool) {
	e, ok := c.claims[key]
	if !ok {
		return nil, false
	}
	return e, c.now().Sub(e.claimedAt) < c.ttl
}

// Seen reports whether key holds an unexpired claim.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, live := c.liveLocked(key)
	return live
}

// Claim records key and reports true, or reports false when key already holds
// an unexpired claim. Check and record happen under one lock.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, live := c.liveLocked(key)
	if live {
		return false
	}
	if e != nil {
		e.claimedAt = c.now()
		c.order.MoveToBack(e.element)
		return true
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.claims[key] = &entry{claimedAt: c.now(), element: c.order.PushBack(key)}
	return true
}

// Release drops a claim so the same key may be submitted again, used when
// the claimed request failed before anything was stored.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.claims[key]; ok {
		c.order.Remove(e.element)
		delete(c.claims, key)
	}
}

// Len returns the number of held claims, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, key)
}

func (c *Cache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired walks from the oldest claim and stops at the first live one.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if _, live := c.liveLocked(key); live {
			return
		}
		c.order.Remove(front)
		delete(c.claims, key)
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
