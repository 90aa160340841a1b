package synth

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// cacheKey identifies one synthesis result.
func cacheKey(voice, text string) string {
	h := sha256.New()
	h.Write([]byte(voice))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

type cacheEntry[V any] struct {
	key     string
	value   V
	expires time.Time
}

// cache is a size-bounded LRU with per-entry expiry. It holds synthesised
// payloads and pinned chunk plans. A zero capacity disables caching.
type cache[V any] struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	ll    *list.List
	items map[string]*list.Element
	now   func() time.Time
}

func newCache[V any](capacity int, ttl time.Duration) *cache[V] {
	return &cache[V]{
		cap:   capacity,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

func (c *cache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*cacheEntry[V])
	if c.expired(e) {
		c.removeLocked(el)
		return zero, false
	}
	c.ll.MoveToFront(el)
	return e.value, true
}

func (c *cache[V]) put(key string, v V) {
	if c.cap <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.ttl > 0 {
		expires = c.now().Add(c.ttl)
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*cacheEntry[V])
		e.value, e.expires = v, expires
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&cacheEntry[V]{key: key, value: v, expires: expires})
	for c.ll.Len() > c.cap {
		c.removeLocked(c.ll.Back())
	}
}

func (c *cache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// sweep drops every expired entry and returns how many were removed.
func (c *cache[V]) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*cacheEntry[V])) {
			c.removeLocked(el)
			n++
		}
		el = prev
	}
	return n
}

func (c *cache[V]) expired(e *cacheEntry[V]) bool {
	return !e.expires.IsZero() && !c.now().Before(e.expires)
}

func (c *cache[V]) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*cacheEntry[V]).key)
}
