package propagate

import (
	"container/list"
	"sync"
	"time"
)

const (
	defaultSeenCap = 4096
	defaultSeenTTL = 10 * time.Minute
)

// seenCache remembers processed event ids: capped LRU with per-entry TTL.
// "Seen" means the pipeline processed the event, not that anyone received it.
type seenCache struct {
	mu      sync.Mutex
	cap     int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List
}

type seenEntry struct {
	id      string
	expires time.Time
}

func newSeenCache(capacity int, ttl time.Duration) *seenCache {
	if capacity <= 0 {
		capacity = defaultSeenCap
	}
	if ttl <= 0 {
		ttl = defaultSeenTTL
	}
	return &seenCache{
		cap:     capacity,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// CheckAndMark reports whether id was already recorded and, when it was not,
// records it in the same critical section. Exactly one caller racing on a
// fresh id observes false.
func (c *seenCache) CheckAndMark(id string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(now)
	if el, ok := c.entries[id]; ok {
		ent := el.Value.(*seenEntry)
		if ent.expires.After(now) {
			c.order.MoveToFront(el)
			return true
		}
		delete(c.entries, id)
		c.order.Remove(el)
	}
	el := c.order.PushFront(&seenEntry{id: id, expires: now.Add(c.ttl)})
	c.entries[id] = el
	for len(c.entries) > c.cap {
		back := c.order.Back()
		if back == nil {
			break
		}
		old := back.Value.(*seenEntry)
		delete(c.entries, old.id)
		c.order.Remove(back)
	}
	return false
}

func (c *seenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *seenCache) pruneLocked(now time.Time) {
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(*seenEntry)
		if ent.expires.After(now) {
			el = prev
			continue
		}
		delete(c.entries, ent.id)
		c.order.Remove(el)
		el = prev
	}
}
