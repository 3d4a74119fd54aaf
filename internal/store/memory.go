package store

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryBackend is the default durable tier: a mutex-guarded map per entity.
// Per-entity operations are atomic under the lock.
type MemoryBackend struct {
	mu    sync.Mutex
	conns map[string]PeerConnection
	subs  map[string]Subscription
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		conns: make(map[string]PeerConnection),
		subs:  make(map[string]Subscription),
	}
}

func (b *MemoryBackend) PutConnection(_ context.Context, conn *PeerConnection) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn.NostrPubkey] = *conn
	return nil
}

func (b *MemoryBackend) GetConnection(_ context.Context, pubkey string) (*PeerConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, ok := b.conns[pubkey]
	if !ok {
		return nil, ErrNotFound
	}
	out := conn
	return &out, nil
}

func (b *MemoryBackend) DeleteConnection(_ context.Context, pubkey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.conns[pubkey]; !ok {
		return ErrNotFound
	}
	delete(b.conns, pubkey)
	return nil
}

func (b *MemoryBackend) ListConnections(_ context.Context) ([]*PeerConnection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*PeerConnection, 0, len(b.conns))
	for _, conn := range b.conns {
		c := conn
		out = append(out, &c)
	}
	return out, nil
}

func (b *MemoryBackend) PutSubscription(_ context.Context, sub *Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.ID] = *sub
	return nil
}

func (b *MemoryBackend) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := sub
	return &out, nil
}

func (b *MemoryBackend) DeleteSubscription(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return ErrNotFound
	}
	delete(b.subs, id)
	return nil
}

func (b *MemoryBackend) ListSubscriptions(_ context.Context) ([]*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		s := sub
		out = append(out, &s)
	}
	return out, nil
}

// MemoryCache is a capped LRU with per-entry TTL, usable when no Redis tier
// is configured.
type MemoryCache struct {
	mu      sync.Mutex
	cap     int
	entries map[string]*list.Element
	order   *list.List
}

type memoryCacheEntry struct {
	key     string
	value   []byte
	expires time.Time
}

const DefaultMemoryCacheCap = 4096

func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultMemoryCacheCap
	}
	return &MemoryCache{
		cap:     capacity,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	ent := el.Value.(*memoryCacheEntry)
	if !ent.expires.After(now) {
		delete(c.entries, key)
		c.order.Remove(el)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	out := make([]byte, len(ent.value))
	copy(out, ent.value)
	return out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := time.Now()
	stored := make([]byte, len(value))
	copy(stored, value)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*memoryCacheEntry)
		ent.value = stored
		ent.expires = now.Add(ttl)
		c.order.MoveToFront(el)
		return nil
	}
	el := c.order.PushFront(&memoryCacheEntry{key: key, value: stored, expires: now.Add(ttl)})
	c.entries[key] = el
	for len(c.entries) > c.cap {
		back := c.order.Back()
		if back == nil {
			break
		}
		old := back.Value.(*memoryCacheEntry)
		delete(c.entries, old.key)
		c.order.Remove(back)
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.order.Remove(el)
	}
	return nil
}
