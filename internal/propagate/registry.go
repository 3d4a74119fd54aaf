package propagate

import (
	"context"
	"sync"

	"ilprelay/internal/store"
)

// Transport pushes a serialized wrapped packet to one subscriber. Handles
// are process-local; they are registered here, never persisted.
type Transport interface {
	Deliver(ctx context.Context, packet []byte) error
}

// Registry pairs active subscriptions with their transport handles. The
// relay's subscribe/unsubscribe handlers keep it in sync with the store.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*subscriber
}

type subscriber struct {
	sub       store.Subscription
	transport Transport
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*subscriber)}
}

func (r *Registry) Add(sub *store.Subscription, tr Transport) {
	if sub == nil || sub.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = &subscriber{sub: *sub, transport: tr}
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// RemoveBySubscriber drops every subscription owned by one peer address,
// returning the removed records. Used when the owning connection is lost.
func (r *Registry) RemoveBySubscriber(subscriber string) []store.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []store.Subscription
	for id, s := range r.subs {
		if s.sub.Subscriber == subscriber {
			removed = append(removed, s.sub)
			delete(r.subs, id)
		}
	}
	return removed
}

func (r *Registry) Lookup(id string) (store.Subscription, Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return store.Subscription{}, nil, false
	}
	return s.sub, s.transport, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
