package transport

import (
	"context"
	"sync"

	"ilprelay/internal/propagate"
)

// Peer is the delivery handle for one remote relay, bound to its endpoint.
type Peer struct {
	dialer   *Dialer
	endpoint string
}

func (p *Peer) Deliver(ctx context.Context, packet []byte) error {
	// The reply to a pushed event is advisory; errors matter, bytes do not.
	_, err := p.dialer.Exchange(ctx, p.endpoint, packet)
	return err
}

// Book maps subscriber routing addresses to endpoints and hands out
// transport handles for them. It backs the subscribe handler's transport
// lookup.
type Book struct {
	dialer *Dialer

	mu        sync.Mutex
	endpoints map[string]string
}

func NewBook(d *Dialer) *Book {
	return &Book{dialer: d, endpoints: make(map[string]string)}
}

func (b *Book) Set(subscriber, endpoint string) {
	if subscriber == "" || endpoint == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoints[subscriber] = endpoint
}

func (b *Book) Remove(subscriber string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, subscriber)
}

func (b *Book) TransportFor(subscriber string) (propagate.Transport, bool) {
	b.mu.Lock()
	endpoint, ok := b.endpoints[subscriber]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	return &Peer{dialer: b.dialer, endpoint: endpoint}, true
}

// Endpoint reports the stored endpoint for a subscriber.
func (b *Book) Endpoint(subscriber string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	endpoint, ok := b.endpoints[subscriber]
	return endpoint, ok
}
