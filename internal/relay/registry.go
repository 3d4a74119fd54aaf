// Package relay dispatches inbound wrapped packets to per-type handlers and
// turns their results into ILP fulfillments or rejections.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"ilprelay/internal/wire"
)

var (
	ErrDuplicateHandler = errors.New("handler already registered for type")
	ErrNoHandler        = errors.New("no handler registered for type")
)

// Handler processes one inbound packet of a fixed message type.
type Handler interface {
	Handle(ctx context.Context, pkt *wire.Packet) (*wire.Response, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, pkt *wire.Packet) (*wire.Response, error)

func (f HandlerFunc) Handle(ctx context.Context, pkt *wire.Packet) (*wire.Response, error) {
	return f(ctx, pkt)
}

// Registry maps message types to handlers. Pure dispatch; it never inspects
// payloads.
type Registry struct {
	mu       sync.Mutex
	handlers map[wire.MessageType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[wire.MessageType]Handler)}
}

func (r *Registry) Register(t wire.MessageType, h Handler) error {
	if h == nil {
		return fmt.Errorf("nil handler for %s", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[t]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Unregister(t wire.MessageType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, t)
}

// Route hands the packet to the registered handler and returns its result
// unchanged.
func (r *Registry) Route(ctx context.Context, pkt *wire.Packet) (*wire.Response, error) {
	r.mu.Lock()
	h, ok := r.handlers[pkt.Type]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, pkt.Type)
	}
	return h.Handle(ctx, pkt)
}

// Types lists the registered message types in ascending order.
func (r *Registry) Types() []wire.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]wire.MessageType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
