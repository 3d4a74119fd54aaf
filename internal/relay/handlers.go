package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ilprelay/internal/event"
	"ilprelay/internal/propagate"
	"ilprelay/internal/store"
	"ilprelay/internal/subindex"
	"ilprelay/internal/wire"
)

// TransportProvider resolves a subscriber's routing address to the live
// transport handle for pushing packets back to it.
type TransportProvider interface {
	TransportFor(subscriber string) (propagate.Transport, bool)
}

// EventHandler accepts inbound EVENT packets: validates the event, hands it
// to the propagation pipeline and acknowledges with OK.
type EventHandler struct {
	Pipeline *propagate.Pipeline
	Verifier event.Verifier
}

func (h *EventHandler) Handle(ctx context.Context, pkt *wire.Packet) (*wire.Response, error) {
	ev := pkt.Payload.Event
	if ev == nil {
		return wire.OKResponse("", false, "invalid: missing event"), nil
	}
	if err := ev.Validate(); err != nil {
		return wire.OKResponse(ev.ID, false, "invalid: "+err.Error()), nil
	}
	if h.Verifier != nil {
		if err := h.Verifier.Verify(ev); err != nil {
			return wire.OKResponse(ev.ID, false, "invalid: bad signature"), nil
		}
	}
	out, err := h.Pipeline.Propagate(ctx, ev, pkt.Payload.Metadata)
	if err != nil {
		return nil, fmt.Errorf("propagate: %w", err)
	}
	logrus.Debugf("relay event accepted id=%s delivered=%d", ev.ID, out.Delivered)
	return wire.OKResponse(ev.ID, true, ""), nil
}

// ReqHandler accepts inbound REQ packets: it persists the subscription,
// indexes its filters and registers the requesting peer's transport so
// matching events flow back.
type ReqHandler struct {
	Store      *store.Store
	Index      *subindex.Index
	Registry   *propagate.Registry
	Transports TransportProvider
	DefaultTTL time.Duration
}

func (h *ReqHandler) Handle(ctx context.Context, pkt *wire.Packet) (*wire.Response, error) {
	subscriber := pkt.Payload.Metadata.Sender
	if subscriber == "" {
		return wire.NoticeResponse("invalid: subscription without sender"), nil
	}
	if len(pkt.Payload.Filters) == 0 {
		return wire.NoticeResponse("invalid: subscription without filters"), nil
	}
	id := pkt.Payload.SubscriptionID
	if id == "" {
		id = uuid.NewString()
	}
	sub := &store.Subscription{
		ID:         id,
		Subscriber: subscriber,
		Filters:    pkt.Payload.Filters,
		Active:     true,
	}
	if h.DefaultTTL > 0 {
		sub.ExpiresAt = time.Now().Add(h.DefaultTTL)
	}
	if err := h.Store.PutSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("persist subscription: %w", err)
	}
	h.Index.Add(sub.ID, sub.Filters)
	tr, ok := h.Transports.TransportFor(subscriber)
	if !ok {
		// Indexed and persisted, but nothing can be delivered until the
		// peer's transport shows up.
		logrus.Warnf("relay subscription without transport sub=%s peer=%s", sub.ID, subscriber)
	}
	h.Registry.Add(sub, tr)
	logrus.Infof("relay subscription created sub=%s peer=%s filters=%d", sub.ID, subscriber, len(sub.Filters))
	return wire.EOSEResponse(sub.ID), nil
}

// CloseHandler removes a subscription and all of its index entries.
type CloseHandler struct {
	Store    *store.Store
	Index    *subindex.Index
	Registry *propagate.Registry
}

func (h *CloseHandler) Handle(ctx context.Context, pkt *wire.Packet) (*wire.Response, error) {
	id := pkt.Payload.SubscriptionID
	if id == "" {
		return wire.NoticeResponse("invalid: close without subscription id"), nil
	}
	sub, err := h.Store.GetSubscription(ctx, id)
	if err != nil {
		// Closing an unknown subscription is not an error for the peer.
		return wire.OKResponse(id, true, "already closed"), nil
	}
	h.Index.Remove(sub.ID, sub.Filters)
	h.Registry.Remove(sub.ID)
	if err := h.Store.DeleteSubscription(ctx, id); err != nil {
		return nil, fmt.Errorf("delete subscription: %w", err)
	}
	logrus.Infof("relay subscription closed sub=%s peer=%s", sub.ID, sub.Subscriber)
	return wire.OKResponse(id, true, "closed"), nil
}

// AuthHandler acknowledges AUTH packets. Challenge verification is done by
// the injected checker; without one every AUTH is accepted.
type AuthHandler struct {
	Check func(ctx context.Context, pkt *wire.Packet) error
}

func (h *AuthHandler) Handle(ctx context.Context, pkt *wire.Packet) (*wire.Response, error) {
	if h.Check != nil {
		if err := h.Check(ctx, pkt); err != nil {
			return wire.NoticeResponse("auth rejected: " + err.Error()), nil
		}
	}
	return wire.NoticeResponse("auth accepted"), nil
}

// NoticeHandler logs inbound notices; peers get no reply beyond an ack.
type NoticeHandler struct{}

func (NoticeHandler) Handle(_ context.Context, pkt *wire.Packet) (*wire.Response, error) {
	logrus.Infof("relay notice from=%s msg=%s", pkt.Payload.Metadata.Sender, pkt.Payload.Message)
	return wire.NoticeResponse("ack"), nil
}
