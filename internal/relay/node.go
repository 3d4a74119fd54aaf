package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"ilprelay/internal/metrics"
	"ilprelay/internal/wire"
)

// Node is the packet-level entry point: raw bytes in, a hashlocked
// fulfillment or an ILP rejection out. Everything between is the handler
// registry's job.
type Node struct {
	handlers  *Registry
	metrics   *metrics.Metrics
	minAmount uint64
}

type NodeOptions struct {
	// MinAmount is the smallest payment accepted per packet; anything
	// below is rejected with the insufficient-destination code.
	MinAmount uint64
	Metrics   *metrics.Metrics
}

func NewNode(handlers *Registry, opts NodeOptions) (*Node, error) {
	if handlers == nil {
		return nil, fmt.Errorf("missing handler registry")
	}
	return &Node{
		handlers:  handlers,
		metrics:   opts.Metrics,
		minAmount: opts.MinAmount,
	}, nil
}

// Handle processes one inbound buffer. condition is the hashlock from the
// surrounding ILP prepare; preimage may be nil, in which case a fresh one
// is generated and its derived condition returned in the fulfillment.
// Exactly one of the two return values is non-nil.
func (n *Node) Handle(ctx context.Context, buf []byte, condition [32]byte, preimage []byte) (*wire.Fulfillment, *wire.Rejection) {
	if !wire.Detect(buf) {
		if n.metrics != nil {
			n.metrics.IncMalformed()
		}
		return nil, n.reject(fmt.Errorf("not a wrapped packet"), wire.CodeInvalidPacket)
	}
	pkt, err := wire.Parse(buf)
	if err != nil {
		if n.metrics != nil {
			n.metrics.IncMalformed()
		}
		return nil, n.reject(err, wire.CodeInvalidPacket)
	}
	if pkt.Payload.Payment.Amount < n.minAmount {
		return nil, n.reject(
			fmt.Errorf("payment %d below minimum %d", pkt.Payload.Payment.Amount, n.minAmount),
			wire.CodeInsufficientDestination,
		)
	}

	resp, err := n.handlers.Route(ctx, pkt)
	if err != nil {
		if errors.Is(err, ErrNoHandler) {
			return nil, n.reject(err, wire.CodeApplicationError)
		}
		return nil, n.reject(err, wire.CodeTemporaryFailure)
	}
	if n.metrics != nil {
		n.metrics.IncRouted()
	}

	f, err := wire.BuildFulfillment(resp, condition, preimage)
	if err != nil {
		// A condition mismatch means the money cannot be claimed; the
		// work is done but the packet must be rejected.
		logrus.Errorf("relay fulfillment failed type=%s err=%v", pkt.Type, err)
		return nil, n.reject(err, wire.CodeApplicationError)
	}
	return f, nil
}

func (n *Node) reject(err error, code wire.RejectionCode) *wire.Rejection {
	if n.metrics != nil {
		n.metrics.IncRejected()
	}
	logrus.Debugf("relay reject code=%s err=%v", code, err)
	return wire.BuildRejection(err, code)
}
