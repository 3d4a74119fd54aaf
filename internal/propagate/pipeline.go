// Package propagate decides, for each incoming event, exactly which
// connected subscribers receive it, exactly once, without unbounded
// flooding. The gates (TTL, dedup, reachability, sender exclusion, rate
// limit) run sequentially before any delivery starts; the fan-out itself is
// concurrent with per-subscriber failure isolation.
package propagate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ilprelay/internal/event"
	"ilprelay/internal/metrics"
	"ilprelay/internal/subindex"
	"ilprelay/internal/wire"
)

// ConnectionSet is the lifecycle's view of which peers are currently
// reachable, keyed by the peer's routing address.
type ConnectionSet interface {
	Reachable(subscriber string) bool
}

// AllReachable treats every subscriber as connected; useful in tests and in
// single-node deployments without a mesh.
type AllReachable struct{}

func (AllReachable) Reachable(string) bool { return true }

type Pipeline struct {
	index       *subindex.Index
	registry    *Registry
	conns       ConnectionSet
	seen        *seenCache
	limiter     *deliveryLimiter
	metrics     *metrics.Metrics
	sendTimeout time.Duration

	mu         sync.Mutex
	deliveries map[string]map[string]time.Time
}

type Options struct {
	DedupCap       int
	DedupTTL       time.Duration
	DeliveryBudget int
	RefillWindow   time.Duration
	SendTimeout    time.Duration
	Metrics        *metrics.Metrics
}

const defaultSendTimeout = 10 * time.Second

// Outcome reports what one Propagate call did, for introspection and tests.
type Outcome struct {
	EventID    string
	Candidates int
	Delivered  int
	Skipped    int
	Failed     int
}

// New constructs a pipeline instance. Each relay hop runs its own instance
// with a fresh dedup cache; nothing here is process-global.
func New(index *subindex.Index, registry *Registry, conns ConnectionSet, opts Options) (*Pipeline, error) {
	if index == nil || registry == nil {
		return nil, fmt.Errorf("missing index or registry")
	}
	if conns == nil {
		conns = AllReachable{}
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Pipeline{
		index:       index,
		registry:    registry,
		conns:       conns,
		seen:        newSeenCache(opts.DedupCap, opts.DedupTTL),
		limiter:     newDeliveryLimiter(opts.DeliveryBudget, opts.RefillWindow),
		metrics:     opts.Metrics,
		sendTimeout: sendTimeout,
		deliveries:  make(map[string]map[string]time.Time),
	}, nil
}

// Propagate runs the full gate sequence and fans the event out. Transport
// failures are isolated per subscriber and never surface to the caller; the
// returned error covers only invalid input.
func (p *Pipeline) Propagate(ctx context.Context, ev *event.Event, meta wire.Metadata) (Outcome, error) {
	if ev == nil || ev.ID == "" {
		return Outcome{}, fmt.Errorf("missing event")
	}
	out := Outcome{EventID: ev.ID}

	// TTL gate: an exhausted packet is dropped before anything else runs,
	// including the dedup mark.
	if meta.TTL <= 0 {
		if p.metrics != nil {
			p.metrics.IncDropTTL()
		}
		logrus.Debugf("propagate drop ttl event=%s sender=%s", ev.ID, meta.Sender)
		return out, nil
	}

	// Dedup gate: check and mark under one lock so concurrent copies of
	// the same event cannot both pass. The id is recorded even if no
	// subscriber ends up matching.
	if p.seen.CheckAndMark(ev.ID) {
		if p.metrics != nil {
			p.metrics.IncDropDuplicate()
		}
		logrus.Debugf("propagate drop duplicate event=%s", ev.ID)
		return out, nil
	}
	if p.metrics != nil {
		p.metrics.IncPropagated()
	}

	targets := p.selectTargets(ev, meta, &out)
	if len(targets) == 0 {
		p.recordOutcome(out)
		return out, nil
	}

	packet, err := buildDeliveryPacket(ev, meta)
	if err != nil {
		return out, err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, tgt := range targets {
		wg.Add(1)
		go func(tgt target) {
			defer wg.Done()
			data, err := packetFor(packet, tgt.subID)
			if err == nil {
				sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
				err = tgt.transport.Deliver(sendCtx, data)
				cancel()
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One subscriber's failure never aborts delivery to the rest.
				out.Failed++
				if p.metrics != nil {
					p.metrics.IncDeliveryFailed()
				}
				logrus.Warnf("propagate deliver failed event=%s sub=%s peer=%s err=%v", ev.ID, tgt.subID, tgt.peer, err)
				return
			}
			out.Delivered++
			if p.metrics != nil {
				p.metrics.IncDelivered()
			}
			p.recordDelivery(tgt.peer, ev.ID)
		}(tgt)
	}
	wg.Wait()

	p.recordOutcome(out)
	return out, nil
}

type target struct {
	subID     string
	peer      string
	transport Transport
}

// selectTargets applies the synchronous gates in order: index shortlist,
// reachability, full filter recheck, sender exclusion, rate limit.
func (p *Pipeline) selectTargets(ev *event.Event, meta wire.Metadata, out *Outcome) []target {
	candidates := p.index.FindCandidates(ev)
	out.Candidates = len(candidates)

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := time.Now()
	var targets []target
	seenPeer := make(map[string]struct{})
	for _, id := range ids {
		sub, tr, ok := p.registry.Lookup(id)
		if !ok || tr == nil || !sub.Active {
			continue
		}
		if !sub.ExpiresAt.IsZero() && sub.ExpiresAt.Before(now) {
			continue
		}
		if !p.conns.Reachable(sub.Subscriber) {
			continue
		}
		// The index returns a superset; the filter set is authoritative.
		if !event.MatchesAny(sub.Filters, ev) {
			continue
		}
		// Never echo an event back to its publisher.
		if sub.Subscriber != "" && sub.Subscriber == meta.Sender {
			continue
		}
		// One delivery per peer per event even when several of its
		// subscriptions match.
		if _, dup := seenPeer[sub.Subscriber]; dup {
			continue
		}
		if !p.limiter.Allow(sub.Subscriber) {
			out.Skipped++
			if p.metrics != nil {
				p.metrics.IncDropRateLimit()
			}
			logrus.Debugf("propagate rate limited peer=%s event=%s", sub.Subscriber, ev.ID)
			continue
		}
		seenPeer[sub.Subscriber] = struct{}{}
		targets = append(targets, target{subID: sub.ID, peer: sub.Subscriber, transport: tr})
	}
	return targets
}

type deliveryPacket struct {
	base wire.Packet
}

func buildDeliveryPacket(ev *event.Event, meta wire.Metadata) (*deliveryPacket, error) {
	pkt := wire.Packet{
		Version: wire.Version,
		Type:    wire.TypeEvent,
		Payload: wire.Payload{
			Event: ev,
			Metadata: wire.Metadata{
				Timestamp: time.Now().Unix(),
				Sender:    meta.Sender,
				TTL:       meta.TTL - 1,
				HopCount:  meta.HopCount + 1,
			},
		},
	}
	return &deliveryPacket{base: pkt}, nil
}

func packetFor(p *deliveryPacket, subID string) ([]byte, error) {
	pkt := p.base
	pkt.Payload.SubscriptionID = subID
	return wire.Serialize(&pkt)
}

func (p *Pipeline) recordDelivery(peer, eventID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.deliveries[peer]
	if !ok {
		m = make(map[string]time.Time)
		p.deliveries[peer] = m
	}
	m[eventID] = time.Now()
}

// DeliveredTo reports whether this pipeline instance delivered eventID to
// the given peer.
func (p *Pipeline) DeliveredTo(peer, eventID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.deliveries[peer]
	if !ok {
		return false
	}
	_, ok = m[eventID]
	return ok
}

func (p *Pipeline) recordOutcome(out Outcome) {
	if p.metrics == nil || p.metrics.Recent() == nil {
		return
	}
	p.metrics.Recent().Add(metrics.DeliveryHeader{
		EventID:    out.EventID,
		Candidates: out.Candidates,
		Delivered:  out.Delivered,
		Skipped:    out.Skipped,
		Failed:     out.Failed,
	})
}

type Stats struct {
	DedupSize    int `json:"dedup_size"`
	PeersTracked int `json:"peers_tracked"`
	LimiterPeers int `json:"limiter_peers"`
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	peers := len(p.deliveries)
	p.mu.Unlock()
	return Stats{
		DedupSize:    p.seen.Len(),
		PeersTracked: peers,
		LimiterPeers: p.limiter.Len(),
	}
}
