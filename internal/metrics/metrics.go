package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DeliveryHeader summarizes one recent fan-out for the snapshot file.
type DeliveryHeader struct {
	EventID    string `json:"event_id"`
	Candidates int    `json:"candidates"`
	Delivered  int    `json:"delivered"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
}

type Snapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Propagate   PropagateMetrics `json:"propagate"`
	Lifecycle   LifecycleMetrics `json:"lifecycle"`
	Wire        WireMetrics      `json:"wire"`
	Recent      []DeliveryHeader `json:"recent"`
}

type PropagateMetrics struct {
	Propagated     uint64 `json:"propagated"`
	DropTTL        uint64 `json:"drop_ttl"`
	DropDuplicate  uint64 `json:"drop_duplicate"`
	DropRateLimit  uint64 `json:"drop_rate_limit"`
	Delivered      uint64 `json:"delivered"`
	DeliveryFailed uint64 `json:"delivery_failed"`
}

type LifecycleMetrics struct {
	Transitions       uint64 `json:"transitions"`
	HeartbeatTimeouts uint64 `json:"heartbeat_timeouts"`
	SweepDisconnects  uint64 `json:"sweep_disconnects"`
	ChannelRequests   uint64 `json:"channel_requests"`
}

type WireMetrics struct {
	Routed    uint64 `json:"routed"`
	Malformed uint64 `json:"malformed"`
	Rejected  uint64 `json:"rejected"`
}

type Metrics struct {
	propagated        atomic.Uint64
	dropTTL           atomic.Uint64
	dropDuplicate     atomic.Uint64
	dropRateLimit     atomic.Uint64
	delivered         atomic.Uint64
	deliveryFailed    atomic.Uint64
	transitions       atomic.Uint64
	heartbeatTimeouts atomic.Uint64
	sweepDisconnects  atomic.Uint64
	channelRequests   atomic.Uint64
	routed            atomic.Uint64
	malformed         atomic.Uint64
	rejected          atomic.Uint64
	recent            *DeliveryRecent
}

func New() *Metrics {
	return &Metrics{recent: NewDeliveryRecent(64)}
}

func (m *Metrics) Recent() *DeliveryRecent {
	return m.recent
}

func (m *Metrics) IncPropagated() {
	m.propagated.Add(1)
}

func (m *Metrics) IncDropTTL() {
	m.dropTTL.Add(1)
}

func (m *Metrics) IncDropDuplicate() {
	m.dropDuplicate.Add(1)
}

func (m *Metrics) IncDropRateLimit() {
	m.dropRateLimit.Add(1)
}

func (m *Metrics) IncDelivered() {
	m.delivered.Add(1)
}

func (m *Metrics) IncDeliveryFailed() {
	m.deliveryFailed.Add(1)
}

func (m *Metrics) IncTransitions() {
	m.transitions.Add(1)
}

func (m *Metrics) IncHeartbeatTimeouts() {
	m.heartbeatTimeouts.Add(1)
}

func (m *Metrics) IncSweepDisconnects() {
	m.sweepDisconnects.Add(1)
}

func (m *Metrics) IncChannelRequests() {
	m.channelRequests.Add(1)
}

func (m *Metrics) IncRouted() {
	m.routed.Add(1)
}

func (m *Metrics) IncMalformed() {
	m.malformed.Add(1)
}

func (m *Metrics) IncRejected() {
	m.rejected.Add(1)
}

func (m *Metrics) Snapshot() Snapshot {
	recent := []DeliveryHeader{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Propagate: PropagateMetrics{
			Propagated:     m.propagated.Load(),
			DropTTL:        m.dropTTL.Load(),
			DropDuplicate:  m.dropDuplicate.Load(),
			DropRateLimit:  m.dropRateLimit.Load(),
			Delivered:      m.delivered.Load(),
			DeliveryFailed: m.deliveryFailed.Load(),
		},
		Lifecycle: LifecycleMetrics{
			Transitions:       m.transitions.Load(),
			HeartbeatTimeouts: m.heartbeatTimeouts.Load(),
			SweepDisconnects:  m.sweepDisconnects.Load(),
			ChannelRequests:   m.channelRequests.Load(),
		},
		Wire: WireMetrics{
			Routed:    m.routed.Load(),
			Malformed: m.malformed.Load(),
			Rejected:  m.rejected.Load(),
		},
		Recent: recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

type DeliveryRecent struct {
	mu   sync.Mutex
	cap  int
	list []DeliveryHeader
}

func NewDeliveryRecent(capacity int) *DeliveryRecent {
	if capacity <= 0 {
		capacity = 64
	}
	return &DeliveryRecent{cap: capacity}
}

func (r *DeliveryRecent) Add(h DeliveryHeader) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = h
		return
	}
	r.list = append(r.list, h)
}

func (r *DeliveryRecent) List() []DeliveryHeader {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeliveryHeader, len(r.list))
	copy(out, r.list)
	return out
}
