// Package lifecycle drives each peer connection through its state machine:
// discovery, channel negotiation, the connected steady state with
// heartbeats, and disconnection. It is the only writer of
// store.PeerConnection.State.
package lifecycle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"

	"ilprelay/internal/metrics"
	"ilprelay/internal/payment"
	"ilprelay/internal/store"
)

// PeerInfo is the result of resolving a peer identity to a routing address.
type PeerInfo struct {
	ILPAddress string
	Endpoint   string
}

// Resolver maps a peer pubkey to its routing address, typically by querying
// a discovery service. A resolution failure fails the connection attempt.
type Resolver interface {
	ResolveRoutingAddress(ctx context.Context, pubkey string) (*PeerInfo, error)
}

// Pinger sends a heartbeat probe to a peer. Optional; without one the
// monitor still arms timeouts and relies on unsolicited pongs.
type Pinger interface {
	Ping(ctx context.Context, pubkey string) error
}

// ChannelRequest asks the operator (or an automated funder) to open a
// payment channel toward a peer.
type ChannelRequest struct {
	RequestID     string `json:"request_id"`
	PeerPubkey    string `json:"peer_pubkey"`
	ILPAddress    string `json:"ilp_address"`
	Account       string `json:"account"`
	EstimatedCost uint64 `json:"estimated_cost"`
}

// Events carries the callbacks a subscriber wants. Nil fields are skipped.
// Callbacks run synchronously on the transitioning goroutine while the
// per-peer lock is held, so they must not invoke Connect, Disconnect,
// ChannelOpened or Pong for the same peer. StartMonitoring is safe.
type Events struct {
	StateChange   func(pubkey string, from, to store.ConnState)
	ChannelNeeded func(req ChannelRequest)
	Connected     func(pubkey string)
}

type Config struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
	SweepGrace        time.Duration
	EstimatedCost     uint64
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second
	defaultSweepInterval     = time.Minute
	defaultSweepGrace        = 15 * time.Second
	defaultEstimatedCost     = 1000
)

func (c *Config) fill() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if c.SweepGrace <= 0 {
		c.SweepGrace = defaultSweepGrace
	}
	if c.EstimatedCost == 0 {
		c.EstimatedCost = defaultEstimatedCost
	}
}

type Manager struct {
	store    *store.Store
	resolver Resolver
	channels payment.Manager
	pinger   Pinger
	metrics  *metrics.Metrics
	cfg      Config

	mu        sync.Mutex
	peerLocks map[string]*sync.Mutex
	monitors  map[string]*monitor
	byAddr    map[string]string
	listeners []Events
}

func New(st *store.Store, resolver Resolver, channels payment.Manager, cfg Config) (*Manager, error) {
	if st == nil || resolver == nil || channels == nil {
		return nil, fmt.Errorf("missing store, resolver or channel manager")
	}
	cfg.fill()
	return &Manager{
		store:     st,
		resolver:  resolver,
		channels:  channels,
		cfg:       cfg,
		peerLocks: make(map[string]*sync.Mutex),
		monitors:  make(map[string]*monitor),
		byAddr:    make(map[string]string),
	}, nil
}

// SetPinger installs the heartbeat probe sender. Call before StartMonitoring.
func (m *Manager) SetPinger(p Pinger) { m.pinger = p }

// SetMetrics installs the shared counter set.
func (m *Manager) SetMetrics(mx *metrics.Metrics) { m.metrics = mx }

// Subscribe registers lifecycle event callbacks.
func (m *Manager) Subscribe(ev Events) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, ev)
}

// peerLock returns the per-peer mutex, creating it on first use. All
// read-modify-write cycles on one connection record hold this lock.
func (m *Manager) peerLock(pubkey string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.peerLocks[pubkey]
	if !ok {
		l = &sync.Mutex{}
		m.peerLocks[pubkey] = l
	}
	return l
}

// Connect starts (or resumes) the connection attempt toward a peer. Calling
// it for a peer that is already discovering, connecting or connected is a
// no-op returning the current record.
func (m *Manager) Connect(ctx context.Context, pubkey string, priority int) (*store.PeerConnection, error) {
	if pubkey == "" {
		return nil, fmt.Errorf("empty peer pubkey")
	}
	lock := m.peerLock(pubkey)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.store.GetConnection(ctx, pubkey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		now := time.Now()
		conn = &store.PeerConnection{
			NostrPubkey: pubkey,
			State:       store.StateDiscovering,
			Priority:    priority,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.store.PutConnection(ctx, conn); err != nil {
			return nil, fmt.Errorf("persist new connection: %w", err)
		}
	case err != nil:
		return nil, err
	}

	switch conn.State {
	case store.StateDiscovering:
		return m.handleDiscovering(ctx, conn)
	case store.StateConnected, store.StateConnecting, store.StateChannelNeeded:
		// Already in flight or established.
		return conn, nil
	case store.StateDisconnected:
		conn.ReconnectAttempts++
		if err := m.transition(ctx, conn, store.StateConnecting); err != nil {
			return nil, err
		}
		return m.handleConnecting(ctx, conn)
	case store.StateFailed:
		if err := m.transition(ctx, conn, store.StateDiscovering); err != nil {
			return nil, err
		}
		return m.handleDiscovering(ctx, conn)
	default:
		return nil, fmt.Errorf("unknown connection state %q", conn.State)
	}
}

func (m *Manager) handleDiscovering(ctx context.Context, conn *store.PeerConnection) (*store.PeerConnection, error) {
	info, err := m.resolver.ResolveRoutingAddress(ctx, conn.NostrPubkey)
	if err != nil || info == nil || info.ILPAddress == "" {
		logrus.Warnf("lifecycle discovery failed peer=%s err=%v", conn.NostrPubkey, err)
		if terr := m.transition(ctx, conn, store.StateFailed); terr != nil {
			return nil, terr
		}
		return conn, nil
	}
	conn.ILPAddress = info.ILPAddress
	conn.Endpoint = info.Endpoint
	m.mu.Lock()
	m.byAddr[info.ILPAddress] = conn.NostrPubkey
	m.mu.Unlock()
	if err := m.transition(ctx, conn, store.StateConnecting); err != nil {
		return nil, err
	}
	return m.handleConnecting(ctx, conn)
}

func (m *Manager) handleConnecting(ctx context.Context, conn *store.PeerConnection) (*store.PeerConnection, error) {
	if conn.ILPAddress == "" {
		logrus.Warnf("lifecycle connecting without routing address peer=%s", conn.NostrPubkey)
		if err := m.transition(ctx, conn, store.StateFailed); err != nil {
			return nil, err
		}
		return conn, nil
	}
	if !m.channels.HasChannel(conn.ILPAddress) {
		if err := m.transition(ctx, conn, store.StateChannelNeeded); err != nil {
			return nil, err
		}
		return m.handleChannelNeeded(ctx, conn)
	}
	ch, err := m.channels.ChannelByPeer(conn.ILPAddress)
	if err != nil {
		logrus.Warnf("lifecycle channel lookup failed peer=%s err=%v", conn.NostrPubkey, err)
		if terr := m.transition(ctx, conn, store.StateFailed); terr != nil {
			return nil, terr
		}
		return conn, nil
	}
	conn.ChannelID = ch.ChannelID
	conn.ReconnectAttempts = 0
	conn.LastHeartbeat = time.Now()
	if err := m.transition(ctx, conn, store.StateConnected); err != nil {
		return nil, err
	}
	m.emitConnected(conn.NostrPubkey)
	return conn, nil
}

func (m *Manager) handleChannelNeeded(ctx context.Context, conn *store.PeerConnection) (*store.PeerConnection, error) {
	if conn.ILPAddress == "" {
		if err := m.transition(ctx, conn, store.StateFailed); err != nil {
			return nil, err
		}
		return conn, nil
	}
	req := ChannelRequest{
		RequestID:     uuid.NewString(),
		PeerPubkey:    conn.NostrPubkey,
		ILPAddress:    conn.ILPAddress,
		Account:       channelAccount(conn.NostrPubkey),
		EstimatedCost: m.cfg.EstimatedCost,
	}
	if m.metrics != nil {
		m.metrics.IncChannelRequests()
	}
	logrus.Infof("lifecycle channel needed peer=%s request=%s cost=%d", conn.NostrPubkey, req.RequestID, req.EstimatedCost)
	m.emitChannelNeeded(req)
	return conn, nil
}

// ChannelOpened tells the manager a channel toward the peer now exists and
// the connection attempt should resume.
func (m *Manager) ChannelOpened(ctx context.Context, pubkey string) (*store.PeerConnection, error) {
	lock := m.peerLock(pubkey)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.store.GetConnection(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, conn, store.StateConnecting); err != nil {
		return nil, err
	}
	return m.handleConnecting(ctx, conn)
}

// Disconnect moves the peer to DISCONNECTED and tears down its monitor. The
// record stays in the store for later reconnection.
func (m *Manager) Disconnect(ctx context.Context, pubkey string) error {
	m.StopMonitoring(pubkey)
	lock := m.peerLock(pubkey)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.store.GetConnection(ctx, pubkey)
	if err != nil {
		return err
	}
	return m.transition(ctx, conn, store.StateDisconnected)
}

// Connection returns the current record for a peer.
func (m *Manager) Connection(ctx context.Context, pubkey string) (*store.PeerConnection, error) {
	return m.store.GetConnection(ctx, pubkey)
}

// TransitionTo applies one state-machine edge for a peer under its lock and
// returns the updated record. Illegal edges fail with ErrInvalidTransition
// and leave the record untouched. Connect and Disconnect cover the normal
// flows; this is the escape hatch for operators and supervising code that
// need to force a specific edge.
func (m *Manager) TransitionTo(ctx context.Context, pubkey string, to store.ConnState) (*store.PeerConnection, error) {
	lock := m.peerLock(pubkey)
	lock.Lock()
	defer lock.Unlock()

	conn, err := m.store.GetConnection(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, conn, to); err != nil {
		return nil, err
	}
	return conn, nil
}

// Reachable reports whether the peer behind a routing address is currently
// connected and still paid-up. This is the propagation pipeline's
// reachability gate: a peer with a drained or closed channel is skipped
// even while its connection stays up.
func (m *Manager) Reachable(subscriber string) bool {
	m.mu.Lock()
	pubkey, ok := m.byAddr[subscriber]
	m.mu.Unlock()
	if !ok {
		return false
	}
	conn, err := m.store.GetConnection(context.Background(), pubkey)
	if err != nil {
		return false
	}
	if conn.State != store.StateConnected {
		return false
	}
	return m.channels.PaidUp(subscriber)
}

// transition applies one edge of the state machine. On an illegal edge the
// record is not mutated and not persisted.
func (m *Manager) transition(ctx context.Context, conn *store.PeerConnection, to store.ConnState) error {
	from := conn.State
	if err := checkTransition(from, to); err != nil {
		return err
	}
	conn.State = to
	conn.UpdatedAt = time.Now()
	if err := m.store.PutConnection(ctx, conn); err != nil {
		conn.State = from
		return fmt.Errorf("persist transition: %w", err)
	}
	if m.metrics != nil {
		m.metrics.IncTransitions()
	}
	logrus.Debugf("lifecycle transition peer=%s %s -> %s", conn.NostrPubkey, from, to)
	m.emitStateChange(conn.NostrPubkey, from, to)
	return nil
}

func (m *Manager) emitStateChange(pubkey string, from, to store.ConnState) {
	m.mu.Lock()
	listeners := append([]Events(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		if l.StateChange != nil {
			l.StateChange(pubkey, from, to)
		}
	}
}

func (m *Manager) emitChannelNeeded(req ChannelRequest) {
	m.mu.Lock()
	listeners := append([]Events(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		if l.ChannelNeeded != nil {
			l.ChannelNeeded(req)
		}
	}
}

func (m *Manager) emitConnected(pubkey string) {
	m.mu.Lock()
	listeners := append([]Events(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range listeners {
		if l.Connected != nil {
			l.Connected(pubkey)
		}
	}
}

// channelAccount derives a stable settlement account tag from the peer
// identity, so repeated channel requests for one peer name the same account.
func channelAccount(pubkey string) string {
	sum := sha3.Sum256([]byte("ilprelay/channel-account/" + pubkey))
	return hex.EncodeToString(sum[:8])
}
