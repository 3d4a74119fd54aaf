package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ilprelay/internal/store"
)

// monitor is the per-peer heartbeat state: a ping ticker plus a timeout
// timer armed after each probe. Pong disarms the timer; an expiry forces the
// peer to DISCONNECTED.
type monitor struct {
	pubkey string
	cancel context.CancelFunc

	mu      sync.Mutex
	timeout *time.Timer
	stopped bool
}

func (mon *monitor) arm(d time.Duration, onTimeout func()) {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.stopped {
		return
	}
	if mon.timeout != nil {
		mon.timeout.Stop()
	}
	mon.timeout = time.AfterFunc(d, onTimeout)
}

func (mon *monitor) disarm() bool {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.stopped {
		return false
	}
	if mon.timeout != nil {
		mon.timeout.Stop()
		mon.timeout = nil
	}
	return true
}

func (mon *monitor) stop() {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	mon.stopped = true
	if mon.timeout != nil {
		mon.timeout.Stop()
		mon.timeout = nil
	}
	mon.cancel()
}

// StartMonitoring launches the heartbeat loop for a peer. Starting an
// already monitored peer replaces the previous monitor.
func (m *Manager) StartMonitoring(ctx context.Context, pubkey string) {
	mctx, cancel := context.WithCancel(ctx)
	mon := &monitor{pubkey: pubkey, cancel: cancel}

	m.mu.Lock()
	if old, ok := m.monitors[pubkey]; ok {
		old.stop()
	}
	m.monitors[pubkey] = mon
	m.mu.Unlock()

	go m.heartbeatLoop(mctx, mon)
}

func (m *Manager) heartbeatLoop(ctx context.Context, mon *monitor) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Arm before probing: a pong arriving during the probe must
			// find the timer already pending.
			mon.arm(m.cfg.HeartbeatTimeout, func() { m.onHeartbeatTimeout(mon.pubkey) })
			if m.pinger != nil {
				if err := m.pinger.Ping(ctx, mon.pubkey); err != nil {
					logrus.Debugf("heartbeat ping failed peer=%s err=%v", mon.pubkey, err)
				}
			}
		}
	}
}

// Pong records a heartbeat reply: the pending timeout is disarmed and
// LastHeartbeat advances. A pong for a peer that is not monitored (or whose
// monitor was just stopped) is ignored.
func (m *Manager) Pong(ctx context.Context, pubkey string) {
	m.mu.Lock()
	mon, ok := m.monitors[pubkey]
	m.mu.Unlock()
	if !ok || !mon.disarm() {
		return
	}

	lock := m.peerLock(pubkey)
	lock.Lock()
	defer lock.Unlock()
	conn, err := m.store.GetConnection(ctx, pubkey)
	if err != nil {
		return
	}
	conn.LastHeartbeat = time.Now()
	conn.UpdatedAt = conn.LastHeartbeat
	if err := m.store.PutConnection(ctx, conn); err != nil {
		logrus.Warnf("heartbeat persist failed peer=%s err=%v", pubkey, err)
	}
}

// StopMonitoring tears down the peer's monitor. Safe to call for a peer
// that was never monitored.
func (m *Manager) StopMonitoring(pubkey string) {
	m.mu.Lock()
	mon, ok := m.monitors[pubkey]
	if ok {
		delete(m.monitors, pubkey)
	}
	m.mu.Unlock()
	if ok {
		mon.stop()
	}
}

// Monitored reports whether a heartbeat loop is running for the peer.
func (m *Manager) Monitored(pubkey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.monitors[pubkey]
	return ok
}

func (m *Manager) onHeartbeatTimeout(pubkey string) {
	if m.metrics != nil {
		m.metrics.IncHeartbeatTimeouts()
	}
	logrus.Warnf("heartbeat timeout peer=%s", pubkey)
	m.StopMonitoring(pubkey)

	lock := m.peerLock(pubkey)
	lock.Lock()
	defer lock.Unlock()
	conn, err := m.store.GetConnection(context.Background(), pubkey)
	if err != nil {
		return
	}
	if conn.State != store.StateConnected {
		return
	}
	if err := m.transition(context.Background(), conn, store.StateDisconnected); err != nil {
		logrus.Warnf("heartbeat disconnect failed peer=%s err=%v", pubkey, err)
	}
}
