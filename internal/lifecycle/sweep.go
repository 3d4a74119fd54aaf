package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ilprelay/internal/store"
)

// RunSweeper periodically forces stale connected peers to DISCONNECTED.
// It backstops the per-peer monitors: even if a monitor goroutine dies, a
// peer whose last heartbeat is older than interval+timeout+grace cannot
// stay CONNECTED. Blocks until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass over every connection record.
func (m *Manager) SweepOnce(ctx context.Context) int {
	conns, err := m.store.ListConnections(ctx)
	if err != nil {
		logrus.Warnf("lifecycle sweep list failed err=%v", err)
		return 0
	}
	cutoff := m.cfg.HeartbeatInterval + m.cfg.HeartbeatTimeout + m.cfg.SweepGrace
	now := time.Now()
	swept := 0
	for _, conn := range conns {
		if conn.State != store.StateConnected {
			continue
		}
		if now.Sub(conn.LastHeartbeat) <= cutoff {
			continue
		}
		if m.sweepPeer(ctx, conn.NostrPubkey, cutoff, now) {
			swept++
		}
	}
	return swept
}

func (m *Manager) sweepPeer(ctx context.Context, pubkey string, cutoff time.Duration, now time.Time) bool {
	m.StopMonitoring(pubkey)
	lock := m.peerLock(pubkey)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a pong may have landed since the list.
	conn, err := m.store.GetConnection(ctx, pubkey)
	if err != nil {
		return false
	}
	if conn.State != store.StateConnected || now.Sub(conn.LastHeartbeat) <= cutoff {
		return false
	}
	if err := m.transition(ctx, conn, store.StateDisconnected); err != nil {
		logrus.Warnf("lifecycle sweep transition failed peer=%s err=%v", pubkey, err)
		return false
	}
	if m.metrics != nil {
		m.metrics.IncSweepDisconnects()
	}
	logrus.Infof("lifecycle sweep disconnected stale peer=%s age=%s", pubkey, now.Sub(conn.LastHeartbeat).Truncate(time.Second))
	return true
}
