package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ilprelay/internal/propagate"
	"ilprelay/internal/store"
	"ilprelay/internal/subindex"
)

// SubscriptionCleaner tears down a peer's delivery state when its connection
// drops and prunes subscriptions past their expiry. OnStateChange plugs into
// the lifecycle listener; RunSweeper runs alongside the connection sweeper.
type SubscriptionCleaner struct {
	Store    *store.Store
	Index    *subindex.Index
	Registry *propagate.Registry
}

// OnStateChange drops every subscription held by a peer whose connection was
// just lost. Listener callbacks run while the lifecycle holds the peer's
// lock, so this touches only the store, index and registry.
func (c *SubscriptionCleaner) OnStateChange(pubkey string, _, to store.ConnState) {
	if to != store.StateDisconnected && to != store.StateFailed {
		return
	}
	ctx := context.Background()
	conn, err := c.Store.GetConnection(ctx, pubkey)
	if err != nil || conn.ILPAddress == "" {
		return
	}
	removed := c.Registry.RemoveBySubscriber(conn.ILPAddress)
	for _, sub := range removed {
		c.Index.Remove(sub.ID, sub.Filters)
		if err := c.Store.DeleteSubscription(ctx, sub.ID); err != nil {
			logrus.Warnf("relay subscription delete failed sub=%s err=%v", sub.ID, err)
		}
	}
	if len(removed) > 0 {
		logrus.Infof("relay subscriptions dropped peer=%s count=%d", conn.ILPAddress, len(removed))
	}
}

// SweepExpired removes every subscription whose expiry has passed and
// returns how many were dropped.
func (c *SubscriptionCleaner) SweepExpired(ctx context.Context) int {
	subs, err := c.Store.ListSubscriptions(ctx)
	if err != nil {
		logrus.Warnf("relay subscription sweep list failed err=%v", err)
		return 0
	}
	now := time.Now()
	dropped := 0
	for _, sub := range subs {
		if sub.ExpiresAt.IsZero() || sub.ExpiresAt.After(now) {
			continue
		}
		c.Index.Remove(sub.ID, sub.Filters)
		c.Registry.Remove(sub.ID)
		if err := c.Store.DeleteSubscription(ctx, sub.ID); err != nil {
			logrus.Warnf("relay subscription delete failed sub=%s err=%v", sub.ID, err)
			continue
		}
		dropped++
	}
	return dropped
}

// RunSweeper prunes expired subscriptions on a fixed interval until the
// context is cancelled.
func (c *SubscriptionCleaner) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.SweepExpired(ctx); n > 0 {
				logrus.Infof("relay subscription sweep dropped=%d", n)
			}
		}
	}
}
