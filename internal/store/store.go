// Package store persists peer connections and subscriptions behind a
// cache-aside tier: reads fall through a cache to the durable backend and
// repopulate it, writes go to the backend and invalidate the cached copy.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Backend is the durable tier. Create/get/update/delete must be atomic per
// entity; Get returns ErrNotFound when the record is absent.
type Backend interface {
	PutConnection(ctx context.Context, conn *PeerConnection) error
	GetConnection(ctx context.Context, pubkey string) (*PeerConnection, error)
	DeleteConnection(ctx context.Context, pubkey string) error
	ListConnections(ctx context.Context) ([]*PeerConnection, error)

	PutSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	ListSubscriptions(ctx context.Context) ([]*Subscription, error)
}

// Cache is the fast tier. A miss is (nil, false, nil); errors are reported
// but never fail a read, since the backend stays authoritative.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const DefaultCacheTTL = 5 * time.Minute

type Store struct {
	backend  Backend
	cache    Cache
	cacheTTL time.Duration
}

type Options struct {
	Cache    Cache
	CacheTTL time.Duration
}

func New(backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("missing backend")
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{backend: backend, cache: opts.Cache, cacheTTL: ttl}, nil
}

func connKey(pubkey string) string { return "conn:" + pubkey }
func subKey(id string) string      { return "sub:" + id }

func (s *Store) PutConnection(ctx context.Context, conn *PeerConnection) error {
	if conn == nil || conn.NostrPubkey == "" {
		return fmt.Errorf("missing connection pubkey")
	}
	if err := s.backend.PutConnection(ctx, conn); err != nil {
		return err
	}
	s.invalidate(ctx, connKey(conn.NostrPubkey))
	return nil
}

func (s *Store) GetConnection(ctx context.Context, pubkey string) (*PeerConnection, error) {
	if data, ok := s.cacheGet(ctx, connKey(pubkey)); ok {
		var conn PeerConnection
		if err := json.Unmarshal(data, &conn); err == nil {
			return &conn, nil
		}
		s.invalidate(ctx, connKey(pubkey))
	}
	conn, err := s.backend.GetConnection(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, connKey(pubkey), conn)
	return conn, nil
}

func (s *Store) DeleteConnection(ctx context.Context, pubkey string) error {
	if err := s.backend.DeleteConnection(ctx, pubkey); err != nil {
		return err
	}
	s.invalidate(ctx, connKey(pubkey))
	return nil
}

func (s *Store) ListConnections(ctx context.Context) ([]*PeerConnection, error) {
	return s.backend.ListConnections(ctx)
}

func (s *Store) PutSubscription(ctx context.Context, sub *Subscription) error {
	if sub == nil || sub.ID == "" {
		return fmt.Errorf("missing subscription id")
	}
	if err := s.backend.PutSubscription(ctx, sub); err != nil {
		return err
	}
	s.invalidate(ctx, subKey(sub.ID))
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if data, ok := s.cacheGet(ctx, subKey(id)); ok {
		var sub Subscription
		if err := json.Unmarshal(data, &sub); err == nil {
			return &sub, nil
		}
		s.invalidate(ctx, subKey(id))
	}
	sub, err := s.backend.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, subKey(id), sub)
	return sub, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	if err := s.backend.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, subKey(id))
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context) ([]*Subscription, error) {
	return s.backend.ListSubscriptions(ctx)
}

func (s *Store) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logrus.Warnf("store cache get %s: %v", key, err)
		return nil, false
	}
	return data, ok
}

func (s *Store) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		logrus.Warnf("store cache set %s: %v", key, err)
	}
}

func (s *Store) invalidate(ctx context.Context, key string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, key); err != nil {
		logrus.Warnf("store cache delete %s: %v", key, err)
	}
}
