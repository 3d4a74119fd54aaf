package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBackend struct {
	*MemoryBackend
	connGets int
	subGets  int
}

func (b *countingBackend) GetConnection(ctx context.Context, pubkey string) (*PeerConnection, error) {
	b.connGets++
	return b.MemoryBackend.GetConnection(ctx, pubkey)
}

func (b *countingBackend) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	b.subGets++
	return b.MemoryBackend.GetSubscription(ctx, id)
}

func newTestStore(t *testing.T) (*Store, *countingBackend) {
	t.Helper()
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	s, err := New(backend, Options{Cache: NewMemoryCache(64)})
	require.NoError(t, err)
	return s, backend
}

func TestGetConnectionReadsThroughAndRepopulates(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	conn := &PeerConnection{NostrPubkey: "pk1", ILPAddress: "g.peer1", State: StateDiscovering}
	require.NoError(t, s.PutConnection(ctx, conn))

	got, err := s.GetConnection(ctx, "pk1")
	require.NoError(t, err)
	assert.Equal(t, "g.peer1", got.ILPAddress)
	assert.Equal(t, 1, backend.connGets, "first read is a cache miss")

	got, err = s.GetConnection(ctx, "pk1")
	require.NoError(t, err)
	assert.Equal(t, StateDiscovering, got.State)
	assert.Equal(t, 1, backend.connGets, "second read must be served from cache")
}

func TestWritesInvalidateCache(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	conn := &PeerConnection{NostrPubkey: "pk1", State: StateDiscovering}
	require.NoError(t, s.PutConnection(ctx, conn))
	_, err := s.GetConnection(ctx, "pk1")
	require.NoError(t, err)
	require.Equal(t, 1, backend.connGets)

	conn.State = StateConnecting
	require.NoError(t, s.PutConnection(ctx, conn))

	got, err := s.GetConnection(ctx, "pk1")
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, got.State, "stale cached state must not survive a write")
	assert.Equal(t, 2, backend.connGets, "write invalidates, read falls through again")
}

func TestNotFoundIsDistinguishable(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.GetConnection(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// A record that exists but carries zero values is not "not found".
	require.NoError(t, s.PutSubscription(ctx, &Subscription{ID: "sub1"}))
	sub, err := s.GetSubscription(ctx, "sub1")
	require.NoError(t, err)
	assert.False(t, sub.Active)

	require.NoError(t, s.DeleteSubscription(ctx, "sub1"))
	_, err = s.GetSubscription(ctx, "sub1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSubscription(ctx, "sub1"), ErrNotFound)
}

func TestSubscriptionReadThrough(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore(t)

	sub := &Subscription{
		ID:         "sub1",
		Subscriber: "g.bob",
		ExpiresAt:  time.Now().Add(time.Hour),
		Active:     true,
	}
	require.NoError(t, s.PutSubscription(ctx, sub))
	for i := 0; i < 3; i++ {
		got, err := s.GetSubscription(ctx, "sub1")
		require.NoError(t, err)
		assert.Equal(t, "g.bob", got.Subscriber)
	}
	assert.Equal(t, 1, backend.subGets)
}

func TestMemoryCacheTTLAndEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 10*time.Millisecond))
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must miss")

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Minute))
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok, "oldest entry evicted at capacity")
	_, ok, _ = c.Get(ctx, "c")
	assert.True(t, ok)
}
