package store

import (
	"errors"
	"time"

	"ilprelay/internal/event"
)

// ErrNotFound distinguishes "no such record" from "found but empty".
var ErrNotFound = errors.New("record not found")

// ConnState is the lifecycle state of a peer connection. Transitions are
// owned exclusively by the lifecycle manager; nothing else writes State.
type ConnState string

const (
	StateDiscovering   ConnState = "DISCOVERING"
	StateConnecting    ConnState = "CONNECTING"
	StateConnected     ConnState = "CONNECTED"
	StateChannelNeeded ConnState = "CHANNEL_NEEDED"
	StateDisconnected  ConnState = "DISCONNECTED"
	StateFailed        ConnState = "FAILED"
)

// PeerConnection is one record per remote peer identity. Disconnection is a
// state, not deletion; the record survives until explicit removal.
type PeerConnection struct {
	NostrPubkey       string    `json:"nostr_pubkey"`
	ILPAddress        string    `json:"ilp_address"`
	Endpoint          string    `json:"endpoint"`
	ChannelID         string    `json:"channel_id,omitempty"`
	State             ConnState `json:"state"`
	Priority          int       `json:"priority"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	SubscriptionIDs   []string  `json:"subscription_ids,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Subscription is a durable record of a subscribe request. The transport
// handle used to push packets is process-local state and lives with the
// pipeline's subscriber registry, never in the store.
type Subscription struct {
	ID         string         `json:"id"`
	Subscriber string         `json:"subscriber"`
	Filters    []event.Filter `json:"filters"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Active     bool           `json:"active"`
}
