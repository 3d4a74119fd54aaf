// Package payment provides the settlement-side collaborators the relay core
// consumes: a channel manager answering "does this peer have an open channel"
// and a claim verifier mapping off-chain claims to a fixed reason-code set.
// On-chain contracts and signature primitives live outside this repository;
// the local implementations here keep the mesh runnable and testable.
package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type ChannelStatus string

const (
	ChannelOpen    ChannelStatus = "open"
	ChannelClosing ChannelStatus = "closing"
	ChannelClosed  ChannelStatus = "closed"
)

type Channel struct {
	ChannelID string        `json:"channel_id"`
	Peer      string        `json:"peer"`
	Balance   uint64        `json:"balance"`
	Capacity  uint64        `json:"capacity"`
	Currency  string        `json:"currency"`
	Status    ChannelStatus `json:"status"`
	ExpiresAt time.Time     `json:"expires_at"`
	LastNonce uint64        `json:"last_nonce"`
}

type Claim struct {
	ChannelID string `json:"channel_id"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
	Currency  string `json:"currency"`
}

type Reason string

const (
	ReasonChannelNotFound     Reason = "channel-not-found"
	ReasonChannelExpired      Reason = "channel-expired"
	ReasonInvalidAmount       Reason = "invalid-amount"
	ReasonInsufficientBalance Reason = "insufficient-balance"
	ReasonInvalidNonce        Reason = "invalid-nonce"
	ReasonNonceTooHigh        Reason = "nonce-too-high"
	ReasonInvalidSignature    Reason = "invalid-signature"
	ReasonLedgerError         Reason = "ledger-error"
)

type Result struct {
	Valid  bool   `json:"valid"`
	Reason Reason `json:"reason,omitempty"`
}

// Manager is the channel surface the connection lifecycle consumes: channel
// lookup for the connect flow and PaidUp for the reachability check.
type Manager interface {
	HasChannel(peerAddress string) bool
	ChannelByPeer(peerAddress string) (*Channel, error)
	PaidUp(peerAddress string) bool
}

// ClaimVerifier validates an off-chain claim against channel state. The
// relay only needs "is this peer currently paid-up", never the internals.
type ClaimVerifier interface {
	Verify(ctx context.Context, claim Claim) Result
}

// SignatureChecker verifies a claim signature; the cryptographic primitives
// live outside the core and are injected.
type SignatureChecker func(claim Claim) bool

// MaxNonceGap bounds how far ahead of the last posted nonce a claim may be.
const MaxNonceGap = 1000

// Ledger posts a verified claim. A post failure surfaces as ledger-error.
type Ledger interface {
	Post(ctx context.Context, claim Claim) error
}

// LocalManager keeps channel state in memory and implements both Manager and
// ClaimVerifier. One instance per relay process.
type LocalManager struct {
	mu       sync.Mutex
	byID     map[string]*Channel
	byPeer   map[string]string
	checkSig SignatureChecker
	ledger   Ledger
	journal  *Journal
}

type LocalOptions struct {
	SignatureChecker SignatureChecker
	Ledger           Ledger
	Journal          *Journal
}

func NewLocalManager(opts LocalOptions) *LocalManager {
	check := opts.SignatureChecker
	if check == nil {
		check = func(claim Claim) bool { return claim.Signature != "" }
	}
	return &LocalManager{
		byID:     make(map[string]*Channel),
		byPeer:   make(map[string]string),
		checkSig: check,
		ledger:   opts.Ledger,
		journal:  opts.Journal,
	}
}

func (m *LocalManager) OpenChannel(ch Channel) error {
	if ch.ChannelID == "" || ch.Peer == "" {
		return fmt.Errorf("missing channel id or peer")
	}
	if ch.Status == "" {
		ch.Status = ChannelOpen
	}
	if ch.Balance == 0 {
		ch.Balance = ch.Capacity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := ch
	m.byID[ch.ChannelID] = &stored
	m.byPeer[ch.Peer] = ch.ChannelID
	return nil
}

func (m *LocalManager) CloseChannel(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.byID[channelID]; ok {
		ch.Status = ChannelClosed
	}
}

func (m *LocalManager) HasChannel(peerAddress string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPeer[peerAddress]
	if !ok {
		return false
	}
	ch, ok := m.byID[id]
	return ok && ch.Status == ChannelOpen
}

func (m *LocalManager) ChannelByPeer(peerAddress string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPeer[peerAddress]
	if !ok {
		return nil, fmt.Errorf("%s: %w", peerAddress, ErrNoChannel)
	}
	ch, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", peerAddress, ErrNoChannel)
	}
	out := *ch
	return &out, nil
}

// Verify walks the fixed reason-code checks in order and, when everything
// holds, posts the claim and advances the channel's nonce and balance. The
// outcome is journaled when a journal is attached.
func (m *LocalManager) Verify(ctx context.Context, claim Claim) Result {
	res := m.verify(ctx, claim)
	if m.journal != nil {
		peer := ""
		if ch, ok := m.channel(claim.ChannelID); ok {
			peer = ch.Peer
		}
		err := m.journal.Append(JournalEntry{
			ChannelID: claim.ChannelID,
			Peer:      peer,
			Amount:    claim.Amount,
			Nonce:     claim.Nonce,
			Valid:     res.Valid,
			Reason:    res.Reason,
		})
		if err != nil {
			logrus.Warnf("payment journal append failed channel=%s err=%v", claim.ChannelID, err)
		}
	}
	return res
}

func (m *LocalManager) channel(id string) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.byID[id]
	return ch, ok
}

func (m *LocalManager) verify(ctx context.Context, claim Claim) Result {
	m.mu.Lock()
	ch, ok := m.byID[claim.ChannelID]
	if !ok || ch.Status == ChannelClosed {
		m.mu.Unlock()
		return Result{Reason: ReasonChannelNotFound}
	}
	if !ch.ExpiresAt.IsZero() && time.Now().After(ch.ExpiresAt) {
		m.mu.Unlock()
		return Result{Reason: ReasonChannelExpired}
	}
	if claim.Amount == 0 || claim.Amount > ch.Capacity {
		m.mu.Unlock()
		return Result{Reason: ReasonInvalidAmount}
	}
	if claim.Amount > ch.Balance {
		m.mu.Unlock()
		return Result{Reason: ReasonInsufficientBalance}
	}
	if claim.Nonce <= ch.LastNonce {
		m.mu.Unlock()
		return Result{Reason: ReasonInvalidNonce}
	}
	if claim.Nonce > ch.LastNonce+MaxNonceGap {
		m.mu.Unlock()
		return Result{Reason: ReasonNonceTooHigh}
	}
	m.mu.Unlock()

	if !m.checkSig(claim) {
		return Result{Reason: ReasonInvalidSignature}
	}
	if m.ledger != nil {
		if err := m.ledger.Post(ctx, claim); err != nil {
			return Result{Reason: ReasonLedgerError}
		}
	}

	m.mu.Lock()
	ch.LastNonce = claim.Nonce
	ch.Balance -= claim.Amount
	m.mu.Unlock()
	return Result{Valid: true}
}

// PaidUp reports whether the peer has an open, unexpired channel with
// remaining balance. Reachability ANDs this with connection state, so an
// insolvent peer stops receiving deliveries even while still connected.
func (m *LocalManager) PaidUp(peerAddress string) bool {
	ch, err := m.ChannelByPeer(peerAddress)
	if err != nil {
		return false
	}
	if ch.Status != ChannelOpen {
		return false
	}
	if !ch.ExpiresAt.IsZero() && time.Now().After(ch.ExpiresAt) {
		return false
	}
	return ch.Balance > 0
}
