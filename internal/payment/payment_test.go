package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingLedger struct{}

func (failingLedger) Post(context.Context, Claim) error {
	return errors.New("ledger unavailable")
}

func openTestChannel(t *testing.T, m *LocalManager) Channel {
	t.Helper()
	ch := Channel{
		ChannelID: "chan1",
		Peer:      "g.bob",
		Balance:   500,
		Capacity:  1000,
		Currency:  "XRP",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := m.OpenChannel(ch); err != nil {
		t.Fatalf("open channel failed: %v", err)
	}
	return ch
}

func TestVerifyReasonCodes(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager(LocalOptions{})
	openTestChannel(t, m)

	cases := []struct {
		name  string
		claim Claim
		want  Reason
	}{
		{"unknown channel", Claim{ChannelID: "nope", Amount: 1, Nonce: 1, Signature: "s"}, ReasonChannelNotFound},
		{"zero amount", Claim{ChannelID: "chan1", Amount: 0, Nonce: 1, Signature: "s"}, ReasonInvalidAmount},
		{"over capacity", Claim{ChannelID: "chan1", Amount: 5000, Nonce: 1, Signature: "s"}, ReasonInvalidAmount},
		{"over balance", Claim{ChannelID: "chan1", Amount: 600, Nonce: 1, Signature: "s"}, ReasonInsufficientBalance},
		{"nonce replay", Claim{ChannelID: "chan1", Amount: 1, Nonce: 0, Signature: "s"}, ReasonInvalidNonce},
		{"nonce gap", Claim{ChannelID: "chan1", Amount: 1, Nonce: MaxNonceGap + 2, Signature: "s"}, ReasonNonceTooHigh},
		{"missing signature", Claim{ChannelID: "chan1", Amount: 1, Nonce: 1}, ReasonInvalidSignature},
	}
	for _, tc := range cases {
		res := m.Verify(ctx, tc.claim)
		if res.Valid || res.Reason != tc.want {
			t.Fatalf("%s: expected %s, got %+v", tc.name, tc.want, res)
		}
	}
}

func TestVerifyAdvancesNonceAndBalance(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager(LocalOptions{})
	openTestChannel(t, m)

	res := m.Verify(ctx, Claim{ChannelID: "chan1", Amount: 100, Nonce: 1, Signature: "s"})
	if !res.Valid {
		t.Fatalf("expected valid claim, got %+v", res)
	}
	// Replaying the same nonce must fail now.
	res = m.Verify(ctx, Claim{ChannelID: "chan1", Amount: 100, Nonce: 1, Signature: "s"})
	if res.Valid || res.Reason != ReasonInvalidNonce {
		t.Fatalf("expected nonce replay rejection, got %+v", res)
	}
	ch, err := m.ChannelByPeer("g.bob")
	if err != nil {
		t.Fatalf("channel lookup failed: %v", err)
	}
	if ch.Balance != 400 || ch.LastNonce != 1 {
		t.Fatalf("channel state not advanced: %+v", ch)
	}
}

func TestVerifyExpiredChannel(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager(LocalOptions{})
	if err := m.OpenChannel(Channel{
		ChannelID: "chan1",
		Peer:      "g.bob",
		Balance:   100,
		Capacity:  100,
		ExpiresAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("open channel failed: %v", err)
	}
	res := m.Verify(ctx, Claim{ChannelID: "chan1", Amount: 1, Nonce: 1, Signature: "s"})
	if res.Valid || res.Reason != ReasonChannelExpired {
		t.Fatalf("expected channel-expired, got %+v", res)
	}
}

func TestVerifyLedgerError(t *testing.T) {
	ctx := context.Background()
	m := NewLocalManager(LocalOptions{Ledger: failingLedger{}})
	openTestChannel(t, m)
	res := m.Verify(ctx, Claim{ChannelID: "chan1", Amount: 1, Nonce: 1, Signature: "s"})
	if res.Valid || res.Reason != ReasonLedgerError {
		t.Fatalf("expected ledger-error, got %+v", res)
	}
}

func TestPaidUpAndChannelLookup(t *testing.T) {
	m := NewLocalManager(LocalOptions{})
	if m.HasChannel("g.bob") || m.PaidUp("g.bob") {
		t.Fatalf("fresh manager should know no channels")
	}
	if _, err := m.ChannelByPeer("g.bob"); !errors.Is(err, ErrNoChannel) {
		t.Fatalf("expected ErrNoChannel, got %v", err)
	}
	openTestChannel(t, m)
	if !m.HasChannel("g.bob") || !m.PaidUp("g.bob") {
		t.Fatalf("open channel should be visible and solvent")
	}
	m.CloseChannel("chan1")
	if m.HasChannel("g.bob") || m.PaidUp("g.bob") {
		t.Fatalf("closed channel must not count as paid-up")
	}
}
