package payment

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestJournalRecordsVerifyOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "claims.jsonl")
	journal, err := NewJournal(path)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	m := NewLocalManager(LocalOptions{Journal: journal})
	if err := m.OpenChannel(Channel{
		ChannelID: "chan-1",
		Peer:      "g.relay.bob",
		Balance:   100,
		Capacity:  100,
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}

	ctx := context.Background()
	good := m.Verify(ctx, Claim{ChannelID: "chan-1", Amount: 10, Nonce: 1, Signature: "sig"})
	if !good.Valid {
		t.Fatalf("valid claim rejected: %+v", good)
	}
	bad := m.Verify(ctx, Claim{ChannelID: "chan-1", Amount: 10, Nonce: 1, Signature: "sig"})
	if bad.Valid || bad.Reason != ReasonInvalidNonce {
		t.Fatalf("replayed nonce accepted: %+v", bad)
	}

	entries, err := journal.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("journal has %d entries, want 2", len(entries))
	}
	if !entries[0].Valid || entries[0].Peer != "g.relay.bob" || entries[0].Nonce != 1 {
		t.Fatalf("first entry = %+v", entries[0])
	}
	if entries[1].Valid || entries[1].Reason != ReasonInvalidNonce {
		t.Fatalf("second entry = %+v", entries[1])
	}
	if entries[0].At.IsZero() {
		t.Fatalf("entry timestamp not set")
	}
}

func TestJournalListMissingFile(t *testing.T) {
	journal, err := NewJournal(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	entries, err := journal.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if entries != nil {
		t.Fatalf("missing file produced entries: %v", entries)
	}
}
