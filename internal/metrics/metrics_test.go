package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.IncPropagated()
	m.IncPropagated()
	m.IncDropTTL()
	m.IncDropDuplicate()
	m.IncDropRateLimit()
	m.IncDelivered()
	m.IncDeliveryFailed()
	m.IncTransitions()
	m.IncHeartbeatTimeouts()
	m.IncSweepDisconnects()
	m.IncRouted()
	m.IncMalformed()
	snap := m.Snapshot()
	if snap.Propagate.Propagated != 2 {
		t.Fatalf("expected propagated=2, got %d", snap.Propagate.Propagated)
	}
	if snap.Propagate.DropTTL != 1 || snap.Propagate.DropDuplicate != 1 || snap.Propagate.DropRateLimit != 1 {
		t.Fatalf("unexpected drop counts: %+v", snap.Propagate)
	}
	if snap.Propagate.Delivered != 1 || snap.Propagate.DeliveryFailed != 1 {
		t.Fatalf("unexpected delivery counts: %+v", snap.Propagate)
	}
	if snap.Lifecycle.Transitions != 1 || snap.Lifecycle.HeartbeatTimeouts != 1 || snap.Lifecycle.SweepDisconnects != 1 {
		t.Fatalf("unexpected lifecycle counts: %+v", snap.Lifecycle)
	}
	if snap.Wire.Routed != 1 || snap.Wire.Malformed != 1 {
		t.Fatalf("unexpected wire counts: %+v", snap.Wire)
	}
}

func TestRecentDeliveriesBounded(t *testing.T) {
	r := NewDeliveryRecent(2)
	r.Add(DeliveryHeader{EventID: "a"})
	r.Add(DeliveryHeader{EventID: "b"})
	r.Add(DeliveryHeader{EventID: "c"})
	list := r.List()
	if len(list) != 2 || list[0].EventID != "b" || list[1].EventID != "c" {
		t.Fatalf("expected sliding window [b c], got %+v", list)
	}
}

func TestWriteSnapshot(t *testing.T) {
	m := New()
	m.IncDelivered()
	m.Recent().Add(DeliveryHeader{EventID: "e1", Candidates: 3, Delivered: 2, Skipped: 1})
	path := filepath.Join(t.TempDir(), "metrics.json")
	if err := m.WriteSnapshot(path); err != nil {
		t.Fatalf("write snapshot failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot failed: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot failed: %v", err)
	}
	if snap.Propagate.Delivered != 1 || len(snap.Recent) != 1 {
		t.Fatalf("unexpected snapshot contents: %+v", snap)
	}
}
