package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Transport.ListenAddr != def.Transport.ListenAddr {
		t.Fatalf("listen addr = %q, want default", cfg.Transport.ListenAddr)
	}
	if cfg.Propagate.DeliveryBudget != 100 {
		t.Fatalf("delivery budget = %d, want 100", cfg.Propagate.DeliveryBudget)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := `
node:
  ilp_address: g.relay.test
  min_amount: 5
transport:
  listen_addr: 127.0.0.1:9000
heartbeat:
  interval_sec: 5
  timeout_sec: 2
log_level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ILPAddress != "g.relay.test" {
		t.Fatalf("ilp address = %q", cfg.Node.ILPAddress)
	}
	if cfg.Node.MinAmount != 5 {
		t.Fatalf("min amount = %d", cfg.Node.MinAmount)
	}
	if cfg.Transport.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("listen addr = %q", cfg.Transport.ListenAddr)
	}
	if cfg.Heartbeat.Interval().Seconds() != 5 {
		t.Fatalf("interval = %v", cfg.Heartbeat.Interval())
	}
	// Untouched sections keep defaults.
	if cfg.Propagate.DedupCap != 4096 {
		t.Fatalf("dedup cap = %d", cfg.Propagate.DedupCap)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  listen_addr: 127.0.0.1:9000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ILPRELAY_LISTEN_ADDR", "127.0.0.1:9100")
	t.Setenv("ILPRELAY_DELIVERY_BUDGET", "7")
	t.Setenv("ILPRELAY_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.ListenAddr != "127.0.0.1:9100" {
		t.Fatalf("env did not override file: %q", cfg.Transport.ListenAddr)
	}
	if cfg.Propagate.DeliveryBudget != 7 {
		t.Fatalf("delivery budget = %d", cfg.Propagate.DeliveryBudget)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("ILPRELAY_DELIVERY_BUDGET", "not-a-number")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Propagate.DeliveryBudget != 100 {
		t.Fatalf("garbage env mutated config: %d", cfg.Propagate.DeliveryBudget)
	}
}

func TestValidateRejectsBadHeartbeat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("heartbeat:\n  interval_sec: -1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("negative heartbeat interval accepted")
	}
}
