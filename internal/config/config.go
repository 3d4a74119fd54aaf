// Package config loads the relay configuration from a YAML file with
// environment variable overrides on top. Environment always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Transport TransportConfig `yaml:"transport"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Propagate PropagateConfig `yaml:"propagate"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Peers     []PeerConfig    `yaml:"peers"`
	LogLevel  string          `yaml:"log_level"`
}

// PeerConfig is one statically configured remote relay.
type PeerConfig struct {
	Pubkey     string `yaml:"pubkey"`
	ILPAddress string `yaml:"ilp_address"`
	Endpoint   string `yaml:"endpoint"`
	Priority   int    `yaml:"priority"`
}

type NodeConfig struct {
	ILPAddress    string `yaml:"ilp_address"`
	MinAmount     uint64 `yaml:"min_amount"`
	EstimatedCost uint64 `yaml:"estimated_cost"`
	ClaimJournal  string `yaml:"claim_journal"`
}

type TransportConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	CertFile       string `yaml:"cert_file"`
	KeyFile        string `yaml:"key_file"`
	Insecure       bool   `yaml:"insecure"`
	MaxConnsPerIP  int    `yaml:"max_conns_per_ip"`
	MaxStreamPerIP int    `yaml:"max_streams_per_ip"`
}

type HeartbeatConfig struct {
	IntervalSec int `yaml:"interval_sec"`
	TimeoutSec  int `yaml:"timeout_sec"`
	SweepSec    int `yaml:"sweep_sec"`
	GraceSec    int `yaml:"grace_sec"`
}

type PropagateConfig struct {
	DedupCap       int `yaml:"dedup_cap"`
	DedupTTLSec    int `yaml:"dedup_ttl_sec"`
	DeliveryBudget int `yaml:"delivery_budget"`
	RefillSec      int `yaml:"refill_sec"`
	SendTimeoutSec int `yaml:"send_timeout_sec"`
}

type StoreConfig struct {
	RedisAddr   string `yaml:"redis_addr"`
	CacheCap    int    `yaml:"cache_cap"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
}

type MetricsConfig struct {
	SnapshotPath string `yaml:"snapshot_path"`
	SnapshotSec  int    `yaml:"snapshot_sec"`
}

func Default() Config {
	return Config{
		Node: NodeConfig{
			ILPAddress:    "g.relay.local",
			EstimatedCost: 1000,
		},
		Transport: TransportConfig{
			ListenAddr:     "0.0.0.0:4433",
			MaxConnsPerIP:  8,
			MaxStreamPerIP: 64,
		},
		Heartbeat: HeartbeatConfig{
			IntervalSec: 30,
			TimeoutSec:  10,
			SweepSec:    60,
			GraceSec:    15,
		},
		Propagate: PropagateConfig{
			DedupCap:       4096,
			DedupTTLSec:    600,
			DeliveryBudget: 100,
			RefillSec:      60,
			SendTimeoutSec: 10,
		},
		Store: StoreConfig{
			CacheCap:    4096,
			CacheTTLSec: 300,
		},
		Metrics: MetricsConfig{
			SnapshotSec: 60,
		},
		LogLevel: "info",
	}
}

// Load reads the file at path (missing file means defaults), then applies
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := envStr("ILPRELAY_ILP_ADDRESS"); v != "" {
		c.Node.ILPAddress = v
	}
	if v, ok := envInt("ILPRELAY_MIN_AMOUNT"); ok && v >= 0 {
		c.Node.MinAmount = uint64(v)
	}
	if v := envStr("ILPRELAY_LISTEN_ADDR"); v != "" {
		c.Transport.ListenAddr = v
	}
	if v := envStr("ILPRELAY_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v, ok := envInt("ILPRELAY_HEARTBEAT_INTERVAL_SEC"); ok && v > 0 {
		c.Heartbeat.IntervalSec = v
	}
	if v, ok := envInt("ILPRELAY_HEARTBEAT_TIMEOUT_SEC"); ok && v > 0 {
		c.Heartbeat.TimeoutSec = v
	}
	if v, ok := envInt("ILPRELAY_DELIVERY_BUDGET"); ok && v > 0 {
		c.Propagate.DeliveryBudget = v
	}
	if v, ok := envInt("ILPRELAY_DEDUP_CAP"); ok && v > 0 {
		c.Propagate.DedupCap = v
	}
	if v := envStr("ILPRELAY_METRICS_PATH"); v != "" {
		c.Metrics.SnapshotPath = v
	}
	if v := envStr("ILPRELAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) validate() error {
	if c.Node.ILPAddress == "" {
		return fmt.Errorf("node.ilp_address is required")
	}
	if c.Transport.ListenAddr == "" {
		return fmt.Errorf("transport.listen_addr is required")
	}
	if c.Heartbeat.IntervalSec <= 0 || c.Heartbeat.TimeoutSec <= 0 {
		return fmt.Errorf("heartbeat interval and timeout must be positive")
	}
	return nil
}

func (h HeartbeatConfig) Interval() time.Duration { return time.Duration(h.IntervalSec) * time.Second }
func (h HeartbeatConfig) Timeout() time.Duration  { return time.Duration(h.TimeoutSec) * time.Second }
func (h HeartbeatConfig) Sweep() time.Duration    { return time.Duration(h.SweepSec) * time.Second }
func (h HeartbeatConfig) Grace() time.Duration    { return time.Duration(h.GraceSec) * time.Second }

func (p PropagateConfig) DedupTTL() time.Duration {
	return time.Duration(p.DedupTTLSec) * time.Second
}

func (p PropagateConfig) RefillWindow() time.Duration {
	return time.Duration(p.RefillSec) * time.Second
}

func (p PropagateConfig) SendTimeout() time.Duration {
	return time.Duration(p.SendTimeoutSec) * time.Second
}

func (s StoreConfig) CacheTTL() time.Duration { return time.Duration(s.CacheTTLSec) * time.Second }

func envStr(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
