// ilprelayd runs a payment-gated event relay node: it accepts wrapped
// packets over QUIC, answers them with ILP fulfillments or rejections, and
// propagates accepted events to matching subscribers on other relays.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"ilprelay/internal/config"
	"ilprelay/internal/lifecycle"
	"ilprelay/internal/metrics"
	"ilprelay/internal/payment"
	"ilprelay/internal/pprofutil"
	"ilprelay/internal/propagate"
	"ilprelay/internal/relay"
	"ilprelay/internal/store"
	"ilprelay/internal/subindex"
	"ilprelay/internal/transport"
	"ilprelay/internal/wire"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "--help" || args[0] == "-h" {
		printUsage(stdout)
		return 0
	}
	switch args[0] {
	case "run":
		return runRelay(args[1:], stderr)
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: ilprelayd run [--config <path>] [--autofund]")
	fmt.Fprintln(w, "  --config    YAML config file (env vars override)")
	fmt.Fprintln(w, "  --autofund  open a local channel whenever one is requested")
}

func runRelay(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "config file path")
	autofund := fs.Bool("autofund", false, "auto-open requested channels")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if err := pprofutil.StartFromEnv(); err != nil {
		fmt.Fprintf(stderr, "pprof: %v\n", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, cfg, *autofund); err != nil && ctx.Err() == nil {
		logrus.Errorf("relay exited: %v", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config, autofund bool) error {
	mx := metrics.New()

	st, err := buildStore(cfg)
	if err != nil {
		return err
	}

	var popts payment.LocalOptions
	if cfg.Node.ClaimJournal != "" {
		journal, err := payment.NewJournal(cfg.Node.ClaimJournal)
		if err != nil {
			return err
		}
		popts.Journal = journal
	}
	channels := payment.NewLocalManager(popts)
	idx := subindex.New()
	preg := propagate.NewRegistry()

	dialer, err := transport.NewDialer(transport.DialerOptions{Insecure: cfg.Transport.Insecure})
	if err != nil {
		return err
	}
	defer dialer.Close()
	book := transport.NewBook(dialer)

	lm, err := lifecycle.New(st, newStaticResolver(cfg.Peers), channels, lifecycle.Config{
		HeartbeatInterval: cfg.Heartbeat.Interval(),
		HeartbeatTimeout:  cfg.Heartbeat.Timeout(),
		SweepInterval:     cfg.Heartbeat.Sweep(),
		SweepGrace:        cfg.Heartbeat.Grace(),
		EstimatedCost:     cfg.Node.EstimatedCost,
	})
	if err != nil {
		return err
	}
	lm.SetMetrics(mx)
	lm.SetPinger(&peerPinger{book: book, self: cfg.Node.ILPAddress, peers: cfg.Peers, manager: lm})

	pipe, err := propagate.New(idx, preg, lm, propagate.Options{
		DedupCap:       cfg.Propagate.DedupCap,
		DedupTTL:       cfg.Propagate.DedupTTL(),
		DeliveryBudget: cfg.Propagate.DeliveryBudget,
		RefillWindow:   cfg.Propagate.RefillWindow(),
		SendTimeout:    cfg.Propagate.SendTimeout(),
		Metrics:        mx,
	})
	if err != nil {
		return err
	}

	handlers := relay.NewRegistry()
	registrations := []struct {
		t wire.MessageType
		h relay.Handler
	}{
		{wire.TypeEvent, &relay.EventHandler{Pipeline: pipe}},
		{wire.TypeReq, &relay.ReqHandler{Store: st, Index: idx, Registry: preg, Transports: book}},
		{wire.TypeClose, &relay.CloseHandler{Store: st, Index: idx, Registry: preg}},
		{wire.TypeAuth, &relay.AuthHandler{}},
		{wire.TypeNotice, relay.NoticeHandler{}},
	}
	for _, reg := range registrations {
		if err := handlers.Register(reg.t, reg.h); err != nil {
			return err
		}
	}

	node, err := relay.NewNode(handlers, relay.NodeOptions{MinAmount: cfg.Node.MinAmount, Metrics: mx})
	if err != nil {
		return err
	}

	cleaner := &relay.SubscriptionCleaner{Store: st, Index: idx, Registry: preg}

	lm.Subscribe(lifecycle.Events{
		StateChange: cleaner.OnStateChange,
		Connected: func(pubkey string) {
			lm.StartMonitoring(ctx, pubkey)
		},
		ChannelNeeded: func(req lifecycle.ChannelRequest) {
			if !autofund {
				logrus.Warnf("channel needed peer=%s request=%s cost=%d (run with --autofund or open one manually)",
					req.PeerPubkey, req.RequestID, req.EstimatedCost)
				return
			}
			err := channels.OpenChannel(payment.Channel{
				ChannelID: req.RequestID,
				Peer:      req.ILPAddress,
				Capacity:  req.EstimatedCost * 10,
				Currency:  "XRP",
				ExpiresAt: time.Now().Add(24 * time.Hour),
			})
			if err != nil {
				logrus.Errorf("autofund failed peer=%s err=%v", req.PeerPubkey, err)
				return
			}
			go func() {
				if _, err := lm.ChannelOpened(ctx, req.PeerPubkey); err != nil {
					logrus.Errorf("resume after autofund failed peer=%s err=%v", req.PeerPubkey, err)
				}
			}()
		},
	})

	server := transport.NewServer(cfg.Transport.ListenAddr, func(hctx context.Context, remote string, data []byte) []byte {
		f, r := node.Handle(hctx, data, [32]byte{}, nil)
		if r != nil {
			return r.Data
		}
		return f.Data
	}, transport.ServerOptions{
		CertFile:       cfg.Transport.CertFile,
		KeyFile:        cfg.Transport.KeyFile,
		MaxConnsPerIP:  cfg.Transport.MaxConnsPerIP,
		MaxStreamPerIP: cfg.Transport.MaxStreamPerIP,
	})

	go lm.RunSweeper(ctx)
	go cleaner.RunSweeper(ctx, cfg.Heartbeat.Sweep())
	if cfg.Metrics.SnapshotPath != "" {
		go snapshotLoop(ctx, mx, cfg.Metrics.SnapshotPath, time.Duration(cfg.Metrics.SnapshotSec)*time.Second)
	}
	go connectPeers(ctx, cfg.Peers, book, lm)

	logrus.Infof("ilprelayd starting addr=%s ilp=%s peers=%d", cfg.Transport.ListenAddr, cfg.Node.ILPAddress, len(cfg.Peers))
	return server.ListenAndServe(ctx)
}

func buildStore(cfg config.Config) (*store.Store, error) {
	opts := store.Options{CacheTTL: cfg.Store.CacheTTL()}
	if cfg.Store.RedisAddr != "" {
		opts.Cache = store.NewRedisCache(cfg.Store.RedisAddr, "", 0, "")
	} else {
		opts.Cache = store.NewMemoryCache(cfg.Store.CacheCap)
	}
	return store.New(store.NewMemoryBackend(), opts)
}

func connectPeers(ctx context.Context, peers []config.PeerConfig, book *transport.Book, lm *lifecycle.Manager) {
	for _, p := range peers {
		if ctx.Err() != nil {
			return
		}
		book.Set(p.ILPAddress, p.Endpoint)
		if _, err := lm.Connect(ctx, p.Pubkey, p.Priority); err != nil {
			logrus.Warnf("peer connect failed pubkey=%s err=%v", p.Pubkey, err)
		}
	}
}

func snapshotLoop(ctx context.Context, mx *metrics.Metrics, path string, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := mx.WriteSnapshot(path); err != nil {
				logrus.Warnf("metrics snapshot failed path=%s err=%v", path, err)
			}
		}
	}
}

// staticResolver serves discovery from the configured peer list.
type staticResolver struct {
	peers map[string]lifecycle.PeerInfo
}

func newStaticResolver(peers []config.PeerConfig) *staticResolver {
	m := make(map[string]lifecycle.PeerInfo, len(peers))
	for _, p := range peers {
		m[p.Pubkey] = lifecycle.PeerInfo{ILPAddress: p.ILPAddress, Endpoint: p.Endpoint}
	}
	return &staticResolver{peers: m}
}

func (r *staticResolver) ResolveRoutingAddress(_ context.Context, pubkey string) (*lifecycle.PeerInfo, error) {
	info, ok := r.peers[pubkey]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &info, nil
}

// peerPinger probes peers with NOTICE packets; any reply counts as a pong.
type peerPinger struct {
	book    *transport.Book
	self    string
	peers   []config.PeerConfig
	manager *lifecycle.Manager
}

func (p *peerPinger) Ping(ctx context.Context, pubkey string) error {
	var addr string
	for _, peer := range p.peers {
		if peer.Pubkey == pubkey {
			addr = peer.ILPAddress
			break
		}
	}
	if addr == "" {
		return fmt.Errorf("no routing address for %s", pubkey)
	}
	tr, ok := p.book.TransportFor(addr)
	if !ok {
		return fmt.Errorf("no transport for %s", addr)
	}
	pkt := &wire.Packet{
		Version: wire.Version,
		Type:    wire.TypeNotice,
		Payload: wire.Payload{
			Message:  "ping",
			Metadata: wire.Metadata{Timestamp: time.Now().Unix(), Sender: p.self},
		},
	}
	buf, err := wire.Serialize(pkt)
	if err != nil {
		return err
	}
	if err := tr.Deliver(ctx, buf); err != nil {
		return err
	}
	p.manager.Pong(ctx, pubkey)
	return nil
}
