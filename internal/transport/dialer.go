package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

const (
	dialMaxRetries  = 3
	dialBackoffBase = 100 * time.Millisecond
	dialBackoffMax  = time.Second
	dialConnIdle    = 30 * time.Second
	dialTimeout     = 8 * time.Second
)

type pooledConn struct {
	conn     *quic.Conn
	lastUsed time.Time
}

// Dialer keeps one QUIC connection per endpoint alive across exchanges.
// Idle or broken connections are redialed transparently.
type Dialer struct {
	tlsConf   *tls.Config
	idleAfter time.Duration

	mu    sync.Mutex
	conns map[string]*pooledConn
}

type DialerOptions struct {
	Insecure  bool
	IdleAfter time.Duration
}

func NewDialer(opts DialerOptions) (*Dialer, error) {
	tlsConf, err := clientTLSConfig(opts.Insecure)
	if err != nil {
		return nil, err
	}
	idle := opts.IdleAfter
	if idle <= 0 {
		idle = dialConnIdle
	}
	return &Dialer{
		tlsConf:   tlsConf,
		idleAfter: idle,
		conns:     make(map[string]*pooledConn),
	}, nil
}

func (d *Dialer) conn(ctx context.Context, endpoint string) (*quic.Conn, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("missing endpoint")
	}
	now := time.Now()
	d.mu.Lock()
	if ent, ok := d.conns[endpoint]; ok {
		if ent.conn.Context().Err() == nil && now.Sub(ent.lastUsed) <= d.idleAfter {
			ent.lastUsed = now
			conn := ent.conn
			d.mu.Unlock()
			return conn, nil
		}
		stale := ent.conn
		delete(d.conns, endpoint)
		d.mu.Unlock()
		_ = stale.CloseWithError(0, "stale")
	} else {
		d.mu.Unlock()
	}

	conn, err := quic.DialAddr(ctx, endpoint, d.tlsConf, nil)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.conns[endpoint] = &pooledConn{conn: conn, lastUsed: now}
	d.mu.Unlock()
	return conn, nil
}

func (d *Dialer) drop(endpoint string, conn *quic.Conn, reason string) {
	d.mu.Lock()
	if ent, ok := d.conns[endpoint]; ok && ent.conn == conn {
		delete(d.conns, endpoint)
	}
	d.mu.Unlock()
	_ = conn.CloseWithError(0, reason)
}

// Exchange sends one buffer to the endpoint and returns the peer's reply.
// The stream's send side is closed after the write so the server sees EOF.
// Dial and stream errors are retried with capped exponential backoff.
func (d *Dialer) Exchange(ctx context.Context, endpoint string, data []byte) ([]byte, error) {
	var lastErr error
	backoff := dialBackoffBase
	for attempt := 0; attempt < dialMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > dialBackoffMax {
				backoff = dialBackoffMax
			}
		}
		reply, err := d.exchangeOnce(ctx, endpoint, data)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		logrus.Debugf("transport exchange failed endpoint=%s attempt=%d err=%v", endpoint, attempt+1, err)
	}
	return nil, fmt.Errorf("exchange with %s: %w", endpoint, lastErr)
}

func (d *Dialer) exchangeOnce(ctx context.Context, endpoint string, data []byte) ([]byte, error) {
	dctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, dialTimeout)
		defer cancel()
	}
	conn, err := d.conn(dctx, endpoint)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(dctx)
	if err != nil {
		d.drop(endpoint, conn, "open stream")
		return nil, err
	}
	if _, err := stream.Write(data); err != nil {
		stream.CancelRead(0)
		stream.Close()
		d.drop(endpoint, conn, "write")
		return nil, err
	}
	// Half-close: the server reads to EOF before answering.
	if err := stream.Close(); err != nil {
		d.drop(endpoint, conn, "close write")
		return nil, err
	}
	if deadline, ok := dctx.Deadline(); ok {
		stream.SetReadDeadline(deadline)
	}
	reply, err := io.ReadAll(stream)
	if err != nil {
		d.drop(endpoint, conn, "read reply")
		return nil, err
	}
	return reply, nil
}

// Close tears down every pooled connection.
func (d *Dialer) Close() {
	d.mu.Lock()
	conns := make([]*quic.Conn, 0, len(d.conns))
	for _, ent := range d.conns {
		conns = append(conns, ent.conn)
	}
	d.conns = make(map[string]*pooledConn)
	d.mu.Unlock()
	for _, c := range conns {
		_ = c.CloseWithError(0, "shutdown")
	}
}
