// Package transport moves wrapped packets between relays over QUIC. Each
// exchange is one stream: the client writes its packet and half-closes, the
// server answers with the fulfillment or rejection bytes and closes.
package transport

import (
	"context"
	"io"
	"net"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// Handler turns one inbound buffer into the reply written back on the same
// stream. A nil reply closes the stream without a response.
type Handler func(ctx context.Context, remote string, data []byte) []byte

type ServerOptions struct {
	CertFile       string
	KeyFile        string
	MaxConnsPerIP  int
	MaxStreamPerIP int
}

type Server struct {
	addr    string
	handler Handler
	opts    ServerOptions
	limiter *ipLimiter
	ready   chan struct{}
}

func NewServer(addr string, h Handler, opts ServerOptions) *Server {
	return &Server{
		addr:    addr,
		handler: h,
		opts:    opts,
		limiter: newIPLimiter(opts.MaxConnsPerIP, opts.MaxStreamPerIP),
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the listener is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	tlsConf, err := serverTLSConfig(s.opts.CertFile, s.opts.KeyFile)
	if err != nil {
		return err
	}
	listener, err := quic.ListenAddr(s.addr, tlsConf, nil)
	if err != nil {
		return err
	}
	defer listener.Close()
	logrus.Infof("transport listening addr=%s", s.addr)
	close(s.ready)

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		remote := conn.RemoteAddr().String()
		ip := hostOnly(remote)
		if !s.limiter.acquireConn(ip) {
			logrus.Warnf("transport connection limit reached ip=%s", ip)
			conn.CloseWithError(0, "connection limit")
			continue
		}
		go s.serveConn(ctx, conn, ip, remote)
	}
}

func (s *Server) serveConn(ctx context.Context, conn *quic.Conn, ip, remote string) {
	defer s.limiter.releaseConn(ip)
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		if !s.limiter.acquireStream(ip) {
			stream.CancelRead(0)
			stream.Close()
			continue
		}
		go func(st *quic.Stream) {
			defer s.limiter.releaseStream(ip)
			s.serveStream(ctx, st, remote)
		}(stream)
	}
}

func (s *Server) serveStream(ctx context.Context, stream *quic.Stream, remote string) {
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		logrus.Debugf("transport read failed remote=%s err=%v", remote, err)
		return
	}
	if len(data) == 0 {
		return
	}
	reply := s.handler(ctx, remote, data)
	if len(reply) == 0 {
		return
	}
	if _, err := stream.Write(reply); err != nil {
		logrus.Debugf("transport reply failed remote=%s err=%v", remote, err)
	}
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
