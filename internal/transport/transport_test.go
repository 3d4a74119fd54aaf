package transport

import (
	"crypto/tls"
	"testing"
)

func TestIPLimiterConnCap(t *testing.T) {
	lim := newIPLimiter(1, 0)
	if !lim.acquireConn("1.2.3.4") {
		t.Fatalf("expected first conn acquire")
	}
	if lim.acquireConn("1.2.3.4") {
		t.Fatalf("expected conn cap")
	}
	lim.releaseConn("1.2.3.4")
	if !lim.acquireConn("1.2.3.4") {
		t.Fatalf("expected acquire after release")
	}
}

func TestIPLimiterStreamCapAndPrune(t *testing.T) {
	lim := newIPLimiter(0, 2)
	if !lim.acquireStream("1.2.3.4") || !lim.acquireStream("1.2.3.4") {
		t.Fatalf("expected stream acquire")
	}
	if lim.acquireStream("1.2.3.4") {
		t.Fatalf("expected stream cap")
	}
	lim.releaseStream("1.2.3.4")
	lim.releaseStream("1.2.3.4")
	if len(lim.counts) != 0 {
		t.Fatalf("idle ip not pruned: %d entries", len(lim.counts))
	}
}

func TestIPLimiterSeparateIPs(t *testing.T) {
	lim := newIPLimiter(1, 1)
	if !lim.acquireConn("1.2.3.4") || !lim.acquireConn("2.3.4.5") {
		t.Fatalf("expected separate ip conns")
	}
	if !lim.acquireStream("1.2.3.4") || !lim.acquireStream("2.3.4.5") {
		t.Fatalf("expected separate ip streams")
	}
}

func TestDevTLSCertIsDeterministic(t *testing.T) {
	_, der1, err := devTLSCert()
	if err != nil {
		t.Fatalf("devTLSCert: %v", err)
	}
	_, der2, err := devTLSCert()
	if err != nil {
		t.Fatalf("devTLSCert: %v", err)
	}
	if string(der1) != string(der2) {
		t.Fatalf("dev cert not deterministic across calls")
	}
}

func TestTLSConfigsCarryALPN(t *testing.T) {
	srv, err := serverTLSConfig("", "")
	if err != nil {
		t.Fatalf("serverTLSConfig: %v", err)
	}
	cli, err := clientTLSConfig(false)
	if err != nil {
		t.Fatalf("clientTLSConfig: %v", err)
	}
	for _, conf := range []*tls.Config{srv, cli} {
		if len(conf.NextProtos) != 1 || conf.NextProtos[0] != alpnProto {
			t.Fatalf("NextProtos = %v", conf.NextProtos)
		}
	}
	if cli.RootCAs == nil {
		t.Fatalf("pinned client config missing root pool")
	}
}

func TestBookHandsOutTransports(t *testing.T) {
	d, err := NewDialer(DialerOptions{Insecure: true})
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	defer d.Close()
	book := NewBook(d)

	if _, ok := book.TransportFor("g.relay.bob"); ok {
		t.Fatalf("unknown subscriber got a transport")
	}
	book.Set("g.relay.bob", "127.0.0.1:4433")
	tr, ok := book.TransportFor("g.relay.bob")
	if !ok || tr == nil {
		t.Fatalf("registered subscriber has no transport")
	}
	if ep, _ := book.Endpoint("g.relay.bob"); ep != "127.0.0.1:4433" {
		t.Fatalf("endpoint = %q", ep)
	}
	book.Remove("g.relay.bob")
	if _, ok := book.TransportFor("g.relay.bob"); ok {
		t.Fatalf("removed subscriber still has a transport")
	}
}
