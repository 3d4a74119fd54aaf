package transport

import "sync"

type ipCounts struct {
	conns   int
	streams int
}

// ipLimiter caps concurrent connections and streams per remote IP. Zero or
// negative limits disable the corresponding check.
type ipLimiter struct {
	mu         sync.Mutex
	maxConns   int
	maxStreams int
	counts     map[string]*ipCounts
}

func newIPLimiter(maxConns, maxStreams int) *ipLimiter {
	return &ipLimiter{
		maxConns:   maxConns,
		maxStreams: maxStreams,
		counts:     make(map[string]*ipCounts),
	}
}

func (l *ipLimiter) entry(ip string) *ipCounts {
	c, ok := l.counts[ip]
	if !ok {
		c = &ipCounts{}
		l.counts[ip] = c
	}
	return c
}

func (l *ipLimiter) pruneLocked(ip string) {
	if c, ok := l.counts[ip]; ok && c.conns <= 0 && c.streams <= 0 {
		delete(l.counts, ip)
	}
}

func (l *ipLimiter) acquireConn(ip string) bool {
	if l.maxConns <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.entry(ip)
	if c.conns >= l.maxConns {
		l.pruneLocked(ip)
		return false
	}
	c.conns++
	return true
}

func (l *ipLimiter) releaseConn(ip string) {
	if l.maxConns <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.counts[ip]; ok && c.conns > 0 {
		c.conns--
	}
	l.pruneLocked(ip)
}

func (l *ipLimiter) acquireStream(ip string) bool {
	if l.maxStreams <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.entry(ip)
	if c.streams >= l.maxStreams {
		l.pruneLocked(ip)
		return false
	}
	c.streams++
	return true
}

func (l *ipLimiter) releaseStream(ip string) {
	if l.maxStreams <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.counts[ip]; ok && c.streams > 0 {
		c.streams--
	}
	l.pruneLocked(ip)
}
