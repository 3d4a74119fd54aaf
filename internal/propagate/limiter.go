package propagate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultDeliveryBudget is the per-subscriber burst: how many events a
	// subscriber may receive back to back before refill matters.
	DefaultDeliveryBudget = 100
	defaultRefillWindow   = time.Minute
)

// deliveryLimiter holds one token bucket per subscriber. Over-budget
// deliveries are skipped and counted, never treated as errors.
type deliveryLimiter struct {
	mu      sync.Mutex
	budget  int
	refill  rate.Limit
	buckets map[string]*rate.Limiter
}

func newDeliveryLimiter(budget int, window time.Duration) *deliveryLimiter {
	if budget <= 0 {
		budget = DefaultDeliveryBudget
	}
	if window <= 0 {
		window = defaultRefillWindow
	}
	return &deliveryLimiter{
		budget:  budget,
		refill:  rate.Limit(float64(budget) / window.Seconds()),
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *deliveryLimiter) Allow(subscriber string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[subscriber]
	if !ok {
		bucket = rate.NewLimiter(l.refill, l.budget)
		l.buckets[subscriber] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

func (l *deliveryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
