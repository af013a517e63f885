package rpc

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ReconnectPolicy computes successive reconnect delays after a Socket's
// transport drops unexpectedly. Next is called once per attempt; Reset is
// called once the Socket reaches Connected again so the next drop starts
// the backoff over.
type ReconnectPolicy interface {
	Next() time.Duration
	Reset()
}

// ExponentialPolicy doubles the delay from Base up to Max, adding up to
// Jitter of random slack so a fleet of clients reconnecting after a shared
// outage doesn't all retry in lockstep. Grounded in the backoff shape of
// the streaming client's retry loop and the WebSocket reconnect helpers
// seen elsewhere in the pack: a capped exponential curve plus jitter,
// rather than a fixed interval or unbounded growth.
type ExponentialPolicy struct {
	// Base is the delay used for the first attempt.
	Base time.Duration
	// Max caps the delay regardless of how many attempts have elapsed.
	Max time.Duration
	// Jitter is the maximum extra random delay added to each attempt, as a
	// fraction of the computed (pre-jitter) delay in [0,1].
	Jitter float64

	mu      sync.Mutex
	attempt int
}

// DefaultReconnectPolicy returns the policy a Client uses when none is
// configured: 250ms base, 30s cap, 20% jitter.
func DefaultReconnectPolicy() *ExponentialPolicy {
	return &ExponentialPolicy{
		Base:   250 * time.Millisecond,
		Max:    30 * time.Second,
		Jitter: 0.2,
	}
}

func (p *ExponentialPolicy) Next() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	delay := float64(p.Base) * math.Pow(2, float64(p.attempt))
	if max := float64(p.Max); delay > max {
		delay = max
	}
	p.attempt++

	if p.Jitter > 0 {
		delay += delay * p.Jitter * rand.Float64()
	}
	return time.Duration(delay)
}

func (p *ExponentialPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempt = 0
}
