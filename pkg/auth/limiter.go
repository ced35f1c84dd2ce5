package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// Fallbacks applied when the security config leaves rate limiting unset.
const (
	defaultRPS   = 5
	defaultBurst = 10
)

// keyLimiters hands out one token bucket per API key (or client IP for
// unauthenticated callers), created lazily on first sight of the key.
type keyLimiters struct {
	mu    sync.Mutex
	pool  map[string]*rate.Limiter
	rps   float64
	burst int
}

func newKeyLimiters(cfg SecConfig) *keyLimiters {
	rps := cfg.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return &keyLimiters{pool: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

// Allow reports whether a request under key fits its bucket right now.
func (k *keyLimiters) Allow(key string) bool {
	k.mu.Lock()
	l, ok := k.pool[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(k.rps), k.burst)
		k.pool[key] = l
	}
	k.mu.Unlock()
	return l.Allow()
}
