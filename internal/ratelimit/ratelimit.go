// Package ratelimit enforces inbound requests-per-minute limits with token
// buckets: one global bucket and one per inbound API key. Buckets refill
// continuously at limit/60 tokens per second with a burst of one full
// minute's quota.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/modelgate/modelgate/internal/config"
)

// Info reports the outcome of one limiter check. Limit and Remaining
// describe whichever configured limit was most restrictive.
type Info struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetSecs int64
}

// Limiter applies the configured global and per-key RPM limits.
type Limiter struct {
	mu     sync.Mutex
	cfg    config.RateLimitConfig
	global *rate.Limiter
	perKey map[string]*rate.Limiter
}

// New builds a limiter from config. A nil-equivalent (disabled) config
// allows everything.
func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{}
	l.UpdateConfig(cfg)
	return l
}

// UpdateConfig swaps the limiter configuration, resetting all buckets.
// Called on config hot-reload.
func (l *Limiter) UpdateConfig(cfg config.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.global = nil
	if cfg.Enabled && cfg.GlobalRPM > 0 {
		l.global = newBucket(cfg.GlobalRPM)
	}
	l.perKey = make(map[string]*rate.Limiter)
}

// Allow checks the request against every applicable limit and, when all of
// them admit it, consumes one token from each. apiKey is empty for
// unauthenticated requests, which are only subject to the global limit.
func (l *Limiter) Allow(apiKey string) Info {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.Enabled {
		return Info{Allowed: true, Remaining: math.MaxInt32}
	}

	now := time.Now()
	type bucket struct {
		lim *rate.Limiter
		rpm int
	}
	var buckets []bucket
	if l.global != nil {
		buckets = append(buckets, bucket{l.global, l.cfg.GlobalRPM})
	}
	if l.cfg.PerKeyRPM > 0 && apiKey != "" {
		lim, ok := l.perKey[apiKey]
		if !ok {
			lim = newBucket(l.cfg.PerKeyRPM)
			l.perKey[apiKey] = lim
		}
		buckets = append(buckets, bucket{lim, l.cfg.PerKeyRPM})
	}

	// Admit only when every bucket has a token, so a per-key rejection does
	// not burn global quota.
	for _, b := range buckets {
		if b.lim.TokensAt(now) < 1 {
			return Info{
				Allowed:   false,
				Limit:     b.rpm,
				Remaining: 0,
				ResetSecs: secondsUntilToken(b.lim.TokensAt(now), b.rpm),
			}
		}
	}

	info := Info{Allowed: true, Remaining: math.MaxInt32, ResetSecs: 60}
	for _, b := range buckets {
		b.lim.AllowN(now, 1)
		remaining := int(b.lim.TokensAt(now))
		if remaining < 0 {
			remaining = 0
		}
		// On equal remaining the smaller limit refills slower, so it is the
		// binding one.
		if remaining < info.Remaining || (remaining == info.Remaining && b.rpm < info.Limit) {
			info.Remaining = remaining
			info.Limit = b.rpm
		}
	}
	return info
}

func newBucket(rpm int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(rpm)/60, rpm)
}

// secondsUntilToken estimates how long until the bucket refills one token,
// clamped to [1, 60] for the x-ratelimit-reset header.
func secondsUntilToken(tokens float64, rpm int) int64 {
	perSec := float64(rpm) / 60
	secs := int64(math.Ceil((1 - tokens) / perSec))
	if secs < 1 {
		secs = 1
	}
	if secs > 60 {
		secs = 60
	}
	return secs
}
