package ratelimit

import (
	"sync"
	"time"
)

// One token is tracked as 1e9 nano-tokens so a rate of N tokens/sec adds
// exactly N nano-tokens per elapsed nanosecond.
const nanoPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket limits events to an integer rate with a fixed burst capacity.
// It is safe for concurrent use.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a full bucket. A nil clock means RealClock.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: toNano(capacity),
		last:      clock.Now(),
	}
}

// Allow takes n tokens if they are available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := toNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.rate <= 0 {
		// Clock went backwards or nothing to add; just move the reference.
		return
	}

	full := toNano(b.capacity)
	missing := full - b.available
	if missing <= 0 {
		b.available = full
		return
	}
	// Compare before multiplying so elapsed*rate cannot overflow.
	if elapsed >= missing/b.rate {
		b.available = full
		return
	}
	b.available += elapsed * b.rate
	if b.available > full {
		b.available = full
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
