package zigbee

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Restart backoff defaults.
const (
	defaultBackoffInitial = 1 * time.Second
	defaultBackoffMax     = 60 * time.Second
	backoffMultiplier     = 2.0
	backoffJitter         = 0.25
)

// backoff calculates exponential restart delays with jitter.
type backoff struct {
	mu       sync.Mutex
	current  time.Duration
	initial  time.Duration
	max      time.Duration
	attempts int
}

func newBackoff(cfg BackoffConfig) *backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = defaultBackoffInitial
	}
	if cfg.Max <= 0 {
		cfg.Max = defaultBackoffMax
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	return &backoff{current: cfg.Initial, initial: cfg.Initial, max: cfg.Max}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current + time.Duration(float64(b.current)*backoffJitter*rand.Float64())

	b.attempts++
	next := time.Duration(float64(b.current) * backoffMultiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset returns to the initial delay. Call after a successful connection.
func (b *backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the base delay of the next attempt, without jitter.
func (b *backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
