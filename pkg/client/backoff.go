package client

import "time"

// Default reconnection parameters.
const (
	defaultBackoffBase = 1 * time.Second
	defaultBackoffMax  = 30 * time.Second
	defaultCapExponent = 5
)

// Backoff computes exponential reconnect delays:
//
//	delay = min(Base * 2^min(attempt, CapExponent), Max)
//
// With the defaults the sequence for consecutive failures is
// 1s, 2s, 4s, 8s, 16s, 30s, 30s, ...
type Backoff struct {
	// Base is the delay before the first retry. Defaults to 1s if zero.
	Base time.Duration

	// Max caps the delay. Defaults to 30s if zero.
	Max time.Duration

	// CapExponent bounds the shift so the multiplication cannot overflow on
	// long outages. Defaults to 5 if zero.
	CapExponent int
}

// Delay returns the wait before reconnect attempt number attempt, counting
// from 0.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	max := b.Max
	if max <= 0 {
		max = defaultBackoffMax
	}
	capExp := b.CapExponent
	if capExp <= 0 {
		capExp = defaultCapExponent
	}

	if attempt < 0 {
		attempt = 0
	}
	if attempt > capExp {
		attempt = capExp
	}
	d := base << uint(attempt)
	if d > max {
		d = max
	}
	return d
}
