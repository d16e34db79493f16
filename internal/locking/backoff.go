package locking

import "time"

// Backoff defaults.
const (
	DefaultInitialBackoff = 10 * time.Millisecond
	DefaultBackoffFactor  = 2
	DefaultBackoffCap     = time.Second
)

// Backoff produces geometrically growing sleep intervals between lock probes.
type Backoff struct {
	Initial time.Duration
	Factor  int
	Cap     time.Duration

	next time.Duration
}

// DefaultBackoff returns 10ms doubling up to 1s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: DefaultInitialBackoff,
		Factor:  DefaultBackoffFactor,
		Cap:     DefaultBackoffCap,
	}
}

// Next returns the next interval and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Initial
		if b.next <= 0 {
			b.next = DefaultInitialBackoff
		}
	}

	current := b.next
	if b.Cap > 0 && current > b.Cap {
		current = b.Cap
	}

	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	grown := b.next * time.Duration(factor)
	if b.Cap > 0 && grown > b.Cap {
		grown = b.Cap
	}
	b.next = grown

	return current
}

// Reset restarts the sequence at Initial.
func (b *Backoff) Reset() {
	b.next = 0
}
