package transport

import (
	"math/rand/v2"
	"time"
)

// Backoff produces reconnect delays that double from initial up to max, each
// with up to maxJitter of random jitter added. It is not safe for concurrent
// use; the Client guards it with its own mutex.
type Backoff struct {
	initial   time.Duration
	max       time.Duration
	maxJitter time.Duration
	current   time.Duration
	attempt   int
	jitter    func(limit time.Duration) time.Duration
}

// NewBackoff returns a Backoff starting at initial.
func NewBackoff(initial, max, maxJitter time.Duration) *Backoff {
	if max < initial {
		max = initial
	}
	return &Backoff{
		initial:   initial,
		max:       max,
		maxJitter: maxJitter,
		current:   initial,
		jitter:    randomJitter,
	}
}

// Next returns the delay for the upcoming attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	delay := b.current
	b.attempt++

	next := b.current * 2
	if next > b.max || next <= 0 {
		next = b.max
	}
	b.current = next

	if b.maxJitter > 0 {
		delay += b.jitter(b.maxJitter)
	}
	return delay
}

// Reset returns the schedule to the initial delay.
func (b *Backoff) Reset() {
	b.current = b.initial
	b.attempt = 0
}

// Attempt is the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

func randomJitter(limit time.Duration) time.Duration {
	return time.Duration(rand.Int64N(int64(limit) + 1))
}
