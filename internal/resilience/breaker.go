package resilience

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned by Breaker.Allow once the breaker has tripped.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker trips after Threshold consecutive failures and stays open for the
// rest of its life. One breaker guards one run, so there is no half-open
// probing. A zero or negative Threshold never trips.
type Breaker struct {
	Threshold int

	mu       sync.Mutex
	failures int
	open     bool
}

// NewBreaker returns a breaker that trips after threshold consecutive failures.
func NewBreaker(threshold int) *Breaker {
	return &Breaker{Threshold: threshold}
}

// Allow returns ErrCircuitOpen when the breaker has tripped.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return ErrCircuitOpen
	}
	return nil
}

// Record feeds the outcome of a call into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.Threshold > 0 && b.failures >= b.Threshold {
		b.open = true
	}
}

// Open reports whether the breaker has tripped.
func (b *Breaker) Open() bool {
	return b.Allow() != nil
}
