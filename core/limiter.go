package core

import (
	"fmt"
	"sync"
)

// Limiter counts bounded iterations (tool cycles, routing steps) and fails
// with its sentinel once the maximum is passed.
type Limiter struct {
	max      int
	count    int
	exceeded error
	mu       sync.Mutex
}

// NewLimiter creates a limiter allowing max increments. If max == 0 the
// limiter never trips. exceeded is wrapped into the returned error.
func NewLimiter(max int, exceeded error) *Limiter {
	return &Limiter{max: max, exceeded: exceeded}
}

// Increment increases the counter and returns an error if the limit is exceeded.
func (l *Limiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w (max %d)", l.exceeded, l.max)
	}

	return nil
}

// Count returns the number of increments so far.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many increments are left before hitting the limit.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1 // unlimited
	}

	return l.max - l.count
}
