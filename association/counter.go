package association

import (
	"go.uber.org/atomic"
)

// Counter hands out association numbers. Implementations must be safe for
// concurrent use.
type Counter interface {
	Next() uint64
}

// AtomicCounter numbers associations 1, 2, 3, ...
type AtomicCounter struct {
	n *atomic.Uint64
}

// NewCounter returns a counter whose first number is 1.
func NewCounter() *AtomicCounter {
	return &AtomicCounter{n: atomic.NewUint64(0)}
}

// Next implements Counter.
func (c *AtomicCounter) Next() uint64 {
	return c.n.Inc()
}

// Last returns the most recently issued number, or 0.
func (c *AtomicCounter) Last() uint64 {
	return c.n.Load()
}
