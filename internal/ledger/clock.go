// Package ledger supplies the environment values the analytics engine reads
// from its host: the current time and a monotonic sequence number.
package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tos-network/kale-analytics/internal/util"
)

// Clock is the injected source of time and sequence numbers
type Clock interface {
	// Now returns the current time in unix seconds
	Now() uint64
	// Sequence returns the next ledger sequence number
	Sequence(ctx context.Context) uint64
}

// Sequencer is a durable source of sequence numbers
type Sequencer interface {
	NextSequence(ctx context.Context) (uint64, error)
}

// SystemClock reads wall time and draws sequence numbers from a Sequencer.
// When the sequencer fails it continues from the last value it handed out.
type SystemClock struct {
	seq  Sequencer
	last atomic.Uint64
}

// NewSystemClock creates a clock backed by seq; seq may be nil
func NewSystemClock(seq Sequencer) *SystemClock {
	return &SystemClock{seq: seq}
}

// Now returns wall time in unix seconds
func (c *SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

// Sequence returns the next sequence number
func (c *SystemClock) Sequence(ctx context.Context) uint64 {
	if c.seq != nil {
		n, err := c.seq.NextSequence(ctx)
		if err == nil {
			c.observe(n)
			return n
		}
		util.Warnf("Sequence store unavailable, using local counter: %v", err)
	}
	return c.last.Add(1)
}

// observe raises the local counter to n
func (c *SystemClock) observe(n uint64) {
	for {
		cur := c.last.Load()
		if n <= cur || c.last.CompareAndSwap(cur, n) {
			return
		}
	}
}

// FixedClock is a manually driven clock for tests
type FixedClock struct {
	mu  sync.Mutex
	now uint64
	seq uint64
}

// NewFixedClock creates a clock frozen at now
func NewFixedClock(now uint64) *FixedClock {
	return &FixedClock{now: now}
}

// Now returns the frozen time
func (c *FixedClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sequence returns 1, 2, 3, ...
func (c *FixedClock) Sequence(ctx context.Context) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Advance moves the clock forward by d seconds
func (c *FixedClock) Advance(d uint64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}

// Set moves the clock to now
func (c *FixedClock) Set(now uint64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}
