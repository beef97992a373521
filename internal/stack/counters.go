package stack

import (
	"sync/atomic"

	"firestige.xyz/telenode/internal/core"
)

// Counters tracks one interface layer using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	RxCount   atomic.Uint64
	RxBytes   atomic.Uint64
	TxUnicast atomic.Uint64
	TxMcast   atomic.Uint64
	TxBytes   atomic.Uint64
	TxSuccess atomic.Uint64
	TxFailed  atomic.Uint64
}

// Received counts one inbound packet of n bytes.
func (c *Counters) Received(n int) {
	c.RxCount.Add(1)
	c.RxBytes.Add(uint64(n))
}

// Sent counts one outbound packet of n bytes.
func (c *Counters) Sent(n int, multicast bool) {
	if multicast {
		c.TxMcast.Add(1)
	} else {
		c.TxUnicast.Add(1)
	}
	c.TxBytes.Add(uint64(n))
}

// Completed counts the outcome of a transmission.
func (c *Counters) Completed(ok bool) {
	if ok {
		c.TxSuccess.Add(1)
	} else {
		c.TxFailed.Add(1)
	}
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() core.IfStats {
	return core.IfStats{
		RxCount:   c.RxCount.Load(),
		RxBytes:   c.RxBytes.Load(),
		TxUnicast: c.TxUnicast.Load(),
		TxMcast:   c.TxMcast.Load(),
		TxBytes:   c.TxBytes.Load(),
		TxSuccess: c.TxSuccess.Load(),
		TxFailed:  c.TxFailed.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.RxCount.Store(0)
	c.RxBytes.Store(0)
	c.TxUnicast.Store(0)
	c.TxMcast.Store(0)
	c.TxBytes.Store(0)
	c.TxSuccess.Store(0)
	c.TxFailed.Store(0)
}
