package pktbuf

import (
	"fmt"
	"sync"
	"sync/atomic"

	"firestige.xyz/telenode/internal/core"
)

// Segment is a read view of one typed byte range of a chain.
type Segment struct {
	Handle Handle
	Kind   core.SegmentKind
	Proto  core.Proto
	Bytes  []byte
}

// Len returns the segment length in bytes.
func (s Segment) Len() int { return len(s.Bytes) }

// Chain is an ordered sequence of segments, outermost header first, with the
// payload last. The chain as a whole is reference counted: every holder calls
// Release exactly once and the last release returns every segment to the pool.
type Chain struct {
	pool *Pool
	mu   sync.RWMutex
	// handles is stored payload first so a prepend is an append.
	handles []Handle
	proto   core.Proto
	holders atomic.Int32
}

// NewChain starts a chain from its payload segment. The caller is the only holder.
func (p *Pool) NewChain(payload Handle) (*Chain, error) {
	seg, err := p.segment(payload)
	if err != nil {
		return nil, err
	}
	c := &Chain{
		pool:    p,
		handles: make([]Handle, 1, 4),
		proto:   seg.Proto,
	}
	c.handles[0] = payload
	c.holders.Store(1)
	return c, nil
}

// Prepend makes h the new head of the chain. Only the sole holder may grow
// a chain; once shared it is read-only.
func (c *Chain) Prepend(h Handle) {
	if n := c.holders.Load(); n != 1 {
		c.pool.misuse("prepend", fmt.Errorf("%w: chain has %d holders", core.ErrUseAfterRelease, n))
		return
	}
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()
}

// Retain adds a holder.
func (c *Chain) Retain() *Chain {
	if n := c.holders.Add(1); n <= 1 {
		c.holders.Add(-1)
		c.pool.misuse("retain", fmt.Errorf("%w: retain on released chain", core.ErrUseAfterRelease))
	}
	return c
}

// Release drops one holder; the last holder returns every segment.
func (c *Chain) Release() {
	n := c.holders.Add(-1)
	switch {
	case n == 0:
		c.mu.Lock()
		hs := c.handles
		c.handles = nil
		c.mu.Unlock()
		c.pool.freeAll(hs)
	case n < 0:
		c.holders.Add(1)
		c.pool.misuse("release", fmt.Errorf("%w: chain released twice", core.ErrUseAfterRelease))
	}
}

// Holders returns the current holder count.
func (c *Chain) Holders() int { return int(c.holders.Load()) }

// Proto is the logical type of the payload segment.
func (c *Chain) Proto() core.Proto { return c.proto }

// Len returns the number of segments.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

// Segments returns views of every segment, head first.
func (c *Chain) Segments() []Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.handles) == 0 {
		c.pool.misuse("read", fmt.Errorf("%w: read of released chain", core.ErrUseAfterRelease))
		return nil
	}
	segs := make([]Segment, 0, len(c.handles))
	for i := len(c.handles) - 1; i >= 0; i-- {
		s, err := c.pool.segment(c.handles[i])
		if err != nil {
			c.pool.misuse("read", err)
			return nil
		}
		segs = append(segs, s)
	}
	return segs
}

// Find returns the outermost segment of the given kind.
func (c *Chain) Find(kind core.SegmentKind) (Segment, bool) {
	for _, s := range c.Segments() {
		if s.Kind == kind {
			return s, true
		}
	}
	return Segment{}, false
}

// Size is the total byte length of the chain.
func (c *Chain) Size() int {
	size := 0
	for _, s := range c.Segments() {
		size += s.Len()
	}
	return size
}

// Flatten copies every segment, head first, into one contiguous buffer.
func (c *Chain) Flatten() []byte {
	segs := c.Segments()
	out := make([]byte, 0, 64)
	for _, s := range segs {
		out = append(out, s.Bytes...)
	}
	return out
}
