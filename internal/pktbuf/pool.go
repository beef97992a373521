// Package pktbuf implements the bounded packet buffer: an arena of fixed-size
// blocks addressed by handle, and reference-counted chains of typed segments
// built on top of it.
package pktbuf

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Link512/stealthpool"
	"github.com/cespare/xxhash"

	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
)

// MaxBlocks is the largest arena a pool can address.
const MaxBlocks = 1<<16 - 1

const poison = 0xdd

// Options sizes a Pool.
type Options struct {
	Blocks    int
	BlockSize int
	// Checked turns misuse (double release, stale handles) into panics.
	Checked bool
}

// Handle addresses one segment slot. The low 16 bits index the slot, the high
// 16 bits carry the slot generation so a stale handle is never confused with
// the segment that reused its slot.
type Handle uint32

func makeHandle(idx int, gen uint16) Handle { return Handle(uint32(gen)<<16 | uint32(idx)) }

func (h Handle) index() int     { return int(h & 0xffff) }
func (h Handle) gen() uint16    { return uint16(h >> 16) }
func (h Handle) String() string { return fmt.Sprintf("#%d.%d", h.index(), h.gen()) }

type slot struct {
	block  []byte
	length int
	kind   core.SegmentKind
	proto  core.Proto
	digest uint64
	gen    uint16
	used   bool
}

// Pool is the bounded allocation arena shared by every producer and the
// inbound path. A single mutex guards the slot table.
type Pool struct {
	mu        sync.Mutex
	blocks    *stealthpool.Pool
	blockSize int
	checked   bool
	slots     []slot
	free      []int
	inUse     int
	closed    bool
}

// NewPool reserves opts.Blocks blocks of opts.BlockSize bytes.
func NewPool(opts Options) (*Pool, error) {
	if opts.Blocks < 1 || opts.Blocks > MaxBlocks {
		return nil, fmt.Errorf("pool blocks must be within [1, %d], got %d", MaxBlocks, opts.Blocks)
	}
	if opts.BlockSize < 1 {
		return nil, fmt.Errorf("pool block size must be positive, got %d", opts.BlockSize)
	}
	blocks, err := stealthpool.New(opts.Blocks, stealthpool.WithBlockSize(opts.BlockSize))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate block pool: %w", err)
	}

	p := &Pool{
		blocks:    blocks,
		blockSize: opts.BlockSize,
		checked:   opts.Checked,
		slots:     make([]slot, opts.Blocks),
		free:      make([]int, opts.Blocks),
	}
	// Lowest index is handed out first.
	for i := range p.free {
		p.free[i] = opts.Blocks - 1 - i
	}
	return p, nil
}

// BlockSize is the largest segment the pool can hold.
func (p *Pool) BlockSize() int { return p.blockSize }

// Capacity is the total number of segment slots.
func (p *Pool) Capacity() int { return len(p.slots) }

// Checked reports whether misuse panics.
func (p *Pool) Checked() bool { return p.checked }

// Alloc copies data into a freshly owned segment tagged kind and proto.
func (p *Pool) Alloc(data []byte, kind core.SegmentKind, proto core.Proto) (Handle, error) {
	if len(data) > p.blockSize {
		return 0, fmt.Errorf("%w: %d bytes > block size %d (%w)", core.ErrSegmentTooLarge, len(data), p.blockSize, core.ErrBufferExhausted)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, fmt.Errorf("%w: pool closed", core.ErrBufferExhausted)
	}
	if len(p.free) == 0 {
		return 0, fmt.Errorf("%w: %d/%d segments in use", core.ErrBufferExhausted, p.inUse, len(p.slots))
	}
	block, err := p.blocks.Get()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrBufferExhausted, err)
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := &p.slots[idx]
	n := copy(block[:cap(block)], data)
	s.block = block
	s.length = n
	s.kind = kind
	s.proto = proto
	s.digest = xxhash.Sum64(block[:cap(block)][:n])
	s.used = true
	p.inUse++
	metrics.PoolSegmentsInUse.Set(float64(p.inUse))

	return makeHandle(idx, s.gen), nil
}

// Free returns a single segment that was never linked into a chain.
func (p *Pool) Free(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeLocked(h)
}

func (p *Pool) freeAll(hs []Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hs {
		p.freeLocked(h)
	}
}

func (p *Pool) freeLocked(h Handle) {
	s, err := p.lookupLocked(h)
	if err != nil {
		p.misuse("free", err)
		return
	}
	if p.checked {
		b := s.block[:cap(s.block)]
		for i := range b {
			b[i] = poison
		}
	}
	if err := p.blocks.Return(s.block); err != nil {
		log.GetLogger().WithError(err).Warnf("block of segment %s refused by arena", h)
	}
	s.block = nil
	s.length = 0
	s.used = false
	s.gen++
	p.free = append(p.free, h.index())
	p.inUse--
	metrics.PoolSegmentsInUse.Set(float64(p.inUse))
}

func (p *Pool) lookupLocked(h Handle) (*slot, error) {
	idx := h.index()
	if idx >= len(p.slots) {
		return nil, fmt.Errorf("%w: handle %s out of range", core.ErrUseAfterRelease, h)
	}
	s := &p.slots[idx]
	if !s.used || s.gen != h.gen() {
		return nil, fmt.Errorf("%w: handle %s is stale", core.ErrUseAfterRelease, h)
	}
	return s, nil
}

// segment returns a view of a live segment.
func (p *Pool) segment(h Handle) (Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.lookupLocked(h)
	if err != nil {
		return Segment{}, err
	}
	return Segment{
		Handle: h,
		Kind:   s.kind,
		Proto:  s.proto,
		Bytes:  s.block[:cap(s.block)][:s.length:s.length],
	}, nil
}

// misuse reports a programming defect: a panic in checked pools, a log line otherwise.
func (p *Pool) misuse(op string, err error) {
	metrics.PoolMisuseTotal.WithLabelValues(op).Inc()
	if p.checked {
		panic(fmt.Errorf("pktbuf %s: %w", op, err))
	}
	log.GetLogger().WithError(err).Errorf("pktbuf %s on released segment ignored", op)
}

// InUse returns the number of live segments.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Available returns the number of segments still free.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Verify checks every live segment against the digest taken at allocation
// and returns one error per corrupted segment.
func (p *Pool) Verify() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for i := range p.slots {
		s := &p.slots[i]
		if !s.used {
			continue
		}
		if xxhash.Sum64(s.block[:cap(s.block)][:s.length]) != s.digest {
			errs = append(errs, fmt.Errorf("segment %s (%s/%s) corrupted", makeHandle(i, s.gen), s.kind, s.proto))
		}
	}
	if used := len(p.slots) - len(p.free); used != p.inUse {
		errs = append(errs, fmt.Errorf("slot accounting mismatch: %d used, %d counted", used, p.inUse))
	}
	return errors.Join(errs...)
}

// Close releases the arena. Live segments become invalid.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.inUse > 0 {
		log.GetLogger().Warnf("closing packet pool with %d live segments", p.inUse)
	}
	return p.blocks.Close()
}
