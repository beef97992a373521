// Package radio simulates a low-power radio interface with a small
// RPL-style routing layer on top. Radios share a Medium; each keeps layer 2
// and IPv6 counters, a neighbor table and a routing snapshot.
package radio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
	"firestige.xyz/telenode/internal/pktbuf"
	"firestige.xyz/telenode/internal/stack"
)

// Name identifies the stack in logs and metrics.
const Name = "radio"

const (
	maxRetries  = 3
	defaultHops = 64
	agingPeriod = time.Second
)

var allNodes = netip.MustParseAddr("ff02::1")

// Options configures one radio.
type Options struct {
	Iface             int
	Name              string
	EUI64             []byte
	TxQueue           int
	RxQueue           int
	Root              bool
	InstanceID        uint8
	DODAGID           netip.Addr
	MinHopRankInc     uint16
	DIOIntervalMin    uint8
	DIODoublings      uint8
	DIORedundancy     uint8
	FreshnessHalfLife time.Duration
	Seed              uint64
}

// OptionsFrom builds radio options from configuration. Without an explicit
// EUI-64 the address is derived from node so it is stable across restarts.
func OptionsFrom(cfg config.RadioStackConfig, node string) (Options, error) {
	opts := Options{
		Iface:             cfg.Iface,
		Name:              cfg.Name,
		TxQueue:           cfg.TxQueue,
		RxQueue:           cfg.RxQueue,
		Root:              cfg.Root,
		InstanceID:        cfg.InstanceID,
		MinHopRankInc:     cfg.MinHopRankInc,
		DIOIntervalMin:    cfg.DIOIntervalMin,
		DIODoublings:      cfg.DIODoublings,
		DIORedundancy:     cfg.DIORedundancy,
		FreshnessHalfLife: cfg.FreshnessHalfLife,
	}
	if cfg.EUI64 != "" {
		hw, err := net.ParseMAC(cfg.EUI64)
		if err != nil || len(hw) != 8 {
			return Options{}, fmt.Errorf("invalid eui64 %q", cfg.EUI64)
		}
		opts.EUI64 = hw
	} else {
		opts.EUI64 = DeriveEUI64(node)
	}
	dodag, err := netip.ParseAddr(cfg.DODAGID)
	if err != nil || !dodag.Is6() {
		return Options{}, fmt.Errorf("invalid dodag id %q", cfg.DODAGID)
	}
	opts.DODAGID = dodag
	return opts, nil
}

// DeriveEUI64 hashes name into a locally administered unicast EUI-64.
func DeriveEUI64(name string) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, xxhash.Sum64String(name))
	b[0] = (b[0] | 0x02) &^ 0x01
	return b
}

func (o *Options) applyDefaults() {
	if o.Iface <= 0 {
		o.Iface = 6
	}
	if o.Name == "" {
		o.Name = "wpan0"
	}
	if o.TxQueue < 1 {
		o.TxQueue = 16
	}
	if o.RxQueue < 1 {
		o.RxQueue = 16
	}
	if o.MinHopRankInc == 0 {
		o.MinHopRankInc = 256
	}
	if !o.DODAGID.IsValid() {
		o.DODAGID = netip.MustParseAddr("2001:db8::1")
	}
	if o.DIOIntervalMin == 0 {
		o.DIOIntervalMin = 12
	}
	if len(o.EUI64) != 8 {
		o.EUI64 = DeriveEUI64(o.Name)
	}
	if o.Seed == 0 {
		o.Seed = xxhash.Sum64(o.EUI64)
	}
}

// Radio is one simulated node interface.
type Radio struct {
	opts   Options
	medium *Medium
	comp   *compose.Composer

	l2        []byte
	linkLocal netip.Addr
	global    netip.Addr

	l2Counters   stack.Counters
	ipv6Counters stack.Counters
	nbrs         *neighborTable
	rpl          *rplState

	txq    chan frame
	rxq    chan frame
	closed atomic.Bool

	disMu   sync.Mutex
	lastDIS time.Time
}

var _ stack.Stack = (*Radio)(nil)

// New attaches a radio to medium. Inbound chains are built with comp.
func New(medium *Medium, comp *compose.Composer, opts Options) *Radio {
	opts.applyDefaults()
	now := time.Now()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed>>1|1))

	r := &Radio{
		opts:   opts,
		medium: medium,
		comp:   comp,
		l2:     append([]byte(nil), opts.EUI64...),
		nbrs:   newNeighborTable(opts.FreshnessHalfLife),
		rpl:    newRPLState(opts, rng, now),
		txq:    make(chan frame, opts.TxQueue),
		rxq:    make(chan frame, opts.RxQueue),
	}

	var iid [8]byte
	copy(iid[:], r.l2)
	iid[0] ^= 0x02
	var ll [16]byte
	ll[0], ll[1] = 0xfe, 0x80
	copy(ll[8:], iid[:])
	r.linkLocal = netip.AddrFrom16(ll)

	if opts.Root {
		r.global = opts.DODAGID
	} else {
		g := opts.DODAGID.As16()
		copy(g[8:], iid[:])
		r.global = netip.AddrFrom16(g)
	}

	medium.attach(r)
	return r
}

func (r *Radio) Name() string { return Name }

// L2Addr is the radio's EUI-64.
func (r *Radio) L2Addr() []byte { return append([]byte(nil), r.l2...) }

// LinkLocal is the fe80::/64 address derived from the EUI-64.
func (r *Radio) LinkLocal() netip.Addr { return r.linkLocal }

// Global is the routable address: the DODAG ID on the root, the DODAG
// prefix plus interface identifier elsewhere.
func (r *Radio) Global() netip.Addr { return r.global }

// Joined reports whether the radio is part of a DODAG.
func (r *Radio) Joined() bool { return r.rpl.isJoined() }

func (r *Radio) Interfaces() []core.Interface {
	return []core.Interface{{Index: r.opts.Iface, Name: r.opts.Name, L2Addr: r.L2Addr()}}
}

func (r *Radio) InterfaceStats(iface int, layer core.Layer) (core.IfStats, error) {
	if iface != r.opts.Iface {
		return core.IfStats{}, fmt.Errorf("%w: unknown interface %d", core.ErrNotSupported, iface)
	}
	switch layer {
	case core.LayerL2:
		return r.l2Counters.Snapshot(), nil
	case core.LayerIPv6:
		return r.ipv6Counters.Snapshot(), nil
	default:
		return core.IfStats{}, fmt.Errorf("%w: layer %s", core.ErrNotSupported, layer)
	}
}

func (r *Radio) Neighbors(iface int) []core.Neighbor {
	if iface != r.opts.Iface {
		return nil
	}
	return r.nbrs.snapshot(time.Now())
}

func (r *Radio) Routing() core.RoutingSnapshot {
	return r.rpl.snapshot(time.Now())
}

func (r *Radio) sourceFor(dst netip.Addr) netip.Addr {
	if dst.IsLinkLocalUnicast() || dst.IsLinkLocalMulticast() || dst.IsInterfaceLocalMulticast() {
		return r.linkLocal
	}
	return r.global
}

// errUplink marks a destination beyond the root's uplink.
var errUplink = errors.New("uplink")

// route fills in the link-layer destination of a data frame.
func (r *Radio) route(f *frame) error {
	if f.dstIP.IsMulticast() {
		f.dst = nil
		return nil
	}
	if owner := r.medium.owner(f.dstIP); owner != nil && owner != r && r.nbrs.known(owner.l2) {
		f.dst = owner.l2
		return nil
	}
	if p, ok := r.rpl.preferred(); ok {
		f.dst = p.l2
		return nil
	}
	if r.opts.Root || f.dstIP == r.global || f.dstIP == r.linkLocal {
		return errUplink
	}
	return fmt.Errorf("%w: no route to %s", core.ErrTransmitRejected, f.dstIP)
}

// Transmit queues the chain's datagram for the air. A full queue rejects the
// chain and leaves it with the caller.
func (r *Radio) Transmit(_ context.Context, c *pktbuf.Chain) (int, error) {
	if r.closed.Load() {
		return 0, fmt.Errorf("%w: %w", core.ErrTransmitRejected, core.ErrStackClosed)
	}
	if c.Proto() == core.ProtoRadio {
		return r.transmitRaw(c)
	}
	out, err := stack.ParseOutbound(c)
	if err != nil {
		return 0, err
	}
	if out.Iface != 0 && out.Iface != r.opts.Iface {
		return 0, fmt.Errorf("%w: no interface %d", core.ErrTransmitRejected, out.Iface)
	}

	f := frame{
		kind:     kindData,
		src:      r.l2,
		srcIP:    r.sourceFor(out.Dst),
		dstIP:    out.Dst,
		srcPort:  out.SrcPort,
		dstPort:  out.DstPort,
		hopLimit: defaultHops,
		payload:  out.Payload,
	}
	multicast := out.Dst.IsMulticast()

	switch err := r.route(&f); {
	case errors.Is(err, errUplink):
		r.ipv6Counters.Sent(f.ipSize(), multicast)
		r.ipv6Counters.Completed(true)
		c.Release()
		return f.ipSize(), nil
	case err != nil:
		r.ipv6Counters.Sent(f.ipSize(), multicast)
		r.ipv6Counters.Completed(false)
		return 0, err
	}

	select {
	case r.txq <- f:
	default:
		r.ipv6Counters.Sent(f.ipSize(), multicast)
		r.ipv6Counters.Completed(false)
		return 0, fmt.Errorf("%w: radio tx queue full (%d frames)", core.ErrTransmitRejected, cap(r.txq))
	}
	r.ipv6Counters.Sent(f.ipSize(), multicast)
	r.ipv6Counters.Completed(true)
	c.Release()
	return f.size(), nil
}

// transmitRaw queues a link-layer broadcast. Raw frames bypass IPv6 and
// are counted at layer 2 only.
func (r *Radio) transmitRaw(c *pktbuf.Chain) (int, error) {
	d, err := compose.Decompose(c)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrTransmitRejected, err)
	}
	if d.Link == nil || !d.Link.Broadcast {
		return 0, fmt.Errorf("%w: raw frame must be a link-layer broadcast", core.ErrTransmitRejected)
	}
	if d.Link.Iface != 0 && d.Link.Iface != r.opts.Iface {
		return 0, fmt.Errorf("%w: no interface %d", core.ErrTransmitRejected, d.Link.Iface)
	}

	f := frame{kind: kindRaw, src: r.l2, payload: d.Payload}
	select {
	case r.txq <- f:
	default:
		return 0, fmt.Errorf("%w: radio tx queue full (%d frames)", core.ErrTransmitRejected, cap(r.txq))
	}
	c.Release()
	return f.size(), nil
}

func (r *Radio) enqueueRx(f frame) bool {
	if r.closed.Load() {
		return false
	}
	select {
	case r.rxq <- f:
		return true
	default:
		return false
	}
}

// queueControl queues a routing frame; a full queue drops it.
func (r *Radio) queueControl(f frame) {
	f.src = r.l2
	f.hopLimit = 255
	select {
	case r.txq <- f:
	default:
		log.GetLogger().Debugf("%s: tx queue full, %s dropped", r.opts.Name, f.kind)
	}
}

// Run drives the radio until ctx is done: the transmit worker, the routing
// timers and the receive loop.
func (r *Radio) Run(ctx context.Context, deliver stack.DeliverFunc) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.txLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.controlLoop(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-r.rxq:
			r.receive(f, deliver)
		}
	}
}

func (r *Radio) txLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-r.txq:
			r.send(f)
		}
	}
}

func (r *Radio) send(f frame) {
	size := f.size()
	r.l2Counters.Sent(size, f.broadcast())
	r.rpl.count(&f, true)

	if f.broadcast() {
		r.medium.transmit(r, f)
		r.l2Counters.Completed(true)
		return
	}

	attempts, acked := 0, false
	for attempts < maxRetries && !acked {
		attempts++
		acked = r.medium.transmit(r, f)
	}
	r.l2Counters.Completed(acked)
	r.nbrs.recordTx(f.dst, attempts, acked, f.airtime(), time.Now())
}

func (r *Radio) controlLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	aging := time.NewTicker(agingPeriod)
	defer aging.Stop()

	r.solicit(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-aging.C:
			r.rpl.prune(func(l2 []byte) bool { return r.nbrs.fresh(l2, now) }, now)
			if !r.rpl.isJoined() {
				r.solicit(now)
			} else if r.rpl.needsDAO() {
				r.sendDAO()
			}
		case now := <-timer.C:
			send, next := r.rpl.tick(now)
			if send {
				r.sendDIO()
			}
			timer.Reset(next)
		}
	}
}

// solicit multicasts a DIS, at most once per minimum trickle interval.
func (r *Radio) solicit(now time.Time) {
	r.disMu.Lock()
	defer r.disMu.Unlock()
	if r.rpl.root || now.Sub(r.lastDIS) < r.rpl.trickle.imin {
		return
	}
	r.lastDIS = now
	r.queueControl(frame{kind: kindDIS, srcIP: r.linkLocal, dstIP: allNodes})
}

func (r *Radio) sendDIO() {
	instance, dodag, rank, ok := r.rpl.dio()
	if !ok {
		return
	}
	r.queueControl(frame{kind: kindDIO, srcIP: r.linkLocal, dstIP: allNodes, instance: instance, dodag: dodag, rank: rank})
}

func (r *Radio) sendDAO() {
	p, ok := r.rpl.preferred()
	if !ok {
		return
	}
	instance, dodag, rank, _ := r.rpl.dio()
	r.queueControl(frame{kind: kindDAO, dst: p.l2, srcIP: r.global, dstIP: p.addr, instance: instance, dodag: dodag, rank: rank})
}

func (r *Radio) receive(f frame, deliver stack.DeliverFunc) {
	now := time.Now()
	r.l2Counters.Received(f.size())
	r.nbrs.recordRx(f.src, f.rssi, f.lqi, now)
	r.rpl.count(&f, false)

	switch f.kind {
	case kindDIO:
		if r.rpl.onDIO(&f, now) {
			r.sendDAO()
		}
	case kindDIS:
		r.rpl.onDIS(now)
	case kindDAO:
		if r.rpl.isJoined() {
			r.queueControl(frame{kind: kindDAOAck, dst: f.src, srcIP: r.linkLocal, dstIP: f.srcIP, instance: f.instance})
		}
	case kindDAOAck:
		r.rpl.onDAOAck()
	case kindData:
		r.receiveData(f, deliver)
	case kindRaw:
		r.receiveRaw(f, deliver)
	}
}

func (r *Radio) receiveRaw(f frame, deliver stack.DeliverFunc) {
	metrics.InboundPacketsTotal.WithLabelValues(Name).Inc()
	if deliver == nil {
		return
	}
	chain, err := r.comp.ComposeRaw(f.payload, compose.LinkInfo{
		Iface:     r.opts.Iface,
		Broadcast: true,
		LQI:       f.lqi,
		RSSI:      f.rssi,
		L2Src:     f.src,
	})
	if err != nil {
		log.GetLogger().WithError(err).Warnf("%s: dropping %d byte raw frame", r.opts.Name, len(f.payload))
		return
	}
	deliver(chain)
	chain.Release()
}

func (r *Radio) receiveData(f frame, deliver stack.DeliverFunc) {
	if f.dstIP != r.linkLocal && f.dstIP != r.global && f.dstIP != allNodes {
		r.forward(f)
		return
	}
	r.ipv6Counters.Received(f.ipSize())
	metrics.InboundPacketsTotal.WithLabelValues(Name).Inc()
	if deliver == nil {
		return
	}

	link := &compose.LinkInfo{
		Iface:     r.opts.Iface,
		Broadcast: f.broadcast(),
		Multicast: f.dstIP.IsMulticast(),
		LQI:       f.lqi,
		RSSI:      f.rssi,
		L2Src:     f.src,
	}
	chain, err := r.comp.Inbound(f.payload,
		netip.AddrPortFrom(f.srcIP, f.srcPort),
		netip.AddrPortFrom(f.dstIP, f.dstPort),
		link)
	if err != nil {
		log.GetLogger().WithError(err).Warnf("%s: dropping %d byte datagram from %s", r.opts.Name, len(f.payload), f.srcIP)
		return
	}
	deliver(chain)
	chain.Release()
}

// forward relays a datagram addressed to another node one hop further.
func (r *Radio) forward(f frame) {
	if f.hopLimit <= 1 {
		return
	}
	f.hopLimit--
	f.src = r.l2
	if err := r.route(&f); err != nil {
		if !errors.Is(err, errUplink) {
			log.GetLogger().WithError(err).Debugf("%s: cannot forward", r.opts.Name)
		}
		return
	}
	select {
	case r.txq <- f:
	default:
		log.GetLogger().Debugf("%s: tx queue full, forward of %d bytes dropped", r.opts.Name, len(f.payload))
	}
}

// Close detaches the radio from the medium.
func (r *Radio) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.medium.detach(r)
	return nil
}
