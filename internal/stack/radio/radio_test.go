package radio

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/pktbuf"
)

func newComposer(t *testing.T) *compose.Composer {
	t.Helper()
	p, err := pktbuf.NewPool(pktbuf.Options{Blocks: 64, BlockSize: 128, Checked: true})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return compose.New(p)
}

func fastOptions(name string, root bool) Options {
	return Options{
		Iface:             6,
		Name:              name,
		EUI64:             DeriveEUI64(name),
		TxQueue:           16,
		RxQueue:           16,
		Root:              root,
		DODAGID:           netip.MustParseAddr("2001:db8::1"),
		MinHopRankInc:     256,
		DIOIntervalMin:    4, // 16ms
		DIODoublings:      2,
		DIORedundancy:     10,
		FreshnessHalfLife: time.Minute,
	}
}

type collector struct {
	mu  sync.Mutex
	got []compose.Decoded
}

func (c *collector) deliver(chain *pktbuf.Chain) {
	d, err := compose.Decompose(chain)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.got = append(c.got, d)
	c.mu.Unlock()
}

func (c *collector) received() []compose.Decoded {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]compose.Decoded(nil), c.got...)
}

func TestJoinAndSendToRoot(t *testing.T) {
	comp := newComposer(t)
	m := NewMedium(0, 1)
	root := New(m, comp, fastOptions("root", true))
	node := New(m, comp, fastOptions("node", false))
	defer root.Close()
	defer node.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var atRoot collector
	go root.Run(ctx, atRoot.deliver)
	go node.Run(ctx, nil)

	require.Eventually(t, node.Joined, 3*time.Second, 10*time.Millisecond)

	snap := node.Routing()
	require.True(t, snap.Instances[0].Used)
	assert.Equal(t, uint16(512), snap.Instances[0].DODAG.Rank)
	assert.Equal(t, root.Global(), snap.Instances[0].DODAG.ID)
	assert.Equal(t, uint32(16), snap.Instances[0].DODAG.Trickle.MinInterval)
	require.True(t, snap.Parents[0].Used)
	assert.Equal(t, root.LinkLocal(), snap.Parents[0].Addr)
	assert.Equal(t, uint16(256), snap.Parents[0].Rank)
	assert.False(t, snap.Parents[1].Used)

	chain, _, err := comp.Compose([]byte{1, 2, 3, 4}, "2001:db8::1", "1337", 0)
	require.NoError(t, err)
	_, err = node.Transmit(ctx, chain)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(atRoot.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	d := atRoot.received()[0]
	assert.Equal(t, []byte{1, 2, 3, 4}, d.Payload)
	assert.Equal(t, node.Global(), d.Src)
	require.NotNil(t, d.Link)
	assert.Equal(t, node.L2Addr(), d.Link.L2Src)
	assert.False(t, d.Link.Broadcast)

	l2, err := node.InterfaceStats(6, core.LayerL2)
	require.NoError(t, err)
	assert.Positive(t, l2.TxSuccess)
	ip, err := node.InterfaceStats(6, core.LayerIPv6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ip.TxUnicast)

	nbrs := node.Neighbors(6)
	require.Len(t, nbrs, 1)
	assert.Equal(t, root.L2Addr(), nbrs[0].L2Addr)
	assert.Positive(t, nbrs[0].RxCount)

	rootSnap := root.Routing()
	assert.Positive(t, rootSnap.Stats[core.FrameDIO].Packets.TxMcast)
	assert.Eventually(t, func() bool {
		st := root.Routing().Stats
		return st[core.FrameDIS].Packets.RxMcast > 0 && st[core.FrameDAO].Packets.RxUcast > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastReachesEveryone(t *testing.T) {
	comp := newComposer(t)
	m := NewMedium(0, 1)
	a := New(m, comp, fastOptions("a", true))
	b := New(m, comp, fastOptions("b", false))
	c := New(m, comp, fastOptions("c", false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var atB, atC collector
	go b.Run(ctx, atB.deliver)
	go c.Run(ctx, atC.deliver)
	go a.Run(ctx, nil)

	chain, _, err := comp.Compose([]byte("hi"), "ff02::1", "8808", 0)
	require.NoError(t, err)
	_, err = a.Transmit(ctx, chain)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(atB.received()) == 1 && len(atC.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	d := atB.received()[0]
	assert.True(t, d.Link.Broadcast)
	assert.Equal(t, a.LinkLocal(), d.Src)

	st, _ := a.InterfaceStats(6, core.LayerIPv6)
	assert.Equal(t, uint64(1), st.TxMcast)
}

func TestRawBroadcastReachesEveryone(t *testing.T) {
	comp := newComposer(t)
	m := NewMedium(0, 1)
	a := New(m, comp, fastOptions("a", true))
	b := New(m, comp, fastOptions("b", false))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var protos []core.Proto
	var atB collector
	go b.Run(ctx, func(c *pktbuf.Chain) {
		mu.Lock()
		protos = append(protos, c.Proto())
		mu.Unlock()
		atB.deliver(c)
	})
	go a.Run(ctx, nil)

	chain, err := comp.ComposeRaw([]byte("RIOT says hello."), compose.LinkInfo{Iface: 6, Broadcast: true})
	require.NoError(t, err)
	n, err := a.Transmit(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, macHeaderLen+16, n)

	require.Eventually(t, func() bool { return len(atB.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	d := atB.received()[0]
	assert.Equal(t, []byte("RIOT says hello."), d.Payload)
	require.NotNil(t, d.Link)
	assert.True(t, d.Link.Broadcast)
	assert.Equal(t, a.L2Addr(), d.Link.L2Src)
	mu.Lock()
	assert.Equal(t, []core.Proto{core.ProtoRadio}, protos)
	mu.Unlock()

	st, _ := a.InterfaceStats(6, core.LayerIPv6)
	assert.Zero(t, st.TxMcast)
	assert.Eventually(t, func() bool {
		l2, _ := a.InterfaceStats(6, core.LayerL2)
		return l2.TxMcast == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRawTransmitRejects(t *testing.T) {
	comp := newComposer(t)
	r := New(NewMedium(0, 1), comp, fastOptions("raw", true))

	unicast, err := comp.ComposeRaw([]byte{1}, compose.LinkInfo{Iface: 6})
	require.NoError(t, err)
	_, err = r.Transmit(context.Background(), unicast)
	assert.True(t, errors.Is(err, core.ErrTransmitRejected))
	unicast.Release()

	elsewhere, err := comp.ComposeRaw([]byte{1}, compose.LinkInfo{Iface: 7, Broadcast: true})
	require.NoError(t, err)
	_, err = r.Transmit(context.Background(), elsewhere)
	assert.True(t, errors.Is(err, core.ErrTransmitRejected))
	elsewhere.Release()

	assert.Equal(t, 0, comp.Pool().InUse())
}

func TestTxQueueFullRejects(t *testing.T) {
	comp := newComposer(t)
	opts := fastOptions("busy", true)
	opts.TxQueue = 1
	r := New(NewMedium(0, 1), comp, opts)

	first, _, err := comp.Compose([]byte{1}, "ff02::1", "8808", 0)
	require.NoError(t, err)
	_, err = r.Transmit(context.Background(), first)
	require.NoError(t, err)

	second, _, err := comp.Compose([]byte{2}, "ff02::1", "8808", 0)
	require.NoError(t, err)
	_, err = r.Transmit(context.Background(), second)
	assert.True(t, errors.Is(err, core.ErrTransmitRejected))
	assert.Equal(t, 1, second.Holders())
	second.Release()

	st, _ := r.InterfaceStats(6, core.LayerIPv6)
	assert.Equal(t, uint64(1), st.TxSuccess)
	assert.Equal(t, uint64(1), st.TxFailed)
}

func TestNoRouteRejects(t *testing.T) {
	comp := newComposer(t)
	r := New(NewMedium(0, 1), comp, fastOptions("lonely", false))

	chain, _, err := comp.Compose([]byte{1}, "2001:db8::1", "1337", 0)
	require.NoError(t, err)
	_, err = r.Transmit(context.Background(), chain)
	assert.True(t, errors.Is(err, core.ErrTransmitRejected))
	chain.Release()
	assert.Equal(t, 0, comp.Pool().InUse())
}

func TestRootUplink(t *testing.T) {
	comp := newComposer(t)
	r := New(NewMedium(0, 1), comp, fastOptions("root", true))

	chain, _, err := comp.Compose([]byte{1}, "2001:db8::99", "1337", 0)
	require.NoError(t, err)
	_, err = r.Transmit(context.Background(), chain)
	require.NoError(t, err)
	assert.Equal(t, 0, comp.Pool().InUse())
}

func TestUnknownInterface(t *testing.T) {
	r := New(NewMedium(0, 1), newComposer(t), fastOptions("x", true))
	_, err := r.InterfaceStats(7, core.LayerL2)
	assert.True(t, errors.Is(err, core.ErrNotSupported))
	assert.Nil(t, r.Neighbors(7))
}

func TestLinkQualitySymmetric(t *testing.T) {
	a, b := DeriveEUI64("a"), DeriveEUI64("b")
	r1, l1 := linkQuality(a, b)
	r2, l2 := linkQuality(b, a)
	assert.Equal(t, r1, r2)
	assert.Equal(t, l1, l2)
	assert.LessOrEqual(t, r1, int8(-45))
}

func TestNeighborFreshnessDecay(t *testing.T) {
	tbl := newNeighborTable(time.Second)
	l2 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	now := time.Unix(1000, 0)

	for i := 0; i < 4; i++ {
		tbl.recordRx(l2, -50, 200, now)
	}
	assert.True(t, tbl.fresh(l2, now))

	// Two half-lives: 4 -> 1.
	later := now.Add(2 * time.Second)
	assert.False(t, tbl.fresh(l2, later))
	snap := tbl.snapshot(later)
	require.Len(t, snap, 1)
	assert.Equal(t, uint8(1), snap[0].Freshness)
	assert.False(t, snap[0].Fresh)
}

func TestNeighborETX(t *testing.T) {
	tbl := newNeighborTable(time.Minute)
	l2 := []byte{1}
	now := time.Now()

	for i := 0; i < 50; i++ {
		tbl.recordTx(l2, 1, true, time.Millisecond, now)
	}
	snap := tbl.snapshot(now)
	assert.InDelta(t, core.ETXDivisor, int(snap[0].ETX), 2)
	assert.Equal(t, uint32(50), snap[0].TxCount)
	assert.Equal(t, time.Millisecond, snap[0].AvgTxTime)

	tbl.recordTx(l2, 3, false, time.Millisecond, now)
	assert.Greater(t, tbl.snapshot(now)[0].ETX, uint16(core.ETXDivisor))
}

func TestNeighborEviction(t *testing.T) {
	tbl := newNeighborTable(time.Minute)
	now := time.Now()
	for i := 0; i < NeighborTableSize+2; i++ {
		tbl.recordRx([]byte{byte(i)}, -50, 200, now.Add(time.Duration(i)*time.Millisecond))
	}
	assert.Len(t, tbl.snapshot(now), NeighborTableSize)
}

func TestTrickleDoublesAndSuppresses(t *testing.T) {
	now := time.Unix(0, 0)
	tr := newTrickle(4, 2, 1, rand.New(rand.NewPCG(1, 2)), now) // 16ms .. 64ms, k=1

	send, _ := tr.step(now.Add(16 * time.Millisecond))
	assert.True(t, send)
	assert.Equal(t, 32*time.Millisecond, tr.i)

	tr.heard()
	send, _ = tr.step(now.Add(48 * time.Millisecond))
	assert.False(t, send, "suppressed after k consistent DIOs")
	assert.Equal(t, 64*time.Millisecond, tr.i)

	tr.step(now.Add(200 * time.Millisecond))
	assert.Equal(t, 64*time.Millisecond, tr.i, "capped at Imax")

	tr.reset(now)
	assert.Equal(t, 16*time.Millisecond, tr.i)
	assert.Equal(t, uint32(16), tr.surface(now).MinInterval)
}

func TestOptionsFrom(t *testing.T) {
	opts, err := OptionsFrom(config.RadioStackConfig{
		Iface: 6, EUI64: "02:00:00:ff:fe:00:00:01", DODAGID: "2001:db8::1",
	}, "n")
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 0, 0xff, 0xfe, 0, 0, 1}, opts.EUI64)

	opts, err = OptionsFrom(config.RadioStackConfig{DODAGID: "2001:db8::1"}, "n")
	require.NoError(t, err)
	assert.Equal(t, DeriveEUI64("n"), opts.EUI64)
	assert.Zero(t, opts.EUI64[0]&0x01)

	_, err = OptionsFrom(config.RadioStackConfig{DODAGID: "nope"}, "n")
	assert.Error(t, err)
}
