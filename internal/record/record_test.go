package record

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/telenode/internal/core"
)

func TestUDP(t *testing.T) {
	assert.Equal(t, "udp,4,2001:db8::1,1337,DEADBEEF",
		UDP(4, "2001:db8::1", 1337, []byte{0xde, 0xad, 0xbe, 0xef}))
	assert.Equal(t, "udp,8,2001:db8::1,1337,0102030405",
		UDP(8, "2001:db8::1", 1337, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	assert.Equal(t, "udp_rx,1,fe80::1,8808,FF", UDPRx(1, "fe80::1", 8808, []byte{0xff}))
	assert.Equal(t, "udp,4,2001:db8::1,1337,ABCDEF01",
		UDP(4, "2001:db8::1", 1337, []byte{0xab, 0xcd, 0xef, 0x01}))
	assert.Equal(t, "udp,payload size,destination address,destination port,payload", UDPHeader())
}

func TestRadio(t *testing.T) {
	assert.Equal(t, "radio,16,6,52494F5420", Radio(16, 6, []byte("RIOT says hello.")))
	assert.Equal(t, "radio_rx,3,02:00:00:00:00:00:00:01,-40,255,0A0B0C",
		RadioRx(3, "02:00:00:00:00:00:00:01", -40, 255, []byte{0x0a, 0x0b, 0x0c}))
}

func TestStats(t *testing.T) {
	s := core.IfStats{RxCount: 1, RxBytes: 2, TxUnicast: 3, TxMcast: 4, TxBytes: 5, TxSuccess: 6, TxFailed: 7}
	assert.Equal(t, "stats,1,Layer 2,1,2,7,4,5,6,7", Stats(core.LayerL2, s))
	assert.Equal(t, "stats,1,IPv6,0,0,0,0,0,0,0", Stats(core.LayerIPv6, core.IfStats{}))
	assert.Equal(t, "stats,0,-1,-1,-1,-1,-1,-1,-1,-1", StatsUnavailable())
}

func TestNeighbor(t *testing.T) {
	n := core.Neighbor{
		L2Addr:    []byte{0x02, 0x00, 0x00, 0xff, 0xfe, 0x00, 0x00, 0x01},
		Freshness: 5,
		Fresh:     true,
		ETX:       192,
		TxCount:   10,
		RxCount:   12,
		RSSI:      -62,
		LQI:       255,
		AvgTxTime: 1500 * time.Microsecond,
	}
	assert.Equal(t, "neighbor_stats,02:00:00:ff:fe:00:00:01,5,150%,10,12,-62,255,1500", Neighbor(n))

	n.Fresh = false
	assert.Contains(t, Neighbor(n), ",STALE,")
}

func TestRPL(t *testing.T) {
	lines := RPLStats(core.FrameDAOAck, core.RPLFrameStats{
		Packets: core.RPLCounter{RxUcast: 1, TxUcast: 2, RxMcast: 3, TxMcast: 4},
		Bytes:   core.RPLCounter{RxUcast: 10},
	})
	assert.Equal(t, []string{
		"rpl_stats,DAO-ACK,packets,1,2,3,4",
		"rpl_stats,DAO-ACK,bytes,10,0,0,0",
	}, lines)

	assert.Equal(t, "rpl_status,parent,2,0", RPLStatus("parent", 2, false))
	assert.Equal(t, "rpl_status,instance,0,1", RPLStatus("instance", 0, true))

	in := core.RPLInstance{
		Used: true, ID: 0, Iface: 6, MOP: 2, OCP: 0, MinHopRankInc: 256, MaxRankInc: 0,
		DODAG: core.DODAG{
			ID:   netip.MustParseAddr("2001:db8::1"),
			Rank: 512,
			PIO:  true,
			Trickle: core.Trickle{
				MinInterval: 4096, Doublings: 8, K: 10, C: 1, Remaining: 2700 * time.Millisecond,
			},
		},
	}
	assert.Equal(t, "rpl_stats_instance,0,6,2,0,256,0", RPLInstance(in))
	assert.Equal(t, "rpl_stats_dodag,0,2001:db8::1,512,Router,on,4096,8,10,1,2", RPLDodag(in))

	in.DODAG.Leaf = true
	in.DODAG.PIO = false
	in.DODAG.ID = netip.Addr{}
	assert.Equal(t, "rpl_stats_dodag,0,::,512,Leaf,off,4096,8,10,1,2", RPLDodag(in))

	assert.Equal(t, "rpl_stats_parent,0,fe80::2,256",
		RPLParent(core.RPLParent{Used: true, Addr: netip.MustParseAddr("fe80::2"), Rank: 256}))
}

func TestInfoAndError(t *testing.T) {
	assert.Equal(t, "info,mode is HYBRID", Info("mode is %s", "HYBRID"))
	assert.Equal(t, "error,port_parse,bad port 0", Error("port_parse", "bad port 0"))
	assert.Equal(t, "info,a b", Info("a\nb"))

	err := fmt.Errorf("compose: %w", core.ErrAddressParse)
	assert.Equal(t, "error,address_parse,compose: "+core.ErrAddressParse.Error(), ErrorFrom(err))
	assert.Equal(t, "error,internal,boom", ErrorFrom(errors.New("boom")))
}

func TestHeaders(t *testing.T) {
	for _, h := range Headers() {
		assert.NotContains(t, h, "\n")
	}
	assert.Len(t, Headers(), 7)
}
