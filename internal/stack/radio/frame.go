package radio

import (
	"net/netip"
	"time"

	"firestige.xyz/telenode/internal/core"
)

type frameKind uint8

const (
	kindData frameKind = iota
	kindDIO
	kindDIS
	kindDAO
	kindDAOAck
	kindRaw
)

func (k frameKind) String() string {
	switch k {
	case kindData:
		return "data"
	case kindDIO:
		return "DIO"
	case kindDIS:
		return "DIS"
	case kindDAO:
		return "DAO"
	case kindDAOAck:
		return "DAO-ACK"
	case kindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// frameType maps a control frame to its routing stats slot.
func (k frameKind) frameType() (int, bool) {
	switch k {
	case kindDIO:
		return core.FrameDIO, true
	case kindDIS:
		return core.FrameDIS, true
	case kindDAO:
		return core.FrameDAO, true
	case kindDAOAck:
		return core.FrameDAOAck, true
	default:
		return 0, false
	}
}

// Frame sizes in bytes.
const (
	macHeaderLen  = 21
	ipv6HeaderLen = 40
	udpHeaderLen  = 8
	icmpHeaderLen = 4

	dioBodyLen    = 24
	disBodyLen    = 2
	daoBodyLen    = 20 + 16
	daoAckBodyLen = 4

	// octetAirtime is the air time of one byte at 250 kbit/s.
	octetAirtime = 32 * time.Microsecond
)

// frame is one radio transmission. dst == nil is a link-layer broadcast.
type frame struct {
	kind     frameKind
	src, dst []byte
	srcIP    netip.Addr
	dstIP    netip.Addr
	srcPort  uint16
	dstPort  uint16
	hopLimit uint8
	payload  []byte

	// routing control fields
	instance uint8
	dodag    netip.Addr
	rank     uint16

	// observed by the receiver
	rssi int8
	lqi  uint8
}

func (f *frame) broadcast() bool { return f.dst == nil }

// ipSize is the size of the IPv6 packet the frame carries. A raw frame
// carries its payload directly.
func (f *frame) ipSize() int {
	switch f.kind {
	case kindRaw:
		return len(f.payload)
	case kindData:
		return ipv6HeaderLen + udpHeaderLen + len(f.payload)
	case kindDIO:
		return ipv6HeaderLen + icmpHeaderLen + dioBodyLen
	case kindDIS:
		return ipv6HeaderLen + icmpHeaderLen + disBodyLen
	case kindDAO:
		return ipv6HeaderLen + icmpHeaderLen + daoBodyLen
	default:
		return ipv6HeaderLen + icmpHeaderLen + daoAckBodyLen
	}
}

// controlSize is the routing message size counted in rpl byte stats.
func (f *frame) controlSize() int {
	return f.ipSize() - ipv6HeaderLen
}

func (f *frame) size() int { return macHeaderLen + f.ipSize() }

func (f *frame) airtime() time.Duration { return time.Duration(f.size()) * octetAirtime }
