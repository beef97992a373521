package compose

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/telenode/internal/core"
)

const (
	linkFlagBroadcast = 1 << iota
	linkFlagMulticast
)

const linkFixedLen = 6

// LinkInfo is the link header of a chain. Outbound it pins the interface the
// stack must use; inbound it carries what the radio observed.
type LinkInfo struct {
	Iface     int
	Broadcast bool
	Multicast bool
	LQI       uint8
	RSSI      int8
	L2Src     []byte
}

// MarshalBinary encodes the header as
// iface(2) flags(1) lqi(1) rssi(1) l2len(1) l2src(l2len).
func (l LinkInfo) MarshalBinary() ([]byte, error) {
	if l.Iface < 0 || l.Iface > 0xffff {
		return nil, fmt.Errorf("link interface %d out of range", l.Iface)
	}
	if len(l.L2Src) > 0xff {
		return nil, fmt.Errorf("link address of %d bytes too long", len(l.L2Src))
	}
	b := make([]byte, linkFixedLen+len(l.L2Src))
	binary.BigEndian.PutUint16(b[0:], uint16(l.Iface))
	if l.Broadcast {
		b[2] |= linkFlagBroadcast
	}
	if l.Multicast {
		b[2] |= linkFlagMulticast
	}
	b[3] = l.LQI
	b[4] = byte(l.RSSI)
	b[5] = byte(len(l.L2Src))
	copy(b[linkFixedLen:], l.L2Src)
	return b, nil
}

// UnmarshalBinary decodes a header written by MarshalBinary.
func (l *LinkInfo) UnmarshalBinary(b []byte) error {
	if len(b) < linkFixedLen || len(b) < linkFixedLen+int(b[5]) {
		return fmt.Errorf("%w: link header of %d bytes truncated", core.ErrMalformedInbound, len(b))
	}
	l.Iface = int(binary.BigEndian.Uint16(b[0:]))
	l.Broadcast = b[2]&linkFlagBroadcast != 0
	l.Multicast = b[2]&linkFlagMulticast != 0
	l.LQI = b[3]
	l.RSSI = int8(b[4])
	l.L2Src = append([]byte(nil), b[linkFixedLen:linkFixedLen+int(b[5])]...)
	return nil
}
