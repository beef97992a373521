package stack

import (
	"fmt"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/pktbuf"
)

// Outbound is what a stack needs from a composed chain to put it on the wire.
type Outbound struct {
	compose.Decoded
	// Iface is the interface pinned by a link header, 0 if none.
	Iface int
}

// ParseOutbound decodes a chain handed over for transmission.
func ParseOutbound(c *pktbuf.Chain) (Outbound, error) {
	d, err := compose.Decompose(c)
	if err != nil {
		return Outbound{}, fmt.Errorf("%w: %v", core.ErrTransmitRejected, err)
	}
	if !d.Dst.IsValid() || d.DstPort == 0 {
		return Outbound{}, fmt.Errorf("%w: chain has no destination", core.ErrTransmitRejected)
	}
	out := Outbound{Decoded: d}
	if d.Link != nil {
		out.Iface = d.Link.Iface
	}
	return out, nil
}
