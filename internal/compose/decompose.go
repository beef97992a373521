package compose

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/pktbuf"
)

// Decoded holds the fields recovered from a chain.
type Decoded struct {
	Payload  []byte
	Link     *LinkInfo
	Src      netip.Addr
	Dst      netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Segments int
}

// Decompose walks the chain once, head to tail, classifying each segment by
// kind. The chain is not released; a chain without exactly one payload
// segment fails with core.ErrMalformedInbound.
func Decompose(c *pktbuf.Chain) (Decoded, error) {
	var (
		d        Decoded
		payloads int
	)
	segs := c.Segments()
	d.Segments = len(segs)

	for _, seg := range segs {
		switch seg.Kind {
		case core.KindLink:
			var l LinkInfo
			if err := l.UnmarshalBinary(seg.Bytes); err != nil {
				return Decoded{}, err
			}
			d.Link = &l
		case core.KindNetwork:
			var ip6 layers.IPv6
			if err := ip6.DecodeFromBytes(seg.Bytes, gopacket.NilDecodeFeedback); err != nil {
				return Decoded{}, fmt.Errorf("%w: network header: %v", core.ErrMalformedInbound, err)
			}
			d.Src, _ = netip.AddrFromSlice(ip6.SrcIP)
			d.Dst, _ = netip.AddrFromSlice(ip6.DstIP)
		case core.KindTransport:
			var udp layers.UDP
			if err := udp.DecodeFromBytes(seg.Bytes, gopacket.NilDecodeFeedback); err != nil {
				return Decoded{}, fmt.Errorf("%w: transport header: %v", core.ErrMalformedInbound, err)
			}
			d.SrcPort = uint16(udp.SrcPort)
			d.DstPort = uint16(udp.DstPort)
		case core.KindPayload:
			payloads++
			d.Payload = append([]byte(nil), seg.Bytes...)
		default:
			return Decoded{}, fmt.Errorf("%w: unknown segment kind %s", core.ErrMalformedInbound, seg.Kind)
		}
	}

	if payloads != 1 {
		return Decoded{}, fmt.Errorf("%w: %d payload segments in %d", core.ErrMalformedInbound, payloads, len(segs))
	}
	return d, nil
}
