// Package compose builds outbound packet chains layer by layer and takes
// inbound chains apart again.
package compose

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/pktbuf"
)

const (
	// DefaultHopLimit is the IPv6 hop limit of composed packets.
	DefaultHopLimit = 64

	ipv6HeaderLen = 40
	udpHeaderLen  = 8
)

// Destination is a parsed collector address.
type Destination struct {
	Addr  netip.Addr // zone stripped
	Port  uint16
	Iface int // 0 when the stack resolves the interface
}

// ParseDestination parses address and port text. A numeric zone on the
// address selects the interface when iface is 0.
func ParseDestination(addr, port string, iface int) (Destination, error) {
	a, err := netip.ParseAddr(addr)
	if err != nil || !a.Is6() {
		return Destination{}, fmt.Errorf("%w: %q", core.ErrAddressParse, addr)
	}
	if zone := a.Zone(); zone != "" {
		idx, err := strconv.Atoi(zone)
		if err != nil || idx <= 0 {
			return Destination{}, fmt.Errorf("%w: zone of %q is not an interface index", core.ErrAddressParse, addr)
		}
		if iface == 0 {
			iface = idx
		}
		a = a.WithZone("")
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return Destination{}, fmt.Errorf("%w: %q", core.ErrPortParse, port)
	}
	return Destination{Addr: a, Port: uint16(p), Iface: iface}, nil
}

// Composer builds chains out of one pool.
type Composer struct {
	pool     *pktbuf.Pool
	hopLimit uint8
}

// New creates a composer allocating from pool.
func New(pool *pktbuf.Pool) *Composer {
	return &Composer{pool: pool, hopLimit: DefaultHopLimit}
}

// Pool is the arena the composer allocates from.
func (c *Composer) Pool() *pktbuf.Pool { return c.pool }

// Compose wraps reading as payload, UDP, IPv6 and, when an interface is
// known, a link header. Source and destination port are the same. On error
// nothing stays allocated.
func (c *Composer) Compose(reading []byte, addr, port string, iface int) (*pktbuf.Chain, Destination, error) {
	dst, err := ParseDestination(addr, port, iface)
	if err != nil {
		return nil, Destination{}, err
	}
	var link *LinkInfo
	if dst.Iface > 0 {
		link = &LinkInfo{Iface: dst.Iface}
	}
	chain, err := c.build(reading, netip.IPv6Unspecified(), dst.Addr, dst.Port, dst.Port, link)
	if err != nil {
		return nil, Destination{}, err
	}
	return chain, dst, nil
}

// Inbound builds the chain of a received datagram so it can be dispatched.
func (c *Composer) Inbound(payload []byte, src, dst netip.AddrPort, link *LinkInfo) (*pktbuf.Chain, error) {
	return c.build(payload, src.Addr().WithZone(""), dst.Addr().WithZone(""), src.Port(), dst.Port(), link)
}

// ComposeRaw wraps payload in a link header only. The chain carries
// core.ProtoRadio and is used for link-layer broadcasts in both directions.
func (c *Composer) ComposeRaw(payload []byte, link LinkInfo) (*pktbuf.Chain, error) {
	b, err := link.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("link header: %w", err)
	}
	ph, err := c.pool.Alloc(payload, core.KindPayload, core.ProtoRadio)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	chain, err := c.pool.NewChain(ph)
	if err != nil {
		c.pool.Free(ph)
		return nil, err
	}
	if err := c.prepend(chain, b, core.KindLink, core.ProtoUndef); err != nil {
		chain.Release()
		return nil, fmt.Errorf("link header: %w", err)
	}
	return chain, nil
}

func (c *Composer) build(payload []byte, src, dst netip.Addr, srcPort, dstPort uint16, link *LinkInfo) (*pktbuf.Chain, error) {
	ph, err := c.pool.Alloc(payload, core.KindPayload, core.ProtoUDP)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	chain, err := c.pool.NewChain(ph)
	if err != nil {
		c.pool.Free(ph)
		return nil, err
	}

	ipHdr, udpHdr, err := c.headers(payload, src, dst, srcPort, dstPort)
	if err != nil {
		chain.Release()
		return nil, err
	}
	if err := c.prepend(chain, udpHdr, core.KindTransport, core.ProtoUDP); err != nil {
		chain.Release()
		return nil, fmt.Errorf("transport header: %w", err)
	}
	if err := c.prepend(chain, ipHdr, core.KindNetwork, core.ProtoIPv6); err != nil {
		chain.Release()
		return nil, fmt.Errorf("network header: %w", err)
	}
	if link != nil {
		b, err := link.MarshalBinary()
		if err == nil {
			err = c.prepend(chain, b, core.KindLink, core.ProtoUndef)
		}
		if err != nil {
			chain.Release()
			return nil, fmt.Errorf("link header: %w", err)
		}
	}
	return chain, nil
}

func (c *Composer) prepend(chain *pktbuf.Chain, b []byte, kind core.SegmentKind, proto core.Proto) error {
	h, err := c.pool.Alloc(b, kind, proto)
	if err != nil {
		return err
	}
	chain.Prepend(h)
	return nil
}

// headers serializes the IPv6 and UDP headers in front of payload and
// returns them separately.
func (c *Composer) headers(payload []byte, src, dst netip.Addr, srcPort, dstPort uint16) ([]byte, []byte, error) {
	ip6 := &layers.IPv6{
		Version:    6,
		HopLimit:   c.hopLimit,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      ip16(src),
		DstIP:      ip16(dst),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip6, udp, gopacket.Payload(payload)); err != nil {
		return nil, nil, fmt.Errorf("serialize headers: %w", err)
	}
	raw := buf.Bytes()
	ipHdr := append([]byte(nil), raw[:ipv6HeaderLen]...)
	udpHdr := append([]byte(nil), raw[ipv6HeaderLen:ipv6HeaderLen+udpHeaderLen]...)
	return ipHdr, udpHdr, nil
}

func ip16(a netip.Addr) net.IP {
	if !a.IsValid() {
		return net.IPv6unspecified
	}
	b := a.As16()
	return net.IP(b[:])
}
