// Package udp is the hosted stack: IPv6/UDP over the operating system's
// sockets. It keeps IPv6-layer counters only and has no routing state.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv6"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
	"firestige.xyz/telenode/internal/pktbuf"
	"firestige.xyz/telenode/internal/stack"
)

const (
	// Name identifies the stack in logs and metrics.
	Name = "udp"

	headerOverhead = 40 + 8
	readTimeout    = 500 * time.Millisecond
	maxDatagram    = 65535
)

// Stack sends and receives through one IPv6 UDP socket.
type Stack struct {
	conn     net.PacketConn
	pc       *ipv6.PacketConn
	comp     *compose.Composer
	ifaces   []core.Interface
	counters map[int]*stack.Counters
	running  sync.Mutex
	closed   atomic.Bool
}

var _ stack.Stack = (*Stack)(nil)

// New binds the socket and resolves the configured interfaces. With no
// interfaces configured every up interface of the host is used.
func New(cfg config.UDPStackConfig, comp *compose.Composer) (*Stack, error) {
	ifaces, err := resolveInterfaces(cfg.Interfaces)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))
	conn, err := net.ListenPacket("udp6", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	pc := ipv6.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv6.FlagDst|ipv6.FlagInterface, true); err != nil {
		log.GetLogger().WithError(err).Warn("ipv6 control messages unavailable, inbound interface will be unknown")
	}

	s := &Stack{
		conn:     conn,
		pc:       pc,
		comp:     comp,
		ifaces:   ifaces,
		counters: make(map[int]*stack.Counters, len(ifaces)),
	}
	for _, ifc := range ifaces {
		s.counters[ifc.Index] = &stack.Counters{}
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"addr":       conn.LocalAddr().String(),
		"interfaces": len(ifaces),
	}).Info("udp stack bound")
	return s, nil
}

func resolveInterfaces(names []string) ([]core.Interface, error) {
	var out []core.Interface
	if len(names) > 0 {
		for _, name := range names {
			ifc, err := net.InterfaceByName(name)
			if err != nil {
				return nil, fmt.Errorf("interface %s: %w", name, err)
			}
			out = append(out, toInterface(*ifc))
		}
		return out, nil
	}

	all, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, ifc := range all {
		if ifc.Flags&net.FlagUp != 0 {
			out = append(out, toInterface(ifc))
		}
	}
	if len(out) == 0 {
		out = append(out, core.Interface{Index: 0, Name: "any"})
	}
	return out, nil
}

func toInterface(ifc net.Interface) core.Interface {
	return core.Interface{Index: ifc.Index, Name: ifc.Name, L2Addr: append([]byte(nil), ifc.HardwareAddr...)}
}

func (s *Stack) Name() string { return Name }

// LocalAddr is the bound socket address.
func (s *Stack) LocalAddr() netip.AddrPort {
	if ua, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return ua.AddrPort()
	}
	return netip.AddrPort{}
}

func (s *Stack) Interfaces() []core.Interface {
	return append([]core.Interface(nil), s.ifaces...)
}

// countersFor maps traffic to an interface; unresolved traffic is booked
// on the first interface.
func (s *Stack) countersFor(iface int) *stack.Counters {
	if c, ok := s.counters[iface]; ok {
		return c
	}
	return s.counters[s.ifaces[0].Index]
}

func (s *Stack) interfaceName(iface int) string {
	for _, ifc := range s.ifaces {
		if ifc.Index == iface {
			return ifc.Name
		}
	}
	if ifc, err := net.InterfaceByIndex(iface); err == nil {
		return ifc.Name
	}
	return strconv.Itoa(iface)
}

// Transmit writes the chain's payload to its destination. The kernel builds
// the headers; a pinned interface is honoured through the control message.
func (s *Stack) Transmit(ctx context.Context, c *pktbuf.Chain) (int, error) {
	if s.closed.Load() {
		return 0, fmt.Errorf("%w: %w", core.ErrTransmitRejected, core.ErrStackClosed)
	}
	out, err := stack.ParseOutbound(c)
	if err != nil {
		return 0, err
	}

	dst := &net.UDPAddr{IP: out.Dst.AsSlice(), Port: int(out.DstPort)}
	var cm *ipv6.ControlMessage
	if out.Iface > 0 {
		cm = &ipv6.ControlMessage{IfIndex: out.Iface}
		if out.Dst.IsLinkLocalUnicast() || out.Dst.IsLinkLocalMulticast() {
			dst.Zone = s.interfaceName(out.Iface)
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.pc.SetWriteDeadline(deadline)
	} else {
		_ = s.pc.SetWriteDeadline(time.Time{})
	}

	counters := s.countersFor(out.Iface)
	counters.Sent(len(out.Payload)+headerOverhead, out.Dst.IsMulticast())
	n, err := s.pc.WriteTo(out.Payload, cm, dst)
	counters.Completed(err == nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrTransmitRejected, err)
	}
	c.Release()
	return n, nil
}

// Run reads datagrams until ctx is done or the stack is closed.
func (s *Stack) Run(ctx context.Context, deliver stack.DeliverFunc) error {
	s.running.Lock()
	defer s.running.Unlock()

	buf := make([]byte, maxDatagram)
	local := s.LocalAddr()
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = s.pc.SetReadDeadline(time.Now().Add(readTimeout))
		n, cm, src, err := s.pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if s.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("udp read: %w", err)
		}

		srcAP := netip.AddrPort{}
		if ua, ok := src.(*net.UDPAddr); ok {
			srcAP = ua.AddrPort()
		}
		dstAddr := local.Addr()
		iface := 0
		if cm != nil {
			if a, ok := netip.AddrFromSlice(cm.Dst); ok {
				dstAddr = a
			}
			iface = cm.IfIndex
		}
		link := &compose.LinkInfo{Iface: iface, Multicast: dstAddr.IsMulticast()}

		s.countersFor(iface).Received(n + headerOverhead)
		metrics.InboundPacketsTotal.WithLabelValues(Name).Inc()

		chain, err := s.comp.Inbound(buf[:n], srcAP, netip.AddrPortFrom(dstAddr, local.Port()), link)
		if err != nil {
			log.GetLogger().WithError(err).Warnf("dropping %d byte datagram from %s", n, srcAP)
			continue
		}
		deliver(chain)
		chain.Release()
	}
}

// InterfaceStats reports IPv6 counters; the hosted stack has no layer 2 view.
func (s *Stack) InterfaceStats(iface int, layer core.Layer) (core.IfStats, error) {
	if layer != core.LayerIPv6 {
		return core.IfStats{}, fmt.Errorf("%w: %s counters on %s stack", core.ErrNotSupported, layer, Name)
	}
	c, ok := s.counters[iface]
	if !ok {
		return core.IfStats{}, fmt.Errorf("%w: unknown interface %d", core.ErrNotSupported, iface)
	}
	return c.Snapshot(), nil
}

func (s *Stack) Neighbors(int) []core.Neighbor { return nil }

func (s *Stack) Routing() core.RoutingSnapshot { return core.RoutingSnapshot{} }

func (s *Stack) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close()
}
