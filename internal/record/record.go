// Package record renders the line-oriented output records.
//
// Every record is one comma-separated line whose first field names the
// record type. Field order is stable; downstream scrapers depend on it.
package record

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"firestige.xyz/telenode/internal/core"
)

// HexPrefixLen is how many leading payload bytes udp records show.
const HexPrefixLen = 5

func hexPrefix(b []byte) string {
	if len(b) > HexPrefixLen {
		b = b[:HexPrefixLen]
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// UDP renders an outbound packet accepted by the stack.
func UDP(size int, addr string, port uint16, payload []byte) string {
	return fmt.Sprintf("udp,%d,%s,%d,%s", size, addr, port, hexPrefix(payload))
}

// UDPRx renders an inbound packet.
func UDPRx(size int, src string, port uint16, payload []byte) string {
	return fmt.Sprintf("udp_rx,%d,%s,%d,%s", size, src, port, hexPrefix(payload))
}

// UDPHeader is the column legend of udp records.
func UDPHeader() string {
	return "udp,payload size,destination address,destination port,payload"
}

// Radio renders a raw link-layer broadcast accepted by the radio.
func Radio(size, iface int, payload []byte) string {
	return fmt.Sprintf("radio,%d,%d,%s", size, iface, hexPrefix(payload))
}

// RadioRx renders a received raw link-layer frame.
func RadioRx(size int, l2src string, rssi int8, lqi uint8, payload []byte) string {
	return fmt.Sprintf("radio_rx,%d,%s,%d,%d,%s", size, l2src, rssi, lqi, hexPrefix(payload))
}

// Stats renders one interface counter snapshot.
func Stats(layer core.Layer, s core.IfStats) string {
	return fmt.Sprintf("stats,1,%s,%d,%d,%d,%d,%d,%d,%d",
		layer,
		s.RxCount,
		s.RxBytes,
		s.TxUnicast+s.TxMcast,
		s.TxMcast,
		s.TxBytes,
		s.TxSuccess,
		s.TxFailed)
}

// StatsUnavailable is the placeholder for a layer the stack cannot report.
func StatsUnavailable() string {
	return "stats,0,-1,-1,-1,-1,-1,-1,-1,-1"
}

// L2Addr formats a link-layer address as colon-separated hex.
func L2Addr(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	return net.HardwareAddr(b).String()
}

// Neighbor renders one neighbor table entry.
func Neighbor(n core.Neighbor) string {
	fresh := "STALE"
	if n.Fresh {
		fresh = strconv.Itoa(int(n.Freshness))
	}
	return fmt.Sprintf("neighbor_stats,%s,%s,%d%%,%d,%d,%d,%d,%d",
		L2Addr(n.L2Addr),
		fresh,
		uint32(n.ETX)*100/core.ETXDivisor,
		n.TxCount,
		n.RxCount,
		n.RSSI,
		n.LQI,
		n.AvgTxTime.Microseconds())
}

// RPLStats renders the packet and byte counters of one frame type.
func RPLStats(frame int, fs core.RPLFrameStats) []string {
	name := core.FrameTypeNames[frame]
	return []string{
		rplCounter(name, "packets", fs.Packets),
		rplCounter(name, "bytes", fs.Bytes),
	}
}

func rplCounter(frame, unit string, c core.RPLCounter) string {
	return fmt.Sprintf("rpl_stats,%s,%s,%d,%d,%d,%d", frame, unit, c.RxUcast, c.TxUcast, c.RxMcast, c.TxMcast)
}

// RPLStatus renders the state of one instance or parent slot.
func RPLStatus(table string, index int, used bool) string {
	state := 0
	if used {
		state = 1
	}
	return fmt.Sprintf("rpl_status,%s,%d,%d", table, index, state)
}

// RPLInstance renders an active instance.
func RPLInstance(in core.RPLInstance) string {
	return fmt.Sprintf("rpl_stats_instance,%d,%d,%d,%d,%d,%d",
		in.ID, in.Iface, in.MOP, in.OCP, in.MinHopRankInc, in.MaxRankInc)
}

// RPLDodag renders the DODAG of an active instance.
func RPLDodag(in core.RPLInstance) string {
	d := in.DODAG
	role := "Router"
	if d.Leaf {
		role = "Leaf"
	}
	pio := "off"
	if d.PIO {
		pio = "on"
	}
	return fmt.Sprintf("rpl_stats_dodag,%d,%s,%d,%s,%s,%d,%d,%d,%d,%d",
		in.ID,
		addrString(d.ID),
		d.Rank,
		role,
		pio,
		d.Trickle.MinInterval,
		d.Trickle.Doublings,
		d.Trickle.K,
		d.Trickle.C,
		int64(d.Trickle.Remaining/time.Second))
}

// RPLParent renders one parent of an instance.
func RPLParent(p core.RPLParent) string {
	return fmt.Sprintf("rpl_stats_parent,%d,%s,%d", p.InstanceID, addrString(p.Addr), p.Rank)
}

// Info renders a boot-time diagnostic.
func Info(format string, args ...any) string {
	return "info," + clean(fmt.Sprintf(format, args...))
}

// Error renders a per-packet failure. kind is a core.ErrorKind token.
func Error(kind, detail string) string {
	return "error," + kind + "," + clean(detail)
}

// ErrorFrom renders err as an error record.
func ErrorFrom(err error) string {
	return Error(core.ErrorKind(err), err.Error())
}

// Headers returns the column legend of every periodic stats record type.
func Headers() []string {
	return []string{
		"neighbor_stats,L2 address,fresh,etx,sent,received,rssi (dBm),lqi,avg tx time (µs)",
		"rpl_stats,Packet Type,Measurement Type,RX unicast,TX unicast,RX multicast,TX multicast",
		"stats,success,layer,rx packets,rx bytes,tx packets,tx multicast packets,tx bytes,tx succeeded,tx errors",
		"rpl_status,Type of table,Index of the table,Table status",
		"rpl_stats_instance,Instance ID,Interface ID,Mode of Operation,Objective Code Point,Min Hop Rank Increase,Max Rank Increase",
		"rpl_stats_dodag,Instance ID,IPv6 Address,Rank,Role,Prefix Information,Trickle Interval Size Min,Trickle Interval Doublings,Trickle Redundancy Constant,Trickle Counter,Trickle TC",
		"rpl_stats_parent,Instance ID,IPv6 Address,Rank",
	}
}

func addrString(a netip.Addr) string {
	if !a.IsValid() {
		return "::"
	}
	return a.String()
}

var cleaner = strings.NewReplacer("\n", " ", "\r", " ")

// clean keeps free text on one line.
func clean(s string) string { return cleaner.Replace(s) }
