// Package core defines read-only snapshot types owned by the network collaborator.
package core

import (
	"net/netip"
	"time"
)

// IfStats is a point-in-time copy of one interface's counters at one layer.
type IfStats struct {
	RxCount   uint64
	RxBytes   uint64
	TxUnicast uint64
	TxMcast   uint64
	TxBytes   uint64
	TxSuccess uint64
	TxFailed  uint64
}

// Interface identifies a network interface known to the stack.
type Interface struct {
	Index  int
	Name   string
	L2Addr []byte
}

// ETXDivisor is the fixed-point scale of Neighbor.ETX (ETX 1.0 == ETXDivisor).
const ETXDivisor = 128

// Neighbor is one link quality entry of an interface's neighbor table.
type Neighbor struct {
	L2Addr    []byte
	Freshness uint8
	Fresh     bool
	ETX       uint16
	TxCount   uint32
	RxCount   uint32
	RSSI      int8
	LQI       uint8
	AvgTxTime time.Duration
}

// RPL frame types, in render order.
const (
	FrameDIO = iota
	FrameDIS
	FrameDAO
	FrameDAOAck
	NumFrameTypes
)

// FrameTypeNames maps a frame type index to its record name.
var FrameTypeNames = [NumFrameTypes]string{"DIO", "DIS", "DAO", "DAO-ACK"}

// RPLCounter is a packets or bytes counter set for one frame type.
type RPLCounter struct {
	RxUcast uint64
	TxUcast uint64
	RxMcast uint64
	TxMcast uint64
}

// RPLFrameStats holds packet and byte counters for one frame type.
type RPLFrameStats struct {
	Packets RPLCounter
	Bytes   RPLCounter
}

// Fixed maximum slot counts of the routing snapshot.
const (
	MaxRPLInstances = 1
	MaxRPLParents   = 3
)

// Trickle is the surfaced state of a DIO trickle timer.
type Trickle struct {
	MinInterval uint32 // Imin in milliseconds
	Doublings   uint8
	K           uint8
	C           uint8
	Remaining   time.Duration
}

// DODAG describes the routing topology an instance is joined to.
type DODAG struct {
	ID      netip.Addr
	Rank    uint16
	Leaf    bool
	PIO     bool
	Trickle Trickle
}

// RPLInstance is one routing instance slot.
type RPLInstance struct {
	Used          bool
	ID            uint8
	Iface         int
	MOP           uint8
	OCP           uint16
	MinHopRankInc uint16
	MaxRankInc    uint16
	DODAG         DODAG
}

// RPLParent is one parent slot.
type RPLParent struct {
	Used       bool
	InstanceID uint8
	Addr       netip.Addr
	Rank       uint16
}

// RoutingSnapshot is a read-only copy of routing state with fixed-size slot arrays.
type RoutingSnapshot struct {
	Stats     [NumFrameTypes]RPLFrameStats
	Instances [MaxRPLInstances]RPLInstance
	Parents   [MaxRPLParents]RPLParent
}
