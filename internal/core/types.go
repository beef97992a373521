// Package core defines core types with zero external dependencies.
package core

import "fmt"

// SegmentKind tags one segment of a packet chain.
type SegmentKind uint8

const (
	// KindPayload is the undefined/payload segment. A chain carries exactly one.
	KindPayload SegmentKind = iota
	KindNetwork
	KindTransport
	KindLink
)

func (k SegmentKind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindNetwork:
		return "network"
	case KindTransport:
		return "transport"
	case KindLink:
		return "link"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Proto is the logical protocol type used as the first dispatch key.
type Proto uint8

const (
	ProtoUndef Proto = iota
	ProtoUDP
	ProtoIPv6
	ProtoRadio
)

func (p Proto) String() string {
	switch p {
	case ProtoUndef:
		return "undef"
	case ProtoUDP:
		return "udp"
	case ProtoIPv6:
		return "ipv6"
	case ProtoRadio:
		return "radio"
	default:
		return fmt.Sprintf("proto(%d)", uint8(p))
	}
}

// Layer selects which counter set an interface statistics poll reads.
type Layer uint8

const (
	LayerL2 Layer = iota
	LayerIPv6
)

// Layers lists the layers the stats aggregator polls, in render order.
var Layers = []Layer{LayerL2, LayerIPv6}

func (l Layer) String() string {
	switch l {
	case LayerL2:
		return "Layer 2"
	case LayerIPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("layer(%d)", uint8(l))
	}
}
