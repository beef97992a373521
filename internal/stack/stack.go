// Package stack defines the network collaborator the node transmits through,
// receives from, and polls for statistics.
package stack

import (
	"context"

	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/dispatch"
	"firestige.xyz/telenode/internal/pktbuf"
)

// DeliverFunc receives one inbound chain. The stack releases its own holder
// after the call returns; a consumer that keeps the chain must Retain it.
type DeliverFunc func(c *pktbuf.Chain)

// Stack is a network/radio stack.
type Stack interface {
	dispatch.Transmitter

	// Name identifies the implementation in logs and metrics.
	Name() string

	// Interfaces lists the interfaces the stack owns, in stable order.
	Interfaces() []core.Interface

	// InterfaceStats returns a counter snapshot, or core.ErrNotSupported
	// when the interface does not keep counters at that layer.
	InterfaceStats(iface int, layer core.Layer) (core.IfStats, error)

	// Neighbors returns a copy of the interface's neighbor table.
	Neighbors(iface int) []core.Neighbor

	// Routing returns a copy of the routing state.
	Routing() core.RoutingSnapshot

	// Run receives until ctx is done, handing every inbound chain to deliver.
	Run(ctx context.Context, deliver DeliverFunc) error

	Close() error
}
