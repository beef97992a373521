package dispatch

import (
	"context"

	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/pktbuf"
)

// Inbox is a bounded queue of chains delivered to one subscriber. Every chain
// taken from an inbox carries one holder the consumer must release.
type Inbox struct {
	proto core.Proto
	demux uint32
	ch    chan *pktbuf.Chain
}

func newInbox(proto core.Proto, demux uint32, capacity int) *Inbox {
	return &Inbox{
		proto: proto,
		demux: demux,
		ch:    make(chan *pktbuf.Chain, capacity),
	}
}

// Proto is the payload type the inbox subscribed to.
func (in *Inbox) Proto() core.Proto { return in.proto }

// Demux is the subscribed context, possibly Wildcard.
func (in *Inbox) Demux() uint32 { return in.demux }

// C exposes the queue for select loops.
func (in *Inbox) C() <-chan *pktbuf.Chain { return in.ch }

// Len returns the number of queued chains.
func (in *Inbox) Len() int { return len(in.ch) }

// Receive blocks until a chain arrives or ctx is done.
func (in *Inbox) Receive(ctx context.Context) (*pktbuf.Chain, error) {
	select {
	case c := <-in.ch:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (in *Inbox) offer(c *pktbuf.Chain) bool {
	select {
	case in.ch <- c:
		return true
	default:
		return false
	}
}

// Drain releases every queued chain and returns how many there were.
func (in *Inbox) Drain() int {
	n := 0
	for {
		select {
		case c := <-in.ch:
			c.Release()
			n++
		default:
			return n
		}
	}
}
