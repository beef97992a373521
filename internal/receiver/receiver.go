// Package receiver consumes inbound chains from a dispatch inbox and renders
// them as udp_rx or radio_rx records.
package receiver

import (
	"context"
	"fmt"
	"sync/atomic"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/dispatch"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
	"firestige.xyz/telenode/internal/pktbuf"
	"firestige.xyz/telenode/internal/record"
	"firestige.xyz/telenode/internal/sink"
)

// Receiver drains one inbox.
type Receiver struct {
	inbox     *dispatch.Inbox
	out       sink.Emitter
	received  atomic.Uint64
	malformed atomic.Uint64
}

func New(inbox *dispatch.Inbox, out sink.Emitter) *Receiver {
	return &Receiver{inbox: inbox, out: out}
}

// Run handles chains until ctx is done, then releases whatever is still queued.
func (r *Receiver) Run(ctx context.Context) {
	logger := log.GetLogger().WithFields(map[string]interface{}{
		"proto": r.inbox.Proto().String(),
		"demux": r.inbox.Demux(),
	})
	logger.Debugf("receiver started")
	for {
		c, err := r.inbox.Receive(ctx)
		if err != nil {
			if n := r.inbox.Drain(); n > 0 {
				logger.Debugf("released %d undelivered chains", n)
			}
			return
		}
		r.Handle(c)
	}
}

// Handle renders one chain and releases the receiver's holder.
func (r *Receiver) Handle(c *pktbuf.Chain) {
	defer c.Release()

	d, err := compose.Decompose(c)
	if err == nil && c.Proto() == core.ProtoRadio && d.Link == nil {
		err = fmt.Errorf("%w: raw frame without link header", core.ErrMalformedInbound)
	}
	if err != nil {
		r.malformed.Add(1)
		metrics.InboundMalformedTotal.Inc()
		log.GetLogger().WithError(err).Warnf("dropping inbound chain of %d segments", c.Len())
		r.out.Emit(record.ErrorFrom(err))
		return
	}
	r.received.Add(1)
	if c.Proto() == core.ProtoRadio {
		r.out.Emit(record.RadioRx(len(d.Payload), record.L2Addr(d.Link.L2Src), d.Link.RSSI, d.Link.LQI, d.Payload))
		return
	}
	r.out.Emit(record.UDPRx(len(d.Payload), d.Src.String(), d.SrcPort, d.Payload))
}

// Received counts rendered chains.
func (r *Receiver) Received() uint64 { return r.received.Load() }

// Malformed counts dropped chains.
func (r *Receiver) Malformed() uint64 { return r.malformed.Load() }
