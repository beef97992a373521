// Package broadcast implements the link-layer broadcast demo: every node
// periodically broadcasts a raw greeting frame and renders what it hears.
package broadcast

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/dispatch"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/record"
	"firestige.xyz/telenode/internal/sink"
)

// Producer broadcasts a numbered greeting once per interval.
type Producer struct {
	node     string
	iface    int
	interval time.Duration
	comp     *compose.Composer
	reg      *dispatch.Registry
	out      sink.Emitter

	seq    atomic.Uint64
	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewProducer creates a producer broadcasting on iface.
func NewProducer(node string, iface int, interval time.Duration, comp *compose.Composer, reg *dispatch.Registry, out sink.Emitter) *Producer {
	return &Producer{
		node:     node,
		iface:    iface,
		interval: interval,
		comp:     comp,
		reg:      reg,
		out:      out,
	}
}

// Run sleeps one interval, then sends, until ctx is done.
func (p *Producer) Run(ctx context.Context) {
	logger := log.GetLogger().WithFields(map[string]interface{}{"node": p.node, "component": "broadcast"})
	logger.Infof("broadcasting on interface %d every %s", p.iface, p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("stopped after %d sent, %d failed", p.sent.Load(), p.failed.Load())
			return
		case <-ticker.C:
		}
		if err := p.Send(ctx); err != nil {
			logger.WithError(err).Debugf("broadcast not sent")
		}
	}
}

// Send broadcasts one greeting as a raw link-layer frame.
func (p *Producer) Send(ctx context.Context) error {
	msg := []byte(fmt.Sprintf("%s says hello %d", p.node, p.seq.Add(1)))

	chain, err := p.comp.ComposeRaw(msg, compose.LinkInfo{Iface: p.iface, Broadcast: true})
	if err != nil {
		p.fail(err)
		return err
	}
	line := record.Radio(len(msg), p.iface, msg)
	if _, err := p.reg.SendViaStack(ctx, chain, core.ProtoRadio); err != nil {
		chain.Release()
		p.fail(err)
		return err
	}
	p.sent.Add(1)
	p.out.Emit(line)
	return nil
}

func (p *Producer) fail(err error) {
	p.failed.Add(1)
	p.out.Emit(record.ErrorFrom(err))
}

// Sent counts greetings accepted by the stack.
func (p *Producer) Sent() uint64 { return p.sent.Load() }

// Failed counts greetings that could not be sent.
func (p *Producer) Failed() uint64 { return p.failed.Load() }
