package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/dispatch"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/pktbuf"
	"firestige.xyz/telenode/internal/receiver"
	"firestige.xyz/telenode/internal/record"
	"firestige.xyz/telenode/internal/sink"
	"firestige.xyz/telenode/internal/stack/radio"
)

// DemoOptions configures a broadcast demo run.
type DemoOptions struct {
	Nodes    int
	Interval time.Duration
	Loss     float64
	Seed     uint64
	Pool     config.PoolConfig
	Inbox    int
	Radio    config.RadioStackConfig
}

// DemoOptionsFrom takes the demo settings from a loaded configuration.
func DemoOptionsFrom(cfg *config.Config, nodes int) DemoOptions {
	return DemoOptions{
		Nodes:    nodes,
		Interval: cfg.Broadcast.Interval,
		Loss:     cfg.Stack.Radio.Loss,
		Seed:     cfg.Distribution.Seed,
		Pool:     cfg.Pool,
		Inbox:    cfg.Dispatch.InboxCapacity,
		Radio:    cfg.Stack.Radio,
	}
}

// NodeResult summarizes one demo node.
type NodeResult struct {
	Name     string
	L2Addr   []byte
	Sent     uint64
	Failed   uint64
	Received uint64
}

type demoNode struct {
	name     string
	pool     *pktbuf.Pool
	radio    *radio.Radio
	registry *dispatch.Registry
	producer *Producer
	receiver *receiver.Receiver
}

// RunDemo puts opts.Nodes radios on one medium, each with a producer and a
// consumer, and runs them until ctx is done.
func RunDemo(ctx context.Context, opts DemoOptions, out sink.Emitter) ([]NodeResult, error) {
	if opts.Nodes < 1 {
		return nil, fmt.Errorf("%w: demo needs at least one node", core.ErrConfigInvalid)
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("%w: broadcast interval %s", core.ErrConfigInvalid, opts.Interval)
	}

	medium := radio.NewMedium(opts.Loss, opts.Seed)
	nodes := make([]*demoNode, 0, opts.Nodes)
	defer func() {
		for _, n := range nodes {
			n.radio.Close()
			n.pool.Close()
		}
	}()

	for i := 0; i < opts.Nodes; i++ {
		n, err := newDemoNode(fmt.Sprintf("node-%d", i), i == 0, medium, opts, out)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		out.Emit(record.Info("%s joined the medium as %s", n.name, record.L2Addr(n.radio.L2Addr())))
	}

	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(3)
		go func(n *demoNode) {
			defer wg.Done()
			if err := n.radio.Run(ctx, n.deliverer()); err != nil {
				log.GetLogger().WithError(err).Errorf("%s: radio stopped", n.name)
			}
		}(n)
		go func(n *demoNode) {
			defer wg.Done()
			n.receiver.Run(ctx)
		}(n)
		go func(n *demoNode) {
			defer wg.Done()
			n.producer.Run(ctx)
		}(n)
	}
	wg.Wait()

	results := make([]NodeResult, 0, len(nodes))
	for _, n := range nodes {
		results = append(results, NodeResult{
			Name:     n.name,
			L2Addr:   n.radio.L2Addr(),
			Sent:     n.producer.Sent(),
			Failed:   n.producer.Failed(),
			Received: n.receiver.Received(),
		})
	}
	return results, nil
}

func newDemoNode(name string, root bool, medium *radio.Medium, opts DemoOptions, out sink.Emitter) (*demoNode, error) {
	pool, err := pktbuf.NewPool(pktbuf.Options{Blocks: opts.Pool.Blocks, BlockSize: opts.Pool.BlockSize, Checked: opts.Pool.Checked})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	rcfg := opts.Radio
	rcfg.Root = root
	rcfg.EUI64 = ""
	ropts, err := radio.OptionsFrom(rcfg, name)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	comp := compose.New(pool)
	r := radio.New(medium, comp, ropts)
	reg := dispatch.NewRegistry(opts.Inbox, out)
	reg.SetTransmitter(core.ProtoRadio, r)

	return &demoNode{
		name:     name,
		pool:     pool,
		radio:    r,
		registry: reg,
		receiver: receiver.New(reg.Register(core.ProtoRadio, dispatch.Wildcard), out),
		producer: NewProducer(name, r.Interfaces()[0].Index, opts.Interval, comp, reg, out),
	}, nil
}

func (n *demoNode) deliverer() func(*pktbuf.Chain) {
	return func(c *pktbuf.Chain) { n.registry.Dispatch(c) }
}
