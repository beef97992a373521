// Package stats polls the network stack once per interval and renders its
// counters, neighbor tables and routing state as records.
package stats

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
	"firestige.xyz/telenode/internal/record"
	"firestige.xyz/telenode/internal/sink"
)

// DefaultInterval is the polling cadence when none is configured.
const DefaultInterval = time.Second

// Source is the read-only view of the stack the aggregator polls.
type Source interface {
	Interfaces() []core.Interface
	InterfaceStats(iface int, layer core.Layer) (core.IfStats, error)
	Neighbors(iface int) []core.Neighbor
	Routing() core.RoutingSnapshot
}

// Aggregator renders one complete snapshot per tick. It never writes to
// the counters it reads.
type Aggregator struct {
	src      Source
	out      sink.Emitter
	interval time.Duration
	ticks    atomic.Uint64
}

// New creates an aggregator polling src every cfg.Interval.
func New(cfg config.StatsConfig, src Source, out sink.Emitter) *Aggregator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Aggregator{src: src, out: out, interval: interval}
}

// Interval is the polling cadence.
func (a *Aggregator) Interval() time.Duration { return a.interval }

// Ticks is the number of snapshots rendered so far.
func (a *Aggregator) Ticks() uint64 { return a.ticks.Load() }

// Run emits the column legend once, then one snapshot per interval until
// ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	logger := log.GetLogger().WithField("component", "stats")
	logger.Infof("polling every %s", a.interval)

	for _, h := range record.Headers() {
		a.out.Emit(h)
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		a.Tick()
		select {
		case <-ctx.Done():
			logger.Infof("stopped after %d ticks", a.Ticks())
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Tick renders and emits one snapshot.
func (a *Aggregator) Tick() {
	for _, line := range a.Render() {
		a.out.Emit(line)
	}
	a.ticks.Add(1)
	metrics.StatsTicksTotal.Inc()
}

// Render builds one snapshot: interface counters at both layers, neighbor
// tables, routing counters and routing tables, in that order.
func (a *Aggregator) Render() []string {
	ifaces := a.src.Interfaces()
	lines := make([]string, 0, 32)

	for _, ifc := range ifaces {
		for _, layer := range core.Layers {
			lines = append(lines, a.ifStats(ifc, layer))
		}
	}
	for _, ifc := range ifaces {
		for _, n := range a.src.Neighbors(ifc.Index) {
			lines = append(lines, record.Neighbor(n))
		}
	}

	snap := a.src.Routing()
	for frame := range snap.Stats {
		lines = append(lines, record.RPLStats(frame, snap.Stats[frame])...)
	}
	for i, in := range snap.Instances {
		lines = append(lines, record.RPLStatus("instance", i, in.Used))
	}
	for i, p := range snap.Parents {
		lines = append(lines, record.RPLStatus("parent", i, p.Used))
	}
	for _, in := range snap.Instances {
		if !in.Used {
			continue
		}
		lines = append(lines, record.RPLInstance(in), record.RPLDodag(in))
		for _, p := range snap.Parents {
			if p.Used && p.InstanceID == in.ID {
				lines = append(lines, record.RPLParent(p))
			}
		}
	}
	return lines
}

func (a *Aggregator) ifStats(ifc core.Interface, layer core.Layer) string {
	s, err := a.src.InterfaceStats(ifc.Index, layer)
	if err != nil {
		if !errors.Is(err, core.ErrNotSupported) {
			log.GetLogger().WithError(err).Warnf("interface %d (%s): %s counters unavailable", ifc.Index, ifc.Name, layer)
		}
		return record.StatsUnavailable()
	}
	return record.Stats(layer, s)
}
