// Package scheduler produces synthetic readings on one or two independent
// timing loops and hands each composed packet to the stack.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/dispatch"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
	"firestige.xyz/telenode/internal/record"
	"firestige.xyz/telenode/internal/sink"
)

// Loop names, also used as metric labels.
const (
	LoopExponential = "exponential"
	LoopPeriodic    = "periodic"
)

// LoopStats counts the outcome of one loop's iterations.
type LoopStats struct {
	Loop   string
	Sent   uint64
	Failed uint64
}

type loop struct {
	name   string
	next   IntervalFunc
	rng    *rand.Rand
	sent   atomic.Uint64
	failed atomic.Uint64
}

// Scheduler runs the loops selected by the distribution mode. Loops share
// the composer and registry but no timing state.
type Scheduler struct {
	dist  config.DistributionConfig
	dst   config.DestinationConfig
	comp  *compose.Composer
	reg   *dispatch.Registry
	out   sink.Emitter
	loops []*loop

	legend sync.Once
}

// New builds a scheduler. A zero seed in dist is taken from the clock.
func New(dist config.DistributionConfig, dst config.DestinationConfig, comp *compose.Composer, reg *dispatch.Registry, out sink.Emitter) (*Scheduler, error) {
	if !dist.Mode.Valid() {
		return nil, fmt.Errorf("%w: distribution mode %s", core.ErrConfigInvalid, dist.Mode)
	}
	if dist.PacketSize < 1 {
		return nil, fmt.Errorf("%w: packet size %d", core.ErrConfigInvalid, dist.PacketSize)
	}
	seed := dist.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	s := &Scheduler{dist: dist, dst: dst, comp: comp, reg: reg, out: out}
	if dist.Mode.RunsExponential() {
		if dist.Rate <= 0 {
			return nil, fmt.Errorf("%w: exponential rate %v", core.ErrConfigInvalid, dist.Rate)
		}
		rng := rand.New(rand.NewPCG(seed, 1))
		s.loops = append(s.loops, &loop{name: LoopExponential, next: Exponential(dist.Rate, rng), rng: rng})
	}
	if dist.Mode.RunsPeriodic() {
		if dist.Period <= 0 {
			return nil, fmt.Errorf("%w: period %v", core.ErrConfigInvalid, dist.Period)
		}
		rng := rand.New(rand.NewPCG(seed, 2))
		s.loops = append(s.loops, &loop{name: LoopPeriodic, next: Periodic(dist.Period), rng: rng})
	}
	return s, nil
}

// Run prints the udp column legend once, then drives every loop until ctx
// is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.legend.Do(func() { s.out.Emit(record.UDPHeader()) })

	var wg sync.WaitGroup
	for _, l := range s.loops {
		wg.Add(1)
		go func(l *loop) {
			defer wg.Done()
			s.run(ctx, l)
		}(l)
	}
	wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, l *loop) {
	logger := log.GetLogger().WithField("loop", l.name)
	logger.Infof("started, sending %d byte readings to [%s]:%s", s.dist.PacketSize, s.dst.Address, s.dst.Port)
	defer logger.Infof("stopped after %d sent, %d failed", l.sent.Load(), l.failed.Load())

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.produce(ctx, l)

		d := l.next()
		metrics.ScheduleIntervalSeconds.WithLabelValues(l.name).Observe(d.Seconds())
		timer.Reset(d)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// produce runs one iteration. Failures are counted and reported, never
// returned: the loop goes on.
func (s *Scheduler) produce(ctx context.Context, l *loop) {
	reading := make([]byte, s.dist.PacketSize)
	for i := range reading {
		reading[i] = byte(l.rng.Uint32())
	}

	chain, dst, err := s.comp.Compose(reading, s.dst.Address, s.dst.Port, s.dst.Interface)
	if err != nil {
		s.fail(l, err)
		return
	}
	// Rendered before handoff: the chain belongs to the stack once accepted.
	line := record.UDP(len(reading), dst.Addr.String(), dst.Port, reading)

	if _, err := s.reg.SendViaStack(ctx, chain, chain.Proto()); err != nil {
		chain.Release()
		s.fail(l, err)
		return
	}
	l.sent.Add(1)
	metrics.PacketsSentTotal.WithLabelValues(l.name).Inc()
	s.out.Emit(line)
}

func (s *Scheduler) fail(l *loop, err error) {
	l.failed.Add(1)
	kind := core.ErrorKind(err)
	metrics.SendFailuresTotal.WithLabelValues(l.name, kind).Inc()

	logger := log.GetLogger().WithField("loop", l.name).WithError(err)
	if errors.Is(err, core.ErrTransmitRejected) || errors.Is(err, core.ErrBufferExhausted) {
		logger.Debugf("reading dropped")
	} else {
		logger.Warnf("reading dropped")
	}
	s.out.Emit(record.ErrorFrom(err))
}

// Stats returns per-loop counters in loop order.
func (s *Scheduler) Stats() []LoopStats {
	out := make([]LoopStats, 0, len(s.loops))
	for _, l := range s.loops {
		out = append(out, LoopStats{Loop: l.name, Sent: l.sent.Load(), Failed: l.failed.Load()})
	}
	return out
}

// Loops names the loops the mode selected.
func (s *Scheduler) Loops() []string {
	names := make([]string, 0, len(s.loops))
	for _, l := range s.loops {
		names = append(names, l.name)
	}
	return names
}
