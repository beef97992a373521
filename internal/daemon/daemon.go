// Package daemon implements the node lifecycle: it wires the packet pool,
// dispatch registry, network stack and loops together and runs them until
// shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"firestige.xyz/telenode/internal/broadcast"
	"firestige.xyz/telenode/internal/compose"
	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/dispatch"
	logpkg "firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
	"firestige.xyz/telenode/internal/pktbuf"
	"firestige.xyz/telenode/internal/receiver"
	"firestige.xyz/telenode/internal/record"
	"firestige.xyz/telenode/internal/scheduler"
	"firestige.xyz/telenode/internal/sink"
	"firestige.xyz/telenode/internal/stack"
	"firestige.xyz/telenode/internal/stack/radio"
	"firestige.xyz/telenode/internal/stack/udp"
	"firestige.xyz/telenode/internal/stats"
)

const stopTimeout = 5 * time.Second

// Daemon manages the telemetry node process lifecycle.
type Daemon struct {
	// Configuration
	config     *config.Config
	configPath string
	pidFile    string

	// Core components
	sinks       *sink.Multi
	pool        *pktbuf.Pool
	registry    *dispatch.Registry
	composer    *compose.Composer
	stack       stack.Stack
	peers       []*radio.Radio
	scheduler   *scheduler.Scheduler
	aggregator  *stats.Aggregator
	receiver    *receiver.Receiver
	rawReceiver *receiver.Receiver
	producer    *broadcast.Producer

	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	stopOnce     sync.Once
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads the configuration at configPath and creates a daemon.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	d := NewWithConfig(cfg, pidFile)
	d.configPath = configPath
	return d, nil
}

// NewWithConfig creates a daemon from an already validated configuration.
func NewWithConfig(cfg *config.Config, pidFile string) *Daemon {
	d := &Daemon{
		config:       cfg,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start builds every component and starts the loops.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := logpkg.GetLogger()
	logger.WithFields(map[string]interface{}{
		"node":   d.config.Node.Name,
		"config": d.configPath,
	}).Info("starting telenode")

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Record sinks
	sinks, err := sink.Build(d.config.Sinks, d.config.Node.Name)
	if err != nil {
		return fmt.Errorf("failed to build record sinks: %w", err)
	}
	d.sinks = sinks

	// 5. Packet buffer, composer and dispatch registry
	d.pool, err = pktbuf.NewPool(pktbuf.Options{
		Blocks:    d.config.Pool.Blocks,
		BlockSize: d.config.Pool.BlockSize,
		Checked:   d.config.Pool.Checked,
	})
	if err != nil {
		return fmt.Errorf("failed to create packet pool: %w", err)
	}
	d.composer = compose.New(d.pool)
	d.registry = dispatch.NewRegistry(d.config.Dispatch.InboxCapacity, d.sinks)

	// 6. Network stack
	if err := d.buildStack(); err != nil {
		return fmt.Errorf("failed to build %s stack: %w", d.config.Stack.Type, err)
	}
	d.registry.SetTransmitter(core.ProtoUDP, d.stack)
	if d.config.Stack.Type == "radio" {
		d.registry.SetTransmitter(core.ProtoRadio, d.stack)
	}

	// 7. Consumers and producers
	d.receiver = receiver.New(d.registry.Register(core.ProtoUDP, dispatch.Wildcard), d.sinks)
	d.scheduler, err = scheduler.New(d.config.Distribution, d.config.Destination, d.composer, d.registry, d.sinks)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if d.config.Stats.Enabled {
		d.aggregator = stats.New(d.config.Stats, d.stack, d.sinks)
	}
	if d.config.Broadcast.Enabled {
		iface := 0
		if ifaces := d.stack.Interfaces(); len(ifaces) > 0 {
			iface = ifaces[0].Index
		}
		d.producer = broadcast.NewProducer(d.config.Node.Name, iface,
			d.config.Broadcast.Interval, d.composer, d.registry, d.sinks)
		d.rawReceiver = receiver.New(d.registry.Register(core.ProtoRadio, dispatch.Wildcard), d.sinks)
	}

	d.emitBootRecords()

	// 8. Launch loops
	d.spawn(func(ctx context.Context) {
		if err := d.stack.Run(ctx, d.deliver); err != nil {
			logger.WithError(err).Error("stack receive loop failed")
		}
	})
	for _, p := range d.peers {
		d.spawn(func(ctx context.Context) { _ = p.Run(ctx, nil) })
	}
	d.spawn(d.receiver.Run)
	if d.aggregator != nil {
		d.spawn(d.aggregator.Run)
	}
	if d.producer != nil {
		d.spawn(d.rawReceiver.Run)
		d.spawn(d.producer.Run)
	}
	d.spawn(d.scheduler.Run)

	logger.Info("telenode started")
	return nil
}

func (d *Daemon) spawn(fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(d.ctx)
	}()
}

// deliver hands an inbound chain to the registry; the stack releases its holder.
func (d *Daemon) deliver(c *pktbuf.Chain) {
	d.registry.Dispatch(c)
}

func (d *Daemon) buildStack() error {
	switch d.config.Stack.Type {
	case "udp":
		s, err := udp.New(d.config.Stack.UDP, d.composer)
		if err != nil {
			return err
		}
		d.stack = s
		return nil
	case "radio":
		return d.buildRadio()
	default:
		return fmt.Errorf("unsupported stack type %q", d.config.Stack.Type)
	}
}

// buildRadio attaches this node and its simulated peers to one medium. When
// this node is not the root, the first peer is.
func (d *Daemon) buildRadio() error {
	rc := d.config.Stack.Radio
	opts, err := radio.OptionsFrom(rc, d.config.Node.Name)
	if err != nil {
		return err
	}
	opts.Seed = d.config.Distribution.Seed
	medium := radio.NewMedium(rc.Loss, d.config.Distribution.Seed)
	d.stack = radio.New(medium, d.composer, opts)

	for i := 0; i < rc.Peers; i++ {
		name := fmt.Sprintf("%s-peer-%d", d.config.Node.Name, i)
		popts := opts
		popts.EUI64 = radio.DeriveEUI64(name)
		popts.Root = i == 0 && !opts.Root
		popts.Seed = 0
		d.peers = append(d.peers, radio.New(medium, d.composer, popts))
	}
	return nil
}

func (d *Daemon) emitBootRecords() {
	cfg := d.config
	emit := d.sinks.Emit
	emit(record.Info("telenode %s starting", cfg.Node.Name))
	emit(record.Info("destination [%s]:%s iface %d (max address length %d)",
		cfg.Destination.Address, cfg.Destination.Port, cfg.Destination.Interface, config.MaxAddressLen))
	emit(record.Info("generation %s rate %g period %s packet size %d",
		cfg.Distribution.Mode, cfg.Distribution.Rate, cfg.Distribution.Period, cfg.Distribution.PacketSize))
	emit(record.Info("pool %d blocks of %d bytes checked %t", cfg.Pool.Blocks, cfg.Pool.BlockSize, cfg.Pool.Checked))

	names := make([]string, 0, 2)
	for _, ifc := range d.stack.Interfaces() {
		names = append(names, ifc.Name+"#"+strconv.Itoa(ifc.Index))
	}
	emit(record.Info("stack %s interfaces %s peers %d", d.stack.Name(), strings.Join(names, " "), len(d.peers)))
}

// Stop performs graceful shutdown of all components. It is safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	logger := logpkg.GetLogger()
	logger.Info("initiating graceful shutdown")

	// 1. Cancel context to signal all loops, then wait for them
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		logger.Warnf("loops did not stop within %s", stopTimeout)
	}

	// 2. Report and close the network stack
	if d.scheduler != nil {
		for _, s := range d.scheduler.Stats() {
			logger.WithField("loop", s.Loop).Infof("%d sent, %d failed", s.Sent, s.Failed)
		}
	}
	for _, p := range d.peers {
		_ = p.Close()
	}
	if d.stack != nil {
		if err := d.stack.Close(); err != nil {
			logger.WithError(err).Error("error closing stack")
		}
	}

	// 3. Check and release the packet pool
	if d.pool != nil {
		if err := d.pool.Verify(); err != nil {
			logger.WithError(err).Error("packet pool integrity check failed")
		}
		if n := d.pool.InUse(); n > 0 {
			logger.Warnf("%d segments still allocated at shutdown", n)
		}
		_ = d.pool.Close()
	}

	// 4. Flush record sinks
	if d.sinks != nil {
		if err := d.sinks.Close(); err != nil {
			logger.WithError(err).Error("error closing record sinks")
		}
	}

	// 5. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("error stopping metrics server")
		}
	}

	// 6. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 7. Remove PID file
	if err := d.removePIDFile(); err != nil {
		logger.WithError(err).Error("error removing PID file")
	}

	logger.Info("telenode stopped")
	logpkg.Flush()
}

// Run blocks until shutdown is triggered by SIGTERM/SIGINT, TriggerShutdown
// or cancellation. SIGHUP reloads the configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logger := logpkg.GetLogger()
	logger.Info("telenode running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil

			case syscall.SIGHUP:
				logger.Info("received reload signal")
				if err := d.Reload(); err != nil {
					logger.WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			logger.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level/format.
// Everything else is fixed at boot and only reported when changed.
func (d *Daemon) Reload() error {
	if d.configPath == "" {
		return fmt.Errorf("no configuration file to reload")
	}
	logger := logpkg.GetLogger()
	logger.WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	hotReloaded := []string{}
	if newConfig.Log != d.config.Log {
		if err := logpkg.Init(newConfig.Log); err != nil {
			return fmt.Errorf("failed to reinitialize logging: %w", err)
		}
		d.config.Log = newConfig.Log
		hotReloaded = append(hotReloaded, "log")
	}

	requiresRestart := []string{}
	if newConfig.Destination != d.config.Destination {
		requiresRestart = append(requiresRestart, "destination")
	}
	if newConfig.Distribution != d.config.Distribution {
		requiresRestart = append(requiresRestart, "distribution")
	}
	if newConfig.Pool != d.config.Pool {
		requiresRestart = append(requiresRestart, "pool")
	}
	if newConfig.Stack.Type != d.config.Stack.Type {
		requiresRestart = append(requiresRestart, "stack.type")
	}
	if newConfig.Metrics != d.config.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	logger.WithFields(map[string]interface{}{
		"hot_reloaded":     strings.Join(hotReloaded, ","),
		"requires_restart": strings.Join(requiresRestart, ","),
	}).Info("configuration reloaded")
	return nil
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// SchedulerStats returns the per-loop send counters.
func (d *Daemon) SchedulerStats() []scheduler.LoopStats {
	if d.scheduler == nil {
		return nil
	}
	return d.scheduler.Stats()
}

// Stack is the network stack the node transmits through.
func (d *Daemon) Stack() stack.Stack { return d.stack }

// MetricsAddr is the bound metrics address, empty when metrics are disabled.
func (d *Daemon) MetricsAddr() string {
	if d.metricsServer == nil {
		return ""
	}
	return d.metricsServer.Addr()
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	logpkg.GetLogger().WithFields(map[string]interface{}{
		"level":  d.config.Log.Level,
		"format": d.config.Log.Format,
	}).Debug("logging initialized")
	return nil
}

func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		logpkg.GetLogger().Info("metrics server disabled")
		return nil
	}
	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	return d.metricsServer.Start()
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")
	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	logpkg.GetLogger().WithFields(map[string]interface{}{"path": d.pidFile, "pid": pid}).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
