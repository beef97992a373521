// Package config handles node configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"firestige.xyz/telenode/internal/core"
)

// MaxAddressLen is the longest destination address text accepted at boot.
const MaxAddressLen = 45

// Config is the top-level node configuration. It is built once at boot and
// never mutated afterwards; components receive the sub-struct they need by value.
type Config struct {
	Node         NodeConfig         `mapstructure:"node" yaml:"node"`
	Destination  DestinationConfig  `mapstructure:"destination" yaml:"destination"`
	Distribution DistributionConfig `mapstructure:"distribution" yaml:"distribution"`
	Pool         PoolConfig         `mapstructure:"pool" yaml:"pool"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch" yaml:"dispatch"`
	Stack        StackConfig        `mapstructure:"stack" yaml:"stack"`
	Stats        StatsConfig        `mapstructure:"stats" yaml:"stats"`
	Broadcast    BroadcastConfig    `mapstructure:"broadcast" yaml:"broadcast"`
	Sinks        SinksConfig        `mapstructure:"sinks" yaml:"sinks"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Log          LogConfig          `mapstructure:"log" yaml:"log"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Name string `mapstructure:"name" yaml:"name"` // Empty = os.Hostname()
}

// ─── Telemetry ───

// DestinationConfig names the collector. Address and port stay textual; they
// are parsed on every send so a malformed value fails that attempt only.
type DestinationConfig struct {
	Address   string `mapstructure:"address" yaml:"address"`
	Port      string `mapstructure:"port" yaml:"port"`
	Interface int    `mapstructure:"interface" yaml:"interface"` // 0 = let the stack resolve
}

// DistributionConfig decides when readings are produced.
type DistributionConfig struct {
	Mode       Mode          `mapstructure:"mode" yaml:"mode"`
	Rate       float64       `mapstructure:"rate" yaml:"rate"`     // exponential λ, packets per second
	Period     time.Duration `mapstructure:"period" yaml:"period"` // periodic inter-arrival
	PacketSize int           `mapstructure:"packet_size" yaml:"packet_size"`
	Seed       uint64        `mapstructure:"seed" yaml:"seed"` // 0 = seed from clock
}

// ─── Packet Buffer & Dispatch ───

// PoolConfig sizes the bounded packet buffer arena.
type PoolConfig struct {
	Blocks    int  `mapstructure:"blocks" yaml:"blocks"`
	BlockSize int  `mapstructure:"block_size" yaml:"block_size"`
	Checked   bool `mapstructure:"checked" yaml:"checked"` // panic on use after release
}

// DispatchConfig sizes subscriber inboxes.
type DispatchConfig struct {
	InboxCapacity int `mapstructure:"inbox_capacity" yaml:"inbox_capacity"`
}

// ─── Network Stack ───

// StackConfig selects the network/radio collaborator.
type StackConfig struct {
	Type  string           `mapstructure:"type" yaml:"type"` // udp | radio
	UDP   UDPStackConfig   `mapstructure:"udp" yaml:"udp"`
	Radio RadioStackConfig `mapstructure:"radio" yaml:"radio"`
}

// UDPStackConfig configures the hosted IPv6/UDP stack.
type UDPStackConfig struct {
	Bind       string   `mapstructure:"bind" yaml:"bind"`
	Port       int      `mapstructure:"port" yaml:"port"`
	Interfaces []string `mapstructure:"interfaces" yaml:"interfaces"` // Empty = one logical interface
}

// RadioStackConfig configures the simulated low-power radio.
type RadioStackConfig struct {
	Iface             int           `mapstructure:"iface" yaml:"iface"`
	Name              string        `mapstructure:"name" yaml:"name"`
	EUI64             string        `mapstructure:"eui64" yaml:"eui64"` // Empty = derived from node name
	TxQueue           int           `mapstructure:"tx_queue" yaml:"tx_queue"`
	RxQueue           int           `mapstructure:"rx_queue" yaml:"rx_queue"`
	Loss              float64       `mapstructure:"loss" yaml:"loss"`
	Peers             int           `mapstructure:"peers" yaml:"peers"` // simulated neighbours on the same medium
	Root              bool          `mapstructure:"root" yaml:"root"`
	InstanceID        uint8         `mapstructure:"instance_id" yaml:"instance_id"`
	DODAGID           string        `mapstructure:"dodag_id" yaml:"dodag_id"`
	MinHopRankInc     uint16        `mapstructure:"min_hop_rank_inc" yaml:"min_hop_rank_inc"`
	DIOIntervalMin    uint8         `mapstructure:"dio_interval_min" yaml:"dio_interval_min"` // Imin = 2^n ms
	DIODoublings      uint8         `mapstructure:"dio_doublings" yaml:"dio_doublings"`
	DIORedundancy     uint8         `mapstructure:"dio_redundancy" yaml:"dio_redundancy"`
	FreshnessHalfLife time.Duration `mapstructure:"freshness_half_life" yaml:"freshness_half_life"`
}

// ─── Stats & Broadcast ───

// StatsConfig configures the stats aggregator loop.
type StatsConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// BroadcastConfig configures the raw link-layer broadcast producer and
// consumer. It needs the radio stack.
type BroadcastConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ─── Record Sinks ───

// SinksConfig selects where output records go.
type SinksConfig struct {
	Console bool             `mapstructure:"console" yaml:"console"`
	File    FileOutputConfig `mapstructure:"file" yaml:"file"`
	Kafka   KafkaSinkConfig  `mapstructure:"kafka" yaml:"kafka"`
	MQTT    MQTTSinkConfig   `mapstructure:"mqtt" yaml:"mqtt"`
}

// KafkaSinkConfig configures the Kafka record sink.
type KafkaSinkConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	Compression  string        `mapstructure:"compression" yaml:"compression"` // none|gzip|snappy|lz4
}

// MQTTSinkConfig configures the MQTT record sink.
type MQTTSinkConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Broker         string        `mapstructure:"broker" yaml:"broker"`
	Topic          string        `mapstructure:"topic" yaml:"topic"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	QoS            byte          `mapstructure:"qos" yaml:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format string           `mapstructure:"format" yaml:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures a rotating file output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `telenode: ...`.
type configRoot struct {
	Telenode Config `mapstructure:"telenode"`
}

// Load loads configuration from file.
// The YAML file uses `telenode:` as root key; env vars use the TELENODE_ prefix
// (e.g., TELENODE_DISTRIBUTION_MODE).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return fromViper(v)
}

// Default returns the configuration built from defaults and environment only.
func Default() (*Config, error) {
	return fromViper(viper.New())
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var root configRoot
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		modeHookFunc(),
		secondsToDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Telenode

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values. All keys use the "telenode." prefix.
func setDefaults(v *viper.Viper) {
	v.SetDefault("telenode.destination.address", "2001:db8::1")
	v.SetDefault("telenode.destination.port", "1337")
	v.SetDefault("telenode.destination.interface", 0)

	v.SetDefault("telenode.distribution.mode", "PERIODIC")
	v.SetDefault("telenode.distribution.rate", 1.0)
	v.SetDefault("telenode.distribution.period", "1s")
	v.SetDefault("telenode.distribution.packet_size", 16)

	v.SetDefault("telenode.pool.blocks", 64)
	v.SetDefault("telenode.pool.block_size", 128)
	v.SetDefault("telenode.pool.checked", true)

	v.SetDefault("telenode.dispatch.inbox_capacity", 8)

	v.SetDefault("telenode.stack.type", "udp")
	v.SetDefault("telenode.stack.udp.bind", "::")
	v.SetDefault("telenode.stack.udp.port", 1337)
	v.SetDefault("telenode.stack.radio.iface", 6)
	v.SetDefault("telenode.stack.radio.name", "wpan0")
	v.SetDefault("telenode.stack.radio.tx_queue", 16)
	v.SetDefault("telenode.stack.radio.rx_queue", 16)
	v.SetDefault("telenode.stack.radio.loss", 0.0)
	v.SetDefault("telenode.stack.radio.peers", 2)
	v.SetDefault("telenode.stack.radio.instance_id", 0)
	v.SetDefault("telenode.stack.radio.dodag_id", "2001:db8::1")
	v.SetDefault("telenode.stack.radio.min_hop_rank_inc", 256)
	v.SetDefault("telenode.stack.radio.dio_interval_min", 12)
	v.SetDefault("telenode.stack.radio.dio_doublings", 8)
	v.SetDefault("telenode.stack.radio.dio_redundancy", 10)
	v.SetDefault("telenode.stack.radio.freshness_half_life", "10m")

	v.SetDefault("telenode.stats.enabled", true)
	v.SetDefault("telenode.stats.interval", "1s")

	v.SetDefault("telenode.broadcast.enabled", false)
	v.SetDefault("telenode.broadcast.interval", "2s")

	v.SetDefault("telenode.sinks.console", true)
	v.SetDefault("telenode.sinks.file.enabled", false)
	v.SetDefault("telenode.sinks.file.path", "/var/log/telenode/records.log")
	v.SetDefault("telenode.sinks.file.rotation.max_size_mb", 50)
	v.SetDefault("telenode.sinks.file.rotation.max_backups", 3)
	v.SetDefault("telenode.sinks.kafka.batch_size", 100)
	v.SetDefault("telenode.sinks.kafka.batch_timeout", "100ms")
	v.SetDefault("telenode.sinks.kafka.compression", "snappy")
	v.SetDefault("telenode.sinks.mqtt.topic", "telenode/records")
	v.SetDefault("telenode.sinks.mqtt.qos", 0)
	v.SetDefault("telenode.sinks.mqtt.connect_timeout", "5s")

	v.SetDefault("telenode.metrics.enabled", false)
	v.SetDefault("telenode.metrics.listen", ":9091")
	v.SetDefault("telenode.metrics.path", "/metrics")

	v.SetDefault("telenode.log.level", "info")
	v.SetDefault("telenode.log.format", "text")
	v.SetDefault("telenode.log.file.enabled", false)
	v.SetDefault("telenode.log.file.path", "/var/log/telenode/telenode.log")
	v.SetDefault("telenode.log.file.rotation.max_size_mb", 100)
	v.SetDefault("telenode.log.file.rotation.max_age_days", 30)
	v.SetDefault("telenode.log.file.rotation.max_backups", 5)
	v.SetDefault("telenode.log.file.rotation.compress", true)
}

// ValidateAndApplyDefaults enforces the boot-time contract.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Node name ──
	if cfg.Node.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Name = hostname
	}

	// ── Destination ──
	if cfg.Destination.Address == "" {
		return invalid("destination.address is required")
	}
	if len(cfg.Destination.Address) > MaxAddressLen {
		return invalid("destination.address longer than %d characters", MaxAddressLen)
	}
	if cfg.Destination.Interface < 0 {
		return invalid("destination.interface must not be negative")
	}

	// ── Distribution ──
	d := cfg.Distribution
	if !d.Mode.Valid() {
		return invalid("distribution.mode must be one of EXPONENTIAL/PERIODIC/HYBRID")
	}
	if d.Mode.RunsExponential() && d.Rate <= 0 {
		return invalid("distribution.rate must be > 0 for %s", d.Mode)
	}
	if d.Mode.RunsPeriodic() && d.Period <= 0 {
		return invalid("distribution.period must be > 0 for %s", d.Mode)
	}

	// ── Pool ──
	if cfg.Pool.Blocks < 1 {
		return invalid("pool.blocks must be >= 1")
	}
	if cfg.Pool.BlockSize < 64 {
		return invalid("pool.block_size must be >= 64 to hold a network header")
	}
	if d.PacketSize < 1 || d.PacketSize > cfg.Pool.BlockSize {
		return invalid("distribution.packet_size must be within [1, %d]", cfg.Pool.BlockSize)
	}
	if cfg.Dispatch.InboxCapacity < 1 {
		return invalid("dispatch.inbox_capacity must be >= 1")
	}

	// ── Stack ──
	switch cfg.Stack.Type {
	case "udp":
		if cfg.Stack.UDP.Port < 0 || cfg.Stack.UDP.Port > 65535 {
			return invalid("stack.udp.port out of range")
		}
	case "radio":
		r := cfg.Stack.Radio
		if r.TxQueue < 1 || r.RxQueue < 1 {
			return invalid("stack.radio queues must be >= 1")
		}
		if r.Loss < 0 || r.Loss >= 1 {
			return invalid("stack.radio.loss must be within [0, 1)")
		}
		if r.Peers < 0 {
			return invalid("stack.radio.peers must not be negative")
		}
		if r.DIOIntervalMin < 1 || r.DIOIntervalMin > 20 {
			return invalid("stack.radio.dio_interval_min must be within [1, 20]")
		}
		if int(r.DIOIntervalMin)+int(r.DIODoublings) > 30 {
			return invalid("stack.radio.dio_doublings too large for dio_interval_min %d", r.DIOIntervalMin)
		}
	default:
		return invalid("unsupported stack.type: %s (must be udp or radio)", cfg.Stack.Type)
	}

	// ── Stats ──
	if cfg.Stats.Enabled && cfg.Stats.Interval <= 0 {
		cfg.Stats.Interval = time.Second
	}

	// ── Broadcast ──
	if cfg.Broadcast.Enabled {
		if cfg.Stack.Type != "radio" {
			return invalid("broadcast.enabled requires stack.type radio")
		}
		if cfg.Broadcast.Interval <= 0 {
			return invalid("broadcast.interval must be > 0")
		}
	}

	// ── Sinks ──
	if cfg.Sinks.File.Enabled && cfg.Sinks.File.Path == "" {
		return invalid("sinks.file.path is required when sinks.file.enabled=true")
	}
	if cfg.Sinks.Kafka.Enabled {
		if len(cfg.Sinks.Kafka.Brokers) == 0 || cfg.Sinks.Kafka.Topic == "" {
			return invalid("sinks.kafka.brokers and sinks.kafka.topic are required when sinks.kafka.enabled=true")
		}
	}
	if cfg.Sinks.MQTT.Enabled {
		if cfg.Sinks.MQTT.Broker == "" {
			return invalid("sinks.mqtt.broker is required when sinks.mqtt.enabled=true")
		}
		if cfg.Sinks.MQTT.QoS > 2 {
			return invalid("sinks.mqtt.qos must be 0, 1 or 2")
		}
		if cfg.Sinks.MQTT.ClientID == "" {
			cfg.Sinks.MQTT.ClientID = "telenode-" + cfg.Node.Name
		}
	}

	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}

// modeHookFunc decodes generation mode strings.
func modeHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(Mode(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		return ParseMode(data.(string))
	}
}

// secondsToDurationHookFunc lets durations be written as plain seconds (period: 1.5).
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case float32:
			return time.Duration(float64(v) * float64(time.Second)), nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		default:
			return data, nil
		}
	}
}
