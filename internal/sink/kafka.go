package sink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per record, keyed by node name.
type Kafka struct {
	writer messageWriter
	key    []byte

	// Statistics
	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// NewKafka creates an asynchronous Kafka writer; delivery errors are logged
// from the completion callback.
func NewKafka(cfg config.KafkaSinkConfig, node string) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("brokers and topic are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // same node, same partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  defaultMaxAttempts,
		Async:        true, // producers must never block on the broker
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	writerConfig.CompressionCodec = codec

	w := kafka.NewWriter(writerConfig)
	k := newKafkaWith(w, node)
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil {
			k.errorCount.Add(uint64(len(messages)))
			metrics.SinkErrorsTotal.WithLabelValues("kafka").Add(float64(len(messages)))
			log.GetLogger().WithError(err).Warnf("kafka sink dropped %d records", len(messages))
			return
		}
		k.reportedCount.Add(uint64(len(messages)))
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"brokers":     cfg.Brokers,
		"topic":       cfg.Topic,
		"compression": cfg.Compression,
	}).Info("kafka sink started")
	return k, nil
}

func newKafkaWith(w messageWriter, node string) *Kafka {
	return &Kafka{writer: w, key: []byte(node)}
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type: %s", name)
	}
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Write(line string) error {
	return k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   k.key,
		Value: []byte(line),
		Time:  time.Now(),
	})
}

func (k *Kafka) Close() error {
	err := k.writer.Close()
	log.GetLogger().WithFields(map[string]interface{}{
		"total_reported": k.reportedCount.Load(),
		"total_errors":   k.errorCount.Load(),
	}).Info("kafka sink stopped")
	return err
}
