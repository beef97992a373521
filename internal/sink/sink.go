// Package sink delivers output records to their destinations.
//
// A record is one comma-separated line. Components write records through an
// Emitter and never see sink failures: every failed write is logged and
// counted, and the producing loop carries on.
package sink

import (
	"fmt"
	"sync"

	"firestige.xyz/telenode/internal/config"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
)

// Emitter is the write side components depend on.
type Emitter interface {
	Emit(line string)
}

// Writer is one record destination.
type Writer interface {
	Name() string
	Write(line string) error
	Close() error
}

// Multi fans every record out to all writers.
type Multi struct {
	mu      sync.RWMutex
	writers []Writer
}

// NewMulti creates a fan-out over writers.
func NewMulti(writers ...Writer) *Multi {
	return &Multi{writers: writers}
}

// Add appends a writer.
func (m *Multi) Add(w Writer) {
	m.mu.Lock()
	m.writers = append(m.writers, w)
	m.mu.Unlock()
}

// Emit writes line to every writer; failures are logged, not returned.
func (m *Multi) Emit(line string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.writers {
		if err := w.Write(line); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(w.Name()).Inc()
			log.GetLogger().WithError(err).WithField("sink", w.Name()).Warn("record write failed")
		}
	}
}

// Close closes every writer and returns the first error.
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			log.GetLogger().WithError(err).WithField("sink", w.Name()).Error("error closing sink")
			if first == nil {
				first = err
			}
		}
	}
	m.writers = nil
	return first
}

// Build creates the writers enabled in cfg. Console is added when nothing
// else is enabled so records are never silently dropped.
func Build(cfg config.SinksConfig, node string) (*Multi, error) {
	m := NewMulti()
	if cfg.File.Enabled {
		m.Add(NewFile(cfg.File))
	}
	if cfg.Kafka.Enabled {
		w, err := NewKafka(cfg.Kafka, node)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		m.Add(w)
	}
	if cfg.MQTT.Enabled {
		w, err := NewMQTT(cfg.MQTT)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("mqtt sink: %w", err)
		}
		m.Add(w)
	}
	if cfg.Console || len(m.writers) == 0 {
		m.Add(NewConsole(nil))
	}
	return m, nil
}
