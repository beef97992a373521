package sink

import (
	"strings"
	"sync"
)

// Memory keeps records in order. It serves as an Emitter in tools and tests.
type Memory struct {
	mu    sync.Mutex
	lines []string
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Emit(line string) { _ = m.Write(line) }

func (m *Memory) Write(line string) error {
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Lines returns a copy of every record so far.
func (m *Memory) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

// WithPrefix returns the records whose first field is prefix.
func (m *Memory) WithPrefix(prefix string) []string {
	var out []string
	for _, l := range m.Lines() {
		if strings.HasPrefix(l, prefix+",") {
			out = append(out, l)
		}
	}
	return out
}

// Reset drops every record.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.lines = nil
	m.mu.Unlock()
}
