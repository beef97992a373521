package radio

import (
	"bytes"
	"math/rand/v2"
	"net/netip"
	"sync"
	"time"

	"github.com/cespare/xxhash"
)

// Medium is the shared air between simulated radios. Every attached radio
// hears every broadcast; unicast frames reach only their addressee. Each
// reception is lost independently with the configured probability.
type Medium struct {
	mu     sync.RWMutex
	radios []*Radio

	rngMu sync.Mutex
	rng   *rand.Rand
	loss  float64
}

// NewMedium creates an empty medium. A zero seed is taken from the clock.
func NewMedium(loss float64, seed uint64) *Medium {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Medium{
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		loss: loss,
	}
}

func (m *Medium) attach(r *Radio) {
	m.mu.Lock()
	m.radios = append(m.radios, r)
	m.mu.Unlock()
}

func (m *Medium) detach(r *Radio) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, x := range m.radios {
		if x == r {
			m.radios = append(m.radios[:i], m.radios[i+1:]...)
			return
		}
	}
}

// Radios returns the attached radios.
func (m *Medium) Radios() []*Radio {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Radio(nil), m.radios...)
}

// owner returns the radio holding addr.
func (m *Medium) owner(addr netip.Addr) *Radio {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.radios {
		if r.linkLocal == addr || r.global == addr {
			return r
		}
	}
	return nil
}

func (m *Medium) lost() bool {
	if m.loss <= 0 {
		return false
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Float64() < m.loss
}

// transmit puts f on the air and reports whether a unicast frame reached
// its addressee.
func (m *Medium) transmit(from *Radio, f frame) bool {
	m.mu.RLock()
	targets := make([]*Radio, 0, len(m.radios))
	for _, r := range m.radios {
		if r == from {
			continue
		}
		if !f.broadcast() && !bytes.Equal(r.l2, f.dst) {
			continue
		}
		targets = append(targets, r)
	}
	m.mu.RUnlock()

	received := false
	for _, r := range targets {
		if m.lost() {
			continue
		}
		rf := f
		rf.rssi, rf.lqi = linkQuality(from.l2, r.l2)
		if r.enqueueRx(rf) && !f.broadcast() {
			received = true
		}
	}
	return received
}

// linkQuality derives a stable, symmetric RSSI/LQI pair for a link.
func linkQuality(a, b []byte) (int8, uint8) {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	h := xxhash.Sum64(append(append(make([]byte, 0, len(a)+len(b)), a...), b...))
	rssi := -45 - int(h%45) // -45 .. -89 dBm
	lqi := 255 - (-45-rssi)*5
	return int8(rssi), uint8(lqi)
}
