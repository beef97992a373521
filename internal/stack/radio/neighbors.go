package radio

import (
	"bytes"
	"sync"
	"time"

	"firestige.xyz/telenode/internal/core"
)

const (
	// NeighborTableSize bounds the neighbor table; the stalest entry is evicted.
	NeighborTableSize = 8
	// FreshnessTarget is the decayed freshness a neighbor needs to count as fresh.
	FreshnessTarget = 3

	etxInit       = 2 * core.ETXDivisor
	etxNoAck      = 6 * core.ETXDivisor
	etxAlphaPct   = 15
	avgTxAlphaPct = 25
)

type neighbor struct {
	l2        []byte
	freshness uint8
	updated   time.Time
	etx       uint16
	tx, rx    uint32
	rssi      int8
	lqi       uint8
	avgTx     time.Duration
}

// neighborTable keeps link statistics per neighbor. Freshness counts recent
// traffic and halves every half-life without any.
type neighborTable struct {
	mu       sync.Mutex
	halfLife time.Duration
	entries  []*neighbor
}

func newNeighborTable(halfLife time.Duration) *neighborTable {
	if halfLife <= 0 {
		halfLife = 10 * time.Minute
	}
	return &neighborTable{halfLife: halfLife}
}

func (t *neighborTable) decay(n *neighbor, now time.Time) {
	halves := int(now.Sub(n.updated) / t.halfLife)
	if halves <= 0 {
		return
	}
	if halves >= 8 {
		n.freshness = 0
	} else {
		n.freshness >>= uint(halves)
	}
	n.updated = n.updated.Add(time.Duration(halves) * t.halfLife)
}

func (t *neighborTable) touch(n *neighbor, now time.Time) {
	t.decay(n, now)
	if n.freshness < 0xff {
		n.freshness++
	}
	n.updated = now
}

// get returns the entry for l2, creating it and evicting the stalest entry
// when the table is full. Callers hold t.mu.
func (t *neighborTable) get(l2 []byte, now time.Time) *neighbor {
	for _, n := range t.entries {
		if bytes.Equal(n.l2, l2) {
			return n
		}
	}
	n := &neighbor{l2: append([]byte(nil), l2...), etx: etxInit, updated: now}
	if len(t.entries) < NeighborTableSize {
		t.entries = append(t.entries, n)
		return n
	}
	victim := 0
	for i, e := range t.entries {
		t.decay(e, now)
		if e.freshness < t.entries[victim].freshness ||
			(e.freshness == t.entries[victim].freshness && e.updated.Before(t.entries[victim].updated)) {
			victim = i
		}
	}
	t.entries[victim] = n
	return n
}

func (t *neighborTable) recordRx(l2 []byte, rssi int8, lqi uint8, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.get(l2, now)
	t.touch(n, now)
	n.rx++
	n.rssi = rssi
	n.lqi = lqi
}

// recordTx folds one unicast transmission into the link estimate: ETX as an
// EWMA of attempts (a penalty when never acknowledged), and the average
// time spent on the air.
func (t *neighborTable) recordTx(l2 []byte, attempts int, acked bool, airtime time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.get(l2, now)
	if acked {
		t.touch(n, now)
	}
	n.tx += uint32(attempts)

	sample := uint32(etxNoAck)
	if acked {
		sample = uint32(attempts) * core.ETXDivisor
	}
	n.etx = uint16((uint32(n.etx)*(100-etxAlphaPct) + sample*etxAlphaPct) / 100)

	spent := airtime * time.Duration(attempts)
	if n.avgTx == 0 {
		n.avgTx = spent
	} else {
		n.avgTx = (n.avgTx*(100-avgTxAlphaPct) + spent*avgTxAlphaPct) / 100
	}
}

func (t *neighborTable) known(l2 []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.entries {
		if bytes.Equal(n.l2, l2) {
			return true
		}
	}
	return false
}

func (t *neighborTable) fresh(l2 []byte, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range t.entries {
		if bytes.Equal(n.l2, l2) {
			t.decay(n, now)
			return n.freshness >= FreshnessTarget
		}
	}
	return false
}

func (t *neighborTable) snapshot(now time.Time) []core.Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.Neighbor, 0, len(t.entries))
	for _, n := range t.entries {
		t.decay(n, now)
		out = append(out, core.Neighbor{
			L2Addr:    append([]byte(nil), n.l2...),
			Freshness: n.freshness,
			Fresh:     n.freshness >= FreshnessTarget,
			ETX:       n.etx,
			TxCount:   n.tx,
			RxCount:   n.rx,
			RSSI:      n.rssi,
			LQI:       n.lqi,
			AvgTxTime: n.avgTx,
		})
	}
	return out
}
