package radio

import (
	"math/rand/v2"
	"time"

	"firestige.xyz/telenode/internal/core"
)

// trickle paces DIO transmissions: one send instant per interval, picked in
// the second half, suppressed once k consistent DIOs were heard. Intervals
// double from Imin up to Imax and fall back to Imin on inconsistency.
type trickle struct {
	imin      time.Duration
	doublings uint8
	k         uint8
	minExp    uint8
	rng       *rand.Rand

	i     time.Duration
	c     uint8
	start time.Time
	t     time.Time
	fired bool
}

func newTrickle(minExp, doublings, k uint8, rng *rand.Rand, now time.Time) *trickle {
	tr := &trickle{
		imin:      time.Duration(1<<minExp) * time.Millisecond,
		doublings: doublings,
		k:         k,
		minExp:    minExp,
		rng:       rng,
	}
	tr.reset(now)
	return tr
}

func (tr *trickle) imax() time.Duration { return tr.imin << tr.doublings }

func (tr *trickle) reset(now time.Time) {
	tr.i = tr.imin
	tr.begin(now)
}

func (tr *trickle) begin(now time.Time) {
	tr.start = now
	tr.c = 0
	tr.fired = false
	half := tr.i / 2
	tr.t = now.Add(half + time.Duration(tr.rng.Int64N(int64(half)+1)))
}

// heard counts a consistent DIO from a neighbor.
func (tr *trickle) heard() {
	if tr.c < 0xff {
		tr.c++
	}
}

// step advances the timer to now. It reports whether a DIO is due and how
// long until the next event.
func (tr *trickle) step(now time.Time) (send bool, next time.Duration) {
	if !tr.fired && !now.Before(tr.t) {
		tr.fired = true
		send = tr.k == 0 || tr.c < tr.k
	}
	if end := tr.start.Add(tr.i); !now.Before(end) {
		if tr.i < tr.imax() {
			tr.i *= 2
		}
		tr.begin(now)
	}
	return send, tr.until(now)
}

func (tr *trickle) until(now time.Time) time.Duration {
	at := tr.t
	if tr.fired {
		at = tr.start.Add(tr.i)
	}
	if d := at.Sub(now); d > time.Millisecond {
		return d
	}
	return time.Millisecond
}

// remaining is the time left until the next DIO send instant.
func (tr *trickle) remaining(now time.Time) time.Duration {
	if tr.fired {
		return tr.start.Add(tr.i).Sub(now) + tr.i/2
	}
	if d := tr.t.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (tr *trickle) surface(now time.Time) core.Trickle {
	return core.Trickle{
		MinInterval: uint32(1) << tr.minExp,
		Doublings:   tr.doublings,
		K:           tr.k,
		C:           tr.c,
		Remaining:   tr.remaining(now),
	}
}
