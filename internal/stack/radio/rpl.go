package radio

import (
	"bytes"
	"math/rand/v2"
	"net/netip"
	"sort"
	"sync"
	"time"

	"firestige.xyz/telenode/internal/core"
)

const (
	// InfiniteRank marks a node that is not part of a DODAG.
	InfiniteRank = 0xffff

	// Storing mode without multicast, objective function zero.
	defaultMOP = 2
	defaultOCP = 0
)

type parent struct {
	l2   []byte
	addr netip.Addr
	rank uint16
}

// rplState is the routing state of one radio: a single instance, its DODAG
// membership, a ranked parent set and per frame type counters.
type rplState struct {
	mu sync.Mutex

	root          bool
	instanceID    uint8
	iface         int
	minHopRankInc uint16
	dodagID       netip.Addr

	joined   bool
	rank     uint16
	parents  []parent
	trickle  *trickle
	daoAcked bool

	stats [core.NumFrameTypes]core.RPLFrameStats
}

func newRPLState(opts Options, rng *rand.Rand, now time.Time) *rplState {
	s := &rplState{
		root:          opts.Root,
		instanceID:    opts.InstanceID,
		iface:         opts.Iface,
		minHopRankInc: opts.MinHopRankInc,
		dodagID:       opts.DODAGID,
		rank:          InfiniteRank,
		trickle:       newTrickle(opts.DIOIntervalMin, opts.DIODoublings, opts.DIORedundancy, rng, now),
	}
	if s.root {
		s.joined = true
		s.rank = s.minHopRankInc
		s.daoAcked = true
	}
	return s
}

func (s *rplState) count(f *frame, tx bool) {
	ft, ok := f.kind.frameType()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.stats[ft]
	n := uint64(f.controlSize())
	switch {
	case tx && f.broadcast():
		st.Packets.TxMcast++
		st.Bytes.TxMcast += n
	case tx:
		st.Packets.TxUcast++
		st.Bytes.TxUcast += n
	case f.broadcast():
		st.Packets.RxMcast++
		st.Bytes.RxMcast += n
	default:
		st.Packets.RxUcast++
		st.Bytes.RxUcast += n
	}
}

func (s *rplState) isJoined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// dio returns the fields of the DIO this node advertises.
func (s *rplState) dio() (instance uint8, dodag netip.Addr, rank uint16, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID, s.dodagID, s.rank, s.joined
}

// preferred returns the best parent.
func (s *rplState) preferred() (parent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.parents) == 0 {
		return parent{}, false
	}
	return s.parents[0], true
}

// onDIO processes an advertisement. It reports whether the preferred parent
// or rank changed, in which case a DAO is due.
func (s *rplState) onDIO(f *frame, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.instance != s.instanceID {
		return false
	}
	if s.root {
		if f.dodag == s.dodagID {
			s.trickle.heard()
		}
		return false
	}
	if s.joined && f.dodag != s.dodagID {
		return false
	}

	oldRank := s.rank
	var oldPref []byte
	if len(s.parents) > 0 {
		oldPref = s.parents[0].l2
	}

	s.removeParent(f.src)
	if f.rank != InfiniteRank && (!s.joined || f.rank < s.rank) {
		s.parents = append(s.parents, parent{l2: append([]byte(nil), f.src...), addr: f.srcIP, rank: f.rank})
		s.dodagID = f.dodag
	} else if s.joined && f.rank >= s.rank {
		s.trickle.heard()
	}
	s.recompute(now)

	changed := s.rank != oldRank
	if len(s.parents) > 0 && !bytes.Equal(s.parents[0].l2, oldPref) {
		changed = true
	}
	if changed {
		s.daoAcked = false
	}
	return changed
}

func (s *rplState) removeParent(l2 []byte) {
	for i, p := range s.parents {
		if bytes.Equal(p.l2, l2) {
			s.parents = append(s.parents[:i], s.parents[i+1:]...)
			return
		}
	}
}

// recompute ranks the parent set and derives this node's rank from the best
// parent. Parents not strictly better than the new rank are dropped.
func (s *rplState) recompute(now time.Time) {
	sort.SliceStable(s.parents, func(i, j int) bool { return s.parents[i].rank < s.parents[j].rank })
	if len(s.parents) > core.MaxRPLParents {
		s.parents = s.parents[:core.MaxRPLParents]
	}
	if len(s.parents) == 0 {
		if s.joined {
			s.trickle.reset(now)
		}
		s.joined = false
		s.rank = InfiniteRank
		return
	}

	rank := s.parents[0].rank + s.minHopRankInc
	if rank < s.parents[0].rank {
		rank = InfiniteRank - 1
	}
	kept := s.parents[:0]
	for _, p := range s.parents {
		if p.rank < rank {
			kept = append(kept, p)
		}
	}
	s.parents = kept
	if !s.joined || rank != s.rank {
		s.trickle.reset(now)
	}
	s.joined = true
	s.rank = rank
}

// prune drops parents whose link went stale.
func (s *rplState) prune(fresh func([]byte) bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root || len(s.parents) == 0 {
		return
	}
	kept := s.parents[:0]
	for _, p := range s.parents {
		if fresh(p.l2) {
			kept = append(kept, p)
		}
	}
	if len(kept) != len(s.parents) {
		s.parents = kept
		s.recompute(now)
	}
}

// onDIS answers a solicitation by restarting the trickle timer.
func (s *rplState) onDIS(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.joined {
		s.trickle.reset(now)
	}
}

func (s *rplState) onDAOAck() {
	s.mu.Lock()
	s.daoAcked = true
	s.mu.Unlock()
}

func (s *rplState) needsDAO() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined && !s.root && !s.daoAcked
}

// tick advances the trickle timer; it reports whether a DIO is due and the
// delay until the next timer event.
func (s *rplState) tick(now time.Time) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	send, next := s.trickle.step(now)
	return send && s.joined, next
}

func (s *rplState) snapshot(now time.Time) core.RoutingSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap core.RoutingSnapshot
	snap.Stats = s.stats
	if !s.joined {
		return snap
	}
	snap.Instances[0] = core.RPLInstance{
		Used:          true,
		ID:            s.instanceID,
		Iface:         s.iface,
		MOP:           defaultMOP,
		OCP:           defaultOCP,
		MinHopRankInc: s.minHopRankInc,
		MaxRankInc:    0,
		DODAG: core.DODAG{
			ID:      s.dodagID,
			Rank:    s.rank,
			Leaf:    false,
			PIO:     true,
			Trickle: s.trickle.surface(now),
		},
	}
	for i, p := range s.parents {
		snap.Parents[i] = core.RPLParent{Used: true, InstanceID: s.instanceID, Addr: p.addr, Rank: p.rank}
	}
	return snap
}
