// Package dispatch routes packet chains by payload type and demultiplexing
// context: inbound chains fan out to every matching subscriber inbox, outbound
// chains go to exactly one transmitter.
package dispatch

import (
	"context"
	"fmt"
	"math"

	"github.com/cornelk/hashmap"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/telenode/internal/core"
	"firestige.xyz/telenode/internal/log"
	"firestige.xyz/telenode/internal/metrics"
	"firestige.xyz/telenode/internal/pktbuf"
	"firestige.xyz/telenode/internal/record"
	"firestige.xyz/telenode/internal/sink"
)

// Wildcard subscribes to every demultiplexing context of a payload type.
const Wildcard uint32 = math.MaxUint32

// Transmitter is the single outbound target for a payload type. On success
// it owns the chain; on failure ownership stays with the caller.
type Transmitter interface {
	Transmit(ctx context.Context, c *pktbuf.Chain) (int, error)
}

// entries is an immutable subscriber list; registration swaps in a copy.
type entries struct {
	inboxes []*Inbox
}

// Registry maps (payload type, demux context) to subscriber inboxes.
// Subscribers are only ever added; lookups never take a lock.
type Registry struct {
	table        hashmap.HashMap // key -> *entries
	transmitters hashmap.HashMap // proto -> Transmitter
	capacity     int
	out          sink.Emitter
}

// NewRegistry creates a registry whose inboxes hold capacity chains.
// Rejected deliveries are reported to out when it is non-nil.
func NewRegistry(capacity int, out sink.Emitter) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{capacity: capacity, out: out}
}

func key(proto core.Proto, demux uint32) string {
	return fmt.Sprintf("%d/%d", proto, demux)
}

// Register installs a subscriber and returns its inbox. Registering the same
// pair twice yields two inboxes and duplicate delivery.
func (r *Registry) Register(proto core.Proto, demux uint32) *Inbox {
	in := newInbox(proto, demux, r.capacity)
	k := key(proto, demux)
	for {
		cur, ok := r.table.GetStringKey(k)
		if !ok {
			if _, loaded := r.table.GetOrInsert(k, &entries{inboxes: []*Inbox{in}}); !loaded {
				break
			}
			continue
		}
		old := cur.(*entries)
		next := &entries{inboxes: make([]*Inbox, 0, len(old.inboxes)+1)}
		next.inboxes = append(append(next.inboxes, old.inboxes...), in)
		if r.table.Cas(k, old, next) {
			break
		}
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"proto": proto.String(),
		"demux": demuxString(demux),
	}).Debug("subscriber registered")
	return in
}

func (r *Registry) lookup(proto core.Proto, demux uint32) []*Inbox {
	v, ok := r.table.GetStringKey(key(proto, demux))
	if !ok {
		return nil
	}
	return v.(*entries).inboxes
}

// Subscribers returns the number of inboxes a chain of proto/demux would reach.
func (r *Registry) Subscribers(proto core.Proto, demux uint32) int {
	n := len(r.lookup(proto, Wildcard))
	if demux != Wildcard {
		n += len(r.lookup(proto, demux))
	}
	return n
}

// Dispatch delivers c to every inbox subscribed to its payload type with a
// matching or wildcard context. Each delivery adds a holder; the caller keeps
// its own and releases it as usual. A zero return leaves the chain untouched.
func (r *Registry) Dispatch(c *pktbuf.Chain) int {
	proto := c.Proto()
	demux := DemuxContext(c)

	targets := r.lookup(proto, demux)
	if demux != Wildcard {
		targets = append(append([]*Inbox(nil), targets...), r.lookup(proto, Wildcard)...)
	}
	if len(targets) == 0 {
		metrics.DispatchUnmatchedTotal.WithLabelValues(proto.String()).Inc()
		log.GetLogger().WithError(core.ErrNoSubscriber).Debugf("nobody wanted %s chain for context %d", proto, demux)
		return 0
	}

	delivered := 0
	for _, in := range targets {
		c.Retain()
		if in.offer(c) {
			delivered++
			continue
		}
		c.Release()
		r.reject(in, demux)
	}
	metrics.DispatchDeliveredTotal.WithLabelValues(proto.String()).Add(float64(delivered))
	return delivered
}

// reject handles a full inbox: the new delivery is dropped, older ones stay.
func (r *Registry) reject(in *Inbox, demux uint32) {
	err := fmt.Errorf("%w: %s inbox for context %s holds %d chains", core.ErrInboxFull, in.proto, demuxString(in.demux), in.Len())
	metrics.InboxRejectedTotal.WithLabelValues(in.proto.String()).Inc()
	log.GetLogger().WithError(err).Warnf("delivery for context %d rejected", demux)
	if r.out != nil {
		r.out.Emit(record.ErrorFrom(err))
	}
}

// SetTransmitter designates the outbound target for proto, replacing any previous one.
func (r *Registry) SetTransmitter(proto core.Proto, t Transmitter) {
	r.transmitters.Set(proto.String(), t)
}

// SendViaStack hands c to the transmitter for proto.
func (r *Registry) SendViaStack(ctx context.Context, c *pktbuf.Chain, proto core.Proto) (int, error) {
	v, ok := r.transmitters.GetStringKey(proto.String())
	if !ok {
		return 0, fmt.Errorf("%w: no transmitter for %s", core.ErrNoSubscriber, proto)
	}
	return v.(Transmitter).Transmit(ctx, c)
}

// DemuxContext is the transport destination port of c, or 0 without a transport header.
func DemuxContext(c *pktbuf.Chain) uint32 {
	seg, ok := c.Find(core.KindTransport)
	if !ok {
		return 0
	}
	var udp layers.UDP
	if err := udp.DecodeFromBytes(seg.Bytes, gopacket.NilDecodeFeedback); err != nil {
		return 0
	}
	return uint32(udp.DstPort)
}

func demuxString(demux uint32) string {
	if demux == Wildcard {
		return "*"
	}
	return fmt.Sprintf("%d", demux)
}
