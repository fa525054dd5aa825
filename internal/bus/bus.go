// Package bus implements the Output Bus (C3): in-memory fan-out of
// per-channel byte chunks to subscribed clients, with a drop-oldest
// backpressure policy so a slow subscriber never stalls a producing
// PTY (§4.3, §5).
package bus

import "sync"

// maxSubscriberBytes and maxSubscriberChunks bound a single
// subscriber's queue; whichever limit is hit first triggers dropping
// (§4.3: "4 MiB or 1,024 chunks, whichever hits first").
const (
	maxSubscriberBytes  = 4 * 1024 * 1024
	maxSubscriberChunks = 1024
)

// Chunk is a fan-out unit: one channel's output, tagged with its
// per-channel sequence number (§3 OutputChunk).
type Chunk struct {
	Channel string
	Seq     uint64
	Bytes   []byte
}

// Subscriber is one session's bounded inbox. Producers push chunks;
// a session's own goroutine drains them and writes Output events to
// its socket. Pushes never block (§5: "producers never block on
// consumers") — when the queue is full, the oldest chunks are dropped.
type Subscriber struct {
	mu      sync.Mutex
	chunks  []Chunk
	bytes   int
	dropped map[string]uint64
	ready   chan struct{}
}

// NewSubscriber creates an empty, ready-to-use subscriber queue.
func NewSubscriber() *Subscriber {
	return &Subscriber{
		dropped: make(map[string]uint64),
		ready:   make(chan struct{}, 1),
	}
}

// Ready signals (non-blocking, coalesced) that the queue has new
// content or new drop notices to drain. The session's event pump
// selects on this alongside its shutdown signal.
func (s *Subscriber) Ready() <-chan struct{} { return s.ready }

// push appends a chunk and evicts the oldest entries until the
// subscriber is back within its bounds, recording dropped bytes
// per channel for the next DropNotice.
func (s *Subscriber) push(c Chunk) {
	s.mu.Lock()
	s.chunks = append(s.chunks, c)
	s.bytes += len(c.Bytes)
	for len(s.chunks) > 0 && (len(s.chunks) > maxSubscriberChunks || s.bytes > maxSubscriberBytes) {
		oldest := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.bytes -= len(oldest.Bytes)
		s.dropped[oldest.Channel] += uint64(len(oldest.Bytes))
	}
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Drain empties the queue, returning the chunks in emission order and
// any per-channel drop counters accumulated since the last Drain. Both
// return values are nil when there is nothing to report.
func (s *Subscriber) Drain() (chunks []Chunk, dropped map[string]uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks = s.chunks
	s.chunks = nil
	s.bytes = 0

	if len(s.dropped) > 0 {
		dropped = s.dropped
		s.dropped = make(map[string]uint64)
	}
	return chunks, dropped
}

// subscription tracks which channels a Subscriber currently wants
// output for. Wildcard is sticky: per §14 of SPEC_FULL.md, it auto-
// includes channels created after the Subscribe call, so it is stored
// as a flag rather than a name snapshot.
type subscription struct {
	wildcard bool
	names    map[string]bool
}

func (s *subscription) wants(channel string) bool {
	if s.wildcard {
		return true
	}
	return s.names[channel]
}

// Bus fans out channel output to every subscriber whose subscription
// matches. It holds no reference to session or socket types — those
// live in internal/server, which owns a Subscriber per session.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscriber]*subscription
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]*subscription)}
}

// Register adds a subscriber with an empty subscription set. Call
// Subscribe afterward to add channels or the wildcard.
func (b *Bus) Register(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = &subscription{names: make(map[string]bool)}
}

// Unregister removes a subscriber entirely, e.g. on session disconnect
// (§5: "Disconnecting a session ... drops its subscription queues
// without affecting other sessions").
func (b *Bus) Unregister(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
}

// Subscribe adds names (or sets the sticky wildcard) to sub's
// subscription set. Idempotent under repeated union (§3 SubscriptionSet).
func (b *Bus) Subscribe(sub *Subscriber, names []string, wildcard bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[sub]
	if !ok {
		return
	}
	if wildcard {
		s.wildcard = true
		return
	}
	for _, name := range names {
		s.names[name] = true
	}
}

// Unsubscribe removes names (or clears the wildcard) from sub's
// subscription set. `Subscribe(*)` followed by `Unsubscribe(*)` must
// return the set to empty (§8), so clearing the wildcard also clears
// any names accumulated while it was set.
func (b *Bus) Unsubscribe(sub *Subscriber, names []string, wildcard bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[sub]
	if !ok {
		return
	}
	if wildcard {
		s.wildcard = false
		s.names = make(map[string]bool)
		return
	}
	for _, name := range names {
		delete(s.names, name)
	}
}

// Subscriptions returns a snapshot of sub's current explicit names and
// wildcard flag.
func (b *Bus) Subscriptions(sub *Subscriber) (names []string, wildcard bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.subs[sub]
	if !ok {
		return nil, false
	}
	for name := range s.names {
		names = append(names, name)
	}
	return names, s.wildcard
}

// Publish fans a channel's output chunk out to every subscriber whose
// subscription matches, in emission order per (channel, subscriber)
// pair (§5). Zero-byte chunks are never emitted (§8 boundary).
func (b *Bus) Publish(channel string, seq uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	chunk := Chunk{Channel: channel, Seq: seq, Bytes: data}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub, s := range b.subs {
		if s.wants(channel) {
			sub.push(chunk)
		}
	}
}

// PruneChannel removes channel from every subscriber's explicit name
// set (§3 invariant iii: names are pruned at kill time). Wildcard
// subscriptions are untouched and still match the name; the caller is
// responsible for not publishing to a killed channel again.
func (b *Bus) PruneChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		delete(s.names, channel)
	}
}
