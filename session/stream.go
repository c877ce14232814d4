package session

import (
	"sync"

	"github.com/srg/instep/insole"
	"github.com/srg/instep/internal/ring"
)

// Subscription is one consumer's view of the session event stream. Events
// begin at subscription time; nothing is replayed. The channel closes when
// the consumer cancels or the session reaches a terminal state, always
// after the final StateChange was delivered.
type Subscription struct {
	ring *ring.Ring[insole.Event]
	bc   *broadcaster
	once sync.Once
}

// Events returns the receive channel. Consumers may range over it.
func (s *Subscription) Events() <-chan insole.Event {
	return s.ring.C()
}

// Cancel detaches the subscription and closes its channel. Buffered events
// stay readable. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bc.remove(s)
		s.ring.Close()
	})
}

// Dropped reports how many events this consumer lost by falling behind.
func (s *Subscription) Dropped() int64 {
	return s.ring.Stats().Dropped
}

// broadcaster fans events out to subscribers. Publishing never blocks:
// each subscriber owns a bounded drop-oldest buffer.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[*Subscription]struct{})}
}

func (b *broadcaster) subscribe(buffer int) *Subscription {
	s := &Subscription{ring: ring.New[insole.Event](buffer), bc: b}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		// Late subscriber on a finished session: hand back an already
		// closed, empty stream.
		s.Cancel()
		return s
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// publish delivers ev to every live subscriber and reports how many
// buffers overflowed. Puts happen under the lock: a ring must never
// receive a Put concurrent with its Close, and Cancel closes rings only
// after taking the same lock to detach.
func (b *broadcaster) publish(ev insole.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	dropped := 0
	for s := range b.subs {
		if s.ring.Put(ev) {
			dropped++
		}
	}
	return dropped
}

// close ends the stream for every subscriber. Idempotent.
func (b *broadcaster) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	targets := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.Cancel()
	}
}
