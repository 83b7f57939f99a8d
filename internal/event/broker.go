package event

import "sync"

// subscriberBufferSize is the channel buffer for each subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Compile-time interface satisfaction check.
var _ Publisher = (*Broker)(nil)

// Broker fans events out to per-run topics and to global subscribers.
// Publish never blocks on subscribers. It is safe for concurrent use.
//
// Closed run topics are retained as markers so that late subscribers (those
// subscribing after a run finishes) receive a closed channel instead of
// blocking forever.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
	global map[int]*subscriber
	nextID int
	closed bool
}

type topic struct {
	subs   map[int]chan Event
	nextID int
	closed bool
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
		global: make(map[int]*subscriber),
	}
}

// Subscribe returns a channel that receives the events of one run and an
// unsubscribe function. If the run has already finished (Close was called),
// the returned channel is immediately closed.
func (b *Broker) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &topic{subs: make(map[int]chan Event)}
		b.topics[runID] = t
	}

	ch := make(chan Event, subscriberBufferSize)
	if t.closed || b.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// SubscribeAll returns a channel receiving every event accepted by filter,
// across all runs and executor lifecycle changes. The channel stays open until
// the unsubscribe function is called or the broker is shut down.
func (b *Broker) SubscribeAll(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.global[id] = &subscriber{ch: ch, filter: filter}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.global[id]; ok {
			delete(b.global, id)
			close(s.ch)
		}
	}
}

// Publish delivers an event to global subscribers and, for run events, to
// the run's topic. Events are dropped for subscribers whose buffers are full.
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, s := range b.global {
		if s.filter != nil && !s.filter(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
		}
	}

	if ev.RunID == "" {
		return
	}
	t, ok := b.topics[ev.RunID]
	if !ok || t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close signals that no more events will be published for the given run.
// Its subscriber channels are closed and future Subscribe calls for the run
// return a closed channel.
func (b *Broker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		b.topics[runID] = &topic{subs: make(map[int]chan Event), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// Shutdown closes every subscriber channel and stops delivery. It is
// idempotent.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, s := range b.global {
		close(s.ch)
		delete(b.global, id)
	}
	for _, t := range b.topics {
		t.closed = true
		for id, ch := range t.subs {
			close(ch)
			delete(t.subs, id)
		}
	}
}
