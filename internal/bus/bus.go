package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultHistorySize is the number of recent events kept for replay.
	DefaultHistorySize = 1000

	// DefaultChannelBuffer is the queue length of each subscription.
	DefaultChannelBuffer = 256
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(event Event) error
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) error { return nil }

// SubscriptionID identifies a subscription.
type SubscriptionID string

type subscription struct {
	id       SubscriptionID
	wildcard bool
	match    func(Event) bool
	handler  func(Event)
	queue    chan Event
	wake     chan struct{}
	done     chan struct{}

	// backlog holds human-gate events that did not fit in queue. While it
	// is non-empty queue is bypassed so order is kept, and other events
	// are dropped.
	mu      sync.Mutex
	backlog []Event
}

// mustDeliver reports whether an event type carries a question or a plan
// the user has to answer. Those are never dropped.
func mustDeliver(t EventType) bool {
	return t == EventAskUser || t == EventPresentPlan
}

// deliver queues e and reports false if it had to be dropped.
func (s *subscription) deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backlog) == 0 {
		select {
		case s.queue <- e:
			return true
		default:
		}
	}
	if !mustDeliver(e.Type) {
		return false
	}
	s.backlog = append(s.backlog, e)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *subscription) popBacklog() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.backlog) == 0 {
		return Event{}, false
	}
	e := s.backlog[0]
	s.backlog[0] = Event{}
	s.backlog = s.backlog[1:]
	return e, true
}

// Bus fans planning events out to subscribers and keeps a bounded history.
// Every subscription is served by its own goroutine: a handler sees events
// in publish order and a slow handler never blocks Publish. Events that do
// not fit in a full queue are dropped and counted, except ask_user and
// present_plan which wait in an unbounded backlog.
type Bus struct {
	mu      sync.RWMutex
	subs    map[SubscriptionID]*subscription
	history []Event
	limit   int

	seq     atomic.Uint64
	dropped atomic.Uint64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// NewBus creates a bus with the default history size.
func NewBus() *Bus {
	return NewBusWithConfig(DefaultHistorySize)
}

// NewBusWithConfig creates a bus retaining historySize events.
func NewBusWithConfig(historySize int) *Bus {
	if historySize < 0 {
		historySize = 0
	}
	return &Bus{
		subs:    make(map[SubscriptionID]*subscription),
		history: make([]Event, 0, historySize),
		limit:   historySize,
	}
}

// Subscribe registers handler for one event type. EventType("") receives
// every event. A closed bus returns an empty id.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	if eventType == "" {
		return b.add(true, func(Event) bool { return true }, handler)
	}
	return b.add(false, func(e Event) bool { return e.Type == eventType }, handler)
}

// SubscribeRequest registers handler for every event of one session.
func (b *Bus) SubscribeRequest(requestID string, handler func(Event)) SubscriptionID {
	return b.add(false, func(e Event) bool { return e.RequestID == requestID }, handler)
}

func (b *Bus) add(wildcard bool, match func(Event) bool, handler func(Event)) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ""
	}

	sub := &subscription{
		id:       SubscriptionID(fmt.Sprintf("sub_%d", b.seq.Add(1))),
		wildcard: wildcard,
		match:    match,
		handler:  handler,
		queue:    make(chan Event, DefaultChannelBuffer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go b.serve(sub)
	return sub.id
}

func (b *Bus) serve(sub *subscription) {
	defer b.wg.Done()
	for {
		// The queue always holds older events than the backlog.
		select {
		case e := <-sub.queue:
			sub.handler(e)
			continue
		case <-sub.done:
			return
		default:
		}
		if e, ok := sub.popBacklog(); ok {
			sub.handler(e)
			continue
		}
		select {
		case e := <-sub.queue:
			sub.handler(e)
		case <-sub.wake:
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe stops a subscription. Queued events are discarded.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}
	sub, ok := b.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subs, id)
	close(sub.done)
	return nil
}

// Publish records event and queues it for every matching subscription.
func (b *Bus) Publish(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		return ErrClosed
	}

	if b.limit > 0 {
		if len(b.history) == b.limit {
			copy(b.history, b.history[1:])
			b.history = b.history[:b.limit-1]
		}
		b.history = append(b.history, event)
	}

	for _, sub := range b.subs {
		if !sub.match(event) {
			continue
		}
		if !sub.deliver(event) {
			b.dropped.Add(1)
			log.Warn().Str("subscription", string(sub.id)).Str("event", string(event.Type)).Msg("subscriber queue full, event dropped")
		}
	}
	return nil
}

// History returns the last n retained events, oldest first. n <= 0 returns all.
func (b *Bus) History(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// ForRequest returns the retained events of one session, oldest first.
func (b *Bus) ForRequest(requestID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.history {
		if e.RequestID == requestID {
			out = append(out, e)
		}
	}
	return out
}

// Dropped returns how many deliveries were skipped because a queue was full.
// Human-gate events are never counted here.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriptionsCount returns the number of active subscriptions.
func (b *Bus) SubscriptionsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// WildcardSubscriptionsCount returns the number of subscriptions to every event.
func (b *Bus) WildcardSubscriptionsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, sub := range b.subs {
		if sub.wildcard {
			n++
		}
	}
	return n
}

// Close stops every subscription and waits for running handlers to return.
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.closed.CompareAndSwap(false, true) {
		b.mu.Unlock()
		return ErrClosed
	}
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
