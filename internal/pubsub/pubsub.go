// Package pubsub is the in-process topic bus the signaling server fans
// messages out on. Each room id is a topic; every connection in the room holds
// a subscription and receives everything published to it, including messages
// triggered by its own actions.
package pubsub

import (
	"sync"
)

// Subscription receives messages for one topic. C yields payloads in publish
// order. When the subscriber cannot keep up and its buffer is full, further
// publishes to it are dropped rather than blocking the publisher.
type Subscription struct {
	bus   *Bus
	topic string
	ch    chan []byte

	once sync.Once
}

// C is the receive channel. It is closed when the subscription is cancelled.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Cancel detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		s.bus.removeLocked(s)
		close(s.ch)
	})
}

// Bus is a topic-keyed broadcast bus. Topics exist exactly as long as they
// have subscribers.
type Bus struct {
	mu      sync.Mutex
	topics  map[string]map[*Subscription]struct{}
	bufSize int

	// onDrop, if set, is called once per subscriber that missed a message.
	onDrop func(topic string)
}

// New returns a Bus whose subscriptions buffer up to bufSize messages.
func New(bufSize int, onDrop func(topic string)) *Bus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &Bus{
		topics:  make(map[string]map[*Subscription]struct{}),
		bufSize: bufSize,
		onDrop:  onDrop,
	}
}

// Subscribe attaches to a topic, creating it if needed.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		bus:   b,
		topic: topic,
		ch:    make(chan []byte, b.bufSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers payload to every current subscriber of the topic. Delivery
// is fire and forget: a subscriber with a full buffer is skipped. The payload
// must not be mutated by the caller afterwards.
func (b *Bus) Publish(topic string, payload []byte) {
	b.PublishExcept(topic, payload, nil)
}

// PublishExcept is Publish minus one subscriber, typically the connection the
// message originated from.
//
// Sends happen under the bus lock so a concurrent Cancel cannot close a
// channel mid-send; they never block because the channels are buffered and a
// full buffer is a drop.
func (b *Bus) PublishExcept(topic string, payload []byte, except *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.topics[topic] {
		if sub == except {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			if b.onDrop != nil {
				b.onDrop(topic)
			}
		}
	}
}

// Subscribers reports how many subscriptions a topic currently has.
func (b *Bus) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

func (b *Bus) removeLocked(sub *Subscription) {
	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}
