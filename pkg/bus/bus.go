package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/chattyapp/chatty-server/pkg/observability/prometheus"
)

// Handler receives every payload published on the topic it is registered
// for, in publication order. Handlers must be synchronous and must not
// block; a panicking handler is isolated and logged, it never reaches the
// publisher.
type Handler func(payload interface{})

// Token identifies one registered handler. It is the only way to detach.
type Token struct {
	topic string
	id    uint64
}

// Publisher is the narrow capability handed to mutation resolvers.
type Publisher interface {
	Publish(topic string, payload interface{})
}

// Subscriber is the narrow capability handed to the subscription engine.
type Subscriber interface {
	Subscribe(topic string, h Handler) (Token, error)
	Unsubscribe(tok Token)
}

type entry struct {
	id uint64
	h  Handler
}

// Bus is a single-process, topic-keyed publish/subscribe fan-out.
// The topic set is fixed at construction; subscribing to an undeclared
// topic fails with INVALID_TOPIC.
//
// Thread-safety:
//   - mu protects the handler table
//   - Publish snapshots the handler slice under RLock and invokes the
//     handlers after releasing it, so registration never blocks delivery
//   - a handler registered during a Publish does not see that publication
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]entry
	nextID uint64
	log    zerolog.Logger
}

// New creates a bus over the given topic set.
func New(log zerolog.Logger, topics ...string) *Bus {
	b := &Bus{
		topics: make(map[string][]entry, len(topics)),
		log:    log.With().Str("component", "bus").Logger(),
	}
	for _, t := range topics {
		b.topics[t] = nil
	}
	return b
}

// Publish delivers payload to every handler registered on topic at the
// moment of the call. It returns after all handlers have run. Publishing
// on an undeclared topic is a no-op. Publish never fails.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	entries, ok := b.topics[topic]
	var snapshot []entry
	if ok && len(entries) > 0 {
		snapshot = make([]entry, len(entries))
		copy(snapshot, entries)
	}
	b.mu.RUnlock()

	if !ok {
		b.log.Warn().Str("topic", topic).Msg("publish on undeclared topic dropped")
		return
	}

	prometheus.GetMetrics().EventsPublished.WithLabelValues(topic).Inc()

	for _, e := range snapshot {
		b.invoke(topic, e.h, payload)
	}
}

// invoke runs one handler, isolating panics from the publisher and the
// remaining handlers.
func (b *Bus) invoke(topic string, h Handler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			prometheus.GetMetrics().HandlerPanics.Inc()
			b.log.Error().Str("topic", topic).Interface("panic", r).Msg("handler panicked")
		}
	}()
	h(payload)
}

// Subscribe registers h on topic and returns the detach token.
func (b *Bus) Subscribe(topic string, h Handler) (Token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[topic]; !ok {
		return Token{}, &Error{Code: "INVALID_TOPIC", Message: "topic not declared: " + topic}
	}
	b.nextID++
	tok := Token{topic: topic, id: b.nextID}
	b.topics[topic] = append(b.topics[topic], entry{id: tok.id, h: h})
	return tok, nil
}

// Unsubscribe detaches the handler identified by tok. It is idempotent;
// once it returns the handler will not be invoked for any subsequent
// publication.
func (b *Bus) Unsubscribe(tok Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.topics[tok.topic]
	if !ok {
		return
	}
	for i, e := range entries {
		if e.id == tok.id {
			b.topics[tok.topic] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// HandlerCount reports the number of handlers currently registered on
// topic. Used by lifecycle tests to verify no handler leaks.
func (b *Bus) HandlerCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Error is a bus error with a stable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
