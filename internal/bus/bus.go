// Package bus is a small typed pub/sub channel. Emitters publish without
// knowing who, or whether anyone, is listening; slow subscribers lose
// events rather than blocking the publisher.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID        string
	Topic     string
	Timestamp time.Time
	Payload   any
}

// Bus fans events out to per-topic subscriber channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	bufferSize  int
	dropped     atomic.Int64
	closed      bool
	logger      *zap.Logger
}

func New(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Bus{
		subscribers: make(map[string][]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.Named("bus"),
	}
}

// Publish delivers an event to every subscriber of the topic. Full
// subscriber buffers drop the event; publishing never blocks.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	subs := b.subscribers[topic]
	if len(subs) == 0 {
		return
	}

	ev := Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
			b.logger.Debug("subscriber buffer full, event dropped", zap.String("topic", topic))
		}
	}
}

// Subscribe returns a receive channel for the given topics and an
// unsubscribe func. The channel is closed by Close or by unsubscribing.
func (b *Bus) Subscribe(topics ...string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	for _, topic := range topics {
		b.subscribers[topic] = append(b.subscribers[topic], ch)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, topic := range topics {
				subs := b.subscribers[topic]
				for i, sub := range subs {
					if sub == ch {
						b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
				if len(b.subscribers[topic]) == 0 {
					delete(b.subscribers, topic)
				}
			}
			if !b.closed {
				close(ch)
			}
		})
	}
	return ch, unsubscribe
}

// Dropped reports how many events were lost to full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close shuts the bus down and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	seen := make(map[chan Event]struct{})
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			if _, ok := seen[ch]; !ok {
				seen[ch] = struct{}{}
				close(ch)
			}
		}
	}
	b.subscribers = make(map[string][]chan Event)
}
