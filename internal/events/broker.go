// Package events fans job transitions out to stream subscribers.
package events

import (
	"sync"
)

// Event is one message on a topic; topics are job IDs.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Broker is implemented by the in-process broker and the Redis broker.
type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
	Close() error
}

// Memory delivers events within one process. Slow subscribers drop events.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of open subscriptions on topic.
func (b *Memory) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, m := range b.subs {
		for ch := range m {
			close(ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
