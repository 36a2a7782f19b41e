package server

import "sync"

// Feed topics.
const (
	TopicPublic = "public"
	TopicAdmin  = "admin"
)

// Broker is an in-process pub/sub for serialized feed snapshots, keyed by
// topic.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives every payload published to topic.
func (b *Broker) Subscribe(topic string) chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan []byte]struct{})
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a channel from the topic's subscribers.
func (b *Broker) Unsubscribe(topic string, ch chan []byte) {
	b.mu.Lock()
	delete(b.subs[topic], ch)
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
	b.mu.Unlock()
}

// Publish sends data to all subscribers of topic and returns how many
// received it.
func (b *Broker) Publish(topic string, data []byte) int {
	n := 0
	b.mu.RLock()
	for ch := range b.subs[topic] {
		select {
		case ch <- data:
			n++
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
	return n
}

// Subscribers reports the number of subscribers of topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
