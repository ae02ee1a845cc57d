// Package relay streams live run events to SSE clients.
package relay

import (
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Feeds published during a run.
const (
	FeedRun      = "run"
	FeedScenario = "scenario"
	FeedExchange = "exchange"
)

// Event is one SSE message. Payload is already-encoded JSON.
type Event struct {
	ID      int64
	Feed    string
	RunID   string
	Payload string
}

// Broker fans events out to subscribers. Slow subscribers lose events
// rather than stall the run.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	nextEvent   atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]chan Event)}
}

// Subscribe registers a client and returns its id and buffered channel.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish stamps evt with the next event id and offers it to every client.
func (b *Broker) Publish(evt Event) {
	evt.ID = b.nextEvent.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
