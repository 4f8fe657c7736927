package events

import (
	"context"
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

// Broker fans events out to in-process subscribers (the instructor SSE
// stream).  A subscriber that falls behind loses events rather than
// blocking the publisher.
type Broker struct {
	mu   sync.RWMutex
	subs map[int]chan SimulationCompleted
	next int
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan SimulationCompleted)}
}

// Subscribe registers a subscriber.  The returned cancel func removes it
// and closes the channel.
func (b *Broker) Subscribe() (<-chan SimulationCompleted, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan SimulationCompleted, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Publish implements Publisher.  It never fails.
func (b *Broker) Publish(_ context.Context, evt SimulationCompleted) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			slog.Warn("dropping event for slow subscriber", "subscriber", id, "simulation_id", evt.SimulationID)
		}
	}
	return nil
}

// Len reports the number of subscribers.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
