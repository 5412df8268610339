package miner

import "sync"

// subscriberBuffer is the per-subscriber channel capacity. A consumer
// further behind than this loses snapshots rather than stalling the miner.
const subscriberBuffer = 16

// Broadcaster fans progress snapshots out to any number of subscribers
// with non-blocking sends.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Progress
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Progress)}
}

// Subscribe registers a consumer. The returned cancel function closes the
// channel and removes the subscription.
func (b *Broadcaster) Subscribe() (<-chan Progress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Progress, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers a snapshot to every subscriber that has buffer space.
func (b *Broadcaster) Publish(p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
			// Slow consumer: drop rather than block the mining loop.
		}
	}
}
