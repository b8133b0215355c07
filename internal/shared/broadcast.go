package shared

import "sync"

// Broadcast fans a value out to any number of subscribers. A subscriber
// that joins late receives the latest value first. Slow subscribers only
// ever see the newest value; intermediate ones are dropped.
type Broadcast[T any] struct {
	mu     sync.Mutex
	latest *T
	subs   map[chan T]struct{}
	closed bool
}

func NewBroadcast[T any]() *Broadcast[T] {
	return &Broadcast[T]{subs: map[chan T]struct{}{}}
}

// Publish stores value as the latest and offers it to every subscriber.
func (b *Broadcast[T]) Publish(value T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = &value
	for ch := range b.subs {
		offer(ch, value)
	}
}

// Subscribe returns a channel of values and a function that cancels the
// subscription.
func (b *Broadcast[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.latest != nil {
		ch <- *b.latest
	}
	b.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Latest returns the most recently published value.
func (b *Broadcast[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		var zero T
		return zero, false
	}
	return *b.latest, true
}

// Close ends every subscription.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func offer[T any](ch chan T, value T) {
	select {
	case ch <- value:
		return
	default:
	}
	// Drop the stale value so the newest one fits.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}
