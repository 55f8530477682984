// Package eventbus is the thin in-process broker of spec.md §4.1: three
// topics (PendingDepositChanged, PoolingTick, MatchTick), broadcast
// within a topic, at-most-once per subscriber, bounded queue with
// oldest-drop on overflow. Events carry only identifiers; every receiver
// re-reads authoritative state, which is what makes replaying (or
// dropping) an event safe.
//
// Shape mirrors the classic go-ethereum event.Feed API (Subscribe
// returns a channel and an unsubscribe handle; Publish fans out) visible
// through _examples/ethereum-go-ethereum/event/feed_test.go, but the
// delivery policy is inverted: Feed blocks the sender until every
// subscriber has received the value, whereas spec.md §4.1 requires the
// producer to never block on a slow consumer. That single difference is
// why this is a fresh implementation rather than an import of
// go-ethereum's event package.
package eventbus

import (
	"context"
	"strconv"
	"sync"
)

// DefaultQueueSize is the default per-subscriber buffer depth.
const DefaultQueueSize = 256

// DropObserver is notified whenever Publish has to drop a stale event to
// make room for a new one, so the drop stays observable (spec.md §7:
// component tasks must publish an observability event on trouble, and
// silent backpressure drops are exactly that kind of trouble).
type DropObserver func(topic string, subscriber string)

// Bus is a single topic of type T.
type Bus[T any] struct {
	name      string
	queueSize int
	onDrop    DropObserver

	mu   sync.Mutex
	subs map[*subscription[T]]struct{}
	next int
}

type subscription[T any] struct {
	id  int
	ch  chan T
	bus interface{ unsubscribe(int) }
}

// New creates a topic named name (used only for observability labels),
// with the given per-subscriber queue size (DefaultQueueSize if <= 0).
func New[T any](name string, queueSize int, onDrop DropObserver) *Bus[T] {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus[T]{
		name:      name,
		queueSize: queueSize,
		onDrop:    onDrop,
		subs:      make(map[*subscription[T]]struct{}),
	}
}

// Subscribe returns a channel of future published events and an
// unsubscribe function. The channel is closed once Unsubscribe is called;
// callers must stop reading from it at that point. Subscribing does not
// replay past events.
func (b *Bus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	b.mu.Lock()
	b.next++
	sub := &subscription[T]{id: b.next, ch: make(chan T, b.queueSize)}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[sub]; ok {
				delete(b.subs, sub)
				close(sub.ch)
			}
			b.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			unsubscribe()
		}()
	}

	return sub.ch, unsubscribe
}

// Publish fans out v to every current subscriber without blocking. A
// subscriber whose queue is already full has its oldest queued event
// dropped to make room — the producer always proceeds.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		b.deliver(sub, v)
	}
}

func (b *Bus[T]) deliver(sub *subscription[T], v T) {
	select {
	case sub.ch <- v:
		return
	default:
	}
	// Queue full: drop the oldest queued event, then try once more. If a
	// concurrent reader drained a slot between the drop and the retry,
	// the retry still succeeds; if the channel somehow refills (it can't,
	// callers only ever hold the bus lock while publishing) the event is
	// simply dropped.
	select {
	case <-sub.ch:
		if b.onDrop != nil {
			b.onDrop(b.name, strconv.Itoa(sub.id))
		}
	default:
	}
	select {
	case sub.ch <- v:
	default:
	}
}

// SubscriberCount reports how many active subscribers the topic has, for
// diagnostics/tests.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
