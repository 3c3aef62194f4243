package event

import (
	"context"
	"sync"

	"github.com/HerbHall/roomsense/pkg/plugin"
	"go.uber.org/zap"
)

// DefaultQueueSize bounds a queue subscription when the caller passes 0.
const DefaultQueueSize = 1024

// Queue is a bounded, ordered subscription to a single topic. Events are
// delivered in publish order; when the queue is full the oldest event is
// dropped and counted. Close releases the subscription.
type Queue struct {
	topic string
	size  int

	mu      sync.Mutex
	items   []plugin.Event
	notify  chan struct{}
	closed  bool
	dropped uint64

	unsubscribe func()
	logger      *zap.Logger
	warnedFull  bool
}

// SubscribeQueue registers a bounded queue subscription for one topic.
// The caller must Close the queue when done or the subscription leaks.
func (b *Bus) SubscribeQueue(topic string, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		topic:  topic,
		size:   size,
		items:  make([]plugin.Event, 0, size),
		notify: make(chan struct{}, 1),
		logger: b.logger,
	}
	q.unsubscribe = b.Subscribe(topic, q.push)
	return q
}

func (q *Queue) push(_ context.Context, event plugin.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) >= q.size {
		// Full: drop the oldest so recent events win.
		q.items = q.items[1:]
		q.dropped++
		queueDroppedTotal.WithLabelValues(q.topic).Inc()
		if !q.warnedFull {
			q.warnedFull = true
			q.logger.Warn("queue subscription overflow, dropping oldest",
				zap.String("topic", q.topic),
				zap.Int("size", q.size),
			)
		}
	}
	q.items = append(q.items, event)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or ctx is done. The second return
// is false when the context expired or the queue was closed and drained.
func (q *Queue) Next(ctx context.Context) (plugin.Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			event := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return event, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return plugin.Event{}, false
		}

		select {
		case <-ctx.Done():
			return plugin.Event{}, false
		case <-q.notify:
		}
	}
}

// Dropped returns how many events this queue has discarded due to overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len returns the number of events currently buffered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close releases the subscription. Buffered events may still be drained
// with Next; subsequent publishes are not delivered.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.unsubscribe()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
