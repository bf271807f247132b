package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by a closed broker.
var ErrClosed = errors.New("broker closed")

// MemoryBroker is an in-process Broker. Delayed messages stay in the queue
// until due; messages of queues without consumers (dead-letter queues) accumulate.
type MemoryBroker struct {
	mu      sync.Mutex
	queues  map[string]*memQueue
	backoff func(attempt int) time.Duration
	now     func() time.Time
	seq     uint64
	closed  bool
	done    chan struct{}
}

type memQueue struct {
	items []*memItem
	wake  chan struct{} // closed and replaced on every push
}

type memItem struct {
	msg *Message
	due time.Time
	seq uint64
}

// MemoryOption configures a MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithBackoff replaces the redelivery delay function.
func WithBackoff(fn func(attempt int) time.Duration) MemoryOption {
	return func(b *MemoryBroker) {
		b.backoff = fn
	}
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		queues:  make(map[string]*memQueue),
		backoff: Backoff,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// queue returns the named queue, creating it. Caller holds mu.
func (b *MemoryBroker) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memQueue{wake: make(chan struct{})}
		b.queues[name] = q
	}
	return q
}

// Publish enqueues body on queue.
func (b *MemoryBroker) Publish(_ context.Context, queue string, body []byte, opts PublishOptions) error {
	msg := &Message{
		ID:          uuid.NewString(),
		Queue:       queue,
		Body:        append([]byte(nil), body...),
		Attempt:     1,
		MaxAttempts: maxAttempts(opts),
		Priority:    opts.Priority,
		Delay:       opts.Delay,
		PublishedAt: b.now(),
	}
	return b.push(msg)
}

func (b *MemoryBroker) push(msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	b.seq++
	q := b.queue(msg.Queue)
	q.items = append(q.items, &memItem{msg: msg, due: msg.PublishedAt.Add(msg.Delay), seq: b.seq})
	close(q.wake)
	q.wake = make(chan struct{})
	return nil
}

// Consume delivers messages until ctx is done.
func (b *MemoryBroker) Consume(ctx context.Context, queue string, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	handlerCtx := context.WithoutCancel(ctx)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		msg, err := b.take(ctx, queue)
		if err != nil {
			<-sem
			if errors.Is(err, ErrClosed) {
				return err
			}
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			b.deliver(handlerCtx, msg, h)
		}()
	}
}

func (b *MemoryBroker) deliver(ctx context.Context, msg *Message, h Handler) {
	err := h(ctx, msg)
	if !shouldRetry(msg, err) {
		return
	}

	delay := b.backoff(msg.Attempt)
	next := *msg
	next.Attempt = msg.Attempt + 1
	next.Delay = delay
	next.PublishedAt = b.now()
	// A closed broker drops the redelivery; the message is lost with the process.
	_ = b.push(&next)
}

// take blocks until a message of queue is due, ctx is done or the broker closes.
func (b *MemoryBroker) take(ctx context.Context, queue string) (*Message, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		q := b.queue(queue)
		now := b.now()

		best := -1
		var nextDue time.Time
		for i, it := range q.items {
			if it.due.After(now) {
				if nextDue.IsZero() || it.due.Before(nextDue) {
					nextDue = it.due
				}
				continue
			}
			if best < 0 || before(it, q.items[best]) {
				best = i
			}
		}
		if best >= 0 {
			msg := q.items[best].msg
			q.items = append(q.items[:best], q.items[best+1:]...)
			b.mu.Unlock()
			return msg, nil
		}
		wake := q.wake
		b.mu.Unlock()

		var (
			t     *time.Timer
			timer <-chan time.Time
		)
		if !nextDue.IsZero() {
			t = time.NewTimer(nextDue.Sub(now))
			timer = t.C
		}

		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-b.done:
			err = ErrClosed
		case <-wake:
		case <-timer:
		}
		if t != nil {
			t.Stop()
		}
		if err != nil {
			return nil, err
		}
	}
}

// before orders due items by priority, then publish order.
func before(a, b *memItem) bool {
	if a.msg.Priority != b.msg.Priority {
		return a.msg.Priority > b.msg.Priority
	}
	return a.seq < b.seq
}

// Pending returns copies of the messages waiting on queue in publish order, due or not.
func (b *MemoryBroker) Pending(queue string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queue]
	if !ok {
		return nil
	}
	out := make([]*Message, 0, len(q.items))
	for _, it := range q.items {
		m := *it.msg
		out = append(out, &m)
	}
	return out
}

// Close stops consumers and rejects further publishes.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
