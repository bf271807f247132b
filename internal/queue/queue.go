// Package queue provides the message brokers that carry job payloads between workers.
package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxAttempts is the delivery budget of a message published without one.
const DefaultMaxAttempts = 3

const (
	backoffBase = 1000 * time.Millisecond
	backoffCap  = 60000 * time.Millisecond
)

// Message is one delivery of a published body.
type Message struct {
	ID          string
	Queue       string
	Body        []byte
	Attempt     int // 1-based
	MaxAttempts int
	Priority    int
	Delay       time.Duration // delay the delivery was scheduled with
	PublishedAt time.Time
}

// Exhausted reports whether this delivery is the last one the budget allows.
func (m *Message) Exhausted() bool {
	return m.Attempt >= m.MaxAttempts
}

// PublishOptions controls scheduling of a published message.
type PublishOptions struct {
	Delay       time.Duration
	Priority    int // higher is delivered first
	MaxAttempts int // 0 means DefaultMaxAttempts
}

// Handler processes one delivery. A returned error triggers redelivery
// with backoff unless the budget is spent or the error is permanent.
type Handler func(ctx context.Context, msg *Message) error

// Broker publishes and consumes queue messages.
type Broker interface {
	// Publish enqueues body on queue.
	Publish(ctx context.Context, queue string, body []byte, opts PublishOptions) error

	// Consume delivers messages of queue to h with at most concurrency handlers in flight.
	// It blocks until ctx is done, then waits for in-flight handlers before returning.
	// Handlers run with a context detached from ctx cancellation.
	Consume(ctx context.Context, queue string, concurrency int, h Handler) error

	// Close releases broker resources.
	Close() error
}

// Backoff returns the redelivery delay after a failed attempt: min(2^attempt s, 60s).
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 6 {
		return backoffCap
	}
	d := backoffBase << attempt
	if d > backoffCap {
		return backoffCap
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. The message is not redelivered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or any error it wraps was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// shouldRetry reports whether a failed delivery gets another attempt.
func shouldRetry(msg *Message, err error) bool {
	return err != nil && !IsPermanent(err) && !msg.Exhausted()
}

func maxAttempts(opts PublishOptions) int {
	if opts.MaxAttempts > 0 {
		return opts.MaxAttempts
	}
	return DefaultMaxAttempts
}
