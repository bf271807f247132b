package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(int) time.Duration { return time.Millisecond }

// consume runs Consume in the background and returns a stop function.
func consume(t *testing.T, b Broker, queue string, concurrency int, h Handler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Consume(ctx, queue, concurrency, h)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestMemoryBroker_PublishConsume(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "trade.buy", []byte(`{"n":1}`), PublishOptions{}))

	got := make(chan *Message, 1)
	stop := consume(t, b, "trade.buy", 1, func(_ context.Context, msg *Message) error {
		got <- msg
		return nil
	})
	defer stop()

	select {
	case msg := <-got:
		assert.Equal(t, "trade.buy", msg.Queue)
		assert.JSONEq(t, `{"n":1}`, string(msg.Body))
		assert.Equal(t, 1, msg.Attempt)
		assert.Equal(t, DefaultMaxAttempts, msg.MaxAttempts)
		assert.NotEmpty(t, msg.ID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryBroker_RetriesUntilBudget(t *testing.T) {
	b := NewMemoryBroker(WithBackoff(fastBackoff))
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), "trade.sell", []byte(`{}`), PublishOptions{MaxAttempts: 3}))

	var mu sync.Mutex
	var attempts []int
	done := make(chan struct{})
	stop := consume(t, b, "trade.sell", 1, func(_ context.Context, msg *Message) error {
		mu.Lock()
		attempts = append(attempts, msg.Attempt)
		if msg.Exhausted() {
			close(done)
		}
		mu.Unlock()
		return errors.New("swap failed")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("budget not exhausted")
	}
	// Give a wrongly scheduled fourth delivery time to show up.
	time.Sleep(20 * time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Empty(t, b.Pending("trade.sell"))
}

func TestMemoryBroker_PermanentNotRetried(t *testing.T) {
	b := NewMemoryBroker(WithBackoff(fastBackoff))
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), "trade.buy", []byte(`{}`), PublishOptions{}))

	var calls atomic.Int32
	stop := consume(t, b, "trade.buy", 1, func(context.Context, *Message) error {
		calls.Add(1)
		return Permanent(errors.New("bad settings"))
	})
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, b.Pending("trade.buy"))
}

func TestMemoryBroker_DelayAndPriority(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "q", []byte("late"), PublishOptions{Delay: 80 * time.Millisecond, Priority: 9}))
	require.NoError(t, b.Publish(ctx, "q", []byte("low"), PublishOptions{}))
	require.NoError(t, b.Publish(ctx, "q", []byte("high"), PublishOptions{Priority: 5}))

	pending := b.Pending("q")
	require.Len(t, pending, 3)
	assert.Equal(t, 80*time.Millisecond, pending[0].Delay)

	var mu sync.Mutex
	var order []string
	all := make(chan struct{})
	stop := consume(t, b, "q", 1, func(_ context.Context, msg *Message) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, string(msg.Body))
		if len(order) == 3 {
			close(all)
		}
		return nil
	})
	defer stop()

	select {
	case <-all:
	case <-time.After(time.Second):
		t.Fatal("messages not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low", "late"}, order)
}

func TestMemoryBroker_ConcurrencyLimit(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, b.Publish(ctx, "status", []byte(`{}`), PublishOptions{}))
	}

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(8)
	stop := consume(t, b, "status", 2, func(context.Context, *Message) error {
		defer wg.Done()
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	wg.Wait()
	stop()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestMemoryBroker_InFlightFinishAfterCancel(t *testing.T) {
	b := NewMemoryBroker()
	defer b.Close()

	require.NoError(t, b.Publish(context.Background(), "q", []byte(`{}`), PublishOptions{}))

	started := make(chan struct{})
	var finished atomic.Bool
	var handlerCtxErr atomic.Value

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Consume(ctx, "q", 1, func(hctx context.Context, _ *Message) error {
			close(started)
			time.Sleep(30 * time.Millisecond)
			if hctx.Err() != nil {
				handlerCtxErr.Store(hctx.Err())
			}
			finished.Store(true)
			return nil
		})
	}()

	<-started
	cancel()
	<-done

	assert.True(t, finished.Load(), "Consume returned before the in-flight handler finished")
	assert.Nil(t, handlerCtxErr.Load(), "handler context must not be cancelled by shutdown")
}

func TestMemoryBroker_Closed(t *testing.T) {
	b := NewMemoryBroker()
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), "q", nil, PublishOptions{})
	assert.ErrorIs(t, err, ErrClosed)

	err = b.Consume(context.Background(), "q", 1, func(context.Context, *Message) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}
