package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	headerAttempt     = "x-attempt"
	headerMaxAttempts = "x-max-attempts"
	headerDelay       = "x-delay-ms"

	maxPriority = 10

	// delayQueueExpiry keeps an idle delay queue around this long past its TTL.
	delayQueueExpiry = time.Minute
)

// ErrUnroutable is returned when the broker had no queue for a published message.
var ErrUnroutable = errors.New("message unroutable")

// AMQPBroker is a Broker backed by RabbitMQ.
// Delays use per-delay TTL queues that dead-letter into the target queue.
type AMQPBroker struct {
	conn *amqp.Connection
	log  *logrus.Entry

	pubMu   sync.Mutex
	pubCh   *amqp.Channel
	returns chan amqp.Return

	declared    map[string]bool
	declaredMu  sync.Mutex
	delayExpiry time.Duration
}

// NewAMQPBroker dials url and opens the publishing channel.
func NewAMQPBroker(url string, log *logrus.Entry) (*AMQPBroker, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &AMQPBroker{
		conn:        conn,
		log:         log.WithField("component", "amqp"),
		pubCh:       ch,
		returns:     ch.NotifyReturn(make(chan amqp.Return, 16)),
		declared:    make(map[string]bool),
		delayExpiry: delayQueueExpiry,
	}, nil
}

// declare declares a durable work queue once per process.
// Dead-letter queues carry no priority and are never consumed by the engine.
func (b *AMQPBroker) declare(ch *amqp.Channel, queue string) error {
	b.declaredMu.Lock()
	defer b.declaredMu.Unlock()

	if b.declared[queue] {
		return nil
	}

	var args amqp.Table
	if !strings.HasSuffix(queue, ".dlq") {
		args = amqp.Table{"x-max-priority": int32(maxPriority)}
	}

	_, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,  // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	b.declared[queue] = true
	return nil
}

// declareDelay declares the TTL queue that holds messages for queue for delay.
// It runs on every delayed publish: only a declare resets the queue's idle
// expiry, publishing does not, and the queue must outlive its newest message.
func (b *AMQPBroker) declareDelay(ch *amqp.Channel, queue string, delay time.Duration) (string, error) {
	ms := delay.Milliseconds()
	name := fmt.Sprintf("%s.delay.%d", queue, ms)

	_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-message-ttl":             ms,
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
		"x-expires":                 ms + b.delayExpiry.Milliseconds(),
	})
	if err != nil {
		return "", fmt.Errorf("declare delay queue %s: %w", name, err)
	}
	return name, nil
}

// Publish enqueues body on queue, routing through a delay queue when opts.Delay is set.
func (b *AMQPBroker) Publish(ctx context.Context, queue string, body []byte, opts PublishOptions) error {
	return b.publish(ctx, &Message{
		ID:          uuid.NewString(),
		Queue:       queue,
		Body:        body,
		Attempt:     1,
		MaxAttempts: maxAttempts(opts),
		Priority:    opts.Priority,
		Delay:       opts.Delay,
		PublishedAt: time.Now(),
	})
}

func (b *AMQPBroker) publish(ctx context.Context, msg *Message) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if err := b.declare(b.pubCh, msg.Queue); err != nil {
		return err
	}

	routingKey := msg.Queue
	if msg.Delay > 0 {
		name, err := b.declareDelay(b.pubCh, msg.Queue, msg.Delay)
		if err != nil {
			return err
		}
		routingKey = name
	}

	return b.send(ctx, routingKey, msg)
}

// send publishes msg as mandatory and waits for the broker's confirm.
// The caller holds pubMu, so a return seen before the ack belongs to msg.
func (b *AMQPBroker) send(ctx context.Context, routingKey string, msg *Message) error {
	priority := msg.Priority
	if priority > maxPriority {
		priority = maxPriority
	}
	if priority < 0 {
		priority = 0
	}

	dc, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx,
		"",         // exchange
		routingKey, // routing key
		true,       // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.PublishedAt,
			Priority:     uint8(priority),
			Body:         msg.Body,
			Headers: amqp.Table{
				headerAttempt:     int32(msg.Attempt),
				headerMaxAttempts: int32(msg.MaxAttempts),
				headerDelay:       msg.Delay.Milliseconds(),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm publish to %s: %w", routingKey, err)
	}

	if ret, ok := b.returned(msg.ID); ok {
		return fmt.Errorf("publish to %s: %w: %d %s", routingKey, ErrUnroutable, ret.ReplyCode, ret.ReplyText)
	}
	if !acked {
		return fmt.Errorf("publish to %s: broker nacked", routingKey)
	}
	return nil
}

// returned drains pending returns and reports the one of message id.
// Returns of other ids are left over from abandoned publishes.
func (b *AMQPBroker) returned(id string) (amqp.Return, bool) {
	for {
		select {
		case ret := <-b.returns:
			if ret.MessageId == id {
				return ret, true
			}
		default:
			return amqp.Return{}, false
		}
	}
}

// Consume delivers messages of queue until ctx is done.
// Prefetch equals concurrency; deliveries received after shutdown began are requeued.
func (b *AMQPBroker) Consume(ctx context.Context, queue string, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := b.declare(ch, queue); err != nil {
		return err
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	tag := fmt.Sprintf("%s-%s", queue, uuid.NewString()[:8])
	deliveries, err := ch.Consume(
		queue, // queue
		tag,   // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	log := b.log.WithField("queue", queue)
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	handlerCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				if ctx.Err() != nil {
					if err := d.Nack(false, true); err != nil {
						log.WithError(err).Warn("requeue on shutdown failed")
					}
					continue
				}
				b.deliver(handlerCtx, log, queue, d, h)
			}
		}()
	}

	select {
	case <-ctx.Done():
		if err := ch.Cancel(tag, false); err != nil {
			log.WithError(err).Warn("cancel consumer failed")
		}
		wg.Wait()
		return nil
	case amqpErr := <-chClosed:
		wg.Wait()
		if amqpErr == nil {
			return fmt.Errorf("consumer channel for %s closed", queue)
		}
		return fmt.Errorf("consumer channel for %s closed: %w", queue, amqpErr)
	}
}

func (b *AMQPBroker) deliver(ctx context.Context, log *logrus.Entry, queue string, d amqp.Delivery, h Handler) {
	msg := &Message{
		ID:          d.MessageId,
		Queue:       queue,
		Body:        d.Body,
		Attempt:     headerInt(d.Headers, headerAttempt, 1),
		MaxAttempts: headerInt(d.Headers, headerMaxAttempts, DefaultMaxAttempts),
		Priority:    int(d.Priority),
		Delay:       time.Duration(headerInt(d.Headers, headerDelay, 0)) * time.Millisecond,
		PublishedAt: d.Timestamp,
	}

	err := h(ctx, msg)
	if shouldRetry(msg, err) {
		next := *msg
		next.Attempt++
		next.Delay = Backoff(msg.Attempt)
		next.PublishedAt = time.Now()
		if perr := b.publish(ctx, &next); perr != nil {
			log.WithError(perr).WithField("message_id", msg.ID).Error("schedule redelivery failed, requeueing")
			if nerr := d.Nack(false, true); nerr != nil {
				log.WithError(nerr).Warn("nack failed")
			}
			return
		}
	}

	if err := d.Ack(false); err != nil {
		log.WithError(err).WithField("message_id", msg.ID).Warn("ack failed")
	}
}

func headerInt(h amqp.Table, key string, def int) int {
	switch v := h[key].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return def
}

// Close closes the publishing channel and the connection.
func (b *AMQPBroker) Close() error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	if b.pubCh != nil {
		if err := b.pubCh.Close(); err != nil {
			b.log.WithError(err).Warn("close channel")
		}
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("close rabbitmq connection: %w", err)
	}
	return nil
}

var _ Broker = (*AMQPBroker)(nil)
