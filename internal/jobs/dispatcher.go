package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/storage"
)

// publishFailure prefixes the error of a job row whose message never reached the broker.
const publishFailure = "publish: "

// Payload is a message body that carries its persisted job id.
type Payload interface {
	SetDBJobID(id string)
}

// Request describes a job to enqueue.
type Request struct {
	// ID is the job id. Empty generates a random one; a fixed id makes the
	// dispatch idempotent.
	ID       string
	Queue    string
	Type     string
	RunID    string
	Payload  Payload
	Delay    time.Duration
	Priority int
}

// Dispatcher persists a job row and publishes its message.
type Dispatcher struct {
	broker   queue.Broker
	jobs     storage.JobStore
	attempts map[string]int
	log      *logrus.Entry
	now      func() time.Time
	newID    func() string
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts sets the delivery budget of messages published to queue.
func WithMaxAttempts(queueName string, n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.attempts[queueName] = n
	}
}

// WithDispatcherLogger sets the dispatcher's logger.
func WithDispatcherLogger(log *logrus.Entry) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(broker queue.Broker, jobs storage.JobStore, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		broker:   broker,
		jobs:     jobs,
		attempts: make(map[string]int),
		log:      logrus.NewEntry(logrus.StandardLogger()),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.WithField("component", "dispatcher")
	return d
}

// Dispatch creates the queued job row, stamps its id into the payload and publishes.
// If publishing fails the row is marked failed so it does not linger as queued.
// A request whose ID already exists is not published again unless the earlier
// publish failed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (string, error) {
	id := req.ID
	if id == "" {
		id = d.newID()
	}
	req.Payload.SetDBJobID(id)

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", req.Queue, err)
	}

	opts := queue.PublishOptions{
		Delay:       req.Delay,
		Priority:    req.Priority,
		MaxAttempts: d.attempts[req.Queue],
	}

	now := d.now().UTC()
	job := &domain.Job{
		ID:        id,
		RunID:     req.RunID,
		Queue:     req.Queue,
		Type:      req.Type,
		Payload:   body,
		Status:    domain.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.jobs.Insert(ctx, job); err != nil {
		if req.ID != "" && errors.Is(err, storage.ErrDuplicateKey) {
			return d.redispatch(ctx, id, opts)
		}
		return "", fmt.Errorf("insert %s job: %w", req.Queue, err)
	}

	if err := d.publish(ctx, id, req.Queue, body, opts); err != nil {
		return "", err
	}

	d.log.WithFields(logrus.Fields{
		"queue":  req.Queue,
		"job_id": id,
		"delay":  req.Delay,
	}).Debug("job dispatched")
	return id, nil
}

// redispatch handles a fixed-id request whose row already exists. Only a row
// that failed to publish and never ran is published again, with its stored payload.
func (d *Dispatcher) redispatch(ctx context.Context, id string, opts queue.PublishOptions) (string, error) {
	existing, err := d.jobs.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load existing job %s: %w", id, err)
	}

	log := d.log.WithFields(logrus.Fields{
		"queue":  existing.Queue,
		"job_id": id,
		"status": existing.Status,
	})
	if !unpublished(existing) {
		log.Debug("job already dispatched")
		return id, nil
	}

	if err := d.jobs.Requeue(ctx, id); err != nil {
		return "", fmt.Errorf("requeue job %s: %w", id, err)
	}
	if err := d.publish(ctx, id, existing.Queue, existing.Payload, opts); err != nil {
		return "", err
	}
	log.Info("unpublished job republished")
	return id, nil
}

func (d *Dispatcher) publish(ctx context.Context, id, queueName string, body []byte, opts queue.PublishOptions) error {
	if err := d.broker.Publish(ctx, queueName, body, opts); err != nil {
		if merr := d.jobs.MarkFailed(ctx, id, publishFailure+err.Error()); merr != nil {
			d.log.WithError(merr).WithField("job_id", id).Warn("mark unpublished job failed")
		}
		return fmt.Errorf("publish %s job: %w", queueName, err)
	}
	return nil
}

func unpublished(j *domain.Job) bool {
	return j.Status == domain.JobFailed && j.Attempts == 0 && strings.HasPrefix(j.Error, publishFailure)
}
