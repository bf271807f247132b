package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/domain"
	"solana-volume-engine/internal/observability"
	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/storage"
)

// ErrNoJobRow is returned for a delivery that has no persisted job row.
var ErrNoJobRow = errors.New("message has no job row")

// DeadLetterHook is called after a message was archived to its dead-letter queue.
type DeadLetterHook func(ctx context.Context, dl *DeadLetter)

// Runner consumes one queue with one Worker.
type Runner struct {
	broker      queue.Broker
	worker      Worker
	jobs        storage.JobStore
	ledger      *Ledger
	concurrency int
	log         *logrus.Entry
	hook        DeadLetterHook
	now         func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency sets the number of concurrently executing jobs.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithDeadLetterHook sets a callback for archived messages.
func WithDeadLetterHook(h DeadLetterHook) RunnerOption {
	return func(r *Runner) {
		r.hook = h
	}
}

// WithLogger sets the runner's logger.
func WithLogger(log *logrus.Entry) RunnerOption {
	return func(r *Runner) {
		r.log = log
	}
}

// NewRunner creates a Runner for worker's queue.
func NewRunner(broker queue.Broker, worker Worker, jobs storage.JobStore, ledger *Ledger, opts ...RunnerOption) *Runner {
	r := &Runner{
		broker:      broker,
		worker:      worker,
		jobs:        jobs,
		ledger:      ledger,
		concurrency: 1,
		log:         logrus.NewEntry(logrus.StandardLogger()),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithFields(logrus.Fields{"component": "runner", "queue": worker.Queue()})
	return r
}

// Queue returns the consumed queue.
func (r *Runner) Queue() string {
	return r.worker.Queue()
}

// Run consumes until ctx is done. In-flight jobs finish before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.log.WithField("concurrency", r.concurrency).Info("consuming")
	err := r.broker.Consume(ctx, r.worker.Queue(), r.concurrency, r.Handle)
	r.log.Info("stopped")
	return err
}

// Handle processes one delivery. It is the queue.Handler of the runner.
func (r *Runner) Handle(ctx context.Context, msg *queue.Message) error {
	var ref domain.JobRef
	_ = json.Unmarshal(msg.Body, &ref)

	log := r.log.WithFields(logrus.Fields{
		"message_id": msg.ID,
		"job_id":     ref.DBJobID,
		"attempt":    msg.Attempt,
	})

	// Executions reference their job row, so a message without one never runs.
	if ref.DBJobID == "" {
		return r.reject(ctx, log, msg, queue.Permanent(ErrNoJobRow))
	}
	if err := r.jobs.MarkRunning(ctx, ref.DBJobID, msg.Attempt); err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidTransition):
			log.Warn("job already finished, dropping delivery")
			return nil
		case errors.Is(err, storage.ErrNotFound):
			return r.reject(ctx, log, msg, queue.Permanent(fmt.Errorf("job %s: %w", ref.DBJobID, ErrNoJobRow)))
		default:
			return r.reject(ctx, log, msg, fmt.Errorf("mark running: %w", err))
		}
	}

	jc := &JobContext{
		Message: msg,
		JobID:   ref.DBJobID,
		Log:     log,
		jobs:    r.jobs,
		ledger:  r.ledger,
	}

	queueName := r.worker.Queue()
	start := r.now()
	observability.RecordJobStarted(queueName)
	result, err := r.execute(ctx, jc)
	observability.RecordJobFinished(queueName, r.now().Sub(start), err)

	if err == nil {
		r.succeed(ctx, jc, result)
		return nil
	}

	log.WithError(err).Error("job failed")
	if merr := r.jobs.MarkFailed(ctx, ref.DBJobID, err.Error()); merr != nil {
		log.WithError(merr).Warn("mark failed")
	}

	if msg.Exhausted() || queue.IsPermanent(err) {
		r.deadLetter(ctx, log, msg, err)
	}
	return err
}

// reject fails a delivery before the worker ran.
func (r *Runner) reject(ctx context.Context, log *logrus.Entry, msg *queue.Message, err error) error {
	log.WithError(err).Error("delivery rejected")
	if msg.Exhausted() || queue.IsPermanent(err) {
		r.deadLetter(ctx, log, msg, err)
	}
	return err
}

// execute calls the worker, converting a panic into an error with a stack.
func (r *Runner) execute(ctx context.Context, jc *JobContext) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = pkgerrors.Errorf("panic in %s worker: %v", r.worker.Queue(), p)
		}
	}()
	return r.worker.Execute(ctx, jc)
}

func (r *Runner) succeed(ctx context.Context, jc *JobContext, result any) {
	jc.Log.Info("job succeeded")

	var body []byte
	if result != nil {
		var err error
		body, err = json.Marshal(result)
		if err != nil {
			jc.Log.WithError(err).Warn("marshal job result")
			body = nil
		}
	}
	if err := r.jobs.MarkSucceeded(ctx, jc.JobID, body); err != nil {
		jc.Log.WithError(err).Warn("mark succeeded")
	}
}

// deadLetter archives msg to the queue's dead-letter queue.
func (r *Runner) deadLetter(ctx context.Context, log *logrus.Entry, msg *queue.Message, err error) {
	dl := NewDeadLetter(msg, err, r.now())
	body, merr := json.Marshal(dl)
	if merr != nil {
		log.WithError(merr).Error("marshal dead letter")
		return
	}

	dlq := domain.DeadLetterQueue(msg.Queue)
	if perr := r.broker.Publish(ctx, dlq, body, queue.PublishOptions{MaxAttempts: 1}); perr != nil {
		log.WithError(perr).WithField("dlq", dlq).Error("publish dead letter")
		return
	}

	observability.RecordDeadLetter(msg.Queue)
	log.WithField("dlq", dlq).Warn("job dead-lettered")

	if r.hook != nil {
		r.hook(ctx, dl)
	}
}
