package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"solana-volume-engine/internal/queue"
	"solana-volume-engine/internal/storage"
)

// JobContext is handed to a Worker for one delivery.
type JobContext struct {
	Message *queue.Message
	JobID   string // persisted job id, empty when the message carries none
	Log     *logrus.Entry

	jobs   storage.JobStore
	ledger *Ledger

	mu       sync.Mutex
	progress int
}

// NewJobContext builds a context outside a Runner. Used by tests and one-off tools.
func NewJobContext(msg *queue.Message, jobID string, jobs storage.JobStore, ledger *Ledger, log *logrus.Entry) *JobContext {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &JobContext{Message: msg, JobID: jobID, Log: log, jobs: jobs, ledger: ledger}
}

// Attempt returns the 1-based delivery attempt.
func (c *JobContext) Attempt() int {
	return c.Message.Attempt
}

// Decode unmarshals the message body into v.
// A body that cannot be decoded never will be, so the error is permanent.
func (c *JobContext) Decode(v any) error {
	if err := json.Unmarshal(c.Message.Body, v); err != nil {
		return queue.Permanent(fmt.Errorf("decode %s payload: %w", c.Message.Queue, err))
	}
	return nil
}

// Progress reports completion in percent. Values are clamped to 0..100 and never decrease.
// The value is mirrored into the job row; mirror failures are only logged.
func (c *JobContext) Progress(ctx context.Context, pct int, msg string) {
	if pct > 100 {
		pct = 100
	}

	c.mu.Lock()
	if pct < c.progress {
		pct = c.progress
	}
	c.progress = pct
	c.mu.Unlock()

	if c.JobID == "" || c.jobs == nil {
		return
	}
	if err := c.jobs.UpdateProgress(ctx, c.JobID, pct, msg); err != nil {
		c.Log.WithError(err).Warn("update progress")
	}
}

// CurrentProgress returns the last reported progress.
func (c *JobContext) CurrentProgress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// CheckIdempotency reports whether the signature was already processed.
func (c *JobContext) CheckIdempotency(ctx context.Context, sig string) (bool, error) {
	if c.ledger == nil {
		return false, nil
	}
	return c.ledger.Seen(ctx, sig)
}

// MarkProcessed records the signature as processed.
func (c *JobContext) MarkProcessed(sig string) {
	if c.ledger != nil {
		c.ledger.Mark(sig)
	}
}
