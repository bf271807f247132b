// Package jobs runs queue consumers against persisted job rows.
//
// Each queue message mirrors one row in the jobs table. The Runner moves the row
// through its lifecycle around the worker call, archives exhausted messages to the
// queue's dead-letter queue and offers workers progress reporting and a
// signature idempotency ledger through JobContext.
package jobs

import "context"

// Worker executes the messages of one queue.
type Worker interface {
	// Queue returns the queue the worker consumes.
	Queue() string

	// Execute processes one delivery. The returned result is stored in the job metadata.
	Execute(ctx context.Context, jc *JobContext) (any, error)
}
