package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"solana-volume-engine/internal/queue"
)

// DeadLetter is the archived form of a message whose attempts are exhausted.
type DeadLetter struct {
	OriginalJob json.RawMessage `json:"originalJob"`
	Queue       string          `json:"queue"`
	Error       DeadLetterError `json:"error"`
	Attempts    int             `json:"attempts"`
	FailedAt    time.Time       `json:"failedAt"`
}

// DeadLetterError carries the final error and, when available, its stack.
type DeadLetterError struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// NewDeadLetter builds the archive entry for msg failing with err.
func NewDeadLetter(msg *queue.Message, err error, failedAt time.Time) *DeadLetter {
	dl := &DeadLetter{
		OriginalJob: json.RawMessage(msg.Body),
		Queue:       msg.Queue,
		Error:       DeadLetterError{Message: err.Error()},
		Attempts:    msg.Attempt,
		FailedAt:    failedAt.UTC(),
	}

	var st stackTracer
	if errors.As(err, &st) {
		dl.Error.Stack = fmt.Sprintf("%+v", st.StackTrace())
	}

	if !json.Valid(msg.Body) {
		raw, _ := json.Marshal(string(msg.Body))
		dl.OriginalJob = raw
	}
	return dl
}
