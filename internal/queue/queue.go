package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/retry"
)

// TaskType enumerates supported task categories.
type TaskType string

// TaskTypeProcess drives one document through the ingestion pipeline.
const TaskTypeProcess TaskType = "process"

// Task is a unit of background work. Process tasks carry the document id as
// payload and are dispatched exactly once per document; a document that
// fails processing is terminal and never re-dispatched.
type Task struct {
	ID      uuid.UUID
	Type    TaskType
	Payload []byte
}

type Handler func(context.Context, Task) error

// Queue hands tasks from the accept path to background workers.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Worker(ctx context.Context, taskType TaskType, handler Handler) error
}

// EnqueueWithRetry attempts to enqueue with retries and exponential backoff.
// It gives the accept path a few chances to ride out a transient broker
// hiccup before reporting the upload as failed.
func EnqueueWithRetry(ctx context.Context, q Queue, task Task, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = q.Enqueue(ctx, task); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.Backoff(attempt, base, 5*time.Second)):
		}
	}
	return err
}
