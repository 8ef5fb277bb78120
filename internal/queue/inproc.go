package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Inproc is a channel-backed queue for single-binary deployments; the
// worker goroutine lives in the same process as the enqueuer. Handler
// errors are logged, not retried: a failed process task has already been
// captured in the document's status.
type Inproc struct {
	log   *slog.Logger
	tasks chan Task
}

// NewInproc creates an in-process queue with the given buffer size.
func NewInproc(log *slog.Logger, buffer int) *Inproc {
	if buffer <= 0 {
		buffer = 64
	}
	return &Inproc{log: log, tasks: make(chan Task, buffer)}
}

func (q *Inproc) Enqueue(ctx context.Context, task Task) error {
	if task.Type == "" {
		return fmt.Errorf("task type required")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Inproc) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case task := <-q.tasks:
			if task.Type != taskType {
				q.log.Warn("dropping task of unexpected type", "id", task.ID, "type", task.Type)
				continue
			}
			if err := handler(ctx, task); err != nil {
				q.log.Error("task handler failed", "id", task.ID, "type", task.Type, "err", err)
			}
		}
	}
}
