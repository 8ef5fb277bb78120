package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// NewNATS constructs a NATS-backed queue for multi-replica deployments.
// Workers join a queue group per task type so each task is delivered to one
// replica. Handler errors are logged, not re-enqueued: process tasks must
// run at most once per document.
func NewNATS(log *slog.Logger, nc *nats.Conn) *NATS {
	return &NATS{log: log, nc: nc}
}

type NATS struct {
	log *slog.Logger
	nc  *nats.Conn
}

func (q *NATS) Enqueue(_ context.Context, task Task) error {
	if task.Type == "" {
		return fmt.Errorf("task type required")
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.nc.Publish("tasks."+string(task.Type), body)
}

func (q *NATS) Worker(ctx context.Context, taskType TaskType, handler Handler) error {
	subject := "tasks." + string(taskType)
	group := "workers-" + string(taskType)
	sub, err := q.nc.QueueSubscribe(subject, group, func(msg *nats.Msg) {
		var task Task
		if err := json.Unmarshal(msg.Data, &task); err != nil {
			q.log.Error("failed to decode task", "err", err)
			return
		}
		if err := handler(ctx, task); err != nil {
			q.log.Error("task handler failed", "id", task.ID, "type", task.Type, "err", err)
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}
