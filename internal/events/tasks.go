package events

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/vaayugo-api/internal/obs"
)

// QueueEvents is the asynq queue event tasks are published to.
const QueueEvents = "events"

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskNotifier publishes events as asynq tasks whose type is the event topic.
type TaskNotifier struct {
	Client    Enqueuer
	MaxRetry  int
	Retention time.Duration
}

// Notify enqueues the event payload. The event id is used as the task id, so re-publishing the
// same event is a no-op.
func (n TaskNotifier) Notify(ctx context.Context, ev Event) error {
	if n.Client == nil {
		return errors.New("events: task client not configured")
	}
	opts := []asynq.Option{
		asynq.Queue(QueueEvents),
		asynq.TaskID(ev.ID.String()),
	}
	if n.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(n.MaxRetry))
	}
	if n.Retention > 0 {
		opts = append(opts, asynq.Retention(n.Retention))
	}
	_, err := n.Client.EnqueueContext(ctx, asynq.NewTask(ev.Topic, ev.Payload), opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		obs.CountShopNotification("enqueue_failed")
		return err
	}
	return nil
}
