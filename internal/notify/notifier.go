package notify

import (
	"context"

	"github.com/andresuchdata/parquetwrite/internal/domain"
)

// Notifier announces a stored task outcome to downstream consumers.
type Notifier interface {
	Notify(ctx context.Context, rec domain.TaskStatusRecord) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) Notify(context.Context, domain.TaskStatusRecord) error { return nil }

// RoutingKey is the topic routing key for a record, task.<status>.
func RoutingKey(rec domain.TaskStatusRecord) string {
	return "task." + string(rec.Status)
}

var _ Notifier = Noop{}
