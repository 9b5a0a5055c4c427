// Package notify hands order notifications to the notification pipeline.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// KafkaNotifier publishes notifications keyed by user so the worker delivers
// each user's messages in order.
type KafkaNotifier struct {
	publisher Publisher
}

func NewKafkaNotifier(p Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: p}
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	if err := n.publisher.Publish(ctx, msg.UserID, msg); err != nil {
		return fmt.Errorf("publish %s notification for order %s: %w", msg.Type, msg.OrderID, err)
	}
	return nil
}

// LogNotifier only logs. It stands in when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.logger.Info("notification",
		zap.String("id", msg.ID),
		zap.String("type", string(msg.Type)),
		zap.String("user_id", msg.UserID),
		zap.String("order_no", msg.OrderNo),
		zap.String("title", msg.Title))
	return nil
}
