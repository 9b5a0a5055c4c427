package domain

import "time"

type NotificationType string

const (
	NotificationOrderCreated   NotificationType = "order_created"
	NotificationOrderPaid      NotificationType = "order_paid"
	NotificationOrderCancelled NotificationType = "order_cancelled"
	NotificationOrderExpired   NotificationType = "order_expired"
	NotificationOrderShipped   NotificationType = "order_shipped"
	NotificationOrderCompleted NotificationType = "order_completed"
)

// Notification is published after an order transition commits and forwarded
// to the notification service by the worker.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	UserID    string           `json:"user_id"`
	OrderID   string           `json:"order_id"`
	OrderNo   string           `json:"order_no"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
}
