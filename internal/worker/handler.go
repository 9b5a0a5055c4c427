// Package worker forwards order notifications from Kafka to the notification
// service.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/domain"
	"github.com/joao-fontenele/beadflow/internal/messaging"
)

type NotificationHandler struct {
	serviceURL string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewNotificationHandler(serviceURL string, client *http.Client, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		httpClient: client,
		logger:     logger,
	}
}

type deliveryRequest struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	OrderID string `json:"order_id"`
	OrderNo string `json:"order_no"`
}

// Handle delivers one notification. A payload that cannot be decoded is
// reported as permanent; any delivery failure is returned for retry.
func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return messaging.Permanent(fmt.Errorf("unmarshal notification: %w", err))
	}
	if n.UserID == "" || n.Type == "" {
		return messaging.Permanent(fmt.Errorf("notification %q has no recipient or type", n.ID))
	}

	data, err := json.Marshal(deliveryRequest{
		ID:      n.ID,
		UserID:  n.UserID,
		Type:    string(n.Type),
		Title:   n.Title,
		Content: n.Content,
		OrderID: n.OrderID,
		OrderNo: n.OrderNo,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.serviceURL+"/notifications", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", n.ID)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	h.logger.Info("notification delivered",
		zap.String("id", n.ID), zap.String("type", string(n.Type)), zap.String("order_id", n.OrderID))
	return nil
}
