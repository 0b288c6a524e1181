package services

import (
	"context"
)

const orderEventNotified = "order.notify.logged"

// LogOrderNotifier records completion notices through the service logger. It stands in for a
// delivery channel when none is configured.
type LogOrderNotifier struct {
	Logger func(ctx context.Context, event string, fields map[string]any)
}

var _ OrderNotifier = LogOrderNotifier{}

func (n LogOrderNotifier) NotifyOrderCompleted(ctx context.Context, notification OrderCompletedNotification) error {
	if n.Logger == nil {
		return nil
	}
	productIDs := make([]string, 0, len(notification.Lines))
	for _, line := range notification.Lines {
		productIDs = append(productIDs, line.ProductID)
	}
	n.Logger(ctx, orderEventNotified, map[string]any{
		"orderID":     notification.OrderID,
		"customerID":  notification.CustomerID,
		"totalPrice":  notification.TotalPrice,
		"productIDs":  productIDs,
		"completedAt": notification.CompletedAt,
	})
	return nil
}
