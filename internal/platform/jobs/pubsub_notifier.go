package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/storefront/api/internal/services"
)

const (
	// EventOrderCompleted is carried in the "event" attribute of completion messages.
	EventOrderCompleted = "order.completed"

	metricNamespace = "github.com/storefront/api/internal/platform/jobs"
)

// OrderCompletedMessage is the JSON body published for a completed order.
type OrderCompletedMessage struct {
	Event       string               `json:"event"`
	OrderID     string               `json:"orderId"`
	CustomerID  string               `json:"customerId"`
	TotalPrice  int64                `json:"totalPrice"`
	Lines       []OrderCompletedLine `json:"lines"`
	CompletedAt time.Time            `json:"completedAt"`
}

// OrderCompletedLine is the frozen line snapshot delivered to downstream mailers.
type OrderCompletedLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Image     string `json:"image,omitempty"`
}

// PubSubOrderNotifier publishes order completion notices to a Pub/Sub topic.
type PubSubOrderNotifier struct {
	topic     *pubsub.Topic
	marshal   func(any) ([]byte, error)
	published metric.Int64Counter
}

var _ services.OrderNotifier = (*PubSubOrderNotifier)(nil)

// NotifierOption customises the notifier.
type NotifierOption func(*notifierConfig)

type notifierConfig struct {
	meter metric.Meter
}

// WithMeter overrides the meter used for the publish counter.
func WithMeter(m metric.Meter) NotifierOption {
	return func(cfg *notifierConfig) {
		cfg.meter = m
	}
}

// NewPubSubOrderNotifier constructs a Pub/Sub backed completion notifier.
func NewPubSubOrderNotifier(topic *pubsub.Topic, opts ...NotifierOption) (*PubSubOrderNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub order notifier: topic is required")
	}
	cfg := notifierConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	counter, err := meter.Int64Counter(
		"notifications.published",
		metric.WithDescription("Order completion notifications handed to Pub/Sub, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("pubsub order notifier: register counter: %w", err)
	}
	return &PubSubOrderNotifier{
		topic:     topic,
		marshal:   json.Marshal,
		published: counter,
	}, nil
}

// NotifyOrderCompleted publishes the notification and waits for the server-assigned message id.
func (p *PubSubOrderNotifier) NotifyOrderCompleted(ctx context.Context, notification services.OrderCompletedNotification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order notifier: not initialised")
	}

	message := OrderCompletedMessage{
		Event:       EventOrderCompleted,
		OrderID:     notification.OrderID,
		CustomerID:  notification.CustomerID,
		TotalPrice:  notification.TotalPrice,
		Lines:       make([]OrderCompletedLine, 0, len(notification.Lines)),
		CompletedAt: notification.CompletedAt.UTC(),
	}
	for _, line := range notification.Lines {
		message.Lines = append(message.Lines, OrderCompletedLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Name:      line.Name,
			Price:     line.Price,
			Image:     line.Image,
		})
	}

	data, err := p.marshal(message)
	if err != nil {
		p.record(ctx, "marshal_error")
		return fmt.Errorf("marshal order notification: %w", err)
	}

	attrs := map[string]string{"event": EventOrderCompleted}
	setAttr(attrs, "orderId", notification.OrderID)
	setAttr(attrs, "customerId", notification.CustomerID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		p.record(ctx, "error")
		return fmt.Errorf("publish order notification: %w", err)
	}
	p.record(ctx, "published")
	return nil
}

// TopicCheck returns a readiness probe that verifies the topic still exists.
func TopicCheck(topic *pubsub.Topic) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if topic == nil {
			return errors.New("pubsub: topic not configured")
		}
		exists, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("pubsub: topic %s does not exist", topic.ID())
		}
		return nil
	}
}

func (p *PubSubOrderNotifier) record(ctx context.Context, outcome string) {
	if p.published == nil {
		return
	}
	p.published.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
