// Package publisher sends checkout events to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fjod/go_cart/checkout-flow/domain"
)

const DefaultTopic = "checkout-outbox"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OrderEventPublisher writes order events keyed by checkout id so events
// of one checkout stay ordered within a partition.
type OrderEventPublisher struct {
	writer  messageWriter
	timeout time.Duration
	log     *slog.Logger
}

func NewOrderEventPublisher(topic string, log *slog.Logger, brokers ...string) *OrderEventPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return newPublisher(w, log)
}

func newPublisher(w messageWriter, log *slog.Logger) *OrderEventPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &OrderEventPublisher{
		writer:  w,
		timeout: 5 * time.Second,
		log:     log.With("component", "order_event_publisher"),
	}
}

func (p *OrderEventPublisher) PublishOrderPlaced(ctx context.Context, event domain.OrderPlacedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order placed event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.CheckoutID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(domain.EventTypeOrderPlaced)},
		},
	}

	// The order already exists, so a cancelled request must not drop the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for checkout %s: %w", domain.EventTypeOrderPlaced, event.CheckoutID, err)
	}
	p.log.InfoContext(ctx, "order event published", "order_id", event.OrderID, "checkout_id", event.CheckoutID)
	return nil
}

func (p *OrderEventPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops events. It is used when no brokers are configured.
type Nop struct{}

func (Nop) PublishOrderPlaced(context.Context, domain.OrderPlacedEvent) error { return nil }

func (Nop) Close() error { return nil }
