package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"urembo-be/internal/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	PaymentSucceeded = "payment.succeeded"
	PaymentCancelled = "payment.cancelled"
	PaymentFailed    = "payment.failed"
)

// PaymentEvent is published once per settled STK push.
type PaymentEvent struct {
	Type              string    `json:"type"`
	OrderID           string    `json:"orderId"`
	CheckoutRequestID string    `json:"checkoutRequestId"`
	ResultCode        int       `json:"resultCode"`
	ResultDesc        string    `json:"resultDesc"`
	Amount            string    `json:"amount,omitempty"`
	ReceiptNumber     string    `json:"receiptNumber,omitempty"`
	PhoneNumber       string    `json:"phoneNumber,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}

// TypeForResult maps a Daraja result code onto an event type.
func TypeForResult(code int) string {
	switch code {
	case 0:
		return PaymentSucceeded
	case 1032:
		return PaymentCancelled
	default:
		return PaymentFailed
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev PaymentEvent) error
	Close() error
}

// Producer is the slice of *kafka.Writer the publisher uses.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) Publisher {
	return &kafkaPublisher{producer: producer, topic: topic}
}

// NewPublisher returns a Kafka publisher, or a no-op one when brokers is
// empty.
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		logger.L().Info("kafka brokers not configured, payment events disabled")
		return Noop{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewKafkaPublisher(w, topic)
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev PaymentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal payment event: %w", err)
	}

	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.OrderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if rid := logger.RequestIDFrom(ctx); rid != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request_id", Value: []byte(rid)})
	}

	log := logger.FromCtx(ctx).With(
		zap.String("event_type", ev.Type),
		zap.String("checkout_request_id", ev.CheckoutRequestID),
	)
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		log.Error("payment event publish failed", zap.Error(err))
		return err
	}
	log.Info("payment event published")
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.producer.Close()
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, PaymentEvent) error { return nil }
func (Noop) Close() error                                { return nil }
