package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CoopLedger/internal/models"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends one BatchEvent per decided run. Messages are keyed by
// period so consumers see a period's runs in order.
type Publisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		timeout: 10 * time.Second,
	}
}

func (p *Publisher) Publish(ctx context.Context, ev models.BatchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", ev.PeriodID)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
			{Key: "status", Value: []byte(ev.Status)},
		},
		Time: ev.OccurredAt,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
