package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes envelopes to one topic keyed by patient id, so events
// of one patient stay ordered within a partition.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, events ...Envelope) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.PatientID.String()),
			Value: body,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
				{Key: "event_id", Value: []byte(e.ID.String())},
			},
			Time: e.OccurredAt,
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
