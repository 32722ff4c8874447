package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes envelopes to a topic exchange with the event type
// as routing key.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       amqpChannel
	exchange string
}

// DialAMQP connects and declares the durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, events ...Envelope) error {
	// A channel is not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range events {
		body, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.Type, err)
		}
		msg := amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID.String(),
			Timestamp:    e.OccurredAt,
			Type:         e.Type,
			Body:         body,
		}
		if err := p.ch.PublishWithContext(ctx, p.exchange, e.Type, false, false, msg); err != nil {
			return fmt.Errorf("amqp publish %s: %w", e.Type, err)
		}
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
