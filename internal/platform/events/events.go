// Package events carries lifecycle events from the admission core to the
// audit and integration consumers (log, Kafka, AMQP).
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Envelope wraps one domain event with routing metadata.
type Envelope struct {
	ID          uuid.UUID   `json:"id"`
	Type        string      `json:"type"`
	OccurredAt  time.Time   `json:"occurred_at"`
	ActorID     uuid.UUID   `json:"actor_id"`
	Facility    string      `json:"facility,omitempty"`
	AggregateID uuid.UUID   `json:"aggregate_id"`
	PatientID   uuid.UUID   `json:"patient_id"`
	Payload     interface{} `json:"payload"`
}

// Publisher delivers envelopes. Publish is called after the producing
// transaction committed, so implementations must not assume they can veto it.
type Publisher interface {
	Publish(ctx context.Context, events ...Envelope) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, ...Envelope) error { return nil }

// Logged reports delivery failures of the wrapped publisher to the log.
// The producer has already committed, so the error stops here.
type Logged struct {
	Publisher Publisher
	Logger    zerolog.Logger
}

func (l Logged) Publish(ctx context.Context, events ...Envelope) error {
	if err := l.Publisher.Publish(ctx, events...); err != nil {
		types := make([]string, len(events))
		for i, e := range events {
			types[i] = e.Type
		}
		l.Logger.Error().Err(err).Strs("event_types", types).Msg("event delivery failed")
	}
	return nil
}
