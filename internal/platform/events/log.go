package events

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// LogPublisher writes each envelope as one structured log line.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, events ...Envelope) error {
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return err
		}
		p.logger.Info().
			Str("event_id", e.ID.String()).
			Str("event_type", e.Type).
			Str("aggregate_id", e.AggregateID.String()).
			Str("patient_id", e.PatientID.String()).
			Str("actor_id", e.ActorID.String()).
			Str("facility", e.Facility).
			Time("occurred_at", e.OccurredAt).
			RawJSON("payload", payload).
			Msg("domain event")
	}
	return nil
}
