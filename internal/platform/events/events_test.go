package events

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(typ string) Envelope {
	return Envelope{
		ID:          uuid.New(),
		Type:        typ,
		OccurredAt:  time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC),
		ActorID:     uuid.New(),
		AggregateID: uuid.New(),
		PatientID:   uuid.New(),
		Payload:     map[string]string{"admission_number": "ADM-2025-000001"},
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}
	e := envelope("admission.created")

	require.NoError(t, p.Publish(context.Background(), e))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, e.PatientID.String(), string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Type, decoded.Type)

	w.err = errors.New("broker down")
	assert.Error(t, p.Publish(context.Background(), e))
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestAMQPPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{ch: ch, exchange: "admissions"}

	require.NoError(t, p.Publish(context.Background(), envelope("patient.discharged"), envelope("patient.death_confirmed")))
	require.Len(t, ch.published, 2)
	assert.Equal(t, []string{"patient.discharged", "patient.death_confirmed"}, ch.keys)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	require.NoError(t, p.Close())
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))
	e := envelope("admission.created")

	require.NoError(t, p.Publish(context.Background(), e))
	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "admission.created", line["event_type"])
	assert.Equal(t, e.AggregateID.String(), line["aggregate_id"])
	payload, ok := line["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ADM-2025-000001", payload["admission_number"])
}

type failing struct{}

func (failing) Publish(context.Context, ...Envelope) error { return errors.New("unreachable") }

func TestLogged_SwallowsDeliveryFailure(t *testing.T) {
	var buf bytes.Buffer
	l := Logged{Publisher: failing{}, Logger: zerolog.New(&buf)}
	assert.NoError(t, l.Publish(context.Background(), envelope("x")))
	assert.Contains(t, buf.String(), "event delivery failed")

	w := &fakeWriter{}
	buf.Reset()
	l = Logged{Publisher: &KafkaPublisher{w: w}, Logger: zerolog.New(&buf)}
	assert.NoError(t, l.Publish(context.Background(), envelope("x")))
	assert.Len(t, w.msgs, 1)
	assert.Empty(t, buf.String())
}
