package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestKafkaPublisherKeysByPerson(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w, topic: "person-events", logger: zap.NewNop()}

	person := uuid.New()
	at := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	evt := New(TrnAllocated, person, at, map[string]any{"trn": "1234567"})

	require.NoError(t, p.Publish(context.Background(), []Event{evt}))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, person.String(), string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, TrnAllocated, string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, evt.ID, decoded.ID)
	assert.Equal(t, "1234567", decoded.Payload["trn"])
}

func TestKafkaPublisherPropagatesErrors(t *testing.T) {
	p := &KafkaPublisher{writer: &recordingWriter{err: errors.New("broker down")}, logger: zap.NewNop()}
	err := p.Publish(context.Background(), []Event{New(QtsAwarded, uuid.New(), time.Now(), nil)})
	assert.EqualError(t, err, "broker down")

	assert.NoError(t, p.Publish(context.Background(), nil))
}
