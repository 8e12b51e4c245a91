package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

type captureWriter struct {
	messages []kafka.Message
	err      error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func testProducer(w *captureWriter) *Producer {
	return newProducer(w, "association-events", ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestProducer_PublishAssociationEvent(t *testing.T) {
	w := &captureWriter{}
	p := testProducer(w)

	err := p.PublishAssociationEvent(context.Background(), &AssociationEvent{
		EventType:        "association.created",
		TenantID:         "T1",
		AssociationID:    "a1",
		Origin:           models.OriginExplicit,
		SourceEntityType: models.KindCompany,
		SourceEntityID:   "C1",
		TargetEntityType: models.KindSalesperson,
		TargetEntityID:   "S1",
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "association-events", msg.Topic)
	assert.Equal(t, "T1:company:C1", string(msg.Key))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{
		"event_type":     "association.created",
		"tenant_id":      "T1",
		"origin":         "explicit",
		"schema_version": SchemaVersion,
	}, headers)

	var decoded AssociationEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "a1", decoded.AssociationID)
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestProducer_PublishAssociationEvents(t *testing.T) {
	t.Run("empty batch writes nothing", func(t *testing.T) {
		w := &captureWriter{}
		require.NoError(t, testProducer(w).PublishAssociationEvents(context.Background(), nil))
		assert.Empty(t, w.messages)
	})

	t.Run("writer failure is returned", func(t *testing.T) {
		w := &captureWriter{err: errors.New("broker down")}
		err := testProducer(w).PublishAssociationEvents(context.Background(), []*AssociationEvent{{EventType: "association.deleted"}})
		assert.EqualError(t, err, "broker down")
	})
}

func TestCompressionCodec(t *testing.T) {
	assert.Equal(t, kafka.Snappy, compressionCodec(""))
	assert.Equal(t, kafka.Gzip, compressionCodec("gzip"))
	assert.Equal(t, kafka.Compression(0), compressionCodec("none"))
}
