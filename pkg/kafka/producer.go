package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles Kafka event emission
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compressionCodec(cfg.Compression),
		AllowAutoTopicCreation: true,
	}
	return newProducer(writer, cfg.Topic, logger)
}

func newProducer(writer messageWriter, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "gzip":
		return kafka.Gzip
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	case "none":
		return 0
	}
	return kafka.Snappy
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// AssociationEvent represents a change to an explicit or implicit association
type AssociationEvent struct {
	EventType        string             `json:"event_type"` // association.created, association.updated, association.deleted
	TenantID         string             `json:"tenant_id"`
	AssociationID    string             `json:"association_id"`
	Origin           models.Origin      `json:"origin"`
	SourceEntityType models.EntityKind  `json:"source_entity_type"`
	SourceEntityID   string             `json:"source_entity_id"`
	TargetEntityType models.EntityKind  `json:"target_entity_type"`
	TargetEntityID   string             `json:"target_entity_id"`
	Association      models.Association `json:"association"`
	Actor            string             `json:"actor,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
}

func (p *Producer) message(ctx context.Context, event *AssociationEvent) (kafka.Message, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "tenant_id", Value: []byte(event.TenantID)},
		{Key: "origin", Value: []byte(event.Origin)},
		{Key: "schema_version", Value: []byte(SchemaVersion)},
	}
	if traceParent := tracing.TraceParent(ctx); traceParent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceParent)})
	}

	// keyed by source entity so all changes of one entity stay ordered within a partition
	return kafka.Message{
		Topic:   p.topic,
		Key:     []byte(event.TenantID + ":" + string(event.SourceEntityType) + ":" + event.SourceEntityID),
		Value:   data,
		Headers: headers,
	}, nil
}

// PublishAssociationEvent publishes an association event to Kafka
func (p *Producer) PublishAssociationEvent(ctx context.Context, event *AssociationEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishAssociationEvent")
	defer span.End()

	msg, err := p.message(ctx, event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).Error("Failed to publish association event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type":     event.EventType,
		"association_id": event.AssociationID,
		"origin":         event.Origin,
	}).Debug("Published association event")

	return nil
}

// PublishAssociationEvents publishes multiple association events in a batch
func (p *Producer) PublishAssociationEvents(ctx context.Context, events []*AssociationEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishAssociationEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		msg, err := p.message(ctx, event)
		if err != nil {
			return err
		}
		messages[i] = msg
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
		}).Error("Failed to publish association events batch")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
	}).Debug("Published association events batch")

	return nil
}
