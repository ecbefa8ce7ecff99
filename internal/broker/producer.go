package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/parleychat/parley/internal/metrics"
)

// Producer is the typed produce side of the bus. Records are keyed by
// message id so one message's stages stay on one partition and arrive
// in order; rooms with the same hash share partitions, which is fine.
type Producer interface {
	ProduceInbound(ctx context.Context, msg MessageMetadata) error
	ProduceModerated(ctx context.Context, msg ModeratedMessage) error
	ProducePersisted(ctx context.Context, msg PersistedMessage) error
}

// KafkaProducer implements Producer over a franz-go client.
type KafkaProducer struct {
	client *kgo.Client
	logger zerolog.Logger
}

// NewProducer creates a producer for the given brokers.
func NewProducer(brokers []string, logger zerolog.Logger) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &KafkaProducer{
		client: client,
		logger: logger.With().Str("component", "broker.producer").Logger(),
	}, nil
}

// validator is implemented by every topic payload.
type validator interface {
	Validate() error
}

// produce validates, serializes and synchronously produces one record.
// Validation failure aborts the produce and surfaces to the caller.
func (p *KafkaProducer) produce(ctx context.Context, topic, key string, payload validator) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	metrics.BrokerProduced.WithLabelValues(topic).Inc()
	p.logger.Debug().Str("topic", topic).Str("key", key).Msg("Record produced")
	return nil
}

func (p *KafkaProducer) ProduceInbound(ctx context.Context, msg MessageMetadata) error {
	return p.produce(ctx, TopicInbound, msg.ID, &msg)
}

func (p *KafkaProducer) ProduceModerated(ctx context.Context, msg ModeratedMessage) error {
	return p.produce(ctx, TopicModerated, msg.ID, &msg)
}

func (p *KafkaProducer) ProducePersisted(ctx context.Context, msg PersistedMessage) error {
	return p.produce(ctx, TopicPersisted, msg.ID, &msg)
}

// Close flushes buffered records and releases the client.
func (p *KafkaProducer) Close() {
	p.client.Close()
}
