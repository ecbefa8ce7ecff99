package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/parleychat/parley/internal/metrics"
)

// Handler processes one record's value. Returning an error leaves
// redelivery to the broker's at-least-once semantics; handlers must be
// idempotent keyed by message id.
type Handler func(ctx context.Context, value []byte) error

// Consumer polls the pipeline topics inside a shared consumer group and
// dispatches records to per-topic handlers.
type Consumer struct {
	client   *kgo.Client
	logger   zerolog.Logger
	handlers map[string]Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Group   string
	// Handlers maps topic name to its handler. The consumer subscribes
	// to exactly these topics.
	Handlers map[string]Handler
	Logger   zerolog.Logger
}

// NewConsumer creates a consumer group member for the configured topics.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if len(cfg.Handlers) == 0 {
		return nil, fmt.Errorf("at least one topic handler is required")
	}

	topics := make([]string, 0, len(cfg.Handlers))
	for topic := range cfg.Handlers {
		topics = append(topics, topic)
	}

	logger := cfg.Logger.With().Str("component", "broker.consumer").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(topics...),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.SessionTimeout(30*time.Second),
		kgo.RebalanceTimeout(60*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info().Interface("partitions", assigned).Msg("Partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logger.Info().Interface("partitions", revoked).Msg("Partitions revoked")
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &Consumer{
		client:   client,
		logger:   logger,
		handlers: cfg.Handlers,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the poll loop.
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.pollLoop()
	c.logger.Info().Msg("Consumer started")
}

func (c *Consumer) pollLoop() {
	defer c.wg.Done()

	for {
		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Error().
				Str("topic", topic).
				Int32("partition", partition).
				Err(err).
				Msg("Fetch error")
		})
		fetches.EachRecord(func(record *kgo.Record) {
			metrics.BrokerConsumed.WithLabelValues(record.Topic).Inc()
			handler, ok := c.handlers[record.Topic]
			if !ok {
				return
			}
			if err := handler(c.ctx, record.Value); err != nil {
				c.logger.Error().
					Str("topic", record.Topic).
					Str("key", string(record.Key)).
					Int64("offset", record.Offset).
					Err(err).
					Msg("Handler failed, broker retry semantics govern redelivery")
			}
		})
	}
}

// Close stops the poll loop and releases the client.
func (c *Consumer) Close() {
	c.cancel()
	c.client.Close()
	c.wg.Wait()
	c.logger.Info().Msg("Consumer stopped")
}
