// Package pipeline runs the asynchronous moderation stream:
// inbound records are analyzed and re-emitted as moderated, moderated
// records are persisted and re-emitted as persisted, with a fan-out
// signal to the gateway. Stage state is carried by broker offsets; no
// state machine is materialized.
package pipeline

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/broker"
	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/repo"
)

// FanoutSink is the gateway as seen by the pipeline. The inversion keeps
// the dependency graph acyclic: the pipeline never imports the gateway.
type FanoutSink interface {
	EmitMessageUpdated(roomID string, msg model.Message)
}

// NopFanout discards fan-out signals. Used when the gateway is not
// running (dedicated pipeline workers).
type NopFanout struct{}

func (NopFanout) EmitMessageUpdated(string, model.Message) {}

// Processor owns the two pipeline stages.
type Processor struct {
	analyzer Analyzer
	producer broker.Producer
	messages repo.Messages
	fanout   FanoutSink
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a processor.
func New(analyzer Analyzer, producer broker.Producer, messages repo.Messages, fanout FanoutSink, logger zerolog.Logger) *Processor {
	if fanout == nil {
		fanout = NopFanout{}
	}
	return &Processor{
		analyzer: analyzer,
		producer: producer,
		messages: messages,
		fanout:   fanout,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
	}
}

// SetClock overrides the processor clock. Test helper.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// Handlers returns the topic handler map for the broker consumer.
func (p *Processor) Handlers() map[string]broker.Handler {
	return map[string]broker.Handler{
		broker.TopicInbound:   p.HandleInbound,
		broker.TopicModerated: p.HandleModerated,
	}
}

// defaultVerdict is emitted when the analyzer is unreachable so the
// pipeline always advances.
func defaultVerdict() broker.Verdict {
	return broker.Verdict{
		Sentiment:  model.SentimentNeutral,
		Flagged:    false,
		Reasons:    []string{},
		Confidence: broker.Confidence{Sentiment: 0.5, Flagged: 0.5},
	}
}

// analyze runs both analyzer calls for one message. Any failure falls
// back to the default verdict.
func (p *Processor) analyze(ctx context.Context, msg broker.MessageMetadata) broker.Verdict {
	moderation, err := p.analyzer.Moderate(ctx, msg.ID, msg.Body)
	if err != nil {
		metrics.PipelineAnalyzerErrors.Inc()
		p.logger.Warn().Str("message_id", msg.ID).Err(err).Msg("Moderate call failed, using default verdict")
		return defaultVerdict()
	}
	sentiment, err := p.analyzer.Sentiment(ctx, msg.ID, msg.Body)
	if err != nil {
		metrics.PipelineAnalyzerErrors.Inc()
		p.logger.Warn().Str("message_id", msg.ID).Err(err).Msg("Sentiment call failed, using default verdict")
		return defaultVerdict()
	}
	switch sentiment.Sentiment {
	case model.SentimentPositive, model.SentimentNegative, model.SentimentNeutral:
	default:
		// An out-of-enum sentiment would fail producer validation and
		// redeliver the record into the same failure forever.
		metrics.PipelineAnalyzerErrors.Inc()
		p.logger.Warn().Str("message_id", msg.ID).Str("sentiment", sentiment.Sentiment).Msg("Unknown sentiment from analyzer, using default verdict")
		return defaultVerdict()
	}

	reasons := moderation.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return broker.Verdict{
		Sentiment: sentiment.Sentiment,
		Flagged:   moderation.Flagged,
		Reasons:   reasons,
		Confidence: broker.Confidence{
			Sentiment: sentiment.Confidence,
			Flagged:   moderation.Confidence,
		},
	}
}

// HandleInbound consumes one inbound record: analyze, stamp, produce
// moderated. Malformed records are logged and skipped, never re-queued.
func (p *Processor) HandleInbound(ctx context.Context, value []byte) error {
	started := p.now()

	var msg broker.MessageMetadata
	if err := json.Unmarshal(value, &msg); err != nil {
		metrics.BrokerSkipped.WithLabelValues(broker.TopicInbound).Inc()
		p.logger.Warn().Err(err).Msg("Malformed inbound record, skipping")
		return nil
	}
	if err := msg.Validate(); err != nil {
		metrics.BrokerSkipped.WithLabelValues(broker.TopicInbound).Inc()
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Invalid inbound record, skipping")
		return nil
	}

	verdict := p.analyze(ctx, msg)
	moderated := broker.ModeratedMessage{
		MessageMetadata: msg,
		Moderation:      verdict,
		ProcessedAt:     p.now().UnixMilli(),
	}

	if err := p.producer.ProduceModerated(ctx, moderated); err != nil {
		return err
	}

	metrics.PipelineVerdicts.WithLabelValues(verdict.Sentiment, strconv.FormatBool(verdict.Flagged)).Inc()
	metrics.PipelineLag.WithLabelValues("inbound").Observe(p.now().Sub(started).Seconds())
	return nil
}

// HandleModerated consumes one moderated record: persist the verdict by
// id, produce persisted, signal the gateway. Errors abort the remaining
// steps for this record only; redelivery re-runs them idempotently.
func (p *Processor) HandleModerated(ctx context.Context, value []byte) error {
	started := p.now()

	var msg broker.ModeratedMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		metrics.BrokerSkipped.WithLabelValues(broker.TopicModerated).Inc()
		p.logger.Warn().Err(err).Msg("Malformed moderated record, skipping")
		return nil
	}
	if err := msg.Validate(); err != nil {
		metrics.BrokerSkipped.WithLabelValues(broker.TopicModerated).Inc()
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Invalid moderated record, skipping")
		return nil
	}

	mod := model.Moderation{
		Sentiment: msg.Moderation.Sentiment,
		Flagged:   msg.Moderation.Flagged,
		Reasons:   msg.Moderation.Reasons,
	}
	matched, err := p.messages.UpdateModeration(ctx, msg.ID, mod, p.now().UTC())
	if err != nil {
		return err
	}
	if !matched {
		// The document never landed (or was hard-removed); nothing to
		// fan out or persist downstream.
		p.logger.Warn().Str("message_id", msg.ID).Msg("Moderated record matched no document, skipping")
		return nil
	}

	doc, err := p.messages.ByID(ctx, msg.ID)
	if err != nil {
		return err
	}
	if doc.DeletedAt != nil {
		// Deleted between send and moderation; a deleted message must not
		// reappear through the persisted topic or a message_updated event.
		p.logger.Info().Str("message_id", msg.ID).Msg("Message deleted before moderation landed, skipping fan-out")
		return nil
	}

	persisted := broker.PersistedMessage{
		ModeratedMessage: msg,
		DocID:            doc.ID,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	if err := p.producer.ProducePersisted(ctx, persisted); err != nil {
		return err
	}

	p.fanout.EmitMessageUpdated(doc.RoomID, *doc)
	metrics.PipelineLag.WithLabelValues("moderated").Observe(p.now().Sub(started).Seconds())
	return nil
}
