// Package broker binds the three pipeline topics to typed, validated
// payloads over a Kafka-compatible bus. Producers refuse invalid
// payloads; consumers log and skip malformed records.
package broker

import (
	"fmt"
	"time"
)

// Topics. Each pipeline stage has its own schema.
const (
	TopicInbound   = "messages.inbound"
	TopicModerated = "messages.moderated"
	TopicPersisted = "messages.persisted"
)

// EventMessageSent is the only event type carried on the inbound topic.
const EventMessageSent = "message.sent"

// MessageMetadata is the inbound payload: the client-submitted message
// as accepted by the write path. Body is the raw client text — the
// analyzer sees original input, not the sanitized projection.
type MessageMetadata struct {
	ID        string `json:"id"`
	RoomID    string `json:"roomId"`
	SenderID  string `json:"senderId"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"` // unix ms at submission
	Type      string `json:"type"`      // always EventMessageSent
}

// Validate checks the inbound schema.
func (m *MessageMetadata) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("inbound payload: missing id")
	case m.RoomID == "":
		return fmt.Errorf("inbound payload: missing roomId")
	case m.SenderID == "":
		return fmt.Errorf("inbound payload: missing senderId")
	case m.Body == "":
		return fmt.Errorf("inbound payload: missing body")
	case m.Timestamp <= 0:
		return fmt.Errorf("inbound payload: missing timestamp")
	case m.Type != EventMessageSent:
		return fmt.Errorf("inbound payload: unexpected type %q", m.Type)
	}
	return nil
}

// Confidence carries the analyzer's certainty per verdict dimension.
type Confidence struct {
	Sentiment float64 `json:"sentiment"`
	Flagged   float64 `json:"flagged"`
}

// Verdict is the moderation outcome attached on the moderated topic.
type Verdict struct {
	Sentiment  string     `json:"sentiment"`
	Flagged    bool       `json:"flagged"`
	Reasons    []string   `json:"reasons"`
	Confidence Confidence `json:"confidence"`
}

// ModeratedMessage composes the inbound payload with its verdict.
type ModeratedMessage struct {
	MessageMetadata
	Moderation  Verdict `json:"moderation"`
	ProcessedAt int64   `json:"processedAt"` // unix ms at analysis
}

// Validate checks the moderated schema.
func (m *ModeratedMessage) Validate() error {
	if err := m.MessageMetadata.Validate(); err != nil {
		return err
	}
	switch m.Moderation.Sentiment {
	case "positive", "negative", "neutral":
	default:
		return fmt.Errorf("moderated payload: invalid sentiment %q", m.Moderation.Sentiment)
	}
	if m.Moderation.Reasons == nil {
		return fmt.Errorf("moderated payload: reasons must not be null")
	}
	if m.ProcessedAt <= 0 {
		return fmt.Errorf("moderated payload: missing processedAt")
	}
	return nil
}

// PersistedMessage composes the moderated payload with the document
// identity as written to the store of record.
type PersistedMessage struct {
	ModeratedMessage
	DocID     string    `json:"_id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the persisted schema.
func (m *PersistedMessage) Validate() error {
	if err := m.ModeratedMessage.Validate(); err != nil {
		return err
	}
	if m.DocID == "" {
		return fmt.Errorf("persisted payload: missing _id")
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("persisted payload: missing createdAt")
	}
	return nil
}
