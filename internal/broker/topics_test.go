package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInbound() MessageMetadata {
	return MessageMetadata{
		ID:        "m1",
		RoomID:    "r1",
		SenderID:  "u1",
		Body:      "hello",
		Timestamp: time.Now().UnixMilli(),
		Type:      EventMessageSent,
	}
}

func validModerated() ModeratedMessage {
	return ModeratedMessage{
		MessageMetadata: validInbound(),
		Moderation: Verdict{
			Sentiment:  "neutral",
			Flagged:    false,
			Reasons:    []string{},
			Confidence: Confidence{Sentiment: 0.9, Flagged: 0.8},
		},
		ProcessedAt: time.Now().UnixMilli(),
	}
}

func TestInboundValidate(t *testing.T) {
	valid := validInbound()
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*MessageMetadata)
	}{
		{"missing id", func(m *MessageMetadata) { m.ID = "" }},
		{"missing room", func(m *MessageMetadata) { m.RoomID = "" }},
		{"missing sender", func(m *MessageMetadata) { m.SenderID = "" }},
		{"missing body", func(m *MessageMetadata) { m.Body = "" }},
		{"missing timestamp", func(m *MessageMetadata) { m.Timestamp = 0 }},
		{"wrong type", func(m *MessageMetadata) { m.Type = "message.edited" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validInbound()
			tc.mutate(&m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestModeratedValidate(t *testing.T) {
	valid := validModerated()
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*ModeratedMessage)
	}{
		{"inherits inbound checks", func(m *ModeratedMessage) { m.ID = "" }},
		{"invalid sentiment", func(m *ModeratedMessage) { m.Moderation.Sentiment = "angry" }},
		{"null reasons", func(m *ModeratedMessage) { m.Moderation.Reasons = nil }},
		{"missing processedAt", func(m *ModeratedMessage) { m.ProcessedAt = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validModerated()
			tc.mutate(&m)
			assert.Error(t, m.Validate())
		})
	}
}

func TestPersistedValidate(t *testing.T) {
	valid := PersistedMessage{
		ModeratedMessage: validModerated(),
		DocID:            "m1",
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	require.NoError(t, valid.Validate())

	missingDoc := valid
	missingDoc.DocID = ""
	assert.Error(t, missingDoc.Validate())

	missingCreated := valid
	missingCreated.CreatedAt = time.Time{}
	assert.Error(t, missingCreated.Validate())

	badUpstream := valid
	badUpstream.Moderation.Reasons = nil
	assert.Error(t, badUpstream.Validate())
}
