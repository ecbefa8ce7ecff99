package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/parleychat/parley/internal/broker"
	"github.com/parleychat/parley/internal/cache"
	"github.com/parleychat/parley/internal/errs"
	"github.com/parleychat/parley/internal/metrics"
	"github.com/parleychat/parley/internal/model"
	"github.com/parleychat/parley/internal/ratelimit"
	"github.com/parleychat/parley/internal/repo"
	"github.com/parleychat/parley/internal/sanitize"
)

// Events receives realtime fan-out signals from the write path. The
// gateway implements it; NopEvents serves processes without a gateway.
type Events interface {
	MessageCreated(roomID string, msg model.Message)
	MessageUpdated(roomID string, msg model.Message)
	MessageDeleted(roomID, messageID string)
}

// NopEvents discards fan-out signals.
type NopEvents struct{}

func (NopEvents) MessageCreated(string, model.Message) {}
func (NopEvents) MessageUpdated(string, model.Message) {}
func (NopEvents) MessageDeleted(string, string)        {}

// MessageService owns the message write path and the history read path.
type MessageService struct {
	messages    repo.Messages
	memberships repo.Memberships
	rooms       repo.Rooms
	limiter     *ratelimit.Limiter
	recent      *cache.Recent
	producer    broker.Producer
	events      Events
	logger      zerolog.Logger
	now         func() time.Time
}

// NewMessageService creates the message service. events may be nil.
func NewMessageService(
	messages repo.Messages,
	memberships repo.Memberships,
	rooms repo.Rooms,
	limiter *ratelimit.Limiter,
	recent *cache.Recent,
	producer broker.Producer,
	events Events,
	logger zerolog.Logger,
) *MessageService {
	if events == nil {
		events = NopEvents{}
	}
	return &MessageService{
		messages:    messages,
		memberships: memberships,
		rooms:       rooms,
		limiter:     limiter,
		recent:      recent,
		producer:    producer,
		events:      events,
		logger:      logger.With().Str("component", "messages").Logger(),
		now:         time.Now,
	}
}

// SetClock overrides the service clock. Test helper.
func (s *MessageService) SetClock(now func() time.Time) { s.now = now }

// SetEvents rebinds the fan-out sink. Used once at startup to break the
// gateway/service construction cycle.
func (s *MessageService) SetEvents(events Events) {
	if events == nil {
		events = NopEvents{}
	}
	s.events = events
}

// Send runs the write-through path: admission, membership, sanitize,
// persist, cache, produce. Cache and produce failures are logged and
// swallowed — the user-visible write has already succeeded.
func (s *MessageService) Send(ctx context.Context, principal *model.User, roomID, body, clientIP string) (*model.Message, error) {
	if res := s.limiter.Allow(ctx, ratelimit.RuleMessageUser, principal.ID); !res.Allowed {
		return nil, errs.RateLimited("too many messages", res.RetryAfter)
	}
	if clientIP != "" {
		if res := s.limiter.Allow(ctx, ratelimit.RuleMessageIP, clientIP); !res.Allowed {
			return nil, errs.RateLimited("too many messages from this address", res.RetryAfter)
		}
	}

	if _, err := s.rooms.ByID(ctx, roomID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errs.NotFound("room not found")
		}
		return nil, errs.Internal("load room", err)
	}
	if _, err := s.memberships.Get(ctx, roomID, principal.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errs.Forbidden("not a member of this room")
		}
		return nil, errs.Internal("load membership", err)
	}

	sanitized := sanitize.MessageBody(body)
	if sanitized == "" {
		return nil, errs.ValidationFields("invalid message", map[string]string{"body": "must be 1-2000 characters"})
	}

	now := s.now().UTC()
	msg := &model.Message{
		ID:         model.NewID(),
		RoomID:     roomID,
		SenderID:   principal.ID,
		Body:       sanitized,
		Moderation: model.NeutralModeration(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.messages.Insert(ctx, msg); err != nil {
		return nil, errs.Internal("insert message", err)
	}
	metrics.MessagesSent.Inc()

	if err := s.recent.Prepend(ctx, roomID, *msg); err != nil {
		s.logger.Warn().Str("message_id", msg.ID).Err(err).Msg("Hot-message cache write failed")
	}

	// The inbound topic carries the client-submitted body: the analyzer
	// scores original text. Document, cache and fan-out carry the
	// sanitized body.
	inbound := broker.MessageMetadata{
		ID:        msg.ID,
		RoomID:    roomID,
		SenderID:  principal.ID,
		Body:      body,
		Timestamp: now.UnixMilli(),
		Type:      broker.EventMessageSent,
	}
	if err := s.producer.ProduceInbound(ctx, inbound); err != nil {
		s.logger.Error().Str("message_id", msg.ID).Err(err).Msg("Inbound produce failed, moderation will not run")
	}

	s.events.MessageCreated(roomID, *msg)
	return msg, nil
}

// ListParams selects a history page. Cursor, when set, means "strictly
// older than this createdAt" and takes precedence over Page.
type ListParams struct {
	Page   int
	Limit  int
	Cursor *time.Time
}

// List reads room history newest-first. The first page is served from
// the hot-message cache when possible and refreshes it otherwise.
func (s *MessageService) List(ctx context.Context, principal *model.User, roomID string, params ListParams) ([]model.Message, model.Pagination, error) {
	if _, err := s.memberships.Get(ctx, roomID, principal.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, model.Pagination{}, errs.Forbidden("not a member of this room")
		}
		return nil, model.Pagination{}, errs.Internal("load membership", err)
	}

	page, limit := NormalizePage(params.Page, params.Limit)
	firstPage := page == 1 && params.Cursor == nil

	if firstPage {
		if cached, err := s.recent.Get(ctx, roomID); err == nil && len(cached) > 0 {
			result := cached
			if len(result) > limit {
				result = result[:limit]
			}
			total, err := s.messages.CountByRoom(ctx, roomID)
			if err != nil {
				// Best-effort total on the cache fast path.
				total = int64(len(cached))
			}
			return result, Paginate(page, limit, total), nil
		}
	}

	var skip int64
	if params.Cursor == nil {
		skip = int64(page-1) * int64(limit)
	}
	list, err := s.messages.ListByRoom(ctx, roomID, limit, params.Cursor, skip)
	if err != nil {
		return nil, model.Pagination{}, errs.Internal("list messages", err)
	}
	total, err := s.messages.CountByRoom(ctx, roomID)
	if err != nil {
		return nil, model.Pagination{}, errs.Internal("count messages", err)
	}

	if firstPage && len(list) > 0 {
		if err := s.recent.Put(ctx, roomID, list); err != nil {
			s.logger.Warn().Str("room_id", roomID).Err(err).Msg("Hot-message cache refresh failed")
		}
	}

	p := Paginate(page, limit, total)
	if params.Cursor != nil {
		// Cursor paging has no absolute position; next exists while
		// full pages keep coming.
		p.Page = 0
		p.HasNext = len(list) == limit
		p.HasPrev = true
	}
	return list, p, nil
}

// Get loads one message. Members only; soft-deleted reads as NotFound.
func (s *MessageService) Get(ctx context.Context, principal *model.User, id string) (*model.Message, error) {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberships.Get(ctx, msg.RoomID, principal.ID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, errs.Forbidden("not a member of this room")
		}
		return nil, errs.Internal("load membership", err)
	}
	return msg, nil
}

// Update edits a message body. Sender only.
func (s *MessageService) Update(ctx context.Context, principal *model.User, id, body string) (*model.Message, error) {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != principal.ID {
		return nil, errs.Forbidden("only the sender can edit a message")
	}

	sanitized := sanitize.MessageBody(body)
	if sanitized == "" {
		return nil, errs.ValidationFields("invalid message", map[string]string{"body": "must be 1-2000 characters"})
	}

	now := s.now().UTC()
	if err := s.messages.SetBody(ctx, id, sanitized, now); err != nil {
		return nil, errs.Internal("update message", err)
	}
	msg.Body = sanitized
	msg.EditedAt = &now
	msg.UpdatedAt = now

	s.invalidateCache(ctx, msg.RoomID)
	s.events.MessageUpdated(msg.RoomID, *msg)
	return msg, nil
}

// Delete soft-deletes a message. Sender only.
func (s *MessageService) Delete(ctx context.Context, principal *model.User, id string) error {
	msg, err := s.loadLive(ctx, id)
	if err != nil {
		return err
	}
	if msg.SenderID != principal.ID {
		return errs.Forbidden("only the sender can delete a message")
	}

	if err := s.messages.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		return errs.Internal("delete message", err)
	}
	s.invalidateCache(ctx, msg.RoomID)
	s.events.MessageDeleted(msg.RoomID, id)
	return nil
}

// loadLive loads a message and maps soft-deleted to NotFound.
func (s *MessageService) loadLive(ctx context.Context, id string) (*model.Message, error) {
	msg, err := s.messages.ByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, errs.NotFound("message not found")
	}
	if err != nil {
		return nil, errs.Internal("load message", err)
	}
	if msg.DeletedAt != nil {
		return nil, errs.NotFound("message not found")
	}
	return msg, nil
}

func (s *MessageService) invalidateCache(ctx context.Context, roomID string) {
	if err := s.recent.Invalidate(ctx, roomID); err != nil {
		s.logger.Warn().Str("room_id", roomID).Err(err).Msg("Cache invalidation failed")
	}
}
