package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wavehq/wavechat/server/domain"
)

const streamSessionPrefix = "socket:streams:"

// StreamingCoordinator tracks in-flight AI generation sessions and turns
// the producer's push callbacks into ordered room broadcasts. One
// invocation never interleaves its chunks with another; distinct
// invocations may run concurrently for the same room.
type StreamingCoordinator struct {
	repo        Repository
	store       StateStore
	broadcaster Broadcaster
	producer    AIProducer
	clock       Clock
	logger      *slog.Logger

	mu     sync.RWMutex
	active map[string]map[string]bool // roomID -> live stream message ids
}

func NewStreamingCoordinator(repo Repository, store StateStore, broadcaster Broadcaster, producer AIProducer, clock Clock, logger *slog.Logger) *StreamingCoordinator {
	return &StreamingCoordinator{
		repo:        repo,
		store:       store,
		broadcaster: broadcaster,
		producer:    producer,
		clock:       clock,
		logger:      logger,
		active:      make(map[string]map[string]bool),
	}
}

func streamSessionKey(messageID string) string { return streamSessionPrefix + messageID }

// Generate runs one AI response session to completion: start event, chunk
// events carrying the delta and the accumulation so far, then exactly one
// complete or error event. Blocks until the producer finishes.
func (c *StreamingCoordinator) Generate(ctx context.Context, roomID, aiType, query string) error {
	startedAt := c.clock.Now()
	messageID := domain.NewStreamMessageID(aiType, startedAt)
	session := domain.NewStreamingSession(messageID, roomID, aiType, startedAt)

	if err := c.store.SetJSON(ctx, streamSessionKey(messageID), session, stateTTL); err != nil {
		c.logger.Warn("failed to persist streaming session", "messageId", messageID, "error", err)
	}
	c.track(roomID, messageID)

	c.logger.Debug("ai response started", "messageId", messageID, "aiType", aiType, "room", roomID)
	c.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventAIMessageStart,
		domain.AIMessageStartPayload{
			MessageID: messageID,
			AIType:    aiType,
			Timestamp: startedAt,
		}))

	var done bool
	err := c.producer.Generate(ctx, query, aiType, StreamCallbacks{
		OnStart: func() {
			c.logger.Debug("ai generation started", "messageId", messageID, "aiType", aiType)
		},
		OnChunk: func(chunk string) {
			now := c.clock.Now()
			session.Append(chunk, now)
			if err := c.store.SetJSON(ctx, streamSessionKey(messageID), session, stateTTL); err != nil {
				c.logger.Warn("failed to update streaming session", "messageId", messageID, "error", err)
			}
			c.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventAIMessageChunk,
				domain.AIMessageChunkPayload{
					MessageID:    messageID,
					CurrentChunk: chunk,
					FullContent:  session.Content,
					AIType:       aiType,
					Timestamp:    now,
					IsComplete:   false,
				}))
		},
		OnComplete: func(result GenerationResult) {
			done = true
			c.release(ctx, roomID, messageID)
			c.finalize(ctx, roomID, aiType, query, messageID, startedAt, result)
		},
		OnError: func(genErr error) {
			done = true
			c.release(ctx, roomID, messageID)
			c.broadcastError(roomID, messageID, aiType, genErr)
		},
	})
	if err != nil && !done {
		c.release(ctx, roomID, messageID)
		c.broadcastError(roomID, messageID, aiType, err)
		return fmt.Errorf("ai generation failed: %w", err)
	}
	return err
}

// finalize persists the completed response as a message and announces it.
// No partial content is ever persisted on the error path.
func (c *StreamingCoordinator) finalize(ctx context.Context, roomID, aiType, query, messageID string, startedAt time.Time, result GenerationResult) {
	now := c.clock.Now()
	msg := domain.Message{
		RoomID:    roomID,
		Type:      domain.MessageAI,
		AIType:    aiType,
		Content:   result.Content,
		Timestamp: now,
		Reactions: map[string][]string{},
		Metadata: domain.MessageMetadata{
			Query:            query,
			GenerationTimeMs: now.UnixMilli() - startedAt.UnixMilli(),
			CompletionTokens: result.CompletionTokens,
			TotalTokens:      result.TotalTokens,
		},
	}

	saved, err := c.repo.CreateMessage(ctx, msg)
	if err != nil {
		c.logger.Error("failed to persist ai message", "messageId", messageID, "error", err)
		c.broadcastError(roomID, messageID, aiType, err)
		return
	}

	c.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventAIMessageComplete,
		domain.AIMessageCompletePayload{
			MessageID:   messageID,
			PersistedID: saved.ID,
			Content:     result.Content,
			AIType:      aiType,
			Query:       query,
			Timestamp:   now,
			IsComplete:  true,
			Reactions:   map[string][]string{},
		}))
	c.logger.Debug("ai response completed",
		"messageId", messageID, "aiType", aiType, "contentLength", len(result.Content))
}

func (c *StreamingCoordinator) broadcastError(roomID, messageID, aiType string, err error) {
	c.logger.Error("ai response error", "messageId", messageID, "aiType", aiType, "error", err)
	c.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventAIMessageError,
		domain.AIMessageErrorPayload{
			MessageID: messageID,
			Error:     err.Error(),
			AIType:    aiType,
		}))
}

func (c *StreamingCoordinator) track(roomID, messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[roomID] == nil {
		c.active[roomID] = make(map[string]bool)
	}
	c.active[roomID][messageID] = true
}

func (c *StreamingCoordinator) release(ctx context.Context, roomID, messageID string) {
	c.mu.Lock()
	delete(c.active[roomID], messageID)
	if len(c.active[roomID]) == 0 {
		delete(c.active, roomID)
	}
	c.mu.Unlock()

	if err := c.store.Delete(ctx, streamSessionKey(messageID)); err != nil {
		c.logger.Warn("failed to remove streaming session", "messageId", messageID, "error", err)
	}
}

// ActiveStreams reports the room's in-flight generation sessions so a
// joining client can render streams already in progress.
func (c *StreamingCoordinator) ActiveStreams(ctx context.Context, roomID string) []domain.StreamingSession {
	c.mu.RLock()
	ids := make([]string, 0, len(c.active[roomID]))
	for id := range c.active[roomID] {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	var sessions []domain.StreamingSession
	for _, id := range ids {
		var session domain.StreamingSession
		if err := c.store.GetJSON(ctx, streamSessionKey(id), &session); err != nil {
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions
}
