package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/wavehq/wavechat/server/domain"
)

// MessageService handles send-message, read receipts and reactions, and
// dispatches AI mentions to the streaming coordinator.
type MessageService struct {
	repo        Repository
	sessions    *SessionRegistry
	streams     *StreamingCoordinator
	broadcaster Broadcaster
	clock       Clock
	logger      *slog.Logger
}

func NewMessageService(repo Repository, sessions *SessionRegistry, streams *StreamingCoordinator, broadcaster Broadcaster, clock Clock, logger *slog.Logger) *MessageService {
	return &MessageService{
		repo:        repo,
		sessions:    sessions,
		streams:     streams,
		broadcaster: broadcaster,
		clock:       clock,
		logger:      logger,
	}
}

// SendMessage authorizes, persists and broadcasts one message. Broadcast
// order within a room follows persistence completion order. AI mentions in
// the content start generation sessions processed sequentially in the
// background, one message id each.
func (s *MessageService) SendMessage(ctx context.Context, conn *domain.Connection, account domain.Account, sessionID string, out domain.OutgoingMessage) {
	if out.RoomID == "" {
		s.fail(conn, "MESSAGE_ERROR", "missing room")
		return
	}
	if _, err := s.repo.FindRoomIfMember(ctx, out.RoomID, account.ID); err != nil {
		s.fail(conn, "MESSAGE_ERROR", "no access to this room")
		return
	}

	validation := s.sessions.ValidateSession(ctx, account.ID, sessionID)
	if !validation.IsValid {
		s.fail(conn, validation.Reason, "session expired, please log in again")
		return
	}

	now := s.clock.Now()
	var msg domain.Message
	switch out.Type {
	case domain.MessageText:
		content := strings.TrimSpace(out.Content)
		if content == "" {
			return
		}
		msg = domain.NewTextMessage(out.RoomID, account.ID, account.Name, content, now)
	case domain.MessageFile:
		file, err := s.repo.GetFileOwned(ctx, out.FileID, account.ID)
		if err != nil {
			s.fail(conn, "MESSAGE_ERROR", "file not found or not yours")
			return
		}
		msg = domain.NewFileMessage(out.RoomID, account.ID, account.Name, out.Content, file, now)
	default:
		s.fail(conn, "MESSAGE_ERROR", "unsupported message type")
		return
	}

	saved, err := s.repo.CreateMessage(ctx, msg)
	if err != nil {
		s.logger.Error("message save failed", "roomId", out.RoomID, "error", err)
		s.fail(conn, "MESSAGE_ERROR", "failed to send message")
		return
	}
	s.broadcaster.BroadcastToRoom(out.RoomID, domain.NewRoomEvent(out.RoomID, domain.EventMessage, saved))

	if mentions := domain.ExtractAIMentions(saved.Content); len(mentions) > 0 {
		go s.runMentions(out.RoomID, saved.Content, mentions)
	}

	if err := s.sessions.RefreshSession(ctx, account.ID, sessionID); err != nil {
		s.logger.Warn("activity refresh failed", "accountId", account.ID, "error", err)
	}
	s.logger.Debug("message processed", "messageId", saved.ID, "type", saved.Type, "roomId", out.RoomID)
}

// runMentions processes the mentions of one message sequentially so their
// chunk streams never interleave on the wire.
func (s *MessageService) runMentions(roomID, content string, mentions []string) {
	for _, aiType := range mentions {
		query := domain.StripMention(content, aiType)
		if err := s.streams.Generate(context.Background(), roomID, aiType, query); err != nil {
			s.logger.Error("ai mention handling failed", "roomId", roomID, "aiType", aiType, "error", err)
		}
	}
}

// MarkMessagesAsRead updates read receipts in the background and tells the
// rest of the room; failures never propagate to the caller.
func (s *MessageService) MarkMessagesAsRead(ctx context.Context, account domain.Account, roomID string, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	go func() {
		if err := s.repo.MarkMessagesRead(context.Background(), roomID, messageIDs, account.ID); err != nil {
			s.logger.Error("mark messages read failed", "roomId", roomID, "error", err)
			return
		}
		s.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventMessagesRead,
			domain.MessagesReadPayload{UserID: account.ID, MessageIDs: messageIDs}))
	}()
}

// ToggleReaction adds or removes one reaction and broadcasts the updated
// reaction map of the message.
func (s *MessageService) ToggleReaction(ctx context.Context, conn *domain.Connection, account domain.Account, messageID, reaction, op string) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.fail(conn, "REACTION_ERROR", "message not found")
		} else {
			s.logger.Error("reaction lookup failed", "messageId", messageID, "error", err)
			s.fail(conn, "REACTION_ERROR", "failed to update reaction")
		}
		return
	}

	var reactions map[string][]string
	switch op {
	case "add":
		reactions, err = s.repo.AddReaction(ctx, messageID, reaction, account.ID)
	case "remove":
		reactions, err = s.repo.RemoveReaction(ctx, messageID, reaction, account.ID)
	default:
		s.fail(conn, "REACTION_ERROR", "unknown reaction operation")
		return
	}
	if err != nil {
		s.logger.Error("reaction update failed", "messageId", messageID, "error", err)
		s.fail(conn, "REACTION_ERROR", "failed to update reaction")
		return
	}

	s.broadcaster.BroadcastToRoom(msg.RoomID, domain.NewRoomEvent(msg.RoomID, domain.EventMessageReactionUpdate,
		domain.ReactionUpdatePayload{MessageID: messageID, Reactions: reactions}))
}

func (s *MessageService) fail(conn *domain.Connection, code, message string) {
	s.broadcaster.SendToConnection(conn.ConnectionID, domain.NewErrorEvent(code, message))
}
