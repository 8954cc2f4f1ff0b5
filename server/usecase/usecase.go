package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/wavehq/wavechat/server/adaptor"
	"github.com/wavehq/wavechat/server/domain"
)

// Options carries the deployment-configurable tunables.
type Options struct {
	EvictionGrace time.Duration
}

// Coordinator wires the session, connection, room, message and streaming
// coordinators behind the single interface the gateway consumes.
type Coordinator struct {
	identity    Identity
	sessions    *SessionRegistry
	connections *ConnectionRegistry
	rooms       *RoomCoordinator
	messages    *MessageService
	streams     *StreamingCoordinator
}

func NewCoordinator(repo Repository, store StateStore, identity Identity, broadcaster Broadcaster, producer AIProducer, clock Clock, logger *slog.Logger, opts Options) adaptor.Usecase {
	if clock == nil {
		clock = SystemClock()
	}
	sessions := NewSessionRegistry(store, clock, logger)
	connections := NewConnectionRegistry(store, broadcaster, clock, logger, opts.EvictionGrace)
	streams := NewStreamingCoordinator(repo, store, broadcaster, producer, clock, logger)
	rooms := NewRoomCoordinator(repo, store, broadcaster, streams, clock, logger)
	messages := NewMessageService(repo, sessions, streams, broadcaster, clock, logger)
	return &Coordinator{
		identity:    identity,
		sessions:    sessions,
		connections: connections,
		rooms:       rooms,
		messages:    messages,
		streams:     streams,
	}
}

func (c *Coordinator) Authenticate(token string) (string, error) {
	return c.identity.Authenticate(token)
}

func (c *Coordinator) LookupAccount(ctx context.Context, accountID string) (domain.Account, error) {
	return c.identity.LookupAccount(ctx, accountID)
}

func (c *Coordinator) CreateSession(ctx context.Context, accountID string, metadata domain.SessionMetadata) (domain.SessionTicket, error) {
	return c.sessions.CreateSession(ctx, accountID, metadata)
}

func (c *Coordinator) ValidateSession(ctx context.Context, accountID, sessionID string) domain.ValidationResult {
	return c.sessions.ValidateSession(ctx, accountID, sessionID)
}

func (c *Coordinator) RefreshSession(ctx context.Context, accountID, sessionID string) error {
	return c.sessions.RefreshSession(ctx, accountID, sessionID)
}

func (c *Coordinator) RemoveSession(ctx context.Context, accountID, sessionID string) error {
	return c.sessions.RemoveSession(ctx, accountID, sessionID)
}

func (c *Coordinator) RegisterConnection(ctx context.Context, conn domain.Connection, metadata domain.SessionMetadata) {
	c.connections.Register(ctx, conn, metadata)
}

func (c *Coordinator) DeregisterConnection(ctx context.Context, accountID, connectionID string) {
	c.connections.Deregister(ctx, accountID, connectionID)
}

func (c *Coordinator) JoinRoom(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string) {
	c.rooms.JoinRoom(ctx, conn, account, roomID)
}

func (c *Coordinator) LeaveRoom(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string) {
	c.rooms.LeaveRoom(ctx, conn, account, roomID)
}

func (c *Coordinator) HandleDisconnect(ctx context.Context, conn *domain.Connection, account domain.Account, reason domain.DisconnectReason) {
	c.rooms.HandleDisconnect(ctx, conn, account, reason)
	c.connections.Deregister(ctx, account.ID, conn.ConnectionID)
}

func (c *Coordinator) FetchPreviousMessages(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string, before *time.Time) {
	c.rooms.FetchPreviousMessages(ctx, conn, account, roomID, before)
}

func (c *Coordinator) SendMessage(ctx context.Context, conn *domain.Connection, account domain.Account, sessionID string, out domain.OutgoingMessage) {
	c.messages.SendMessage(ctx, conn, account, sessionID, out)
}

func (c *Coordinator) MarkMessagesAsRead(ctx context.Context, account domain.Account, roomID string, messageIDs []string) {
	c.messages.MarkMessagesAsRead(ctx, account, roomID, messageIDs)
}

func (c *Coordinator) ToggleReaction(ctx context.Context, conn *domain.Connection, account domain.Account, messageID, reaction, op string) {
	c.messages.ToggleReaction(ctx, conn, account, messageID, reaction, op)
}
