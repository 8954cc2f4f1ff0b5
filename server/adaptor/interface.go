package adaptor

import (
	"context"
	"time"

	"github.com/wavehq/wavechat/server/domain"
)

// Usecase is the coordination surface the gateway drives. Operations that
// can fail per-connection report back through the broadcast channel rather
// than returning errors; only identity lookups fail the caller directly.
type Usecase interface {
	Authenticate(token string) (string, error)
	LookupAccount(ctx context.Context, accountID string) (domain.Account, error)

	CreateSession(ctx context.Context, accountID string, metadata domain.SessionMetadata) (domain.SessionTicket, error)
	ValidateSession(ctx context.Context, accountID, sessionID string) domain.ValidationResult
	RefreshSession(ctx context.Context, accountID, sessionID string) error
	RemoveSession(ctx context.Context, accountID, sessionID string) error

	RegisterConnection(ctx context.Context, conn domain.Connection, metadata domain.SessionMetadata)
	DeregisterConnection(ctx context.Context, accountID, connectionID string)

	JoinRoom(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string)
	LeaveRoom(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string)
	HandleDisconnect(ctx context.Context, conn *domain.Connection, account domain.Account, reason domain.DisconnectReason)
	FetchPreviousMessages(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string, before *time.Time)

	SendMessage(ctx context.Context, conn *domain.Connection, account domain.Account, sessionID string, out domain.OutgoingMessage)
	MarkMessagesAsRead(ctx context.Context, account domain.Account, roomID string, messageIDs []string)
	ToggleReaction(ctx context.Context, conn *domain.Connection, account domain.Account, messageID, reaction, op string)
}
