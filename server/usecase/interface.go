package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/wavehq/wavechat/server/domain"
)

var (
	// ErrNotFound is returned by the repository when a room, message,
	// account or file does not exist (or the caller is not a member).
	ErrNotFound = errors.New("not found")

	// ErrKeyMiss is returned by a StateStore when the key is absent but the
	// store itself is healthy. Any other error means the store is down.
	ErrKeyMiss = errors.New("key miss")
)

// StateStore is the shared TTL key/value cache. Implementations wrap every
// call with a short timeout so an outage degrades latency, not liveness.
type StateStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, out any) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Repository is the persistent room/message/account store.
type Repository interface {
	FindRoomIfMember(ctx context.Context, roomID, accountID string) (domain.Room, error)
	AddMember(ctx context.Context, roomID, accountID string) (domain.Room, error)
	RemoveMember(ctx context.Context, roomID, accountID string) (domain.Room, error)

	// FindMessagePage returns up to limit messages strictly older than
	// before (newest first); nil before means newest page.
	FindMessagePage(ctx context.Context, roomID string, before *time.Time, limit int) ([]domain.Message, error)
	CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	GetMessage(ctx context.Context, messageID string) (domain.Message, error)
	MarkMessagesRead(ctx context.Context, roomID string, messageIDs []string, accountID string) error
	AddReaction(ctx context.Context, messageID, reaction, accountID string) (map[string][]string, error)
	RemoveReaction(ctx context.Context, messageID, reaction, accountID string) (map[string][]string, error)

	GetAccount(ctx context.Context, accountID string) (domain.Account, error)
	GetFileOwned(ctx context.Context, fileID, accountID string) (domain.File, error)
}

// Identity verifies bearer credentials and resolves accounts.
type Identity interface {
	Authenticate(token string) (string, error)
	LookupAccount(ctx context.Context, accountID string) (domain.Account, error)
}

// Broadcaster is the real-time fanout surface owned by the gateway.
// Sends are fire-and-forget; a slow consumer drops events rather than
// blocking the coordination layer.
type Broadcaster interface {
	BroadcastToRoom(roomID string, event domain.StreamEvent)
	SendToConnection(connectionID string, event domain.StreamEvent)
	AttachToRoom(connectionID, roomID string)
	DetachFromRoom(connectionID, roomID string)
	CloseConnection(connectionID string, reason domain.DisconnectReason)
	IsConnected(connectionID string) bool
}

// GenerationResult is the producer's final output for one invocation.
type GenerationResult struct {
	Content          string
	CompletionTokens int
	TotalTokens      int
}

// StreamCallbacks is the push contract with the AI producer. The producer
// drives the calls; the coordinator only consumes them.
type StreamCallbacks struct {
	OnStart    func()
	OnChunk    func(chunk string)
	OnComplete func(result GenerationResult)
	OnError    func(err error)
}

type AIProducer interface {
	Generate(ctx context.Context, query, aiType string, cb StreamCallbacks) error
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
