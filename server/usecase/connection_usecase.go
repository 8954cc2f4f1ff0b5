package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wavehq/wavechat/server/domain"
)

const (
	connectedUserPrefix = "socket:users:"

	// stateTTL bounds every ephemeral connection-state key so that a crashed
	// process cannot leave entries behind forever.
	stateTTL = 24 * time.Hour

	DefaultEvictionGrace = 3 * time.Second
)

// ConnectionRegistry maps an account to its single live connection and
// resolves duplicate logins: the older connection is notified, then closed
// after a grace window, while the newer one proceeds immediately.
type ConnectionRegistry struct {
	store       StateStore
	broadcaster Broadcaster
	clock       Clock
	logger      *slog.Logger

	// grace is the delay between the duplicate_login notice and the forced
	// close of the older connection.
	grace time.Duration
}

func NewConnectionRegistry(store StateStore, broadcaster Broadcaster, clock Clock, logger *slog.Logger, grace time.Duration) *ConnectionRegistry {
	if grace <= 0 {
		grace = DefaultEvictionGrace
	}
	return &ConnectionRegistry{
		store:       store,
		broadcaster: broadcaster,
		clock:       clock,
		logger:      logger,
		grace:       grace,
	}
}

func connectedUserKey(accountID string) string { return connectedUserPrefix + accountID }

// Register records conn as the account's current connection, evicting a
// prior live connection if one exists. Registry failures behave as "no
// previous connection": a missed eviction beats a blocked login.
func (r *ConnectionRegistry) Register(ctx context.Context, conn domain.Connection, metadata domain.SessionMetadata) {
	previousID, err := r.store.Get(ctx, connectedUserKey(conn.AccountID))
	if err != nil && !errors.Is(err, ErrKeyMiss) {
		r.logger.Warn("connection lookup failed, assuming no previous connection",
			"accountId", conn.AccountID, "error", err)
		previousID = ""
	}

	if previousID != "" && previousID != conn.ConnectionID && r.broadcaster.IsConnected(previousID) {
		r.logger.Info("duplicate login detected, scheduling eviction",
			"accountId", conn.AccountID, "previousConnection", previousID, "newConnection", conn.ConnectionID)
		r.evictAfterGrace(previousID, metadata)
	}

	if err := r.store.Set(ctx, connectedUserKey(conn.AccountID), conn.ConnectionID, stateTTL); err != nil {
		r.logger.Warn("failed to record connection", "accountId", conn.AccountID, "error", err)
	}
}

// evictAfterGrace notifies the old connection and schedules its forced
// close. The timer is not cancellable; if the old connection disconnects on
// its own first the scheduled close becomes a no-op.
func (r *ConnectionRegistry) evictAfterGrace(connectionID string, metadata domain.SessionMetadata) {
	r.broadcaster.SendToConnection(connectionID, domain.NewDirectEvent(domain.EventDuplicateLogin,
		domain.DuplicateLoginPayload{
			Type:       "new_login_attempt",
			DeviceInfo: metadata.UserAgent,
			IPAddress:  metadata.IPAddress,
			Timestamp:  r.clock.Now(),
		}))

	time.AfterFunc(r.grace, func() {
		if !r.broadcaster.IsConnected(connectionID) {
			return
		}
		r.broadcaster.SendToConnection(connectionID, domain.NewDirectEvent(domain.EventSessionEnded,
			domain.SessionEndedPayload{
				Reason:  "duplicate_login",
				Message: "your session was ended by a login on another device",
			}))
		r.broadcaster.CloseConnection(connectionID, domain.DisconnectDuplicate)
	})
}

// Deregister removes the registry entry only while the departing connection
// is still the current one; an evicted stale connection must not erase the
// record of its successor.
func (r *ConnectionRegistry) Deregister(ctx context.Context, accountID, connectionID string) {
	currentID, err := r.store.Get(ctx, connectedUserKey(accountID))
	if err != nil {
		if !errors.Is(err, ErrKeyMiss) {
			r.logger.Warn("connection lookup failed during deregister", "accountId", accountID, "error", err)
		}
		return
	}
	if currentID != connectionID {
		return
	}
	if err := r.store.Delete(ctx, connectedUserKey(accountID)); err != nil {
		r.logger.Warn("failed to remove connection record", "accountId", accountID, "error", err)
	}
}

// CurrentConnection reports the registered connection id for the account.
func (r *ConnectionRegistry) CurrentConnection(ctx context.Context, accountID string) (string, bool) {
	connectionID, err := r.store.Get(ctx, connectedUserKey(accountID))
	if err != nil {
		return "", false
	}
	return connectionID, connectionID != ""
}
