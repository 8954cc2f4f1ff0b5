package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wavehq/wavechat/server/domain"
)

const (
	userRoomPrefix  = "socket:rooms:"
	loadQueuePrefix = "socket:queues:"

	historyBatchSize = 30

	// loadGuardCeiling bounds how long a (room, account) history load can
	// hold its guard; the store TTL fires regardless of fetch outcome.
	loadGuardCeiling = 10 * time.Second

	maxLoadAttempts = 3
	maxRetryDelay   = 10 * time.Second
)

const ReasonRoomNotFound = "ROOM_NOT_FOUND"

// RoomCoordinator owns per-connection room attachment: a connection is in
// at most one room, join fully detaches from the previous room first, and
// history loads are guarded against concurrent duplicates per
// (room, account) pair.
type RoomCoordinator struct {
	repo        Repository
	store       StateStore
	broadcaster Broadcaster
	streams     *StreamingCoordinator
	clock       Clock
	logger      *slog.Logger

	// retryBase is the first backoff delay for a failed history fetch;
	// subsequent attempts double it up to maxRetryDelay.
	retryBase time.Duration
}

func NewRoomCoordinator(repo Repository, store StateStore, broadcaster Broadcaster, streams *StreamingCoordinator, clock Clock, logger *slog.Logger) *RoomCoordinator {
	return &RoomCoordinator{
		repo:        repo,
		store:       store,
		broadcaster: broadcaster,
		streams:     streams,
		clock:       clock,
		logger:      logger,
		retryBase:   time.Second,
	}
}

func userRoomKey(accountID string) string { return userRoomPrefix + accountID }
func loadQueueKey(roomID, accountID string) string {
	return loadQueuePrefix + roomID + ":" + accountID
}

// JoinRoom attaches the connection to roomID. Joining the room it is
// already attached to is an idempotent success; joining a different room
// detaches from the old one (leave broadcast included) before attaching.
func (r *RoomCoordinator) JoinRoom(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string) {
	currentRoom, err := r.store.Get(ctx, userRoomKey(account.ID))
	if err != nil && !errors.Is(err, ErrKeyMiss) {
		r.logger.Warn("room attachment lookup failed", "accountId", account.ID, "error", err)
		currentRoom = ""
	}
	if currentRoom == roomID {
		r.logger.Debug("already in room", "accountId", account.ID, "roomId", roomID)
		r.broadcaster.SendToConnection(conn.ConnectionID,
			domain.NewDirectEvent(domain.EventJoinRoomSuccess, domain.JoinRoomSuccessPayload{RoomID: roomID}))
		return
	}

	room, err := r.repo.AddMember(ctx, roomID, account.ID)
	if err != nil {
		reason := ReasonRoomNotFound
		message := "room not found"
		if !errors.Is(err, ErrNotFound) {
			reason = "JOIN_ERROR"
			message = "failed to join room"
			r.logger.Error("join room failed", "accountId", account.ID, "roomId", roomID, "error", err)
		}
		r.broadcaster.SendToConnection(conn.ConnectionID,
			domain.NewDirectEvent(domain.EventJoinRoomError, domain.ErrorPayload{Code: reason, Message: message}))
		return
	}

	if currentRoom != "" {
		r.detach(ctx, conn, account, currentRoom)
	}

	if err := r.store.Set(ctx, userRoomKey(account.ID), roomID, stateTTL); err != nil {
		r.logger.Warn("failed to record room attachment", "accountId", account.ID, "error", err)
	}
	r.broadcaster.AttachToRoom(conn.ConnectionID, roomID)
	conn.RoomID = roomID

	page, err := r.loadMessages(ctx, roomID, account.ID, nil, historyBatchSize)
	if err != nil {
		r.logger.Error("history load on join failed", "roomId", roomID, "error", err)
		page = domain.MessagePage{}
	}

	joinMsg := domain.NewSystemMessage(roomID, account.Name+" joined the room", r.clock.Now())
	r.persistInBackground(joinMsg, "join message")

	r.broadcaster.SendToConnection(conn.ConnectionID,
		domain.NewDirectEvent(domain.EventJoinRoomSuccess, domain.JoinRoomSuccessPayload{
			RoomID:          roomID,
			Participants:    room.Participants,
			Messages:        page.Messages,
			HasMore:         page.HasMore,
			OldestTimestamp: page.OldestTimestamp,
			ActiveStreams:   r.streams.ActiveStreams(ctx, roomID),
		}))
	r.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventMessage, joinMsg))
	r.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventParticipantsUpdate, room.Participants))

	r.logger.Debug("user joined room",
		"accountId", account.ID, "roomId", roomID, "messageCount", len(page.Messages), "hasMore", page.HasMore)
}

// detach removes the connection from its current room and tells the room.
func (r *RoomCoordinator) detach(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string) {
	r.logger.Debug("leaving current room", "accountId", account.ID, "roomId", roomID)
	if err := r.store.Delete(ctx, userRoomKey(account.ID)); err != nil {
		r.logger.Warn("failed to clear room attachment", "accountId", account.ID, "error", err)
	}
	r.broadcaster.DetachFromRoom(conn.ConnectionID, roomID)
	conn.RoomID = ""
	r.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventUserLeft,
		domain.UserLeftPayload{UserID: account.ID, Name: account.Name}))
}

// FetchPreviousMessages serves one older history page. A per-(room, account)
// guard silently drops concurrent duplicates; the guard's store TTL is the
// hard ceiling that releases it even if the fetch never returns.
func (r *RoomCoordinator) FetchPreviousMessages(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string, before *time.Time) {
	if _, err := r.repo.FindRoomIfMember(ctx, roomID, account.ID); err != nil {
		r.broadcaster.SendToConnection(conn.ConnectionID,
			domain.NewErrorEvent("LOAD_ERROR", "no access to this room"))
		return
	}

	guardKey := loadQueueKey(roomID, account.ID)
	if inFlight, err := r.store.Get(ctx, guardKey); err == nil && inFlight == "1" {
		r.logger.Debug("message load skipped, already loading", "roomId", roomID, "accountId", account.ID)
		return
	}
	if err := r.store.Set(ctx, guardKey, "1", loadGuardCeiling); err != nil {
		r.logger.Warn("failed to set load guard", "roomId", roomID, "error", err)
	}
	defer func() {
		if err := r.store.Delete(ctx, guardKey); err != nil {
			r.logger.Warn("failed to release load guard", "roomId", roomID, "error", err)
		}
	}()

	r.broadcaster.SendToConnection(conn.ConnectionID, domain.NewDirectEvent(domain.EventMessageLoadStart, nil))

	page, err := r.loadWithRetry(ctx, roomID, account.ID, before)
	if err != nil {
		r.logger.Error("fetch previous messages failed", "roomId", roomID, "accountId", account.ID, "error", err)
		r.broadcaster.SendToConnection(conn.ConnectionID,
			domain.NewErrorEvent("LOAD_ERROR", "failed to load previous messages"))
		return
	}

	r.logger.Debug("previous messages loaded",
		"roomId", roomID, "messageCount", len(page.Messages), "hasMore", page.HasMore)
	r.broadcaster.SendToConnection(conn.ConnectionID,
		domain.NewDirectEvent(domain.EventPreviousMessagesLoaded, page))
}

// loadWithRetry retries transient fetch failures with doubling delays,
// capped in both attempt count and per-attempt delay.
func (r *RoomCoordinator) loadWithRetry(ctx context.Context, roomID, accountID string, before *time.Time) (domain.MessagePage, error) {
	var lastErr error
	delay := r.retryBase
	for attempt := 1; attempt <= maxLoadAttempts; attempt++ {
		page, err := r.loadMessages(ctx, roomID, accountID, before, historyBatchSize)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if attempt == maxLoadAttempts {
			break
		}
		r.logger.Warn("history fetch failed, retrying",
			"roomId", roomID, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return domain.MessagePage{}, ctx.Err()
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
	return domain.MessagePage{}, fmt.Errorf("history fetch exhausted retries: %w", lastErr)
}

// loadMessages fetches one page ordered oldest to newest and kicks off the
// read-receipt update as a background task.
func (r *RoomCoordinator) loadMessages(ctx context.Context, roomID, accountID string, before *time.Time, limit int) (domain.MessagePage, error) {
	msgs, err := r.repo.FindMessagePage(ctx, roomID, before, limit+1)
	if err != nil {
		return domain.MessagePage{}, fmt.Errorf("failed to load messages: %w", err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	// Repository returns newest first; the wire wants chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	page := domain.MessagePage{Messages: msgs, HasMore: hasMore}
	if len(msgs) > 0 {
		oldest := msgs[0].Timestamp
		page.OldestTimestamp = &oldest

		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		go func() {
			if err := r.repo.MarkMessagesRead(context.Background(), roomID, ids, accountID); err != nil {
				r.logger.Error("read status update failed", "roomId", roomID, "error", err)
			}
		}()
	}
	return page, nil
}

// LeaveRoom detaches the connection from roomID, a no-op when it is not
// actually attached there.
func (r *RoomCoordinator) LeaveRoom(ctx context.Context, conn *domain.Connection, account domain.Account, roomID string) {
	currentRoom, err := r.store.Get(ctx, userRoomKey(account.ID))
	if err != nil || currentRoom != roomID {
		r.logger.Debug("leave ignored, not in room", "accountId", account.ID, "roomId", roomID)
		return
	}
	if _, err := r.repo.FindRoomIfMember(ctx, roomID, account.ID); err != nil {
		r.logger.Debug("leave ignored, no access", "accountId", account.ID, "roomId", roomID)
		return
	}

	if err := r.store.Delete(ctx, userRoomKey(account.ID)); err != nil {
		r.logger.Warn("failed to clear room attachment", "accountId", account.ID, "error", err)
	}
	r.broadcaster.DetachFromRoom(conn.ConnectionID, roomID)
	conn.RoomID = ""

	leaveMsg := domain.NewSystemMessage(roomID, account.Name+" left the room", r.clock.Now())
	saved, err := r.repo.CreateMessage(ctx, leaveMsg)
	if err != nil {
		r.logger.Error("leave message save failed", "roomId", roomID, "error", err)
		saved = leaveMsg
	}

	room, err := r.repo.RemoveMember(ctx, roomID, account.ID)
	if err != nil {
		r.logger.Error("membership removal failed", "roomId", roomID, "accountId", account.ID, "error", err)
		return
	}

	r.clearTransientState(ctx, roomID, account.ID)

	r.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventMessage, saved))
	r.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventParticipantsUpdate, room.Participants))
	r.logger.Debug("user left room", "accountId", account.ID, "roomId", roomID)
}

// HandleDisconnect is the implicit leave. When the disconnect reason means
// the account reconnected elsewhere (duplicate-login eviction), the room
// keeps the account: no departure broadcast, no membership change.
func (r *RoomCoordinator) HandleDisconnect(ctx context.Context, conn *domain.Connection, account domain.Account, reason domain.DisconnectReason) {
	roomID, err := r.store.Get(ctx, userRoomKey(account.ID))
	if err != nil || roomID == "" {
		return
	}
	if err := r.store.Delete(ctx, userRoomKey(account.ID)); err != nil {
		r.logger.Warn("failed to clear room attachment", "accountId", account.ID, "error", err)
	}
	r.broadcaster.DetachFromRoom(conn.ConnectionID, roomID)
	r.clearTransientState(ctx, roomID, account.ID)

	if reason.IsReplaced() {
		r.logger.Debug("disconnect without departure, account reconnected elsewhere",
			"accountId", account.ID, "roomId", roomID, "reason", reason)
		return
	}

	dropMsg := domain.NewSystemMessage(roomID, account.Name+" lost connection", r.clock.Now())
	saved, err := r.repo.CreateMessage(ctx, dropMsg)
	if err != nil {
		r.logger.Error("disconnect message save failed", "roomId", roomID, "error", err)
		saved = dropMsg
	}
	room, err := r.repo.RemoveMember(ctx, roomID, account.ID)
	if err != nil {
		r.logger.Error("membership removal failed", "roomId", roomID, "accountId", account.ID, "error", err)
		return
	}
	r.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventMessage, saved))
	r.broadcaster.BroadcastToRoom(roomID, domain.NewRoomEvent(roomID, domain.EventParticipantsUpdate, room.Participants))
	r.logger.Debug("user disconnected from room", "accountId", account.ID, "roomId", roomID, "reason", reason)
}

func (r *RoomCoordinator) clearTransientState(ctx context.Context, roomID, accountID string) {
	if err := r.store.Delete(ctx, loadQueueKey(roomID, accountID)); err != nil {
		r.logger.Warn("failed to clear load guard", "roomId", roomID, "accountId", accountID, "error", err)
	}
}

func (r *RoomCoordinator) persistInBackground(msg domain.Message, what string) {
	go func() {
		if _, err := r.repo.CreateMessage(context.Background(), msg); err != nil {
			r.logger.Error("background persistence failed", "kind", what, "roomId", msg.RoomID, "error", err)
		}
	}()
}
