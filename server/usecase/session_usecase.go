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
	sessionTTL     = 24 * time.Hour
	sessionTimeout = 24 * time.Hour

	sessionPrefix       = "session:"
	sessionIDPrefix     = "sessionId:"
	userSessionPrefix   = "user_sessions:"
	activeSessionPrefix = "active_session:"
)

// SessionRegistry owns the one-active-session-per-account invariant. All
// session state lives in the shared store under four co-located keys that
// share one TTL window; when the store is unreachable the registry degrades
// open rather than locking accounts out.
type SessionRegistry struct {
	store  StateStore
	clock  Clock
	logger *slog.Logger
}

func NewSessionRegistry(store StateStore, clock Clock, logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{store: store, clock: clock, logger: logger}
}

func sessionKey(accountID string) string       { return sessionPrefix + accountID }
func sessionIDKey(sessionID string) string     { return sessionIDPrefix + sessionID }
func userSessionKey(accountID string) string   { return userSessionPrefix + accountID }
func activeSessionKey(accountID string) string { return activeSessionPrefix + accountID }

// CreateSession invalidates any prior session for the account and issues a
// fresh one. A store outage never blocks login: the caller still gets a
// session id, flagged as a fallback.
func (r *SessionRegistry) CreateSession(ctx context.Context, accountID string, metadata domain.SessionMetadata) (domain.SessionTicket, error) {
	if err := r.removeAllSessions(ctx, accountID); err != nil {
		r.logger.Warn("failed to remove existing sessions", "accountId", accountID, "error", err)
	}

	sessionID, err := domain.NewSessionID()
	if err != nil {
		return domain.SessionTicket{}, fmt.Errorf("failed to generate session id: %w", err)
	}

	session := domain.NewSession(accountID, sessionID, metadata, r.clock.Now())
	ticket := domain.SessionTicket{
		SessionID: sessionID,
		ExpiresIn: sessionTTL,
		Session:   session,
	}

	if err := r.store.SetJSON(ctx, sessionKey(accountID), session, sessionTTL); err != nil {
		r.logger.Warn("failed to save session data, issuing fallback session", "accountId", accountID, "error", err)
		ticket.Fallback = true
		return ticket, nil
	}

	if err := r.writeIndexKeys(ctx, accountID, sessionID); err != nil {
		r.logger.Warn("session index write failed", "accountId", accountID, "error", err)
	}
	return ticket, nil
}

func (r *SessionRegistry) writeIndexKeys(ctx context.Context, accountID, sessionID string) error {
	if err := r.store.Set(ctx, sessionIDKey(sessionID), accountID, sessionTTL); err != nil {
		return err
	}
	if err := r.store.Set(ctx, userSessionKey(accountID), sessionID, sessionTTL); err != nil {
		return err
	}
	return r.store.Set(ctx, activeSessionKey(accountID), sessionID, sessionTTL)
}

// ValidateSession checks the presented pair against the stored active
// session. Store failures are treated as valid-with-flag: availability is
// deliberately prioritized over strict revocation during an outage.
func (r *SessionRegistry) ValidateSession(ctx context.Context, accountID, sessionID string) domain.ValidationResult {
	if accountID == "" || sessionID == "" {
		return domain.ValidationFailure(domain.ReasonInvalidParameters, "missing session parameters")
	}

	activeID, err := r.store.Get(ctx, activeSessionKey(accountID))
	if err != nil && !errors.Is(err, ErrKeyMiss) {
		r.logger.Warn("active session check failed, allowing session", "accountId", accountID, "error", err)
		return r.degradedResult(accountID, sessionID)
	}
	if activeID != "" && activeID != sessionID {
		r.logger.Info("session superseded by newer login",
			"accountId", accountID, "sessionId", sessionID, "activeSessionId", activeID)
		return domain.ValidationFailure(domain.ReasonInvalidSession,
			"this session was ended by a login on another device")
	}

	var session domain.Session
	if err := r.store.GetJSON(ctx, sessionKey(accountID), &session); err != nil {
		if errors.Is(err, ErrKeyMiss) {
			return domain.ValidationFailure(domain.ReasonSessionNotFound, "session not found")
		}
		r.logger.Warn("session data check failed, allowing session", "accountId", accountID, "error", err)
		return r.degradedResult(accountID, sessionID)
	}

	now := r.clock.Now()
	if session.IsExpired(sessionTimeout, now) {
		if err := r.RemoveSession(ctx, accountID, ""); err != nil {
			r.logger.Warn("failed to remove expired session", "accountId", accountID, "error", err)
		}
		return domain.ValidationFailure(domain.ReasonSessionExpired, "session expired")
	}

	session.LastActivity = now
	if err := r.store.SetJSON(ctx, sessionKey(accountID), session, sessionTTL); err != nil {
		r.logger.Warn("session refresh write failed", "accountId", accountID, "error", err)
	} else {
		r.renewIndexKeys(ctx, accountID, session.SessionID)
	}

	return domain.ValidationSuccess(session)
}

func (r *SessionRegistry) degradedResult(accountID, sessionID string) domain.ValidationResult {
	return domain.ValidationResult{
		IsValid: true,
		Session: domain.Session{
			AccountID:    accountID,
			SessionID:    sessionID,
			LastActivity: r.clock.Now(),
		},
		IsStoreDown: true,
	}
}

func (r *SessionRegistry) renewIndexKeys(ctx context.Context, accountID, sessionID string) {
	for _, key := range []string{activeSessionKey(accountID), userSessionKey(accountID), sessionIDKey(sessionID)} {
		if err := r.store.Expire(ctx, key, sessionTTL); err != nil && !errors.Is(err, ErrKeyMiss) {
			r.logger.Warn("session key renewal failed", "key", key, "error", err)
		}
	}
}

// RemoveSession deletes all four co-located keys. When sessionID is given
// the removal is conditional: a session already superseded by a newer login
// must not tear down its successor.
func (r *SessionRegistry) RemoveSession(ctx context.Context, accountID, sessionID string) error {
	storedID, err := r.store.Get(ctx, userSessionKey(accountID))
	if err != nil {
		if errors.Is(err, ErrKeyMiss) {
			return nil
		}
		return fmt.Errorf("failed to read current session: %w", err)
	}
	if sessionID != "" && storedID != sessionID {
		return nil
	}

	for _, key := range []string{
		sessionKey(accountID),
		sessionIDKey(storedID),
		userSessionKey(accountID),
		activeSessionKey(accountID),
	} {
		if err := r.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete session key %s: %w", key, err)
		}
	}
	return nil
}

// RefreshSession bumps lastActivity and renews the TTL window on every
// related key. Non-blocking for callers: failures are reported back only
// for logging.
func (r *SessionRegistry) RefreshSession(ctx context.Context, accountID, sessionID string) error {
	if accountID == "" {
		return fmt.Errorf("accountId is required")
	}

	var session domain.Session
	if err := r.store.GetJSON(ctx, sessionKey(accountID), &session); err != nil {
		return fmt.Errorf("no session to refresh for %s: %w", accountID, err)
	}

	session.LastActivity = r.clock.Now()
	if err := r.store.SetJSON(ctx, sessionKey(accountID), session, sessionTTL); err != nil {
		return fmt.Errorf("failed to update session data: %w", err)
	}
	if session.SessionID != "" {
		r.renewIndexKeys(ctx, accountID, session.SessionID)
	}
	return nil
}

func (r *SessionRegistry) removeAllSessions(ctx context.Context, accountID string) error {
	storedID, err := r.store.Get(ctx, userSessionKey(accountID))
	if err != nil && !errors.Is(err, ErrKeyMiss) {
		return err
	}

	keys := []string{activeSessionKey(accountID), userSessionKey(accountID)}
	if storedID != "" {
		keys = append(keys, sessionKey(accountID), sessionIDKey(storedID))
	}
	for _, key := range keys {
		if err := r.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
