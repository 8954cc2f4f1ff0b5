package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Validation failure reasons surfaced to the gateway and, ultimately,
// to the client as structured error codes.
const (
	ReasonInvalidParameters = "INVALID_PARAMETERS"
	ReasonSessionNotFound   = "SESSION_NOT_FOUND"
	ReasonInvalidSession    = "INVALID_SESSION"
	ReasonSessionExpired    = "SESSION_EXPIRED"
)

type SessionMetadata struct {
	UserAgent  string `json:"userAgent"`
	IPAddress  string `json:"ipAddress"`
	DeviceInfo string `json:"deviceInfo"`
}

// Session is the proof of a single authenticated login instance for an
// account. At most one session per account validates at any instant.
type Session struct {
	AccountID    string          `json:"accountId"`
	SessionID    string          `json:"sessionId"`
	CreatedAt    time.Time       `json:"createdAt"`
	LastActivity time.Time       `json:"lastActivity"`
	Metadata     SessionMetadata `json:"metadata"`
}

func NewSession(accountID, sessionID string, metadata SessionMetadata, now time.Time) Session {
	return Session{
		AccountID:    accountID,
		SessionID:    sessionID,
		CreatedAt:    now,
		LastActivity: now,
		Metadata:     metadata,
	}
}

func (s Session) IsExpired(timeout time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > timeout
}

// SessionTicket is what CreateSession hands back to the login flow.
type SessionTicket struct {
	SessionID string
	ExpiresIn time.Duration
	Session   Session
	// Fallback marks a locally generated session that could not be
	// written to the shared store. Login proceeds regardless.
	Fallback bool
}

// ValidationResult reports the outcome of a session check. When the shared
// store is unreachable the check degrades open: IsValid is true and
// IsStoreDown is set so callers can log the condition.
type ValidationResult struct {
	IsValid     bool
	Reason      string
	Message     string
	Session     Session
	IsStoreDown bool
}

func ValidationFailure(reason, message string) ValidationResult {
	return ValidationResult{Reason: reason, Message: message}
}

func ValidationSuccess(session Session) ValidationResult {
	return ValidationResult{IsValid: true, Session: session}
}

// NewSessionID returns a 64-character hex token from a CSPRNG.
func NewSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
