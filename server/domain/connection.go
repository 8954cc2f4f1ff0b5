package domain

import "time"

// Connection is the registry view of one live real-time link. Exactly one
// connection per account is current; a newer registration evicts the older
// one after a grace window.
type Connection struct {
	AccountID    string
	ConnectionID string
	RoomID       string
	ConnectedAt  time.Time
}

func NewConnection(accountID, connectionID string, now time.Time) Connection {
	return Connection{
		AccountID:    accountID,
		ConnectionID: connectionID,
		ConnectedAt:  now,
	}
}

func (c Connection) IsValid() bool {
	return c.AccountID != "" && c.ConnectionID != ""
}

// DisconnectReason distinguishes a voluntary or network disconnect from a
// duplicate-login eviction; an evicted connection must not broadcast a
// spurious "user left" for an account that is still present.
type DisconnectReason string

const (
	DisconnectClient    DisconnectReason = "client disconnect"
	DisconnectTransport DisconnectReason = "transport error"
	DisconnectDuplicate DisconnectReason = "duplicate_login"
	DisconnectForced    DisconnectReason = "force_logout"
)

func (r DisconnectReason) IsReplaced() bool {
	return r == DisconnectDuplicate || r == DisconnectForced
}
