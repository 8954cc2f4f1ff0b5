package adaptor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/wavehq/wavechat/server/domain"
)

// handleCreateSession mints the session presented later at the websocket
// handshake. It authenticates the bearer token and never fails on a store
// outage; a degraded session is reported with the fallback flag.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	accountID, ok := g.bearerAccount(w, r)
	if !ok {
		return
	}

	ticket, err := g.uc.CreateSession(r.Context(), accountID, domain.SessionMetadata{
		UserAgent: r.UserAgent(),
		IPAddress: r.RemoteAddr,
	})
	if err != nil {
		g.logger.Error("session creation failed", "accountId", accountID, "error", err)
		rejectHandshake(w, http.StatusInternalServerError, "SESSION_ERROR", "failed to create session")
		return
	}
	if ticket.Fallback {
		g.logger.Warn("issued fallback session", "accountId", accountID)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"sessionId": ticket.SessionID,
		"expiresIn": int64(ticket.ExpiresIn.Seconds()),
		"fallback":  ticket.Fallback,
	})
}

// handleDeleteSession is logout: removal is conditional on the session id
// so a superseded login cannot tear down its successor.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	accountID, ok := g.bearerAccount(w, r)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("sessionId")

	if err := g.uc.RemoveSession(r.Context(), accountID, sessionID); err != nil {
		g.logger.Warn("session removal failed", "accountId", accountID, "error", err)
		rejectHandshake(w, http.StatusInternalServerError, "SESSION_ERROR", "failed to remove session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) bearerAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		rejectHandshake(w, http.StatusUnauthorized, "NO_AUTH_DATA", "bearer token required")
		return "", false
	}
	accountID, err := g.uc.Authenticate(token)
	if err != nil {
		code := "INVALID_TOKEN"
		if errors.Is(err, domain.ErrTokenExpired) {
			code = "TOKEN_EXPIRED"
		}
		rejectHandshake(w, http.StatusUnauthorized, code, "authentication failed")
		return "", false
	}
	return accountID, true
}
