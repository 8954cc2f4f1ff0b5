package adaptor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wavehq/wavechat/server/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// Pings go out at 90% of the pong deadline.
	pingPeriod = pongWait * 9 / 10

	maxCommandBytes = 64 * 1024
)

// clientCommand is the inbound wire envelope.
type clientCommand struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Gateway upgrades websocket connections and drives the coordination layer
// from the per-connection command stream.
type Gateway struct {
	uc       Usecase
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewGateway(uc Usecase, hub *Hub, logger *slog.Logger) *Gateway {
	return &Gateway{
		uc:     uc,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", g.ServeWS)
	mux.HandleFunc("POST /api/session", g.handleCreateSession)
	mux.HandleFunc("DELETE /api/session", g.handleDeleteSession)
	return mux
}

// ServeWS is the connection handshake: both opaque tokens are required
// before any state is created, and identity failures reject the attempt
// outright.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	sessionID := r.URL.Query().Get("sessionId")
	if token == "" || sessionID == "" {
		rejectHandshake(w, http.StatusUnauthorized, "NO_AUTH_DATA", "token and sessionId are required")
		return
	}

	accountID, err := g.uc.Authenticate(token)
	if err != nil {
		code := "INVALID_TOKEN"
		if errors.Is(err, domain.ErrTokenExpired) {
			code = "TOKEN_EXPIRED"
		}
		rejectHandshake(w, http.StatusUnauthorized, code, "authentication failed")
		return
	}

	validation := g.uc.ValidateSession(r.Context(), accountID, sessionID)
	if !validation.IsValid {
		rejectHandshake(w, http.StatusUnauthorized, validation.Reason, validation.Message)
		return
	}
	if validation.IsStoreDown {
		g.logger.Warn("session validated in degraded mode", "accountId", accountID)
	}

	account, err := g.uc.LookupAccount(r.Context(), accountID)
	if err != nil {
		rejectHandshake(w, http.StatusUnauthorized, "USER_NOT_FOUND", "account not found")
		return
	}

	wsConn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "accountId", accountID, "error", err)
		return
	}

	metadata := domain.SessionMetadata{
		UserAgent: r.UserAgent(),
		IPAddress: r.RemoteAddr,
	}
	conn := domain.NewConnection(accountID, uuid.NewString(), time.Now())
	cl := g.hub.register(conn.ConnectionID)

	g.logger.Debug("socket connected",
		"connectionId", conn.ConnectionID, "accountId", accountID, "name", account.Name)

	g.uc.RegisterConnection(context.Background(), conn, metadata)
	go func() {
		if err := g.uc.RefreshSession(context.Background(), accountID, sessionID); err != nil {
			g.logger.Warn("activity refresh failed", "accountId", accountID, "error", err)
		}
	}()

	go g.writePump(wsConn, cl)
	g.readLoop(wsConn, cl, &conn, account, sessionID)
}

func rejectHandshake(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.ErrorPayload{Code: code, Message: message})
}

// writePump drains the client's send channel onto the wire and keeps the
// connection alive with pings. When the channel closes (eviction or
// teardown) it closes the transport, which unblocks the read loop.
func (g *Gateway) writePump(wsConn *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = wsConn.Close()
	}()

	for {
		select {
		case event, ok := <-cl.send:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = wsConn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(cl.closeReason())))
				return
			}
			if err := wsConn.WriteJSON(event); err != nil {
				g.logger.Debug("write failed", "connectionId", cl.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) readLoop(wsConn *websocket.Conn, cl *client, conn *domain.Connection, account domain.Account, sessionID string) {
	defer func() {
		g.hub.unregister(cl.id)
		reason := cl.closeReason()
		g.uc.HandleDisconnect(context.Background(), conn, account, reason)
		g.logger.Debug("socket disconnected",
			"connectionId", conn.ConnectionID, "accountId", account.ID, "reason", reason)
	}()

	wsConn.SetReadLimit(maxCommandBytes)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("read error", "connectionId", cl.id, "error", err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			g.hub.SendToConnection(cl.id, domain.NewErrorEvent("BAD_REQUEST", "malformed command"))
			continue
		}
		g.dispatch(cmd, cl, conn, account, sessionID)
	}
}

func (g *Gateway) dispatch(cmd clientCommand, cl *client, conn *domain.Connection, account domain.Account, sessionID string) {
	ctx := context.Background()

	switch cmd.Action {
	case "joinRoom":
		var data struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil || data.RoomID == "" {
			g.hub.SendToConnection(cl.id, domain.NewErrorEvent("BAD_REQUEST", "roomId is required"))
			return
		}
		g.uc.JoinRoom(ctx, conn, account, data.RoomID)

	case "leaveRoom":
		var data struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil || data.RoomID == "" {
			return
		}
		g.uc.LeaveRoom(ctx, conn, account, data.RoomID)

	case "chatMessage":
		var out domain.OutgoingMessage
		if err := json.Unmarshal(cmd.Data, &out); err != nil {
			g.hub.SendToConnection(cl.id, domain.NewErrorEvent("BAD_REQUEST", "malformed message"))
			return
		}
		g.uc.SendMessage(ctx, conn, account, sessionID, out)

	case "fetchPreviousMessages":
		var data struct {
			RoomID string     `json:"roomId"`
			Before *time.Time `json:"before"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil || data.RoomID == "" {
			g.hub.SendToConnection(cl.id, domain.NewErrorEvent("BAD_REQUEST", "roomId is required"))
			return
		}
		g.uc.FetchPreviousMessages(ctx, conn, account, data.RoomID, data.Before)

	case "markMessagesAsRead":
		var data struct {
			RoomID     string   `json:"roomId"`
			MessageIDs []string `json:"messageIds"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return
		}
		g.uc.MarkMessagesAsRead(ctx, account, data.RoomID, data.MessageIDs)

	case "messageReaction":
		var data struct {
			MessageID string `json:"messageId"`
			Reaction  string `json:"reaction"`
			Type      string `json:"type"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return
		}
		g.uc.ToggleReaction(ctx, conn, account, data.MessageID, data.Reaction, data.Type)

	case "force_login":
		var data struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(cmd.Data, &data); err != nil {
			return
		}
		g.forceLogout(cl, account, data.Token)

	default:
		g.hub.SendToConnection(cl.id, domain.NewErrorEvent("UNKNOWN_ACTION", "unsupported action: "+cmd.Action))
	}
}

// forceLogout ends this connection at the request of another device that
// proves ownership of the same account.
func (g *Gateway) forceLogout(cl *client, account domain.Account, token string) {
	accountID, err := g.uc.Authenticate(token)
	if err != nil || accountID != account.ID {
		g.hub.SendToConnection(cl.id, domain.NewErrorEvent("FORCE_LOGIN_ERROR", "invalid token"))
		return
	}
	g.hub.SendToConnection(cl.id, domain.NewDirectEvent(domain.EventSessionEnded, domain.SessionEndedPayload{
		Reason:  "force_logout",
		Message: "your session was ended by a login on another device",
	}))
	g.hub.CloseConnection(cl.id, domain.DisconnectForced)
}
