package domain

import "time"

// Wire event names for the room-addressed broadcast channel.
const (
	EventMessage                = "message"
	EventParticipantsUpdate     = "participantsUpdate"
	EventUserLeft               = "userLeft"
	EventJoinRoomSuccess        = "joinRoomSuccess"
	EventJoinRoomError          = "joinRoomError"
	EventMessageLoadStart       = "messageLoadStart"
	EventPreviousMessagesLoaded = "previousMessagesLoaded"
	EventAIMessageStart         = "aiMessageStart"
	EventAIMessageChunk         = "aiMessageChunk"
	EventAIMessageComplete      = "aiMessageComplete"
	EventAIMessageError         = "aiMessageError"
	EventDuplicateLogin         = "duplicate_login"
	EventSessionEnded           = "session_ended"
	EventMessagesRead           = "messagesRead"
	EventMessageReactionUpdate  = "messageReactionUpdate"
	EventError                  = "error"
)

// StreamEvent is one broadcast unit: an event name plus its JSON payload.
// RoomID addresses room broadcasts; events sent to a single connection
// leave it empty.
type StreamEvent struct {
	Name    string `json:"event"`
	RoomID  string `json:"-"`
	Payload any    `json:"data,omitempty"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type JoinRoomSuccessPayload struct {
	RoomID          string             `json:"roomId"`
	Participants    []Participant      `json:"participants,omitempty"`
	Messages        []Message          `json:"messages,omitempty"`
	HasMore         bool               `json:"hasMore"`
	OldestTimestamp *time.Time         `json:"oldestTimestamp,omitempty"`
	ActiveStreams   []StreamingSession `json:"activeStreams,omitempty"`
}

type AIMessageStartPayload struct {
	MessageID string    `json:"messageId"`
	AIType    string    `json:"aiType"`
	Timestamp time.Time `json:"timestamp"`
}

type AIMessageChunkPayload struct {
	MessageID    string    `json:"messageId"`
	CurrentChunk string    `json:"currentChunk"`
	FullContent  string    `json:"fullContent"`
	AIType       string    `json:"aiType"`
	Timestamp    time.Time `json:"timestamp"`
	IsComplete   bool      `json:"isComplete"`
}

type AIMessageCompletePayload struct {
	MessageID   string              `json:"messageId"`
	PersistedID string              `json:"_id"`
	Content     string              `json:"content"`
	AIType      string              `json:"aiType"`
	Query       string              `json:"query"`
	Timestamp   time.Time           `json:"timestamp"`
	IsComplete  bool                `json:"isComplete"`
	Reactions   map[string][]string `json:"reactions"`
}

type AIMessageErrorPayload struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
	AIType    string `json:"aiType"`
}

type DuplicateLoginPayload struct {
	Type       string    `json:"type"`
	DeviceInfo string    `json:"deviceInfo"`
	IPAddress  string    `json:"ipAddress"`
	Timestamp  time.Time `json:"timestamp"`
}

type SessionEndedPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type MessagesReadPayload struct {
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

type ReactionUpdatePayload struct {
	MessageID string              `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func NewRoomEvent(roomID, name string, payload any) StreamEvent {
	return StreamEvent{Name: name, RoomID: roomID, Payload: payload}
}

func NewDirectEvent(name string, payload any) StreamEvent {
	return StreamEvent{Name: name, Payload: payload}
}

func NewErrorEvent(code, message string) StreamEvent {
	return StreamEvent{Name: EventError, Payload: ErrorPayload{Code: code, Message: message}}
}

func (e StreamEvent) IsRoomAddressed() bool {
	return e.RoomID != ""
}
