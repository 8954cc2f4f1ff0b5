package domain

import (
	"fmt"
	"time"
)

// StreamingSession tracks one in-flight AI generation: created on mention,
// mutated on every chunk, deleted on completion or error. It lives in the
// shared store so that a reconnecting client can discover active streams.
type StreamingSession struct {
	MessageID  string    `json:"messageId"`
	RoomID     string    `json:"room"`
	AIType     string    `json:"aiType"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"timestamp"`
	LastUpdate time.Time `json:"lastUpdate"`
}

func NewStreamingSession(messageID, roomID, aiType string, now time.Time) StreamingSession {
	return StreamingSession{
		MessageID:  messageID,
		RoomID:     roomID,
		AIType:     aiType,
		CreatedAt:  now,
		LastUpdate: now,
	}
}

func (s *StreamingSession) Append(chunk string, now time.Time) {
	s.Content += chunk
	s.LastUpdate = now
}

func (s StreamingSession) IsValid() bool {
	return s.MessageID != "" && s.RoomID != "" && s.AIType != ""
}

// NewStreamMessageID derives the streaming message id from the AI type and
// the generation start time, unique per invocation.
func NewStreamMessageID(aiType string, now time.Time) string {
	return fmt.Sprintf("%s-%d", aiType, now.UnixMilli())
}
