package domain

import "time"

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
	MessageAI     MessageType = "ai"
)

type MessageMetadata struct {
	Query            string `json:"query,omitempty"`
	GenerationTimeMs int64  `json:"generationTime,omitempty"`
	CompletionTokens int    `json:"completionTokens,omitempty"`
	TotalTokens      int    `json:"totalTokens,omitempty"`
	FileName         string `json:"originalName,omitempty"`
	FileType         string `json:"fileType,omitempty"`
	FileSize         int64  `json:"fileSize,omitempty"`
}

type Message struct {
	ID         string              `json:"_id"`
	RoomID     string              `json:"room"`
	SenderID   string              `json:"sender,omitempty"`
	SenderName string              `json:"senderName,omitempty"`
	Type       MessageType         `json:"type"`
	Content    string              `json:"content"`
	AIType     string              `json:"aiType,omitempty"`
	FileID     string              `json:"file,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
	Reactions  map[string][]string `json:"reactions"`
	Metadata   MessageMetadata     `json:"metadata,omitempty"`
}

func NewTextMessage(roomID, senderID, senderName, content string, now time.Time) Message {
	return Message{
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Type:       MessageText,
		Content:    content,
		Timestamp:  now,
		Reactions:  map[string][]string{},
	}
}

func NewSystemMessage(roomID, content string, now time.Time) Message {
	return Message{
		RoomID:    roomID,
		Type:      MessageSystem,
		Content:   content,
		Timestamp: now,
		Reactions: map[string][]string{},
	}
}

func NewFileMessage(roomID, senderID, senderName, content string, file File, now time.Time) Message {
	return Message{
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Type:       MessageFile,
		Content:    content,
		FileID:     file.ID,
		Timestamp:  now,
		Reactions:  map[string][]string{},
		Metadata: MessageMetadata{
			FileName: file.OriginalName,
			FileType: file.MimeType,
			FileSize: file.Size,
		},
	}
}

// OutgoingMessage is a send-message command from a connection.
type OutgoingMessage struct {
	RoomID  string      `json:"room"`
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	FileID  string      `json:"fileId,omitempty"`
}

// MessagePage is one page of room history, ordered oldest to newest.
// OldestTimestamp is the cursor for the next (older) page.
type MessagePage struct {
	Messages        []Message  `json:"messages"`
	HasMore         bool       `json:"hasMore"`
	OldestTimestamp *time.Time `json:"oldestTimestamp"`
}
