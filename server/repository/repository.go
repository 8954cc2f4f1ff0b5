package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wavehq/wavechat/server/domain"
	"github.com/wavehq/wavechat/server/usecase"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ usecase.Repository = (*Repository)(nil)

// Migrate creates the schema when it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			profile_image TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS room_members (
			room_id   TEXT NOT NULL,
			user_id   TEXT NOT NULL,
			joined_at TIMESTAMP NOT NULL,
			PRIMARY KEY (room_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id          TEXT PRIMARY KEY,
			room_id     TEXT NOT NULL,
			sender_id   TEXT,
			sender_name TEXT,
			type        TEXT NOT NULL,
			content     TEXT NOT NULL,
			ai_type     TEXT,
			file_id     TEXT,
			metadata    TEXT,
			created_at  TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS message_readers (
			message_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			read_at    TIMESTAMP NOT NULL,
			PRIMARY KEY (message_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS message_reactions (
			message_id TEXT NOT NULL,
			reaction   TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			PRIMARY KEY (message_id, reaction, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			file_name     TEXT NOT NULL,
			original_name TEXT NOT NULL,
			mime_type     TEXT NOT NULL,
			size          INTEGER NOT NULL,
			created_at    TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (r *Repository) getRoom(ctx context.Context, roomID string) (domain.Room, error) {
	query := "SELECT id, name, created_at FROM rooms WHERE id = ?"
	var room domain.Room
	if err := r.db.QueryRowContext(ctx, query, roomID).Scan(&room.ID, &room.Name, &room.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, usecase.ErrNotFound
		}
		return domain.Room{}, fmt.Errorf("failed to query room %s: %w", roomID, err)
	}

	query = `
		SELECT u.id, u.name, u.email, u.profile_image
		FROM room_members m JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.joined_at
	`
	rows, err := r.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("failed to query members of room %s: %w", roomID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.ProfileImage); err != nil {
			return domain.Room{}, fmt.Errorf("failed to scan participant: %w", err)
		}
		room.Participants = append(room.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return domain.Room{}, fmt.Errorf("error iterating over members of room %s: %w", roomID, err)
	}
	return room, nil
}

func (r *Repository) FindRoomIfMember(ctx context.Context, roomID, accountID string) (domain.Room, error) {
	room, err := r.getRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if !room.HasParticipant(accountID) {
		return domain.Room{}, usecase.ErrNotFound
	}
	return room, nil
}

func (r *Repository) AddMember(ctx context.Context, roomID, accountID string) (domain.Room, error) {
	if _, err := r.getRoom(ctx, roomID); err != nil {
		return domain.Room{}, err
	}
	query := "INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, roomID, accountID, time.Now()); err != nil {
		return domain.Room{}, fmt.Errorf("failed to add member %s to room %s: %w", accountID, roomID, err)
	}
	return r.getRoom(ctx, roomID)
}

func (r *Repository) RemoveMember(ctx context.Context, roomID, accountID string) (domain.Room, error) {
	query := "DELETE FROM room_members WHERE room_id = ? AND user_id = ?"
	if _, err := r.db.ExecContext(ctx, query, roomID, accountID); err != nil {
		return domain.Room{}, fmt.Errorf("failed to remove member %s from room %s: %w", accountID, roomID, err)
	}
	return r.getRoom(ctx, roomID)
}

func (r *Repository) FindMessagePage(ctx context.Context, roomID string, before *time.Time, limit int) ([]domain.Message, error) {
	query := "SELECT id, room_id, sender_id, sender_name, type, content, ai_type, file_id, metadata, created_at FROM messages WHERE room_id = ?"
	args := []any{roomID}
	if before != nil {
		query += " AND created_at < ?"
		args = append(args, *before)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over messages for room %s: %w", roomID, err)
	}
	if err := r.loadReactions(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var senderID, senderName, aiType, fileID, metadata sql.NullString
	if err := row.Scan(&msg.ID, &msg.RoomID, &senderID, &senderName, &msg.Type, &msg.Content, &aiType, &fileID, &metadata, &msg.Timestamp); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, usecase.ErrNotFound
		}
		return domain.Message{}, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.SenderID = senderID.String
	msg.SenderName = senderName.String
	msg.AIType = aiType.String
	msg.FileID = fileID.String
	msg.Reactions = map[string][]string{}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return domain.Message{}, fmt.Errorf("failed to decode metadata for message %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

func (r *Repository) loadReactions(ctx context.Context, messages []domain.Message) error {
	if len(messages) == 0 {
		return nil
	}
	placeholders := make([]string, len(messages))
	args := make([]any, len(messages))
	for i, msg := range messages {
		placeholders[i] = "?"
		args[i] = msg.ID
	}
	query := fmt.Sprintf(
		"SELECT message_id, reaction, user_id FROM message_reactions WHERE message_id IN (%s)",
		strings.Join(placeholders, ", "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query reactions: %w", err)
	}
	defer rows.Close()

	byMessage := make(map[string]map[string][]string)
	for rows.Next() {
		var messageID, reaction, userID string
		if err := rows.Scan(&messageID, &reaction, &userID); err != nil {
			return fmt.Errorf("failed to scan reaction: %w", err)
		}
		if byMessage[messageID] == nil {
			byMessage[messageID] = map[string][]string{}
		}
		byMessage[messageID][reaction] = append(byMessage[messageID][reaction], userID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating over reactions: %w", err)
	}
	for i := range messages {
		if reactions, ok := byMessage[messages[i].ID]; ok {
			messages[i].Reactions = reactions
		}
	}
	return nil
}

func (r *Repository) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to encode metadata: %w", err)
	}
	query := `
		INSERT INTO messages (id, room_id, sender_id, sender_name, type, content, ai_type, file_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, nullable(msg.SenderID), nullable(msg.SenderName),
		string(msg.Type), msg.Content, nullable(msg.AIType), nullable(msg.FileID),
		string(metadata), msg.Timestamp)
	if err != nil {
		return domain.Message{}, fmt.Errorf("failed to insert message for room %s: %w", msg.RoomID, err)
	}
	return msg, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *Repository) GetMessage(ctx context.Context, messageID string) (domain.Message, error) {
	query := "SELECT id, room_id, sender_id, sender_name, type, content, ai_type, file_id, metadata, created_at FROM messages WHERE id = ?"
	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		return domain.Message{}, err
	}
	msgs := []domain.Message{msg}
	if err := r.loadReactions(ctx, msgs); err != nil {
		return domain.Message{}, err
	}
	return msgs[0], nil
}

func (r *Repository) MarkMessagesRead(ctx context.Context, roomID string, messageIDs []string, accountID string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT OR IGNORE INTO message_readers (message_id, user_id, read_at)
		SELECT id, ?, ? FROM messages WHERE id = ? AND room_id = ?
	`
	now := time.Now()
	for _, messageID := range messageIDs {
		if _, err := tx.ExecContext(ctx, query, accountID, now, messageID, roomID); err != nil {
			return fmt.Errorf("failed to mark message %s read: %w", messageID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) AddReaction(ctx context.Context, messageID, reaction, accountID string) (map[string][]string, error) {
	query := "INSERT OR IGNORE INTO message_reactions (message_id, reaction, user_id) VALUES (?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, messageID, reaction, accountID); err != nil {
		return nil, fmt.Errorf("failed to add reaction to message %s: %w", messageID, err)
	}
	return r.messageReactions(ctx, messageID)
}

func (r *Repository) RemoveReaction(ctx context.Context, messageID, reaction, accountID string) (map[string][]string, error) {
	query := "DELETE FROM message_reactions WHERE message_id = ? AND reaction = ? AND user_id = ?"
	if _, err := r.db.ExecContext(ctx, query, messageID, reaction, accountID); err != nil {
		return nil, fmt.Errorf("failed to remove reaction from message %s: %w", messageID, err)
	}
	return r.messageReactions(ctx, messageID)
}

func (r *Repository) messageReactions(ctx context.Context, messageID string) (map[string][]string, error) {
	query := "SELECT reaction, user_id FROM message_reactions WHERE message_id = ?"
	rows, err := r.db.QueryContext(ctx, query, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reactions for message %s: %w", messageID, err)
	}
	defer rows.Close()

	reactions := map[string][]string{}
	for rows.Next() {
		var reaction, userID string
		if err := rows.Scan(&reaction, &userID); err != nil {
			return nil, fmt.Errorf("failed to scan reaction: %w", err)
		}
		reactions[reaction] = append(reactions[reaction], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over reactions for message %s: %w", messageID, err)
	}
	return reactions, nil
}

func (r *Repository) GetAccount(ctx context.Context, accountID string) (domain.Account, error) {
	query := "SELECT id, name, email, profile_image FROM users WHERE id = ?"
	var account domain.Account
	if err := r.db.QueryRowContext(ctx, query, accountID).Scan(&account.ID, &account.Name, &account.Email, &account.ProfileImage); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Account{}, usecase.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("failed to query user %s: %w", accountID, err)
	}
	return account, nil
}

func (r *Repository) GetFileOwned(ctx context.Context, fileID, accountID string) (domain.File, error) {
	query := "SELECT id, owner_id, file_name, original_name, mime_type, size FROM files WHERE id = ? AND owner_id = ?"
	var file domain.File
	if err := r.db.QueryRowContext(ctx, query, fileID, accountID).Scan(&file.ID, &file.OwnerID, &file.FileName, &file.OriginalName, &file.MimeType, &file.Size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.File{}, usecase.ErrNotFound
		}
		return domain.File{}, fmt.Errorf("failed to query file %s: %w", fileID, err)
	}
	return file, nil
}

// CreateRoom and CreateAccount back the bootstrap/admin surface and tests.
func (r *Repository) CreateRoom(ctx context.Context, name string) (domain.Room, error) {
	room := domain.Room{ID: ulid.Make().String(), Name: name, CreatedAt: time.Now()}
	query := "INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, room.ID, room.Name, room.CreatedAt); err != nil {
		return domain.Room{}, fmt.Errorf("failed to insert room '%s': %w", name, err)
	}
	return room, nil
}

func (r *Repository) CreateAccount(ctx context.Context, account domain.Account) (domain.Account, error) {
	if account.ID == "" {
		account.ID = ulid.Make().String()
	}
	query := "INSERT INTO users (id, name, email, profile_image, created_at) VALUES (?, ?, ?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, account.ID, account.Name, account.Email, account.ProfileImage, time.Now()); err != nil {
		return domain.Account{}, fmt.Errorf("failed to insert user '%s': %w", account.Email, err)
	}
	return account, nil
}
